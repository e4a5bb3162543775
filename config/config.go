package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port int
	Host string
	Env  string // "development" or "production"

	// Claude data directory (history.jsonl, projects/, deleted_sessions, ...)
	ClaudeDir string

	// Quiescence window for the filesystem watcher, in milliseconds
	DebounceMs int

	// Summarizer (external LLM collaborator)
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

var (
	cfg  *Config
	once sync.Once
)

// Get returns the global configuration (singleton)
func Get() *Config {
	once.Do(func() {
		cfg = load()
	})
	return cfg
}

// load reads configuration from environment variables
func load() *Config {
	claudeDir := os.Getenv("CLAUDE_DIR")
	if claudeDir == "" {
		homeDir, _ := os.UserHomeDir()
		claudeDir = filepath.Join(homeDir, ".claude")
	}

	return &Config{
		Port: getEnvInt("PORT", 12001),
		Host: getEnv("HOST", "0.0.0.0"),
		Env:  getEnv("ENV", "development"),

		ClaudeDir:  claudeDir,
		DebounceMs: getEnvInt("CLAUDE_RUN_DEBOUNCE_MS", 20),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// ProjectsDir returns the directory holding per-project session logs
func (c *Config) ProjectsDir() string {
	return filepath.Join(c.ClaudeDir, "projects")
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
