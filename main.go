package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"clauderun/api"
	"clauderun/config"
	"clauderun/log"
	"clauderun/store"
	"clauderun/summarizer"
	"clauderun/watcher"
)

func main() {
	cfg := config.Get()
	if cfg.IsDevelopment() {
		log.SetLevel("debug")
	}

	st := store.New(cfg.ClaudeDir)
	st.Load()
	log.Info().Str("claudeDir", cfg.ClaudeDir).Msg("storage loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watcher.New(st, time.Duration(cfg.DebounceMs)*time.Millisecond)
	if err := w.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start watcher")
	}

	if cfg.OpenAIAPIKey != "" {
		gen := summarizer.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		sum := summarizer.New(st, gen)
		sum.LoadSummaries()
		go sum.Run(ctx)
		log.Info().Str("model", cfg.OpenAIModel).Msg("summarizer started")
	} else {
		log.Info().Msg("no OPENAI_API_KEY, summaries disabled")
	}

	router := setupRouter(cfg, st)

	srv := &http.Server{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:  router,
		ErrorLog: log.StdLogger(zerolog.WarnLevel),
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

func setupRouter(cfg *config.Config, st *store.Store) *gin.Engine {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(log.GinLogger())
	// Streaming endpoints must stay uncompressed so events flush promptly.
	router.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPathsRegexs([]string{
			`^/api/sessions/stream$`,
			`^/api/conversation/[^/]+/(stream|ws)$`,
		})))

	if cfg.IsDevelopment() {
		router.Use(devCORS())
	}

	api.SetupRoutes(router, api.NewHandlers(st))
	return router
}

// devCORS allows the local frontend dev server to hit the API directly.
func devCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
