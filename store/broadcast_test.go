package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	topic := NewTopic[int](8)
	defer topic.Close()

	a := topic.Subscribe()
	defer a.Close()
	b := topic.Subscribe()
	defer b.Close()

	topic.Publish(1)
	topic.Publish(2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for _, sub := range []*Subscription[int]{a, b} {
		for want := 1; want <= 2; want++ {
			got, err := sub.Recv(ctx)
			if err != nil {
				t.Fatalf("Recv: %v", err)
			}
			if got != want {
				t.Errorf("got %d, want %d", got, want)
			}
		}
	}
}

func TestBroadcastMissesMessagesBeforeSubscribe(t *testing.T) {
	topic := NewTopic[int](8)
	defer topic.Close()

	topic.Publish(1)

	sub := topic.Subscribe()
	defer sub.Close()
	topic.Publish(2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got != 2 {
		t.Errorf("got %d, want 2", got)
	}
}

func TestBroadcastLagDropsOldestAndSignals(t *testing.T) {
	topic := NewTopic[int](2)
	defer topic.Close()

	sub := topic.Subscribe()
	defer sub.Close()

	for i := 1; i <= 5; i++ {
		topic.Publish(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := sub.Recv(ctx)
	if !errors.Is(err, ErrLagged) {
		t.Fatalf("expected ErrLagged, got %v", err)
	}
	var lagErr *LagError
	if !errors.As(err, &lagErr) || lagErr.Missed != 3 {
		t.Fatalf("expected 3 missed, got %+v", err)
	}

	// The retained tail is still delivered after the lag signal.
	for want := 4; want <= 5; want++ {
		got, err := sub.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv after lag: %v", err)
		}
		if got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	}
}

func TestBroadcastRecvContextCancel(t *testing.T) {
	topic := NewTopic[int](2)
	defer topic.Close()

	sub := topic.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := sub.Recv(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestBroadcastRecvAfterClose(t *testing.T) {
	topic := NewTopic[int](2)
	sub := topic.Subscribe()

	topic.Publish(7)
	topic.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv buffered after close: %v", err)
	}
	if got != 7 {
		t.Errorf("got %d, want 7", got)
	}

	if _, err := sub.Recv(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
