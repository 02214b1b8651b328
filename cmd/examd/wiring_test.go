package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/mind-engage/mindengage-exams/internal/attempt"
	"github.com/mind-engage/mindengage-exams/internal/config"
	"github.com/mind-engage/mindengage-exams/internal/events"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNewSessionStore(t *testing.T) {
	st, closeFn, err := newSessionStore(context.Background(), config.Config{SessionStore: "memory"}, discard())
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if _, ok := st.(*attempt.MemoryStore); !ok {
		t.Fatalf("got %T", st)
	}

	if _, _, err := newSessionStore(context.Background(), config.Config{SessionStore: "etcd"}, discard()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNewPublisherWithoutAMQP(t *testing.T) {
	p := newPublisher(config.Config{}, discard())
	if _, ok := p.(events.NopPublisher); !ok {
		t.Fatalf("got %T", p)
	}
}
