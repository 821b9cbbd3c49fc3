package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestWithFromRoundTrip(t *testing.T) {
	l := New("local").With("request_id", "r-1")
	ctx := With(context.Background(), l)
	if got := From(ctx); got != l {
		t.Fatalf("From returned a different logger")
	}
}

func TestFromFallsBackToDefault(t *testing.T) {
	if got := From(context.Background()); got != slog.Default() {
		t.Fatalf("expected slog.Default fallback")
	}
}
