package worker

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 1 {
		t.Errorf("expected default burst 1 for negative input, got %d", l2.defaultBurst)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "openai"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
	// A different provider has its own bucket
	if err := limiter.Wait(ctx, "stub"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestLimiter_RateLimit(t *testing.T) {
	// 10 rps, burst 1: second call must wait roughly one interval
	limiter := NewLimiter(10, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "openai"); err != nil {
		t.Fatalf("first wait failed: %v", err)
	}

	start := time.Now()
	if err := limiter.Wait(ctx, "openai"); err != nil {
		t.Fatalf("second wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected second wait to be throttled, took %v", elapsed)
	}
}

func TestLimiter_ContextCancel(t *testing.T) {
	limiter := NewLimiter(0.1, 1) // One call every 10s
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "openai"); err != nil {
		t.Fatalf("first wait failed: %v", err)
	}
	if err := limiter.Wait(ctx, "openai"); err == nil {
		t.Error("expected context deadline error on throttled wait")
	}
}

func TestLimiter_SetProviderRate(t *testing.T) {
	limiter := NewLimiter(1, 1)
	limiter.SetProviderRate("openai", 1000, 100)

	for i := 0; i < 50; i++ {
		if !limiter.Allow("openai") {
			t.Fatalf("call %d refused despite raised provider rate", i)
		}
	}
	// Other providers keep the default
	limiter.Allow("stub")
	if limiter.Allow("stub") {
		t.Error("default burst 1 should refuse the second immediate call")
	}
}
