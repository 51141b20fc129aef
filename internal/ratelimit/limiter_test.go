package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTakeRequest_NilRedis_FailOpen(t *testing.T) {
	l := NewLimiter(nil)
	dec, err := l.TakeRequest(context.Background(), "key-1", 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Allowed {
		t.Error("expected allowed when Redis is nil")
	}
	if dec.Remaining != 59 {
		t.Errorf("expected remaining=59, got %d", dec.Remaining)
	}
	if dec.ResetAt.IsZero() {
		t.Error("expected a reset time even without Redis")
	}
}

func TestTakeRequest_NilRedis_NeverDenies(t *testing.T) {
	l := NewLimiter(nil)
	for i := 0; i < 100; i++ {
		dec, _ := l.TakeRequest(context.Background(), "key-1", 10)
		if !dec.Allowed {
			t.Fatalf("expected allowed on check %d", i)
		}
	}
}

func TestCheckTokens_NilRedis_FailOpen(t *testing.T) {
	l := NewLimiter(nil)
	dec, err := l.CheckTokens(context.Background(), "key-1", 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Allowed {
		t.Error("expected allowed when Redis is nil")
	}
	if dec.Used != 0 {
		t.Errorf("expected used=0, got %d", dec.Used)
	}
	if dec.Remaining != 1000 {
		t.Errorf("expected remaining=1000, got %d", dec.Remaining)
	}
}

func TestAddTokens_NilRedis_NoOp(t *testing.T) {
	l := NewLimiter(nil)
	if err := l.AddTokens(context.Background(), "key-1", 500); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	// Non-positive counts are ignored.
	if err := l.AddTokens(context.Background(), "key-1", 0); err != nil {
		t.Errorf("unexpected error for zero tokens: %v", err)
	}
}

func TestDecision_DeniedComputesRetryFromOldestEntry(t *testing.T) {
	l := NewLimiter(nil)
	oldest := time.Now().Add(-30 * time.Second)

	dec := l.decision(60, false, oldest.UnixMicro(), 60)
	if dec.Allowed {
		t.Fatal("expected denied")
	}
	if dec.Remaining != 0 {
		t.Errorf("expected remaining=0, got %d", dec.Remaining)
	}
	// The oldest entry expires ~30s from now, so retry should say so
	// rather than a full window.
	if dec.RetryAfter < 25*time.Second || dec.RetryAfter > 31*time.Second {
		t.Errorf("expected retry-after near 30s, got %s", dec.RetryAfter)
	}
}

func TestDecision_RetryAfterFloorsAtOneSecond(t *testing.T) {
	l := NewLimiter(nil)
	oldest := time.Now().Add(-l.window)

	dec := l.decision(10, false, oldest.UnixMicro(), 10)
	if dec.RetryAfter < time.Second {
		t.Errorf("expected retry-after >= 1s, got %s", dec.RetryAfter)
	}
}

func TestDecision_RemainingClampedAtZero(t *testing.T) {
	l := NewLimiter(nil)
	dec := l.decision(75, false, time.Now().UnixMicro(), 60)
	if dec.Remaining != 0 {
		t.Errorf("expected remaining=0 when over limit, got %d", dec.Remaining)
	}
}
