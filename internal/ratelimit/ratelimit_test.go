package ratelimit

import (
	"errors"
	"testing"
)

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for range 100 {
		if err := l.Allow("alice"); err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
	}
	if l.Callers() != 0 {
		t.Errorf("unlimited limiter created %d buckets", l.Callers())
	}
}

func TestLimiter_BurstThenRejects(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 1, BurstSize: 3})
	for i := range 3 {
		if err := l.Allow("alice"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if err := l.Allow("alice"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("4th request = %v, want ErrRateLimited", err)
	}
}

func TestLimiter_CallersAreIndependent(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 1})
	if err := l.Allow("alice"); err != nil {
		t.Fatalf("alice: %v", err)
	}
	if err := l.Allow("alice"); err == nil {
		t.Fatal("alice should be limited after burst of 1")
	}
	if err := l.Allow("bob"); err != nil {
		t.Fatalf("bob has an independent bucket: %v", err)
	}
	if l.Callers() != 2 {
		t.Errorf("Callers() = %d, want 2", l.Callers())
	}
}
