//go:build integration

package confirmation

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testRedisStore(t *testing.T, ttl time.Duration) *RedisStore {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping integration test")
	}
	s := NewRedisStore(RedisOptions{Addr: addr}, ttl, discardLogger())
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("pinging redis: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore_Lifecycle(t *testing.T) {
	s := testRedisStore(t, 0)
	ctx := context.Background()

	tok, err := s.Issue(ctx, "delete_volume", map[string]any{"volume_id": "vol-1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := s.VerifyAndConsume(ctx, tok.Value)
	if err != nil {
		t.Fatalf("VerifyAndConsume: %v", err)
	}
	if err := got.Matches("delete_volume", map[string]any{"volume_id": "vol-1"}); err != nil {
		t.Errorf("Matches: %v", err)
	}
	if _, err := s.VerifyAndConsume(ctx, tok.Value); !errors.Is(err, ErrNotFound) {
		t.Errorf("second verify err = %v, want ErrNotFound", err)
	}
}

func TestRedisStore_NativeExpiry(t *testing.T) {
	s := testRedisStore(t, time.Second)
	ctx := context.Background()

	tok, err := s.Issue(ctx, "delete_volume", nil)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(1500 * time.Millisecond)
	if _, err := s.VerifyAndConsume(ctx, tok.Value); !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrExpired) {
		t.Errorf("err = %v, want not_found or expired", err)
	}
}

func TestRedisStore_ConcurrentVerify(t *testing.T) {
	s := testRedisStore(t, 0)
	tok, err := s.Issue(context.Background(), "terminate_instance", map[string]any{"instance_id": "i-1"})
	if err != nil {
		t.Fatal(err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.VerifyAndConsume(context.Background(), tok.Value); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("wins = %d, want 1", wins.Load())
	}
}
