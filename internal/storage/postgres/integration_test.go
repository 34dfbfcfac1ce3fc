//go:build integration

package postgres

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/warden/internal/confirmation"
	"github.com/jkaninda/warden/internal/security"
)

func testDB(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping integration test")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	db, err := Open(Config{DSN: dsn}, logger)
	if err != nil {
		t.Fatalf("opening postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return db
}

// --- Token Atomicity ---

func TestTokenConsume_ConcurrentSingleWinner(t *testing.T) {
	db := testDB(t)
	repo := NewTokenRepository(db.GormDB())
	ctx := context.Background()

	now := time.Now().UTC()
	tok := &confirmation.Token{
		Value:      "PG" + uuid.NewString()[:8],
		Action:     "delete_volume",
		Parameters: map[string]any{"volume_id": "vol-1"},
		CreatedAt:  now,
		ExpiresAt:  now.Add(5 * time.Minute),
	}
	if err := repo.Insert(ctx, tok); err != nil {
		t.Fatalf("insert: %v", err)
	}

	const workers = 20
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := repo.Consume(ctx, tok.Value)
			switch {
			case err == nil:
				wins.Add(1)
				if got.Parameters["volume_id"] != "vol-1" {
					t.Errorf("unexpected params: %v", got.Parameters)
				}
			case !errors.Is(err, confirmation.ErrNotFound):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestTokenDeleteExpired(t *testing.T) {
	db := testDB(t)
	repo := NewTokenRepository(db.GormDB())
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	tok := &confirmation.Token{Value: "PX" + uuid.NewString()[:8], Action: "terminate_instance", CreatedAt: past, ExpiresAt: past.Add(time.Minute)}
	if err := repo.Insert(ctx, tok); err != nil {
		t.Fatalf("insert: %v", err)
	}
	n, err := repo.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n < 1 {
		t.Errorf("expected at least one expired token removed, got %d", n)
	}
	if _, err := repo.Consume(ctx, tok.Value); !errors.Is(err, confirmation.ErrNotFound) {
		t.Errorf("expected ErrNotFound after purge, got %v", err)
	}
}

// --- Action Log ---

func TestAuditRepository_QueryAndPurge(t *testing.T) {
	db := testDB(t)
	repo := NewAuditRepository(db.GormDB())
	ctx := context.Background()
	action := "it_" + uuid.NewString()[:8]

	now := time.Now().UTC()
	fresh := security.NewAuditRecord(action, map[string]any{"volume_id": "vol-1"}, security.StatusSuccess, "alice", time.Hour)
	fresh.Result = map[string]any{"deleted": true}
	stale := security.NewAuditRecord(action, nil, security.StatusFailed, "bob", time.Hour)
	stale.ExpiresAt = now.Add(-time.Minute)

	for _, r := range []security.AuditRecord{stale, fresh} {
		if err := repo.Append(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := repo.Query(ctx, security.AuditQuery{Action: action}, now)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].LogID != fresh.LogID {
		t.Fatalf("expected only the unexpired record, got %+v", got)
	}
	if got[0].Parameters["volume_id"] != "vol-1" || got[0].Result["deleted"] != true {
		t.Errorf("json columns not round-tripped: %+v", got[0])
	}

	n, err := repo.PurgeExpired(ctx, now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n < 1 {
		t.Errorf("expected stale record purged, got %d", n)
	}
}
