package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jkaninda/warden/internal/confirmation"
	"github.com/jkaninda/warden/internal/security"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "warden.db")}, logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestSQLite_AuditAppendQueryPurge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	audit := s.Audit()
	base := time.Now().UTC()

	older := security.NewAuditRecord("delete_volume", map[string]any{"volume_id": "vol-1"}, security.StatusRequiresConfirmation, "alice", time.Hour)
	older.Timestamp = base.Add(-2 * time.Minute)
	newer := security.NewAuditRecord("delete_volume", map[string]any{"volume_id": "vol-1"}, security.StatusSuccess, "alice", time.Hour)
	newer.Timestamp = base.Add(-time.Minute)
	newer.Result = map[string]any{"deleted": true}
	other := security.NewAuditRecord("list_instances", nil, security.StatusSuccess, "bob", time.Hour)
	expired := security.NewAuditRecord("delete_volume", nil, security.StatusFailed, "eve", time.Hour)
	expired.ExpiresAt = base.Add(-time.Second)

	for _, r := range []security.AuditRecord{older, newer, other, expired} {
		if err := audit.Append(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := audit.Query(ctx, security.AuditQuery{Action: "delete_volume"}, base)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 unexpired delete_volume records, got %d", len(got))
	}
	if got[0].LogID != newer.LogID || got[1].LogID != older.LogID {
		t.Errorf("expected newest first")
	}
	if got[0].Status != security.StatusSuccess || got[0].Result["deleted"] != true {
		t.Errorf("unexpected record: %+v", got[0])
	}
	if got[0].Parameters["volume_id"] != "vol-1" {
		t.Errorf("parameters not round-tripped: %v", got[0].Parameters)
	}

	limited, _ := audit.Query(ctx, security.AuditQuery{Limit: 1}, base)
	if len(limited) != 1 {
		t.Errorf("expected limit 1, got %d", len(limited))
	}

	n, err := audit.PurgeExpired(ctx, base)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged record, got %d", n)
	}
}

func TestSQLite_TokenConsumeOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := confirmation.NewDBStore(s.Tokens(), time.Minute, logger)

	tok, err := store.Issue(ctx, "terminate_instance", map[string]any{"instance_id": "i-1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	got, err := store.VerifyAndConsume(ctx, tok.Value)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Action != "terminate_instance" || got.Parameters["instance_id"] != "i-1" {
		t.Errorf("unexpected token: %+v", got)
	}

	if _, err := store.VerifyAndConsume(ctx, tok.Value); !errors.Is(err, confirmation.ErrNotFound) {
		t.Errorf("expected ErrNotFound on reuse, got %v", err)
	}
}

func TestSQLite_TokenDeleteExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	repo := s.Tokens()

	past := time.Now().UTC().Add(-time.Hour)
	if err := repo.Insert(ctx, &confirmation.Token{Value: "AAAA", Action: "x", CreatedAt: past, ExpiresAt: past.Add(time.Minute)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := repo.Insert(ctx, &confirmation.Token{Value: "BBBB", Action: "x", CreatedAt: past, ExpiresAt: time.Now().UTC().Add(time.Hour)}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := repo.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired token removed, got %d", n)
	}
	if err := repo.Ping(ctx); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestSQLite_Driver(t *testing.T) {
	s := openTestStore(t)
	if s.Driver() != "sqlite" {
		t.Errorf("unexpected driver %q", s.Driver())
	}
}
