package confirmation

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Repository is the persistence contract behind DBStore.
// Consume must delete atomically and return ErrNotFound when no row was
// deleted, so exactly one concurrent caller wins.
type Repository interface {
	Insert(ctx context.Context, tok *Token) error
	Consume(ctx context.Context, value string) (*Token, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// DBStore persists tokens in SQLite or PostgreSQL through a Repository.
type DBStore struct {
	repo   Repository
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewDBStore creates a database-backed token store.
func NewDBStore(repo Repository, ttl time.Duration, logger *slog.Logger) *DBStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DBStore{
		repo:   repo,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

func (s *DBStore) Issue(ctx context.Context, action string, params map[string]any) (*Token, error) {
	tok, err := newToken(action, params, s.now(), s.ttl)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Insert(ctx, tok); err != nil {
		return nil, fmt.Errorf("storing confirmation token: %w", err)
	}
	s.logger.InfoContext(ctx, "confirmation token issued (db)",
		slog.String("action", action),
		slog.Time("expires_at", tok.ExpiresAt),
	)
	return tok, nil
}

func (s *DBStore) VerifyAndConsume(ctx context.Context, value string) (*Token, error) {
	tok, err := s.repo.Consume(ctx, normalizeValue(value))
	if err != nil {
		return nil, err
	}
	if tok.Expired(s.now()) {
		return nil, ErrExpired
	}
	return tok, nil
}

// Sweep deletes expired rows.
func (s *DBStore) Sweep(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now())
}

// Ping checks the underlying database for readiness probes.
func (s *DBStore) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// StartSweeper periodically deletes expired rows.
// Returns a cancel function to stop the goroutine.
func (s *DBStore) StartSweeper(ctx context.Context, interval time.Duration) func() {
	return startSweeper(ctx, interval, func(ctx context.Context) {
		n, err := s.Sweep(ctx)
		if err != nil {
			s.logger.Warn("confirmation token sweep failed", slog.String("error", err.Error()))
			return
		}
		if n > 0 {
			s.logger.Debug("expired confirmation tokens swept", slog.Int64("count", n))
		}
	})
}

var _ Store = (*DBStore)(nil)
