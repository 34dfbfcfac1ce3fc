// Package postgres implements PostgreSQL-backed storage using GORM.
// All GORM usage is confined to this package and sqlite; the models and
// repositories here serve both drivers.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jkaninda/warden/internal/confirmation"
	"github.com/jkaninda/warden/internal/security"
	"github.com/jkaninda/warden/internal/storage"
)

// Config configures the connection pool. Zero values take the defaults
// below. The DSN is never logged.
type Config struct {
	DSN             string
	MaxOpenConns    int           // 25
	MaxIdleConns    int           // 5
	ConnMaxLifetime time.Duration // 30m
}

// Store implements storage.Store on PostgreSQL. Token consumption relies on
// a single DELETE per token, so any isolation level works.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger

	mu     sync.Mutex
	audit  security.AuditStore
	tokens confirmation.Repository
}

// Open connects and sizes the pool. Call Migrate before use.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      NewGormLogger(slogger),
		NowFunc:     func() time.Time { return time.Now().UTC() },
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	maxOpen, maxIdle, lifetime := orDefault(cfg.MaxOpenConns, 25), orDefault(cfg.MaxIdleConns, 5), cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(lifetime)

	slogger.Info("postgres store opened",
		slog.Int("max_open_conns", maxOpen),
		slog.Int("max_idle_conns", maxIdle),
	)
	return &Store{db: db, logger: slogger}, nil
}

// GormDB returns the handle for repository constructors.
func (s *Store) GormDB() *gorm.DB { return s.db }

// Migrate creates or updates the audit and token tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(Models()...)
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Driver() string { return storage.DriverPostgres }

func (s *Store) Audit() security.AuditStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		s.audit = NewAuditRepository(s.db)
	}
	return s.audit
}

func (s *Store) Tokens() confirmation.Repository {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		s.tokens = NewTokenRepository(s.db)
	}
	return s.tokens
}

// NewGormLogger routes GORM warnings (slow queries, SQL errors) to slog.
// Missing rows are expected on token lookups and are not reported.
func NewGormLogger(slogger *slog.Logger) logger.Interface {
	return logger.New(gormWriter{slogger}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

type gormWriter struct {
	logger *slog.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.logger.Warn(fmt.Sprintf(format, args...), slog.String("component", "gorm"))
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

var _ storage.Store = (*Store)(nil)
