// Package storage defines the Store interface that abstracts persistence for
// the audit trail and confirmation tokens. Two backends are provided: SQLite
// (default, zero-config) and PostgreSQL.
package storage

import (
	"context"

	"github.com/jkaninda/warden/internal/confirmation"
	"github.com/jkaninda/warden/internal/security"
)

// Store is the unified persistence interface. Both SQLite and PostgreSQL
// backends implement it over the same GORM models.
type Store interface {
	// Audit returns the append-only action log store.
	Audit() security.AuditStore
	// Tokens returns the confirmation token repository.
	Tokens() confirmation.Repository

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// Driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)
