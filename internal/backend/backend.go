// Package backend defines the resource backend the engine executes
// authorized actions against, plus an in-memory implementation used for
// local runs and tests.
package backend

import (
	"context"
	"errors"

	"github.com/jkaninda/warden/internal/security"
)

// ErrNotFound is returned when a referenced resource does not exist.
var ErrNotFound = errors.New("resource not found")

// Backend performs resource mutations and reports current state.
type Backend interface {
	// Execute runs one backend operation. Errors are surfaced verbatim to callers.
	Execute(ctx context.Context, action string, params map[string]any) (*Result, error)
	// ListBackups returns backups tagged as originating from resourceID.
	// An empty resourceID lists every backup the backend manages.
	ListBackups(ctx context.Context, resourceID string) ([]security.Backup, error)
	// Describe reports the current state of an instance or volume.
	Describe(ctx context.Context, resourceID string) (*ResourceState, error)
}

// Result is the outcome of a successful backend operation.
type Result struct {
	Output map[string]any `json:"output"`
	State  string         `json:"state,omitempty"` // Resource state after the operation, if any.
}

// Resource kinds reported by Describe.
const (
	KindInstance = "instance"
	KindVolume   = "volume"
)

// ResourceState is a point-in-time view of one resource.
type ResourceState struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	State       string            `json:"state"`
	Type        string            `json:"type,omitempty"` // Instance class or volume type.
	Name        string            `json:"name,omitempty"`
	Attachments []string          `json:"attachments,omitempty"` // Instance IDs a volume is attached to.
	Tags        map[string]string `json:"tags,omitempty"`
}
