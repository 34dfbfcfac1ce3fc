// Package action implements the guarded action authorization engine and the
// catalog of actions it can run. Each action is a registered Handler that
// declares its risk, required parameters and optional guard hooks.
package action

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jkaninda/warden/internal/backend"
	"github.com/jkaninda/warden/internal/security"
)

// Handler is the interface every action must implement.
type Handler interface {
	// Name returns the action's unique identifier (e.g. "delete_volume").
	Name() string

	// Description returns a human-readable description, used by help and the
	// intent parser prompt.
	Description() string

	// Risk classifies the action. RiskHigh and above require confirmation;
	// RiskCritical marks it irreversible.
	Risk() security.RiskLevel

	// RequiredParams lists parameters that must be present and non-empty.
	RequiredParams() []string

	// Validate checks handler-specific constraints after required parameters
	// are confirmed present. Called before any guard runs.
	Validate(p backend.Params) error

	// Execute performs the action. Only called once every gate has passed.
	Execute(ctx context.Context, p backend.Params) (map[string]any, error)
}

// CostBearing is implemented by handlers that create or resize billable
// resources. An empty class skips the budget guard.
type CostBearing interface {
	ResourceClass(p backend.Params) string
}

// BackupGated is implemented by irreversible handlers whose target must
// have a recent backup. An empty target skips the backup guard.
type BackupGated interface {
	BackupTarget(p backend.Params) string
}

// Prechecker is implemented by handlers that inspect current resource state
// before a token is issued and again before Execute. Returning an error wrapping
// security.ErrPreconditionFailed blocks the request; any other error is a
// backend failure.
type Prechecker interface {
	Precheck(ctx context.Context, p backend.Params) error
}

// Summarizer is implemented by handlers that describe their impact in the
// confirmation prompt.
type Summarizer interface {
	Summary(ctx context.Context, p backend.Params) string
}

// AuditProjector is implemented by handlers whose result is unsuitable for
// the audit trail as is. The returned map replaces the result in the
// success record only; the caller still receives the full result.
type AuditProjector interface {
	AuditResult(p backend.Params, result map[string]any) map[string]any
}

// Registry holds handlers keyed by action name.
// Thread-safe for concurrent reads; writes should only happen at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Panics on duplicate names (startup config error, not runtime).
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Name()]; exists {
		panic("duplicate action registration: " + h.Name())
	}
	r.handlers[h.Name()] = h
}

// Get returns the handler by name, or nil if not found.
func (r *Registry) Get(name string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

// Names returns all registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all registered handlers sorted by name.
func (r *Registry) All() []Handler {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handler, 0, len(names))
	for _, n := range names {
		out = append(out, r.handlers[n])
	}
	return out
}

// Validate checks the registry at startup: it must be non-empty, names must
// be set, and only irreversible handlers may declare a backup gate.
func (r *Registry) Validate() error {
	all := r.All()
	if len(all) == 0 {
		return fmt.Errorf("no actions registered")
	}
	for _, h := range all {
		if h.Name() == "" {
			return fmt.Errorf("action with empty name registered")
		}
		if _, gated := h.(BackupGated); gated && !h.Risk().Irreversible() {
			return fmt.Errorf("action %s declares a backup gate but is not irreversible", h.Name())
		}
	}
	return nil
}

// Describe returns a summary of every action for help output and prompts.
func (r *Registry) Describe() []ActionInfo {
	all := r.All()
	out := make([]ActionInfo, len(all))
	for i, h := range all {
		_, cost := h.(CostBearing)
		out[i] = ActionInfo{
			Name:                 h.Name(),
			Description:          h.Description(),
			Risk:                 h.Risk().String(),
			RequiresConfirmation: h.Risk().RequiresConfirmation(),
			CostBearing:          cost,
			Required:             h.RequiredParams(),
		}
	}
	return out
}

// ActionInfo describes one registered action.
type ActionInfo struct {
	Name                 string   `json:"name"`
	Description          string   `json:"description"`
	Risk                 string   `json:"risk"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
	CostBearing          bool     `json:"cost_bearing"`
	Required             []string `json:"required,omitempty"`
}
