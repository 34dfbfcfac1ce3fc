package confirmation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryStore keeps tokens in process memory.
// Thread-safe. Expired tokens are rejected on verify and reclaimed by Sweep.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]*Token
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewMemoryStore creates a token store with the given TTL.
// A non-positive ttl selects DefaultTTL.
func NewMemoryStore(ttl time.Duration, logger *slog.Logger) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		tokens: make(map[string]*Token),
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Issue stores a new token and returns it.
func (m *MemoryStore) Issue(ctx context.Context, action string, params map[string]any) (*Token, error) {
	tok, err := newToken(action, params, m.now(), m.ttl)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.tokens[tok.Value] = tok
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "confirmation token issued",
		slog.String("action", action),
		slog.Time("expires_at", tok.ExpiresAt),
	)
	return tok, nil
}

// VerifyAndConsume removes the token under the lock and returns it.
func (m *MemoryStore) VerifyAndConsume(ctx context.Context, value string) (*Token, error) {
	value = normalizeValue(value)

	m.mu.Lock()
	tok, ok := m.tokens[value]
	if ok {
		delete(m.tokens, value)
	}
	m.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	if tok.Expired(m.now()) {
		m.logger.InfoContext(ctx, "expired confirmation token presented",
			slog.String("action", tok.Action),
		)
		return nil, ErrExpired
	}
	return tok, nil
}

// Sweep removes every expired token and returns how many were removed.
func (m *MemoryStore) Sweep(_ context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for v, tok := range m.tokens {
		if tok.Expired(now) {
			delete(m.tokens, v)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored tokens, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

// StartSweeper starts a background goroutine that calls Sweep periodically.
// Returns a cancel function to stop the goroutine.
func (m *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) func() {
	return startSweeper(ctx, interval, func(ctx context.Context) {
		if n := m.Sweep(ctx); n > 0 {
			m.logger.Debug("expired confirmation tokens swept", slog.Int("count", n))
		}
	})
}

func startSweeper(ctx context.Context, interval time.Duration, sweep func(context.Context)) func() {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep(ctx)
			}
		}
	}()
	return cancel
}

var _ Store = (*MemoryStore)(nil)
