package security

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultAuditRetention is how long audit records are kept before reclamation.
const DefaultAuditRetention = 90 * 24 * time.Hour

// NewAuditRecord fills in the identifier, timestamp and retention expiry.
func NewAuditRecord(action string, params map[string]any, status AuditStatus, caller string, retention time.Duration) AuditRecord {
	if retention <= 0 {
		retention = DefaultAuditRetention
	}
	now := time.Now().UTC()
	return AuditRecord{
		LogID:      uuid.NewString(),
		Timestamp:  now,
		Action:     action,
		Parameters: params,
		Status:     status,
		Caller:     caller,
		ExpiresAt:  now.Add(retention),
	}
}

// FileAuditLog writes audit records as append-only JSONL.
// Each record is a single JSON line followed by a newline.
// Thread-safe: multiple goroutines can append concurrently.
type FileAuditLog struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	logger *slog.Logger
}

// NewFileAuditLog opens (or creates) the audit log file in append-only mode.
// File permissions are 0600 (owner read/write only).
func NewFileAuditLog(path string, logger *slog.Logger) (*FileAuditLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	return &FileAuditLog{
		path:   path,
		file:   f,
		logger: logger,
	}, nil
}

// Append serializes the record as JSON and appends it to the log.
// Marshal happens outside the lock; only the file write is serialized.
func (a *FileAuditLog) Append(ctx context.Context, record AuditRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}
	data = append(data, '\n')

	a.mu.Lock()
	_, writeErr := a.file.Write(data)
	a.mu.Unlock()

	if writeErr != nil {
		return fmt.Errorf("writing audit record: %w", writeErr)
	}

	a.logger.DebugContext(ctx, "audit record written",
		slog.String("log_id", record.LogID),
		slog.String("action", record.Action),
		slog.String("status", string(record.Status)),
		slog.String("caller", record.Caller),
	)
	return nil
}

// Query scans the file and returns matching, unexpired records newest first.
func (a *FileAuditLog) Query(_ context.Context, q AuditQuery) ([]AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", a.path, err)
	}
	defer f.Close()

	now := time.Now().UTC()
	var matched []AuditRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		var rec AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // Skip torn or foreign lines.
		}
		if rec.Expired(now) || (q.Action != "" && rec.Action != q.Action) {
			continue
		}
		matched = append(matched, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	return newestFirst(matched, q.EffectiveLimit()), nil
}

// Close closes the underlying file.
func (a *FileAuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// MemoryAuditLog keeps records in process memory. Used by the CLI when no
// persistent audit backend is configured, and by tests.
type MemoryAuditLog struct {
	mu      sync.RWMutex
	records []AuditRecord
}

// NewMemoryAuditLog creates an empty in-memory audit log.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

func (m *MemoryAuditLog) Append(_ context.Context, record AuditRecord) error {
	m.mu.Lock()
	m.records = append(m.records, record)
	m.mu.Unlock()
	return nil
}

func (m *MemoryAuditLog) Query(_ context.Context, q AuditQuery) ([]AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	matched := make([]AuditRecord, 0, len(m.records))
	for _, rec := range m.records {
		if rec.Expired(now) || (q.Action != "" && rec.Action != q.Action) {
			continue
		}
		matched = append(matched, rec)
	}
	return newestFirst(matched, q.EffectiveLimit()), nil
}

// Len returns the number of stored records, expired ones included.
func (m *MemoryAuditLog) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// newestFirst reverses insertion order and truncates to limit.
func newestFirst(records []AuditRecord, limit int) []AuditRecord {
	out := make([]AuditRecord, 0, min(len(records), limit))
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, records[i])
	}
	return out
}

var (
	_ AuditLog = (*FileAuditLog)(nil)
	_ AuditLog = (*MemoryAuditLog)(nil)
)
