// Package confirmation issues and consumes the single-use, time-limited
// tokens that authorize a guarded action. A token binds one action name and
// one parameter set; verification deletes it whatever the outcome.
package confirmation

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is the absolute lifetime of an issued token.
const DefaultTTL = 5 * time.Minute

// tokenLength is the number of uppercase hex characters in a token value.
const tokenLength = 24

var (
	ErrNotFound          = errors.New("token not found")
	ErrExpired           = errors.New("token expired")
	ErrParameterMismatch = errors.New("token does not match request")
)

// Invalid reasons reported to callers.
const (
	ReasonNotFound          = "not_found"
	ReasonExpired           = "expired"
	ReasonParameterMismatch = "parameter_mismatch"
)

// Token is a confirmation credential bound to one action and parameter set.
type Token struct {
	Value      string         `json:"token"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Matches checks that the bound action and parameters equal the request's.
// Parameters compare by canonical JSON, so key order and int/float
// representation of the same number do not matter.
func (t *Token) Matches(action string, params map[string]any) error {
	if t.Action != action {
		return fmt.Errorf("%w: token issued for %q, not %q", ErrParameterMismatch, t.Action, action)
	}
	want, err := Canonical(t.Parameters)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrParameterMismatch, err)
	}
	got, err := Canonical(params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrParameterMismatch, err)
	}
	if !bytes.Equal(want, got) {
		return fmt.Errorf("%w: parameters differ from those confirmed", ErrParameterMismatch)
	}
	return nil
}

// Store issues and consumes confirmation tokens. Implementations must make
// VerifyAndConsume an atomic check-then-delete.
type Store interface {
	// Issue mints a new token bound to action and params.
	Issue(ctx context.Context, action string, params map[string]any) (*Token, error)
	// VerifyAndConsume deletes the token and returns it. Returns ErrNotFound
	// if absent and ErrExpired if present but past expiry.
	VerifyAndConsume(ctx context.Context, value string) (*Token, error)
}

// Reason maps a verification error to its reason code, or "" if err is not
// a token error.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrExpired):
		return ReasonExpired
	case errors.Is(err, ErrParameterMismatch):
		return ReasonParameterMismatch
	default:
		return ""
	}
}

// Canonical returns the JSON encoding used for parameter comparison.
// A nil map and an empty map encode the same.
func Canonical(params map[string]any) ([]byte, error) {
	if len(params) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding parameters: %w", err)
	}
	// Round-trip so every numeric type encodes the way it decodes.
	var normalized map[string]any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, fmt.Errorf("normalizing parameters: %w", err)
	}
	return json.Marshal(normalized)
}

// newToken builds a token record with a fresh value.
func newToken(action string, params map[string]any, now time.Time, ttl time.Duration) (*Token, error) {
	canon, err := Canonical(params)
	if err != nil {
		return nil, err
	}
	value, err := generateValue(action, canon, now)
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}
	var snapshot map[string]any
	if err := json.Unmarshal(canon, &snapshot); err != nil {
		return nil, fmt.Errorf("snapshotting parameters: %w", err)
	}
	return &Token{
		Value:      value,
		Action:     action,
		Parameters: snapshot,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}, nil
}

// generateValue hashes 16 random bytes with the binding and the issue time.
func generateValue(action string, canon []byte, now time.Time) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(nonce)
	h.Write([]byte(action))
	h.Write(canon)
	h.Write([]byte(strconv.FormatInt(now.UnixNano(), 10)))
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))[:tokenLength], nil
}

// normalizeValue trims whitespace and uppercases user-supplied token values.
func normalizeValue(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}
