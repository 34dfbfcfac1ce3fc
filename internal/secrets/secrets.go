// Package secrets resolves credential references found in configuration.
//
// A value of the form "env://NAME" or "vault://path#field" is replaced by the
// secret it names. Any other value, including URLs such as postgres DSNs, is
// used literally.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrSecretNotFound is returned when a reference cannot be resolved.
var ErrSecretNotFound = errors.New("secret not found")

// referenceSchemes are the schemes treated as credential references even
// when no provider is registered for them.
var referenceSchemes = map[string]bool{"env": true, "vault": true}

// Provider resolves references of one scheme. Implementations must be safe
// for concurrent use.
type Provider interface {
	// Scheme returns the reference prefix handled, without "://".
	Scheme() string
	// Resolve returns the secret named by ref (the part after "://").
	Resolve(ctx context.Context, ref string) (string, error)
}

// Resolver routes references to providers by scheme.
type Resolver struct {
	providers map[string]Provider
}

// NewResolver creates a resolver over providers.
func NewResolver(providers ...Provider) *Resolver {
	r := &Resolver{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Scheme()] = p
	}
	return r
}

// IsReference reports whether value is a credential reference.
func IsReference(value string) bool {
	scheme, _, ok := strings.Cut(value, "://")
	return ok && referenceSchemes[scheme]
}

// Resolve returns the secret for a reference, or value unchanged when it
// is not one.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if !IsReference(value) {
		return value, nil
	}
	scheme, ref, _ := strings.Cut(value, "://")
	p, ok := r.providers[scheme]
	if !ok {
		return "", fmt.Errorf("no secret provider configured for %s:// references", scheme)
	}
	secret, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	return secret, nil
}

// ResolveAll resolves each field in place. Nil pointers are skipped.
func (r *Resolver) ResolveAll(ctx context.Context, fields map[string]*string) error {
	for name, field := range fields {
		if field == nil || *field == "" {
			continue
		}
		v, err := r.Resolve(ctx, *field)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", name, err)
		}
		*field = v
	}
	return nil
}
