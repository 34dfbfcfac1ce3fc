// Package gateway defines the interface for Warden's long-running entry points.
package gateway

import "context"

// Gateway is a network entry point in front of the authorization engine.
type Gateway interface {
	// Start serves requests and blocks until the gateway exits or the
	// context is canceled. Returns an error only on failure.
	Start(ctx context.Context) error

	// Stop performs graceful shutdown. The context carries a deadline
	// for the grace period.
	Stop(ctx context.Context) error
}
