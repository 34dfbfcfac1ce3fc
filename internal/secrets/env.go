package secrets

import (
	"context"
	"fmt"
	"os"
)

// EnvProvider resolves "env://NAME" from the process environment.
type EnvProvider struct{}

// NewEnvProvider creates an environment variable provider.
func NewEnvProvider() *EnvProvider { return &EnvProvider{} }

func (p *EnvProvider) Scheme() string { return "env" }

func (p *EnvProvider) Resolve(_ context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty environment variable name", ErrSecretNotFound)
	}
	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("%w: environment variable %q is not set or empty", ErrSecretNotFound, name)
	}
	return value, nil
}
