package secrets

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// VaultConfig configures a VaultProvider. VAULT_ADDR, VAULT_TOKEN and
// VAULT_NAMESPACE override the matching fields.
type VaultConfig struct {
	Address       string
	Token         string
	Namespace     string
	Timeout       time.Duration // Default: 5s.
	TLSSkipVerify bool
}

// VaultProvider reads HashiCorp Vault KV v2 secrets with token auth.
//
// Reference format: "vault://secret/data/warden#anthropic_key", where the
// path is the full KV v2 API path and "#field" selects one value. Without a
// field the whole data map is returned as JSON.
type VaultProvider struct {
	address   string
	token     string
	namespace string
	client    *http.Client
}

// NewVaultProvider creates a Vault provider.
func NewVaultProvider(cfg VaultConfig) (*VaultProvider, error) {
	if env := os.Getenv("VAULT_ADDR"); env != "" {
		cfg.Address = env
	}
	if env := os.Getenv("VAULT_TOKEN"); env != "" {
		cfg.Token = env
	}
	if env := os.Getenv("VAULT_NAMESPACE"); env != "" {
		cfg.Namespace = env
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("vault address is required (set secrets.vault.address or VAULT_ADDR)")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("vault token is required (set secrets.vault.token or VAULT_TOKEN)")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &VaultProvider{
		address:   strings.TrimRight(cfg.Address, "/"),
		token:     cfg.Token,
		namespace: cfg.Namespace,
		client:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}, nil
}

func (p *VaultProvider) Scheme() string { return "vault" }

func (p *VaultProvider) Resolve(ctx context.Context, ref string) (string, error) {
	path, field, _ := strings.Cut(ref, "#")
	if path == "" {
		return "", fmt.Errorf("%w: empty vault path", ErrSecretNotFound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.address+"/v1/"+path, nil)
	if err != nil {
		return "", fmt.Errorf("building vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.token)
	if p.namespace != "" {
		req.Header.Set("X-Vault-Namespace", p.namespace)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vault request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading vault response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: vault path %q not found", ErrSecretNotFound, path)
	case resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("vault access denied for path %q", path)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("vault returned status %d for path %q", resp.StatusCode, path)
	}

	var envelope struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("parsing vault response: %w", err)
	}
	data := envelope.Data.Data
	if data == nil {
		return "", fmt.Errorf("%w: vault path %q returned no data", ErrSecretNotFound, path)
	}

	if field == "" {
		b, err := json.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("encoding vault data: %w", err)
		}
		return string(b), nil
	}
	val, ok := data[field]
	if !ok {
		return "", fmt.Errorf("%w: field %q not found in vault path %q", ErrSecretNotFound, field, path)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("vault field %q in path %q is not a string", field, path)
	}
	return str, nil
}
