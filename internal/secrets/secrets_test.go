package secrets

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestIsReference(t *testing.T) {
	tests := map[string]bool{
		"env://KEY":                     true,
		"vault://secret/data/x#y":       true,
		"postgres://u:p@db:5432/warden": false,
		"https://hooks.example.com/x":   false,
		"plain-value":                   false,
		"":                              false,
	}
	for v, want := range tests {
		if got := IsReference(v); got != want {
			t.Errorf("IsReference(%q) = %v, want %v", v, got, want)
		}
	}
}

func TestResolver_Env(t *testing.T) {
	t.Setenv("WARDEN_TEST_SECRET", "s3cret")
	t.Setenv("WARDEN_TEST_EMPTY", "")
	r := NewResolver(NewEnvProvider())
	ctx := context.Background()

	if got, err := r.Resolve(ctx, "env://WARDEN_TEST_SECRET"); err != nil || got != "s3cret" {
		t.Errorf("env ref: got %q, %v", got, err)
	}
	if got, err := r.Resolve(ctx, "literal"); err != nil || got != "literal" {
		t.Errorf("literal: got %q, %v", got, err)
	}
	if _, err := r.Resolve(ctx, "env://WARDEN_TEST_EMPTY"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("empty env: err = %v, want ErrSecretNotFound", err)
	}
	if _, err := r.Resolve(ctx, "vault://secret/data/x#y"); err == nil || !strings.Contains(err.Error(), "no secret provider") {
		t.Errorf("unregistered vault: err = %v", err)
	}
}

func TestResolver_ResolveAll(t *testing.T) {
	t.Setenv("WARDEN_TEST_TOKEN", "xoxb-1")
	r := NewResolver(NewEnvProvider())

	token := "env://WARDEN_TEST_TOKEN"
	dsn := "postgres://u:p@db/warden"
	empty := ""
	if err := r.ResolveAll(context.Background(), map[string]*string{
		"token": &token, "dsn": &dsn, "empty": &empty, "unset": nil,
	}); err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	if token != "xoxb-1" || dsn != "postgres://u:p@db/warden" {
		t.Errorf("token=%q dsn=%q", token, dsn)
	}

	t.Setenv("WARDEN_TEST_MISSING_VAR", "")
	bad := "env://WARDEN_TEST_MISSING_VAR"
	err := r.ResolveAll(context.Background(), map[string]*string{"intent.api_key": &bad})
	if err == nil || !strings.Contains(err.Error(), "intent.api_key") {
		t.Errorf("err = %v, want field name in error", err)
	}
}
