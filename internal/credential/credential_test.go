package credential

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/petreltrade/petrel/errs"
	"github.com/petreltrade/petrel/internal/schema"
)

func TestNewRequiresKeyAndSecret(t *testing.T) {
	if _, err := New("", "secret", schema.EnvTestnet); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := New("key", "   ", schema.EnvTestnet); err == nil {
		t.Fatal("expected error for blank secret")
	}
	_, err := New("", "secret", schema.EnvTestnet)
	var e *errs.E
	if !errors.As(err, &e) || e.Field != "apiKey" {
		t.Fatalf("expected validation error naming apiKey, got %v", err)
	}
}

func TestEnvironmentDefaultsToTestnet(t *testing.T) {
	store, err := New("key-1234567890", "secret", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.Environment() != schema.EnvTestnet {
		t.Fatalf("expected testnet default, got %s", store.Environment())
	}
}

func TestUnknownEnvironmentRejected(t *testing.T) {
	if _, err := New("key", "secret", "staging"); err == nil {
		t.Fatal("expected error for unknown environment")
	}
}

func TestRedactionNeverExposesSecret(t *testing.T) {
	store, err := New("AKIMP9VX41TQ7L2B8NZD", "supersecretsigningkey", schema.EnvTestnet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	formatted := fmt.Sprintf("%v %s", store, store.Redacted())
	if strings.Contains(formatted, "supersecretsigningkey") {
		t.Fatalf("secret leaked into formatted output: %s", formatted)
	}
	if !strings.HasPrefix(store.Redacted(), "AKIM") || !strings.HasSuffix(store.Redacted(), "8NZD") {
		t.Fatalf("expected key edges in redacted form, got %s", store.Redacted())
	}
	if strings.Contains(store.Redacted(), "9VX41TQ7L2B") {
		t.Fatalf("redacted form exposes key middle: %s", store.Redacted())
	}
}

func TestShortKeyFullyMasked(t *testing.T) {
	store, err := New("abcd1234", "secret", schema.EnvTestnet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.Redacted() != "********" {
		t.Fatalf("short keys must be fully masked, got %s", store.Redacted())
	}
}
