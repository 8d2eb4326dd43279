// Package credential holds the immutable API credential store. The secret is
// only ever handed to the signing adapter; every other surface sees the
// redacted form.
package credential

import (
	"strings"

	"github.com/petreltrade/petrel/errs"
	"github.com/petreltrade/petrel/internal/schema"
)

// Store is an immutable API key/secret pair tagged with the environment it
// belongs to. Constructed once per session and validated at construction.
type Store struct {
	apiKey      string
	apiSecret   string
	environment schema.Environment
}

// New validates and builds a credential store. Both key and secret must be
// non-empty; the environment defaults to testnet when unset, as a safety rail.
func New(apiKey, apiSecret string, env schema.Environment) (*Store, error) {
	apiKey = strings.TrimSpace(apiKey)
	apiSecret = strings.TrimSpace(apiSecret)
	if apiKey == "" {
		return nil, errs.New(errs.KindValidation, errs.WithField("apiKey"),
			errs.WithMessage("api key must not be empty"))
	}
	if apiSecret == "" {
		return nil, errs.New(errs.KindValidation, errs.WithField("apiSecret"),
			errs.WithMessage("api secret must not be empty"))
	}
	switch env {
	case schema.EnvTestnet, schema.EnvProduction:
	case "":
		env = schema.EnvTestnet
	default:
		return nil, errs.New(errs.KindValidation, errs.WithField("environment"),
			errs.WithMessage("environment must be testnet or production"))
	}
	return &Store{apiKey: apiKey, apiSecret: apiSecret, environment: env}, nil
}

// APIKey returns the API key. The key identifies the account but cannot sign
// requests, so it may appear redacted in diagnostics.
func (s *Store) APIKey() string {
	return s.apiKey
}

// APISecret returns the signing secret. Callers other than the adapter must
// not retain or log it.
func (s *Store) APISecret() string {
	return s.apiSecret
}

// Environment returns the environment tag.
func (s *Store) Environment() schema.Environment {
	return s.environment
}

// Redacted returns a display-safe identifier for the credential set: the
// first and last four characters of the key, never any part of the secret.
func (s *Store) Redacted() string {
	const keep = 4
	key := s.apiKey
	if len(key) <= keep*2 {
		return strings.Repeat("*", len(key))
	}
	return key[:keep] + strings.Repeat("*", len(key)-keep*2) + key[len(key)-keep:]
}

// String implements fmt.Stringer with the redacted form so accidental
// formatting can never leak the secret.
func (s *Store) String() string {
	return "credential(" + s.Redacted() + "@" + string(s.environment) + ")"
}
