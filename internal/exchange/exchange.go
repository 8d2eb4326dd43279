// Package exchange defines the adapter contract between the Petrel core and a
// concrete venue implementation. The core never speaks HTTP or venue
// vocabulary directly; everything crosses this boundary as canonical schema
// types with classified errors.
package exchange

import (
	"context"
	"time"

	"github.com/petreltrade/petrel/internal/schema"
)

// OrderIntent is a validated request paired with the caller-assigned client
// reference. The reference doubles as the venue idempotency token, so a retry
// after an ambiguous submission can never place a second order.
type OrderIntent struct {
	ClientRef string
	Request   schema.OrderRequest
}

// OrderQuery identifies an existing venue order. ExchangeOrderID is preferred
// when present; ClientRef covers orders whose acknowledgement was lost.
type OrderQuery struct {
	Symbol          string
	ExchangeOrderID string
	ClientRef       string
}

// AccountInfo is the venue's view of the credential scope.
type AccountInfo struct {
	CanTrade  bool
	UpdatedAt time.Time
}

// Client is the venue adapter used by session, lifecycle, and balance code.
// All methods return errors classified into the errs taxonomy; transport
// failures surface as connection errors so callers can distinguish "the venue
// said no" from "the venue could not be reached".
type Client interface {
	// Name identifies the venue, e.g. "binance-futures".
	Name() string
	// Environment reports which deployment the adapter targets.
	Environment() schema.Environment
	// Ping measures venue reachability and returns the offset between the
	// venue clock and the local clock.
	Ping(ctx context.Context) (time.Duration, error)
	// Account fetches the credential scope via a signed request.
	Account(ctx context.Context) (AccountInfo, error)
	// LoadFilters warms the per-symbol filter cache. Best effort: a
	// failure leaves the cache empty rather than failing activation.
	LoadFilters(ctx context.Context) error
	// Filters returns cached step metadata for the symbol. The lookup is
	// local; it never triggers a network call.
	Filters(symbol string) (schema.SymbolFilters, bool)
	// PlaceOrder submits the intent and returns the venue's acknowledged
	// state. A connection error means the outcome is unknown.
	PlaceOrder(ctx context.Context, intent OrderIntent) (schema.ProviderState, error)
	// QueryOrder fetches the venue's current view of the order.
	QueryOrder(ctx context.Context, query OrderQuery) (schema.ProviderState, error)
	// CancelOrder requests cancellation and returns the resulting state.
	CancelOrder(ctx context.Context, query OrderQuery) (schema.ProviderState, error)
	// QueryBalances fetches all asset balances in one round trip.
	QueryBalances(ctx context.Context) ([]schema.BalanceSnapshot, error)
}

// StreamingClient is implemented by adapters that can push order updates over
// a user-data stream. Callers type-assert; polling remains the fallback.
type StreamingClient interface {
	Client
	// StreamOrderUpdates opens the user-data stream and delivers order
	// state changes until ctx is cancelled. The returned channel is closed
	// when the stream shuts down.
	StreamOrderUpdates(ctx context.Context) (<-chan schema.ProviderState, error)
}
