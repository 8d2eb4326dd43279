// Package fake provides a synthetic in-memory exchange for testing and paper
// trading. Orders fill instantly at the requested or scripted price, and every
// remote failure mode can be scripted per call.
package fake

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/petreltrade/petrel/errs"
	"github.com/petreltrade/petrel/internal/exchange"
	"github.com/petreltrade/petrel/internal/schema"
)

// Options configures the fake exchange.
type Options struct {
	Environment schema.Environment
	// CanTrade mirrors the venue account flag; false simulates a
	// read-only credential.
	CanTrade bool
	// Balances seeds the balance sheet. Defaults to a funded USDT
	// testnet account.
	Balances []schema.BalanceSnapshot
	// Filters seeds the symbol filter cache.
	Filters []schema.SymbolFilters
	// RestOrders makes limit orders acknowledge as NEW instead of filling
	// immediately.
	RestOrders bool
	// Clock overrides time.Now for deterministic records.
	Clock func() time.Time
}

// Exchange implements exchange.StreamingClient entirely in memory.
type Exchange struct {
	opts  Options
	clock func() time.Time

	mu      sync.Mutex
	orders  map[string]schema.ProviderState // keyed by client reference
	nextID  int64
	scripts scripts

	placeCalls  atomic.Int64
	queryCalls  atomic.Int64
	cancelCalls atomic.Int64

	streamMu sync.Mutex
	streams  []chan schema.ProviderState
}

type scripts struct {
	ping    []error
	account []error
	place   []error
	query   []error
	cancel  []error
	balance []error
}

// New builds a fake exchange.
func New(opts Options) *Exchange {
	if opts.Environment == "" {
		opts.Environment = schema.EnvTestnet
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	if opts.Balances == nil {
		opts.Balances = []schema.BalanceSnapshot{{
			Asset:     "USDT",
			Available: decimal.NewFromInt(10000),
			Total:     decimal.NewFromInt(10000),
		}}
	}
	return &Exchange{
		opts:   opts,
		clock:  clock,
		orders: make(map[string]schema.ProviderState),
		nextID: 1000,
	}
}

// Name implements exchange.Client.
func (e *Exchange) Name() string { return "fake" }

// Environment implements exchange.Client.
func (e *Exchange) Environment() schema.Environment { return e.opts.Environment }

// FailNextPing scripts an error for the next Ping call. Scripted errors are
// consumed in order, one per call.
func (e *Exchange) FailNextPing(err error) { e.script(&e.scripts.ping, err) }

// FailNextAccount scripts an error for the next Account call.
func (e *Exchange) FailNextAccount(err error) { e.script(&e.scripts.account, err) }

// FailNextPlace scripts an error for the next PlaceOrder call.
func (e *Exchange) FailNextPlace(err error) { e.script(&e.scripts.place, err) }

// FailNextQuery scripts an error for the next QueryOrder call.
func (e *Exchange) FailNextQuery(err error) { e.script(&e.scripts.query, err) }

// FailNextCancel scripts an error for the next CancelOrder call.
func (e *Exchange) FailNextCancel(err error) { e.script(&e.scripts.cancel, err) }

// FailNextBalances scripts an error for the next QueryBalances call.
func (e *Exchange) FailNextBalances(err error) { e.script(&e.scripts.balance, err) }

func (e *Exchange) script(queue *[]error, err error) {
	e.mu.Lock()
	*queue = append(*queue, err)
	e.mu.Unlock()
}

func (e *Exchange) nextScripted(queue *[]error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

// PlaceCalls reports how many PlaceOrder calls reached the venue. Used to
// assert that rejected requests never left the client.
func (e *Exchange) PlaceCalls() int64 { return e.placeCalls.Load() }

// QueryCalls reports how many QueryOrder calls reached the venue.
func (e *Exchange) QueryCalls() int64 { return e.queryCalls.Load() }

// CancelCalls reports how many CancelOrder calls reached the venue.
func (e *Exchange) CancelCalls() int64 { return e.cancelCalls.Load() }

// Ping implements exchange.Client with a zero clock offset.
func (e *Exchange) Ping(context.Context) (time.Duration, error) {
	if err := e.nextScripted(&e.scripts.ping); err != nil {
		return 0, err
	}
	return 0, nil
}

// Account implements exchange.Client.
func (e *Exchange) Account(context.Context) (exchange.AccountInfo, error) {
	if err := e.nextScripted(&e.scripts.account); err != nil {
		return exchange.AccountInfo{}, err
	}
	return exchange.AccountInfo{CanTrade: e.opts.CanTrade, UpdatedAt: e.clock().UTC()}, nil
}

// LoadFilters implements exchange.Client as a no-op; filters come from Options.
func (e *Exchange) LoadFilters(context.Context) error { return nil }

// Filters implements exchange.Client.
func (e *Exchange) Filters(symbol string) (schema.SymbolFilters, bool) {
	for _, f := range e.opts.Filters {
		if f.Symbol == symbol {
			return f, true
		}
	}
	return schema.SymbolFilters{}, false
}

// PlaceOrder implements exchange.Client. Market orders fill immediately at
// the limit-free reference price; limit orders fill immediately unless
// RestOrders is set.
func (e *Exchange) PlaceOrder(_ context.Context, intent exchange.OrderIntent) (schema.ProviderState, error) {
	e.placeCalls.Add(1)
	if err := e.nextScripted(&e.scripts.place); err != nil {
		return schema.ProviderState{}, err
	}

	e.mu.Lock()
	if existing, ok := e.orders[intent.ClientRef]; ok {
		// Duplicate client reference: the venue is idempotent.
		e.mu.Unlock()
		return existing, nil
	}
	e.nextID++
	id := e.nextID
	now := e.clock().UTC()

	state := schema.ProviderState{
		Status:          schema.ProviderNew,
		ExchangeOrderID: strconv.FormatInt(id, 10),
		ClientRef:       intent.ClientRef,
		UpdatedAt:       now,
	}
	fill := intent.Request.Type == schema.OrderTypeMarket || !e.opts.RestOrders
	if fill {
		state.Status = schema.ProviderFilled
		state.ExecutedQty = intent.Request.Quantity
		state.AvgPrice = e.fillPrice(intent.Request)
	}
	e.orders[intent.ClientRef] = state
	e.mu.Unlock()

	e.broadcast(state)
	return state, nil
}

func (e *Exchange) fillPrice(req schema.OrderRequest) decimal.Decimal {
	if req.Type == schema.OrderTypeLimit {
		return req.LimitPrice
	}
	return decimal.NewFromInt(100)
}

// QueryOrder implements exchange.Client.
func (e *Exchange) QueryOrder(_ context.Context, query exchange.OrderQuery) (schema.ProviderState, error) {
	e.queryCalls.Add(1)
	if err := e.nextScripted(&e.scripts.query); err != nil {
		return schema.ProviderState{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.lookupLocked(query)
	if !ok {
		return schema.ProviderState{}, errs.New(errs.KindNotFound,
			errs.WithMessage("order does not exist"))
	}
	return state, nil
}

// CancelOrder implements exchange.Client. Terminal orders cannot be cancelled.
func (e *Exchange) CancelOrder(_ context.Context, query exchange.OrderQuery) (schema.ProviderState, error) {
	e.cancelCalls.Add(1)
	if err := e.nextScripted(&e.scripts.cancel); err != nil {
		return schema.ProviderState{}, err
	}
	e.mu.Lock()
	state, ok := e.lookupLocked(query)
	if !ok {
		e.mu.Unlock()
		return schema.ProviderState{}, errs.New(errs.KindNotFound,
			errs.WithMessage("order does not exist"))
	}
	if state.Status.OrderState().Terminal() {
		e.mu.Unlock()
		return schema.ProviderState{}, errs.New(errs.KindProvider,
			errs.WithRawCode("-2011"), errs.WithRawMessage("Order already closed."))
	}
	state.Status = schema.ProviderCanceled
	state.UpdatedAt = e.clock().UTC()
	e.orders[state.ClientRef] = state
	e.mu.Unlock()

	e.broadcast(state)
	return state, nil
}

func (e *Exchange) lookupLocked(query exchange.OrderQuery) (schema.ProviderState, bool) {
	if query.ClientRef != "" {
		if state, ok := e.orders[query.ClientRef]; ok {
			return state, true
		}
	}
	if query.ExchangeOrderID != "" {
		for _, state := range e.orders {
			if state.ExchangeOrderID == query.ExchangeOrderID {
				return state, true
			}
		}
	}
	return schema.ProviderState{}, false
}

// SetOrderState overwrites the venue-side state for a client reference, used
// to script out-of-band transitions like fills while the client was away.
func (e *Exchange) SetOrderState(state schema.ProviderState) {
	e.mu.Lock()
	e.orders[state.ClientRef] = state
	e.mu.Unlock()
	e.broadcast(state)
}

// QueryBalances implements exchange.Client.
func (e *Exchange) QueryBalances(context.Context) ([]schema.BalanceSnapshot, error) {
	if err := e.nextScripted(&e.scripts.balance); err != nil {
		return nil, err
	}
	now := e.clock().UTC()
	out := make([]schema.BalanceSnapshot, len(e.opts.Balances))
	for i, b := range e.opts.Balances {
		b.Timestamp = now
		out[i] = b
	}
	return out, nil
}

// StreamOrderUpdates implements exchange.StreamingClient. Every order state
// change is broadcast to all open streams.
func (e *Exchange) StreamOrderUpdates(ctx context.Context) (<-chan schema.ProviderState, error) {
	updates := make(chan schema.ProviderState, 32)
	e.streamMu.Lock()
	e.streams = append(e.streams, updates)
	e.streamMu.Unlock()

	go func() {
		<-ctx.Done()
		e.streamMu.Lock()
		for i, ch := range e.streams {
			if ch == updates {
				e.streams = append(e.streams[:i], e.streams[i+1:]...)
				break
			}
		}
		e.streamMu.Unlock()
		close(updates)
	}()
	return updates, nil
}

func (e *Exchange) broadcast(state schema.ProviderState) {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()
	for _, ch := range e.streams {
		select {
		case ch <- state:
		default:
		}
	}
}
