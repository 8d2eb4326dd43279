// Package schema defines the canonical domain types shared across the Petrel
// core: order requests and records, lifecycle states, provider states, and
// balance snapshots.
package schema

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/petreltrade/petrel/errs"
)

// Environment tags which venue deployment a credential set belongs to.
type Environment string

const (
	// EnvTestnet targets the Binance futures testnet.
	EnvTestnet Environment = "testnet"
	// EnvProduction targets the production venue. Refused by session
	// activation unless explicitly unlocked in configuration.
	EnvProduction Environment = "production"
)

// Side is the order direction.
type Side string

const (
	// SideBuy opens or increases a long exposure.
	SideBuy Side = "BUY"
	// SideSell opens or increases a short exposure.
	SideSell Side = "SELL"
)

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	// OrderTypeMarket executes at the prevailing price.
	OrderTypeMarket OrderType = "MARKET"
	// OrderTypeLimit rests at the given limit price (GTC).
	OrderTypeLimit OrderType = "LIMIT"
)

// OrderState is the lifecycle state of a tracked order.
type OrderState string

const (
	// StatePending is the only initial state, before the venue has seen
	// the order.
	StatePending OrderState = "Pending"
	// StateSubmitted means the venue acknowledged receipt.
	StateSubmitted OrderState = "Submitted"
	// StatePartiallyFilled means part of the quantity has executed.
	StatePartiallyFilled OrderState = "PartiallyFilled"
	// StateFilled is terminal: the full quantity executed.
	StateFilled OrderState = "Filled"
	// StateCanceled is terminal: the venue confirmed cancellation.
	StateCanceled OrderState = "Canceled"
	// StateRejected is terminal: the venue refused the order.
	StateRejected OrderState = "Rejected"
	// StateUnknown marks an ambiguous outcome: the venue could not be
	// reached to confirm, so the order may or may not exist there.
	// Reconciliation via refresh resolves it in either direction.
	StateUnknown OrderState = "Unknown"
)

// Terminal reports whether no further transition is possible. StateUnknown is
// not terminal: it resolves once connectivity returns.
func (s OrderState) Terminal() bool {
	switch s {
	case StateFilled, StateCanceled, StateRejected:
		return true
	default:
		return false
	}
}

// rank orders the forward progression of non-terminal states so stale venue
// reports cannot move a record backwards.
func (s OrderState) rank() int {
	switch s {
	case StatePending:
		return 0
	case StateSubmitted:
		return 1
	case StatePartiallyFilled:
		return 2
	case StateFilled, StateCanceled, StateRejected:
		return 3
	default:
		return -1 // Unknown: transitions allowed in any direction
	}
}

// CanTransition reports whether moving from s to next respects the lifecycle
// state machine: terminal states never move, Unknown moves freely, and the
// remaining states only move forward.
func (s OrderState) CanTransition(next OrderState) bool {
	if s == next {
		return false
	}
	if s.Terminal() {
		return false
	}
	if s == StateUnknown || next == StateUnknown {
		return true
	}
	return next.rank() > s.rank()
}

// OrderRequest describes an order before submission. Quantity and LimitPrice
// use decimals; LimitPrice is meaningful only for limit orders.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Type       OrderType
	Quantity   decimal.Decimal
	LimitPrice decimal.Decimal
}

// Validate applies the local, pre-network invariants: symbol format, side and
// type membership, positive quantity, and a positive limit price present
// exactly when the order is a limit order. It returns a validation error
// naming the offending field.
func (r OrderRequest) Validate() error {
	if !validSymbol(r.Symbol) {
		return errs.New(errs.KindValidation, errs.WithField("symbol"),
			errs.WithMessage("symbol must be uppercase alphanumeric"))
	}
	switch r.Side {
	case SideBuy, SideSell:
	default:
		return errs.New(errs.KindValidation, errs.WithField("side"),
			errs.WithMessage("side must be BUY or SELL"))
	}
	switch r.Type {
	case OrderTypeMarket, OrderTypeLimit:
	default:
		return errs.New(errs.KindValidation, errs.WithField("type"),
			errs.WithMessage("type must be MARKET or LIMIT"))
	}
	if r.Quantity.Sign() <= 0 {
		return errs.New(errs.KindValidation, errs.WithField("quantity"),
			errs.WithMessage("quantity must be a positive decimal"))
	}
	if r.Type == OrderTypeLimit {
		if r.LimitPrice.Sign() <= 0 {
			return errs.New(errs.KindValidation, errs.WithField("limitPrice"),
				errs.WithMessage("limitPrice is required for limit orders"))
		}
	} else if r.LimitPrice.Sign() != 0 {
		return errs.New(errs.KindValidation, errs.WithField("limitPrice"),
			errs.WithMessage("limitPrice is only valid for limit orders"))
	}
	return nil
}

func validSymbol(symbol string) bool {
	if symbol == "" {
		return false
	}
	for _, r := range symbol {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// ErrorInfo preserves the classified reason attached to a record, most
// importantly the verbatim venue message for rejections and the connection
// failure behind an Unknown outcome.
type ErrorInfo struct {
	Kind    errs.Kind
	Message string
	RawCode string
}

// ErrorInfoFrom flattens an error into record-attachable form.
func ErrorInfoFrom(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Kind: errs.KindOf(err), Message: err.Error()}
	var e *errs.E
	if errors.As(err, &e) && e != nil {
		if display := e.Display(); display != "" {
			info.Message = display
		}
		info.RawCode = e.RawCode
	}
	return info
}

// OrderRecord tracks one submission from creation until the caller discards
// it. ExchangeOrderID is set once the venue acknowledges receipt and never
// changes afterwards. Records are owned by their caller: lifecycle operations
// return updated copies rather than mutating shared state.
type OrderRecord struct {
	ClientRef       string
	ExchangeOrderID string
	Request         OrderRequest
	State           OrderState
	FilledQuantity  decimal.Decimal
	AvgFillPrice    decimal.Decimal
	LastError       *ErrorInfo
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone returns an independent copy of the record.
func (r *OrderRecord) Clone() *OrderRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.LastError != nil {
		errCopy := *r.LastError
		out.LastError = &errCopy
	}
	return &out
}

// ProviderStatus is the venue's own status vocabulary after normalisation.
type ProviderStatus string

const (
	// ProviderNew corresponds to a resting acknowledged order.
	ProviderNew ProviderStatus = "NEW"
	// ProviderPartiallyFilled corresponds to a partially executed order.
	ProviderPartiallyFilled ProviderStatus = "PARTIALLY_FILLED"
	// ProviderFilled corresponds to a fully executed order.
	ProviderFilled ProviderStatus = "FILLED"
	// ProviderCanceled corresponds to a confirmed cancellation.
	ProviderCanceled ProviderStatus = "CANCELED"
	// ProviderRejected corresponds to a venue-side rejection.
	ProviderRejected ProviderStatus = "REJECTED"
	// ProviderExpired corresponds to a venue-side expiry.
	ProviderExpired ProviderStatus = "EXPIRED"
	// ProviderUnrecognized marks a status string outside the known
	// vocabulary. It never maps onto a terminal state.
	ProviderUnrecognized ProviderStatus = "UNRECOGNIZED"
)

// OrderState maps the provider vocabulary onto the lifecycle states in one
// place, so ambiguity is resolved exactly once at the adapter boundary.
func (p ProviderStatus) OrderState() OrderState {
	switch p {
	case ProviderNew:
		return StateSubmitted
	case ProviderPartiallyFilled:
		return StatePartiallyFilled
	case ProviderFilled:
		return StateFilled
	case ProviderCanceled, ProviderExpired:
		return StateCanceled
	case ProviderRejected:
		return StateRejected
	default:
		return StateUnknown
	}
}

// ParseProviderStatus normalises a raw venue status string.
func ParseProviderStatus(raw string) ProviderStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "NEW":
		return ProviderNew
	case "PARTIALLY_FILLED":
		return ProviderPartiallyFilled
	case "FILLED":
		return ProviderFilled
	case "CANCELED":
		return ProviderCanceled
	case "REJECTED":
		return ProviderRejected
	case "EXPIRED":
		return ProviderExpired
	default:
		return ProviderUnrecognized
	}
}

// ProviderState is the venue's view of one order, as returned by the adapter.
type ProviderState struct {
	Status          ProviderStatus
	ExchangeOrderID string
	ClientRef       string
	ExecutedQty     decimal.Decimal
	AvgPrice        decimal.Decimal
	RejectReason    string
	UpdatedAt       time.Time
}
