// Package lifecycle implements the order lifecycle controller: local
// validation, submission, reconciliation, and cancellation of orders against
// an active session. Records are caller-owned values; every operation returns
// an updated copy and never mutates its input.
package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/petreltrade/petrel/errs"
	"github.com/petreltrade/petrel/internal/audit"
	"github.com/petreltrade/petrel/internal/exchange"
	"github.com/petreltrade/petrel/internal/observability"
	"github.com/petreltrade/petrel/internal/schema"
	"github.com/petreltrade/petrel/internal/session"
)

// Options configures a Controller.
type Options struct {
	// Sink receives audit events. Nil discards them.
	Sink audit.Sink
	// Clock overrides time.Now, used by tests.
	Clock func() time.Time
	// NewRef overrides client reference generation, used by tests.
	NewRef func() string
}

// Controller drives order records through the lifecycle state machine.
type Controller struct {
	sink    audit.Sink
	clock   func() time.Time
	newRef  func() string
	metrics *controllerMetrics
}

// NewController builds a controller. Client references are UUIDs, which fit
// the venue's client order id limit and double as idempotency tokens.
func NewController(opts Options) *Controller {
	sink := opts.Sink
	if sink == nil {
		sink = audit.Discard
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	newRef := opts.NewRef
	if newRef == nil {
		newRef = uuid.NewString
	}
	return &Controller{sink: sink, clock: clock, newRef: newRef, metrics: newControllerMetrics()}
}

// Submit validates the request locally, then places it on the venue. The
// returned record is always usable:
//   - validation and permission failures return an error and no record, and
//     never touch the network;
//   - a definitive venue rejection returns the record in Rejected state
//     together with the provider error, reason captured verbatim;
//   - a transport failure returns the record in Unknown state with a nil
//     error, because the venue may have accepted the order. Callers must
//     reconcile via Refresh instead of assuming failure.
func (c *Controller) Submit(ctx context.Context, sess *session.Session, req schema.OrderRequest) (*schema.OrderRecord, error) {
	if err := sess.Require(schema.PermissionTrade); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	client := sess.Client()
	if filters, ok := client.Filters(req.Symbol); ok {
		if err := filters.Check(req); err != nil {
			return nil, err
		}
	}

	now := c.clock().UTC()
	record := &schema.OrderRecord{
		ClientRef: c.newRef(),
		Request:   req,
		State:     schema.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_ = c.sink.Append(ctx, audit.NewEvent(audit.EventOrderSubmitted, now, record.ClientRef, map[string]string{
		"symbol":   req.Symbol,
		"side":     string(req.Side),
		"type":     string(req.Type),
		"quantity": req.Quantity.String(),
		"price":    req.LimitPrice.String(),
		"venue":    client.Name(),
	}))

	started := c.clock()
	state, err := client.PlaceOrder(ctx, exchange.OrderIntent{ClientRef: record.ClientRef, Request: req})
	c.metrics.recordSubmitLatency(ctx, req.Symbol, c.clock().Sub(started))

	switch {
	case err == nil:
		c.applyProviderState(ctx, record, state)
		c.metrics.recordSubmission(ctx, req.Symbol, "accepted")
		return record, nil
	case errs.IsKind(err, errs.KindConnection):
		// Ambiguous: the order may exist on the venue. Never resubmit
		// without reusing this record's client reference.
		record.LastError = schema.ErrorInfoFrom(err)
		c.transition(ctx, record, schema.StateUnknown, c.clock().UTC())
		_ = c.sink.Append(ctx, audit.NewEvent(audit.EventOrderSubmitAmbiguous, c.clock().UTC(), record.ClientRef, map[string]string{
			"symbol": req.Symbol,
			"error":  err.Error(),
		}))
		c.metrics.recordSubmission(ctx, req.Symbol, "ambiguous")
		observability.Log().Error("order submission ambiguous",
			observability.F("client_ref", record.ClientRef),
			observability.F("error", err.Error()),
		)
		return record, nil
	default:
		record.LastError = schema.ErrorInfoFrom(err)
		c.transition(ctx, record, schema.StateRejected, c.clock().UTC())
		c.metrics.recordSubmission(ctx, req.Symbol, "rejected")
		return record, err
	}
}

// Refresh re-queries the venue and reconciles the record. Terminal records
// are returned unchanged without a network call. A transport failure leaves
// the record untouched and returns it with the connection error; retrying is
// safe because the query mutates nothing.
func (c *Controller) Refresh(ctx context.Context, sess *session.Session, record *schema.OrderRecord) (*schema.OrderRecord, error) {
	if record == nil {
		return nil, errs.New(errs.KindValidation, errs.WithField("record"),
			errs.WithMessage("record is required"))
	}
	if err := sess.Require(schema.PermissionRead); err != nil {
		return record, err
	}
	if record.State.Terminal() {
		return record.Clone(), nil
	}

	updated := record.Clone()
	state, err := sess.Client().QueryOrder(ctx, exchange.OrderQuery{
		Symbol:          record.Request.Symbol,
		ExchangeOrderID: record.ExchangeOrderID,
		ClientRef:       record.ClientRef,
	})
	switch {
	case err == nil:
		c.applyProviderState(ctx, updated, state)
		return updated, nil
	case errs.IsKind(err, errs.KindNotFound) && record.ExchangeOrderID == "":
		// The venue has never seen the client reference: the lost
		// submission did not go through.
		updated.LastError = schema.ErrorInfoFrom(err)
		c.transition(ctx, updated, schema.StateRejected, c.clock().UTC())
		return updated, nil
	default:
		return updated, err
	}
}

// Cancel requests cancellation on the venue. Cancelling a terminal record is
// a no-op returning the record unchanged.
func (c *Controller) Cancel(ctx context.Context, sess *session.Session, record *schema.OrderRecord) (*schema.OrderRecord, error) {
	if record == nil {
		return nil, errs.New(errs.KindValidation, errs.WithField("record"),
			errs.WithMessage("record is required"))
	}
	if err := sess.Require(schema.PermissionTrade); err != nil {
		return record, err
	}
	if record.State.Terminal() {
		return record.Clone(), nil
	}

	updated := record.Clone()
	state, err := sess.Client().CancelOrder(ctx, exchange.OrderQuery{
		Symbol:          record.Request.Symbol,
		ExchangeOrderID: record.ExchangeOrderID,
		ClientRef:       record.ClientRef,
	})
	if err != nil {
		return updated, err
	}
	c.applyProviderState(ctx, updated, state)
	return updated, nil
}

// ApplyUpdate reconciles a venue-pushed state (user-data stream) into the
// record without a network call. Stale or backwards reports are ignored by
// the same monotonicity rules as Refresh.
func (c *Controller) ApplyUpdate(ctx context.Context, record *schema.OrderRecord, state schema.ProviderState) *schema.OrderRecord {
	if record == nil {
		return nil
	}
	updated := record.Clone()
	c.applyProviderState(ctx, updated, state)
	return updated
}

// applyProviderState folds the venue's view into the record, enforcing the
// state machine. Fill figures only ever grow; identifiers are set once.
func (c *Controller) applyProviderState(ctx context.Context, record *schema.OrderRecord, state schema.ProviderState) {
	ts := state.UpdatedAt
	if ts.IsZero() {
		ts = c.clock().UTC()
	}
	if record.ExchangeOrderID == "" && state.ExchangeOrderID != "" {
		record.ExchangeOrderID = state.ExchangeOrderID
	}
	if state.ExecutedQty.GreaterThan(record.FilledQuantity) {
		record.FilledQuantity = state.ExecutedQty
	}
	if state.AvgPrice.Sign() > 0 {
		record.AvgFillPrice = state.AvgPrice
	}
	if state.RejectReason != "" {
		record.LastError = &schema.ErrorInfo{Kind: errs.KindProvider, Message: state.RejectReason}
	}

	next := state.Status.OrderState()
	if next == record.State {
		record.UpdatedAt = ts
		return
	}

	// A fresh submission acknowledges through Submitted even when the fill
	// is immediate, so observers always see the full path.
	if record.State == schema.StatePending && next != schema.StateUnknown && next != schema.StateRejected {
		c.transition(ctx, record, schema.StateSubmitted, ts)
	}
	c.transition(ctx, record, next, ts)
}

// transition moves the record to next when the state machine allows it,
// emitting one OrderStateChanged event per hop.
func (c *Controller) transition(ctx context.Context, record *schema.OrderRecord, next schema.OrderState, ts time.Time) {
	if !record.State.CanTransition(next) {
		return
	}
	prev := record.State
	record.State = next
	record.UpdatedAt = ts
	_ = c.sink.Append(ctx, audit.NewEvent(audit.EventOrderStateChanged, ts, record.ClientRef, map[string]string{
		"symbol": record.Request.Symbol,
		"from":   string(prev),
		"to":     string(next),
	}))
	c.metrics.recordTransition(ctx, string(prev), string(next))
}
