package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"

	"github.com/petreltrade/petrel/internal/exchange"
	"github.com/petreltrade/petrel/internal/observability"
	"github.com/petreltrade/petrel/internal/schema"
	"github.com/petreltrade/petrel/internal/session"
)

// ReconcilerOptions configures the background reconciler.
type ReconcilerOptions struct {
	// Interval between reconciliation sweeps. Defaults to two seconds.
	Interval time.Duration
	// OnUpdate is invoked with each record whose state changed, and once
	// more when the record reaches a terminal state and is dropped.
	OnUpdate func(*schema.OrderRecord)
}

// Reconciler re-queries tracked non-terminal records until each reaches a
// terminal state. It recovers Unknown records once connectivity returns and
// consumes user-data stream hints when the adapter supports them. One
// reconciler serves one session.
type Reconciler struct {
	controller *Controller
	session    *session.Session
	interval   time.Duration
	onUpdate   func(*schema.OrderRecord)

	mu      sync.Mutex
	records map[string]*schema.OrderRecord

	wg     conc.WaitGroup
	cancel context.CancelFunc
}

// NewReconciler builds a reconciler over the controller and session.
func NewReconciler(controller *Controller, sess *session.Session, opts ReconcilerOptions) *Reconciler {
	interval := opts.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	onUpdate := opts.OnUpdate
	if onUpdate == nil {
		onUpdate = func(*schema.OrderRecord) {}
	}
	return &Reconciler{
		controller: controller,
		session:    sess,
		interval:   interval,
		onUpdate:   onUpdate,
		records:    make(map[string]*schema.OrderRecord),
	}
}

// Track adds a record to the reconciliation set. Terminal records are
// ignored. The reconciler keeps its own clone.
func (r *Reconciler) Track(record *schema.OrderRecord) {
	if record == nil || record.State.Terminal() {
		return
	}
	r.mu.Lock()
	r.records[record.ClientRef] = record.Clone()
	r.mu.Unlock()
}

// Tracked reports how many records are still being reconciled.
func (r *Reconciler) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Start launches the polling sweep and, when the adapter streams, the
// user-data consumer. Stop or ctx cancellation ends both.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Go(func() { r.runPoller(ctx) })
	if streamer, ok := r.session.Client().(exchange.StreamingClient); ok {
		r.wg.Go(func() { r.runStream(ctx, streamer) })
	}
}

// Stop cancels the loops and waits for them to finish.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Reconciler) runPoller(ctx context.Context) {
	backoffCfg := backoff.NewExponentialBackOff()
	wait := r.interval
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if r.sweep(ctx) {
			backoffCfg.Reset()
			wait = r.interval
		} else {
			// Venue unreachable: widen the gap instead of hammering.
			wait = backoffCfg.NextBackOff()
		}
	}
}

// sweep refreshes every tracked record once. Returns false when any refresh
// hit a transport failure.
func (r *Reconciler) sweep(ctx context.Context) bool {
	r.mu.Lock()
	pending := make([]*schema.OrderRecord, 0, len(r.records))
	for _, record := range r.records {
		pending = append(pending, record)
	}
	r.mu.Unlock()

	healthy := true
	for _, record := range pending {
		updated, err := r.controller.Refresh(ctx, r.session, record)
		if err != nil {
			healthy = false
			observability.Log().Debug("reconcile refresh failed",
				observability.F("client_ref", record.ClientRef),
				observability.F("error", err.Error()),
			)
			continue
		}
		r.absorb(updated, record.State)
	}
	return healthy
}

func (r *Reconciler) runStream(ctx context.Context, streamer exchange.StreamingClient) {
	backoffCfg := backoff.NewExponentialBackOff()
	for {
		updates, err := streamer.StreamOrderUpdates(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			observability.Log().Error("order update stream",
				observability.F("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoffCfg.NextBackOff()):
			}
			continue
		}
		backoffCfg.Reset()
		for state := range updates {
			r.applyHint(ctx, state)
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// applyHint folds a pushed venue state into the matching tracked record.
// Unmatched references are ignored; the poll sweep remains authoritative.
func (r *Reconciler) applyHint(ctx context.Context, state schema.ProviderState) {
	r.mu.Lock()
	record, ok := r.records[state.ClientRef]
	r.mu.Unlock()
	if !ok {
		return
	}
	updated := r.controller.ApplyUpdate(ctx, record, state)
	r.absorb(updated, record.State)
}

func (r *Reconciler) absorb(updated *schema.OrderRecord, previous schema.OrderState) {
	if updated == nil {
		return
	}
	r.mu.Lock()
	if updated.State.Terminal() {
		delete(r.records, updated.ClientRef)
	} else {
		r.records[updated.ClientRef] = updated.Clone()
	}
	r.mu.Unlock()
	if updated.State != previous {
		r.onUpdate(updated.Clone())
	}
}
