// Package session manages the authenticated handle the rest of the core
// operates through. A session exists only after a successful signed round
// trip confirmed the credential's scopes; there is no partially connected
// state.
package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/petreltrade/petrel/errs"
	"github.com/petreltrade/petrel/internal/audit"
	"github.com/petreltrade/petrel/internal/credential"
	"github.com/petreltrade/petrel/internal/exchange"
	"github.com/petreltrade/petrel/internal/observability"
	"github.com/petreltrade/petrel/internal/schema"
)

// Manager activates and deactivates sessions against one venue adapter.
type Manager struct {
	client exchange.Client
	sink   audit.Sink
	clock  func() time.Time

	// AllowProduction unlocks production credentials. Off by default;
	// activation against production is refused mechanically without it.
	AllowProduction bool
}

// NewManager builds a manager over the adapter, emitting audit events to
// sink. A nil sink discards events.
func NewManager(client exchange.Client, sink audit.Sink) *Manager {
	if sink == nil {
		sink = audit.Discard
	}
	return &Manager{client: client, sink: sink, clock: time.Now}
}

// Session is the authenticated handle. It is immutable except for the
// active flag, which only Deactivate clears.
type Session struct {
	creds       *credential.Store
	client      exchange.Client
	permissions schema.PermissionSet
	timeOffset  time.Duration
	activatedAt time.Time

	active atomic.Bool
	sink   audit.Sink
	clock  func() time.Time
}

// Activate verifies connectivity and scope with two calls: an unauthenticated
// server-time ping, then a signed account query. Both scopes must be present;
// a read-only key fails with a permission error naming the Trade scope and no
// session is returned. Network failures are reported, never retried here.
func (m *Manager) Activate(ctx context.Context, creds *credential.Store) (*Session, error) {
	if creds == nil {
		return nil, errs.New(errs.KindValidation, errs.WithField("credentials"),
			errs.WithMessage("credentials are required"))
	}
	if creds.Environment() == schema.EnvProduction && !m.AllowProduction {
		err := errs.New(errs.KindPermission, errs.WithField("environment"),
			errs.WithMessage("production credentials are locked; set allowProduction to proceed"))
		m.auditFailure(ctx, creds, err)
		return nil, err
	}

	offset, err := m.client.Ping(ctx)
	if err != nil {
		m.auditFailure(ctx, creds, err)
		return nil, err
	}

	info, err := m.client.Account(ctx)
	if err != nil {
		m.auditFailure(ctx, creds, err)
		return nil, err
	}
	// The signed account call succeeding proves the Read scope.
	perms := schema.NewPermissionSet(schema.PermissionRead)
	if info.CanTrade {
		perms[schema.PermissionTrade] = struct{}{}
	} else {
		err := errs.New(errs.KindPermission, errs.WithField("scope"),
			errs.WithMessage("credential lacks the Trade scope"))
		m.auditFailure(ctx, creds, err)
		return nil, err
	}

	// Filter warmup is best effort; validation simply has less to check
	// when the venue metadata is unavailable.
	if err := m.client.LoadFilters(ctx); err != nil {
		observability.Log().Info("symbol filter warmup failed",
			observability.F("error", err.Error()))
	}

	s := &Session{
		creds:       creds,
		client:      m.client,
		permissions: perms,
		timeOffset:  offset,
		activatedAt: m.clock().UTC(),
		sink:        m.sink,
		clock:       m.clock,
	}
	s.active.Store(true)

	_ = m.sink.Append(ctx, audit.NewEvent(audit.EventSessionActivated, m.clock().UTC(), "", map[string]string{
		"environment": string(creds.Environment()),
		"credential":  creds.Redacted(),
		"venue":       m.client.Name(),
		"time_offset": offset.String(),
	}))
	observability.Log().Info("session activated",
		observability.F("venue", m.client.Name()),
		observability.F("environment", string(creds.Environment())),
		observability.F("credential", creds.Redacted()),
	)
	return s, nil
}

func (m *Manager) auditFailure(ctx context.Context, creds *credential.Store, cause error) {
	_ = m.sink.Append(ctx, audit.NewEvent(audit.EventSessionFailed, m.clock().UTC(), "", map[string]string{
		"environment": string(creds.Environment()),
		"credential":  creds.Redacted(),
		"venue":       m.client.Name(),
		"error_kind":  string(errs.KindOf(cause)),
		"error":       cause.Error(),
	}))
}

// Deactivate marks the session disconnected. Idempotent: only the first call
// emits the audit event.
func (s *Session) Deactivate(ctx context.Context) {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	_ = s.sink.Append(ctx, audit.NewEvent(audit.EventSessionDeactivated, s.clock().UTC(), "", map[string]string{
		"environment": string(s.creds.Environment()),
		"credential":  s.creds.Redacted(),
	}))
}

// Active reports whether the session is still connected.
func (s *Session) Active() bool { return s.active.Load() }

// Client exposes the adapter for core components holding this session.
func (s *Session) Client() exchange.Client { return s.client }

// Environment reports which deployment the session is bound to.
func (s *Session) Environment() schema.Environment { return s.creds.Environment() }

// Credential returns the redacted credential identifier for diagnostics.
func (s *Session) Credential() string { return s.creds.Redacted() }

// ServerTimeOffset is venue clock minus local clock, measured at activation.
func (s *Session) ServerTimeOffset() time.Duration { return s.timeOffset }

// ActivatedAt reports when the session was established.
func (s *Session) ActivatedAt() time.Time { return s.activatedAt }

// Permissions returns the confirmed scope set.
func (s *Session) Permissions() schema.PermissionSet { return s.permissions }

// Require fails with a permission error naming the scope when the session is
// inactive or the scope was not granted.
func (s *Session) Require(perm schema.Permission) error {
	if !s.active.Load() {
		return errs.New(errs.KindPermission,
			errs.WithMessage("session is deactivated"))
	}
	if !s.permissions.Has(perm) {
		return errs.New(errs.KindPermission, errs.WithField("scope"),
			errs.WithMessage("session lacks the "+string(perm)+" scope"))
	}
	return nil
}
