// Package balance implements the read-through balance query service. Nothing
// is cached: every query is one adapter round trip.
package balance

import (
	"context"
	"strings"
	"time"

	"github.com/petreltrade/petrel/errs"
	"github.com/petreltrade/petrel/internal/audit"
	"github.com/petreltrade/petrel/internal/schema"
	"github.com/petreltrade/petrel/internal/session"
)

// Service queries balances through an active session.
type Service struct {
	sink  audit.Sink
	clock func() time.Time
}

// NewService builds a balance service. A nil sink discards audit events.
func NewService(sink audit.Sink) *Service {
	if sink == nil {
		sink = audit.Discard
	}
	return &Service{sink: sink, clock: time.Now}
}

// Snapshot returns the balance for one asset. An asset the account holds at
// zero is a valid zero snapshot; an asset the venue does not list at all is a
// not_found error. Transport failures surface as connection errors and are
// safe to retry.
func (s *Service) Snapshot(ctx context.Context, sess *session.Session, asset string) (schema.BalanceSnapshot, error) {
	snapshots, err := s.Snapshots(ctx, sess, asset)
	if err != nil {
		return schema.BalanceSnapshot{}, err
	}
	return snapshots[normalizeAsset(asset)], nil
}

// Snapshots returns balances for the given assets in a single adapter round
// trip, keyed by asset. Any asset the venue does not recognize fails the
// whole call with a not_found error naming it.
func (s *Service) Snapshots(ctx context.Context, sess *session.Session, assets ...string) (map[string]schema.BalanceSnapshot, error) {
	if err := sess.Require(schema.PermissionRead); err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, errs.New(errs.KindValidation, errs.WithField("asset"),
			errs.WithMessage("at least one asset is required"))
	}

	all, err := sess.Client().QueryBalances(ctx)
	if err != nil {
		return nil, err
	}
	held := make(map[string]schema.BalanceSnapshot, len(all))
	for _, snapshot := range all {
		held[normalizeAsset(snapshot.Asset)] = snapshot
	}

	now := s.clock().UTC()
	out := make(map[string]schema.BalanceSnapshot, len(assets))
	for _, raw := range assets {
		asset := normalizeAsset(raw)
		if asset == "" {
			return nil, errs.New(errs.KindValidation, errs.WithField("asset"),
				errs.WithMessage("asset must not be empty"))
		}
		snapshot, ok := held[asset]
		if !ok {
			return nil, errs.New(errs.KindNotFound, errs.WithField("asset"),
				errs.WithMessage("asset "+asset+" is not recognized by the venue"))
		}
		out[asset] = snapshot
		_ = s.sink.Append(ctx, audit.NewEvent(audit.EventBalanceQueried, now, "", map[string]string{
			"asset":     asset,
			"available": snapshot.Available.String(),
			"total":     snapshot.Total.String(),
		}))
	}
	return out, nil
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
