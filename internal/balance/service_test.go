package balance

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/petreltrade/petrel/errs"
	"github.com/petreltrade/petrel/internal/audit"
	"github.com/petreltrade/petrel/internal/credential"
	"github.com/petreltrade/petrel/internal/exchange/fake"
	"github.com/petreltrade/petrel/internal/schema"
	"github.com/petreltrade/petrel/internal/session"
)

func activeSession(t *testing.T, venue *fake.Exchange) *session.Session {
	t.Helper()
	creds, err := credential.New("balance-api-key", "balance-secret", schema.EnvTestnet)
	if err != nil {
		t.Fatalf("credential.New: %v", err)
	}
	sess, err := session.NewManager(venue, nil).Activate(context.Background(), creds)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	return sess
}

func TestSnapshotReturnsHeldBalance(t *testing.T) {
	venue := fake.New(fake.Options{
		CanTrade: true,
		Balances: []schema.BalanceSnapshot{
			{Asset: "USDT", Available: decimal.NewFromInt(1200), Total: decimal.NewFromInt(1500)},
			{Asset: "BNB", Available: decimal.Zero, Total: decimal.Zero},
		},
	})
	sess := activeSession(t, venue)
	sink := audit.NewMemorySink()
	svc := NewService(sink)

	snapshot, err := svc.Snapshot(context.Background(), sess, "usdt")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot.Asset != "USDT" || !snapshot.Available.Equal(decimal.NewFromInt(1200)) {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	if n := len(sink.OfType(audit.EventBalanceQueried)); n != 1 {
		t.Fatalf("balance events = %d, want 1", n)
	}
}

func TestSnapshotZeroBalanceIsNotAnError(t *testing.T) {
	venue := fake.New(fake.Options{
		CanTrade: true,
		Balances: []schema.BalanceSnapshot{
			{Asset: "BNB", Available: decimal.Zero, Total: decimal.Zero},
		},
	})
	sess := activeSession(t, venue)
	svc := NewService(nil)

	snapshot, err := svc.Snapshot(context.Background(), sess, "BNB")
	if err != nil {
		t.Fatalf("zero balance must not fail: %v", err)
	}
	if !snapshot.Total.IsZero() || !snapshot.Available.IsZero() {
		t.Fatalf("snapshot = %+v", snapshot)
	}
}

func TestSnapshotUnrecognizedAsset(t *testing.T) {
	venue := fake.New(fake.Options{CanTrade: true})
	sess := activeSession(t, venue)
	svc := NewService(nil)

	_, err := svc.Snapshot(context.Background(), sess, "DOGEPERP")
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("err = %v, want not_found", err)
	}
}

func TestSnapshotsOneRoundTrip(t *testing.T) {
	venue := fake.New(fake.Options{
		CanTrade: true,
		Balances: []schema.BalanceSnapshot{
			{Asset: "USDT", Available: decimal.NewFromInt(100), Total: decimal.NewFromInt(100)},
			{Asset: "BTC", Available: decimal.NewFromInt(1), Total: decimal.NewFromInt(2)},
		},
	})
	sess := activeSession(t, venue)
	svc := NewService(nil)

	snapshots, err := svc.Snapshots(context.Background(), sess, "USDT", "BTC")
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snapshots))
	}
	if !snapshots["BTC"].Total.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("BTC total = %s", snapshots["BTC"].Total)
	}
}

func TestSnapshotConnectionFailure(t *testing.T) {
	venue := fake.New(fake.Options{CanTrade: true})
	sess := activeSession(t, venue)
	venue.FailNextBalances(errs.New(errs.KindConnection, errs.WithMessage("venue unreachable")))
	svc := NewService(nil)

	_, err := svc.Snapshot(context.Background(), sess, "USDT")
	if !errs.IsKind(err, errs.KindConnection) {
		t.Fatalf("err = %v, want connection", err)
	}
}
