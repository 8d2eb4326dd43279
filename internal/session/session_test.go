package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/petreltrade/petrel/errs"
	"github.com/petreltrade/petrel/internal/audit"
	"github.com/petreltrade/petrel/internal/credential"
	"github.com/petreltrade/petrel/internal/exchange/fake"
	"github.com/petreltrade/petrel/internal/schema"
)

const testSecret = "super-secret-value"

func testCreds(t *testing.T, env schema.Environment) *credential.Store {
	t.Helper()
	creds, err := credential.New("test-api-key-123456", testSecret, env)
	if err != nil {
		t.Fatalf("credential.New: %v", err)
	}
	return creds
}

func TestActivateGrantsBothScopes(t *testing.T) {
	venue := fake.New(fake.Options{CanTrade: true})
	sink := audit.NewMemorySink()
	mgr := NewManager(venue, sink)

	sess, err := mgr.Activate(context.Background(), testCreds(t, schema.EnvTestnet))
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !sess.Active() {
		t.Fatal("session not active")
	}
	if err := sess.Require(schema.PermissionRead); err != nil {
		t.Fatalf("Require(Read): %v", err)
	}
	if err := sess.Require(schema.PermissionTrade); err != nil {
		t.Fatalf("Require(Trade): %v", err)
	}

	events := sink.OfType(audit.EventSessionActivated)
	if len(events) != 1 {
		t.Fatalf("activation events = %d, want 1", len(events))
	}
	for _, value := range events[0].Fields {
		if strings.Contains(value, testSecret) {
			t.Fatal("audit event leaked the api secret")
		}
	}
}

func TestActivateReadOnlyKeyNamesTradeScope(t *testing.T) {
	venue := fake.New(fake.Options{CanTrade: false})
	sink := audit.NewMemorySink()
	mgr := NewManager(venue, sink)

	sess, err := mgr.Activate(context.Background(), testCreds(t, schema.EnvTestnet))
	if sess != nil {
		t.Fatal("no session must be returned for a read-only key")
	}
	if !errs.IsKind(err, errs.KindPermission) {
		t.Fatalf("err = %v, want permission", err)
	}
	if !strings.Contains(err.Error(), "Trade") {
		t.Fatalf("error must name the missing scope: %v", err)
	}
	if len(sink.OfType(audit.EventSessionFailed)) != 1 {
		t.Fatal("expected one SessionFailed event")
	}
}

func TestActivateConnectionFailure(t *testing.T) {
	venue := fake.New(fake.Options{CanTrade: true})
	venue.FailNextPing(errs.New(errs.KindConnection, errs.WithMessage("venue unreachable")))
	sink := audit.NewMemorySink()
	mgr := NewManager(venue, sink)

	_, err := mgr.Activate(context.Background(), testCreds(t, schema.EnvTestnet))
	if !errs.IsKind(err, errs.KindConnection) {
		t.Fatalf("err = %v, want connection", err)
	}
	events := sink.OfType(audit.EventSessionFailed)
	if len(events) != 1 {
		t.Fatalf("failure events = %d, want 1", len(events))
	}
	if events[0].Fields["error_kind"] != "connection" {
		t.Fatalf("error_kind = %q", events[0].Fields["error_kind"])
	}
}

func TestActivateRefusesLockedProduction(t *testing.T) {
	venue := fake.New(fake.Options{Environment: schema.EnvProduction, CanTrade: true})
	mgr := NewManager(venue, nil)

	_, err := mgr.Activate(context.Background(), testCreds(t, schema.EnvProduction))
	if !errs.IsKind(err, errs.KindPermission) {
		t.Fatalf("err = %v, want permission", err)
	}

	mgr.AllowProduction = true
	sess, err := mgr.Activate(context.Background(), testCreds(t, schema.EnvProduction))
	if err != nil {
		t.Fatalf("Activate with unlock: %v", err)
	}
	if sess.Environment() != schema.EnvProduction {
		t.Fatalf("environment = %s", sess.Environment())
	}
}

func TestDeactivateIsIdempotent(t *testing.T) {
	venue := fake.New(fake.Options{CanTrade: true})
	sink := audit.NewMemorySink()
	mgr := NewManager(venue, sink)

	sess, err := mgr.Activate(context.Background(), testCreds(t, schema.EnvTestnet))
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	sess.Deactivate(context.Background())
	sess.Deactivate(context.Background())

	if sess.Active() {
		t.Fatal("session still active")
	}
	if err := sess.Require(schema.PermissionRead); !errs.IsKind(err, errs.KindPermission) {
		t.Fatalf("Require on deactivated session = %v, want permission", err)
	}
	if n := len(sink.OfType(audit.EventSessionDeactivated)); n != 1 {
		t.Fatalf("deactivation events = %d, want 1", n)
	}
}

func TestServerTimeOffsetRecorded(t *testing.T) {
	venue := fake.New(fake.Options{CanTrade: true})
	mgr := NewManager(venue, nil)
	sess, err := mgr.Activate(context.Background(), testCreds(t, schema.EnvTestnet))
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if sess.ServerTimeOffset() != 0 {
		t.Fatalf("offset = %v, want 0 from the fake venue", sess.ServerTimeOffset())
	}
	if sess.ActivatedAt().After(time.Now().Add(time.Minute)) {
		t.Fatal("activation timestamp implausible")
	}
}
