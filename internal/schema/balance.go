package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceSnapshot is a point-in-time view of one asset balance. Snapshots are
// always freshly fetched; the core never caches them across calls.
type BalanceSnapshot struct {
	Asset     string
	Available decimal.Decimal
	Total     decimal.Decimal
	Timestamp time.Time
}

// Permission is an API scope granted to a credential set.
type Permission string

const (
	// PermissionRead allows account and order queries.
	PermissionRead Permission = "Read"
	// PermissionTrade allows order placement and cancellation.
	PermissionTrade Permission = "Trade"
)

// PermissionSet is the scope set attached to an active session.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given scopes.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether the scope is present.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}
