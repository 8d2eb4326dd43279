// Package postgres persists audit events to a migration-managed journal
// table. The journal is append-only; rows are never updated or deleted by the
// application.
package postgres

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/petreltrade/petrel/internal/audit"
)

// Sink writes audit events into the audit_events table.
type Sink struct {
	pool *pgxpool.Pool
}

// NewSink constructs a Sink backed by the provided pool.
func NewSink(pool *pgxpool.Pool) *Sink {
	return &Sink{pool: pool}
}

const appendSQL = `
INSERT INTO audit_events (
    event_type,
    client_ref,
    fields,
    occurred_at,
    created_at
)
VALUES (
    @event_type,
    NULLIF(@client_ref, ''),
    @fields::jsonb,
    @occurred_at,
    NOW()
);
`

// Append implements audit.Sink. Each event maps to a single INSERT, so the
// journal never observes a partial event.
func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	fields := event.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode audit fields: %w", err)
	}
	args := pgx.NamedArgs{
		"event_type":  string(event.Type),
		"client_ref":  event.ClientRef,
		"fields":      string(payload),
		"occurred_at": event.Timestamp.UTC(),
	}
	if _, err := s.pool.Exec(ctx, appendSQL, args); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

const recentSQL = `
SELECT event_type, COALESCE(client_ref, ''), fields, occurred_at
FROM audit_events
ORDER BY id DESC
LIMIT @limit;
`

// Recent returns the newest events, most recent first.
func (s *Sink) Recent(ctx context.Context, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, recentSQL, pgx.NamedArgs{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			eventType  string
			clientRef  string
			fieldsJSON []byte
			occurredAt time.Time
		)
		if err := rows.Scan(&eventType, &clientRef, &fieldsJSON, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		var fields map[string]string
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &fields); err != nil {
				return nil, fmt.Errorf("decode audit fields: %w", err)
			}
		}
		out = append(out, audit.Event{
			Type:      audit.EventType(eventType),
			ClientRef: clientRef,
			Fields:    fields,
			Timestamp: occurredAt.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return out, nil
}
