// Package audit defines the append-only event sink the core reports to. The
// core owns the event vocabulary; sinks own their storage format. Appends are
// atomic per event so concurrent controllers never interleave.
package audit

import (
	"context"
	"sort"
	"time"
)

// EventType names one audit event category.
type EventType string

const (
	// EventSessionActivated records a successful session activation.
	EventSessionActivated EventType = "SessionActivated"
	// EventSessionFailed records a failed activation attempt.
	EventSessionFailed EventType = "SessionFailed"
	// EventSessionDeactivated records an explicit deactivation.
	EventSessionDeactivated EventType = "SessionDeactivated"
	// EventOrderSubmitted records an order reaching the venue boundary.
	EventOrderSubmitted EventType = "OrderSubmitted"
	// EventOrderStateChanged records one lifecycle state transition.
	EventOrderStateChanged EventType = "OrderStateChanged"
	// EventOrderSubmitAmbiguous records a submission whose outcome could
	// not be confirmed; the order may exist on the venue.
	EventOrderSubmitAmbiguous EventType = "OrderSubmitAmbiguous"
	// EventBalanceQueried records a balance read.
	EventBalanceQueried EventType = "BalanceQueried"
)

// Event is one structured audit record. Fields hold flat string values only;
// event constructors are responsible for never placing secrets there.
type Event struct {
	Type      EventType         `json:"type"`
	ClientRef string            `json:"clientRef,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewEvent builds an event stamped with the given time.
func NewEvent(eventType EventType, ts time.Time, clientRef string, fields map[string]string) Event {
	return Event{Type: eventType, ClientRef: clientRef, Fields: fields, Timestamp: ts.UTC()}
}

// FieldKeys returns the sorted field names, mainly for deterministic tests.
func (e Event) FieldKeys() []string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sink receives audit events in order. Implementations must make each append
// atomic with respect to concurrent callers.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Discard is a Sink that drops every event.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Append(context.Context, Event) error { return nil }

// MultiSink fans every event out to each underlying sink, stopping at the
// first failure.
type MultiSink []Sink

// Append implements Sink.
func (m MultiSink) Append(ctx context.Context, event Event) error {
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Append(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
