package billing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// EVENTS - Published after the owning transaction commits
// =============================================================================

type EventType string

const (
	EventCreated  EventType = "obligation.created"
	EventPaid     EventType = "obligation.paid"
	EventOverdue  EventType = "obligation.overdue"
	EventDisputed EventType = "obligation.disputed"
	EventRefunded EventType = "obligation.refunded"
)

type Event struct {
	Type       EventType
	Obligation Obligation
	At         time.Time
}

// EventSink receives obligation events. Publish must not fail the caller's
// operation; the write is already committed when it runs.
type EventSink interface {
	Publish(ctx context.Context, e Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) {}

// LogSink writes events to a structured logger.
type LogSink struct {
	Log *zap.SugaredLogger
}

func (s LogSink) Publish(_ context.Context, e Event) {
	s.Log.Infow("obligation event",
		"event", e.Type,
		"obligation_id", e.Obligation.ID,
		"number", e.Obligation.Number,
		"franchise_id", e.Obligation.FranchiseID,
		"unit_id", e.Obligation.UnitID,
		"total", e.Obligation.Total.StringFixed(CurrencyPlaces),
		"status", e.Obligation.Status,
	)
}

// MultiSink fans an event out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, e Event) {
	for _, s := range m {
		s.Publish(ctx, e)
	}
}

// RecordingSink keeps events in memory. Useful in tests and demos.
type RecordingSink struct {
	mu     sync.Mutex
	Events []Event
}

func (r *RecordingSink) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, e)
}

// Types returns the recorded event types in order.
func (r *RecordingSink) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Type
	}
	return out
}
