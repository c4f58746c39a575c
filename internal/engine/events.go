package engine

import "github.com/roach88/rxvault/internal/model"

// EventKind is the outcome an Event reports.
type EventKind string

const (
	// EventApplied: an inbound document changed the store.
	EventApplied EventKind = "applied"
	// EventSkipped: an inbound document was stale or shadowed by a
	// pending local change.
	EventSkipped EventKind = "skipped"
	// EventRejected: an inbound document broke an invariant and was
	// recorded for review.
	EventRejected EventKind = "rejected"
	// EventPushed: the mirror accepted an outbound delta.
	EventPushed EventKind = "pushed"
	// EventPushRejected: the mirror refused an outbound delta; it was
	// dropped from the outbox.
	EventPushRejected EventKind = "push_rejected"
	// EventDeferred: a push failed and the delta was rescheduled.
	EventDeferred EventKind = "deferred"
)

// Event is one sync outcome, stamped from the engine's logical clock.
type Event struct {
	Seq        int64            `json:"seq"`
	Kind       EventKind        `json:"kind"`
	Collection model.Collection `json:"collection"`
	ID         string           `json:"id"`
	Version    int64            `json:"version,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

func (e *Engine) publish(ev Event) {
	ev.Seq = e.clock.Next()
	select {
	case e.events <- ev:
	default:
		e.logger.Debug("sync event dropped", "kind", ev.Kind, "collection", ev.Collection, "id", ev.ID)
	}
}
