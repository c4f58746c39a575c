package model

import "time"

// Op is the kind of mutation a Delta carries.
type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// Delta is one outbound mutation staged in the store's outbox.
//
// Seq is assigned by the outbox and is strictly increasing; the sync
// pusher drains deltas in Seq order. Payload holds the canonical JSON of
// the entity's Fields for puts and is empty for deletes.
type Delta struct {
	Seq           int64      `db:"seq" json:"seq"`
	Collection    Collection `db:"collection" json:"collection"`
	EntityID      string     `db:"entity_id" json:"entity_id"`
	Op            Op         `db:"op" json:"op"`
	Payload       string     `db:"payload" json:"payload"`
	Attempts      int        `db:"attempts" json:"attempts"`
	NextAttemptAt time.Time  `db:"next_attempt_at" json:"next_attempt_at"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// NewPutDelta stages a put of e. Seq is filled in by the outbox.
func NewPutDelta(e Entity, at time.Time) (Delta, error) {
	payload, err := MarshalCanonical(e.Fields())
	if err != nil {
		return Delta{}, err
	}
	return Delta{
		Collection:    e.Collection(),
		EntityID:      e.EntityID(),
		Op:            OpPut,
		Payload:       string(payload),
		NextAttemptAt: at,
		CreatedAt:     at,
	}, nil
}

// NewDeleteDelta stages a delete of id in c.
func NewDeleteDelta(c Collection, id string, at time.Time) Delta {
	return Delta{
		Collection:    c,
		EntityID:      id,
		Op:            OpDelete,
		NextAttemptAt: at,
		CreatedAt:     at,
	}
}
