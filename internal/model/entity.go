package model

import (
	"fmt"
	"time"
)

// Collection names one durable record set (local table, remote collection).
type Collection string

const (
	CollectionEmployees     Collection = "employees"
	CollectionPatients      Collection = "patients"
	CollectionMedicines     Collection = "medicines"
	CollectionPrescriptions Collection = "prescriptions"
	CollectionTagBindings   Collection = "tag_bindings"
)

// Collections lists every mirrored collection in dependency order.
// Sync listeners are attached in this order.
var Collections = []Collection{
	CollectionEmployees,
	CollectionPatients,
	CollectionMedicines,
	CollectionPrescriptions,
	CollectionTagBindings,
}

// ParseCollection validates a collection name.
func ParseCollection(s string) (Collection, error) {
	for _, c := range Collections {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown collection %q", s)
}

// Entity is the closed set of record types the store owns.
//
// Implementations are Employee, Patient, Medicine, Prescription and
// TagBinding. The unexported marker keeps the set closed so a switch over
// Entity is exhaustive.
type Entity interface {
	Collection() Collection
	EntityID() string

	// Fields returns the remote representation: JSON-tag keys mapped to
	// strings, int64s and bools only.
	Fields() map[string]any

	isEntity()
}

// Origin distinguishes writes issued on this device from writes applied
// on behalf of the remote mirror.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginRemote {
		return "remote"
	}
	return "local"
}

// setTime adds a timestamp field. Zero and nil times are omitted rather
// than encoded, since remote payloads carry no nulls.
func setTime(m map[string]any, key string, t time.Time) {
	if t.IsZero() {
		return
	}
	m[key] = t.UTC().Format(time.RFC3339Nano)
}

func setTimePtr(m map[string]any, key string, t *time.Time) {
	if t == nil {
		return
	}
	setTime(m, key, *t)
}
