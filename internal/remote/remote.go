// Package remote defines the contract between the sync engine and the
// remote mirror: versioned documents, anonymous identities and the client
// interface both transports implement.
//
// Every collection on the mirror is an append-only log. Each accepted
// write gets the next version in its collection, and listeners resume
// from the highest version they have seen.
package remote

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/roach88/rxvault/internal/model"
)

// SchemaVersion is the field layout version written into every document.
const SchemaVersion = 1

var (
	// ErrUnavailable means the mirror could not be reached or did not
	// answer in time. The caller may retry later.
	ErrUnavailable = errors.New("remote unavailable")

	// ErrUnauthenticated means the request lacked a valid identity.
	ErrUnauthenticated = errors.New("remote unauthenticated")

	// ErrRejected means the mirror refused the document outright. Retrying
	// the same document cannot succeed.
	ErrRejected = errors.New("remote rejected document")
)

// Document is one version of one entity on the mirror.
//
// Fields holds the canonical JSON of the entity's remote representation
// and is empty for deletes. Version is zero until the mirror assigns it.
type Document struct {
	Collection model.Collection `json:"collection"`
	ID         string           `json:"id"`
	Version    int64            `json:"version"`
	Schema     int              `json:"schema"`
	Deleted    bool             `json:"deleted,omitempty"`
	Fields     json.RawMessage  `json:"fields,omitempty"`
	Digest     string           `json:"digest"`
	Author     string           `json:"author,omitempty"`
}

// Identity is an anonymous session on the mirror.
type Identity struct {
	UID   string `json:"uid"`
	Token string `json:"token"`
}

// IsZero reports an identity that was never established.
func (i Identity) IsZero() bool {
	return i.UID == "" && i.Token == ""
}

// Client talks to the mirror.
//
// Implementations translate transport failures into ErrUnavailable,
// missing or expired credentials into ErrUnauthenticated and permanent
// refusals into ErrRejected, so callers can branch with errors.Is.
type Client interface {
	// Init checks that the mirror is reachable.
	Init(ctx context.Context) error

	// SignInAnonymously establishes an identity. A non-zero prior identity
	// is offered for reuse; the mirror returns it refreshed when still
	// valid and a new one otherwise.
	SignInAnonymously(ctx context.Context, prior Identity) (Identity, error)

	// Push appends doc to its collection and returns the version the
	// mirror assigned. Pushing a document identical to the latest version
	// returns that version without appending.
	Push(ctx context.Context, doc Document) (int64, error)

	// Listen attaches to a collection after version since. It fails when
	// the mirror refuses the subscription.
	Listen(ctx context.Context, c model.Collection, since int64) (Listener, error)
}

// Listener streams new versions of one collection.
type Listener interface {
	// Next blocks until documents newer than the last returned batch exist,
	// the mirror's wait window lapses (an empty batch) or ctx is done.
	// Batches are in version order.
	Next(ctx context.Context) ([]Document, error)

	Close() error
}
