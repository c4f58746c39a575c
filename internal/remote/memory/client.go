// Package memory is an in-process remote.Client over a mirror log.
//
// It behaves like the HTTP mirror without a network and lets tests inject
// faults: an unreachable mirror, a failing sign-in, a number of failing
// pushes, or documents the mirror refuses.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/rxvault/internal/mirror"
	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/remote"
)

// DefaultWaitWindow is how long Next waits for new documents before
// returning an empty batch.
const DefaultWaitWindow = 100 * time.Millisecond

// Client is a remote.Client over a mirror.Log. Several clients sharing one
// log behave like devices sharing one mirror.
type Client struct {
	log        mirror.Log
	waitWindow time.Duration
	anonReads  bool

	mu         sync.Mutex
	down       bool
	failSignIn bool
	failPushes int
	rejected   map[string]bool
	tokens     map[string]string // token -> uid
	identity   remote.Identity
	pushes     int
}

var _ remote.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithAnonymousReads lets Listen succeed without an identity.
func WithAnonymousReads(allow bool) Option {
	return func(c *Client) {
		c.anonReads = allow
	}
}

// WithWaitWindow sets how long Next blocks on an empty collection.
func WithWaitWindow(d time.Duration) Option {
	return func(c *Client) {
		c.waitWindow = d
	}
}

// New creates a Client over log.
func New(log mirror.Log, opts ...Option) *Client {
	c := &Client{
		log:        log,
		waitWindow: DefaultWaitWindow,
		rejected:   make(map[string]bool),
		tokens:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetDown makes every call fail with remote.ErrUnavailable while down.
func (c *Client) SetDown(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = down
}

// FailSignIn makes SignInAnonymously fail with remote.ErrUnauthenticated.
func (c *Client) FailSignIn(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failSignIn = fail
}

// FailNextPushes makes the next n pushes fail with remote.ErrUnavailable.
func (c *Client) FailNextPushes(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failPushes = n
}

// Reject makes every push of collection/id fail with remote.ErrRejected.
func (c *Client) Reject(col model.Collection, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected[string(col)+"/"+id] = true
}

// Pushes returns how many pushes reached the log.
func (c *Client) Pushes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pushes
}

// Identity returns the identity established by the last sign-in.
func (c *Client) Identity() remote.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return fmt.Errorf("init: %w", remote.ErrUnavailable)
	}
	return ctx.Err()
}

func (c *Client) SignInAnonymously(_ context.Context, prior remote.Identity) (remote.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.down:
		return remote.Identity{}, fmt.Errorf("sign in: %w", remote.ErrUnavailable)
	case c.failSignIn:
		return remote.Identity{}, fmt.Errorf("sign in: %w", remote.ErrUnauthenticated)
	}

	uid, ok := c.tokens[prior.Token]
	if !ok || uid != prior.UID {
		uid = uuid.NewString()
	}
	token := "mem-" + uuid.NewString()
	c.tokens[token] = uid
	c.identity = remote.Identity{UID: uid, Token: token}
	return c.identity, nil
}

func (c *Client) Push(ctx context.Context, doc remote.Document) (int64, error) {
	c.mu.Lock()
	switch {
	case c.down:
		c.mu.Unlock()
		return 0, fmt.Errorf("push: %w", remote.ErrUnavailable)
	case c.failPushes > 0:
		c.failPushes--
		c.mu.Unlock()
		return 0, fmt.Errorf("push: %w", remote.ErrUnavailable)
	case c.identity.IsZero():
		c.mu.Unlock()
		return 0, fmt.Errorf("push: %w", remote.ErrUnauthenticated)
	case c.rejected[string(doc.Collection)+"/"+doc.ID]:
		c.mu.Unlock()
		return 0, fmt.Errorf("push %s/%s: %w", doc.Collection, doc.ID, remote.ErrRejected)
	}
	author := c.identity.UID
	c.mu.Unlock()

	if err := remote.Verify(doc); err != nil {
		return 0, fmt.Errorf("push: %w: %v", remote.ErrRejected, err)
	}
	doc.Author = author
	stored, err := c.log.Append(ctx, doc)
	if err != nil {
		return 0, fmt.Errorf("push: %w: %v", remote.ErrUnavailable, err)
	}

	c.mu.Lock()
	c.pushes++
	c.mu.Unlock()
	return stored.Version, nil
}

func (c *Client) Listen(_ context.Context, col model.Collection, since int64) (remote.Listener, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.down:
		return nil, fmt.Errorf("listen %s: %w", col, remote.ErrUnavailable)
	case c.identity.IsZero() && !c.anonReads:
		return nil, fmt.Errorf("listen %s: %w", col, remote.ErrUnauthenticated)
	}
	return &listener{client: c, collection: col, since: since}, nil
}

func (c *Client) isDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.down
}

type listener struct {
	client     *Client
	collection model.Collection
	since      int64
}

func (l *listener) Next(ctx context.Context) ([]remote.Document, error) {
	if l.client.isDown() {
		return nil, fmt.Errorf("listen %s: %w", l.collection, remote.ErrUnavailable)
	}

	docs, err := l.client.log.Since(ctx, l.collection, l.since, 0)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w: %v", l.collection, remote.ErrUnavailable, err)
	}
	if len(docs) == 0 {
		waitCtx, cancel := context.WithTimeout(ctx, l.client.waitWindow)
		err := l.client.log.Wait(waitCtx, l.collection, l.since)
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			return []remote.Document{}, nil
		}
		if docs, err = l.client.log.Since(ctx, l.collection, l.since, 0); err != nil {
			return nil, fmt.Errorf("listen %s: %w: %v", l.collection, remote.ErrUnavailable, err)
		}
	}
	if n := len(docs); n > 0 {
		l.since = docs[n-1].Version
	}
	return docs, nil
}

func (l *listener) Close() error {
	return nil
}
