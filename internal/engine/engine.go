package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/remote"
	"github.com/roach88/rxvault/internal/store"
)

// Defaults for Config fields left zero.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultBaseBackoff    = time.Second
	DefaultMaxBackoff     = 5 * time.Minute
	DefaultPollInterval   = 30 * time.Second
	DefaultBatchSize      = 100
	DefaultEventBuffer    = 256
)

// Config bounds the engine's network behaviour.
type Config struct {
	// RequestTimeout bounds each push and each startup call.
	RequestTimeout time.Duration
	// BaseBackoff is the delay after the first failed push of a delta;
	// it doubles per attempt up to MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// PollInterval is how often the pusher looks at the outbox when the
	// store has not woken it, so deferred deltas are retried.
	PollInterval time.Duration
	BatchSize    int
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = max(DefaultMaxBackoff, c.BaseBackoff)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

// Engine mirrors a store to a remote.Client.
//
// Thread-safety model:
//   - Run: called from exactly one goroutine; it is the applier.
//   - Start, PushPending, State, History, Events: safe from any goroutine.
type Engine struct {
	store  *store.Store
	remote remote.Client
	cfg    Config
	logger *slog.Logger
	clock  *Clock
	now    func() time.Time

	queue  *inboundQueue
	wake   chan struct{}
	events chan Event

	mu        sync.Mutex
	state     State
	history   []Transition
	listeners map[model.Collection]remote.Listener

	// pushMu keeps PushPending single-consumer when called directly
	// alongside the background pusher.
	pushMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithWallClock sets the time source used for backoff scheduling.
func WithWallClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogicalClock resumes event numbering from an existing clock.
func WithLogicalClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(e *Engine) {
		e.events = make(chan Event, n)
	}
}

// New creates an Engine. It registers itself as the store's notifier so
// local writes wake the pusher.
func New(st *store.Store, rc remote.Client, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		remote:    rc,
		cfg:       cfg.withDefaults(),
		logger:    slog.Default(),
		clock:     NewClock(),
		now:       time.Now,
		queue:     newInboundQueue(),
		wake:      make(chan struct{}, 1),
		events:    make(chan Event, DefaultEventBuffer),
		state:     StateUninitialized,
		listeners: make(map[model.Collection]remote.Listener),
	}
	for _, opt := range opts {
		opt(e)
	}
	st.SetNotifier(e.notify)
	return e
}

// notify wakes the pusher without blocking the writer.
func (e *Engine) notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Events returns applied, skipped, pushed and rejected outcomes. Events
// are dropped when the channel is full.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// State returns the current startup state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// History returns the recorded state transitions in order.
func (e *Engine) History() []Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Transition, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) transition(to State, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !canTransition(e.state, to) {
		e.logger.Error("illegal sync state transition", "from", e.state, "to", to)
		return
	}
	e.history = append(e.history, Transition{
		Seq: e.clock.Next(), From: e.state, To: to, Reason: reason, At: e.now().UTC(),
	})
	e.logger.Info("sync state", "from", e.state, "to", to, "reason", reason)
	e.state = to
}

// Start runs the startup sequence once: remote initialisation, anonymous
// sign-in, then listener attachment. It returns the resulting state.
// Network failures never produce an error; they disable or degrade sync.
func (e *Engine) Start(ctx context.Context) State {
	if s := e.State(); s != StateUninitialized {
		return s
	}

	initCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	err := e.remote.Init(initCtx)
	cancel()
	if err != nil {
		e.logger.Warn("sync disabled", "code", ErrCodeSyncUnavailable, "error", unavailable("init", err))
		e.transition(StateDisabled, "remote init failed")
		return StateDisabled
	}

	e.transition(StateAuthenticating, "")
	if err := e.signIn(ctx); err != nil {
		// Degraded: the mirror may still allow unauthenticated reads.
		e.logger.Warn("anonymous sign-in failed, attaching listeners unauthenticated",
			"code", ErrCodeSyncUnavailable, "error", err)
	}

	attached := 0
	for _, c := range model.Collections {
		if err := e.attach(ctx, c); err != nil {
			e.logger.Warn("listener not attached", "code", ErrCodeSyncUnavailable,
				"collection", c, "error", err)
			continue
		}
		attached++
	}
	if attached == 0 {
		e.transition(StateDisabled, "no listener attached")
		return StateDisabled
	}
	e.transition(StateSyncing, fmt.Sprintf("%d of %d listeners attached", attached, len(model.Collections)))
	return StateSyncing
}

// signIn reuses the stored identity when the mirror still accepts it and
// stores whatever identity the mirror hands back.
func (e *Engine) signIn(ctx context.Context) error {
	stored, _, err := e.store.LoadIdentity(ctx)
	if err != nil {
		return err
	}

	signCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()
	id, err := e.remote.SignInAnonymously(signCtx, remote.Identity{UID: stored.UID, Token: stored.Token})
	if err != nil {
		return unavailable("sign in", err)
	}
	if id.UID != stored.UID || id.Token != stored.Token {
		if err := e.store.SaveIdentity(ctx, store.SyncIdentity{UID: id.UID, Token: id.Token}); err != nil {
			return fmt.Errorf("save identity: %w", err)
		}
	}
	e.logger.Debug("signed in", "uid", id.UID, "reused", id.UID == stored.UID)
	return nil
}

func (e *Engine) attach(ctx context.Context, c model.Collection) error {
	cursor, err := e.store.Cursor(ctx, c)
	if err != nil {
		return err
	}
	listenCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()
	l, err := e.remote.Listen(listenCtx, c, cursor)
	if err != nil {
		return unavailable("listen", err)
	}

	e.mu.Lock()
	e.listeners[c] = l
	e.mu.Unlock()
	return nil
}

// Run starts sync and blocks until ctx is cancelled. It runs Start if it
// has not run yet; a disabled engine returns immediately with nil.
//
// Listener goroutines and the pusher run in the background; Run itself is
// the applier.
func (e *Engine) Run(ctx context.Context) error {
	if e.Start(ctx) != StateSyncing {
		return nil
	}

	var wg sync.WaitGroup
	e.mu.Lock()
	for c, l := range e.listeners {
		wg.Add(1)
		go func(c model.Collection, l remote.Listener) {
			defer wg.Done()
			e.listen(ctx, c, l)
		}(c, l)
	}
	e.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runPusher(ctx)
	}()

	defer func() {
		wg.Wait()
		e.closeListeners()
		e.queue.Close()
	}()

	for {
		if doc, ok := e.queue.TryDequeue(); ok {
			if err := e.apply(ctx, doc); err != nil && ctx.Err() == nil {
				e.logger.Error("apply inbound document failed",
					"collection", doc.Collection, "id", doc.ID, "version", doc.Version, "error", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.queue.Wait():
		}
	}
}

func (e *Engine) listen(ctx context.Context, c model.Collection, l remote.Listener) {
	failures := 0
	for ctx.Err() == nil {
		docs, err := l.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			delay := backoff(e.cfg.BaseBackoff, e.cfg.MaxBackoff, failures)
			e.logger.Warn("listener failed", "code", ErrCodeSyncUnavailable,
				"collection", c, "retry_in", delay, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		failures = 0
		if len(docs) > 0 {
			e.queue.Enqueue(docs...)
		}
	}
}

func (e *Engine) closeListeners() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for c, l := range e.listeners {
		if err := l.Close(); err != nil {
			e.logger.Debug("close listener", "collection", c, "error", err)
		}
	}
}

func (e *Engine) runPusher(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := e.PushPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error("push pending deltas failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
		case <-ticker.C:
		}
	}
}

// backoff returns base*2^(attempt-1), capped at maxDelay.
func backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < maxDelay; i++ {
		d *= 2
	}
	return min(d, maxDelay)
}
