package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/remote"
)

// PushStats counts the outcome of one PushPending call.
type PushStats struct {
	Pushed   int `json:"pushed"`
	Dropped  int `json:"dropped"`
	Deferred int `json:"deferred"`
}

// PushPending drains due outbox deltas in seq order. It stops at the first
// delta that is not yet due or whose push fails, so an entity's deltas are
// never reordered. Push failures are not errors; only store failures and
// cancellation are returned.
func (e *Engine) PushPending(ctx context.Context) (PushStats, error) {
	e.pushMu.Lock()
	defer e.pushMu.Unlock()

	var stats PushStats
	for {
		deltas, err := e.store.PendingDeltas(ctx, e.cfg.BatchSize)
		if err != nil {
			return stats, err
		}
		for _, d := range deltas {
			if d.NextAttemptAt.After(e.now()) {
				return stats, nil
			}
			ok, err := e.pushOne(ctx, d, &stats)
			if err != nil {
				return stats, err
			}
			if !ok {
				return stats, nil
			}
		}
		if len(deltas) < e.cfg.BatchSize {
			return stats, nil
		}
	}
}

// pushOne pushes d and settles it in the outbox. It reports false when the
// delta was deferred and the batch must stop.
func (e *Engine) pushOne(ctx context.Context, d model.Delta, stats *PushStats) (bool, error) {
	doc, err := remote.Encode(d)
	if err != nil {
		// A delta that cannot be encoded would block the outbox forever.
		serr := rejected("encode", d.Collection, d.EntityID, err)
		e.logger.Error("dropping unencodable delta", "code", serr.Code, "seq", d.Seq, "error", serr)
		if err := e.store.DropDelta(ctx, d.Seq); err != nil {
			return false, err
		}
		stats.Dropped++
		e.publish(Event{Kind: EventPushRejected, Collection: d.Collection, ID: d.EntityID, Reason: err.Error()})
		return true, nil
	}

	pushCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	version, err := e.remote.Push(pushCtx, doc)
	cancel()

	switch {
	case err == nil:
		if err := e.store.AckDelta(ctx, d, version); err != nil {
			return false, err
		}
		stats.Pushed++
		e.logger.Debug("delta pushed", "seq", d.Seq, "collection", d.Collection, "id", d.EntityID, "version", version)
		e.publish(Event{Kind: EventPushed, Collection: d.Collection, ID: d.EntityID, Version: version})
		return true, nil

	case ctx.Err() != nil:
		return false, ctx.Err()

	case errors.Is(err, remote.ErrRejected):
		serr := rejected("push", d.Collection, d.EntityID, err)
		e.logger.Warn("mirror refused delta, dropping", "code", serr.Code, "seq", d.Seq, "error", serr)
		if err := e.store.DropDelta(ctx, d.Seq); err != nil {
			return false, err
		}
		stats.Dropped++
		e.publish(Event{Kind: EventPushRejected, Collection: d.Collection, ID: d.EntityID, Reason: err.Error()})
		return true, nil
	}

	if errors.Is(err, remote.ErrUnauthenticated) {
		// The session may have expired; the retry will carry a fresh one.
		if serr := e.signIn(ctx); serr != nil {
			e.logger.Debug("re-authentication failed", "error", serr)
		}
	}

	attempts := d.Attempts + 1
	delay := backoff(e.cfg.BaseBackoff, e.cfg.MaxBackoff, attempts)
	serr := unavailable("push", err)
	serr.Collection, serr.ID = d.Collection, d.EntityID
	e.logger.Warn("push deferred", "code", serr.Code, "seq", d.Seq,
		"attempts", attempts, "retry_in", delay, "error", serr)
	if err := e.store.DeferDelta(ctx, d.Seq, attempts, e.now().Add(delay), err.Error()); err != nil {
		return false, fmt.Errorf("defer delta: %w", err)
	}
	stats.Deferred++
	e.publish(Event{Kind: EventDeferred, Collection: d.Collection, ID: d.EntityID, Reason: err.Error()})
	return false, nil
}
