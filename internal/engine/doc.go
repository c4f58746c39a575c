// Package engine mirrors the canonical local store to a remote mirror and
// applies the mirror's changes back.
//
// The engine never sits on the foreground path. Collaborators write to the
// store; the store stages outbound deltas and wakes the pusher. Failures
// on the network side are logged and retried, never returned to callers.
//
// ARCHITECTURE:
//
// Startup runs once, in strict order: remote initialisation, anonymous
// sign-in, then one listener per collection. The states it passes through
// are recorded (see History).
//
// Pusher: the single consumer of the outbox. Deltas are pushed in seq
// order; a failed push is deferred with exponential backoff and stops the
// batch so that later deltas for the same entity never overtake it.
//
// Listeners and applier: each listener goroutine produces inbound documents
// onto one FIFO queue. A single applier drains it and writes through the
// store's remote-origin path, so inbound changes are serialized with local
// ones and validated by the same invariants.
//
// Applied events are stamped from a logical Clock, never the wall clock.
package engine
