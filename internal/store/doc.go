// Package store is the canonical local record store: SQLite-backed, the
// single source of truth for employees, patients, medicines, prescriptions
// and tag bindings.
//
// # Write path
//
// Every write runs in a transaction and is durable before it returns. All
// entity invariants are enforced here, whatever the origin of the write:
//   - Medicine stock is never negative (KindInvalidState)
//   - Prescription status only moves forward (KindInvalidTransition)
//   - A dispensed binding stays dispensed; a superseded binding stays retired
//   - At most one live binding per tag (partial unique index)
//
// A local write also stages an outbound delta in the outbox table, under a
// savepoint so that a failed enqueue is logged without failing the write.
// After commit the registered notifier wakes the sync pusher.
//
// Remote writes (ApplyRemote) carry the mirror version. They are skipped
// when the row already reflects that version and never stage deltas.
//
// # Ordering
//
// Listings are ordered deterministically (name or creation time, then id).
// The outbox is drained in seq order. Cursors only advance.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - One open connection: SQLite has a single writer
package store
