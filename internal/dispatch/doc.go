// Package dispatch routes canonical events to domain handlers.
//
// Handlers are registered under a (source, kind) key. The dispatcher never lets a
// handler failure reach the sender: every outcome is logged and the route layer
// always acknowledges.
//
// Outcomes:
//   - Unknown key → INFO log, Handled=false
//   - Redelivered chat event (claimed delivery id) → Handled=false, Duplicate=true
//   - Handler error or panic → ERROR log with source, kind, idempotency key and
//     delivery id; Handled=true with Err set
//   - Success → Handled=true with an optional Reply
//
// Replay suppression applies to chat events only. FSM events rely on the
// reconciler being idempotent.
package dispatch
