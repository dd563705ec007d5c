// Package engine coordinates challenge check-ins between the device and the
// authoritative backend.
//
// ARCHITECTURE:
//
// Two entry points share one transaction path:
//
//   - Coordinator handles interactive check-ins. Online it runs the remote
//     optimistic-concurrency transaction before reporting success; offline
//     it appends the event to the durable device queue and reports it as
//     saved.
//   - Reconciler replays the queue through the same transaction whenever
//     connectivity returns, in strict insertion order.
//
// Truthful local state:
// The device cache is written only after remote confirmation. A queued
// offline check-in is presented as saved, never as confirmed, so the UI can
// never show a streak the backend later refuses.
//
// Idempotent replay:
// Every check-in carries a client-generated event ID. The remote transaction
// resolves a replayed or duplicate event as already-checked-in instead of
// incrementing anything, so crashes between "applied remotely" and "removed
// from queue" are harmless.
//
// Ordering:
// The reconciler stops a pass at the first transient failure rather than
// skipping ahead. Skipping could apply a later calendar day before an
// earlier one and corrupt the streak computation.
package engine
