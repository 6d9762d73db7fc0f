// Package syncsvc orchestrates resynchronization of the local market
// replica from the remote database.
//
// A sync runs under the gate's exclusive Sync class: no reader or writer
// can touch the replica while the file is being rebuilt, and the replica
// handle is reopened before the class is released so the connection pool
// never spans the rebuild.
//
// The orchestrator moves through a small state machine per run:
//
//	Idle -> Syncing -> Idle          (success)
//	Idle -> Syncing -> Failed -> Idle (failure, error recorded)
//
// Refresh failures are reported in the returned Result, never propagated
// as a failure of the orchestrator itself: a broken remote must not crash
// foreground readers, and the replica keeps serving its last-good content.
//
// Sync runs on a fixed two-hour UTC cadence. The last and next scheduled
// run are persisted to a small JSON state file beside the replica so the
// dashboard can display them and a restarted daemon knows whether a sync
// is overdue.
package syncsvc
