// Package gate arbitrates access to the local market replica while
// synchronization with the remote database is in flight.
//
// The replica is an ordinary SQLite file that gets rebuilt or replaced
// wholesale during a sync, so access is split into three mutually
// exclusive classes:
//
//   - Read: shared. Any number of readers may hold the gate together.
//   - Write: exclusive. One writer, no readers, no sync.
//   - Sync: exclusive. Same exclusivity as Write, but tracked as its own
//     class so a full resync is distinguishable from an ordinary write in
//     logs and in the wake-up policy.
//
// Acquisition returns a Token, which is the proof of access for exactly
// one acquire/release pair. Callers never share tokens; releasing a token
// twice, or releasing a token the gate never granted, is a programming
// error and fails with ErrProtocolViolation without touching gate state.
//
// # Wake-up policy
//
// When the current holder releases, waiting syncs are granted before
// waiting writes, and waiting writes before waiting reads. Within a class,
// requests are granted in FIFO order. A read that arrives while a write or
// sync is already queued waits behind it, which keeps a steady stream of
// readers from starving resynchronization indefinitely. All concurrently
// eligible readers are granted together.
//
// Waits are context-aware: a cancelled or expired context fails the
// acquisition with ErrTimeout and removes the waiter without disturbing
// the queue position of anyone else.
//
// Example:
//
//	g := gate.New(nil)
//	tok, err := g.AcquireRead(ctx)
//	if err != nil {
//	    return err
//	}
//	defer g.Release(tok)
//	// query the replica
package gate
