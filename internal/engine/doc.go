// Package engine implements the sync engine that keeps a local repository
// consistent with a remote one.
//
// An Engine owns two repositories and runs in one of three modes:
//
//   - ModeLocalMirror: local is a cache of remote. A sync pushes local
//     pending changes to remote, then replaces local with remote's data.
//   - ModeCommandQueue: local is a queue of outbound commands. A sync sends
//     every item without a response to remote, stores the answer in the
//     item's response and runs the command's handlers.
//   - ModeRemoteWithOffline: reads go to remote while online and to local
//     while offline. A sync pushes the offline edits, then pulls remote.
//
// ARCHITECTURE:
//
// Scheduling:
// Every sync attempt arms at most one timer. A successful attempt schedules
// the next sync at lastSync + SyncRate; a failed or offline attempt
// schedules a retry at lastAttempt + RetryRate. Timers never touch the
// repositories: they enqueue a Trigger.
//
// Trigger Processing:
//  1. Timers, SetIsOnline and local adds enqueue triggers (FIFO)
//  2. Engine.Run() (or ProcessPending) dequeues them one at a time
//  3. Each trigger runs Sync, guarded by the isSyncing flag
//  4. Sync emits beginSync and endSync around the mode's algorithm
//
// Failures:
// Storage and network failures are transient: they are recorded as
// LastError and retried. SyncErrors (unknown command, no handlers) are
// returned to the caller and still scheduled for retry, since a handler
// may be registered later.
package engine
