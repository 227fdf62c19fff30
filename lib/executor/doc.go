// Package executor provides the worker pools that run dSnap's background work.
//
// An Executor owns two pools:
//
//   - OneShotPool: runs submitted tasks immediately. It keeps a few warm workers,
//     grows without bound and retires idle workers above the minimum. Tasks are
//     never buffered, a submission either reaches an idle worker or spawns one.
//   - ScheduledPool: a fixed number of workers running delayed tasks
//     (Schedule) and periodic tasks (ScheduleWithFixedDelay). Cancelling a
//     pending task removes it from the delay queue immediately.
//
// Every task is a func(ctx) error and returns a Future. Errors and panics of a
// task are captured in its Future and also passed to the FailureHandler, which
// logs them by default. Cancellation errors are never reported.
//
// Once Shutdown or ShutdownNow was called, further submissions fail with
// ErrRejected. Callers use IsStopping to tell a rejection caused by process
// shutdown apart from other failures.
//
// Default returns a process wide executor that is created lazily.
package executor
