// Package workerpool implements the per-broker worker (CAS) process pool:
// spawning, stopping, restarting, and admission decisions over a fixed-size
// array of worker slots (spec.md §4.2).
//
// Workers are separate OS processes; this package never writes their
// descriptor fields directly except the handful the pool manager itself
// owns (pid, liveness, restart count). A worker reports readiness by
// announcing its slot index on the broker's ready socket (ReadyListener in
// ready.go), which marks the slot IDLE and calls MarkReady, preserving the
// invariant from pkg/types.WorkerDescriptor's doc comment: exactly one of
// {pool manager, worker process} mutates pid/status at a time.
//
// Three loops run per broker, each its own goroutine with a stop channel,
// the way pkg/worker/health_monitor.go in the teacher structures its
// monitor loop:
//
//	Monitor loop       100ms   memory/pid liveness, RESTART transitions
//	Log rotation loop  1s      detects unlinked log files, flags REOPEN
//	Hang detector      configurable   running average of stalled slots
package workerpool
