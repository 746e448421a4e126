// Package shm implements the control region described in spec.md §4.1: a
// process-wide table of broker, worker, job-queue, and counter state shared
// by every thread of a broker process.
//
// The source system maps this as a raw POSIX shared-memory segment attached
// by cooperating OS processes, keyed by an environment variable, with
// process-shared semaphores guarding each sub-region, including direct
// writes from the worker (CAS) processes themselves into their own
// descriptor slot.
//
// Following the REDESIGN FLAGS in spec.md §9 ("consolidate into a broker
// context... threaded explicitly", "shared-memory segments are wrapped in
// owning values that unmap on drop"), Region replaces the raw shared-memory
// layout with a single in-process Go struct guarded by ordinary mutexes;
// broker index and worker slot index become stable integer handles rather
// than pointers into a mapped segment. Because worker (CAS) processes in
// this design remain separate OS processes, they announce readiness over a
// small broker-local Unix socket (pkg/workerpool's ReadyListener), separate
// from the per-dispatch handoff connection, rather than writing shared
// memory directly; pkg/workerpool applies those announcements to Region on
// the worker's behalf. This preserves spec.md's stated invariant — pid/status
// transitions are driven by exactly one of {pool manager, worker process} at
// a time — while keeping the memory itself single-process.
//
// Lifetime: NewRegion allocates a region and marks it Valid; Close tears it
// down. The header carries a random key generated once at creation, as
// spec.md's control region header does, for diagnostic/attach purposes.
package shm
