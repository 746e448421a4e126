// Package migration implements the Migration Orchestrator (C7): one
// wake-driven loop that claims SCHEDULED shard_migration rows as
// MIGRATOR_RUN, launches a migrator helper process on a source node's host
// via pkg/localmgmt's LAUNCH_PROCESS RPC, and sweeps rows stuck in
// MIGRATOR_RUN back to FAILED (spec.md §4.7).
package migration
