// Package shardctl implements the Shard Controller (C6): the admin state
// machine for init/add-node/drop-node/DDL/migration/rebalance, owning
// compensating actions when a client disconnects mid-operation (spec.md
// §4.6).
//
// Dispatch follows spec.md §9's REDESIGN FLAGS: rather than the source's
// function-pointer table keyed by opcode, a Request is a tagged variant with
// a single Handle method branching on its Kind; operations that span two
// client messages (MIGRATION_START/END, DDL_START/END, GC_START/END) get a
// second Compensate method on the same variant, driven by a per-connection
// Session state machine (session.go) instead of a queue of raw compensation
// records.
package shardctl
