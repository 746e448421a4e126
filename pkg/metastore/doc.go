// Package metastore is the Metadata Store Client (C5): a thin wrapper
// around database/sql, opened with the pgx stdlib driver, targeted at the
// meta-database that persists shard_db/shard_node/shard_groupid/
// shard_migration (spec.md §4.5).
//
// All admin SQL in pkg/shardctl goes through Store.RunInTx so every
// transaction commits or rolls back exactly once; ExecuteArray gives
// handlers a single-call way to run a batch of statements and stop at the
// first failure, the way spec.md's execute_array helper does.
package metastore
