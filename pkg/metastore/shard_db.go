package metastore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cuemby/shardbroker/pkg/types"
)

// InsertShardDB inserts the singleton shard_db row (spec.md §4.6 INIT).
func InsertShardDB(ctx context.Context, q Querier, db types.ShardDB) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO shard_db (id, global_dbname, group_count, groupid_last_ver, node_last_ver,
			mig_req_count, ddl_req_count, gc_req_count, node_status)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
	`, db.GlobalDBName, db.GroupCount, db.GroupIDLastVer, db.NodeLastVer,
		db.MigReqCount, db.DDLReqCount, db.GCReqCount, string(db.NodeStatus))
	if err != nil {
		return fmt.Errorf("metastore: insert shard_db: %w", err)
	}
	return nil
}

// GetShardDB reads the singleton shard_db row, the "consistent snapshot"
// every shard controller handler starts from (spec.md §4.6).
func GetShardDB(ctx context.Context, q Querier) (types.ShardDB, error) {
	var out types.ShardDB
	var status string
	row := q.QueryRowContext(ctx, `
		SELECT global_dbname, group_count, groupid_last_ver, node_last_ver,
			mig_req_count, ddl_req_count, gc_req_count, node_status, created_at
		FROM shard_db WHERE id = 1
	`)
	if err := row.Scan(&out.GlobalDBName, &out.GroupCount, &out.GroupIDLastVer, &out.NodeLastVer,
		&out.MigReqCount, &out.DDLReqCount, &out.GCReqCount, &status, &out.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return types.ShardDB{}, fmt.Errorf("metastore: shard_db not initialized: %w", err)
		}
		return types.ShardDB{}, fmt.Errorf("metastore: get shard_db: %w", err)
	}
	out.NodeStatus = types.NodeStatus(status)
	return out, nil
}

// SetNodeStatus flips shard_db.node_status, the ADD_NODE two-phase gate
// (spec.md §4.6).
func SetNodeStatus(ctx context.Context, q Querier, status types.NodeStatus) error {
	_, err := q.ExecContext(ctx, `UPDATE shard_db SET node_status = $1 WHERE id = 1`, string(status))
	if err != nil {
		return fmt.Errorf("metastore: set node_status: %w", err)
	}
	return nil
}

// node_last_ver and groupid_last_ver share one monotonic counter space
// (spec.md §3 invariant #1: "new rows always take cur_max + 1", where
// cur_max is the max of *both* columns, not each column's own prior
// value) — a GET_SHARD_INFO caller compares its cached version against
// whichever of the two columns it tracks, so a bump that only advanced
// one column could leave the other unchanged and collide with a
// version a concurrent caller already observed as "current". Every bump
// below therefore recomputes off GREATEST(node_last_ver, groupid_last_ver)
// and writes the result to both columns.

// BumpNodeLastVer advances the shared version counter by 1 and returns the
// new value, the node_last_ver side of it.
func BumpNodeLastVer(ctx context.Context, q Querier) (int64, error) {
	return bumpSharedVersion(ctx, q, 1)
}

// BumpNodeLastVerBy advances the shared version counter by n (INIT inserts
// n nodes in one transaction and bumps the version once) and returns the
// new value.
func BumpNodeLastVerBy(ctx context.Context, q Querier, n int64) (int64, error) {
	return bumpSharedVersion(ctx, q, n)
}

// BumpGroupIDLastVer advances the shared version counter by 1 and returns
// the new value, the groupid_last_ver side of it.
func BumpGroupIDLastVer(ctx context.Context, q Querier) (int64, error) {
	return bumpSharedVersion(ctx, q, 1)
}

func bumpSharedVersion(ctx context.Context, q Querier, n int64) (int64, error) {
	var next int64
	row := q.QueryRowContext(ctx, `
		UPDATE shard_db
		SET node_last_ver = GREATEST(node_last_ver, groupid_last_ver) + $1,
		    groupid_last_ver = GREATEST(node_last_ver, groupid_last_ver) + $1
		WHERE id = 1
		RETURNING node_last_ver
	`, n)
	if err := row.Scan(&next); err != nil {
		return 0, fmt.Errorf("metastore: bump shared version by %d: %w", n, err)
	}
	return next, nil
}

// AdjustMigReqCount adds delta (positive or negative) to shard_db.mig_req_count.
func AdjustMigReqCount(ctx context.Context, q Querier, delta int) error {
	_, err := q.ExecContext(ctx, `UPDATE shard_db SET mig_req_count = mig_req_count + $1 WHERE id = 1`, delta)
	if err != nil {
		return fmt.Errorf("metastore: adjust mig_req_count: %w", err)
	}
	return nil
}

// AdjustDDLReqCount adds delta to shard_db.ddl_req_count.
func AdjustDDLReqCount(ctx context.Context, q Querier, delta int) error {
	_, err := q.ExecContext(ctx, `UPDATE shard_db SET ddl_req_count = ddl_req_count + $1 WHERE id = 1`, delta)
	if err != nil {
		return fmt.Errorf("metastore: adjust ddl_req_count: %w", err)
	}
	return nil
}

// AdjustGCReqCount adds delta to shard_db.gc_req_count.
func AdjustGCReqCount(ctx context.Context, q Querier, delta int) error {
	_, err := q.ExecContext(ctx, `UPDATE shard_db SET gc_req_count = gc_req_count + $1 WHERE id = 1`, delta)
	if err != nil {
		return fmt.Errorf("metastore: adjust gc_req_count: %w", err)
	}
	return nil
}
