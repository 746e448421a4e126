package metastore

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/shardbroker/pkg/types"
)

// InsertMigration inserts one shard_migration row and returns its id
// (REBALANCE_REQ and MIGRATION_START, spec.md §4.6).
func InsertMigration(ctx context.Context, q Querier, m types.ShardMigration) (int64, error) {
	var id int64
	row := q.QueryRowContext(ctx, `
		INSERT INTO shard_migration
			(group_id, src_node_id, dest_node_id, status, "order", shard_key_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, m.GroupID, m.SrcNodeID, m.DestNodeID, string(m.Status), m.Order, m.ShardKeyCount)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("metastore: insert migration for group %d: %w", m.GroupID, err)
	}
	return id, nil
}

// GetMigrationByGroup reads the most recent shard_migration row for a group,
// the source-node lookup MIGRATION_START needs.
func GetMigrationByGroup(ctx context.Context, q Querier, groupID int) (types.ShardMigration, error) {
	var m types.ShardMigration
	var status string
	row := q.QueryRowContext(ctx, `
		SELECT id, group_id, src_node_id, dest_node_id, status, "order", shard_key_count,
			created_at, modified_at, elapsed_millis
		FROM shard_migration WHERE group_id = $1 ORDER BY id DESC LIMIT 1
	`, groupID)
	if err := row.Scan(&m.ID, &m.GroupID, &m.SrcNodeID, &m.DestNodeID, &status, &m.Order,
		&m.ShardKeyCount, &m.CreatedAt, &m.ModifiedAt, &m.ElapsedMillis); err != nil {
		return types.ShardMigration{}, fmt.Errorf("metastore: get migration for group %d: %w", groupID, err)
	}
	m.Status = types.MigrationStatus(status)
	return m, nil
}

// UpdateMigrationStatus transitions a migration row to a new status and
// stamps modified_at.
func UpdateMigrationStatus(ctx context.Context, q Querier, id int64, status types.MigrationStatus, modifiedAt time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE shard_migration SET status = $1, modified_at = $2 WHERE id = $3
	`, string(status), modifiedAt, id)
	if err != nil {
		return fmt.Errorf("metastore: update migration %d status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("metastore: migration %d not found", id)
	}
	return nil
}

// CountMigrationsByStatuses sums rows whose status is in statuses — used to
// check invariant §3.2 (sum of in-flight rows equals mig_req_count) and to
// refuse REBALANCE_RUNNING when any job is pending.
func CountMigrationsByStatuses(ctx context.Context, q Querier, statuses []types.MigrationStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	args := make([]any, len(statuses))
	placeholders := ""
	for i, s := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", i+1)
		args[i] = string(s)
	}
	var n int
	row := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT count(*) FROM shard_migration WHERE status IN (%s)
	`, placeholders), args...)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("metastore: count migrations by status: %w", err)
	}
	return n, nil
}

// SourceStatusCounts is one source node's per-status tally, the migration
// orchestrator's per-wake snapshot (spec.md §4.7 step 1).
type SourceStatusCounts struct {
	SrcNodeID int
	Counts    map[types.MigrationStatus]int
}

// SnapshotBySource groups shard_migration rows by source node, counting rows
// in each status.
func SnapshotBySource(ctx context.Context, q Querier) ([]SourceStatusCounts, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT src_node_id, status, count(*) FROM shard_migration
		GROUP BY src_node_id, status ORDER BY src_node_id
	`)
	if err != nil {
		return nil, fmt.Errorf("metastore: snapshot by source: %w", err)
	}
	defer func() { _ = rows.Close() }()

	bySrc := map[int]map[types.MigrationStatus]int{}
	var order []int
	for rows.Next() {
		var src int
		var status string
		var n int
		if err := rows.Scan(&src, &status, &n); err != nil {
			return nil, fmt.Errorf("metastore: scan snapshot row: %w", err)
		}
		if _, ok := bySrc[src]; !ok {
			bySrc[src] = map[types.MigrationStatus]int{}
			order = append(order, src)
		}
		bySrc[src][types.MigrationStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]SourceStatusCounts, 0, len(order))
	for _, src := range order {
		out = append(out, SourceStatusCounts{SrcNodeID: src, Counts: bySrc[src]})
	}
	return out, nil
}

// FlipScheduledToMigratorRun selects up to limit SCHEDULED rows for srcNodeID
// ordered by ("order", dest_node_id), flips them to MIGRATOR_RUN, and
// returns their ids (migration orchestrator step 3, spec.md §4.7). Callers
// run this inside a transaction; FOR UPDATE SKIP LOCKED keeps concurrent
// orchestrator passes from double-claiming a row.
func FlipScheduledToMigratorRun(ctx context.Context, q Querier, srcNodeID, limit int, now time.Time) ([]int64, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := q.QueryContext(ctx, `
		UPDATE shard_migration SET status = $1, modified_at = $2
		WHERE id IN (
			SELECT id FROM shard_migration
			WHERE src_node_id = $3 AND status = $4
			ORDER BY "order", dest_node_id
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`, string(types.MigrationMigratorRun), now, srcNodeID, string(types.MigrationScheduled), limit)
	if err != nil {
		return nil, fmt.Errorf("metastore: flip scheduled for node %d: %w", srcNodeID, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetMigrationsByIDs reads the full row for each id, the orchestrator's
// lookup after FlipScheduledToMigratorRun returns only ids (spec.md §4.7
// step 5 needs each row's group/src/dest to launch its helper).
func GetMigrationsByIDs(ctx context.Context, q Querier, ids []int64) ([]types.ShardMigration, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := ""
	queryArgs := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", i+1)
		queryArgs[i] = id
	}
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, group_id, src_node_id, dest_node_id, status, "order", shard_key_count,
			created_at, modified_at, elapsed_millis
		FROM shard_migration WHERE id IN (%s)
	`, placeholders), queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("metastore: get migrations by ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.ShardMigration
	for rows.Next() {
		var m types.ShardMigration
		var status string
		if err := rows.Scan(&m.ID, &m.GroupID, &m.SrcNodeID, &m.DestNodeID, &status, &m.Order,
			&m.ShardKeyCount, &m.CreatedAt, &m.ModifiedAt, &m.ElapsedMillis); err != nil {
			return nil, fmt.Errorf("metastore: scan migration: %w", err)
		}
		m.Status = types.MigrationStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkStuckMigratorRunFailed flips any row that has been MIGRATOR_RUN since
// before cutoff to FAILED, on the assumption the helper process never came
// up (spec.md §4.7 step 4). It returns the number of rows affected.
func MarkStuckMigratorRunFailed(ctx context.Context, q Querier, cutoff, now time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE shard_migration SET status = $1, modified_at = $2
		WHERE status = $3 AND modified_at < $4
	`, string(types.MigrationFailed), now, string(types.MigrationMigratorRun), cutoff)
	if err != nil {
		return 0, fmt.Errorf("metastore: mark stuck migrations failed: %w", err)
	}
	return res.RowsAffected()
}

// ClearPreviousJobs deletes COMPLETE/FAILED rows whose src or dest node
// falls in the given sets, the REBALANCE_REQ "ignore-prev-fail" clear step.
func ClearPreviousJobs(ctx context.Context, q Querier, srcNodes, destNodes []int) error {
	if len(srcNodes) == 0 && len(destNodes) == 0 {
		return nil
	}
	args := []any{string(types.MigrationComplete), string(types.MigrationFailed)}
	clause, args := inClause("src_node_id", srcNodes, args)
	destClause, args := inClause("dest_node_id", destNodes, args)
	if clause != "" && destClause != "" {
		clause += " OR " + destClause
	} else {
		clause += destClause
	}

	_, err := q.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM shard_migration WHERE status IN ($1, $2) AND (%s)
	`, clause), args...)
	if err != nil {
		return fmt.Errorf("metastore: clear previous jobs: %w", err)
	}
	return nil
}

// inClause appends ids to args as new placeholders and returns a "col IN
// (...)" fragment referencing them (empty string if ids is empty).
func inClause(col string, ids []int, args []any) (string, []any) {
	if len(ids) == 0 {
		return "", args
	}
	placeholders := ""
	for _, id := range ids {
		args = append(args, id)
		if placeholders != "" {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", len(args))
	}
	return fmt.Sprintf("%s IN (%s)", col, placeholders), args
}
