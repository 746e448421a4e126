package metastore

import (
	"context"
	"fmt"
	"sort"

	"github.com/cuemby/shardbroker/pkg/types"
)

// SeedGroupIDs assigns contiguous ranges of groups [1..groupCount] to
// nodeIDs by ceil-division, the INIT handler's seeding step (spec.md §4.6).
// nodeIDs is deduplicated and sorted before assignment so the mapping is
// deterministic.
func SeedGroupIDs(ctx context.Context, q Querier, groupCount int, nodeIDs []int, version int64) error {
	if groupCount <= 0 {
		return fmt.Errorf("metastore: groupid_count must be positive, got %d", groupCount)
	}
	dedup := dedupeSortedInts(nodeIDs)
	if len(dedup) == 0 {
		return fmt.Errorf("metastore: no nodes to seed groups onto")
	}

	perNode := (groupCount + len(dedup) - 1) / len(dedup)
	groupID := 1
	for _, nodeID := range dedup {
		for i := 0; i < perNode && groupID <= groupCount; i++ {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO shard_groupid (group_id, current_node_id, version) VALUES ($1, $2, $3)
			`, groupID, nodeID, version); err != nil {
				return fmt.Errorf("metastore: seed group %d onto node %d: %w", groupID, nodeID, err)
			}
			groupID++
		}
	}
	return nil
}

func dedupeSortedInts(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// GetGroupID reads one shard_groupid row.
func GetGroupID(ctx context.Context, q Querier, groupID int) (types.ShardGroupID, error) {
	var g types.ShardGroupID
	row := q.QueryRowContext(ctx, `
		SELECT group_id, current_node_id, version FROM shard_groupid WHERE group_id = $1
	`, groupID)
	if err := row.Scan(&g.GroupID, &g.CurrentNodeID, &g.Version); err != nil {
		return types.ShardGroupID{}, fmt.Errorf("metastore: get group %d: %w", groupID, err)
	}
	return g, nil
}

// ListGroupIDs returns every shard_groupid row ordered by group_id.
func ListGroupIDs(ctx context.Context, q Querier) ([]types.ShardGroupID, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT group_id, current_node_id, version FROM shard_groupid ORDER BY group_id
	`)
	if err != nil {
		return nil, fmt.Errorf("metastore: list groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.ShardGroupID
	for rows.Next() {
		var g types.ShardGroupID
		if err := rows.Scan(&g.GroupID, &g.CurrentNodeID, &g.Version); err != nil {
			return nil, fmt.Errorf("metastore: scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListGroupIDsByNode returns every group currently owned by nodeID, the
// REBALANCE_REQ planning input (spec.md §4.6).
func ListGroupIDsByNode(ctx context.Context, q Querier, nodeID int) ([]types.ShardGroupID, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT group_id, current_node_id, version FROM shard_groupid
		WHERE current_node_id = $1 ORDER BY group_id
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("metastore: list groups for node %d: %w", nodeID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.ShardGroupID
	for rows.Next() {
		var g types.ShardGroupID
		if err := rows.Scan(&g.GroupID, &g.CurrentNodeID, &g.Version); err != nil {
			return nil, fmt.Errorf("metastore: scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpdateGroupIDOwner reassigns a group to a new owning node and version —
// MIGRATION_END's success path (spec.md §4.6).
func UpdateGroupIDOwner(ctx context.Context, q Querier, groupID, newNodeID int, version int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE shard_groupid SET current_node_id = $1, version = $2 WHERE group_id = $3
	`, newNodeID, version, groupID)
	if err != nil {
		return fmt.Errorf("metastore: update group %d owner: %w", groupID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("metastore: group %d not found", groupID)
	}
	return nil
}

// CountGroupsForNode reports how many groups a node currently owns — used by
// DROP_NODE's "still referenced" check (spec.md §4.6 invariant §3.4).
func CountGroupsForNode(ctx context.Context, q Querier, nodeID int) (int, error) {
	var n int
	row := q.QueryRowContext(ctx, `SELECT count(*) FROM shard_groupid WHERE current_node_id = $1`, nodeID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("metastore: count groups for node %d: %w", nodeID, err)
	}
	return n, nil
}
