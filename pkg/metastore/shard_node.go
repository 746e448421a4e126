package metastore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cuemby/shardbroker/pkg/types"
)

// InsertNode inserts one shard_node row (spec.md §4.6 INIT/ADD_NODE).
func InsertNode(ctx context.Context, q Querier, n types.ShardNode) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO shard_node (node_id, local_db, host, port, status, version)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.NodeID, n.LocalDB, n.Host, n.Port, string(n.Status), n.Version)
	if err != nil {
		return fmt.Errorf("metastore: insert shard_node %d: %w", n.NodeID, err)
	}
	return nil
}

// GetNode reads one shard_node row by id.
func GetNode(ctx context.Context, q Querier, nodeID int) (types.ShardNode, error) {
	var n types.ShardNode
	var status string
	row := q.QueryRowContext(ctx, `
		SELECT node_id, local_db, host, port, status, version, host_name, ha_state
		FROM shard_node WHERE node_id = $1
	`, nodeID)
	if err := row.Scan(&n.NodeID, &n.LocalDB, &n.Host, &n.Port, &status, &n.Version, &n.HostName, &n.HAState); err != nil {
		if err == sql.ErrNoRows {
			return types.ShardNode{}, fmt.Errorf("metastore: node %d not found: %w", nodeID, err)
		}
		return types.ShardNode{}, fmt.Errorf("metastore: get node %d: %w", nodeID, err)
	}
	n.Status = types.ShardNodeStatus(status)
	return n, nil
}

// ListNodes returns every shard_node row ordered by node_id.
func ListNodes(ctx context.Context, q Querier) ([]types.ShardNode, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT node_id, local_db, host, port, status, version, host_name, ha_state
		FROM shard_node ORDER BY node_id
	`)
	if err != nil {
		return nil, fmt.Errorf("metastore: list nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.ShardNode
	for rows.Next() {
		var n types.ShardNode
		var status string
		if err := rows.Scan(&n.NodeID, &n.LocalDB, &n.Host, &n.Port, &status, &n.Version, &n.HostName, &n.HAState); err != nil {
			return nil, fmt.Errorf("metastore: scan node: %w", err)
		}
		n.Status = types.ShardNodeStatus(status)
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpdateNodeStatus sets a node's status and version (ADD_NODE's two-phase
// commit, spec.md §4.6).
func UpdateNodeStatus(ctx context.Context, q Querier, nodeID int, status types.ShardNodeStatus, version int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE shard_node SET status = $1, version = $2 WHERE node_id = $3
	`, string(status), version, nodeID)
	if err != nil {
		return fmt.Errorf("metastore: update node %d status: %w", nodeID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("metastore: node %d not found", nodeID)
	}
	return nil
}

// DeleteNode removes a shard_node row (DROP_NODE, spec.md §4.6).
func DeleteNode(ctx context.Context, q Querier, nodeID int) error {
	_, err := q.ExecContext(ctx, `DELETE FROM shard_node WHERE node_id = $1`, nodeID)
	if err != nil {
		return fmt.Errorf("metastore: delete node %d: %w", nodeID, err)
	}
	return nil
}

// SetNodeHeartbeat records the host name and ha_state last reported by
// SYNC_SHARD_MGMT_INFO (spec.md §4.8).
func SetNodeHeartbeat(ctx context.Context, q Querier, nodeID int, hostName, haState string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE shard_node SET host_name = $1, ha_state = $2 WHERE node_id = $3
	`, hostName, haState, nodeID)
	if err != nil {
		return fmt.Errorf("metastore: set node %d heartbeat: %w", nodeID, err)
	}
	return nil
}
