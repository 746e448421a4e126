package shardctl

import (
	"context"
	"database/sql"

	"github.com/cuemby/shardbroker/pkg/framer"
	"github.com/cuemby/shardbroker/pkg/metastore"
	"github.com/cuemby/shardbroker/pkg/types"
)

// handleInit creates the meta-tables, the singleton shard_db row, the
// initial node rows, and seeds shard_groupid across them — a single
// committed transaction (spec.md §4.6 INIT, E1).
func (c *Controller) handleInit(ctx context.Context, args InitArgs) (Result, error) {
	if len(args.InitNodes) == 0 || args.GroupIDCount <= 0 {
		return Result{}, framer.Err(framer.ErrInvalidArgument, "groupid_count and init_nodes must be positive/non-empty")
	}

	dedupIDs := make(map[int]struct{}, len(args.InitNodes))
	var ordered []InitNode
	for _, n := range args.InitNodes {
		if _, ok := dedupIDs[n.NodeID]; ok {
			continue
		}
		dedupIDs[n.NodeID] = struct{}{}
		ordered = append(ordered, n)
	}

	err := c.Store.RunInTx(ctx, func(tx *sql.Tx) error {
		if err := metastore.ExecuteArray(ctx, tx, schemaStatements()); err != nil {
			return err
		}
		if err := metastore.InsertShardDB(ctx, tx, types.ShardDB{
			GlobalDBName: args.GlobalDBName,
			GroupCount:   args.GroupIDCount,
			NodeStatus:   types.NodeStatusAllValid,
		}); err != nil {
			return err
		}

		var nodeIDs []int
		for i, n := range ordered {
			version := int64(i + 1)
			if err := metastore.InsertNode(ctx, tx, types.ShardNode{
				NodeID:  n.NodeID,
				LocalDB: n.LocalDB,
				Host:    n.Host,
				Port:    n.Port,
				Status:  types.ShardNodeComplete,
				Version: version,
			}); err != nil {
				return err
			}
			nodeIDs = append(nodeIDs, n.NodeID)
		}
		if _, err := metastore.BumpNodeLastVerBy(ctx, tx, int64(len(ordered))); err != nil {
			return err
		}
		if err := metastore.SeedGroupIDs(ctx, tx, args.GroupIDCount, nodeIDs, 1); err != nil {
			return err
		}
		if _, err := metastore.BumpGroupIDLastVer(ctx, tx); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return Result{}, wrapMetaErr(err)
	}
	return Result{Code: framer.OK}, nil
}

// schemaStatements exposes metastore's internal DDL batch to INIT without
// widening metastore's exported surface beyond CreateSchema's own
// transaction — INIT needs the DDL to run in the *same* transaction as the
// singleton row inserts, not a separate one.
func schemaStatements() []metastore.Statement {
	return metastore.SchemaDDL
}
