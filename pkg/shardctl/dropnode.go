package shardctl

import (
	"context"
	"database/sql"

	"github.com/cuemby/shardbroker/pkg/framer"
	"github.com/cuemby/shardbroker/pkg/metastore"
	"github.com/cuemby/shardbroker/pkg/types"
)

// handleDropNode implements DROP_NODE (spec.md §4.6): refuses while a node
// add is in progress, refuses a "drop all with id X" while any
// shard_groupid row still references that id (invariant §3.4), and
// otherwise deletes the row and bumps node_last_ver.
func (c *Controller) handleDropNode(ctx context.Context, args DropNodeArgs) (Result, error) {
	db, err := metastore.GetShardDB(ctx, c.Store.DB())
	if err != nil {
		return Result{}, wrapMetaErr(err)
	}
	if db.NodeStatus != types.NodeStatusAllValid {
		return Result{}, framer.Err(framer.ErrNodeAddInProgress, "cannot drop a node while an add is in progress")
	}

	node, err := metastore.GetNode(ctx, c.Store.DB(), args.NodeID)
	if err != nil {
		return Result{}, framer.Err(framer.ErrNodeInfoNotExist, "node %d not found", args.NodeID)
	}
	if !args.DropAll {
		if node.LocalDB != args.LocalDB || node.Host != args.Host || node.Port != args.Port {
			return Result{}, framer.Err(framer.ErrNodeInfoNotExist, "node %d tuple does not match", args.NodeID)
		}
	}

	inUse, err := metastore.CountGroupsForNode(ctx, c.Store.DB(), args.NodeID)
	if err != nil {
		return Result{}, wrapMetaErr(err)
	}
	if inUse > 0 {
		return Result{}, framer.Err(framer.ErrNodeInUse, "node %d still owns %d groups", args.NodeID, inUse)
	}

	err = c.Store.RunInTx(ctx, func(tx *sql.Tx) error {
		if err := metastore.DeleteNode(ctx, tx, args.NodeID); err != nil {
			return err
		}
		_, err := metastore.BumpNodeLastVer(ctx, tx)
		return err
	})
	if err != nil {
		return Result{}, wrapMetaErr(err)
	}

	c.notifyLocalMgmtSync(args.NodeID)
	return Result{Code: framer.OK}, nil
}

// notifyLocalMgmtSync schedules an out-of-band SYNC_SHARD_MGMT_INFO push
// after a successful drop (spec.md §4.6). Wiring in a real notifier is
// cmd/broker's job; by default this is a no-op so handleDropNode's unit
// tests don't need a local-mgmt dependency.
var localMgmtSyncNotify = func(nodeID int) {}

// SetLocalMgmtSyncNotifier lets cmd/broker wire the real notification path.
func SetLocalMgmtSyncNotifier(fn func(nodeID int)) { localMgmtSyncNotify = fn }

func (c *Controller) notifyLocalMgmtSync(nodeID int) { localMgmtSyncNotify(nodeID) }
