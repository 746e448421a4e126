package shardctl

import (
	"context"
	"database/sql"
	"time"

	"github.com/cuemby/shardbroker/pkg/framer"
	"github.com/cuemby/shardbroker/pkg/metastore"
	"github.com/cuemby/shardbroker/pkg/types"
)

// handleMigrationStart implements MIGRATION_START (spec.md §4.6): if DDL/GC
// counters are non-zero the caller should retry (Session handles the queue/
// retry loop and the timeout check); otherwise this validates src≠dest,
// marks the migration row MIGRATION_STARTED, and bumps mig_req_count.
func (c *Controller) handleMigrationStart(ctx context.Context, args MigrationStartArgs) (Result, error) {
	db, err := metastore.GetShardDB(ctx, c.Store.DB())
	if err != nil {
		return Result{}, wrapMetaErr(err)
	}
	if db.DDLReqCount > 0 || db.GCReqCount > 0 {
		return Result{}, framer.Err(framer.ErrRebalanceRunning, "a DDL or GC operation is in flight")
	}

	group, err := metastore.GetGroupID(ctx, c.Store.DB(), args.GroupID)
	if err != nil {
		return Result{}, framer.Err(framer.ErrMigrationInvalidNodeID, "group %d not found", args.GroupID)
	}
	if group.CurrentNodeID == args.DestNodeID {
		return Result{}, framer.Err(framer.ErrMigrationInvalidNodeID, "source and destination node are the same")
	}
	if _, err := metastore.GetNode(ctx, c.Store.DB(), args.DestNodeID); err != nil {
		return Result{}, framer.Err(framer.ErrMigrationInvalidNodeID, "destination node %d does not exist", args.DestNodeID)
	}

	now := time.Now()
	err = c.Store.RunInTx(ctx, func(tx *sql.Tx) error {
		existing, err := metastore.GetMigrationByGroup(ctx, tx, args.GroupID)
		var id int64
		if err == nil && existing.Status != types.MigrationComplete && existing.Status != types.MigrationFailed {
			id = existing.ID
			if err := metastore.UpdateMigrationStatus(ctx, tx, id, types.MigrationStarted, now); err != nil {
				return err
			}
		} else {
			id, err = metastore.InsertMigration(ctx, tx, types.ShardMigration{
				GroupID:       args.GroupID,
				SrcNodeID:     group.CurrentNodeID,
				DestNodeID:    args.DestNodeID,
				Status:        types.MigrationStarted,
				ShardKeyCount: args.NumShardKeys,
			})
			if err != nil {
				return err
			}
		}
		_ = id
		return metastore.AdjustMigReqCount(ctx, tx, 1)
	})
	if err != nil {
		return Result{}, wrapMetaErr(err)
	}
	return Result{Code: framer.OK}, nil
}

// handleMigrationEnd implements MIGRATION_END (spec.md §4.6): on success it
// completes the migration row, moves the group to its destination with a
// freshly bumped version, and bumps groupid_last_ver; on the compensation
// path (client disconnected before sending MIGRATION_END) it only marks the
// row FAILED. Both paths decrement mig_req_count.
func (c *Controller) handleMigrationEnd(ctx context.Context, args MigrationEndArgs) (Result, error) {
	now := time.Now()
	err := c.Store.RunInTx(ctx, func(tx *sql.Tx) error {
		m, err := metastore.GetMigrationByGroup(ctx, tx, args.GroupID)
		if err != nil {
			return err
		}
		if err := metastore.AdjustMigReqCount(ctx, tx, -1); err != nil {
			return err
		}
		if !args.Success {
			return metastore.UpdateMigrationStatus(ctx, tx, m.ID, types.MigrationFailed, now)
		}
		if err := metastore.UpdateMigrationStatus(ctx, tx, m.ID, types.MigrationComplete, now); err != nil {
			return err
		}
		newVer, err := metastore.BumpGroupIDLastVer(ctx, tx)
		if err != nil {
			return err
		}
		return metastore.UpdateGroupIDOwner(ctx, tx, args.GroupID, m.DestNodeID, newVer)
	})
	if err != nil {
		return Result{}, wrapMetaErr(err)
	}
	c.wakeOrchestrator()
	return Result{Code: framer.OK}, nil
}

// CompensateMigration runs the MIGRATION_END fail path automatically when a
// session's peer disconnects before sending MIGRATION_END (spec.md §9's
// per-connection state machine replacing the source's raw compensation
// queue).
func (c *Controller) CompensateMigration(ctx context.Context, groupID int) {
	if _, err := c.handleMigrationEnd(ctx, MigrationEndArgs{GroupID: groupID, Success: false}); err != nil {
		c.log.Warn().Err(err).Int("group_id", groupID).Msg("migration_fail compensation failed")
	}
}

// wakeOrchestrator is a package-level hook pkg/migration's orchestrator
// installs so MIGRATION_END and REBALANCE_REQ can trigger an early pass
// instead of waiting for its regular interval; DDL_END and GC_END do not
// wake it.
var orchestratorWake = func() {}

// SetOrchestratorWakeHook lets the migration orchestrator register itself.
func SetOrchestratorWakeHook(fn func()) { orchestratorWake = fn }

func (c *Controller) wakeOrchestrator() { orchestratorWake() }
