package shardctl

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/shardbroker/pkg/framer"
	"github.com/cuemby/shardbroker/pkg/log"
	"github.com/cuemby/shardbroker/pkg/metastore"
)

// NodeLauncher launches the helper processes ADD_NODE's two-phase migration
// needs (spec.md §4.6). Production code calls through to pkg/localmgmt's
// LAUNCH_PROCESS RPC on the node's host.
type NodeLauncher interface {
	LaunchSchemaMigration(ctx context.Context, host string, node InitNode) error
	LaunchGlobalTableMigration(ctx context.Context, host string, node InitNode) error
}

// Result is a handler's successful outcome: an optional response code (used
// by REBALANCE_REQ/REBALANCE_JOB_COUNT to return a count "directly as the
// response code", per spec.md §4.6) plus optional opaque payload blocks.
type Result struct {
	Code     framer.Code
	Messages [][]byte
}

// Controller is the single worker that reads framed shard-management
// requests and dispatches them, one metadata connection per call (spec.md
// §4.6).
type Controller struct {
	Store    *metastore.Store
	Launcher NodeLauncher
	Cache    *ShardCache

	// MaxMigratorsPerSource bounds how many rows the migration orchestrator
	// flips to MIGRATOR_RUN per source node per wake (spec.md §4.7 step 2).
	MaxMigratorsPerSource int

	log zerolog.Logger
}

// NewController builds a Controller backed by store.
func NewController(store *metastore.Store, launcher NodeLauncher) *Controller {
	return &Controller{
		Store:                 store,
		Launcher:              launcher,
		Cache:                 NewShardCache(),
		MaxMigratorsPerSource: 4,
		log:                   log.WithComponent("shardctl"),
	}
}

// Handle dispatches req to its handler. Every handler contract: errors
// return a framed BR_ER_* code; success returns Result (spec.md §4.6).
func (c *Controller) Handle(ctx context.Context, req Request) (Result, error) {
	switch req.Kind {
	case KindInit:
		return c.handleInit(ctx, *req.Init)
	case KindAddNode:
		return c.handleAddNode(ctx, *req.AddNode)
	case KindDropNode:
		return c.handleDropNode(ctx, *req.DropNode)
	case KindMigrationStart:
		return c.handleMigrationStart(ctx, *req.MigrationStart)
	case KindMigrationEnd:
		return c.handleMigrationEnd(ctx, *req.MigrationEnd)
	case KindDDLStart:
		return c.handleDDLStart(ctx, *req.DDLStart)
	case KindDDLEnd:
		return c.handleDDLEnd(ctx)
	case KindGCStart:
		return c.handleGCStart(ctx, *req.GCStart)
	case KindGCEnd:
		return c.handleGCEnd(ctx)
	case KindRebalanceReq:
		return c.handleRebalanceReq(ctx, *req.RebalanceReq)
	case KindRebalanceJobCount:
		return c.handleRebalanceJobCount(ctx)
	case KindGetShardInfo:
		return c.handleGetShardInfo(ctx, *req.GetShardInfo)
	default:
		return Result{}, framer.Err(framer.ErrInvalidOpcode, "unknown shard-management request kind %d", req.Kind)
	}
}

func wrapMetaErr(err error) error {
	if err == nil {
		return nil
	}
	return framer.Err(framer.ErrMetaDB, "%s", fmt.Sprint(err))
}
