package shardctl

import (
	"context"

	"github.com/cuemby/shardbroker/pkg/framer"
	"github.com/cuemby/shardbroker/pkg/metastore"
)

// handleDDLStart implements DDL_START (spec.md §4.6): if mig_req_count > 0
// the caller's Session queues and retries, applying its own timeout; once
// admitted this increments ddl_req_count.
func (c *Controller) handleDDLStart(ctx context.Context, args DDLArgs) (Result, error) {
	db, err := metastore.GetShardDB(ctx, c.Store.DB())
	if err != nil {
		return Result{}, wrapMetaErr(err)
	}
	if db.MigReqCount > 0 {
		return Result{}, framer.Err(framer.ErrRequestTimeout, "a migration is in flight, retry")
	}
	if err := metastore.AdjustDDLReqCount(ctx, c.Store.DB(), 1); err != nil {
		return Result{}, wrapMetaErr(err)
	}
	return Result{Code: framer.OK}, nil
}

// handleDDLEnd decrements ddl_req_count — the matching end message or its
// compensation when the client disconnects mid-DDL (spec.md §4.6).
func (c *Controller) handleDDLEnd(ctx context.Context) (Result, error) {
	if err := metastore.AdjustDDLReqCount(ctx, c.Store.DB(), -1); err != nil {
		return Result{}, wrapMetaErr(err)
	}
	return Result{Code: framer.OK}, nil
}

// CompensateDDL runs DDL_END automatically when a session's peer
// disconnects before sending it (spec.md E6).
func (c *Controller) CompensateDDL(ctx context.Context) {
	if _, err := c.handleDDLEnd(ctx); err != nil {
		c.log.Warn().Err(err).Msg("ddl_end compensation failed")
	}
}

// handleGCStart implements GC_START (spec.md §4.6): mirrors DDL but refuses
// outright (no queueing) if any migration is in flight.
func (c *Controller) handleGCStart(ctx context.Context, args DDLArgs) (Result, error) {
	db, err := metastore.GetShardDB(ctx, c.Store.DB())
	if err != nil {
		return Result{}, wrapMetaErr(err)
	}
	if db.MigReqCount > 0 {
		return Result{}, framer.Err(framer.ErrRebalanceRunning, "a migration is in flight")
	}
	if err := metastore.AdjustGCReqCount(ctx, c.Store.DB(), 1); err != nil {
		return Result{}, wrapMetaErr(err)
	}
	return Result{Code: framer.OK}, nil
}

// handleGCEnd decrements gc_req_count.
func (c *Controller) handleGCEnd(ctx context.Context) (Result, error) {
	if err := metastore.AdjustGCReqCount(ctx, c.Store.DB(), -1); err != nil {
		return Result{}, wrapMetaErr(err)
	}
	return Result{Code: framer.OK}, nil
}

// CompensateGC runs GC_END automatically on an abandoned GC session.
func (c *Controller) CompensateGC(ctx context.Context) {
	if _, err := c.handleGCEnd(ctx); err != nil {
		c.log.Warn().Err(err).Msg("gc_end compensation failed")
	}
}
