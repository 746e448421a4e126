package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/shardbroker/pkg/log"
	"github.com/cuemby/shardbroker/pkg/metastore"
	"github.com/cuemby/shardbroker/pkg/types"
)

// MigratorArgs names one helper-process launch (spec.md §4.7 step 5).
type MigratorArgs struct {
	GroupID    int
	SrcNodeID  int
	DestNodeID int
	DestHost   string
	DestPort   int
	RunSlave   bool
}

// Launcher starts a migrator helper process on a node's host via that
// node's local-mgmt LAUNCH_PROCESS RPC. Production code dials through
// pkg/client; tests substitute a fake.
type Launcher interface {
	LaunchMigrator(ctx context.Context, host string, args MigratorArgs) error
}

// Config tunes one Orchestrator's wake cycle.
type Config struct {
	MaxMigratorsPerSource int           // spec.md §4.7 step 2
	StuckTimeout          time.Duration // spec.md §4.7 step 4, default 60s
	WakeInterval          time.Duration // spec.md §4.7 step 7, default 60s
}

func (c *Config) setDefaults() {
	if c.MaxMigratorsPerSource == 0 {
		c.MaxMigratorsPerSource = 4
	}
	if c.StuckTimeout == 0 {
		c.StuckTimeout = 60 * time.Second
	}
	if c.WakeInterval == 0 {
		c.WakeInterval = 60 * time.Second
	}
}

// Orchestrator is the Migration Orchestrator (C7): one wake-driven loop
// claiming SCHEDULED rows, launching their migrators, and sweeping stale
// MIGRATOR_RUN rows back to FAILED.
type Orchestrator struct {
	Store    *metastore.Store
	Launcher Launcher
	Cfg      Config

	wake chan struct{}
	log  zerolog.Logger
}

// NewOrchestrator builds an Orchestrator over store, launching helpers
// through launcher.
func NewOrchestrator(store *metastore.Store, launcher Launcher, cfg Config) *Orchestrator {
	cfg.setDefaults()
	return &Orchestrator{
		Store:    store,
		Launcher: launcher,
		Cfg:      cfg,
		wake:     make(chan struct{}, 1),
		log:      log.WithComponent("migration"),
	}
}

// Wake requests an early pass instead of waiting out the full interval;
// pkg/shardctl fires it after MIGRATION_END and REBALANCE_REQ.
// Non-blocking: a pending wake already queued is enough.
func (o *Orchestrator) Wake() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Run drives the wake cycle until ctx is cancelled: one pass immediately,
// then on every WakeInterval tick or explicit Wake() call.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.Cfg.WakeInterval)
	defer ticker.Stop()

	o.runPass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runPass(ctx)
		case <-o.wake:
			o.runPass(ctx)
		}
	}
}

func (o *Orchestrator) runPass(ctx context.Context) {
	if err := o.wakeOnce(ctx); err != nil {
		o.log.Error().Err(err).Msg("migration orchestrator pass failed")
	}
}

// wakeOnce runs exactly one wake cycle (spec.md §4.7 steps 1-7).
func (o *Orchestrator) wakeOnce(ctx context.Context) error {
	now := time.Now()

	var flippedIDs []int64
	var stuckCount int64
	err := o.Store.RunInTx(ctx, func(tx *sql.Tx) error {
		snapshot, err := metastore.SnapshotBySource(ctx, tx)
		if err != nil {
			return err
		}
		for _, src := range snapshot {
			inFlight := src.Counts[types.MigrationMigratorRun] + src.Counts[types.MigrationStarted]
			run := o.Cfg.MaxMigratorsPerSource - inFlight
			if run < 0 {
				run = 0
			}
			if scheduled := src.Counts[types.MigrationScheduled]; run > scheduled {
				run = scheduled
			}
			if run == 0 {
				continue
			}
			ids, err := metastore.FlipScheduledToMigratorRun(ctx, tx, src.SrcNodeID, run, now)
			if err != nil {
				return err
			}
			flippedIDs = append(flippedIDs, ids...)
		}

		stuckCount, err = metastore.MarkStuckMigratorRunFailed(ctx, tx, now.Add(-o.Cfg.StuckTimeout), now)
		return err
	})
	if err != nil {
		return fmt.Errorf("migration: wake transaction: %w", err)
	}
	if stuckCount > 0 {
		o.log.Warn().Int64("count", stuckCount).Msg("migrator-run rows stuck past timeout, marked failed")
	}

	if len(flippedIDs) == 0 {
		return nil
	}
	rows, err := metastore.GetMigrationsByIDs(ctx, o.Store.DB(), flippedIDs)
	if err != nil {
		return fmt.Errorf("migration: reload flipped rows: %w", err)
	}
	for _, row := range rows {
		o.launchOne(ctx, row)
	}
	return nil
}

// launchOne picks a run host for row and fires its migrator launch; failures
// are logged, not retried here — the stuck-row sweep is the retry path.
func (o *Orchestrator) launchOne(ctx context.Context, row types.ShardMigration) {
	lg := log.WithGroupID(row.GroupID)

	src, err := metastore.GetNode(ctx, o.Store.DB(), row.SrcNodeID)
	if err != nil {
		lg.Warn().Err(err).Int("node_id", row.SrcNodeID).Msg("migration launch: source node lookup failed")
		return
	}
	dest, err := metastore.GetNode(ctx, o.Store.DB(), row.DestNodeID)
	if err != nil {
		lg.Warn().Err(err).Int("node_id", row.DestNodeID).Msg("migration launch: dest node lookup failed")
		return
	}

	// The data model records one host per logical node rather than a
	// separate replica set, so "prefer a slave replica of the source node"
	// (spec.md §4.7 step 5) collapses to: run on that node's own host, and
	// pass --run-slave when the node's last-reported HA state is SLAVE.
	runSlave := src.HAState == "SLAVE"

	args := MigratorArgs{
		GroupID:    row.GroupID,
		SrcNodeID:  row.SrcNodeID,
		DestNodeID: row.DestNodeID,
		DestHost:   dest.Host,
		DestPort:   dest.Port,
		RunSlave:   runSlave,
	}
	if err := o.Launcher.LaunchMigrator(ctx, src.Host, args); err != nil {
		lg.Warn().Err(err).Str("host", src.Host).Msg("migrator launch failed")
		return
	}
	lg.Info().Str("host", src.Host).Bool("run_slave", runSlave).Msg("migrator launched")
}
