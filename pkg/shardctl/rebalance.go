package shardctl

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cuemby/shardbroker/pkg/framer"
	"github.com/cuemby/shardbroker/pkg/metastore"
	"github.com/cuemby/shardbroker/pkg/types"
)

type rebalanceCandidate struct {
	groupID int
	src     int
	dest    int
	order   int
}

// handleRebalanceReq implements REBALANCE_REQ (spec.md §4.6, E4/E6): for
// every group owned by a node in the source set (or, if empty_node is set,
// every group not already owned by a destination node), plans a migration
// to a destination chosen round-robin from the destination set, assigns a
// random order via a Fisher-Yates shuffle, then stable-sorts by (src,
// order) before inserting SCHEDULED rows.
func (c *Controller) handleRebalanceReq(ctx context.Context, args RebalanceReqArgs) (Result, error) {
	if len(args.DestNodes) == 0 {
		return Result{}, framer.Err(framer.ErrInvalidArgument, "destination node set must not be empty")
	}
	if err := c.validateNodesExist(ctx, args.SrcNodes); err != nil {
		return Result{}, err
	}
	if err := c.validateNodesExist(ctx, args.DestNodes); err != nil {
		return Result{}, err
	}

	if args.IgnorePrevFail {
		if err := metastore.ClearPreviousJobs(ctx, c.Store.DB(), args.SrcNodes, args.DestNodes); err != nil {
			return Result{}, wrapMetaErr(err)
		}
	}

	destSet := make(map[int]struct{}, len(args.DestNodes))
	for _, d := range args.DestNodes {
		destSet[d] = struct{}{}
	}

	// An empty source set means "every node not in the destination set" —
	// the same plan empty_node=true describes for invariant §8.6; treating
	// them as one condition is an Open Question decision recorded in
	// DESIGN.md, since spec.md's E4 example passes src=[] with
	// empty_node=false and still expects a full evacuation plan.
	var candidates []rebalanceCandidate
	if args.EmptyNode || len(args.SrcNodes) == 0 {
		groups, err := metastore.ListGroupIDs(ctx, c.Store.DB())
		if err != nil {
			return Result{}, wrapMetaErr(err)
		}
		for _, g := range groups {
			if _, isDest := destSet[g.CurrentNodeID]; isDest {
				continue
			}
			candidates = append(candidates, rebalanceCandidate{
				groupID: g.GroupID,
				src:     g.CurrentNodeID,
				dest:    pickDest(args.DestNodes, g.GroupID),
			})
		}
	} else {
		for _, src := range args.SrcNodes {
			groups, err := metastore.ListGroupIDsByNode(ctx, c.Store.DB(), src)
			if err != nil {
				return Result{}, wrapMetaErr(err)
			}
			for _, g := range groups {
				if _, isDest := destSet[g.CurrentNodeID]; isDest {
					continue
				}
				candidates = append(candidates, rebalanceCandidate{
					groupID: g.GroupID,
					src:     g.CurrentNodeID,
					dest:    pickDest(args.DestNodes, g.GroupID),
				})
			}
		}
	}

	if err := shuffleOrder(candidates); err != nil {
		return Result{}, framer.Err(framer.ErrInternal, "shuffling rebalance plan: %v", err)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].src != candidates[j].src {
			return candidates[i].src < candidates[j].src
		}
		return candidates[i].order < candidates[j].order
	})

	planned := 0
	err := c.Store.RunInTx(ctx, func(tx *sql.Tx) error {
		for _, cand := range candidates {
			if cand.src == cand.dest {
				continue
			}
			if _, err := metastore.InsertMigration(ctx, tx, types.ShardMigration{
				GroupID:    cand.groupID,
				SrcNodeID:  cand.src,
				DestNodeID: cand.dest,
				Status:     types.MigrationScheduled,
				Order:      cand.order,
			}); err != nil {
				return err
			}
			planned++
		}
		return nil
	})
	if err != nil {
		return Result{}, wrapMetaErr(err)
	}

	c.wakeOrchestrator()
	return Result{Code: framer.Code(planned)}, nil
}

// pickDest chooses a destination node deterministically from groupID so
// groups spread evenly across the destination set without a second random
// draw per candidate (the shuffle step already randomizes scheduling order).
func pickDest(dest []int, groupID int) int {
	return dest[groupID%len(dest)]
}

func (c *Controller) validateNodesExist(ctx context.Context, nodeIDs []int) error {
	for _, id := range nodeIDs {
		if _, err := metastore.GetNode(ctx, c.Store.DB(), id); err != nil {
			return framer.Err(framer.ErrNodeInfoNotExist, "node %d does not exist", id)
		}
	}
	return nil
}

// shuffleOrder assigns each candidate a random Order via Fisher-Yates over
// a local index buffer, then renumbers 0..n-1 (spec.md §4.6).
func shuffleOrder(candidates []rebalanceCandidate) error {
	n := len(candidates)
	if n == 0 {
		return nil
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j, err := randIntn(i + 1)
		if err != nil {
			return err
		}
		idx[i], idx[j] = idx[j], idx[i]
	}
	for order, i := range idx {
		candidates[i].order = order
	}
	return nil
}

func randIntn(n int) (int, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("shardctl: reading random bytes: %w", err)
	}
	return int(binary.BigEndian.Uint64(buf[:]) % uint64(n)), nil
}

// handleRebalanceJobCount implements REBALANCE_JOB_COUNT: a SQL count by
// status returned directly as the response code (spec.md §4.6).
func (c *Controller) handleRebalanceJobCount(ctx context.Context) (Result, error) {
	n, err := metastore.CountMigrationsByStatuses(ctx, c.Store.DB(), []types.MigrationStatus{
		types.MigrationScheduled, types.MigrationMigratorRun, types.MigrationStarted,
	})
	if err != nil {
		return Result{}, wrapMetaErr(err)
	}
	return Result{Code: framer.Code(n)}, nil
}
