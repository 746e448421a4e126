package shardctl

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/shardbroker/pkg/framer"
)

// TestHandleRebalanceReqEvacuatesEmptySourceSet is spec.md §8's E4:
// REBALANCE_REQ(src=[], dest=[3], empty_node=false) plans a migration for
// every group not already owned by node 3 and returns a count equal to the
// number of shard_migration rows it inserted, all SCHEDULED with
// dest_nodeid 3.
func TestHandleRebalanceReqEvacuatesEmptySourceSet(t *testing.T) {
	ctl, mock := newTestController(t)
	mock.MatchExpectationsInOrder(true)

	mock.ExpectQuery("SELECT node_id, local_db, host, port, status, version, host_name, ha_state").
		WithArgs(3).WillReturnRows(nodeRow(3, "db3", "10.0.0.3", 8001, "COMPLETE", int64(3)))

	mock.ExpectQuery("SELECT group_id, current_node_id, version FROM shard_groupid ORDER BY group_id").
		WillReturnRows(sqlmock.NewRows([]string{"group_id", "current_node_id", "version"}).
			AddRow(1, 1, int64(1)).
			AddRow(2, 1, int64(1)).
			AddRow(3, 2, int64(1)).
			AddRow(4, 2, int64(1)))

	mock.ExpectBegin()
	for i := 0; i < 4; i++ {
		mock.ExpectQuery("INSERT INTO shard_migration").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(i + 1)))
	}
	mock.ExpectCommit()

	res, err := ctl.Handle(context.Background(), Request{
		Kind: KindRebalanceReq,
		RebalanceReq: &RebalanceReqArgs{
			SrcNodes:  nil,
			DestNodes: []int{3},
			EmptyNode: false,
		},
	})
	require.NoError(t, err)
	require.Equal(t, framer.Code(4), res.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleRebalanceReqRejectsEmptyDestSet(t *testing.T) {
	ctl, _ := newTestController(t)
	_, err := ctl.Handle(context.Background(), Request{
		Kind:         KindRebalanceReq,
		RebalanceReq: &RebalanceReqArgs{SrcNodes: []int{1}},
	})
	require.Equal(t, framer.ErrInvalidArgument, framer.CodeOf(err))
}

func TestHandleRebalanceReqRejectsUnknownDestNode(t *testing.T) {
	ctl, mock := newTestController(t)
	mock.ExpectQuery("SELECT node_id, local_db, host, port, status, version, host_name, ha_state").
		WithArgs(9).WillReturnError(sqlmock.ErrCancelled)

	_, err := ctl.Handle(context.Background(), Request{
		Kind:         KindRebalanceReq,
		RebalanceReq: &RebalanceReqArgs{DestNodes: []int{9}},
	})
	require.Equal(t, framer.ErrNodeInfoNotExist, framer.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleRebalanceJobCountSumsInFlightStatuses(t *testing.T) {
	ctl, mock := newTestController(t)
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM shard_migration").WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(5))

	res, err := ctl.Handle(context.Background(), Request{Kind: KindRebalanceJobCount})
	require.NoError(t, err)
	require.Equal(t, framer.Code(5), res.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
