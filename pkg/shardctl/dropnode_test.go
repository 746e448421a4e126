package shardctl

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/shardbroker/pkg/framer"
)

func nodeRow(id int, localDB, host string, port int, status string, version int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"node_id", "local_db", "host", "port", "status", "version", "host_name", "ha_state",
	}).AddRow(id, localDB, host, port, status, version, "", "")
}

func TestHandleDropNodeSucceeds(t *testing.T) {
	ctl, mock := newTestController(t)
	mock.MatchExpectationsInOrder(true)

	mock.ExpectQuery("SELECT global_dbname").WillReturnRows(shardDBRow())
	mock.ExpectQuery("SELECT node_id, local_db, host, port, status, version, host_name, ha_state").
		WillReturnRows(nodeRow(3, "db3", "10.0.0.3", 8001, "COMPLETE", int64(3)))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM shard_groupid").WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM shard_node").WithArgs(3).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("UPDATE shard_db").WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"node_last_ver"}).AddRow(int64(4)))
	mock.ExpectCommit()

	res, err := ctl.Handle(context.Background(), Request{
		Kind:     KindDropNode,
		DropNode: &DropNodeArgs{NodeID: 3, DropAll: true},
	})
	require.NoError(t, err)
	require.Equal(t, framer.OK, res.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleDropNodeRefusesWhileAddInProgress(t *testing.T) {
	ctl, mock := newTestController(t)
	row := sqlmock.NewRows([]string{
		"global_dbname", "group_count", "groupid_last_ver", "node_last_ver",
		"mig_req_count", "ddl_req_count", "gc_req_count", "node_status", "created_at",
	}).AddRow("G", 4, int64(1), int64(2), 0, 0, 0, "EXIST_INVALID", time.Now())
	mock.ExpectQuery("SELECT global_dbname").WillReturnRows(row)

	_, err := ctl.Handle(context.Background(), Request{
		Kind:     KindDropNode,
		DropNode: &DropNodeArgs{NodeID: 3},
	})
	require.Equal(t, framer.ErrNodeAddInProgress, framer.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleDropNodeRefusesWhenGroupsStillOwned(t *testing.T) {
	ctl, mock := newTestController(t)
	mock.MatchExpectationsInOrder(true)

	mock.ExpectQuery("SELECT global_dbname").WillReturnRows(shardDBRow())
	mock.ExpectQuery("SELECT node_id, local_db, host, port, status, version, host_name, ha_state").
		WillReturnRows(nodeRow(3, "db3", "10.0.0.3", 8001, "COMPLETE", int64(3)))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM shard_groupid").WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(2))

	_, err := ctl.Handle(context.Background(), Request{
		Kind:     KindDropNode,
		DropNode: &DropNodeArgs{NodeID: 3, DropAll: true},
	})
	require.Equal(t, framer.ErrNodeInUse, framer.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleDropNodeRejectsTupleMismatch(t *testing.T) {
	ctl, mock := newTestController(t)
	mock.MatchExpectationsInOrder(true)

	mock.ExpectQuery("SELECT global_dbname").WillReturnRows(shardDBRow())
	mock.ExpectQuery("SELECT node_id, local_db, host, port, status, version, host_name, ha_state").
		WillReturnRows(nodeRow(3, "db3", "10.0.0.3", 8001, "COMPLETE", int64(3)))

	_, err := ctl.Handle(context.Background(), Request{
		Kind: KindDropNode,
		DropNode: &DropNodeArgs{
			NodeID: 3, LocalDB: "wrong", Host: "10.0.0.3", Port: 8001,
		},
	})
	require.Equal(t, framer.ErrNodeInfoNotExist, framer.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
