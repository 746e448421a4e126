package shardctl

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/shardbroker/pkg/framer"
)

type fakeLauncher struct {
	schemaErr error
	globalErr error
	calls     []string
}

func (f *fakeLauncher) LaunchSchemaMigration(ctx context.Context, host string, node InitNode) error {
	f.calls = append(f.calls, "schema:"+host)
	return f.schemaErr
}

func (f *fakeLauncher) LaunchGlobalTableMigration(ctx context.Context, host string, node InitNode) error {
	f.calls = append(f.calls, "global:"+host)
	return f.globalErr
}

func existingNodesRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"node_id", "local_db", "host", "port", "status", "version", "host_name", "ha_state",
	}).AddRow(1, "db1", "10.0.0.1", 8000, "COMPLETE", int64(1), "", "").
		AddRow(2, "db2", "10.0.0.2", 8000, "COMPLETE", int64(2), "", "")
}

// TestHandleAddNodeSucceeds is spec.md §8's E3: ADD_NODE(node=(3,...)) with
// a reachable launcher succeeds, the new row lands COMPLETE, and
// node_status is restored to ALL_VALID.
func TestHandleAddNodeSucceeds(t *testing.T) {
	ctl, mock := newTestController(t)
	launcher := &fakeLauncher{}
	ctl.Launcher = launcher
	mock.MatchExpectationsInOrder(true)

	mock.ExpectQuery("SELECT global_dbname").WillReturnRows(shardDBRow())
	mock.ExpectQuery("SELECT node_id, local_db, host, port, status, version, host_name, ha_state").
		WillReturnRows(existingNodesRows())
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM shard_migration").WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE shard_db SET node_status").WithArgs("EXIST_INVALID").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("UPDATE shard_db").WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"node_last_ver"}).AddRow(int64(3)))
	mock.ExpectExec("INSERT INTO shard_node").
		WithArgs(3, "db3", "10.0.0.3", 8001, "SCHEMA_COMPLETE", int64(3)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE shard_node SET status").WithArgs("COMPLETE", int64(3), 3).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE shard_db SET node_status").WithArgs("ALL_VALID").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	res, err := ctl.Handle(context.Background(), Request{
		Kind: KindAddNode,
		AddNode: &AddNodeArgs{
			Node: InitNode{NodeID: 3, LocalDB: "db3", Host: "10.0.0.3", Port: 8001},
		},
	})
	require.NoError(t, err)
	require.Equal(t, framer.OK, res.Code)
	require.Equal(t, []string{"schema:10.0.0.1", "global:10.0.0.1"}, launcher.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleAddNodeRejectsExistingID(t *testing.T) {
	ctl, mock := newTestController(t)
	mock.ExpectQuery("SELECT global_dbname").WillReturnRows(shardDBRow())
	mock.ExpectQuery("SELECT node_id, local_db, host, port, status, version, host_name, ha_state").
		WillReturnRows(existingNodesRows())

	_, err := ctl.Handle(context.Background(), Request{
		Kind:    KindAddNode,
		AddNode: &AddNodeArgs{Node: InitNode{NodeID: 2, LocalDB: "db2", Host: "10.0.0.2", Port: 8000}},
	})
	require.Equal(t, framer.ErrNodeInfoExist, framer.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleAddNodeRejectsWhileAnotherAddInFlight(t *testing.T) {
	ctl, mock := newTestController(t)
	row := sqlmock.NewRows([]string{
		"global_dbname", "group_count", "groupid_last_ver", "node_last_ver",
		"mig_req_count", "ddl_req_count", "gc_req_count", "node_status", "created_at",
	}).AddRow("G", 4, int64(1), int64(2), 0, 0, 0, "EXIST_INVALID", time.Now())
	mock.ExpectQuery("SELECT global_dbname").WillReturnRows(row)

	_, err := ctl.Handle(context.Background(), Request{
		Kind:    KindAddNode,
		AddNode: &AddNodeArgs{Node: InitNode{NodeID: 3}},
	})
	require.Equal(t, framer.ErrNodeAddInProgress, framer.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestHandleAddNodeRecoversOnSchemaMigrationFailure covers the phase-(a)
// failure path: when the launcher's schema migration fails, the handler
// runs a second transaction deleting the partial node row and restoring
// node_status, and returns BR_ER_SCHEMA_MIGRATION_FAIL rather than leaving
// the cluster stuck EXIST_INVALID.
func TestHandleAddNodeRecoversOnSchemaMigrationFailure(t *testing.T) {
	ctl, mock := newTestController(t)
	launcher := &fakeLauncher{schemaErr: fmt.Errorf("connection refused")}
	ctl.Launcher = launcher
	mock.MatchExpectationsInOrder(true)

	mock.ExpectQuery("SELECT global_dbname").WillReturnRows(shardDBRow())
	mock.ExpectQuery("SELECT node_id, local_db, host, port, status, version, host_name, ha_state").
		WillReturnRows(existingNodesRows())
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM shard_migration").WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE shard_db SET node_status").WithArgs("EXIST_INVALID").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("UPDATE shard_db").WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"node_last_ver"}).AddRow(int64(3)))
	mock.ExpectExec("INSERT INTO shard_node").
		WithArgs(3, "db3", "10.0.0.3", 8001, "SCHEMA_COMPLETE", int64(3)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM shard_node").WithArgs(3).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE shard_db SET node_status").WithArgs("ALL_VALID").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err := ctl.Handle(context.Background(), Request{
		Kind: KindAddNode,
		AddNode: &AddNodeArgs{
			Node: InitNode{NodeID: 3, LocalDB: "db3", Host: "10.0.0.3", Port: 8001},
		},
	})
	require.Equal(t, framer.ErrSchemaMigrationFail, framer.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
