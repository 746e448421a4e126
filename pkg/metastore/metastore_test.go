package metastore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/shardbroker/pkg/types"
)

func TestSeedGroupIDsCeilDivision(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// groupCount=4, 2 nodes -> 2 groups each, groups assigned in node order.
	mock.ExpectExec("INSERT INTO shard_groupid").WithArgs(1, 1, int64(1)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO shard_groupid").WithArgs(2, 1, int64(1)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO shard_groupid").WithArgs(3, 2, int64(1)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO shard_groupid").WithArgs(4, 2, int64(1)).WillReturnResult(sqlmock.NewResult(1, 1))

	err = SeedGroupIDs(context.Background(), db, 4, []int{1, 2, 1}, 1)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedGroupIDsRejectsNonPositiveCount(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = SeedGroupIDs(context.Background(), db, 0, []int{1}, 1)
	require.Error(t, err)
}

func TestGetShardDBScansRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Unix(0, 0).UTC()
	rows := sqlmock.NewRows([]string{
		"global_dbname", "group_count", "groupid_last_ver", "node_last_ver",
		"mig_req_count", "ddl_req_count", "gc_req_count", "node_status", "created_at",
	}).AddRow("G", 4, int64(1), int64(2), 0, 0, 0, "ALL_VALID", now)
	mock.ExpectQuery("SELECT global_dbname").WillReturnRows(rows)

	out, err := GetShardDB(context.Background(), db)
	require.NoError(t, err)
	require.Equal(t, "G", out.GlobalDBName)
	require.Equal(t, types.NodeStatusAllValid, out.NodeStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateNodeStatusErrorsWhenNoRowsAffected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE shard_node").WillReturnResult(sqlmock.NewResult(0, 0))

	err = UpdateNodeStatus(context.Background(), db, 99, types.ShardNodeComplete, 3)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteArrayStopsAtFirstError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE ok").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE bad").WillReturnError(sqlmock.ErrCancelled)

	err = ExecuteArray(context.Background(), db, []Statement{
		{SQL: "CREATE TABLE ok"},
		{SQL: "CREATE TABLE bad"},
		{SQL: "CREATE TABLE never_reached"},
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteArrayEnforcesMinAffected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE shard_groupid").WillReturnResult(sqlmock.NewResult(0, 0))

	err = ExecuteArray(context.Background(), db, []Statement{
		{SQL: "UPDATE shard_groupid SET version = version + 1", MinAffected: 1},
	})
	require.Error(t, err)
}

func TestCountMigrationsByStatusesEmptyReturnsZero(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	n, err := CountMigrationsByStatuses(context.Background(), db, nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestMarkStuckMigratorRunFailedReportsCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE shard_migration").WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := MarkStuckMigratorRunFailed(context.Background(), db, time.Now().Add(-time.Minute), time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
