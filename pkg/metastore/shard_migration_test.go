package metastore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/shardbroker/pkg/types"
)

func TestGetMigrationsByIDsEmpty(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	out, err := GetMigrationsByIDs(context.Background(), db, nil)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestGetMigrationsByIDsScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "group_id", "src_node_id", "dest_node_id", "status", "order",
		"shard_key_count", "created_at", "modified_at", "elapsed_millis",
	}).AddRow(int64(7), 3, 1, 2, "MIGRATOR_RUN", 0, 100, now, now, int64(0))

	mock.ExpectQuery(`SELECT id, group_id, src_node_id, dest_node_id, status, "order", shard_key_count`).
		WithArgs(int64(7)).WillReturnRows(rows)

	out, err := GetMigrationsByIDs(context.Background(), db, []int64{7})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 3, out[0].GroupID)
	require.Equal(t, types.MigrationMigratorRun, out[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
