package migration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/shardbroker/pkg/metastore"
)

type fakeLauncher struct {
	mu    sync.Mutex
	calls []MigratorArgs
	err   error
}

func (f *fakeLauncher) LaunchMigrator(ctx context.Context, host string, args MigratorArgs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	return f.err
}

func (f *fakeLauncher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestOrchestratorWakeOnceFlipsAndLaunches(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := metastore.WrapDB(db)
	launcher := &fakeLauncher{}
	o := NewOrchestrator(store, launcher, Config{MaxMigratorsPerSource: 4, StuckTimeout: time.Minute, WakeInterval: time.Hour})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT src_node_id, status, count").
		WillReturnRows(sqlmock.NewRows([]string{"src_node_id", "status", "count"}).
			AddRow(1, "SCHEDULED", 2))
	mock.ExpectQuery("UPDATE shard_migration SET status").
		WithArgs("MIGRATOR_RUN", sqlmock.AnyArg(), 1, "SCHEDULED", 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)).AddRow(int64(11)))
	mock.ExpectExec("UPDATE shard_migration SET status = \\$1, modified_at = \\$2\\s+WHERE status = \\$3 AND modified_at < \\$4").
		WithArgs("FAILED", sqlmock.AnyArg(), "MIGRATOR_RUN", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	now := time.Now()
	mock.ExpectQuery(`SELECT id, group_id, src_node_id, dest_node_id, status, "order", shard_key_count`).
		WithArgs(int64(10), int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "group_id", "src_node_id", "dest_node_id", "status", "order",
			"shard_key_count", "created_at", "modified_at", "elapsed_millis",
		}).
			AddRow(int64(10), 5, 1, 2, "MIGRATOR_RUN", 0, 100, now, now, int64(0)).
			AddRow(int64(11), 6, 1, 2, "MIGRATOR_RUN", 1, 100, now, now, int64(0)))

	nodeCols := []string{"node_id", "local_db", "host", "port", "status", "version", "host_name", "ha_state"}
	mock.ExpectQuery("SELECT node_id, local_db, host, port, status, version, host_name, ha_state").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(nodeCols).AddRow(1, "d", "10.0.0.1", 1900, "COMPLETE", int64(1), "h1", "SLAVE"))
	mock.ExpectQuery("SELECT node_id, local_db, host, port, status, version, host_name, ha_state").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(nodeCols).AddRow(2, "d", "10.0.0.2", 1900, "COMPLETE", int64(1), "h2", "MASTER"))
	mock.ExpectQuery("SELECT node_id, local_db, host, port, status, version, host_name, ha_state").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(nodeCols).AddRow(1, "d", "10.0.0.1", 1900, "COMPLETE", int64(1), "h1", "SLAVE"))
	mock.ExpectQuery("SELECT node_id, local_db, host, port, status, version, host_name, ha_state").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(nodeCols).AddRow(2, "d", "10.0.0.2", 1900, "COMPLETE", int64(1), "h2", "MASTER"))

	err = o.wakeOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, launcher.callCount())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestratorWakeNoScheduledRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := metastore.WrapDB(db)
	launcher := &fakeLauncher{}
	o := NewOrchestrator(store, launcher, Config{})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT src_node_id, status, count").
		WillReturnRows(sqlmock.NewRows([]string{"src_node_id", "status", "count"}))
	mock.ExpectExec("UPDATE shard_migration SET status = \\$1, modified_at = \\$2\\s+WHERE status = \\$3 AND modified_at < \\$4").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err = o.wakeOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, launcher.callCount())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestratorWakeNonBlocking(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	o := NewOrchestrator(metastore.WrapDB(db), &fakeLauncher{}, Config{})
	o.Wake()
	o.Wake() // second call must not block even though the buffer is full
}
