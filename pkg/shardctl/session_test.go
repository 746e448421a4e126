package shardctl

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/shardbroker/pkg/metastore"
)

func newTestController(t *testing.T) (*Controller, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewController(metastore.WrapDB(db), nil), mock
}

func shardDBRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"global_dbname", "group_count", "groupid_last_ver", "node_last_ver",
		"mig_req_count", "ddl_req_count", "gc_req_count", "node_status", "created_at",
	}).AddRow("G", 4, int64(1), int64(2), 0, 0, 0, "ALL_VALID", time.Now())
}

func TestSessionCompensatesDDLOnClose(t *testing.T) {
	ctl, mock := newTestController(t)
	mock.ExpectQuery("SELECT global_dbname").WillReturnRows(shardDBRow())
	mock.ExpectExec("UPDATE shard_db SET ddl_req_count").
		WithArgs(1).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE shard_db SET ddl_req_count").
		WithArgs(-1).WillReturnResult(sqlmock.NewResult(1, 1))

	sess := NewSession(ctl)
	_, err := sess.Handle(context.Background(), Request{Kind: KindDDLStart, DDLStart: &DDLArgs{TimeoutSec: 30}})
	require.NoError(t, err)

	sess.Close(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionClearsAwaitingOnMatchingEnd(t *testing.T) {
	ctl, mock := newTestController(t)
	mock.ExpectQuery("SELECT global_dbname").WillReturnRows(shardDBRow())
	mock.ExpectExec("UPDATE shard_db SET gc_req_count").
		WithArgs(1).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE shard_db SET gc_req_count").
		WithArgs(-1).WillReturnResult(sqlmock.NewResult(1, 1))

	sess := NewSession(ctl)
	_, err := sess.Handle(context.Background(), Request{Kind: KindGCStart, GCStart: &DDLArgs{}})
	require.NoError(t, err)
	_, err = sess.Handle(context.Background(), Request{Kind: KindGCEnd, GCEnd: &struct{}{}})
	require.NoError(t, err)

	// Close after the matching end must not run a second compensation.
	sess.Close(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}
