package localmgmt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/shardbroker/pkg/framer"
	"github.com/cuemby/shardbroker/pkg/heartbeat"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	conf := NewConfStore(filepath.Join(t.TempDir(), "broker.conf"))
	svc := NewService(conf, NewACL(), NewProcessLauncher(nil), NewShardVersionRing(), heartbeat.Static(heartbeat.StateMaster), "node1")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	svc.Start(ctx)
	return svc
}

func encodeArgs(w *framer.ArgWriter) []framer.Arg {
	args, err := framer.DecodeArgs(w.Finish())
	if err != nil {
		panic(err)
	}
	return args
}

func call(t *testing.T, svc *Service, opcode framer.Opcode, args []framer.Arg) framer.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := svc.Handle(ctx, framer.Request{Header: framer.Header{Opcode: opcode}, Args: args})
	require.NoError(t, err)
	return resp
}

func TestServiceConfRoundTrip(t *testing.T) {
	svc := newTestService(t)

	resp := call(t, svc, framer.OpWriteRyeConf, encodeArgs(framer.NewArgWriter().Str("name broker1\n")))
	require.Equal(t, framer.OK, resp.Code)

	resp = call(t, svc, framer.OpReadRyeFile, nil)
	require.Equal(t, framer.OK, resp.Code)
	require.Equal(t, "name broker1\n", string(resp.Messages[0]))

	resp = call(t, svc, framer.OpUpdateConf, encodeArgs(framer.NewArgWriter().Str("port").Str("1900")))
	require.Equal(t, framer.OK, resp.Code)

	resp = call(t, svc, framer.OpGetConf, encodeArgs(framer.NewArgWriter().Str("port")))
	require.Equal(t, framer.OK, resp.Code)
	require.Equal(t, "1900", string(resp.Messages[0]))
	require.Equal(t, byte(1), resp.Messages[1][0])

	resp = call(t, svc, framer.OpDeleteConf, encodeArgs(framer.NewArgWriter().Str("port")))
	require.Equal(t, framer.OK, resp.Code)

	resp = call(t, svc, framer.OpGetConf, encodeArgs(framer.NewArgWriter().Str("port")))
	require.Equal(t, framer.OK, resp.Code)
	require.Equal(t, byte(0), resp.Messages[1][0])
}

func TestServiceACLReload(t *testing.T) {
	svc := newTestService(t)
	resp := call(t, svc, framer.OpACLReload, encodeArgs(framer.NewArgWriter().StrArray([]string{"broker1:10.0.0.1,10.0.0.2"})))
	require.Equal(t, framer.OK, resp.Code)
	require.True(t, svc.ACL.Allowed("broker1", "10.0.0.1"))
	require.False(t, svc.ACL.Allowed("broker1", "10.0.0.9"))
}

func TestServiceSyncShardMgmtInfo(t *testing.T) {
	svc := newTestService(t)
	resp := call(t, svc, framer.OpSyncShardMgmtInfo, encodeArgs(framer.NewArgWriter().Int64(4).Int64(9).Int(1900)))
	require.Equal(t, framer.OK, resp.Code)
	require.Equal(t, "node1", string(resp.Messages[0]))
	require.Equal(t, string(heartbeat.StateMaster), string(resp.Messages[1]))

	require.Equal(t, 1, svc.Versions.Count())
	latest, ok := svc.Versions.Latest()
	require.True(t, ok)
	require.EqualValues(t, 4, latest.NodeVersion)
	require.EqualValues(t, 9, latest.GroupIDVersion)
	require.Equal(t, 1900, latest.Port)
}

func TestServiceNumShardVersionInfo(t *testing.T) {
	svc := newTestService(t)
	svc.Versions.Push(ShardVersionInfo{NodeVersion: 1})
	svc.Versions.Push(ShardVersionInfo{NodeVersion: 2})
	resp := call(t, svc, framer.OpNumShardVersionInfo, nil)
	require.EqualValues(t, 2, resp.Code)
}

func TestServiceLaunchProcess(t *testing.T) {
	conf := NewConfStore(filepath.Join(t.TempDir(), "broker.conf"))
	svc := NewService(conf, NewACL(), NewProcessLauncher(map[ProcessKind]string{ProcessCopyLog: "/bin/echo"}), NewShardVersionRing(), heartbeat.Static(heartbeat.StateSlave), "node1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	resp := call(t, svc, framer.OpLaunchProcess, encodeArgs(framer.NewArgWriter().
		Str(string(ProcessCopyLog)).StrArray([]string{"hi"}).StrArray(nil).Int(0)))
	require.Equal(t, framer.OK, resp.Code)
	require.Len(t, resp.Messages, 1)
	require.Len(t, resp.Messages[0], 8)
}

func TestServiceLaunchProcessWaits(t *testing.T) {
	conf := NewConfStore(filepath.Join(t.TempDir(), "broker.conf"))
	svc := NewService(conf, NewACL(), NewProcessLauncher(map[ProcessKind]string{ProcessSchemaMigration: "/bin/echo"}), NewShardVersionRing(), heartbeat.Static(heartbeat.StateSlave), "node1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	resp := call(t, svc, framer.OpLaunchProcess, encodeArgs(framer.NewArgWriter().
		Str(string(ProcessSchemaMigration)).StrArray([]string{"1", "db", "host", "1900"}).StrArray(nil).Int(-1)))
	require.Equal(t, framer.OK, resp.Code)
	require.Len(t, resp.Messages, 2)
	require.Len(t, resp.Messages[0], 8)
	require.Equal(t, byte(0), resp.Messages[1][0])
}

func TestServiceUnknownOpcode(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := svc.Handle(ctx, framer.Request{Header: framer.Header{Opcode: framer.OpPing}})
	require.Error(t, err)
	require.Equal(t, framer.ErrInvalidOpcode, framer.CodeOf(err))
}
