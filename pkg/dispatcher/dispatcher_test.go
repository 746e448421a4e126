package dispatcher

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/shardbroker/pkg/shm"
	"github.com/cuemby/shardbroker/pkg/types"
)

type fakePool struct {
	mu         sync.Mutex
	idleSlot   int32
	addCalls   int32
	ensureHits int32
}

func (f *fakePool) FindIdle() int {
	return int(atomic.LoadInt32(&f.idleSlot))
}

func (f *fakePool) FindAdd(droppingSlot int) int {
	atomic.AddInt32(&f.addCalls, 1)
	return -1
}

func (f *fakePool) EnsureStarted(slot int) (int, error) {
	atomic.AddInt32(&f.ensureHits, 1)
	return 0, nil
}

func (f *fakePool) setIdle(slot int) {
	atomic.StoreInt32(&f.idleSlot, int32(slot))
}

// fakeSlotDialer dials a fixed Unix-domain socket path regardless of slot,
// standing in for the per-slot socket directory layout in production.
type fakeSlotDialer struct {
	path string
}

func (d *fakeSlotDialer) DialSlot(slot int) (*net.UnixConn, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: d.path, Net: "unix"})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// runFakeWorker accepts exactly one control connection on ln, performs the
// handshake and fd receipt a real CAS worker would, and reports whether it
// observed a fd.
func runFakeWorker(t *testing.T, ln *net.UnixListener, gotFD chan<- bool) {
	conn, err := ln.AcceptUnix()
	if err != nil {
		gotFD <- false
		return
	}
	defer conn.Close()

	ack := make([]byte, 1)
	if _, err := conn.Read(ack); err != nil {
		gotFD <- false
		return
	}
	if _, err := conn.Write([]byte{byte(types.ConnInTran)}); err != nil {
		gotFD <- false
		return
	}

	fd, _, err := RecvClientFD(conn)
	if err != nil {
		gotFD <- false
		return
	}
	os.NewFile(uintptr(fd), "received-client").Close()

	if _, err := conn.Write([]byte{byte(types.ConnInTran)}); err != nil {
		gotFD <- false
		return
	}
	gotFD <- true
}

func newUnixPair(t *testing.T, dir string) (clientSide *net.UnixConn, serverSide *net.UnixConn) {
	sockPath := filepath.Join(dir, "client.sock")
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: sockPath, Net: "unix"})
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *net.UnixConn, 1)
	go func() {
		c, err := ln.AcceptUnix()
		require.NoError(t, err)
		accepted <- c
	}()

	client, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: sockPath, Net: "unix"})
	require.NoError(t, err)

	server := <-accepted
	return client, server
}

func TestDispatcherHandoffPassesClientFD(t *testing.T) {
	dir := t.TempDir()
	workerSockPath := filepath.Join(dir, "worker.sock")
	workerLn, err := net.ListenUnix("unix", &net.UnixAddr{Name: workerSockPath, Net: "unix"})
	require.NoError(t, err)
	defer workerLn.Close()

	gotFD := make(chan bool, 1)
	go runFakeWorker(t, workerLn, gotFD)

	_, clientConnServerSide := newUnixPair(t, dir)
	defer clientConnServerSide.Close()

	desc := types.BrokerDescriptor{Name: "test_broker", Role: types.BrokerRoleNormal, MinWorkers: 1, MaxWorkers: 2}
	region := shm.NewBrokerRegion(desc)

	pool := &fakePool{}
	pool.setIdle(0)
	dialer := &fakeSlotDialer{path: workerSockPath}

	d := NewDispatcher(region, pool, dialer, Config{RetrySleep: time.Millisecond})

	job := &types.JobQueueEntry{
		ClientConn: clientConnServerSide,
		ClientIP:   net.ParseIP("127.0.0.1"),
		ReceivedAt: time.Now(),
	}
	require.NoError(t, region.EnqueueJob(job))

	done := make(chan struct{})
	go func() {
		dequeued, ok := region.WaitForJob()
		require.True(t, ok)
		d.dispatch(dequeued)
		close(done)
	}()

	select {
	case ok := <-gotFD:
		require.True(t, ok, "worker should have received the client fd")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker to receive fd")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch to finish")
	}

	region.Workers[0].Mu.Lock()
	liveness := region.Workers[0].Liveness
	region.Workers[0].Mu.Unlock()
	require.Equal(t, types.LivenessBusy, liveness)
}

func TestDispatcherRetriesThenExpandsPoolOnNoIdleSlot(t *testing.T) {
	desc := types.BrokerDescriptor{Name: "test_broker", Role: types.BrokerRoleNormal, MinWorkers: 1, MaxWorkers: 2}
	region := shm.NewBrokerRegion(desc)

	pool := &fakePool{idleSlot: -1}
	dialer := &fakeSlotDialer{path: filepath.Join(t.TempDir(), "unused.sock")}
	d := NewDispatcher(region, pool, dialer, Config{RetrySleep: time.Millisecond, MaxRetries: 5})

	job := &types.JobQueueEntry{
		ClientConn: &net.UnixConn{},
		ClientIP:   net.ParseIP("127.0.0.1"),
		ReceivedAt: time.Now(),
	}
	require.NoError(t, region.EnqueueJob(job))

	dequeued, ok := region.WaitForJob()
	require.True(t, ok)
	d.dispatch(dequeued)

	require.GreaterOrEqual(t, atomic.LoadInt32(&pool.addCalls), int32(1))
}

func TestCancelQueryRejectsMismatchedClaim(t *testing.T) {
	desc := types.BrokerDescriptor{Name: "test_broker", Role: types.BrokerRoleNormal, MinWorkers: 1, MaxWorkers: 1}
	region := shm.NewBrokerRegion(desc)
	region.Workers[0].Pid = 4242
	region.Workers[0].Liveness = types.LivenessBusy
	region.Workers[0].ClientIP = net.ParseIP("10.0.0.5")

	c := NewCanceler(region)
	err := c.CancelQuery(0, 9999, net.ParseIP("10.0.0.5"))
	require.Error(t, err)
}

func TestCancelQueryRejectsIdleSlot(t *testing.T) {
	desc := types.BrokerDescriptor{Name: "test_broker", Role: types.BrokerRoleNormal, MinWorkers: 1, MaxWorkers: 1}
	region := shm.NewBrokerRegion(desc)
	region.Workers[0].Pid = 4242
	region.Workers[0].Liveness = types.LivenessIdle
	region.Workers[0].ClientIP = net.ParseIP("10.0.0.5")

	c := NewCanceler(region)
	err := c.CancelQuery(0, 4242, net.ParseIP("10.0.0.5"))
	require.Error(t, err)
}
