package workerpool

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/shardbroker/pkg/shm"
	"github.com/cuemby/shardbroker/pkg/types"
)

func TestReadyListenerMarksWorkerIdle(t *testing.T) {
	region := shm.NewBrokerRegion(types.BrokerDescriptor{Name: "b1", MinWorkers: 1, MaxWorkers: 2})
	p := New(region, newFakeLauncher(), Config{})
	rl := &ReadyListener{Pool: p, SocketPath: filepath.Join(t.TempDir(), "ready.sock")}

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- rl.Run(stop) }()
	time.Sleep(50 * time.Millisecond)

	region.Workers[1].Mu.Lock()
	region.Workers[1].Liveness = types.LivenessStart
	region.Workers[1].Mu.Unlock()

	require.NoError(t, AnnounceReady(rl.SocketPath, 1))
	time.Sleep(50 * time.Millisecond)

	region.Workers[1].Mu.Lock()
	liveness := region.Workers[1].Liveness
	region.Workers[1].Mu.Unlock()
	require.Equal(t, types.LivenessIdle, liveness)

	close(stop)
	require.NoError(t, <-done)
}
