package workerpool

import (
	"encoding/binary"
	"io"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/shardbroker/pkg/log"
	"github.com/cuemby/shardbroker/pkg/types"
)

// ReadyListener accepts the one-shot readiness announcement EnsureStarted
// waits on: each worker, right after attaching, dials this broker-local
// Unix socket and writes its slot index as a big-endian uint32, then
// closes. A worker re-announces on this same socket after it finishes
// handling a handed-off connection, which is how a slot returns to IDLE —
// this is "whatever accepts a worker's first control-socket message" that
// Pool.MarkReady's doc comment names, reused for every later idle
// transition too.
type ReadyListener struct {
	Pool       *Pool
	SocketPath string

	log zerolog.Logger
}

// Run binds SocketPath and accepts readiness announcements until stop is
// closed.
func (r *ReadyListener) Run(stop <-chan struct{}) error {
	r.log = log.WithBroker(r.Pool.region.Descriptor.Name)
	_ = os.Remove(r.SocketPath)
	ln, err := net.Listen("unix", r.SocketPath)
	if err != nil {
		return err
	}
	go func() {
		<-stop
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
				r.log.Warn().Err(err).Msg("ready listener accept failed")
				continue
			}
		}
		go r.handle(conn)
	}
}

func (r *ReadyListener) handle(conn net.Conn) {
	defer conn.Close()
	var buf [4]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		r.log.Debug().Err(err).Msg("ready announcement read failed")
		return
	}
	slot := int(binary.BigEndian.Uint32(buf[:]))
	workers := r.Pool.region.Workers
	if slot < 0 || slot >= len(workers) {
		r.log.Warn().Int("slot", slot).Msg("ready announcement for out-of-range slot")
		return
	}

	w := workers[slot]
	w.Mu.Lock()
	w.Liveness = types.LivenessIdle
	w.ConnStatus = types.ConnOutTran
	w.IdleSince = time.Now()
	w.Mu.Unlock()

	r.Pool.MarkReady(slot)
}

// AnnounceReady dials socketPath and announces slot, the client half of
// ReadyListener. Worker processes call this once after attaching and again
// after finishing each handed-off connection.
func AnnounceReady(socketPath string, slot int) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(slot))
	_, err = conn.Write(buf[:])
	return err
}
