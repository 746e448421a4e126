package dispatcher

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/shardbroker/pkg/log"
	"github.com/cuemby/shardbroker/pkg/metrics"
	"github.com/cuemby/shardbroker/pkg/shm"
	"github.com/cuemby/shardbroker/pkg/types"
)

// Pool is the subset of workerpool.Pool the dispatch loop needs: admission
// decisions and triggering a pool expansion (spec.md §4.2/§4.3).
type Pool interface {
	FindIdle() int
	FindAdd(droppingSlot int) int
	EnsureStarted(slot int) (int, error)
}

// SlotDialer opens the control connection to a worker's per-slot listening
// socket.
type SlotDialer interface {
	DialSlot(slot int) (*net.UnixConn, error)
}

// Config tunes the dispatch loop's admission retry behavior.
type Config struct {
	RetrySleep time.Duration // spec.md §4.3: 30ms between admission retries
	MaxRetries int           // 0 means unlimited
}

func (c *Config) setDefaults() {
	if c.RetrySleep == 0 {
		c.RetrySleep = 30 * time.Millisecond
	}
}

// Dispatcher drains a broker's job queue and hands each job to an admitted
// worker slot (spec.md §4.3).
type Dispatcher struct {
	Region *shm.BrokerRegion
	Pool   Pool
	Dialer SlotDialer
	Cfg    Config

	log zerolog.Logger
}

// NewDispatcher builds a Dispatcher for one broker.
func NewDispatcher(region *shm.BrokerRegion, pool Pool, dialer SlotDialer, cfg Config) *Dispatcher {
	cfg.setDefaults()
	return &Dispatcher{
		Region: region,
		Pool:   pool,
		Dialer: dialer,
		Cfg:    cfg,
		log:    log.WithBroker(region.Descriptor.Name),
	}
}

// Run drains jobs until the region's queue is closed (via
// shm.BrokerRegion.CloseQueue).
func (d *Dispatcher) Run() {
	for {
		job, ok := d.Region.WaitForJob()
		if !ok {
			return
		}
		d.dispatch(job)
	}
}

func (d *Dispatcher) dispatch(job *types.JobQueueEntry) {
	timer := metrics.NewTimer()
	name := d.Region.Descriptor.Name

	slot := d.Pool.FindIdle()
	attempts := 0
	askedForAdd := false
	for slot < 0 {
		if !askedForAdd {
			if addSlot := d.Pool.FindAdd(-1); addSlot >= 0 {
				askedForAdd = true
				go func() {
					if _, err := d.Pool.EnsureStarted(addSlot); err != nil {
						d.log.Warn().Err(err).Int("slot", addSlot).Msg("pool expansion failed")
					}
				}()
			}
		}
		d.Region.BumpWaitingPriority()
		time.Sleep(d.Cfg.RetrySleep)
		slot = d.Pool.FindIdle()
		attempts++
		if d.Cfg.MaxRetries > 0 && attempts >= d.Cfg.MaxRetries {
			d.rejectFreeServer(job, name)
			return
		}
	}

	err := d.handoff(slot, job)
	job.ClientConn.Close()
	if err != nil {
		d.log.Warn().Err(err).Int("slot", slot).Msg("handoff failed")
		metrics.ConnectionsRejectedTotal.WithLabelValues(name, "handoff_failed").Inc()
		return
	}
	timer.ObserveDurationVec(metrics.DispatchLatency, name)
}

func (d *Dispatcher) rejectFreeServer(job *types.JobQueueEntry, brokerName string) {
	metrics.ConnectionsRejectedTotal.WithLabelValues(brokerName, "free_server").Inc()
	job.ClientConn.Close()
}

// handoff opens a control connection to the worker at slot, exchanges the
// two-step connection-status handshake, and passes the client fd onward
// (spec.md §4.3). The slot is only marked BUSY once the worker's status
// reply confirms IN_TRAN.
func (d *Dispatcher) handoff(slot int, job *types.JobQueueEntry) error {
	conn, err := d.Dialer.DialSlot(slot)
	if err != nil {
		return fmt.Errorf("dialing slot %d: %w", slot, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{byte(types.ConnInTran)}); err != nil {
		return fmt.Errorf("handshake write: %w", err)
	}
	ack := make([]byte, 1)
	if _, err := io.ReadFull(conn, ack); err != nil {
		return fmt.Errorf("handshake read: %w", err)
	}
	if types.ConnStatus(ack[0]) != types.ConnInTran {
		return fmt.Errorf("worker refused handoff: status %d", ack[0])
	}

	var sendErr error
	if err := fdOf(job.ClientConn, func(fd int) {
		sendErr = SendClientFD(conn, fd, job.ClientIP)
	}); err != nil {
		return err
	}
	if sendErr != nil {
		return sendErr
	}

	status := make([]byte, 1)
	if _, err := io.ReadFull(conn, status); err != nil {
		return fmt.Errorf("reading worker status reply: %w", err)
	}
	if types.ConnStatus(status[0]) != types.ConnInTran {
		return fmt.Errorf("worker reported status %d after handoff", status[0])
	}

	w := d.Region.Workers[slot]
	w.Mu.Lock()
	w.Liveness = types.LivenessBusy
	w.ConnStatus = types.ConnInTran
	w.ClientIP = job.ClientIP
	w.ClientVersion = job.ClientVersion
	w.LastAccess = time.Now()
	w.NumRequests++
	w.Mu.Unlock()
	return nil
}
