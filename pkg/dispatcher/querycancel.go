package dispatcher

import (
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/cuemby/shardbroker/pkg/shm"
	"github.com/cuemby/shardbroker/pkg/types"
)

// Canceler implements QueryCanceler by verifying the caller's claim against
// the slot's live WorkerDescriptor and delivering SIGINT to the worker
// process, the same signal the original broker uses to interrupt an
// in-progress query without killing the connection.
type Canceler struct {
	Region *shm.BrokerRegion
}

// NewCanceler builds a Canceler for one broker's control region.
func NewCanceler(region *shm.BrokerRegion) *Canceler {
	return &Canceler{Region: region}
}

// CancelQuery signals the worker at slot only if it is currently BUSY,
// holds the claimed pid, and is serving the claimed client address — a
// mismatch on any of these means the slot has since been recycled to a
// different client and the cancel request is stale.
func (c *Canceler) CancelQuery(slot, pid int, clientIP net.IP) error {
	if slot < 0 || slot >= len(c.Region.Workers) {
		return fmt.Errorf("dispatcher: slot %d out of range", slot)
	}
	w := c.Region.Workers[slot]

	w.Mu.Lock()
	matches := w.Pid == pid && w.ClientIP.Equal(clientIP)
	isBusy := w.Liveness == types.LivenessBusy
	w.Mu.Unlock()

	if !matches {
		return fmt.Errorf("dispatcher: slot %d does not match claimed pid/client", slot)
	}
	if !isBusy {
		return fmt.Errorf("dispatcher: slot %d is not serving a request", slot)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("dispatcher: finding process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGINT); err != nil {
		return fmt.Errorf("dispatcher: signaling process %d: %w", pid, err)
	}
	return nil
}
