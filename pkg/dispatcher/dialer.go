package dispatcher

import (
	"fmt"
	"net"
	"path/filepath"
)

// UnixSlotDialer dials a worker's per-slot listening socket for one handoff,
// the path convention workerpool.ProcessLauncher clears before exec'ing a
// fresh worker (spec.md §4.2/§4.3).
type UnixSlotDialer struct {
	SocketDir  string
	BrokerName string
}

// NewUnixSlotDialer builds a UnixSlotDialer for one broker's socket
// directory.
func NewUnixSlotDialer(socketDir, brokerName string) *UnixSlotDialer {
	return &UnixSlotDialer{SocketDir: socketDir, BrokerName: brokerName}
}

func (d *UnixSlotDialer) DialSlot(slot int) (*net.UnixConn, error) {
	path := filepath.Join(d.SocketDir, fmt.Sprintf("%s.%d.sock", d.BrokerName, slot))
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("dispatcher: dialing slot %d socket: %w", slot, err)
	}
	return conn, nil
}
