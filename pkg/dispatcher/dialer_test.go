package dispatcher

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnixSlotDialerDialsExpectedPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker1.2.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		conn.Close()
		close(done)
	}()

	d := NewUnixSlotDialer(dir, "broker1")
	conn, err := d.DialSlot(2)
	require.NoError(t, err)
	conn.Close()
	<-done
}

func TestUnixSlotDialerMissingSocket(t *testing.T) {
	d := NewUnixSlotDialer(t.TempDir(), "broker1")
	_, err := d.DialSlot(0)
	require.Error(t, err)
}
