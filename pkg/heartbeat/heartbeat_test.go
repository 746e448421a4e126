package heartbeat

import (
	"bufio"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTCPClientState(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil || line != "STATE\n" {
			return
		}
		_, _ = conn.Write([]byte("MASTER\n"))
	}()

	c := NewTCPClient(ln.Addr().String())
	state, err := c.State()
	require.NoError(t, err)
	require.Equal(t, StateMaster, state)
}

func TestTCPClientNoAddr(t *testing.T) {
	c := NewTCPClient("")
	_, err := c.State()
	require.Error(t, err)
}

func TestStatic(t *testing.T) {
	s := Static(StateSlave)
	state, err := s.State()
	require.NoError(t, err)
	require.Equal(t, StateSlave, state)
}
