// Command casworker is the worker (CAS) process a broker's pool manager
// forks per slot. It attaches, announces readiness, and then serves
// handed-off client connections one at a time — accepting and closing
// each, since executing the relayed SQL protocol itself is out of scope
// here (spec.md §1 Non-goals).
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/cuemby/shardbroker/pkg/config"
	"github.com/cuemby/shardbroker/pkg/dispatcher"
	"github.com/cuemby/shardbroker/pkg/log"
	"github.com/cuemby/shardbroker/pkg/types"
	"github.com/cuemby/shardbroker/pkg/workerpool"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: casworker <broker-name> <slot>")
		os.Exit(2)
	}
	brokerName := os.Args[1]
	slot, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "casworker: invalid slot %q: %v\n", os.Args[2], err)
		os.Exit(2)
	}

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stderr})
	lg := log.WithSlot(brokerName, slot)

	if _, err := config.LoadProcessIdentity(); err != nil {
		lg.Fatal().Err(err).Msg("loading process identity")
	}

	socketDir := os.Getenv("SHARDBROKER_SOCKET_DIR")
	if socketDir == "" {
		socketDir = "/tmp/shardbroker"
	}
	slotSock := filepath.Join(socketDir, fmt.Sprintf("%s.%d.sock", brokerName, slot))
	readySock := filepath.Join(socketDir, brokerName+".ready.sock")

	_ = os.Remove(slotSock)
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: slotSock, Net: "unix"})
	if err != nil {
		lg.Fatal().Err(err).Msg("binding slot socket")
	}
	defer ln.Close()

	if err := workerpool.AnnounceReady(readySock, slot); err != nil {
		lg.Warn().Err(err).Msg("initial ready announcement failed")
	}

	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			lg.Warn().Err(err).Msg("accept failed")
			continue
		}
		serveOne(conn, readySock, slot, lg)
	}
}

// serveOne runs the dispatcher handoff handshake for exactly one client
// connection, then re-announces readiness so the slot returns to IDLE.
func serveOne(conn *net.UnixConn, readySock string, slot int, lg zerolog.Logger) {
	if err := serve(conn); err != nil {
		lg.Warn().Err(err).Msg("serving handed-off connection failed")
	}
	if err := workerpool.AnnounceReady(readySock, slot); err != nil {
		lg.Warn().Err(err).Msg("re-announce ready failed")
	}
}

func serve(conn *net.UnixConn) error {
	defer conn.Close()

	status := make([]byte, 1)
	if _, err := io.ReadFull(conn, status); err != nil {
		return fmt.Errorf("casworker: handshake read: %w", err)
	}
	if _, err := conn.Write(status); err != nil {
		return fmt.Errorf("casworker: handshake ack: %w", err)
	}

	fd, _, err := dispatcher.RecvClientFD(conn)
	if err != nil {
		return fmt.Errorf("casworker: receiving client fd: %w", err)
	}
	_ = syscall.Close(fd)

	if _, err := conn.Write([]byte{byte(types.ConnInTran)}); err != nil {
		return fmt.Errorf("casworker: writing status reply: %w", err)
	}
	return nil
}
