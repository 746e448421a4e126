package dispatcher

import (
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/shardbroker/pkg/framer"
	"github.com/cuemby/shardbroker/pkg/log"
	"github.com/cuemby/shardbroker/pkg/metrics"
	"github.com/cuemby/shardbroker/pkg/shm"
	"github.com/cuemby/shardbroker/pkg/types"
)

// AdmissionGate reports whether the hang detector wants new connections
// refused without being handed any work (spec.md §4.2/§4.3).
type AdmissionGate interface {
	RejectClient() bool
}

// QueryCanceler delivers a cancellation signal to the worker occupying a
// slot, after the acceptor has verified the caller's claim against it.
type QueryCanceler interface {
	CancelQuery(slot, pid int, clientIP net.IP) error
}

// Acceptor is the per-broker listener loop: one request in, either an
// inline reply (PING, QUERY_CANCEL) or a job-queue entry (CAS_CONNECT).
type Acceptor struct {
	Region   *shm.BrokerRegion
	Gate     AdmissionGate
	Canceler QueryCanceler

	log zerolog.Logger
}

// NewAcceptor builds an Acceptor for one broker's control region.
func NewAcceptor(region *shm.BrokerRegion, gate AdmissionGate, canceler QueryCanceler) *Acceptor {
	return &Acceptor{
		Region:   region,
		Gate:     gate,
		Canceler: canceler,
		log:      log.WithBroker(region.Descriptor.Name),
	}
}

// Run accepts connections from ln until stop is closed.
func (a *Acceptor) Run(ln *net.UnixListener, stop <-chan struct{}) {
	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			select {
			case <-stop:
				return
			default:
				a.log.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		go a.handle(conn)
	}
}

func (a *Acceptor) handle(conn *net.UnixConn) {
	defer conn.Close()

	req, err := framer.ReadRequest(conn)
	if err != nil {
		a.reply(conn, framer.Response{Code: framer.CodeOf(err)})
		return
	}

	switch req.Header.Opcode {
	case framer.OpPing:
		a.reply(conn, framer.Response{Code: framer.OK})
	case framer.OpQueryCancel:
		a.handleQueryCancel(conn, req)
	case framer.OpCASConnect:
		a.handleCASConnect(conn, req)
	case framer.OpCASChangeMode:
		a.handleChangeMode(conn, req)
	default:
		a.reply(conn, framer.Response{Code: framer.ErrInvalidOpcode})
	}
}

func (a *Acceptor) handleCASConnect(conn *net.UnixConn, req framer.Request) {
	name := a.Region.Descriptor.Name
	if a.Gate != nil && a.Gate.RejectClient() {
		metrics.ConnectionsRejectedTotal.WithLabelValues(name, "reject_client_flag").Inc()
		a.reply(conn, framer.Response{Code: framer.ErrFreeServer})
		return
	}

	fd, clientIP, err := RecvClientFD(conn)
	if err != nil {
		metrics.ConnectionsRejectedTotal.WithLabelValues(name, "communication").Inc()
		a.reply(conn, framer.Response{Code: framer.ErrCommunication})
		return
	}

	file := os.NewFile(uintptr(fd), "client")
	clientConn, err := net.FileConn(file)
	file.Close()
	if err != nil {
		metrics.ConnectionsRejectedTotal.WithLabelValues(name, "communication").Inc()
		a.reply(conn, framer.Response{Code: framer.ErrCommunication})
		return
	}

	job := &types.JobQueueEntry{
		Priority:      0,
		ClientConn:    clientConn,
		ClientIP:      clientIP,
		ReceivedAt:    time.Now(),
		ClientVersion: req.Header.ClientVersion,
	}
	if err := a.Region.EnqueueJob(job); err != nil {
		metrics.ConnectionsRejectedTotal.WithLabelValues(name, "free_server").Inc()
		clientConn.Close()
		a.reply(conn, framer.Response{Code: framer.ErrFreeServer})
		return
	}

	metrics.ConnectionsAcceptedTotal.WithLabelValues(name).Inc()
	metrics.JobQueueDepth.WithLabelValues(name).Set(float64(a.Region.QueueLen()))
	a.reply(conn, framer.Response{Code: framer.OK})
}

func (a *Acceptor) handleChangeMode(conn *net.UnixConn, req framer.Request) {
	mode, err := framer.StrArg(req.Args, 0)
	if err != nil {
		a.reply(conn, framer.Response{Code: framer.ErrInvalidArgument})
		return
	}
	am := types.AccessMode(mode)
	switch am {
	case types.AccessModeRW, types.AccessModeRO, types.AccessModeSO, types.AccessModeREPL:
	default:
		a.reply(conn, framer.Response{Code: framer.ErrInvalidArgument})
		return
	}

	a.Region.Lock()
	a.Region.Descriptor.AccessMode = am
	a.Region.Unlock()
	a.log.Info().Str("access_mode", mode).Msg("access mode changed")
	a.reply(conn, framer.Response{Code: framer.OK})
}

func (a *Acceptor) handleQueryCancel(conn *net.UnixConn, req framer.Request) {
	slot, err := framer.IntArg(req.Args, 0)
	if err != nil {
		a.reply(conn, framer.Response{Code: framer.ErrInvalidArgument})
		return
	}
	pid, err := framer.IntArg(req.Args, 1)
	if err != nil {
		a.reply(conn, framer.Response{Code: framer.ErrInvalidArgument})
		return
	}
	ipStr, err := framer.StrArg(req.Args, 2)
	if err != nil {
		a.reply(conn, framer.Response{Code: framer.ErrInvalidArgument})
		return
	}

	if a.Canceler == nil {
		a.reply(conn, framer.Response{Code: framer.ErrInternal})
		return
	}
	if err := a.Canceler.CancelQuery(int(slot), int(pid), net.ParseIP(ipStr)); err != nil {
		a.reply(conn, framer.Response{Code: framer.CodeOf(err)})
		return
	}
	a.reply(conn, framer.Response{Code: framer.OK})
}

func (a *Acceptor) reply(conn *net.UnixConn, resp framer.Response) {
	if err := framer.WriteResponse(conn, resp); err != nil {
		a.log.Debug().Err(err).Msg("writing response failed")
	}
}
