package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/cuemby/shardbroker/pkg/config"
	"github.com/cuemby/shardbroker/pkg/dispatcher"
	"github.com/cuemby/shardbroker/pkg/framer"
	"github.com/cuemby/shardbroker/pkg/heartbeat"
	"github.com/cuemby/shardbroker/pkg/localmgmt"
	"github.com/cuemby/shardbroker/pkg/log"
	"github.com/cuemby/shardbroker/pkg/metastore"
	"github.com/cuemby/shardbroker/pkg/metrics"
	"github.com/cuemby/shardbroker/pkg/migration"
	"github.com/cuemby/shardbroker/pkg/shardctl"
	"github.com/cuemby/shardbroker/pkg/shm"
	"github.com/cuemby/shardbroker/pkg/types"
	"github.com/cuemby/shardbroker/pkg/workerpool"
)

// runDaemon loads configuration from the environment and runs one broker
// of whichever role it's configured for, until SIGTERM/SIGINT (spec.md §5).
func runDaemon() error {
	cfg, err := config.LoadBrokerConfig()
	if err != nil {
		return err
	}
	desc := cfg.ToDescriptor()
	lg := log.WithBroker(desc.Name)

	if err := os.MkdirAll(cfg.SocketDir, 0o755); err != nil {
		return fmt.Errorf("broker: creating socket dir: %w", err)
	}
	pidPath := filepath.Join(cfg.SocketDir, desc.Name+".pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("broker: writing pidfile: %w", err)
	}
	defer os.Remove(pidPath)

	region := shm.NewRegion()
	br := region.AddBroker(desc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		lg.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	// SIGHUP ("service restart") is handled the same as a clean shutdown:
	// this process doesn't fork/exec itself, so a restart means exiting
	// and relying on the surrounding process supervisor to relaunch it.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	switch desc.Role {
	case types.BrokerRoleNormal:
		closers = append(closers, runNormalBroker(ctx, cfg, br, lg))
	case types.BrokerRoleLocalMgmt:
		closers = append(closers, runLocalMgmtBroker(ctx, cfg, lg))
	case types.BrokerRoleShardMgmt:
		closers = append(closers, runShardMgmtBroker(ctx, cfg, lg))
	default:
		return fmt.Errorf("broker: unknown role %q", desc.Role)
	}

	<-sigCh
	lg.Info().Msg("shutdown signal received")
	cancel()
	return nil
}

// runNormalBroker wires pool manager, acceptor, and dispatcher for a
// client-facing broker (spec.md §4.2/§4.3).
func runNormalBroker(ctx context.Context, cfg config.BrokerConfig, br *shm.BrokerRegion, lg zerolog.Logger) func() {
	launcher := &workerpool.ProcessLauncher{WorkerBinary: cfg.WorkerBinary, SocketDir: cfg.SocketDir}
	pool := workerpool.New(br, launcher, workerpool.Config{ShmKeyEnv: cfg.Name})
	pool.Start()

	stop := make(chan struct{})
	readyPath := filepath.Join(cfg.SocketDir, cfg.Name+".ready.sock")
	rl := &workerpool.ReadyListener{Pool: pool, SocketPath: readyPath}
	go func() {
		if err := rl.Run(stop); err != nil {
			lg.Warn().Err(err).Msg("ready listener stopped")
		}
	}()

	canceler := dispatcher.NewCanceler(br)
	acceptor := dispatcher.NewAcceptor(br, pool, canceler)

	sockPath := filepath.Join(cfg.SocketDir, cfg.Name+".sock")
	_ = os.Remove(sockPath)
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: sockPath, Net: "unix"})
	if err != nil {
		lg.Fatal().Err(err).Msg("binding broker socket")
	}
	go acceptor.Run(ln, stop)

	dialer := dispatcher.NewUnixSlotDialer(cfg.SocketDir, cfg.Name)
	disp := dispatcher.NewDispatcher(br, pool, dialer, dispatcher.Config{})
	go disp.Run()

	for i := 0; i < cfg.MinWorkers; i++ {
		slot := i
		go func() {
			if _, err := pool.EnsureStarted(slot); err != nil {
				lg.Warn().Err(err).Int("slot", slot).Msg("starting initial worker failed")
			}
		}()
	}

	return func() {
		close(stop)
		ln.Close()
		br.CloseQueue()
		pool.Shutdown()
	}
}

// runLocalMgmtBroker wires pkg/localmgmt's four-worker RPC service over a
// TCP listener (spec.md §4.8).
func runLocalMgmtBroker(ctx context.Context, cfg config.BrokerConfig, lg zerolog.Logger) func() {
	hostname, _ := os.Hostname()
	conf := localmgmt.NewConfStore(filepath.Join(cfg.SocketDir, cfg.Name+".conf"))
	acl := localmgmt.NewACL()
	binaryPaths := map[localmgmt.ProcessKind]string{
		localmgmt.ProcessMigrator:             os.Getenv("SHARDBROKER_MIGRATOR_BIN"),
		localmgmt.ProcessCopyLog:              os.Getenv("SHARDBROKER_COPYLOG_BIN"),
		localmgmt.ProcessApplyLog:             os.Getenv("SHARDBROKER_APPLYLOG_BIN"),
		localmgmt.ProcessServer:               cfg.WorkerBinary,
		localmgmt.ProcessSchemaMigration:      os.Getenv("SHARDBROKER_SCHEMA_MIGRATION_BIN"),
		localmgmt.ProcessGlobalTableMigration: os.Getenv("SHARDBROKER_GLOBAL_TABLE_MIGRATION_BIN"),
	}
	launcher := localmgmt.NewProcessLauncher(binaryPaths)
	versions := localmgmt.NewShardVersionRing()

	var hb heartbeat.Client
	if cfg.HeartbeatAddr != "" {
		hb = heartbeat.NewTCPClient(cfg.HeartbeatAddr)
	} else {
		hb = heartbeat.Static(heartbeat.StateUnknown)
	}

	svc := localmgmt.NewService(conf, acl, launcher, versions, hb, hostname)
	svc.Start(ctx)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		lg.Fatal().Err(err).Msg("binding local-mgmt port")
	}
	go serveFramedRequests(ln, svc.Handle, lg)

	return func() { ln.Close() }
}

// runShardMgmtBroker wires pkg/shardctl's controller and pkg/migration's
// orchestrator over a TCP listener (spec.md §4.6/§4.7), registering the
// hooks shardctl installs for cross-package notification.
func runShardMgmtBroker(ctx context.Context, cfg config.BrokerConfig, lg zerolog.Logger) func() {
	store, err := metastore.Open(ctx, cfg.MetaDSN)
	if err != nil {
		lg.Fatal().Err(err).Msg("opening meta-database")
	}
	if err := store.CreateSchema(ctx); err != nil {
		lg.Fatal().Err(err).Msg("creating meta-schema")
	}

	nodeLauncher := &shardctl.ClientNodeLauncher{LocalMgmtPort: cfg.LocalMgmtPort}
	controller := shardctl.NewController(store, nodeLauncher)

	migLauncher := &migration.ClientLauncher{LocalMgmtPort: cfg.LocalMgmtPort}
	orchestrator := migration.NewOrchestrator(store, migLauncher, migration.Config{
		MaxMigratorsPerSource: controller.MaxMigratorsPerSource,
	})
	orchestratorCtx, orchestratorCancel := context.WithCancel(ctx)
	go orchestrator.Run(orchestratorCtx)

	shardctl.SetOrchestratorWakeHook(orchestrator.Wake)
	shardctl.SetRecoveryFailureHook(func(nodeID int, phase string, err error) {
		metrics.NodeAddRecoveryFailuresTotal.Inc()
		lg.Error().Err(err).Int("node_id", nodeID).Str("phase", phase).Msg("add_node recovery also failed")
	})
	shardctl.SetLocalMgmtSyncNotifier(func(nodeID int) {
		go broadcastShardMgmtSync(ctx, store, cfg.LocalMgmtPort, lg)
	})

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		lg.Fatal().Err(err).Msg("binding shard-mgmt port")
	}
	go serveShardMgmtRequests(ln, controller, lg)

	return func() {
		ln.Close()
		orchestratorCancel()
		store.Close()
	}
}

// serveFramedRequests accepts local-mgmt connections, each handled with a
// single request/response round trip per spec.md §4.8.
func serveFramedRequests(ln net.Listener, handle func(context.Context, framer.Request) (framer.Response, error), lg zerolog.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			req, err := framer.ReadRequest(conn)
			if err != nil {
				_ = framer.WriteResponse(conn, framer.Response{Code: framer.CodeOf(err)})
				return
			}
			resp, err := handle(context.Background(), req)
			if err != nil {
				resp = framer.Response{Code: framer.CodeOf(err)}
			}
			_ = framer.WriteResponse(conn, resp)
		}()
	}
}

// serveShardMgmtRequests accepts one connection per admin client, driving a
// shardctl.Session across its lifetime so *_START/*_END pairing and
// disconnect compensation (spec.md §9) work across multiple requests on the
// same connection.
func serveShardMgmtRequests(ln net.Listener, controller *shardctl.Controller, lg zerolog.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			ctx := context.Background()
			session := shardctl.NewSession(controller)
			defer session.Close(ctx)

			for {
				req, err := framer.ReadRequest(conn)
				if err != nil {
					return
				}
				if req.Header.Opcode == framer.OpPingShardMgmt {
					_ = framer.WriteResponse(conn, framer.Response{Code: framer.OK})
					continue
				}
				sreq, err := shardctl.DecodeRequest(req.Header.Opcode, req.Args)
				if err != nil {
					_ = framer.WriteResponse(conn, framer.Response{Code: framer.CodeOf(err)})
					continue
				}
				result, err := session.Handle(ctx, sreq)
				if err != nil {
					_ = framer.WriteResponse(conn, framer.Response{Code: framer.CodeOf(err)})
					continue
				}
				code := result.Code
				if code == 0 {
					code = framer.OK
				}
				_ = framer.WriteResponse(conn, framer.Response{Code: code, Messages: result.Messages})
			}
		}()
	}
}
