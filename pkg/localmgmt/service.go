package localmgmt

import (
	"context"
	"encoding/binary"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/shardbroker/pkg/framer"
	"github.com/cuemby/shardbroker/pkg/heartbeat"
	"github.com/cuemby/shardbroker/pkg/log"
)

// Workers is the fixed size of the local-mgmt RPC worker pool (spec.md
// §5: "Local-mgmt brokers run four RPC workers").
const Workers = 4

// Service answers the local-management opcodes over one request channel
// drained by Workers goroutines, the same parallel-worker shape
// pkg/dispatcher uses for client connections applied to this much smaller,
// purely local request set.
type Service struct {
	Conf      *ConfStore
	ACL       *ACL
	Launcher  Launcher
	Versions  *ShardVersionRing
	Heartbeat heartbeat.Client
	Hostname  string

	jobs chan svcJob
	log  zerolog.Logger
}

type svcJob struct {
	ctx  context.Context
	req  framer.Request
	resp chan svcResult
}

type svcResult struct {
	resp framer.Response
	err  error
}

// NewService builds a Service; call Start to spin up its worker goroutines.
func NewService(conf *ConfStore, acl *ACL, launcher Launcher, versions *ShardVersionRing, hb heartbeat.Client, hostname string) *Service {
	return &Service{
		Conf:      conf,
		ACL:       acl,
		Launcher:  launcher,
		Versions:  versions,
		Heartbeat: hb,
		Hostname:  hostname,
		jobs:      make(chan svcJob, 64),
		log:       log.WithComponent("localmgmt"),
	}
}

// Start launches Workers goroutines servicing s.jobs until ctx is done.
func (s *Service) Start(ctx context.Context) {
	for i := 0; i < Workers; i++ {
		go s.worker(ctx)
	}
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			resp, err := s.dispatch(job.ctx, job.req)
			job.resp <- svcResult{resp: resp, err: err}
		}
	}
}

// Handle enqueues req and blocks for its response, or returns ctx's error if
// it's cancelled first.
func (s *Service) Handle(ctx context.Context, req framer.Request) (framer.Response, error) {
	respCh := make(chan svcResult, 1)
	select {
	case s.jobs <- svcJob{ctx: ctx, req: req, resp: respCh}:
	case <-ctx.Done():
		return framer.Response{}, ctx.Err()
	}
	select {
	case r := <-respCh:
		return r.resp, r.err
	case <-ctx.Done():
		return framer.Response{}, ctx.Err()
	}
}

func (s *Service) dispatch(ctx context.Context, req framer.Request) (framer.Response, error) {
	args := req.Args
	switch req.Header.Opcode {
	case framer.OpLaunchProcess:
		return s.handleLaunchProcess(args)
	case framer.OpGetShardMgmtInfo:
		return s.handleGetShardMgmtInfo()
	case framer.OpNumShardVersionInfo:
		return framer.Response{Code: framer.Code(s.Versions.Count())}, nil
	case framer.OpReadRyeFile:
		return s.handleReadRyeFile()
	case framer.OpWriteRyeConf:
		return s.handleWriteRyeConf(args)
	case framer.OpUpdateConf:
		return s.handleUpdateConf(args)
	case framer.OpDeleteConf:
		return s.handleDeleteConf(args)
	case framer.OpGetConf:
		return s.handleGetConf(args)
	case framer.OpACLReload:
		return s.handleACLReload(args)
	case framer.OpSyncShardMgmtInfo:
		return s.handleSyncShardMgmtInfo(args)
	default:
		return framer.Response{}, framer.Err(framer.ErrInvalidOpcode, "opcode %s not local-mgmt", req.Header.Opcode)
	}
}

// handleLaunchProcess decodes kind(STR), args(STR_ARRAY), env(STR_ARRAY),
// timeout_millis(INT) and forks the named helper. timeout_millis == 0 is
// fire-and-forget: the response's single message is the launch id as a
// big-endian int64, and waitAndLog runs in the background (the migrator
// kind uses this — MIGRATION_END is its authoritative completion signal).
// Any other timeout_millis blocks this call on the child's exit (ADD_NODE's
// schema/global-table migration helpers, which spec.md §4.6 needs run
// synchronously): on a zero exit the response is OK and carries the launch
// id followed by a single 0 byte; on a non-zero exit the response code is
// BR_ER_INTERNAL and carries the launch id followed by the child's stderr.
func (s *Service) handleLaunchProcess(args []framer.Arg) (framer.Response, error) {
	if err := framer.RequireCount(args, 4); err != nil {
		return framer.Response{}, err
	}
	kind, err := framer.StrArg(args, 0)
	if err != nil {
		return framer.Response{}, err
	}
	argv, err := framer.StrArrayArg(args, 1)
	if err != nil {
		return framer.Response{}, err
	}
	env, err := framer.StrArrayArg(args, 2)
	if err != nil {
		return framer.Response{}, err
	}
	timeoutMillis, err := framer.IntArg(args, 3)
	if err != nil {
		return framer.Response{}, err
	}

	handle, err := s.Launcher.Launch(LaunchRequest{
		Kind:          ProcessKind(kind),
		Args:          argv,
		Env:           env,
		TimeoutMillis: int(timeoutMillis),
	})
	if err != nil {
		return framer.Response{}, framer.Err(framer.ErrInternal, "launch: %v", err)
	}

	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], uint64(handle.ID))

	if timeoutMillis == 0 {
		s.waitAndLog(handle, argv)
		return framer.Response{Code: framer.OK, Messages: [][]byte{idBuf[:]}}, nil
	}

	status, err := s.Launcher.Wait(handle.ID, int(timeoutMillis))
	if err != nil {
		return framer.Response{}, framer.Err(framer.ErrInternal, "wait for %s: %v", kind, err)
	}
	if status.ExitCode != 0 {
		return framer.Response{Code: framer.ErrInternal, Messages: [][]byte{idBuf[:], status.Stderr}}, nil
	}
	return framer.Response{Code: framer.OK, Messages: [][]byte{idBuf[:], {0}}}, nil
}

// waitAndLog is the "waiter" thread spec.md §4.7 step 6 describes: it runs
// local to whichever node launched the helper, so no extra wire RPC is
// needed to retrieve the exit status — MIGRATION_END (sent by the migrator
// itself back to the shard-mgmt broker) carries the authoritative result,
// and the stuck-MIGRATOR_RUN sweep is the backstop if it never arrives.
// This goroutine only logs, by the migrator's own first argument (the group
// id, per the MIGRATOR launch convention).
func (s *Service) waitAndLog(handle LaunchHandle, argv []string) {
	go func() {
		status, err := s.Launcher.Wait(handle.ID, -1)
		logEvt := s.log.Info()
		if err != nil {
			logEvt = s.log.Warn().Err(err)
		} else if status.ExitCode != 0 {
			logEvt = s.log.Warn().Int("exit_code", status.ExitCode)
		}
		groupID := ""
		if len(argv) > 0 {
			groupID = argv[0]
		}
		logEvt.Str("kind", string(handle.Kind)).Str("group_id", groupID).Int("pid", handle.Pid).Msg("launched process exited")
	}()
}

// handleGetShardMgmtInfo serializes every held ring entry as a 20-byte
// record (node_version int64, groupid_version int64, port int32).
func (s *Service) handleGetShardMgmtInfo() (framer.Response, error) {
	entries := s.Versions.All()
	buf := make([]byte, 0, 20*len(entries))
	for _, e := range entries {
		var rec [20]byte
		binary.BigEndian.PutUint64(rec[0:8], uint64(e.NodeVersion))
		binary.BigEndian.PutUint64(rec[8:16], uint64(e.GroupIDVersion))
		binary.BigEndian.PutUint32(rec[16:20], uint32(e.Port))
		buf = append(buf, rec[:]...)
	}
	return framer.Response{Code: framer.OK, Messages: [][]byte{buf}}, nil
}

func (s *Service) handleReadRyeFile() (framer.Response, error) {
	body, err := s.Conf.ReadFile()
	if err != nil {
		return framer.Response{}, framer.Err(framer.ErrInternal, "%v", err)
	}
	return framer.Response{Code: framer.OK, Messages: [][]byte{body}}, nil
}

func (s *Service) handleWriteRyeConf(args []framer.Arg) (framer.Response, error) {
	if err := framer.RequireCount(args, 1); err != nil {
		return framer.Response{}, err
	}
	body, err := framer.StrArg(args, 0)
	if err != nil {
		return framer.Response{}, err
	}
	if err := s.Conf.WriteConf([]byte(body)); err != nil {
		return framer.Response{}, framer.Err(framer.ErrInternal, "%v", err)
	}
	return framer.Response{Code: framer.OK}, nil
}

func (s *Service) handleUpdateConf(args []framer.Arg) (framer.Response, error) {
	if err := framer.RequireCount(args, 2); err != nil {
		return framer.Response{}, err
	}
	key, err := framer.StrArg(args, 0)
	if err != nil {
		return framer.Response{}, err
	}
	value, err := framer.StrArg(args, 1)
	if err != nil {
		return framer.Response{}, err
	}
	if err := s.Conf.UpdateConf(key, value); err != nil {
		return framer.Response{}, framer.Err(framer.ErrInternal, "%v", err)
	}
	return framer.Response{Code: framer.OK}, nil
}

func (s *Service) handleDeleteConf(args []framer.Arg) (framer.Response, error) {
	if err := framer.RequireCount(args, 1); err != nil {
		return framer.Response{}, err
	}
	key, err := framer.StrArg(args, 0)
	if err != nil {
		return framer.Response{}, err
	}
	if err := s.Conf.DeleteConf(key); err != nil {
		return framer.Response{}, framer.Err(framer.ErrInternal, "%v", err)
	}
	return framer.Response{Code: framer.OK}, nil
}

func (s *Service) handleGetConf(args []framer.Arg) (framer.Response, error) {
	if err := framer.RequireCount(args, 1); err != nil {
		return framer.Response{}, err
	}
	key, err := framer.StrArg(args, 0)
	if err != nil {
		return framer.Response{}, err
	}
	value, found, err := s.Conf.GetConf(key)
	if err != nil {
		return framer.Response{}, framer.Err(framer.ErrInternal, "%v", err)
	}
	foundByte := byte(0)
	if found {
		foundByte = 1
	}
	return framer.Response{Code: framer.OK, Messages: [][]byte{[]byte(value), {foundByte}}}, nil
}

// handleACLReload decodes a STR_ARRAY of "brokerName:ip1,ip2,..." entries.
func (s *Service) handleACLReload(args []framer.Arg) (framer.Response, error) {
	if err := framer.RequireCount(args, 1); err != nil {
		return framer.Response{}, err
	}
	raw, err := framer.StrArrayArg(args, 0)
	if err != nil {
		return framer.Response{}, err
	}
	entries := make([]ACLEntry, 0, len(raw))
	for _, line := range raw {
		broker, ipCSV, ok := strings.Cut(line, ":")
		if !ok {
			return framer.Response{}, framer.Err(framer.ErrInvalidArgument, "malformed acl entry %q", line)
		}
		var ips []string
		if ipCSV != "" {
			ips = strings.Split(ipCSV, ",")
		}
		entries = append(entries, ACLEntry{BrokerName: broker, IPs: ips})
	}
	if err := s.ACL.Reload(entries); err != nil {
		return framer.Response{}, framer.Err(framer.ErrInvalidArgument, "%v", err)
	}
	return framer.Response{Code: framer.OK}, nil
}

// handleSyncShardMgmtInfo records the pushed topology version and answers
// with this node's short hostname and current HA state (spec.md §4.8): the
// shard controller caches both into db_node_info.host_name/ha_state.
func (s *Service) handleSyncShardMgmtInfo(args []framer.Arg) (framer.Response, error) {
	if err := framer.RequireCount(args, 3); err != nil {
		return framer.Response{}, err
	}
	nodeVer, err := framer.Int64Arg(args, 0)
	if err != nil {
		return framer.Response{}, err
	}
	groupVer, err := framer.Int64Arg(args, 1)
	if err != nil {
		return framer.Response{}, err
	}
	port, err := framer.IntArg(args, 2)
	if err != nil {
		return framer.Response{}, err
	}
	s.Versions.Push(ShardVersionInfo{NodeVersion: nodeVer, GroupIDVersion: groupVer, Port: int(port)})

	state := heartbeat.StateUnknown
	if s.Heartbeat != nil {
		state, err = s.Heartbeat.State()
		if err != nil {
			s.log.Warn().Err(err).Msg("heartbeat state query failed")
			state = heartbeat.StateUnknown
		}
	}
	return framer.Response{Code: framer.OK, Messages: [][]byte{
		[]byte(s.Hostname),
		[]byte(string(state)),
	}}, nil
}
