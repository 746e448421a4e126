package workerpool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/shardbroker/pkg/log"
	"github.com/cuemby/shardbroker/pkg/shm"
	"github.com/cuemby/shardbroker/pkg/types"
)

// nowFunc is overridden in tests that need to simulate idle-time aging
// without sleeping.
var nowFunc = time.Now

// Config tunes one broker's pool manager.
type Config struct {
	TimeToKill           time.Duration // idle duration before find_drop selects a slot
	HardMemoryLimitBytes int64         // appl_server_hard_limit; 0 disables the check
	ReadyTimeout         time.Duration // ensure_started's bound on service_ready_flag
	MonitorInterval      time.Duration // default 100ms
	LogRotateInterval    time.Duration // default 1s
	HangCheckInterval    time.Duration // hang detector sampling period
	ShmKeyEnv            string        // value to pass as APPL_SERVER_SHM_KEY
}

func (c *Config) setDefaults() {
	if c.MonitorInterval == 0 {
		c.MonitorInterval = 100 * time.Millisecond
	}
	if c.LogRotateInterval == 0 {
		c.LogRotateInterval = time.Second
	}
	if c.HangCheckInterval == 0 {
		c.HangCheckInterval = 5 * time.Second
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = 5 * time.Second
	}
	if c.TimeToKill == 0 {
		c.TimeToKill = 30 * time.Second
	}
}

// Pool manages one broker's worker process slots.
type Pool struct {
	region   *shm.BrokerRegion
	launcher Launcher
	cfg      Config
	log      zerolog.Logger

	mu      sync.Mutex
	pending map[int]chan struct{}

	hangMu      sync.Mutex
	hangHistory [4]int
	hangIdx     int
	rejectFlag  atomic.Bool

	logChecker LogChecker

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a pool manager for one broker's control region, matching it
// to the already-sized Workers array shm.NewBrokerRegion allocated.
func New(region *shm.BrokerRegion, launcher Launcher, cfg Config) *Pool {
	cfg.setDefaults()
	return &Pool{
		region:   region,
		launcher: launcher,
		cfg:      cfg,
		log:      log.WithBroker(region.Descriptor.Name),
		pending:  make(map[int]chan struct{}),
		stop:     make(chan struct{}),
	}
}

// RejectClient reports whether the hang detector currently wants the
// acceptor to refuse new work without dispatching it (spec.md §4.2).
func (p *Pool) RejectClient() bool { return p.rejectFlag.Load() }

// EnsureStarted forks/execs the worker binary for slot and waits (bounded)
// for MarkReady. A failed launch retries once (spec.md §4.2 failure model).
func (p *Pool) EnsureStarted(slot int) (int, error) {
	w := p.region.Workers[slot]

	w.Mu.Lock()
	w.Liveness = types.LivenessStart
	w.Mu.Unlock()

	ready := make(chan struct{})
	p.mu.Lock()
	p.pending[slot] = ready
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, slot)
		p.mu.Unlock()
	}()

	env := []string{fmt.Sprintf("APPL_SERVER_SHM_KEY=%s", p.cfg.ShmKeyEnv)}
	pid, err := p.launcher.Launch(p.region.Descriptor.Name, slot, env)
	if err != nil {
		pid, err = p.launcher.Launch(p.region.Descriptor.Name, slot, env)
	}
	if err != nil {
		w.Mu.Lock()
		w.Liveness = types.LivenessStop
		w.Mu.Unlock()
		return -1, fmt.Errorf("workerpool: ensure_started slot %d: %w", slot, err)
	}

	select {
	case <-ready:
	case <-time.After(p.cfg.ReadyTimeout):
		w.Mu.Lock()
		w.Liveness = types.LivenessStop
		w.Mu.Unlock()
		return -1, fmt.Errorf("workerpool: slot %d never signalled ready within %s", slot, p.cfg.ReadyTimeout)
	}

	w.Mu.Lock()
	w.Pid = pid
	w.Liveness = types.LivenessIdle
	w.NumRestarts++
	w.LastAccess = time.Now()
	w.IdleSince = time.Now()
	w.Mu.Unlock()
	return pid, nil
}

// MarkReady is called by whatever accepts a worker's first control-socket
// message (ReadyListener in ready.go) once it has attached and is ready to
// serve.
func (p *Pool) MarkReady(slot int) {
	p.mu.Lock()
	ch, ok := p.pending[slot]
	p.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Stop sends graceful termination, escalating to SIGKILL after up to ten
// 300ms tries, then clears the slot's pid (spec.md §4.2).
func (p *Pool) Stop(slot int) error {
	w := p.region.Workers[slot]
	w.Mu.Lock()
	pid := w.Pid
	w.Liveness = types.LivenessStop
	w.Mu.Unlock()

	if pid == 0 {
		return nil
	}
	if err := p.launcher.Signal(pid, syscall.SIGTERM); err != nil && p.launcher.Alive(pid) {
		return fmt.Errorf("workerpool: signalling slot %d pid %d: %w", slot, pid, err)
	}

	const tries = 10
	const perTry = 300 * time.Millisecond
	for i := 0; i < tries && p.launcher.Alive(pid); i++ {
		time.Sleep(perTry)
	}
	if p.launcher.Alive(pid) {
		_ = p.launcher.Kill(pid)
	}

	w.Mu.Lock()
	w.Pid = 0
	w.Mu.Unlock()
	return nil
}

// Restart stops then starts a slot, preserving its counters (spec.md §4.2).
func (p *Pool) Restart(slot int) (int, error) {
	if err := p.Stop(slot); err != nil {
		return -1, err
	}
	return p.EnsureStarted(slot)
}

// Start launches the pool manager's background loops. Call Shutdown to stop
// them.
func (p *Pool) Start() {
	p.wg.Add(3)
	go p.runLoop(p.cfg.MonitorInterval, p.monitorPass, &p.wg)
	go p.runLoop(p.cfg.LogRotateInterval, p.logRotatePass, &p.wg)
	go p.runLoop(p.cfg.HangCheckInterval, p.hangDetectorPass, &p.wg)
}

// Shutdown stops every background loop and waits for them to exit.
func (p *Pool) Shutdown() {
	close(p.stop)
	p.wg.Wait()
}

func (p *Pool) runLoop(interval time.Duration, pass func(), wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pass()
		case <-p.stop:
			return
		}
	}
}
