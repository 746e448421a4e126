package localmgmt

import (
	"bytes"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// Launcher forks/execs one of the allow-listed process kinds and later
// reports its exit status, the local side of spec.md §4.8's LAUNCH_PROCESS/
// waiter-path pair. Binary is a real implementation over os/exec; tests
// substitute a fake.
type Launcher interface {
	Launch(req LaunchRequest) (LaunchHandle, error)
	// Wait blocks for the named launch's completion up to timeoutMillis
	// (-1 waits forever), returning its collected stdout/stderr/exit code.
	Wait(id int64, timeoutMillis int) (ExitStatus, error)
}

// ProcessLauncher is the real Launcher. BinaryPaths maps each allow-listed
// ProcessKind to its executable: the helper-process kinds migrator,
// copy-log, apply-log and server, plus ADD_NODE's schema-migration and
// global-table-migration.
type ProcessLauncher struct {
	BinaryPaths map[ProcessKind]string

	mu      sync.Mutex
	running map[int64]*launchedProcess
	nextID  int64
}

type launchedProcess struct {
	handle LaunchHandle
	done   chan struct{}
	stdout bytes.Buffer
	stderr bytes.Buffer
	status ExitStatus
}

// NewProcessLauncher builds a ProcessLauncher with the given allow-list
// binary paths.
func NewProcessLauncher(binaryPaths map[ProcessKind]string) *ProcessLauncher {
	return &ProcessLauncher{
		BinaryPaths: binaryPaths,
		running:     make(map[int64]*launchedProcess),
	}
}

// Launch validates req.Kind against the allow-list, sets a scoped
// environment, and forks/execs the corresponding binary. It never waits for
// the child; use Wait to retrieve its eventual exit status.
func (l *ProcessLauncher) Launch(req LaunchRequest) (LaunchHandle, error) {
	if !req.Kind.Allowed() {
		return LaunchHandle{}, fmt.Errorf("localmgmt: process kind %q not in launch allow-list", req.Kind)
	}
	bin, ok := l.BinaryPaths[req.Kind]
	if !ok || bin == "" {
		return LaunchHandle{}, fmt.Errorf("localmgmt: no binary configured for %q", req.Kind)
	}

	cmd := exec.Command(bin, req.Args...)
	cmd.Env = req.Env

	lp := &launchedProcess{done: make(chan struct{})}
	cmd.Stdout = &lp.stdout
	cmd.Stderr = &lp.stderr

	if err := cmd.Start(); err != nil {
		return LaunchHandle{}, fmt.Errorf("localmgmt: launch %s: %w", req.Kind, err)
	}

	id := atomic.AddInt64(&l.nextID, 1)
	handle := LaunchHandle{ID: id, Kind: req.Kind, Pid: cmd.Process.Pid, StartedAt: time.Now()}
	lp.handle = handle

	l.mu.Lock()
	l.running[id] = lp
	l.mu.Unlock()

	go func() {
		err := cmd.Wait()
		exitCode := 0
		if err != nil {
			if ee, ok := err.(*exec.ExitError); ok {
				exitCode = ee.ExitCode()
			} else {
				exitCode = -1
			}
		}
		l.mu.Lock()
		lp.status = ExitStatus{ID: id, ExitCode: exitCode, Stdout: lp.stdout.Bytes(), Stderr: lp.stderr.Bytes(), Err: err}
		l.mu.Unlock()
		close(lp.done)
	}()

	return handle, nil
}

// Wait blocks until the launch identified by id completes or timeoutMillis
// elapses (-1 waits forever).
func (l *ProcessLauncher) Wait(id int64, timeoutMillis int) (ExitStatus, error) {
	l.mu.Lock()
	lp, ok := l.running[id]
	l.mu.Unlock()
	if !ok {
		return ExitStatus{}, fmt.Errorf("localmgmt: unknown launch id %d", id)
	}

	if timeoutMillis < 0 {
		<-lp.done
	} else {
		select {
		case <-lp.done:
		case <-time.After(time.Duration(timeoutMillis) * time.Millisecond):
			return ExitStatus{}, fmt.Errorf("localmgmt: wait for launch %d timed out", id)
		}
	}

	l.mu.Lock()
	status := lp.status
	delete(l.running, id)
	l.mu.Unlock()
	return status, nil
}
