package workerpool

import (
	"github.com/cuemby/shardbroker/pkg/types"
)

// LogChecker reports and clears the per-slot "log file unlinked
// externally" condition the log-rotation pass watches for.
type LogChecker interface {
	Unlinked(brokerName string, slot int) (bool, error)
	Touch(brokerName string, slot int) error
}

// monitorPass refreshes memory and liveness for every slot, every 100ms by
// default (spec.md §4.2 "Monitor loop").
func (p *Pool) monitorPass() {
	for slot, w := range p.region.Workers {
		w.Mu.Lock()
		pid := w.Pid
		liveness := w.Liveness
		w.Mu.Unlock()

		if liveness == types.LivenessStop || liveness == types.LivenessStart {
			continue
		}

		needsRestart := false
		if pid == 0 || !p.launcher.Alive(pid) {
			needsRestart = true
		} else if p.cfg.HardMemoryLimitBytes > 0 {
			if mem, err := p.launcher.ResidentMemory(pid); err == nil && mem > p.cfg.HardMemoryLimitBytes {
				needsRestart = true
			}
		}

		if !needsRestart {
			continue
		}
		w.Mu.Lock()
		w.Liveness = types.LivenessRestart
		w.Mu.Unlock()

		go func(s int) {
			if _, err := p.Restart(s); err != nil {
				p.log.Error().Err(err).Int("slot", s).Msg("worker restart failed")
			}
		}(slot)
	}
}

// logRotatePass runs every second, touching any per-slot log file that was
// unlinked externally and flagging the worker to reopen it (spec.md §4.2).
func (p *Pool) logRotatePass() {
	checker := p.logChecker
	if checker == nil {
		return
	}
	name := p.region.Descriptor.Name
	for slot, w := range p.region.Workers {
		unlinked, err := checker.Unlinked(name, slot)
		if err != nil || !unlinked {
			continue
		}
		if err := checker.Touch(name, slot); err != nil {
			p.log.Error().Err(err).Int("slot", slot).Msg("touching rotated log failed")
			continue
		}
		w.Mu.Lock()
		w.LogResetPending = true
		w.Mu.Unlock()
	}
}

// hangDetectorPass samples how many BUSY slots failed to update their
// last-alive-claim timestamp within the sampling interval, maintains a
// running average over four intervals, and toggles RejectClient when the
// average crosses 0.5x pool size (spec.md §4.2).
func (p *Pool) hangDetectorPass() {
	stalled := 0
	poolSize := len(p.region.Workers)
	for _, w := range p.region.Workers {
		w.Mu.Lock()
		if w.Liveness == types.LivenessBusy && nowFunc().Sub(w.LastAliveClaim) > p.cfg.HangCheckInterval {
			stalled++
		}
		w.Mu.Unlock()
	}

	p.hangMu.Lock()
	p.hangHistory[p.hangIdx%len(p.hangHistory)] = stalled
	p.hangIdx++
	sum := 0
	for _, v := range p.hangHistory {
		sum += v
	}
	avg := float64(sum) / float64(len(p.hangHistory))
	p.hangMu.Unlock()

	p.rejectFlag.Store(avg > 0.5*float64(poolSize))
}

// SetLogChecker installs the log-rotation pass's file-system probe. Left
// unset, the log-rotation pass is a no-op — useful for brokers that don't
// run per-slot SQL/slow logs in tests.
func (p *Pool) SetLogChecker(c LogChecker) { p.logChecker = c }
