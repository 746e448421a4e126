package workerpool

import "github.com/cuemby/shardbroker/pkg/types"

// FindIdle implements spec.md §4.2's admission decision: the lowest-index
// IDLE slot whose pid still exists, or — if the pool is saturated — a BUSY
// slot meeting every relaxed-reuse criterion, picking the one idle longest
// and atomically marking it CLOSE_AND_CONNECT. Returns -1 if nothing
// qualifies.
func (p *Pool) FindIdle() int {
	workers := p.region.Workers

	for i, w := range workers {
		w.Mu.Lock()
		ok := w.Liveness == types.LivenessIdle && w.Pid != 0 && p.launcher.Alive(w.Pid)
		w.Mu.Unlock()
		if ok {
			return i
		}
	}

	p.region.RLock()
	saturated := p.region.Descriptor.CurWorkers >= p.region.Descriptor.MaxWorkers
	p.region.RUnlock()
	if !saturated {
		return -1
	}

	best := -1
	var oldestIdle int64 = -1
	for i, w := range workers {
		w.Mu.Lock()
		reusable := w.Liveness == types.LivenessBusy &&
			w.ConnStatus == types.ConnOutTran &&
			w.CurKeepCon == types.KeepConAuto &&
			w.HoldableResultSets == 0 &&
			w.ChangeModeAuto
		idleNanos := int64(0)
		if reusable {
			idleNanos = w.IdleSince.UnixNano()
		}
		w.Mu.Unlock()
		if !reusable {
			continue
		}
		if best == -1 || idleNanos < oldestIdle {
			best = i
			oldestIdle = idleNanos
		}
	}
	if best == -1 {
		return -1
	}
	workers[best].Mu.Lock()
	workers[best].ConnStatus = types.ConnCloseAndConnect
	workers[best].Mu.Unlock()
	return best
}

// FindAdd implements spec.md §4.2's add-slot decision: any slot currently
// SERVICE_OFF_ACK that is not the slot currently being dropped.
func (p *Pool) FindAdd(droppingSlot int) int {
	for i, w := range p.region.Workers {
		if i == droppingSlot {
			continue
		}
		w.Mu.Lock()
		ok := w.Service == types.ServiceOffAck
		w.Mu.Unlock()
		if ok {
			return i
		}
	}
	return -1
}

// FindDrop implements spec.md §4.2's drop-slot decision: prefer an IDLE
// slot idle past TimeToKill; otherwise, only if no IDLE slot exists at all,
// the longest-idle BUSY-between-transactions slot past TimeToKill. Returns
// -1 when the pool is at its minimum or there is pending work.
func (p *Pool) FindDrop() int {
	br := p.region
	br.RLock()
	cur := br.Descriptor.CurWorkers
	min := br.Descriptor.MinWorkers
	br.RUnlock()
	if cur <= min {
		return -1
	}
	if br.QueueLen() > 0 {
		return -1
	}

	now := nowFunc()
	anyIdle := false
	idleCandidate := -1
	for i, w := range br.Workers {
		w.Mu.Lock()
		if w.Liveness == types.LivenessIdle {
			anyIdle = true
			if idleCandidate == -1 && now.Sub(w.IdleSince) > p.cfg.TimeToKill {
				idleCandidate = i
			}
		}
		w.Mu.Unlock()
	}
	if idleCandidate >= 0 {
		return idleCandidate
	}
	if anyIdle {
		// an IDLE slot exists but none has aged past TimeToKill yet.
		return -1
	}

	best := -1
	var bestIdleDur int64
	for i, w := range br.Workers {
		w.Mu.Lock()
		if w.Liveness == types.LivenessBusy && w.ConnStatus == types.ConnOutTran {
			d := now.Sub(w.IdleSince)
			if d > p.cfg.TimeToKill && int64(d) > bestIdleDur {
				best = i
				bestIdleDur = int64(d)
			}
		}
		w.Mu.Unlock()
	}
	return best
}
