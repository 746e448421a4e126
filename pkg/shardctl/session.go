package shardctl

import (
	"context"
	"time"

	"github.com/cuemby/shardbroker/pkg/framer"
)

// awaitKind is what a Session is waiting on after a *_START commit.
type awaitKind int

const (
	awaitNone awaitKind = iota
	awaitMigration
	awaitDDL
	awaitGC
)

// MaxQueryTimeoutLimit is the ceiling accepted for any caller-supplied admin
// timeout (MIGRATION_START/DDL_START's timeout_sec argument), spec.md §3.
const MaxQueryTimeoutLimit = 86400 // seconds, one day

// startRetryInterval is how long a queued MIGRATION_START/DDL_START sleeps
// between admission attempts (spec.md §4.6's "queued and retried").
const startRetryInterval = 200 * time.Millisecond

func clampTimeout(timeoutSec int) time.Duration {
	if timeoutSec <= 0 || timeoutSec > MaxQueryTimeoutLimit {
		timeoutSec = MaxQueryTimeoutLimit
	}
	return time.Duration(timeoutSec) * time.Second
}

// retryableBusy reports whether err is one of the "something else is in
// flight, try again" signals handleMigrationStart/handleDDLStart return —
// as opposed to a real rejection (bad group id, same src/dest, ...) that
// should propagate immediately instead of being retried.
func retryableBusy(err error) bool {
	switch framer.CodeOf(err) {
	case framer.ErrRebalanceRunning, framer.ErrRequestTimeout:
		return true
	default:
		return false
	}
}

// startWithRetry runs attempt in a queue/retry loop against timeoutSec's
// wall-clock deadline (spec.md §4.6): MIGRATION_START and DDL_START are
// re-attempted on a busy signal until they succeed, a non-busy error comes
// back, or the deadline passes — at which point the caller sees
// REQUEST_TIMEOUT. Nothing is incremented until an attempt is admitted, so
// unlike the source's raw compensation-record queue there is nothing to
// unwind on a timeout here.
func startWithRetry(ctx context.Context, timeoutSec int, attempt func() (Result, error)) (Result, error) {
	deadline := time.Now().Add(clampTimeout(timeoutSec))
	for {
		res, err := attempt()
		if err == nil || !retryableBusy(err) {
			return res, err
		}
		if !time.Now().Before(deadline) {
			return Result{}, framer.Err(framer.ErrRequestTimeout, "timed out waiting for in-flight operation to clear")
		}
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(startRetryInterval):
		}
	}
}

// Session drives one admin connection's sequence of requests, implementing
// the per-connection state machine spec.md §9's design note substitutes for
// the source's raw compensation-record queue: "after a *_START commit, the
// connection enters a waiting state; a readiness-poll thread drives it;
// cancellation or close runs the compensation." cmd/broker's admin listener
// owns one Session per accepted connection and calls Close when the peer
// disconnects (spec.md E6).
type Session struct {
	Controller *Controller

	awaiting       awaitKind
	pendingGroupID int
}

// NewSession builds a Session bound to ctl.
func NewSession(ctl *Controller) *Session {
	return &Session{Controller: ctl}
}

// Handle processes one request, tracking MIGRATION_START/DDL_START/GC_START
// as entering the waiting state the matching *_END (or a disconnect calling
// Close) resolves.
func (s *Session) Handle(ctx context.Context, req Request) (Result, error) {
	var res Result
	var err error
	switch req.Kind {
	case KindMigrationStart:
		res, err = startWithRetry(ctx, req.MigrationStart.TimeoutSec, func() (Result, error) {
			return s.Controller.Handle(ctx, req)
		})
	case KindDDLStart:
		res, err = startWithRetry(ctx, req.DDLStart.TimeoutSec, func() (Result, error) {
			return s.Controller.Handle(ctx, req)
		})
	default:
		res, err = s.Controller.Handle(ctx, req)
	}
	if err != nil {
		return res, err
	}
	switch req.Kind {
	case KindMigrationStart:
		s.awaiting = awaitMigration
		s.pendingGroupID = req.MigrationStart.GroupID
	case KindMigrationEnd:
		if s.awaiting == awaitMigration && req.MigrationEnd.GroupID == s.pendingGroupID {
			s.awaiting = awaitNone
		}
	case KindDDLStart:
		s.awaiting = awaitDDL
	case KindDDLEnd:
		if s.awaiting == awaitDDL {
			s.awaiting = awaitNone
		}
	case KindGCStart:
		s.awaiting = awaitGC
	case KindGCEnd:
		if s.awaiting == awaitGC {
			s.awaiting = awaitNone
		}
	}
	return res, nil
}

// Close runs whatever compensation matches the session's pending *_START
// when the peer disconnects before sending the matching *_END.
func (s *Session) Close(ctx context.Context) {
	switch s.awaiting {
	case awaitMigration:
		s.Controller.CompensateMigration(ctx, s.pendingGroupID)
	case awaitDDL:
		s.Controller.CompensateDDL(ctx)
	case awaitGC:
		s.Controller.CompensateGC(ctx)
	}
	s.awaiting = awaitNone
}
