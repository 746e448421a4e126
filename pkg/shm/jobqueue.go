package shm

import "github.com/cuemby/shardbroker/pkg/types"

// JobQueue is a fixed-capacity max-heap of pending connection hand-offs
// (spec.md §3). Ties within equal priority are deliberately unordered — the
// heap may reorder equal-priority entries — matching the open question in
// spec.md §9 ("the source's job-queue max-heap does not appear to preserve
// FIFO at equal priorities").
type JobQueue struct {
	entries []*types.JobQueueEntry
}

// NewJobQueue returns an empty job queue with no preallocated capacity.
// EnqueueJob on BrokerRegion bounds a queue by its preallocated capacity, so
// it rejects every push onto a queue built here; NewBrokerRegion uses
// NewJobQueueWithCapacity instead.
func NewJobQueue() *JobQueue {
	return &JobQueue{}
}

// NewJobQueueWithCapacity preallocates a bounded queue; pushing past cap
// should be rejected by the caller with BR_ER_FREE_SERVER per spec.md §3.
func NewJobQueueWithCapacity(capacity int) *JobQueue {
	return &JobQueue{entries: make([]*types.JobQueueEntry, 0, capacity)}
}

func (q *JobQueue) Len() int { return len(q.entries) }

func (q *JobQueue) Less(i, j int) bool {
	// Max-heap: higher priority first.
	return q.entries[i].Priority > q.entries[j].Priority
}

func (q *JobQueue) Swap(i, j int) {
	q.entries[i], q.entries[j] = q.entries[j], q.entries[i]
}

func (q *JobQueue) Push(x any) {
	q.entries = append(q.entries, x.(*types.JobQueueEntry))
}

func (q *JobQueue) Pop() any {
	old := q.entries
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.entries = old[:n-1]
	return item
}
