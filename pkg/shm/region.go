package shm

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/shardbroker/pkg/types"
)

// Status is the control region's lifecycle state, mirroring spec.md §4.1:
// peers refuse to attach until the header's status is Valid.
type Status int

const (
	StatusInit Status = iota
	StatusValid
	StatusClosed
)

// unusableDBEntry is one row of a broker's double-buffered unusable-database
// table, sized generously and kept lock-free for readers via a sequence
// counter (spec.md §4.1).
type unusableDBEntry struct {
	DBName string
}

// BrokerRegion is the subsidiary region for one broker descriptor: its
// worker slots, job queue, and unusable-database table.
type BrokerRegion struct {
	mu sync.RWMutex

	Descriptor types.BrokerDescriptor
	Workers    []*types.WorkerDescriptor

	queueMu     sync.Mutex
	queueCv     *sync.Cond
	queueClosed bool
	Queue       *JobQueue

	udbSeq     uint64
	udbBuffers [2][]unusableDBEntry
}

// NewBrokerRegion allocates a subsidiary region for one broker descriptor
// sized to its configured max worker count.
func NewBrokerRegion(desc types.BrokerDescriptor) *BrokerRegion {
	br := &BrokerRegion{
		Descriptor: desc,
		Workers:    make([]*types.WorkerDescriptor, desc.MaxWorkers),
		Queue:      NewJobQueueWithCapacity(jobQueueCapacity(desc)),
	}
	br.queueCv = sync.NewCond(&br.queueMu)
	for i := range br.Workers {
		br.Workers[i] = &types.WorkerDescriptor{Slot: i, Liveness: types.LivenessStop}
	}
	return br
}

// Lock/Unlock guard the descriptor and worker-count fields; callers follow
// the ordering rule in spec.md §5: this pool-wide mutex before any single
// slot's WorkerDescriptor.Mu, never the reverse.
func (br *BrokerRegion) Lock()    { br.mu.Lock() }
func (br *BrokerRegion) Unlock()  { br.mu.Unlock() }
func (br *BrokerRegion) RLock()   { br.mu.RLock() }
func (br *BrokerRegion) RUnlock() { br.mu.RUnlock() }

// defaultJobQueueCapacityFloor is used when a broker's configured pool is
// small enough that scaling off MaxWorkers alone would starve bursts.
const defaultJobQueueCapacityFloor = 64

func jobQueueCapacity(desc types.BrokerDescriptor) int {
	capacity := desc.MaxWorkers * 8
	if capacity < defaultJobQueueCapacityFloor {
		capacity = defaultJobQueueCapacityFloor
	}
	return capacity
}

// EnqueueJob pushes a job onto the broker's max-heap job queue and wakes one
// waiter on the dispatch condition variable. A full queue is rejected with
// BR_ER_FREE_SERVER by the caller (spec.md §3); EnqueueJob itself just
// reports the condition.
func (br *BrokerRegion) EnqueueJob(job *types.JobQueueEntry) error {
	br.queueMu.Lock()
	defer br.queueMu.Unlock()
	if br.Queue.Len() >= cap(br.Queue.entries) {
		return fmt.Errorf("job queue full")
	}
	heap.Push(br.Queue, job)
	br.queueCv.Signal()
	return nil
}

// WaitForJob blocks until a job is available or CloseQueue is called, then
// pops and returns the highest-priority entry. It returns ok=false once the
// queue has been closed and drained.
func (br *BrokerRegion) WaitForJob() (*types.JobQueueEntry, bool) {
	br.queueMu.Lock()
	defer br.queueMu.Unlock()
	for br.Queue.Len() == 0 {
		if br.queueClosed {
			return nil, false
		}
		br.queueCv.Wait()
	}
	job := heap.Pop(br.Queue).(*types.JobQueueEntry)
	return job, true
}

// CloseQueue marks the job queue closed and wakes every waiter, the signal
// the dispatcher loop uses to exit on shutdown (spec.md §5 "every loop
// thread checks [br_process_flag] on each iteration").
func (br *BrokerRegion) CloseQueue() {
	br.queueMu.Lock()
	br.queueClosed = true
	br.queueMu.Unlock()
	br.queueCv.Broadcast()
}

// BumpWaitingPriority increments every still-queued job's priority, the
// starvation-avoidance mechanism spec.md §4.3 describes ("between retries
// increments every waiting job's priority").
func (br *BrokerRegion) BumpWaitingPriority() {
	br.queueMu.Lock()
	defer br.queueMu.Unlock()
	for _, j := range br.Queue.entries {
		j.Priority++
	}
	heap.Init(br.Queue)
}

// QueueLen reports the current depth of the job queue.
func (br *BrokerRegion) QueueLen() int {
	br.queueMu.Lock()
	defer br.queueMu.Unlock()
	return br.Queue.Len()
}

// Header is the control region's fixed leading block (spec.md §4.1).
type Header struct {
	Status Status
	Key    string
}

// Region is the top-level, process-wide control region: one header plus an
// insertion-ordered slice of broker subsidiary regions that AddBroker
// appends to without an upper bound.
type Region struct {
	Header  Header
	mu      sync.RWMutex
	brokers []*BrokerRegion
	byName  map[string]int
}

// NewRegion allocates a new control region and marks it Valid last, the way
// spec.md says the owning process "writes the status word last".
func NewRegion() *Region {
	r := &Region{
		byName: make(map[string]int),
	}
	r.Header.Key = uuid.NewString()
	r.Header.Status = StatusValid
	return r
}

// AddBroker appends a new broker subsidiary region, assigning it the next
// stable index; insertion order is persistent per spec.md §3.
func (r *Region) AddBroker(desc types.BrokerDescriptor) *BrokerRegion {
	r.mu.Lock()
	defer r.mu.Unlock()
	desc.Index = len(r.brokers)
	br := NewBrokerRegion(desc)
	r.brokers = append(r.brokers, br)
	r.byName[desc.Name] = desc.Index
	return br
}

// Broker returns the subsidiary region at a stable index.
func (r *Region) Broker(index int) (*BrokerRegion, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.brokers) {
		return nil, false
	}
	return r.brokers[index], true
}

// BrokerByName looks up a broker region by its persistent name.
func (r *Region) BrokerByName(name string) (*BrokerRegion, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.brokers[idx], true
}

// Brokers returns a snapshot slice of every broker region, in insertion
// order.
func (r *Region) Brokers() []*BrokerRegion {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*BrokerRegion, len(r.brokers))
	copy(out, r.brokers)
	return out
}

// Close tears down the region; the owning process unlinks it per spec.md
// §4.1.
func (r *Region) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Header.Status = StatusClosed
}
