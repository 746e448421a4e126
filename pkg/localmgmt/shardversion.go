package localmgmt

import "sync"

// ShardVersionRingSize is the fixed capacity of the shard-version-info
// history GET_SHARD_MGMT_INFO/NUM_SHARD_VERSION_INFO read from (SPEC_FULL.md
// domain-stack supplement; the source keeps a bounded ring of recent
// topology pushes so a lagging node can catch up without re-pulling the
// full cache on every poll).
const ShardVersionRingSize = 10

// ShardVersionInfo is one topology push the shard controller's sync worker
// recorded for this node.
type ShardVersionInfo struct {
	NodeVersion    int64
	GroupIDVersion int64
	Port           int
}

// ShardVersionRing is a fixed-size ring buffer of the most recent pushes;
// older entries are overwritten once full.
type ShardVersionRing struct {
	mu      sync.Mutex
	entries [ShardVersionRingSize]ShardVersionInfo
	count   int
	next    int
}

// NewShardVersionRing returns an empty ring.
func NewShardVersionRing() *ShardVersionRing {
	return &ShardVersionRing{}
}

// Push records one topology version, evicting the oldest entry if full.
func (r *ShardVersionRing) Push(info ShardVersionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = info
	r.next = (r.next + 1) % ShardVersionRingSize
	if r.count < ShardVersionRingSize {
		r.count++
	}
}

// Count reports how many entries are currently held (NUM_SHARD_VERSION_INFO).
func (r *ShardVersionRing) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// All returns the held entries oldest-first (GET_SHARD_MGMT_INFO).
func (r *ShardVersionRing) All() []ShardVersionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ShardVersionInfo, 0, r.count)
	start := (r.next - r.count + ShardVersionRingSize) % ShardVersionRingSize
	for i := 0; i < r.count; i++ {
		out = append(out, r.entries[(start+i)%ShardVersionRingSize])
	}
	return out
}

// Latest returns the most recently pushed entry and true, or the zero value
// and false if the ring is empty.
func (r *ShardVersionRing) Latest() (ShardVersionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return ShardVersionInfo{}, false
	}
	idx := (r.next - 1 + ShardVersionRingSize) % ShardVersionRingSize
	return r.entries[idx], true
}
