package shardctl

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"

	"github.com/cuemby/shardbroker/pkg/framer"
	"github.com/cuemby/shardbroker/pkg/metastore"
	"github.com/cuemby/shardbroker/pkg/types"
)

// ShardCache is the in-memory db_node_info/db_groupid_info pair spec.md §3
// describes: rebuilt lazily under a mutex whenever the persisted last_ver
// advances past the cached copy, with pre-serialized "all" network buffers
// cached to avoid re-encoding on every client poll.
type ShardCache struct {
	mu sync.Mutex

	createdAt    int64
	nodeVersion  int64
	groupVersion int64

	nodes  []types.NodeInfo
	groups []types.GroupIDInfo

	allNodesBuf []byte
}

// NewShardCache builds an empty cache; the first GetShardInfo call forces a
// refresh since createdAt starts at zero.
func NewShardCache() *ShardCache {
	return &ShardCache{}
}

// refresh rebuilds the cache from storage if the persisted versions have
// advanced beyond the cached copy, or if force is set (a client created_at
// mismatch forces a full rebuild per spec.md §4.6 GET_SHARD_INFO).
func (c *ShardCache) refresh(ctx context.Context, q metastore.Querier, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	db, err := metastore.GetShardDB(ctx, q)
	if err != nil {
		return err
	}
	if !force && db.NodeLastVer == c.nodeVersion && db.GroupIDLastVer == c.groupVersion && c.createdAt != 0 {
		return nil
	}

	nodes, err := metastore.ListNodes(ctx, q)
	if err != nil {
		return err
	}
	groups, err := metastore.ListGroupIDs(ctx, q)
	if err != nil {
		return err
	}

	c.nodes = make([]types.NodeInfo, len(nodes))
	for i, n := range nodes {
		c.nodes[i] = types.NodeInfo{Node: n, HAState: n.HAState}
	}
	c.groups = make([]types.GroupIDInfo, len(groups))
	for i, g := range groups {
		c.groups[i] = types.GroupIDInfo{GroupID: g.GroupID, NodeID: g.CurrentNodeID, Version: g.Version}
	}
	c.nodeVersion = db.NodeLastVer
	c.groupVersion = db.GroupIDLastVer
	if c.createdAt == 0 {
		c.createdAt = 1
	} else {
		c.createdAt++
	}
	c.allNodesBuf = encodeNodeInfo(c.nodes)
	return nil
}

func encodeNodeInfo(nodes []types.NodeInfo) []byte {
	var buf bytes.Buffer
	writeInt32(&buf, int32(len(nodes)))
	for _, n := range nodes {
		writeInt32(&buf, int32(n.Node.NodeID))
		writeString(&buf, n.Node.Host)
		writeInt32(&buf, int32(n.Node.Port))
		writeString(&buf, n.HAState)
	}
	return buf.Bytes()
}

func encodeGroupInfo(groups []types.GroupIDInfo) []byte {
	var buf bytes.Buffer
	writeInt32(&buf, int32(len(groups)))
	for _, g := range groups {
		writeInt32(&buf, int32(g.GroupID))
		writeInt32(&buf, int32(g.NodeID))
		writeInt64(&buf, g.Version)
	}
	return buf.Bytes()
}

func encodeNodeState(nodes []types.NodeInfo) []byte {
	var buf bytes.Buffer
	writeInt32(&buf, int32(len(nodes)))
	for _, n := range nodes {
		writeInt32(&buf, int32(n.Node.NodeID))
		writeString(&buf, n.HAState)
	}
	return buf.Bytes()
}

func writeInt32(buf *bytes.Buffer, v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeInt32(buf, int32(len(s)))
	buf.WriteString(s)
}

// handleGetShardInfo implements GET_SHARD_INFO (spec.md §4.6, E2). The
// response is four opaque blocks: an 8-byte header carrying the server's
// created_at stamp, the full node-info table, the groupid table (a delta
// if the client's version is positive, the full table otherwise), and a
// node-state vector. A client created_at mismatch forces a full cache
// rebuild of both tables.
func (c *Controller) handleGetShardInfo(ctx context.Context, args GetShardInfoArgs) (Result, error) {
	force := args.ClientCreated != 0 && args.ClientCreated != c.Cache.createdAt
	if err := c.Cache.refresh(ctx, c.Store.DB(), force); err != nil {
		return Result{}, framer.Err(framer.ErrShardInfoNotAvailable, "refreshing shard cache: %v", err)
	}

	c.Cache.mu.Lock()
	defer c.Cache.mu.Unlock()

	var header bytes.Buffer
	writeInt64(&header, c.Cache.createdAt)

	var groupBlock []byte
	if !force && args.ClientGroupVer > 0 {
		var delta []types.GroupIDInfo
		for _, g := range c.Cache.groups {
			if g.Version > args.ClientGroupVer {
				delta = append(delta, g)
			}
		}
		groupBlock = encodeGroupInfo(delta)
	} else {
		groupBlock = encodeGroupInfo(c.Cache.groups)
	}

	return Result{
		Code: framer.OK,
		Messages: [][]byte{
			header.Bytes(),
			c.Cache.allNodesBuf,
			groupBlock,
			encodeNodeState(c.Cache.nodes),
		},
	}, nil
}
