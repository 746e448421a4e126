package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/shardbroker/pkg/client"
	"github.com/cuemby/shardbroker/pkg/framer"
	"github.com/cuemby/shardbroker/pkg/metastore"
)

// broadcastShardMgmtSync pushes the current node/group version counters to
// every known node's local-mgmt listener via SYNC_SHARD_MGMT_INFO, the
// out-of-band push shardctl.SetLocalMgmtSyncNotifier triggers after ADD_NODE
// and DROP_NODE change the topology (spec.md §4.6/§4.8).
func broadcastShardMgmtSync(ctx context.Context, store *metastore.Store, localMgmtPort int, lg zerolog.Logger) {
	sdb, err := metastore.GetShardDB(ctx, store.DB())
	if err != nil {
		lg.Warn().Err(err).Msg("reading shard_db for shard-mgmt sync")
		return
	}
	nodes, err := metastore.ListNodes(ctx, store.DB())
	if err != nil {
		lg.Warn().Err(err).Msg("listing nodes for shard-mgmt sync")
		return
	}

	for _, n := range nodes {
		addr := fmt.Sprintf("%s:%d", n.Host, localMgmtPort)
		c := client.New(addr)
		w := framer.NewArgWriter().Int64(sdb.NodeLastVer).Int64(sdb.GroupIDLastVer).Int(int32(n.Port))
		resp, err := c.Call(framer.OpSyncShardMgmtInfo, w)
		if err != nil {
			lg.Warn().Err(err).Int("node_id", n.NodeID).Str("addr", addr).Msg("sync_shard_mgmt_info failed")
			continue
		}
		if resp.Code != framer.OK {
			lg.Warn().Int("node_id", n.NodeID).Str("code", resp.Code.String()).Msg("sync_shard_mgmt_info rejected")
		}
	}
}
