package shardctl

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cuemby/shardbroker/pkg/client"
	"github.com/cuemby/shardbroker/pkg/framer"
)

// ClientNodeLauncher is the real NodeLauncher, dialing host's local-mgmt
// listener and issuing LAUNCH_PROCESS for ADD_NODE's two helper kinds
// (spec.md §4.6).
type ClientNodeLauncher struct {
	LocalMgmtPort int
}

func (l *ClientNodeLauncher) LaunchSchemaMigration(ctx context.Context, host string, node InitNode) error {
	return l.launch(host, "schema-migration", node)
}

func (l *ClientNodeLauncher) LaunchGlobalTableMigration(ctx context.Context, host string, node InitNode) error {
	return l.launch(host, "global-table-migration", node)
}

func (l *ClientNodeLauncher) launch(host, kind string, node InitNode) error {
	argv := []string{
		strconv.Itoa(node.NodeID),
		node.LocalDB,
		node.Host,
		strconv.Itoa(node.Port),
	}

	c := client.New(fmt.Sprintf("%s:%d", host, l.LocalMgmtPort))
	c.Timeout = 5 * time.Minute
	w := framer.NewArgWriter().Str(kind).StrArray(argv).StrArray(nil).Int(-1)
	resp, err := c.Call(framer.OpLaunchProcess, w)
	if err != nil {
		return fmt.Errorf("shardctl: launch %s on %s: %w", kind, host, err)
	}
	if resp.Code != framer.OK {
		return framer.Err(resp.Code, "%s on %s rejected", kind, host)
	}
	return nil
}
