package migration

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cuemby/shardbroker/pkg/client"
	"github.com/cuemby/shardbroker/pkg/framer"
)

// ClientLauncher is the real Launcher, dialing each host's local-mgmt
// listener and issuing LAUNCH_PROCESS for the "migrator" process kind
// (spec.md §4.7 step 5).
type ClientLauncher struct {
	LocalMgmtPort int
}

func (l *ClientLauncher) LaunchMigrator(ctx context.Context, host string, args MigratorArgs) error {
	argv := []string{
		strconv.Itoa(args.GroupID),
		strconv.Itoa(args.SrcNodeID),
		strconv.Itoa(args.DestNodeID),
		args.DestHost,
		strconv.Itoa(args.DestPort),
	}
	if args.RunSlave {
		argv = append(argv, "--run-slave")
	}

	c := client.New(fmt.Sprintf("%s:%d", host, l.LocalMgmtPort))
	w := framer.NewArgWriter().Str("migrator").StrArray(argv).StrArray(nil).Int(0)
	resp, err := c.Call(framer.OpLaunchProcess, w)
	if err != nil {
		return fmt.Errorf("migration: launch migrator on %s: %w", host, err)
	}
	if resp.Code != framer.OK {
		return framer.Err(resp.Code, "launch migrator on %s rejected", host)
	}
	return nil
}
