package main

import (
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/shardbroker/pkg/client"
	"github.com/cuemby/shardbroker/pkg/framer"
	"github.com/cuemby/shardbroker/pkg/types"
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "query and administer a running broker",
}

var brokerListCmd = &cobra.Command{
	Use:   "list",
	Short: "list nodes known to a shard-management broker",
	RunE: func(cmd *cobra.Command, cmdArgs []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		dbname, _ := cmd.Flags().GetString("db")
		c := client.New(addr)
		w := framer.NewArgWriter().Str(dbname).Int64(0).Int64(0).Int64(0)
		resp, err := c.Call(framer.OpGetShardInfo, w)
		if err != nil {
			return err
		}
		if resp.Code != framer.OK {
			return fmt.Errorf("broker: GET_SHARD_INFO rejected: %s", resp.Code)
		}
		for _, m := range resp.Messages {
			fmt.Printf("%s\n", m)
		}
		return nil
	},
}

var brokerReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "reload a local-mgmt broker's conf.ini and ACL",
	RunE: func(cmd *cobra.Command, cmdArgs []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		c := client.New(addr)
		resp, err := c.Call(framer.OpACLReload, framer.NewArgWriter())
		if err != nil {
			return err
		}
		if resp.Code != framer.OK {
			return fmt.Errorf("broker: BR_ACL_RELOAD rejected: %s", resp.Code)
		}
		fmt.Println("reloaded")
		return nil
	},
}

var brokerChangeModeCmd = &cobra.Command{
	Use:   "changemode <rw|ro|so|repl>",
	Short: "change a normal broker's access mode over its control socket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, cmdArgs []string) error {
		socketDir, _ := cmd.Flags().GetString("socket-dir")
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			return fmt.Errorf("broker: --name is required")
		}
		sockPath := filepath.Join(socketDir, name+".sock")
		code, err := callUnixSocket(sockPath, framer.OpCASChangeMode, framer.NewArgWriter().Str(cmdArgs[0]))
		if err != nil {
			return err
		}
		if code != framer.OK {
			return fmt.Errorf("broker: CAS_CHANGE_MODE rejected: %s", code)
		}
		fmt.Println("mode changed")
		return nil
	},
}

var brokerInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "ping a broker's control socket and report liveness",
	RunE: func(cmd *cobra.Command, cmdArgs []string) error {
		socketDir, _ := cmd.Flags().GetString("socket-dir")
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			return fmt.Errorf("broker: --name is required")
		}
		sockPath := filepath.Join(socketDir, name+".sock")
		code, err := callUnixSocket(sockPath, framer.OpPing, framer.NewArgWriter())
		if err != nil {
			fmt.Println("unreachable")
			return nil
		}
		fmt.Printf("alive (%s)\n", code)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{brokerListCmd, brokerReloadCmd, brokerInfoCmd} {
		c.Flags().String("addr", "", "broker TCP address (host:port)")
	}
	brokerListCmd.Flags().String("db", "", "database name to query shard info for")
	for _, c := range []*cobra.Command{brokerChangeModeCmd, brokerInfoCmd} {
		c.Flags().String("socket-dir", "/tmp/shardbroker", "directory holding the broker's control socket")
		c.Flags().String("name", "", "broker name")
	}
	brokerCmd.AddCommand(brokerListCmd, brokerReloadCmd, brokerChangeModeCmd, brokerInfoCmd)
}

// callUnixSocket issues one framed request over a fresh connection to a
// normal broker's Unix-domain control socket (spec.md §6) — distinct from
// pkg/client, which only dials TCP management ports.
func callUnixSocket(path string, opcode framer.Opcode, w *framer.ArgWriter) (framer.Code, error) {
	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return 0, fmt.Errorf("broker: dial %s: %w", path, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := framer.WriteRequest(conn, opcode, types.ProtocolVersion{}, w); err != nil {
		return 0, fmt.Errorf("broker: write request: %w", err)
	}
	resp, err := framer.ReadResponse(conn)
	if err != nil {
		return 0, fmt.Errorf("broker: read response: %w", err)
	}
	return resp.Code, nil
}
