package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/shardbroker/pkg/heartbeat"
)

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "query this host's heartbeat daemon",
}

var heartbeatStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "print the current HA role reported by the heartbeat daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		state, err := heartbeat.NewTCPClient(addr).State()
		if err != nil {
			return err
		}
		fmt.Println(state)
		return nil
	},
}

var heartbeatInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "alias for status",
	RunE:  heartbeatStatusCmd.RunE,
}

var heartbeatTestCmd = &cobra.Command{
	Use:   "test",
	Short: "verify the heartbeat daemon is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if _, err := heartbeat.NewTCPClient(addr).State(); err != nil {
			return fmt.Errorf("heartbeat: unreachable: %w", err)
		}
		fmt.Println("ok")
		return nil
	},
}

// heartbeat {on,off,reset} administer the heartbeat daemon's own failover
// state machine, which this module doesn't implement (pkg/heartbeat.Client
// only exposes State()); the daemon is an external collaborator per
// spec.md §1, so these subcommands exist for CLI-surface completeness and
// report that honestly rather than faking an effect.
var heartbeatOnCmd = unsupportedHACmd("on", "enable this host as a heartbeat failover target")
var heartbeatOffCmd = unsupportedHACmd("off", "disable this host as a heartbeat failover target")
var heartbeatResetCmd = unsupportedHACmd("reset", "clear the heartbeat daemon's failover history")

func unsupportedHACmd(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("broker heartbeat %s: not supported; administer the heartbeat daemon directly", use)
		},
	}
}

func init() {
	for _, c := range []*cobra.Command{heartbeatStatusCmd, heartbeatInfoCmd, heartbeatTestCmd} {
		c.Flags().String("addr", "127.0.0.1:694", "heartbeat daemon control address")
	}
	heartbeatCmd.AddCommand(heartbeatStatusCmd, heartbeatInfoCmd, heartbeatTestCmd,
		heartbeatOnCmd, heartbeatOffCmd, heartbeatResetCmd)
}
