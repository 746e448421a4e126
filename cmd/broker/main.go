// Command broker is the multiplexed shardbroker binary: it runs a broker
// daemon of any of the three roles (normal, local-mgmt, shard-mgmt), and
// also doubles as the admin client used to drive a running broker (spec.md
// §6's "one multiplexed binary with subcommands service|broker|heartbeat|
// <admin>").
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/shardbroker/pkg/log"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "broker",
	Short:   "shardbroker cluster broker",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("shardbroker version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(brokerCmd)
	rootCmd.AddCommand(heartbeatCmd)
	rootCmd.AddCommand(aclCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}
