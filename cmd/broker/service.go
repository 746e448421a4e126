package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "manage this host's broker daemon process",
}

var serviceStartCmd = &cobra.Command{
	Use:   "start",
	Short: "run a broker daemon of the role given by SHARDBROKER_ROLE",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

var serviceStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "signal a running broker daemon to shut down",
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalPidfile(socketDirFlag(cmd), nameFlag(cmd), syscall.SIGTERM)
	},
}

var serviceRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "send SIGHUP to a running broker daemon, which exits for its supervisor to relaunch",
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalPidfile(socketDirFlag(cmd), nameFlag(cmd), syscall.SIGHUP)
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "report whether a broker daemon's pidfile resolves to a live process",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := readPidfile(socketDirFlag(cmd), nameFlag(cmd))
		if err != nil {
			fmt.Println("stopped")
			return nil
		}
		if err := syscall.Kill(pid, 0); err != nil {
			fmt.Println("stopped (stale pidfile)")
			return nil
		}
		fmt.Printf("running (pid %d)\n", pid)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{serviceStartCmd, serviceStopCmd, serviceRestartCmd, serviceStatusCmd} {
		c.Flags().String("socket-dir", "/tmp/shardbroker", "directory holding pidfiles and control sockets")
		c.Flags().String("name", "", "broker name (defaults to SHARDBROKER_NAME)")
	}
	serviceCmd.AddCommand(serviceStartCmd, serviceStopCmd, serviceRestartCmd, serviceStatusCmd)
}

func socketDirFlag(cmd *cobra.Command) string {
	v, _ := cmd.Flags().GetString("socket-dir")
	return v
}

func nameFlag(cmd *cobra.Command) string {
	v, _ := cmd.Flags().GetString("name")
	if v == "" {
		v = os.Getenv("SHARDBROKER_NAME")
	}
	return v
}

func readPidfile(socketDir, name string) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("broker: no broker name given (--name or SHARDBROKER_NAME)")
	}
	b, err := os.ReadFile(filepath.Join(socketDir, name+".pid"))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(b))
}

func signalPidfile(socketDir, name string, sig syscall.Signal) error {
	pid, err := readPidfile(socketDir, name)
	if err != nil {
		return err
	}
	return syscall.Kill(pid, sig)
}
