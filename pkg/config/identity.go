package config

import (
	"fmt"
	"os"
	"strconv"
)

// ProcessIdentity is the set of environment variables a parent broker or
// pool-manager process sets for a child worker process (spec.md §6).
type ProcessIdentity struct {
	MasterShmKey     string // MASTER_SHM_KEY, hex, required
	ApplServerShmKey string // APPL_SERVER_SHM_KEY, hex, set by parent
	BrokerIndex      int    // BROKER_INDEX, decimal
	ApplServerID     int    // AS_ID, worker slot index, set by parent
	UtilPID          int    // UTIL_PID, pid used for log prefix
}

// LoadProcessIdentity reads the five identity variables from the process
// environment. MASTER_SHM_KEY is required; the rest have defaults when
// unset, since a standalone broker (not yet forked by a parent) may not have
// AS_ID/APPL_SERVER_SHM_KEY populated: APPL_SERVER_SHM_KEY is empty,
// BROKER_INDEX is 0, AS_ID is -1 and UTIL_PID is this process's own pid.
func LoadProcessIdentity() (ProcessIdentity, error) {
	var id ProcessIdentity

	id.MasterShmKey = os.Getenv("MASTER_SHM_KEY")
	if id.MasterShmKey == "" {
		return id, fmt.Errorf("config: MASTER_SHM_KEY is required")
	}
	id.ApplServerShmKey = os.Getenv("APPL_SERVER_SHM_KEY")

	var err error
	if id.BrokerIndex, err = getenvIntDefault("BROKER_INDEX", 0); err != nil {
		return id, err
	}
	if id.ApplServerID, err = getenvIntDefault("AS_ID", -1); err != nil {
		return id, err
	}
	if id.UtilPID, err = getenvIntDefault("UTIL_PID", os.Getpid()); err != nil {
		return id, err
	}
	return id, nil
}

func getenvIntDefault(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer: %w", name, v, err)
	}
	return n, nil
}
