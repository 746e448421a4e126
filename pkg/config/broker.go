package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/cuemby/shardbroker/pkg/types"
)

// BrokerConfig is one broker's tunable configuration, loaded from the
// environment with an SHARDBROKER_ prefix (e.g. SHARDBROKER_NAME,
// SHARDBROKER_MIN_WORKERS). Mirrors the broker descriptor fields a rye
// broker.conf entry carries (spec.md §2).
type BrokerConfig struct {
	Name           string `envconfig:"NAME" required:"true"`
	Role           string `envconfig:"ROLE" default:"normal"`
	Port           int    `envconfig:"PORT" required:"true"`
	WorkerBinary   string `envconfig:"WORKER_BINARY" default:""`
	MinWorkers     int    `envconfig:"MIN_WORKERS" default:"1"`
	MaxWorkers     int    `envconfig:"MAX_WORKERS" default:"4"`
	SessionTimeout int    `envconfig:"SESSION_TIMEOUT" default:"300"`
	LogSizeLimit   int64  `envconfig:"LOG_SIZE_LIMIT" default:"10485760"`
	AccessMode     string `envconfig:"ACCESS_MODE" default:"rw"`

	// SocketDir is the directory normal brokers derive their Unix-domain
	// listen path from (spec.md §6 "normal brokers use a Unix-domain
	// socket whose path is derived from the broker name").
	SocketDir string `envconfig:"SOCKET_DIR" default:"/tmp/shardbroker"`

	// MetaDSN is the meta-database connection string (pkg/metastore).
	MetaDSN string `envconfig:"META_DSN" default:""`

	// HeartbeatAddr is the external heartbeat daemon's RPC address
	// (pkg/heartbeat); local-mgmt's sync worker dials it for ha_state.
	HeartbeatAddr string `envconfig:"HEARTBEAT_ADDR" default:""`

	// LocalMgmtPort is the TCP port every node's local-mgmt broker listens
	// on, used by a shard-mgmt broker to dial out for LAUNCH_PROCESS and
	// SYNC_SHARD_MGMT_INFO calls (spec.md §4.6/§4.7).
	LocalMgmtPort int `envconfig:"LOCAL_MGMT_PORT" default:"1800"`

	// MetricsAddr is where pkg/metrics' Prometheus handler is served.
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

// LoadBrokerConfig parses a BrokerConfig from the environment.
func LoadBrokerConfig() (BrokerConfig, error) {
	var cfg BrokerConfig
	if err := envconfig.Process("SHARDBROKER", &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field combinations envconfig's struct tags can't express.
func (c BrokerConfig) Validate() error {
	if c.MinWorkers < 0 {
		return fmt.Errorf("config: MIN_WORKERS must be >= 0")
	}
	if c.MaxWorkers < c.MinWorkers {
		return fmt.Errorf("config: MAX_WORKERS (%d) must be >= MIN_WORKERS (%d)", c.MaxWorkers, c.MinWorkers)
	}
	if _, err := c.role(); err != nil {
		return err
	}
	if _, err := c.accessMode(); err != nil {
		return err
	}
	return nil
}

func (c BrokerConfig) role() (types.BrokerRole, error) {
	switch c.Role {
	case "normal":
		return types.BrokerRoleNormal, nil
	case "local_mgmt":
		return types.BrokerRoleLocalMgmt, nil
	case "shard_mgmt":
		return types.BrokerRoleShardMgmt, nil
	default:
		return "", fmt.Errorf("config: unknown ROLE %q", c.Role)
	}
}

func (c BrokerConfig) accessMode() (types.AccessMode, error) {
	switch c.AccessMode {
	case "rw":
		return types.AccessModeRW, nil
	case "ro":
		return types.AccessModeRO, nil
	case "so":
		return types.AccessModeSO, nil
	case "repl":
		return types.AccessModeREPL, nil
	default:
		return "", fmt.Errorf("config: unknown ACCESS_MODE %q", c.AccessMode)
	}
}

// ToDescriptor converts the loaded config into the runtime descriptor type
// pkg/shm.NewBrokerRegion expects. Validate must have already succeeded.
func (c BrokerConfig) ToDescriptor() types.BrokerDescriptor {
	role, _ := c.role()
	mode, _ := c.accessMode()
	return types.BrokerDescriptor{
		Name:           c.Name,
		Role:           role,
		Port:           c.Port,
		WorkerBinary:   c.WorkerBinary,
		MinWorkers:     c.MinWorkers,
		MaxWorkers:     c.MaxWorkers,
		SessionTimeout: time.Duration(c.SessionTimeout) * time.Second,
		LogSizeLimit:   c.LogSizeLimit,
		AccessMode:     mode,
	}
}
