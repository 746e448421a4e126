// Package types holds the shared descriptor and metadata types used across
// the broker, worker pool, dispatcher, and shard-management packages.
package types

import (
	"net"
	"sync"
	"time"
)

// BrokerRole identifies what a broker process family is for.
type BrokerRole string

const (
	BrokerRoleNormal    BrokerRole = "NORMAL"
	BrokerRoleLocalMgmt BrokerRole = "LOCAL_MGMT"
	BrokerRoleShardMgmt BrokerRole = "SHARD_MGMT"
)

// AccessMode constrains the kind of client traffic a broker accepts.
type AccessMode string

const (
	AccessModeRW   AccessMode = "RW"
	AccessModeRO   AccessMode = "RO"
	AccessModeSO   AccessMode = "SO"
	AccessModeREPL AccessMode = "REPL"
)

// BrokerCounters is the struct of counters every broker descriptor carries.
type BrokerCounters struct {
	NumRequest       int64
	NumConnect       int64
	NumConnectReject int64
	NumRestart       int64
	NumClientWait    int64
}

// BrokerDescriptor identifies one broker by name, role, and pool bounds.
// One of these lives in each broker subsidiary region of the control region
// (pkg/shm); insertion order is persistent and indices are stable
// identifiers.
type BrokerDescriptor struct {
	Index          int
	Name           string
	Role           BrokerRole
	Port           int
	WorkerBinary   string
	MinWorkers     int
	MaxWorkers     int
	CurWorkers     int
	SessionTimeout time.Duration
	LogSizeLimit   int64
	AccessMode     AccessMode
	Counters       BrokerCounters
}

// ServiceFlag is the administrative on/off state of a worker slot.
type ServiceFlag int

const (
	ServiceOff ServiceFlag = iota
	ServiceOn
	ServiceOffAck
)

// LivenessStatus is the pool manager's view of a worker process.
type LivenessStatus int

const (
	LivenessIdle LivenessStatus = iota
	LivenessBusy
	LivenessRestart
	LivenessStart
	LivenessStop
)

// ConnStatus is the worker's own view of its current client connection.
// It is guarded by WorkerDescriptor.Mu because both the pool manager and the
// worker process may observe or mutate it; lock ordering is always the
// pool-wide count mutex before a slot's Mu, never the reverse.
type ConnStatus int

const (
	ConnOutTran ConnStatus = iota
	ConnInTran
	ConnClose
	ConnCloseAndConnect
)

// KeepConMode mirrors the worker's "keep connection" session policy.
type KeepConMode int

const (
	KeepConAuto KeepConMode = iota
	KeepConAlways
	KeepConNone
)

// ProtocolVersion is the client's major/minor/patch/build wire version.
type ProtocolVersion struct {
	Major, Minor, Patch, Build uint8
}

// WorkerDescriptor is one entry per worker slot in a broker's pool.
type WorkerDescriptor struct {
	Slot     int
	Pid      int
	Service  ServiceFlag
	Liveness LivenessStatus

	LastAccess     time.Time
	LastAliveClaim time.Time
	NumRestarts    int64
	NumRequests    int64

	ClientIP      net.IP
	ClientPort    int
	ClientVersion ProtocolVersion

	Mu                 sync.Mutex
	ConnStatus         ConnStatus
	CurKeepCon         KeepConMode
	HoldableResultSets int
	ChangeModeAuto     bool

	IdleSince time.Time

	// LogResetPending is set by the pool manager's log-rotation pass when
	// a slot's SQL or slow-query log file has been unlinked externally; the
	// worker process consults and clears it on its next log write.
	LogResetPending bool
}

// JobQueueEntry is one pending connection hand-off in a broker's job queue.
type JobQueueEntry struct {
	Priority      int
	ClientConn    net.Conn
	ClientIP      net.IP
	ClientPort    int
	ReceivedAt    time.Time
	ClientVersion ProtocolVersion
}

// --- Shard metadata (persisted in the meta-database) ---

// NodeStatus gates whether an ADD_NODE is in flight cluster-wide.
type NodeStatus string

const (
	NodeStatusAllValid     NodeStatus = "ALL_VALID"
	NodeStatusExistInvalid NodeStatus = "EXIST_INVALID"
)

// ShardDB is the singleton row describing the whole shard space.
type ShardDB struct {
	GlobalDBName   string
	GroupCount     int
	GroupIDLastVer int64
	NodeLastVer    int64
	MigReqCount    int
	DDLReqCount    int
	GCReqCount     int
	NodeStatus     NodeStatus
	CreatedAt      time.Time
}

// ShardNodeStatus tracks an add-node's progress through its two phases.
type ShardNodeStatus string

const (
	ShardNodeSchemaComplete ShardNodeStatus = "SCHEMA_COMPLETE"
	ShardNodeComplete       ShardNodeStatus = "COMPLETE"
)

// ShardNode is a (node_id, local_dbname, host, port) tuple.
type ShardNode struct {
	NodeID   int
	LocalDB  string
	Host     string
	Port     int
	Status   ShardNodeStatus
	Version  int64
	HostName string
	HAState  string
}

// ShardGroupID assigns one group to its current owning node.
type ShardGroupID struct {
	GroupID       int
	CurrentNodeID int
	Version       int64
}

// MigrationStatus is the lifecycle of one rebalance task.
type MigrationStatus string

const (
	MigrationScheduled   MigrationStatus = "SCHEDULED"
	MigrationMigratorRun MigrationStatus = "MIGRATOR_RUN"
	MigrationStarted     MigrationStatus = "MIGRATION_STARTED"
	MigrationComplete    MigrationStatus = "COMPLETE"
	MigrationFailed      MigrationStatus = "FAILED"
)

// InFlight reports whether m still counts against shard_db.mig_req_count.
func (m MigrationStatus) InFlight() bool {
	switch m {
	case MigrationScheduled, MigrationMigratorRun, MigrationStarted:
		return true
	default:
		return false
	}
}

// ShardMigration is a per-group rebalance task.
type ShardMigration struct {
	ID            int64
	GroupID       int
	SrcNodeID     int
	DestNodeID    int
	Status        MigrationStatus
	Order         int
	ShardKeyCount int
	CreatedAt     time.Time
	ModifiedAt    time.Time
	ElapsedMillis int64
}

// --- In-memory shard cache ---

// NodeInfo is one row of the in-memory db_node_info cache.
type NodeInfo struct {
	Node    ShardNode
	HAState string
}

// GroupIDInfo is one row of the in-memory db_groupid_info cache.
type GroupIDInfo struct {
	GroupID int
	NodeID  int
	Version int64
}
