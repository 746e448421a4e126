package shardctl

// RequestKind tags which shard-management operation a Request carries.
type RequestKind int

const (
	KindInit RequestKind = iota
	KindAddNode
	KindDropNode
	KindMigrationStart
	KindMigrationEnd
	KindDDLStart
	KindDDLEnd
	KindGCStart
	KindGCEnd
	KindRebalanceReq
	KindRebalanceJobCount
	KindGetShardInfo
)

// InitNode is one (node_id, local_dbname, host, port) tuple supplied to INIT.
type InitNode struct {
	NodeID  int
	LocalDB string
	Host    string
	Port    int
}

// InitArgs is INIT's argument set (spec.md §4.6, E1).
type InitArgs struct {
	DBAPasswd     string
	GlobalDBName  string
	GroupIDCount  int
	InitNodes     []InitNode
	MetaUserPass  string
}

// AddNodeArgs is ADD_NODE's argument set.
type AddNodeArgs struct {
	Node InitNode
}

// DropNodeArgs is DROP_NODE's argument set. DropAll selects the
// "drop all with id X" variant; otherwise the full tuple must match exactly.
type DropNodeArgs struct {
	NodeID  int
	DropAll bool
	LocalDB string
	Host    string
	Port    int
}

// MigrationStartArgs is MIGRATION_START's argument set.
type MigrationStartArgs struct {
	GroupID       int
	DestNodeID    int
	NumShardKeys  int
	TimeoutSec    int
}

// MigrationEndArgs carries the group id the matching MIGRATION_END (or its
// compensation) applies to.
type MigrationEndArgs struct {
	GroupID int
	Success bool
}

// DDLArgs is shared by DDL_START and GC_START; DDL_END and GC_END carry no
// arguments.
type DDLArgs struct {
	TimeoutSec int
}

// RebalanceReqArgs is REBALANCE_REQ's argument set.
type RebalanceReqArgs struct {
	SrcNodes       []int
	DestNodes      []int
	EmptyNode      bool
	IgnorePrevFail bool
}

// GetShardInfoArgs is GET_SHARD_INFO's argument set: the client's cached
// versions, used to decide whether a delta or full response is needed.
type GetShardInfoArgs struct {
	DBName         string
	ClientNodeVer  int64
	ClientGroupVer int64
	ClientCreated  int64
}

// Request is a tagged-variant shard-management call: exactly one of the
// pointer fields matching Kind is non-nil.
type Request struct {
	Kind RequestKind

	Init            *InitArgs
	AddNode         *AddNodeArgs
	DropNode        *DropNodeArgs
	MigrationStart  *MigrationStartArgs
	MigrationEnd    *MigrationEndArgs
	DDLStart        *DDLArgs
	DDLEnd          *struct{}
	GCStart         *DDLArgs
	GCEnd           *struct{}
	RebalanceReq    *RebalanceReqArgs
	GetShardInfo    *GetShardInfoArgs
}
