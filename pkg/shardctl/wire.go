package shardctl

import (
	"github.com/cuemby/shardbroker/pkg/framer"
)

// DecodeRequest reifies a framed shard-management request into a Request,
// the typed-reader step spec.md §4.4 describes ("each opcode has a typed
// reader that asserts count and per-slot types and yields a reified request
// struct"). cmd/broker's admin listener calls this after framer.ReadRequest
// and before Controller.Handle.
func DecodeRequest(opcode framer.Opcode, args []framer.Arg) (Request, error) {
	switch opcode {
	case framer.OpInit:
		return decodeInit(args)
	case framer.OpAddNode:
		return decodeAddNode(args)
	case framer.OpDropNode:
		return decodeDropNode(args)
	case framer.OpMigrationStart:
		return decodeMigrationStart(args)
	case framer.OpMigrationEnd:
		return decodeMigrationEnd(args)
	case framer.OpDDLStart:
		return decodeDDLStart(args)
	case framer.OpDDLEnd:
		if err := framer.RequireCount(args, 0); err != nil {
			return Request{}, err
		}
		return Request{Kind: KindDDLEnd, DDLEnd: &struct{}{}}, nil
	case framer.OpGCStart:
		return decodeGCStart(args)
	case framer.OpGCEnd:
		if err := framer.RequireCount(args, 0); err != nil {
			return Request{}, err
		}
		return Request{Kind: KindGCEnd, GCEnd: &struct{}{}}, nil
	case framer.OpRebalanceReq:
		return decodeRebalanceReq(args)
	case framer.OpRebalanceJobCount:
		if err := framer.RequireCount(args, 0); err != nil {
			return Request{}, err
		}
		return Request{Kind: KindRebalanceJobCount}, nil
	case framer.OpGetShardInfo:
		return decodeGetShardInfo(args)
	default:
		return Request{}, framer.Err(framer.ErrInvalidOpcode, "opcode %s is not a shard-management request", opcode)
	}
}

func decodeInit(args []framer.Arg) (Request, error) {
	if err := framer.RequireCount(args, 8); err != nil {
		return Request{}, err
	}
	dbaPasswd, err := framer.StrArg(args, 0)
	if err != nil {
		return Request{}, err
	}
	global, err := framer.StrArg(args, 1)
	if err != nil {
		return Request{}, err
	}
	groupCount, err := framer.IntArg(args, 2)
	if err != nil {
		return Request{}, err
	}
	metaPass, err := framer.StrArg(args, 3)
	if err != nil {
		return Request{}, err
	}
	ids, err := framer.IntArrayArg(args, 4)
	if err != nil {
		return Request{}, err
	}
	localDBs, err := framer.StrArrayArg(args, 5)
	if err != nil {
		return Request{}, err
	}
	hosts, err := framer.StrArrayArg(args, 6)
	if err != nil {
		return Request{}, err
	}
	ports, err := framer.IntArrayArg(args, 7)
	if err != nil {
		return Request{}, err
	}
	if len(ids) != len(localDBs) || len(ids) != len(hosts) || len(ids) != len(ports) {
		return Request{}, framer.Err(framer.ErrInvalidArgument, "init_nodes arrays must be the same length")
	}
	nodes := make([]InitNode, len(ids))
	for i := range ids {
		nodes[i] = InitNode{NodeID: int(ids[i]), LocalDB: localDBs[i], Host: hosts[i], Port: int(ports[i])}
	}
	return Request{Kind: KindInit, Init: &InitArgs{
		DBAPasswd:    dbaPasswd,
		GlobalDBName: global,
		GroupIDCount: int(groupCount),
		InitNodes:    nodes,
		MetaUserPass: metaPass,
	}}, nil
}

func decodeAddNode(args []framer.Arg) (Request, error) {
	if err := framer.RequireCount(args, 4); err != nil {
		return Request{}, err
	}
	id, err := framer.IntArg(args, 0)
	if err != nil {
		return Request{}, err
	}
	localDB, err := framer.StrArg(args, 1)
	if err != nil {
		return Request{}, err
	}
	host, err := framer.StrArg(args, 2)
	if err != nil {
		return Request{}, err
	}
	port, err := framer.IntArg(args, 3)
	if err != nil {
		return Request{}, err
	}
	return Request{Kind: KindAddNode, AddNode: &AddNodeArgs{Node: InitNode{
		NodeID: int(id), LocalDB: localDB, Host: host, Port: int(port),
	}}}, nil
}

func decodeDropNode(args []framer.Arg) (Request, error) {
	if err := framer.RequireCount(args, 5); err != nil {
		return Request{}, err
	}
	id, err := framer.IntArg(args, 0)
	if err != nil {
		return Request{}, err
	}
	dropAll, err := framer.IntArg(args, 1)
	if err != nil {
		return Request{}, err
	}
	localDB, err := framer.StrArg(args, 2)
	if err != nil {
		return Request{}, err
	}
	host, err := framer.StrArg(args, 3)
	if err != nil {
		return Request{}, err
	}
	port, err := framer.IntArg(args, 4)
	if err != nil {
		return Request{}, err
	}
	return Request{Kind: KindDropNode, DropNode: &DropNodeArgs{
		NodeID: int(id), DropAll: dropAll != 0, LocalDB: localDB, Host: host, Port: int(port),
	}}, nil
}

func decodeMigrationStart(args []framer.Arg) (Request, error) {
	if err := framer.RequireCount(args, 4); err != nil {
		return Request{}, err
	}
	groupID, err := framer.IntArg(args, 0)
	if err != nil {
		return Request{}, err
	}
	dest, err := framer.IntArg(args, 1)
	if err != nil {
		return Request{}, err
	}
	numKeys, err := framer.IntArg(args, 2)
	if err != nil {
		return Request{}, err
	}
	timeout, err := framer.IntArg(args, 3)
	if err != nil {
		return Request{}, err
	}
	return Request{Kind: KindMigrationStart, MigrationStart: &MigrationStartArgs{
		GroupID: int(groupID), DestNodeID: int(dest), NumShardKeys: int(numKeys), TimeoutSec: int(timeout),
	}}, nil
}

func decodeMigrationEnd(args []framer.Arg) (Request, error) {
	if err := framer.RequireCount(args, 2); err != nil {
		return Request{}, err
	}
	groupID, err := framer.IntArg(args, 0)
	if err != nil {
		return Request{}, err
	}
	success, err := framer.IntArg(args, 1)
	if err != nil {
		return Request{}, err
	}
	return Request{Kind: KindMigrationEnd, MigrationEnd: &MigrationEndArgs{
		GroupID: int(groupID), Success: success != 0,
	}}, nil
}

func decodeDDLStart(args []framer.Arg) (Request, error) {
	if err := framer.RequireCount(args, 1); err != nil {
		return Request{}, err
	}
	timeout, err := framer.IntArg(args, 0)
	if err != nil {
		return Request{}, err
	}
	return Request{Kind: KindDDLStart, DDLStart: &DDLArgs{TimeoutSec: int(timeout)}}, nil
}

func decodeGCStart(args []framer.Arg) (Request, error) {
	if err := framer.RequireCount(args, 1); err != nil {
		return Request{}, err
	}
	timeout, err := framer.IntArg(args, 0)
	if err != nil {
		return Request{}, err
	}
	return Request{Kind: KindGCStart, GCStart: &DDLArgs{TimeoutSec: int(timeout)}}, nil
}

func decodeRebalanceReq(args []framer.Arg) (Request, error) {
	if err := framer.RequireCount(args, 4); err != nil {
		return Request{}, err
	}
	src, err := framer.IntArrayArg(args, 0)
	if err != nil {
		return Request{}, err
	}
	dest, err := framer.IntArrayArg(args, 1)
	if err != nil {
		return Request{}, err
	}
	empty, err := framer.IntArg(args, 2)
	if err != nil {
		return Request{}, err
	}
	ignorePrev, err := framer.IntArg(args, 3)
	if err != nil {
		return Request{}, err
	}
	return Request{Kind: KindRebalanceReq, RebalanceReq: &RebalanceReqArgs{
		SrcNodes:       int32sToInts(src),
		DestNodes:      int32sToInts(dest),
		EmptyNode:      empty != 0,
		IgnorePrevFail: ignorePrev != 0,
	}}, nil
}

func decodeGetShardInfo(args []framer.Arg) (Request, error) {
	if err := framer.RequireCount(args, 4); err != nil {
		return Request{}, err
	}
	dbname, err := framer.StrArg(args, 0)
	if err != nil {
		return Request{}, err
	}
	nodeVer, err := framer.Int64Arg(args, 1)
	if err != nil {
		return Request{}, err
	}
	groupVer, err := framer.Int64Arg(args, 2)
	if err != nil {
		return Request{}, err
	}
	createdAt, err := framer.Int64Arg(args, 3)
	if err != nil {
		return Request{}, err
	}
	return Request{Kind: KindGetShardInfo, GetShardInfo: &GetShardInfoArgs{
		DBName: dbname, ClientNodeVer: nodeVer, ClientGroupVer: groupVer, ClientCreated: createdAt,
	}}, nil
}

func int32sToInts(in []int32) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}
