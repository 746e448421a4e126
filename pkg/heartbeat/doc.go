// Package heartbeat is the narrow client surface the core uses to reach
// the external heartbeat daemon described in spec.md §1: "the heartbeat
// daemon itself is an external collaborator reached via an RPC; we specify
// only the calls the core makes into it." The daemon's own failure-detection
// algorithm is out of scope.
//
// pkg/localmgmt's SYNC_SHARD_MGMT_INFO handler is the daemon-side caller:
// when a shard-management broker pushes topology to a node, that node's
// local-management broker asks its co-located heartbeat daemon for its
// current HA role before replying. cmd/broker's heartbeat subcommands also
// query the daemon directly through NewTCPClient.
package heartbeat
