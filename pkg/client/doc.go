// Package client is a thin dialer over pkg/framer's wire protocol, the way
// the teacher's own pkg/client wraps its gRPC stub for CLI and inter-process
// use — except here there is exactly one wire protocol (spec.md §4.4), so
// this package is a TCP dial + request/response round trip instead of a
// generated gRPC client.
//
// Two callers use it: cmd/broker's admin CLI subcommands dial a
// shard-management or local-management broker's TCP port to issue one
// request and print the response, and pkg/migration dials a node's
// local-management port to invoke LAUNCH_PROCESS for a migrator helper.
package client
