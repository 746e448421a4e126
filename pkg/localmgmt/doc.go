// Package localmgmt implements the Local Management Service (C8): the
// per-host RPC surface spec.md §4.8 describes — conf-file edits, ACL
// reload, child-process launch, and shard-topology propagation. Four
// worker goroutines service these requests in parallel off one request
// channel, the same fan-out shape pkg/dispatcher uses for client
// connections, applied here to a much smaller and purely local request
// set.
package localmgmt
