// Package dispatcher implements the Connection Dispatcher (C3): the
// acceptor and dispatcher threads that turn accepted client connections
// into worker (CAS) hand-offs (spec.md §4.3).
//
// Two goroutines cooperate through a shm.BrokerRegion's job queue:
//
//	Acceptor    reads one request off the broker's listening socket,
//	            handles PING/QUERY_CANCEL inline, and for CAS_CONNECT
//	            receives the real client's fd + address over the same
//	            connection (relayed by local-mgmt) and enqueues a job.
//	Dispatcher  drains the job queue, asks the worker pool for an idle
//	            slot, and on a miss retries with a priority bump and a
//	            bounded sleep, matching spec.md's "between retries
//	            increments every waiting job's priority and sleeps 30ms".
//	            Once a slot is chosen it dials that worker's per-slot
//	            Unix-domain socket, exchanges the connection-status
//	            handshake, and passes the client fd onward.
//
// fd passing uses golang.org/x/sys/unix's SCM_RIGHTS helpers over
// net.UnixConn.ReadMsgUnix/WriteMsgUnix — the one place in this module
// that needs real ancillary-data support the standard library alone
// doesn't expose a convenience wrapper for.
package dispatcher
