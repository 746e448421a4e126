// Package framer implements the broker's wire framing for management
// requests and responses (spec.md §4.4, §6).
//
// A request is a fixed 16-byte header (opcode, reserved, client protocol
// version, payload length, all big-endian) followed by a typed-argument
// payload: an int32 argument count, then that many type-tagged argument
// records. The last argument is always an INT whose value must equal
// LastArgSentinel. A response is an int32 error code, an int32 count of
// additional message blocks, then that many (size, bytes) pairs.
//
// Every management surface in this system — shard-mgmt, local-mgmt, and the
// normal-broker control opcodes (PING, QUERY_CANCEL) — shares this one wire
// format; there is no second RPC protocol.
package framer
