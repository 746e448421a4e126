package localmgmt

import "time"

// ProcessKind is the sender-provided enum LAUNCH_PROCESS validates against
// a fixed allow-list (spec.md §4.8) — arbitrary argv is never accepted.
type ProcessKind string

const (
	ProcessMigrator             ProcessKind = "migrator"
	ProcessCopyLog              ProcessKind = "copy-log"
	ProcessApplyLog             ProcessKind = "apply-log"
	ProcessServer               ProcessKind = "server"
	ProcessSchemaMigration      ProcessKind = "schema-migration"
	ProcessGlobalTableMigration ProcessKind = "global-table-migration"
)

var allowedProcessKinds = map[ProcessKind]bool{
	ProcessMigrator:             true,
	ProcessCopyLog:              true,
	ProcessApplyLog:             true,
	ProcessServer:               true,
	ProcessSchemaMigration:      true,
	ProcessGlobalTableMigration: true,
}

// Allowed reports whether k is one of the six launchable process kinds.
func (k ProcessKind) Allowed() bool {
	return allowedProcessKinds[k]
}

// LaunchRequest describes one LAUNCH_PROCESS call. TimeoutMillis is 0 for a
// fire-and-forget launch (the caller gets the launch id back and a
// background waiter only logs the result); any other value makes the
// LAUNCH_PROCESS call itself block on the child's exit, bounded by that
// many milliseconds, or forever if negative.
type LaunchRequest struct {
	Kind          ProcessKind
	Args          []string
	Env           []string
	TimeoutMillis int
}

// LaunchHandle is returned immediately by Launch; the waiter path later
// reads ExitCode/Stdout/Stderr once the child has exited.
type LaunchHandle struct {
	ID        int64
	Kind      ProcessKind
	Pid       int
	StartedAt time.Time
}

// ExitStatus is what the waiter path retrieves for a launched handle.
type ExitStatus struct {
	ID       int64
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Err      error
}
