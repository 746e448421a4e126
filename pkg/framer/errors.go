package framer

import (
	"errors"
	"fmt"
)

// Code is one member of the flat BR_ER_* error taxonomy (spec.md §7).
type Code int32

const (
	OK Code = 0

	ErrCommunication Code = -(iota + 1)
	ErrInvalidOpcode
	ErrInvalidArgument
	ErrNoMoreMemory
	ErrMetaDB
	ErrDBNameMismatched
	ErrNodeAddInProgress
	ErrNodeInfoExist
	ErrNodeInfoNotExist
	ErrNodeInUse
	ErrNodeAddInvalidSrcNode
	ErrSchemaMigrationFail
	ErrGlobalTableMigrationFail
	ErrRebalanceRunning
	ErrMigrationInvalidNodeID
	ErrRequestTimeout
	ErrFreeServer
	ErrShardInfoNotAvailable
	ErrInternal
)

var codeNames = map[Code]string{
	OK:                          "OK",
	ErrCommunication:            "BR_ER_COMMUNICATION",
	ErrInvalidOpcode:            "BR_ER_INVALID_OPCODE",
	ErrInvalidArgument:          "BR_ER_INVALID_ARGUMENT",
	ErrNoMoreMemory:             "BR_ER_NO_MORE_MEMORY",
	ErrMetaDB:                   "BR_ER_METADB",
	ErrDBNameMismatched:         "BR_ER_DBNAME_MISMATCHED",
	ErrNodeAddInProgress:        "BR_ER_NODE_ADD_IN_PROGRESS",
	ErrNodeInfoExist:            "BR_ER_NODE_INFO_EXIST",
	ErrNodeInfoNotExist:         "BR_ER_NODE_INFO_NOT_EXIST",
	ErrNodeInUse:                "BR_ER_NODE_IN_USE",
	ErrNodeAddInvalidSrcNode:    "BR_ER_NODE_ADD_INVALID_SRC_NODE",
	ErrSchemaMigrationFail:      "BR_ER_SCHEMA_MIGRATION_FAIL",
	ErrGlobalTableMigrationFail: "BR_ER_GLOBAL_TABLE_MIGRATION_FAIL",
	ErrRebalanceRunning:         "BR_ER_REBALANCE_RUNNING",
	ErrMigrationInvalidNodeID:   "BR_ER_MIGRATION_INVALID_NODEID",
	ErrRequestTimeout:           "BR_ER_REQUEST_TIMEOUT",
	ErrFreeServer:               "BR_ER_FREE_SERVER",
	ErrShardInfoNotAvailable:    "BR_ER_SHARD_INFO_NOT_AVAILABLE",
	ErrInternal:                 "BR_ER_INTERNAL",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("BR_ER_UNKNOWN(%d)", int32(c))
}

// Error is the error type every handler in this system returns; it carries
// both the coded taxonomy member (written into the response header) and an
// optional human-readable message (carried as a response message block).
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Err builds a framer error from a code and an optional formatted message.
func Err(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code from err, defaulting to ErrInternal for any error
// that did not originate from this package.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ErrInternal
}
