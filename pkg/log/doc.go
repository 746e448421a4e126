// Package log provides the process-wide structured logger shared by every
// broker, worker-pool, and shard-management component.
//
// It wraps zerolog: Init sets the global Logger once at process startup from
// parsed configuration, and WithComponent/WithBroker/WithSlot/WithGroupID
// return child loggers that tag subsequent lines with the context a reader
// needs to find them again (which broker, which slot, which migration).
package log
