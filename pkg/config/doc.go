// Package config loads broker process configuration.
//
// Two layers, matching spec.md §6's "Environment variables" and "Persisted
// state" sections:
//
//   - ProcessIdentity is read directly from five specific environment
//     variables the parent process sets for a child (MASTER_SHM_KEY,
//     APPL_SERVER_SHM_KEY, BROKER_INDEX, AS_ID, UTIL_PID). These identify a
//     single running process, not a tunable setting, so they are read with
//     plain os.Getenv rather than run through envconfig's prefix/default
//     machinery.
//   - BrokerConfig is the broker's own tunable configuration (name, role,
//     listen port, worker pool bounds, session timeout, access mode),
//     loaded via envconfig with an SHARDBROKER_ prefix, the way
//     mycelian-ai-mycelian-memory's server/internal/config loads its
//     MEMORY_BACKEND_-prefixed settings.
package config
