// Package metrics exposes Prometheus counters and gauges for the worker
// pool, connection dispatcher, and shard controller, plus the small
// component-health registry served alongside them. Components update these
// directly at the point a counter in their own descriptor changes, rather
// than through a polling collector, since the control region's counters are
// the source of truth and are already mutated under the relevant lock.
package metrics
