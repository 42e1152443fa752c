// Package sink implements downstream consumers of merged market state.
//
// Sinks:
//   - Postgres sink: latest-state table, one row per instrument
//   - Redis sink: latest-quote cache with TTL
//
// Sinks subscribe to the coordinator for every instrument and keep only
// the newest record per symbol between flushes. Both use upsert
// semantics: the store always reflects current state, never a history.
package sink
