// Package coordinator orchestrates the sync engine: raw feed events are
// normalized, enriched with session status, upserted into the symbol
// index, and fanned out to subscribers.
//
// Stream events are processed on a single goroutine. Updates
// for the same instrument arriving within one processing tick are
// coalesced: subscribers see the final merged state for the tick, never a
// backlog of intermediate values.
package coordinator
