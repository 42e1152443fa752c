// Package index implements the symbol index: a keyed store mapping every
// alias of an instrument to one shared market record.
//
// All mutations go through a single writer (the sync coordinator's event
// loop). Merges build a new record value and swap it in under the write
// lock, so concurrent readers see either the pre- or post-merge snapshot,
// never a partially merged record.
package index
