package index

import (
	"sync"
	"time"

	"github.com/avelar/marketsync/internal/model"
)

// entry is one logical instrument: a shared record plus every alias known
// to resolve to it. The record pointer is replaced wholesale on merge.
type entry struct {
	aliases map[string]struct{}
	rec     *model.MarketRecord
}

// Stats holds index counters.
type Stats struct {
	Records int // Distinct market records
	Aliases int // Registered alias keys
}

// Index is the alias-keyed market record store. Safe for concurrent use;
// stream updates funnel through the coordinator's event loop, snapshot
// replays may land from other goroutines.
type Index struct {
	mu      sync.RWMutex
	byAlias map[string]*entry
}

// New creates an empty index.
func New() *Index {
	return &Index{byAlias: make(map[string]*entry)}
}

// Get returns a snapshot of the record reachable under any alias.
func (ix *Index) Get(alias string) (model.MarketRecord, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	e, ok := ix.byAlias[alias]
	if !ok {
		return model.MarketRecord{}, false
	}
	return *e.rec, true
}

// Aliases returns every alias currently resolving to the same record as
// the given alias, or nil if unknown.
func (ix *Index) Aliases(alias string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	e, ok := ix.byAlias[alias]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.aliases))
	for a := range e.aliases {
		out = append(out, a)
	}
	return out
}

// Stats returns current counters.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	seen := make(map[*entry]struct{})
	for _, e := range ix.byAlias {
		seen[e] = struct{}{}
	}
	return Stats{Records: len(seen), Aliases: len(ix.byAlias)}
}

// Upsert merges a partial update into the record shared by the given alias
// set and returns the merged snapshot. New fields overwrite, fields absent
// in the update are preserved. If the aliases were previously split across
// different records the entries are unified into one record reachable by
// all now-known aliases. Records are never deleted, only updated.
func (ix *Index) Upsert(aliasSet []string, upd model.RecordUpdate, status model.SessionStatus) model.MarketRecord {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	e := ix.unifyLocked(aliasSet)

	merged := mergeRecord(e.rec, upd)
	merged.SessionStatus = status
	e.rec = &merged

	return merged
}

// EnrichAll recomputes session status for every distinct record, batched by
// venue: lookup is called once per venue, not once per record. Records
// whose venue the lookup rejects keep their prior status.
func (ix *Index) EnrichAll(lookup func(venueID string) (model.SessionStatus, bool)) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	byVenue := make(map[string][]*entry)
	seen := make(map[*entry]struct{})
	for _, e := range ix.byAlias {
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		byVenue[e.rec.SourceVenue] = append(byVenue[e.rec.SourceVenue], e)
	}

	for venue, entries := range byVenue {
		status, ok := lookup(venue)
		if !ok {
			continue
		}
		for _, e := range entries {
			if e.rec.SessionStatus == status {
				continue
			}
			rec := *e.rec
			rec.SessionStatus = status
			e.rec = &rec
		}
	}
}

// unifyLocked resolves the alias set to one entry, creating or merging
// entries as needed, and registers every alias on it.
func (ix *Index) unifyLocked(aliasSet []string) *entry {
	var base *entry
	for _, a := range aliasSet {
		e, ok := ix.byAlias[a]
		if !ok {
			continue
		}
		if base == nil {
			base = e
			continue
		}
		if e == base {
			continue
		}
		// Aliases were split across records: fold the later entry's fields
		// into the base where the base has gaps, then retarget its aliases.
		// The base record is rebuilt and swapped, not edited in place.
		rec := *base.rec
		fillGaps(&rec, e.rec)
		base.rec = &rec
		for a2 := range e.aliases {
			base.aliases[a2] = struct{}{}
			ix.byAlias[a2] = base
		}
	}

	if base == nil {
		base = &entry{
			aliases: make(map[string]struct{}, len(aliasSet)),
			rec:     &model.MarketRecord{},
		}
	}
	for _, a := range aliasSet {
		base.aliases[a] = struct{}{}
		ix.byAlias[a] = base
	}
	return base
}

// mergeRecord applies a shallow merge: set fields from upd overwrite,
// unset fields keep the prior value. The result is a fresh value so the
// caller can swap it in atomically.
func mergeRecord(prior *model.MarketRecord, upd model.RecordUpdate) model.MarketRecord {
	merged := *prior

	if upd.Symbol != "" && merged.Symbol == "" {
		merged.Symbol = upd.Symbol
	}
	merged.Price = upd.Price
	if upd.PreviousClose != nil {
		v := *upd.PreviousClose
		merged.PreviousClose = &v
	}
	if upd.ChangePercent != nil {
		v := *upd.ChangePercent
		merged.ChangePercent = &v
	}
	merged.Corrected = upd.Corrected
	if upd.Venue != "" {
		merged.SourceVenue = upd.Venue
	}
	if !upd.ReceivedAt.IsZero() {
		merged.UpdatedAt = upd.ReceivedAt
	} else {
		merged.UpdatedAt = time.Now().UTC()
	}
	return merged
}

// fillGaps copies fields present on other but missing on dst. Used when
// unifying previously-split records; dst wins on conflict because it is
// the entry the newest update lands on.
func fillGaps(dst, other *model.MarketRecord) {
	if dst.Symbol == "" {
		dst.Symbol = other.Symbol
	}
	if dst.Price == 0 {
		dst.Price = other.Price
	}
	if dst.PreviousClose == nil {
		dst.PreviousClose = other.PreviousClose
	}
	if dst.ChangePercent == nil {
		dst.ChangePercent = other.ChangePercent
	}
	if dst.SourceVenue == "" {
		dst.SourceVenue = other.SourceVenue
	}
	if dst.UpdatedAt.Before(other.UpdatedAt) {
		dst.UpdatedAt = other.UpdatedAt
	}
}
