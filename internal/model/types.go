package model

import "time"

// SessionStatus is the trading-session state of a venue at an instant.
type SessionStatus string

const (
	StatusOpen       SessionStatus = "OPEN"
	StatusPreMarket  SessionStatus = "PRE_MARKET"
	StatusPostMarket SessionStatus = "POST_MARKET"
	StatusClosed     SessionStatus = "CLOSED"
	StatusHoliday    SessionStatus = "HOLIDAY"
)

// TransitionKind identifies which session boundary comes next.
type TransitionKind string

const (
	TransitionPreOpen   TransitionKind = "pre_open"
	TransitionOpen      TransitionKind = "open"
	TransitionClose     TransitionKind = "close"
	TransitionPostClose TransitionKind = "post_close"
)

// SessionState is the result of a session calendar lookup.
type SessionState struct {
	VenueID   string
	Status    SessionStatus
	LocalTime time.Time // queried instant in the venue's location

	// NextTransition is the next session boundary in UTC.
	// Nil for always-open venues, which never transition.
	NextTransition     *time.Time
	NextTransitionKind TransitionKind
}

// Instrument is a tradeable instrument known under one or more identifiers.
type Instrument struct {
	ID         string   // Stable identifier (primary alias)
	Ticker     string   // Display ticker
	LegacyIDs  []string // Alternate/legacy identifiers
	VenueID    string   // Trading venue
	AssetClass string   // e.g. "equity", "crypto"
}

// Aliases returns every identifier that resolves to this instrument.
// The stable ID comes first, then the ticker, then legacy identifiers.
func (i Instrument) Aliases() []string {
	aliases := make([]string, 0, 2+len(i.LegacyIDs))
	if i.ID != "" {
		aliases = append(aliases, i.ID)
	}
	if i.Ticker != "" && i.Ticker != i.ID {
		aliases = append(aliases, i.Ticker)
	}
	for _, id := range i.LegacyIDs {
		if id != "" && id != i.ID && id != i.Ticker {
			aliases = append(aliases, id)
		}
	}
	return aliases
}

// MarketRecord is the canonical per-instrument market state. Records are
// owned by the symbol index: they are built immutably and swapped in on
// merge, never mutated in place.
type MarketRecord struct {
	Symbol        string // Primary symbol the record was first seen under
	Price         float64
	PreviousClose *float64
	ChangePercent *float64
	Corrected     bool // True when an upstream changePercent was overridden

	SessionStatus SessionStatus
	SourceVenue   string
	UpdatedAt     time.Time // Last upsert (UTC)
}

// RecordUpdate is a partial record produced by the field normalizer from one
// raw upstream event. Nil pointer fields were absent upstream and must not
// overwrite prior state on merge.
type RecordUpdate struct {
	Symbol        string
	Price         float64
	PreviousClose *float64
	ChangePercent *float64
	Corrected     bool
	MarketStatus  string // Raw upstream status string, informational only
	Venue         string
	ReceivedAt    time.Time
}
