package session

import "time"

// HolidayLookup answers whether a venue-local calendar date is a full-day
// market holiday. Implementations must be safe for concurrent use.
type HolidayLookup interface {
	IsHoliday(venueID string, year int, month time.Month, day int) bool
}

// StaticHolidays is a HolidayLookup backed by a fixed per-venue date set,
// typically loaded from configuration.
type StaticHolidays struct {
	dates map[string]map[string]struct{} // venueID → "2006-01-02" set
}

// NewStaticHolidays builds a lookup from venue → local dates ("2006-01-02").
func NewStaticHolidays(byVenue map[string][]string) *StaticHolidays {
	dates := make(map[string]map[string]struct{}, len(byVenue))
	for venue, days := range byVenue {
		set := make(map[string]struct{}, len(days))
		for _, d := range days {
			set[d] = struct{}{}
		}
		dates[venue] = set
	}
	return &StaticHolidays{dates: dates}
}

func (h *StaticHolidays) IsHoliday(venueID string, year int, month time.Month, day int) bool {
	set, ok := h.dates[venueID]
	if !ok {
		return false
	}
	key := time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
	_, ok = set[key]
	return ok
}
