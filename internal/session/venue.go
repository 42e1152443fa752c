package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a local time of day with minute resolution.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" (24-hour).
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("clock time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("clock time %q: bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("clock time %q: bad minute", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// onDay anchors the clock time on a calendar day in the given location.
// Reassembling with time.Date keeps DST shifts correct: 09:30 local is
// 09:30 local on both sides of a transition.
func (c ClockTime) onDay(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, loc)
}

// Venue defines one trading venue's session windows.
type Venue struct {
	ID         string
	Timezone   string // IANA name, e.g. "America/New_York"
	Open       ClockTime
	Close      ClockTime
	PreMarket  time.Duration // Window before open reported as PRE_MARKET
	PostMarket time.Duration // Window after close reported as POST_MARKET
	AlwaysOpen bool          // 24/7 venue: always OPEN, no transitions
}

// compiledVenue is a Venue with its location resolved at construction.
type compiledVenue struct {
	Venue
	loc *time.Location
}

// ConfigError reports an invalid venue definition. It is returned from
// New, never from Status: a calendar that constructed successfully
// answers every query.
type ConfigError struct {
	VenueID string
	Field   string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("venue %q: invalid %s: %v", e.VenueID, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func compileVenue(v Venue) (*compiledVenue, error) {
	if v.ID == "" {
		return nil, &ConfigError{VenueID: v.ID, Field: "id", Err: fmt.Errorf("empty")}
	}
	if v.AlwaysOpen {
		// Always-open venues still need a valid location for LocalTime.
		loc := time.UTC
		if v.Timezone != "" {
			l, err := time.LoadLocation(v.Timezone)
			if err != nil {
				return nil, &ConfigError{VenueID: v.ID, Field: "timezone", Err: err}
			}
			loc = l
		}
		return &compiledVenue{Venue: v, loc: loc}, nil
	}

	loc, err := time.LoadLocation(v.Timezone)
	if err != nil {
		return nil, &ConfigError{VenueID: v.ID, Field: "timezone", Err: err}
	}
	openMin := v.Open.Hour*60 + v.Open.Minute
	closeMin := v.Close.Hour*60 + v.Close.Minute
	if closeMin <= openMin {
		return nil, &ConfigError{VenueID: v.ID, Field: "close",
			Err: fmt.Errorf("close %s not after open %s", v.Close, v.Open)}
	}
	if v.PreMarket < 0 {
		return nil, &ConfigError{VenueID: v.ID, Field: "pre_market", Err: fmt.Errorf("negative")}
	}
	if v.PostMarket < 0 {
		return nil, &ConfigError{VenueID: v.ID, Field: "post_market", Err: fmt.Errorf("negative")}
	}
	return &compiledVenue{Venue: v, loc: loc}, nil
}
