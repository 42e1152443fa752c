package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/avelar/marketsync/internal/model"
)

// ErrUnknownVenue is returned by Status for a venue the calendar was not
// built with.
var ErrUnknownVenue = errors.New("unknown venue")

// maxScanDays bounds the forward search for the next trading day. Two years
// covers any realistic holiday run.
const maxScanDays = 740

// Calendar computes session status for configured venues. It is immutable
// after construction and safe for concurrent use.
type Calendar struct {
	venues   map[string]*compiledVenue
	holidays HolidayLookup
}

// New compiles the venue table. Invalid definitions (unknown timezone,
// inverted session windows) fail here so that Status never fails later.
func New(venues []Venue, holidays HolidayLookup) (*Calendar, error) {
	if len(venues) == 0 {
		return nil, fmt.Errorf("no venues configured")
	}
	compiled := make(map[string]*compiledVenue, len(venues))
	for _, v := range venues {
		cv, err := compileVenue(v)
		if err != nil {
			return nil, err
		}
		if _, dup := compiled[v.ID]; dup {
			return nil, &ConfigError{VenueID: v.ID, Field: "id", Err: fmt.Errorf("duplicate")}
		}
		compiled[v.ID] = cv
	}
	return &Calendar{venues: compiled, holidays: holidays}, nil
}

// VenueIDs returns the configured venue identifiers.
func (c *Calendar) VenueIDs() []string {
	ids := make([]string, 0, len(c.venues))
	for id := range c.venues {
		ids = append(ids, id)
	}
	return ids
}

// Status classifies an instant against a venue's session windows.
//
// Boundary policy: the open boundary is inclusive (exactly at open is OPEN),
// the close boundary is exclusive (exactly at close is POST_MARKET).
func (c *Calendar) Status(venueID string, at time.Time) (model.SessionState, error) {
	v, ok := c.venues[venueID]
	if !ok {
		return model.SessionState{}, fmt.Errorf("%w: %q", ErrUnknownVenue, venueID)
	}

	local := at.In(v.loc)
	state := model.SessionState{
		VenueID:   venueID,
		LocalTime: local,
	}

	if v.AlwaysOpen {
		state.Status = model.StatusOpen
		return state, nil
	}

	if c.isHoliday(v, local) {
		state.Status = model.StatusHoliday
		c.setTransition(&state, c.nextTradingDayBoundary(v, local, v.Open, model.TransitionOpen))
		return state, nil
	}

	if !isTradingWeekday(local.Weekday()) {
		state.Status = model.StatusClosed
		c.setTransition(&state, c.nextTradingDayBoundary(v, local, v.Open, model.TransitionOpen))
		return state, nil
	}

	open := v.Open.onDay(local, v.loc)
	close := v.Close.onDay(local, v.loc)
	preOpen := open.Add(-v.PreMarket)
	postClose := close.Add(v.PostMarket)

	switch {
	case local.Before(preOpen):
		state.Status = model.StatusClosed
		c.setTransition(&state, boundary{preOpen, preOpenKind(v)})
	case local.Before(open):
		state.Status = model.StatusPreMarket
		c.setTransition(&state, boundary{open, model.TransitionOpen})
	case local.Before(close):
		state.Status = model.StatusOpen
		c.setTransition(&state, boundary{close, model.TransitionClose})
	case local.Before(postClose):
		state.Status = model.StatusPostMarket
		c.setTransition(&state, boundary{postClose, model.TransitionPostClose})
	default:
		state.Status = model.StatusClosed
		// Past today's boundaries: first boundary of the next trading day.
		if v.PreMarket > 0 {
			c.setTransition(&state, c.nextTradingDayPreOpen(v, local))
		} else {
			c.setTransition(&state, c.nextTradingDayBoundary(v, local, v.Open, model.TransitionOpen))
		}
	}

	return state, nil
}

type boundary struct {
	at   time.Time
	kind model.TransitionKind
}

func (c *Calendar) setTransition(state *model.SessionState, b boundary) {
	utc := b.at.UTC()
	state.NextTransition = &utc
	state.NextTransitionKind = b.kind
}

func preOpenKind(v *compiledVenue) model.TransitionKind {
	if v.PreMarket > 0 {
		return model.TransitionPreOpen
	}
	return model.TransitionOpen
}

func isTradingWeekday(d time.Weekday) bool {
	return d != time.Saturday && d != time.Sunday
}

func (c *Calendar) isHoliday(v *compiledVenue, local time.Time) bool {
	if c.holidays == nil {
		return false
	}
	y, m, d := local.Date()
	return c.holidays.IsHoliday(v.ID, y, m, d)
}

// nextTradingDayBoundary scans forward from the day after local to the next
// non-holiday weekday and anchors the given clock time on it.
func (c *Calendar) nextTradingDayBoundary(v *compiledVenue, local time.Time, at ClockTime, kind model.TransitionKind) boundary {
	day := local
	for i := 0; i < maxScanDays; i++ {
		day = day.AddDate(0, 0, 1)
		if isTradingWeekday(day.Weekday()) && !c.isHoliday(v, day) {
			return boundary{at.onDay(day, v.loc), kind}
		}
	}
	// Unreachable with a sane holiday table; fall back to tomorrow's open.
	return boundary{at.onDay(local.AddDate(0, 0, 1), v.loc), kind}
}

// nextTradingDayPreOpen is nextTradingDayBoundary shifted back by the
// pre-market window.
func (c *Calendar) nextTradingDayPreOpen(v *compiledVenue, local time.Time) boundary {
	b := c.nextTradingDayBoundary(v, local, v.Open, model.TransitionPreOpen)
	b.at = b.at.Add(-v.PreMarket)
	return b
}
