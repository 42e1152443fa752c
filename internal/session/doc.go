// Package session implements the trading-session calendar.
//
// The calendar is a pure function of (venue, instant): it converts the
// instant into the venue's local calendar field by field, classifies it
// against the venue's session windows, and computes the next session
// boundary as a UTC instant. All venue and timezone validation happens at
// construction; lookups never fail for a known venue.
package session
