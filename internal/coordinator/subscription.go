package coordinator

import (
	"github.com/google/uuid"

	"github.com/avelar/marketsync/internal/model"
)

// NotifyFunc receives merged record snapshots. Called from the event loop:
// implementations must not block.
type NotifyFunc func(model.MarketRecord)

// StatusKind classifies stream status events delivered to subscribers.
type StatusKind string

const (
	StatusStreaming    StatusKind = "streaming"
	StatusReconnecting StatusKind = "reconnecting"
	StatusUnavailable  StatusKind = "unavailable"
)

// StatusEvent tells subscribers about feed health. An unavailable feed is
// reported as an event, never as a fault: the engine keeps retrying.
type StatusEvent struct {
	Kind StatusKind
}

// StatusFunc receives stream status events.
type StatusFunc func(StatusEvent)

// Subscription is one caller's interest in a set of instrument keys.
type Subscription struct {
	id     uuid.UUID
	keys   map[string]struct{}
	all    bool // Matches every instrument (used by sinks)
	notify NotifyFunc
	status StatusFunc

	owner *Coordinator
}

// ID returns the subscription's identifier.
func (s *Subscription) ID() uuid.UUID { return s.id }

// Add registers additional keys. Adding already-subscribed keys is a
// no-op.
func (s *Subscription) Add(keys ...string) {
	s.owner.addKeys(s, keys)
}

// Remove drops keys from the subscription's interest set.
func (s *Subscription) Remove(keys ...string) {
	s.owner.removeKeys(s, keys)
}

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.owner.unsubscribe(s)
}

// matches reports whether any of the record's aliases intersect the
// subscription's key set. Caller holds the owner's subMu.
func (s *Subscription) matches(aliases []string) bool {
	if s.all {
		return true
	}
	for _, a := range aliases {
		if _, ok := s.keys[a]; ok {
			return true
		}
	}
	return false
}
