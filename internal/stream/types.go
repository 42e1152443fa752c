package stream

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw message data with its receive timestamp.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// State is the connection state machine's current state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateBackoff      State = "backoff"
	StateStopped      State = "stopped"
)

// StatusChange is emitted on every state transition. Exhausted is set once
// the reconnect attempt count passes the configured cap; the manager keeps
// retrying at the backoff ceiling, but consumers should surface the feed
// as unavailable.
type StatusChange struct {
	State     State
	Attempt   int
	Exhausted bool
}

// EventType is the internal event kind all accepted channels map to.
type EventType string

const EventPriceUpdate EventType = "priceUpdate"

// Event is one inbound feed event, already stripped of its channel name.
// Records stay in raw key/value form: interpreting upstream field names is
// the normalizer's job, not the transport's.
type Event struct {
	Type       EventType
	Channel    string // Original channel name, for diagnostics only
	Records    []map[string]any
	ReceivedAt time.Time
}

// priceChannels maps every accepted inbound channel name, legacy and
// current, onto the single internal event type.
var priceChannels = map[string]EventType{
	// legacy
	"ReceivePriceUpdate": EventPriceUpdate,
	"ReceiveMarketData":  EventPriceUpdate,
	// current
	"PriceUpdate":      EventPriceUpdate,
	"MarketDataUpdate": EventPriceUpdate,
	"MarketData":       EventPriceUpdate,
}

// frame is the wire envelope for inbound feed messages.
type frame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// command is the wire form of an outbound subscribe/unsubscribe call.
type command struct {
	Cmd     string   `json:"cmd"`
	Group   string   `json:"group"`
	Tickers []string `json:"tickers"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // WebSocket URL
	PingTimeout  time.Duration // Max time without ping before the connection counts as stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   10000,
	}
}

// ManagerConfig configures the stream manager.
type ManagerConfig struct {
	URL             string          // WebSocket URL
	BackoffSchedule []time.Duration // Waits between reconnect attempts; the last entry repeats
	RetryCap        int             // Attempts before the feed is reported unavailable
	EventBufferSize int             // Buffer size for the output event channel
	PingTimeout     time.Duration
	WriteTimeout    time.Duration
}

// DefaultManagerConfig returns sensible defaults. The backoff ladder is
// 0s, 2s, 10s, then repeating at a 30s ceiling.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BackoffSchedule: []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second},
		RetryCap:        5,
		EventBufferSize: 10000,
		PingTimeout:     60 * time.Second,
		WriteTimeout:    5 * time.Second,
	}
}

func (c *ManagerConfig) applyDefaults() {
	def := DefaultManagerConfig()
	if len(c.BackoffSchedule) == 0 {
		c.BackoffSchedule = def.BackoffSchedule
	}
	if c.RetryCap == 0 {
		c.RetryCap = def.RetryCap
	}
	if c.EventBufferSize == 0 {
		c.EventBufferSize = def.EventBufferSize
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = def.PingTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
}
