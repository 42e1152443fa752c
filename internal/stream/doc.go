// Package stream implements the push side of the transport: exactly one
// persistent WebSocket connection to the upstream feed.
//
// The manager runs an explicit connection state machine (Disconnected,
// Connecting, Connected, Backoff). On every connect, including every
// reconnect, the full active subscription set is replayed exactly once.
// Inbound events arrive under several accepted channel names (a legacy set
// and a current set); all map to one internal event type so downstream
// code is channel-name-agnostic.
package stream
