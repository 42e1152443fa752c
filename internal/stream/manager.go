package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Manager owns the single persistent feed connection, its reconnect state
// machine, and the active subscription set.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	// newClient is replaceable in tests.
	newClient func(ClientConfig, *slog.Logger) Client

	events chan Event
	status chan StatusChange

	// One critical section guards the subscription set and the live
	// connection, so subscribing during an in-flight reconnect is safe.
	mu   sync.Mutex
	subs map[string]map[string]struct{} // group → ticker set
	conn Client                         // nil unless connected

	stateMu sync.RWMutex
	state   State

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a stream manager. Defaults are applied to zero-valued
// config fields.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Manager{
		cfg:       cfg,
		logger:    logger,
		newClient: NewClient,
		events:    make(chan Event, cfg.EventBufferSize),
		status:    make(chan StatusChange, 16),
		subs:      make(map[string]map[string]struct{}),
		state:     StateDisconnected,
	}
}

// Start launches the connection loop.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.run()

	m.logger.Info("stream manager started", "url", m.cfg.URL)
	return nil
}

// Stop tears the connection down. Any pending backoff timer is cancelled
// immediately; no reconnect survives a stop.
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// run may still be blocked in a connect or pump; it owns the
		// channels and will close them when it exits.
		m.logger.Warn("stream manager stop timed out")
		return ctx.Err()
	}

	m.logger.Info("stream manager stopped")
	return nil
}

// Events returns the channel of inbound feed events.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Status returns the channel of connection state transitions.
func (m *Manager) Status() <-chan StatusChange {
	return m.status
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Subscribe adds tickers under a group (asset class or venue). Re-invoking
// with an already-subscribed set is a no-op: only genuinely new tickers
// trigger a network call, and none is attempted while disconnected. The
// set is replayed on the next connect instead.
func (m *Manager) Subscribe(group string, tickers []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.subs[group]
	if !ok {
		set = make(map[string]struct{})
		m.subs[group] = set
	}

	var added []string
	for _, t := range tickers {
		if _, dup := set[t]; dup {
			continue
		}
		set[t] = struct{}{}
		added = append(added, t)
	}

	if len(added) == 0 || m.conn == nil {
		return
	}
	m.sendCommandLocked("subscribe", group, added)
}

// Unsubscribe removes tickers from a group. While disconnected this only
// edits the pending-replay set; no network call is attempted.
func (m *Manager) Unsubscribe(group string, tickers []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.subs[group]
	if !ok {
		return
	}

	var removed []string
	for _, t := range tickers {
		if _, present := set[t]; !present {
			continue
		}
		delete(set, t)
		removed = append(removed, t)
	}
	if len(set) == 0 {
		delete(m.subs, group)
	}

	if len(removed) == 0 || m.conn == nil {
		return
	}
	m.sendCommandLocked("unsubscribe", group, removed)
}

// Subscriptions returns a snapshot of the active subscription set.
func (m *Manager) Subscriptions() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]string, len(m.subs))
	for group, set := range m.subs {
		tickers := make([]string, 0, len(set))
		for t := range set {
			tickers = append(tickers, t)
		}
		sort.Strings(tickers)
		out[group] = tickers
	}
	return out
}

// run is the connection state machine: Connecting → Connected → Backoff,
// around again, until teardown.
func (m *Manager) run() {
	// run owns the outbound channels: they close only once no code path
	// can send on them again.
	defer func() {
		m.setState(StateStopped, 0, false)
		close(m.events)
		close(m.status)
		m.wg.Done()
	}()

	attempt := 0
	for {
		if m.ctx.Err() != nil {
			return
		}

		m.setState(StateConnecting, attempt, false)

		clientCfg := ClientConfig{
			URL:          m.cfg.URL,
			PingTimeout:  m.cfg.PingTimeout,
			WriteTimeout: m.cfg.WriteTimeout,
			BufferSize:   m.cfg.EventBufferSize,
		}
		conn := m.newClient(clientCfg, m.logger)

		if err := conn.Connect(m.ctx); err != nil {
			m.logger.Warn("connect failed", "attempt", attempt, "error", err)
			conn.Close()
			attempt++
			if !m.backoff(attempt) {
				return
			}
			continue
		}

		// Replay the full active subscription set exactly once per connect.
		m.mu.Lock()
		m.conn = conn
		m.replayLocked()
		m.mu.Unlock()

		attempt = 0
		m.setState(StateConnected, 0, false)

		err := m.pump(conn)

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		conn.Close()

		if m.ctx.Err() != nil {
			return
		}

		m.logger.Warn("connection lost", "error", err)
		attempt++
		if !m.backoff(attempt) {
			return
		}
	}
}

// pump forwards inbound messages until the connection errors or the
// manager is stopped.
func (m *Manager) pump(conn Client) error {
	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()

		case err := <-conn.Errors():
			return err

		case msg, ok := <-conn.Messages():
			if !ok {
				return ErrNotConnected
			}
			m.dispatch(msg)
		}
	}
}

// dispatch decodes one inbound frame and maps its channel name onto the
// internal event type.
func (m *Manager) dispatch(msg TimestampedMessage) {
	var f frame
	if err := json.Unmarshal(msg.Data, &f); err != nil {
		m.logger.Warn("undecodable frame", "error", err)
		return
	}

	eventType, accepted := priceChannels[f.Channel]
	if !accepted {
		m.logger.Debug("skipping channel", "channel", f.Channel)
		return
	}

	records, err := decodeRecords(f.Data)
	if err != nil {
		m.logger.Warn("undecodable event payload", "channel", f.Channel, "error", err)
		return
	}

	event := Event{
		Type:       eventType,
		Channel:    f.Channel,
		Records:    records,
		ReceivedAt: msg.ReceivedAt,
	}

	select {
	case m.events <- event:
	case <-m.ctx.Done():
	default:
		m.logger.Warn("event buffer full, dropping event", "channel", f.Channel)
	}
}

// decodeRecords accepts either an array of records or a single record.
func decodeRecords(data json.RawMessage) ([]map[string]any, error) {
	var records []map[string]any
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}

	var single map[string]any
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	return []map[string]any{single}, nil
}

// replayLocked sends one subscribe command per group for the full active
// set. Caller holds m.mu, so no concurrent Subscribe can slip a ticker in
// between snapshot and send.
func (m *Manager) replayLocked() {
	for group, set := range m.subs {
		if len(set) == 0 {
			continue
		}
		tickers := make([]string, 0, len(set))
		for t := range set {
			tickers = append(tickers, t)
		}
		sort.Strings(tickers)
		m.sendCommandLocked("subscribe", group, tickers)
	}
}

// sendCommandLocked marshals and sends one command. Caller holds m.mu and
// has checked m.conn is non-nil.
func (m *Manager) sendCommandLocked(cmd, group string, tickers []string) {
	data, err := json.Marshal(command{Cmd: cmd, Group: group, Tickers: tickers})
	if err != nil {
		return
	}
	if err := m.conn.Send(data); err != nil {
		m.logger.Warn("send failed",
			"cmd", cmd,
			"group", group,
			"error", err,
		)
	}
}

// backoff waits out the schedule slot for the given attempt. Returns false
// if the manager was stopped while waiting; the timer is cancelled at once.
func (m *Manager) backoff(attempt int) bool {
	idx := attempt - 1
	if idx >= len(m.cfg.BackoffSchedule) {
		idx = len(m.cfg.BackoffSchedule) - 1
	}
	wait := m.cfg.BackoffSchedule[idx]

	exhausted := attempt > m.cfg.RetryCap
	m.setState(StateBackoff, attempt, exhausted)

	if wait <= 0 {
		return m.ctx.Err() == nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-m.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) setState(s State, attempt int, exhausted bool) {
	m.stateMu.Lock()
	changed := m.state != s
	m.state = s
	m.stateMu.Unlock()

	if !changed && !exhausted {
		return
	}

	select {
	case m.status <- StatusChange{State: s, Attempt: attempt, Exhausted: exhausted}:
	default:
		// Status consumers that fall behind miss intermediate transitions.
	}
}
