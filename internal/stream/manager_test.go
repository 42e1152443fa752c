package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeClient is a controllable Client for manager tests.
type fakeClient struct {
	mu          sync.Mutex
	sends       [][]byte
	failConnect bool
	connected   bool

	// When non-nil, Connect blocks until this channel is closed,
	// simulating a dial that ignores cancellation.
	blockConnect chan struct{}

	messages chan TimestampedMessage
	errors   chan error
}

func newFakeClient(failConnect bool) *fakeClient {
	return &fakeClient{
		failConnect: failConnect,
		messages:    make(chan TimestampedMessage, 100),
		errors:      make(chan error, 1),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	if f.blockConnect != nil {
		<-f.blockConnect
	}
	if f.failConnect {
		return errors.New("dial refused")
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sends = append(f.sends, cp)
	return nil
}

func (f *fakeClient) Messages() <-chan TimestampedMessage { return f.messages }
func (f *fakeClient) Errors() <-chan error                { return f.errors }

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) subscribeCommands(t *testing.T) []command {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var cmds []command
	for _, data := range f.sends {
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			t.Fatalf("unmarshal sent command: %v", err)
		}
		if cmd.Cmd == "subscribe" {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

func (f *fakeClient) drop() {
	f.errors <- errors.New("forced disconnect")
}

// fakeFactory hands out fakeClients and remembers them in order.
type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
}

func (ff *fakeFactory) new(cfg ClientConfig, logger *slog.Logger) Client {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	c := newFakeClient(false)
	ff.clients = append(ff.clients, c)
	return c
}

func (ff *fakeFactory) client(i int) *fakeClient {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if i >= len(ff.clients) {
		return nil
	}
	return ff.clients[i]
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.clients)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(ff *fakeFactory) *Manager {
	m := NewManager(ManagerConfig{
		URL:             "ws://test",
		BackoffSchedule: []time.Duration{time.Millisecond},
	}, slog.Default())
	m.newClient = ff.new
	return m
}

func TestManager_ReplaysSubscriptionsOncePerReconnect(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(ff)

	m.Subscribe("equity", []string{"AAPL", "MSFT"})
	m.Subscribe("crypto", []string{"BTC-USD"})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Stop(ctx)
	}()

	const disconnects = 3
	for i := 0; i < disconnects; i++ {
		waitFor(t, fmt.Sprintf("connection %d", i+1), func() bool {
			c := ff.client(i)
			return c != nil && len(c.subscribeCommands(t)) >= 2
		})
		ff.client(i).drop()
	}
	waitFor(t, "reconnect after last drop", func() bool {
		return ff.count() >= disconnects+1
	})

	// Every connection must have replayed the full set exactly once:
	// one subscribe per group, no duplicates, no dropped keys.
	for i := 0; i < disconnects; i++ {
		cmds := ff.client(i).subscribeCommands(t)
		if len(cmds) != 2 {
			t.Errorf("conn %d: %d subscribe commands, want 2", i, len(cmds))
			continue
		}
		byGroup := make(map[string][]string)
		for _, cmd := range cmds {
			if _, dup := byGroup[cmd.Group]; dup {
				t.Errorf("conn %d: duplicate subscribe for group %q", i, cmd.Group)
			}
			byGroup[cmd.Group] = cmd.Tickers
		}
		if got := byGroup["equity"]; len(got) != 2 {
			t.Errorf("conn %d: equity tickers = %v, want [AAPL MSFT]", i, got)
		}
		if got := byGroup["crypto"]; len(got) != 1 || got[0] != "BTC-USD" {
			t.Errorf("conn %d: crypto tickers = %v, want [BTC-USD]", i, got)
		}
	}
}

func TestManager_SubscribeIdempotent(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(ff)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Stop(ctx)
	}()

	waitFor(t, "connected", func() bool { return m.State() == StateConnected })

	m.Subscribe("equity", []string{"AAPL"})
	waitFor(t, "first subscribe", func() bool {
		return len(ff.client(0).subscribeCommands(t)) == 1
	})

	// Same set again: no second network call.
	m.Subscribe("equity", []string{"AAPL"})
	time.Sleep(50 * time.Millisecond)
	if got := len(ff.client(0).subscribeCommands(t)); got != 1 {
		t.Errorf("subscribe commands = %d, want 1 (idempotent re-subscribe)", got)
	}
}

func TestManager_UnsubscribeWhileDisconnected(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(ff)

	// Not started: no connection exists, so this must only edit the
	// pending-replay set.
	m.Subscribe("equity", []string{"AAPL", "MSFT"})
	m.Unsubscribe("equity", []string{"MSFT"})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Stop(ctx)
	}()

	waitFor(t, "replay", func() bool {
		c := ff.client(0)
		return c != nil && len(c.subscribeCommands(t)) == 1
	})

	cmds := ff.client(0).subscribeCommands(t)
	if len(cmds[0].Tickers) != 1 || cmds[0].Tickers[0] != "AAPL" {
		t.Errorf("replayed tickers = %v, want [AAPL]", cmds[0].Tickers)
	}
}

func TestManager_ChannelNameMapping(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(ff)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Stop(ctx)
	}()

	waitFor(t, "connected", func() bool { return m.State() == StateConnected })

	channels := []string{
		"ReceivePriceUpdate", "ReceiveMarketData", // legacy
		"PriceUpdate", "MarketDataUpdate", "MarketData", // current
	}
	for _, ch := range channels {
		payload := fmt.Sprintf(`{"channel":%q,"data":[{"symbol":"AAPL","price":1}]}`, ch)
		ff.client(0).messages <- TimestampedMessage{Data: []byte(payload), ReceivedAt: time.Now()}
	}
	// Unknown channel: silently skipped.
	ff.client(0).messages <- TimestampedMessage{
		Data:       []byte(`{"channel":"SomethingElse","data":[{"symbol":"X","price":2}]}`),
		ReceivedAt: time.Now(),
	}

	for i, ch := range channels {
		select {
		case ev := <-m.Events():
			if ev.Type != EventPriceUpdate {
				t.Errorf("event %d (%s): Type = %q, want priceUpdate", i, ch, ev.Type)
			}
			if len(ev.Records) != 1 {
				t.Errorf("event %d (%s): %d records, want 1", i, ch, len(ev.Records))
			}
		case <-time.After(time.Second):
			t.Fatalf("no event for channel %s", ch)
		}
	}

	select {
	case ev := <-m.Events():
		t.Errorf("unexpected event from unknown channel: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_SingleRecordPayload(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(ff)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Stop(ctx)
	}()

	waitFor(t, "connected", func() bool { return m.State() == StateConnected })

	ff.client(0).messages <- TimestampedMessage{
		Data:       []byte(`{"channel":"PriceUpdate","data":{"symbol":"AAPL","price":256.26}}`),
		ReceivedAt: time.Now(),
	}

	select {
	case ev := <-m.Events():
		if len(ev.Records) != 1 || ev.Records[0]["symbol"] != "AAPL" {
			t.Errorf("Records = %v, want single AAPL record", ev.Records)
		}
	case <-time.After(time.Second):
		t.Fatal("no event for single-record payload")
	}
}

func TestManager_ExhaustedAfterRetryCap(t *testing.T) {
	m := NewManager(ManagerConfig{
		URL:             "ws://test",
		BackoffSchedule: []time.Duration{time.Millisecond},
		RetryCap:        2,
	}, slog.Default())
	m.newClient = func(cfg ClientConfig, logger *slog.Logger) Client {
		return newFakeClient(true) // every connect fails
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Stop(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case sc := <-m.Status():
			if sc.Exhausted {
				if sc.State != StateBackoff {
					t.Errorf("exhausted status State = %s, want backoff", sc.State)
				}
				return
			}
		case <-deadline:
			t.Fatal("never saw an exhausted status event")
		}
	}
}

func TestManager_StopTimeoutWhileConnectBlocked(t *testing.T) {
	release := make(chan struct{})
	m := NewManager(ManagerConfig{
		URL:             "ws://test",
		BackoffSchedule: []time.Duration{time.Millisecond},
	}, slog.Default())
	m.newClient = func(cfg ClientConfig, logger *slog.Logger) Client {
		c := newFakeClient(true)
		c.blockConnect = release
		return c
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The dial never returns in time: Stop must give up without closing
	// the outbound channels out from under the connection loop.
	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Stop(stopCtx); err == nil {
		t.Fatal("Stop returned nil despite a blocked connect")
	}

	// The dial finally returns. The loop must report its backoff state
	// and wind down cleanly, then close the channels itself.
	close(release)

	waitFor(t, "stopped state", func() bool { return m.State() == StateStopped })
	for range m.status {
	}
	if _, open := <-m.events; open {
		t.Error("events channel still open after shutdown")
	}
}

func TestManager_StopCancelsBackoff(t *testing.T) {
	m := NewManager(ManagerConfig{
		URL:             "ws://test",
		BackoffSchedule: []time.Duration{time.Hour}, // would hang without cancellation
	}, slog.Default())
	m.newClient = func(cfg ClientConfig, logger *slog.Logger) Client {
		return newFakeClient(true)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "backoff state", func() bool { return m.State() == StateBackoff })

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := m.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Stop took %v, want immediate backoff cancellation", elapsed)
	}
}
