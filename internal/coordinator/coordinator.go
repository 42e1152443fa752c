package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/avelar/marketsync/internal/index"
	"github.com/avelar/marketsync/internal/model"
	"github.com/avelar/marketsync/internal/normalize"
	"github.com/avelar/marketsync/internal/session"
	"github.com/avelar/marketsync/internal/stream"
)

// State is the coordinator lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StateBackoff   State = "backoff"
	StateStopped   State = "stopped"
)

// Source is the push side of the transport as the coordinator sees it.
// *stream.Manager satisfies it.
type Source interface {
	Events() <-chan stream.Event
	Status() <-chan stream.StatusChange
}

// QuoteFetcher is the pull side, used to prime the index before streaming.
type QuoteFetcher interface {
	GetQuotes(ctx context.Context, symbols []string) ([]map[string]any, error)
}

// Config holds coordinator settings.
type Config struct {
	Tick           time.Duration // Coalescing tick
	EnrichInterval time.Duration // Period for whole-index session refresh
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Tick:           75 * time.Millisecond,
		EnrichInterval: 30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Tick == 0 {
		c.Tick = def.Tick
	}
	if c.EnrichInterval == 0 {
		c.EnrichInterval = def.EnrichInterval
	}
}

// Stats holds coordinator counters.
type Stats struct {
	State         State
	EventsHandled int64
	Notifications int64
	Subscriptions int
}

// pendingUpdate is one coalesced record awaiting tick delivery.
type pendingUpdate struct {
	rec     model.MarketRecord
	aliases []string
}

// Coordinator wires the transport, normalizer, calendar and index together
// and fans merged records out to subscribers.
type Coordinator struct {
	cfg        Config
	normalizer *normalize.Normalizer
	calendar   *session.Calendar
	index      *index.Index
	source     Source
	logger     *slog.Logger

	// Instrument table: alias → instrument, for alias-set and venue
	// resolution.
	instMu      sync.RWMutex
	instruments map[string]*model.Instrument

	subMu sync.RWMutex
	subs  map[uuid.UUID]*Subscription

	stateMu sync.RWMutex
	state   State

	eventsHandled atomic.Int64
	notifications atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Coordinator.
func New(cfg Config, normalizer *normalize.Normalizer, calendar *session.Calendar, ix *index.Index, source Source, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Coordinator{
		cfg:         cfg,
		normalizer:  normalizer,
		calendar:    calendar,
		index:       ix,
		source:      source,
		logger:      logger,
		instruments: make(map[string]*model.Instrument),
		subs:        make(map[uuid.UUID]*Subscription),
		state:       StateIdle,
	}
}

// RegisterInstruments adds instruments to the alias table. Every alias of
// an instrument resolves to the same alias set and venue from then on.
func (c *Coordinator) RegisterInstruments(instruments []model.Instrument) {
	c.instMu.Lock()
	defer c.instMu.Unlock()

	for i := range instruments {
		inst := instruments[i]
		for _, alias := range inst.Aliases() {
			c.instruments[alias] = &inst
		}
	}
}

// Prime fetches a quote snapshot through the pull transport and seeds the
// index before streaming begins. Failures leave the index empty; the feed
// will fill it.
func (c *Coordinator) Prime(ctx context.Context, fetcher QuoteFetcher) error {
	c.instMu.RLock()
	seen := make(map[string]struct{})
	symbols := make([]string, 0, len(c.instruments))
	for _, inst := range c.instruments {
		if _, dup := seen[inst.Ticker]; dup {
			continue
		}
		seen[inst.Ticker] = struct{}{}
		symbols = append(symbols, inst.Ticker)
	}
	c.instMu.RUnlock()

	quotes, err := fetcher.GetQuotes(ctx, symbols)
	if err != nil {
		return err
	}

	c.ApplySnapshot(quotes, time.Now().UTC())

	c.logger.Info("index primed", "quotes", len(quotes))
	return nil
}

// ApplySnapshot merges an out-of-band quote batch into the index, e.g.
// a periodic reconcile fetch. Corrections land in the index directly;
// subscribers pick them up with the next stream update or enrich pass.
func (c *Coordinator) ApplySnapshot(quotes []map[string]any, receivedAt time.Time) {
	for _, raw := range quotes {
		c.ingest(raw, receivedAt, nil)
	}
}

// Start launches the event loop.
func (c *Coordinator) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run()

	c.logger.Info("sync coordinator started",
		"tick", c.cfg.Tick,
		"enrich_interval", c.cfg.EnrichInterval,
	)
	return nil
}

// Stop shuts the event loop down.
func (c *Coordinator) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("coordinator stop timed out")
	}

	c.setState(StateStopped)
	c.logger.Info("sync coordinator stopped")
	return nil
}

// Subscribe registers interest in a set of instrument keys.
func (c *Coordinator) Subscribe(keys []string, notify NotifyFunc, status StatusFunc) *Subscription {
	return c.subscribe(keys, false, notify, status)
}

// SubscribeAll registers a subscriber for every instrument. Used by sinks.
func (c *Coordinator) SubscribeAll(notify NotifyFunc, status StatusFunc) *Subscription {
	return c.subscribe(nil, true, notify, status)
}

// subscribe builds the subscription fully before publishing it into the
// map; after publication its fields are only touched under subMu.
func (c *Coordinator) subscribe(keys []string, all bool, notify NotifyFunc, status StatusFunc) *Subscription {
	sub := &Subscription{
		id:     uuid.New(),
		keys:   make(map[string]struct{}, len(keys)),
		all:    all,
		notify: notify,
		status: status,
		owner:  c,
	}
	for _, k := range keys {
		sub.keys[k] = struct{}{}
	}

	c.subMu.Lock()
	c.subs[sub.id] = sub
	c.subMu.Unlock()

	return sub
}

// State returns the coordinator state.
func (c *Coordinator) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Stats returns current counters.
func (c *Coordinator) Stats() Stats {
	c.subMu.RLock()
	subCount := len(c.subs)
	c.subMu.RUnlock()

	return Stats{
		State:         c.State(),
		EventsHandled: c.eventsHandled.Load(),
		Notifications: c.notifications.Load(),
		Subscriptions: subCount,
	}
}

func (c *Coordinator) addKeys(sub *Subscription, keys []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, k := range keys {
		sub.keys[k] = struct{}{}
	}
}

func (c *Coordinator) removeKeys(sub *Subscription, keys []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, k := range keys {
		delete(sub.keys, k)
	}
}

func (c *Coordinator) unsubscribe(sub *Subscription) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subs, sub.id)
}

// run is the single-writer event loop. Every index mutation happens here.
func (c *Coordinator) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()
	enrich := time.NewTicker(c.cfg.EnrichInterval)
	defer enrich.Stop()

	pending := make(map[string]pendingUpdate)
	unavailableReported := false

	for {
		select {
		case <-c.ctx.Done():
			return

		case ev, ok := <-c.source.Events():
			if !ok {
				return
			}
			for _, raw := range ev.Records {
				c.ingest(raw, ev.ReceivedAt, pending)
			}
			c.eventsHandled.Add(1)

		case sc, ok := <-c.source.Status():
			if !ok {
				return
			}
			switch sc.State {
			case stream.StateConnected:
				c.setState(StateStreaming)
				unavailableReported = false
				c.broadcastStatus(StatusEvent{Kind: StatusStreaming})
			case stream.StateBackoff:
				c.setState(StateBackoff)
				if sc.Exhausted && !unavailableReported {
					unavailableReported = true
					c.broadcastStatus(StatusEvent{Kind: StatusUnavailable})
				} else if !sc.Exhausted {
					c.broadcastStatus(StatusEvent{Kind: StatusReconnecting})
				}
			}

		case <-ticker.C:
			c.flush(pending)

		case <-enrich.C:
			now := time.Now()
			c.index.EnrichAll(func(venueID string) (model.SessionStatus, bool) {
				state, err := c.calendar.Status(venueID, now)
				if err != nil {
					return "", false
				}
				return state.Status, true
			})
		}
	}
}

// ingest normalizes one raw record, enriches it with session status and
// merges it into the index. With a non-nil pending map the merged record
// is queued for tick delivery instead of delivered immediately. Malformed
// entries are dropped without affecting the rest of the batch.
func (c *Coordinator) ingest(raw map[string]any, receivedAt time.Time, pending map[string]pendingUpdate) {
	upd, err := c.normalizer.Normalize(raw, receivedAt)
	if err != nil {
		return
	}

	aliases, venue := c.resolve(upd)
	status := c.sessionStatusFor(venue, aliases, receivedAt)

	rec := c.index.Upsert(aliases, upd, status)
	if pending != nil {
		pending[aliases[0]] = pendingUpdate{rec: rec, aliases: aliases}
	}
}

// resolve maps an update's symbol onto the instrument's full alias set and
// venue. Unknown symbols fall back to the symbol itself and the update's
// own venue field.
func (c *Coordinator) resolve(upd model.RecordUpdate) (aliases []string, venue string) {
	c.instMu.RLock()
	inst, ok := c.instruments[upd.Symbol]
	c.instMu.RUnlock()

	if ok {
		venue = inst.VenueID
		if venue == "" {
			venue = upd.Venue
		}
		return inst.Aliases(), venue
	}
	return []string{upd.Symbol}, upd.Venue
}

// sessionStatusFor computes the session status at merge time. An unknown
// venue keeps whatever status the record already has, defaulting to
// CLOSED for brand-new records.
func (c *Coordinator) sessionStatusFor(venue string, aliases []string, at time.Time) model.SessionStatus {
	if venue != "" {
		if state, err := c.calendar.Status(venue, at); err == nil {
			return state.Status
		}
	}
	for _, a := range aliases {
		if rec, ok := c.index.Get(a); ok && rec.SessionStatus != "" {
			return rec.SessionStatus
		}
	}
	return model.StatusClosed
}

// flush delivers the coalesced tick: at most one notification per
// instrument per tick, carrying the final merged state.
func (c *Coordinator) flush(pending map[string]pendingUpdate) {
	if len(pending) == 0 {
		return
	}

	// Matching reads key sets that Add and Remove mutate, so it stays
	// under the lock. Callbacks run after release: a subscriber may edit
	// its own subscription from inside notify.
	type delivery struct {
		notify NotifyFunc
		rec    model.MarketRecord
	}
	var deliveries []delivery

	c.subMu.RLock()
	for _, pu := range pending {
		for _, sub := range c.subs {
			if sub.notify == nil || !sub.matches(pu.aliases) {
				continue
			}
			deliveries = append(deliveries, delivery{notify: sub.notify, rec: pu.rec})
		}
	}
	c.subMu.RUnlock()

	for key := range pending {
		delete(pending, key)
	}

	for _, d := range deliveries {
		d.notify(d.rec)
		c.notifications.Add(1)
	}
}

func (c *Coordinator) broadcastStatus(ev StatusEvent) {
	c.subMu.RLock()
	callbacks := make([]StatusFunc, 0, len(c.subs))
	for _, sub := range c.subs {
		if sub.status != nil {
			callbacks = append(callbacks, sub.status)
		}
	}
	c.subMu.RUnlock()

	for _, cb := range callbacks {
		cb(ev)
	}
}

func (c *Coordinator) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}
