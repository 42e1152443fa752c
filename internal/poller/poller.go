package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// QuoteSource fetches quote snapshots for a symbol batch.
type QuoteSource interface {
	GetQuotes(ctx context.Context, symbols []string) ([]map[string]any, error)
}

// SnapshotHandler receives fetched quote batches.
type SnapshotHandler interface {
	HandleSnapshot(quotes []map[string]any, receivedAt time.Time) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(quotes []map[string]any, receivedAt time.Time) error

func (f SnapshotHandlerFunc) HandleSnapshot(quotes []map[string]any, receivedAt time.Time) error {
	return f(quotes, receivedAt)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 5m)
	ChunkSize   int           // Symbols per request (default: 50)
	Concurrency int           // Max concurrent requests (default: 4)
	Timeout     time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		ChunkSize:   50,
		Concurrency: 4,
		Timeout:     10 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Interval == 0 {
		c.Interval = def.Interval
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.Concurrency == 0 {
		c.Concurrency = def.Concurrency
	}
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
}

// Poller periodically fetches quote snapshots and hands them off.
type Poller struct {
	cfg     Config
	source  QuoteSource
	symbols []string
	handler SnapshotHandler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller over a fixed symbol universe.
func New(cfg Config, source QuoteSource, symbols []string, handler SnapshotHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Poller{
		cfg:     cfg,
		source:  source,
		symbols: symbols,
		handler: handler,
		logger:  logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("quote poller started",
		"interval", p.cfg.Interval,
		"symbols", len(p.symbols),
		"chunk_size", p.cfg.ChunkSize,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("quote poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop. The first cycle waits a full interval:
// startup priming already covered the snapshot.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll fetches all symbol chunks concurrently.
func (p *Poller) pollAll() {
	if len(p.symbols) == 0 {
		p.logger.Debug("no symbols to poll")
		return
	}

	start := time.Now()
	chunks := chunkSymbols(p.symbols, p.cfg.ChunkSize)

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var fetched, errors atomic.Int64

	for _, chunk := range chunks {
		wg.Add(1)
		go func(symbols []string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			n, err := p.pollChunk(symbols)
			if err != nil {
				p.logger.Warn("failed to poll quote chunk",
					"symbols", len(symbols),
					"err", err,
				)
				errors.Add(1)
				return
			}
			fetched.Add(int64(n))
		}(chunk)
	}

	wg.Wait()

	p.logger.Info("poll cycle complete",
		"chunks", len(chunks),
		"quotes", fetched.Load(),
		"errors", errors.Load(),
		"duration", time.Since(start),
	)
}

// pollChunk fetches and hands off one symbol batch.
func (p *Poller) pollChunk(symbols []string) (int, error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	quotes, err := p.source.GetQuotes(ctx, symbols)
	if err != nil {
		return 0, err
	}

	if p.handler != nil {
		if err := p.handler.HandleSnapshot(quotes, time.Now().UTC()); err != nil {
			return 0, err
		}
	}

	return len(quotes), nil
}

func chunkSymbols(symbols []string, size int) [][]string {
	chunks := make([][]string, 0, (len(symbols)+size-1)/size)
	for len(symbols) > size {
		chunks = append(chunks, symbols[:size])
		symbols = symbols[size:]
	}
	if len(symbols) > 0 {
		chunks = append(chunks, symbols)
	}
	return chunks
}
