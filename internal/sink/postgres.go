package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelar/marketsync/internal/config"
	"github.com/avelar/marketsync/internal/model"
)

// Connect creates a connection pool.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Metrics holds sink counters.
type Metrics struct {
	Upserts int64
	Flushes int64
	Errors  int64
}

// PostgresSink maintains the latest_quotes table, one row per instrument.
type PostgresSink struct {
	cfg    config.PostgresSinkConfig
	db     *pgxpool.Pool
	logger *slog.Logger

	// Pending state, keyed by symbol. Newer records for the same symbol
	// replace older ones between flushes.
	mu      sync.Mutex
	pending map[string]model.MarketRecord
	metrics Metrics

	// flushCh wakes the flush loop when a batch fills. Buffered so Record
	// never blocks; a signal sent while one is already queued is redundant
	// anyway.
	flushCh     chan struct{}
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPostgresSink creates a PostgresSink over an existing pool.
func NewPostgresSink(cfg config.PostgresSinkConfig, db *pgxpool.Pool, logger *slog.Logger) *PostgresSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSink{
		cfg:     cfg,
		db:      db,
		logger:  logger,
		pending: make(map[string]model.MarketRecord),
		flushCh: make(chan struct{}, 1),
	}
}

// Start begins the periodic flush loop.
func (s *PostgresSink) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.flushTicker = time.NewTicker(s.cfg.FlushInterval)

	s.wg.Add(1)
	go s.flushLoop()

	s.logger.Info("postgres sink started",
		"batch_size", s.cfg.BatchSize,
		"flush_interval", s.cfg.FlushInterval,
	)
	return nil
}

// Stop flushes remaining state and shuts down.
func (s *PostgresSink) Stop(ctx context.Context) error {
	s.logger.Info("stopping postgres sink")

	if s.cancel != nil {
		s.cancel()
	}
	if s.flushTicker != nil {
		s.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("postgres sink stopped")
	case <-ctx.Done():
		s.logger.Warn("postgres sink stop timed out")
	}

	// Final flush
	s.flush(context.Background())

	return nil
}

// Record accepts a merged record. Safe to call from the coordinator's
// notify path: it only touches the pending map. A full batch wakes the
// flush goroutine, which does the actual database write.
func (s *PostgresSink) Record(rec model.MarketRecord) {
	s.mu.Lock()
	s.pending[rec.Symbol] = rec
	full := len(s.pending) >= s.cfg.BatchSize
	s.mu.Unlock()

	if full {
		select {
		case s.flushCh <- struct{}{}:
		default:
		}
	}
}

// Stats returns current metrics.
func (s *PostgresSink) Stats() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

func (s *PostgresSink) flushLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.flushTicker.C:
			s.flush(s.ctx)
		case <-s.flushCh:
			s.flush(s.ctx)
		}
	}
}

// flush upserts the pending records.
func (s *PostgresSink) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	pending := s.pending
	s.pending = make(map[string]model.MarketRecord)
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	if err := s.upsertBatch(ctx, pending); err != nil {
		s.logger.Error("upsert batch failed", "error", err, "count", len(pending))
		s.mu.Lock()
		s.metrics.Errors++
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.metrics.Upserts += int64(len(pending))
	s.metrics.Flushes++
	s.mu.Unlock()

	s.logger.Debug("flushed latest quotes",
		"count", len(pending),
		"duration", time.Since(start),
	)
}

// upsertBatch writes records using pgx.Batch with ON CONFLICT DO UPDATE.
func (s *PostgresSink) upsertBatch(ctx context.Context, pending map[string]model.MarketRecord) error {
	batch := &pgx.Batch{}
	for _, rec := range pending {
		batch.Queue(`
			INSERT INTO latest_quotes (symbol, price, previous_close, change_percent, corrected, session_status, source_venue, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (symbol) DO UPDATE SET
				price = EXCLUDED.price,
				previous_close = COALESCE(EXCLUDED.previous_close, latest_quotes.previous_close),
				change_percent = COALESCE(EXCLUDED.change_percent, latest_quotes.change_percent),
				corrected = EXCLUDED.corrected,
				session_status = EXCLUDED.session_status,
				source_venue = EXCLUDED.source_venue,
				updated_at = EXCLUDED.updated_at
		`, rec.Symbol, rec.Price, rec.PreviousClose, rec.ChangePercent, rec.Corrected, string(rec.SessionStatus), rec.SourceVenue, rec.UpdatedAt)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range pending {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}
