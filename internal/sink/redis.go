package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avelar/marketsync/internal/config"
	"github.com/avelar/marketsync/internal/model"
)

// cachedQuote is the JSON shape stored per instrument.
type cachedQuote struct {
	Symbol        string   `json:"symbol"`
	Price         float64  `json:"price"`
	PreviousClose *float64 `json:"previousClose,omitempty"`
	ChangePercent *float64 `json:"changePercent,omitempty"`
	Corrected     bool     `json:"corrected,omitempty"`
	SessionStatus string   `json:"sessionStatus"`
	SourceVenue   string   `json:"sourceVenue,omitempty"`
	UpdatedAt     int64    `json:"updatedAt"`
}

// RedisSink caches the latest quote per instrument with a TTL, so
// consumers that only want current prices can skip the engine entirely.
// Writes go through a bounded queue drained by a single worker; the
// enqueue side never blocks and never touches the network.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger

	queue   chan model.MarketRecord
	dropped atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisSink creates a RedisSink and verifies the connection.
func NewRedisSink(ctx context.Context, cfg config.RedisSinkConfig, logger *slog.Logger) (*RedisSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = config.DefaultRedisQueueSize
	}

	return &RedisSink{
		client: client,
		ttl:    cfg.TTL,
		logger: logger,
		queue:  make(chan model.MarketRecord, queueSize),
	}, nil
}

// Start launches the cache writer.
func (s *RedisSink) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.writeLoop()

	s.logger.Info("redis sink started", "queue_size", cap(s.queue), "ttl", s.ttl)
	return nil
}

// Stop drains the queue and shuts the writer down.
func (s *RedisSink) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("redis sink stopped", "dropped", s.dropped.Load())
	case <-ctx.Done():
		s.logger.Warn("redis sink stop timed out")
	}
	return s.client.Close()
}

// Enqueue hands one record to the writer. Called from the coordinator's
// notify path, so it never blocks: with the queue full the record is
// dropped and counted, and the next update for the symbol supersedes it.
func (s *RedisSink) Enqueue(rec model.MarketRecord) {
	select {
	case s.queue <- rec:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports how many records were shed on a full queue.
func (s *RedisSink) Dropped() int64 {
	return s.dropped.Load()
}

func (s *RedisSink) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			// Drain what is already queued before giving up.
			for {
				select {
				case rec := <-s.queue:
					s.Record(context.Background(), rec)
				default:
					return
				}
			}
		case rec := <-s.queue:
			s.Record(s.ctx, rec)
		}
	}
}

// Ping reports cache health.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func quoteKey(symbol string) string {
	return fmt.Sprintf("quotes:latest:%s", symbol)
}

// Record writes one quote. Errors are logged, not returned: a cache miss
// is recoverable and the feed must not stall on cache trouble.
func (s *RedisSink) Record(ctx context.Context, rec model.MarketRecord) {
	payload, err := json.Marshal(cachedQuote{
		Symbol:        rec.Symbol,
		Price:         rec.Price,
		PreviousClose: rec.PreviousClose,
		ChangePercent: rec.ChangePercent,
		Corrected:     rec.Corrected,
		SessionStatus: string(rec.SessionStatus),
		SourceVenue:   rec.SourceVenue,
		UpdatedAt:     rec.UpdatedAt.UnixMilli(),
	})
	if err != nil {
		s.logger.Error("marshal quote for cache", "symbol", rec.Symbol, "error", err)
		return
	}

	if err := s.client.Set(ctx, quoteKey(rec.Symbol), payload, s.ttl).Err(); err != nil {
		s.logger.Error("cache quote", "symbol", rec.Symbol, "error", err)
	}
}

// Latest reads a cached quote back. Returns nil when the key is absent
// or expired.
func (s *RedisSink) Latest(ctx context.Context, symbol string) (*model.MarketRecord, error) {
	raw, err := s.client.Get(ctx, quoteKey(symbol)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var q cachedQuote
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, fmt.Errorf("decode cached quote: %w", err)
	}

	return &model.MarketRecord{
		Symbol:        q.Symbol,
		Price:         q.Price,
		PreviousClose: q.PreviousClose,
		ChangePercent: q.ChangePercent,
		Corrected:     q.Corrected,
		SessionStatus: model.SessionStatus(q.SessionStatus),
		SourceVenue:   q.SourceVenue,
		UpdatedAt:     time.UnixMilli(q.UpdatedAt).UTC(),
	}, nil
}
