package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avelar/marketsync/internal/api"
	"github.com/avelar/marketsync/internal/config"
	"github.com/avelar/marketsync/internal/coordinator"
	"github.com/avelar/marketsync/internal/index"
	"github.com/avelar/marketsync/internal/model"
	"github.com/avelar/marketsync/internal/normalize"
	"github.com/avelar/marketsync/internal/poller"
	"github.com/avelar/marketsync/internal/session"
	"github.com/avelar/marketsync/internal/sink"
	"github.com/avelar/marketsync/internal/stream"
	"github.com/avelar/marketsync/internal/version"
)

// quoteGroup is the subscription group name on the push feed.
const quoteGroup = "quotes"

func main() {
	configPath := flag.String("config", "configs/syncd.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting syncd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"api_url", cfg.API.BaseURL,
		"stream_url", cfg.Stream.URL,
		"venues", len(cfg.Venues),
		"instruments", len(cfg.Instruments),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Build the session calendar
	calendar, err := buildCalendar(cfg.Venues)
	if err != nil {
		logger.Error("invalid venue configuration", "error", err)
		os.Exit(1)
	}

	instruments := buildInstruments(cfg.Instruments)

	// Core components
	ix := index.New()
	normalizer := normalize.New(cfg.Normalizer.Epsilon, logger)

	apiClient := api.NewClient(
		cfg.API.BaseURL,
		api.WithLogger(logger),
		api.WithTryTimeout(cfg.API.TryTimeout),
	)

	streamMgr := stream.NewManager(stream.ManagerConfig{
		URL:             cfg.Stream.URL,
		BackoffSchedule: cfg.Stream.BackoffSchedule,
		RetryCap:        cfg.Stream.RetryCap,
		EventBufferSize: cfg.Stream.EventBufferSize,
		PingTimeout:     cfg.Stream.PingTimeout,
		WriteTimeout:    cfg.Stream.WriteTimeout,
	}, logger)

	coord := coordinator.New(coordinator.Config{
		Tick:           cfg.Coordinator.Tick,
		EnrichInterval: cfg.Coordinator.EnrichInterval,
	}, normalizer, calendar, ix, streamMgr, logger)
	coord.RegisterInstruments(instruments)

	// Sinks
	var pgSink *sink.PostgresSink
	if cfg.Sinks.Postgres.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Sinks.Postgres.DB.Host,
			"port", cfg.Sinks.Postgres.DB.Port,
			"database", cfg.Sinks.Postgres.DB.Name,
		)
		pool, err := sink.Connect(ctx, cfg.Sinks.Postgres.DB)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pgSink = sink.NewPostgresSink(cfg.Sinks.Postgres, pool, logger)
		if err := pgSink.Start(ctx); err != nil {
			logger.Error("failed to start postgres sink", "error", err)
			os.Exit(1)
		}
		coord.SubscribeAll(pgSink.Record, nil)
		logger.Info("postgres sink attached")
	}

	var redisSink *sink.RedisSink
	if cfg.Sinks.Redis.Enabled {
		redisSink, err = sink.NewRedisSink(ctx, cfg.Sinks.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		if err := redisSink.Start(ctx); err != nil {
			logger.Error("failed to start redis sink", "error", err)
			os.Exit(1)
		}

		coord.SubscribeAll(redisSink.Enqueue, nil)
		logger.Info("redis sink attached", "addr", cfg.Sinks.Redis.Addr)
	}

	// Admin server runs from the start so priming is observable
	adminServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Admin.Port),
		Handler: createAdminHandler(cfg.Admin.Path, coord, normalizer, ix, streamMgr, pgSink, redisSink),
	}
	go func() {
		logger.Info("starting admin server", "port", cfg.Admin.Port)
		if err := adminServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("admin server error", "error", err)
		}
	}()

	// Seed the index with a quote snapshot over HTTP. A failed prime is
	// not fatal: the stream fills the index as updates arrive.
	if err := coord.Prime(ctx, apiClient); err != nil {
		logger.Warn("quote snapshot prime failed", "error", err)
	}

	// Start the coordinator before the stream so the very first events
	// find a running event loop.
	if err := coord.Start(ctx); err != nil {
		logger.Error("failed to start coordinator", "error", err)
		os.Exit(1)
	}
	if err := streamMgr.Start(ctx); err != nil {
		logger.Error("failed to start stream manager", "error", err)
		os.Exit(1)
	}

	tickers := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		tickers = append(tickers, inst.Ticker)
	}
	streamMgr.Subscribe(quoteGroup, tickers)

	// Periodic snapshot reconcile over HTTP heals missed stream updates.
	reconciler := poller.New(poller.Config{
		Interval:    cfg.Poller.Interval,
		ChunkSize:   cfg.Poller.ChunkSize,
		Concurrency: cfg.Poller.Concurrency,
		Timeout:     cfg.Poller.Timeout,
	}, apiClient, tickers, poller.SnapshotHandlerFunc(func(quotes []map[string]any, receivedAt time.Time) error {
		coord.ApplySnapshot(quotes, receivedAt)
		return nil
	}), logger)
	if err := reconciler.Start(ctx); err != nil {
		logger.Error("failed to start quote poller", "error", err)
		os.Exit(1)
	}

	logger.Info("syncd running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d%s", cfg.Admin.Port, cfg.Admin.Path),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	reconciler.Stop(shutdownCtx)
	streamMgr.Stop(shutdownCtx)
	coord.Stop(shutdownCtx)
	if pgSink != nil {
		pgSink.Stop(shutdownCtx)
	}
	if redisSink != nil {
		redisSink.Stop(shutdownCtx)
	}
	adminServer.Shutdown(shutdownCtx)

	logger.Info("syncd stopped")
}

// buildCalendar compiles the configured venues and holidays.
func buildCalendar(venues []config.VenueConfig) (*session.Calendar, error) {
	compiled := make([]session.Venue, 0, len(venues))
	holidays := make(map[string][]string)

	for _, vc := range venues {
		v := session.Venue{
			ID:         vc.ID,
			Timezone:   vc.Timezone,
			PreMarket:  vc.PreMarket,
			PostMarket: vc.PostMarket,
			AlwaysOpen: vc.AlwaysOpen,
		}
		if !vc.AlwaysOpen {
			open, err := session.ParseClockTime(vc.Open)
			if err != nil {
				return nil, fmt.Errorf("venue %s: open: %w", vc.ID, err)
			}
			closeAt, err := session.ParseClockTime(vc.Close)
			if err != nil {
				return nil, fmt.Errorf("venue %s: close: %w", vc.ID, err)
			}
			v.Open = open
			v.Close = closeAt
		}
		compiled = append(compiled, v)

		if len(vc.Holidays) > 0 {
			holidays[vc.ID] = vc.Holidays
		}
	}

	var lookup session.HolidayLookup
	if len(holidays) > 0 {
		lookup = session.NewStaticHolidays(holidays)
	}

	return session.New(compiled, lookup)
}

func buildInstruments(configs []config.InstrumentConfig) []model.Instrument {
	instruments := make([]model.Instrument, 0, len(configs))
	for _, ic := range configs {
		instruments = append(instruments, model.Instrument{
			ID:         ic.ID,
			Ticker:     ic.Ticker,
			LegacyIDs:  ic.LegacyIDs,
			VenueID:    ic.Venue,
			AssetClass: ic.AssetClass,
		})
	}
	return instruments
}

// createAdminHandler serves health and stats over HTTP.
func createAdminHandler(healthPath string, coord *coordinator.Coordinator, normalizer *normalize.Normalizer, ix *index.Index, mgr *stream.Manager, pgSink *sink.PostgresSink, redisSink *sink.RedisSink) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(healthPath, func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		health.Components["stream"] = string(mgr.State())
		if mgr.State() != stream.StateConnected {
			health.Status = "degraded"
		}

		stats := ix.Stats()
		health.Components["index"] = map[string]any{
			"records": stats.Records,
			"aliases": stats.Aliases,
		}

		if redisSink != nil {
			if err := redisSink.Ping(ctx); err != nil {
				health.Status = "degraded"
				health.Components["redis"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["redis"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"coordinator": coord.Stats(),
			"normalizer":  normalizer.Stats(),
			"index":       ix.Stats(),
			"stream": map[string]any{
				"state":         string(mgr.State()),
				"subscriptions": mgr.Subscriptions(),
			},
		}
		if pgSink != nil {
			payload["postgres_sink"] = pgSink.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(payload)
	})

	return mux
}
