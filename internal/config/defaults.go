package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultTryTimeout      = 10 * time.Second
	DefaultRetryCap        = 5
	DefaultPingTimeout     = 60 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultEventBuffer     = 256
	DefaultPollInterval    = 5 * time.Minute
	DefaultPollChunkSize   = 50
	DefaultPollConcurrency = 4
	DefaultPollTimeout     = 10 * time.Second
	DefaultTick            = 75 * time.Millisecond
	DefaultEnrichInterval  = 30 * time.Second
	DefaultEpsilon         = 0.01
	DefaultDBPort          = 5432
	DefaultDBSSLMode       = "prefer"
	DefaultMaxConns        = 10
	DefaultMinConns        = 2
	DefaultBatchSize       = 200
	DefaultFlushInterval   = 1 * time.Second
	DefaultRedisAddr       = "localhost:6379"
	DefaultRedisTTL        = 60 * time.Second
	DefaultRedisQueueSize  = 1024
	DefaultAdminPort       = 8080
	DefaultAdminPath       = "/healthz"
)

func defaultBackoffSchedule() []time.Duration {
	return []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}
}

func (c *SyncConfig) applyDefaults() {
	if c.API.TryTimeout == 0 {
		c.API.TryTimeout = DefaultTryTimeout
	}

	if len(c.Stream.BackoffSchedule) == 0 {
		c.Stream.BackoffSchedule = defaultBackoffSchedule()
	}
	if c.Stream.RetryCap == 0 {
		c.Stream.RetryCap = DefaultRetryCap
	}
	if c.Stream.PingTimeout == 0 {
		c.Stream.PingTimeout = DefaultPingTimeout
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.EventBufferSize == 0 {
		c.Stream.EventBufferSize = DefaultEventBuffer
	}

	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.ChunkSize == 0 {
		c.Poller.ChunkSize = DefaultPollChunkSize
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}

	if c.Coordinator.Tick == 0 {
		c.Coordinator.Tick = DefaultTick
	}
	if c.Coordinator.EnrichInterval == 0 {
		c.Coordinator.EnrichInterval = DefaultEnrichInterval
	}

	if c.Normalizer.Epsilon == 0 {
		c.Normalizer.Epsilon = DefaultEpsilon
	}

	if c.Sinks.Postgres.Enabled {
		applyDBDefaults(&c.Sinks.Postgres.DB)
		if c.Sinks.Postgres.BatchSize == 0 {
			c.Sinks.Postgres.BatchSize = DefaultBatchSize
		}
		if c.Sinks.Postgres.FlushInterval == 0 {
			c.Sinks.Postgres.FlushInterval = DefaultFlushInterval
		}
	}
	if c.Sinks.Redis.Enabled {
		if c.Sinks.Redis.Addr == "" {
			c.Sinks.Redis.Addr = DefaultRedisAddr
		}
		if c.Sinks.Redis.TTL == 0 {
			c.Sinks.Redis.TTL = DefaultRedisTTL
		}
		if c.Sinks.Redis.QueueSize == 0 {
			c.Sinks.Redis.QueueSize = DefaultRedisQueueSize
		}
	}

	if c.Admin.Port == 0 {
		c.Admin.Port = DefaultAdminPort
	}
	if c.Admin.Path == "" {
		c.Admin.Path = DefaultAdminPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
