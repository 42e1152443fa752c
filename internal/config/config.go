package config

import "time"

// SyncConfig is the root configuration for a sync engine instance.
type SyncConfig struct {
	Instance    InstanceConfig     `yaml:"instance"`
	API         APIConfig          `yaml:"api"`
	Stream      StreamConfig       `yaml:"stream"`
	Coordinator CoordinatorConfig  `yaml:"coordinator"`
	Normalizer  NormalizerConfig   `yaml:"normalizer"`
	Poller      PollerConfig       `yaml:"poller"`
	Venues      []VenueConfig      `yaml:"venues"`
	Instruments []InstrumentConfig `yaml:"instruments"`
	Sinks       SinksConfig        `yaml:"sinks"`
	Admin       AdminConfig        `yaml:"admin"`
}

// InstanceConfig identifies this engine instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds the pull-side HTTP settings. BaseURL may carry a
// version segment; request paths are resolved against it by the
// candidate ladder.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	TryTimeout time.Duration `yaml:"try_timeout"`
}

// StreamConfig holds the push-side feed settings.
type StreamConfig struct {
	URL             string          `yaml:"url"`
	BackoffSchedule []time.Duration `yaml:"backoff_schedule"`
	RetryCap        int             `yaml:"retry_cap"`
	PingTimeout     time.Duration   `yaml:"ping_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	EventBufferSize int             `yaml:"event_buffer_size"`
}

// CoordinatorConfig holds event loop settings.
type CoordinatorConfig struct {
	Tick           time.Duration `yaml:"tick"`
	EnrichInterval time.Duration `yaml:"enrich_interval"`
}

// PollerConfig holds the periodic quote reconcile settings.
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	ChunkSize   int           `yaml:"chunk_size"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// NormalizerConfig holds field normalization settings.
type NormalizerConfig struct {
	// Epsilon is the tolerance for upstream change-percent disagreement.
	Epsilon float64 `yaml:"epsilon"`
}

// VenueConfig describes one trading venue's session schedule. Open and
// Close are venue-local wall clock times in "HH:MM" form. Holidays are
// full-day closures as "YYYY-MM-DD" dates.
type VenueConfig struct {
	ID         string        `yaml:"id"`
	Timezone   string        `yaml:"timezone"`
	Open       string        `yaml:"open"`
	Close      string        `yaml:"close"`
	PreMarket  time.Duration `yaml:"pre_market"`
	PostMarket time.Duration `yaml:"post_market"`
	AlwaysOpen bool          `yaml:"always_open"`
	Holidays   []string      `yaml:"holidays"`
}

// InstrumentConfig describes one tracked instrument and its identifiers.
type InstrumentConfig struct {
	ID         string   `yaml:"id"`
	Ticker     string   `yaml:"ticker"`
	LegacyIDs  []string `yaml:"legacy_ids"`
	Venue      string   `yaml:"venue"`
	AssetClass string   `yaml:"asset_class"`
}

// SinksConfig holds optional downstream state sinks.
type SinksConfig struct {
	Postgres PostgresSinkConfig `yaml:"postgres"`
	Redis    RedisSinkConfig    `yaml:"redis"`
}

// PostgresSinkConfig holds the latest-state database sink.
type PostgresSinkConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DB            DBConfig      `yaml:"db"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisSinkConfig holds the latest-price cache sink.
type RedisSinkConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
	QueueSize int           `yaml:"queue_size"`
}

// AdminConfig holds the local health and stats HTTP endpoint.
type AdminConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
