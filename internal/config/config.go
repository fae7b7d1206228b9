package config

import "time"

// Config is the root configuration for goldstream.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Capital  CapitalConfig  `yaml:"capital"`
	Stream   StreamConfig   `yaml:"stream"`
	Hub      HubConfig      `yaml:"hub"`
	Database DBConfig       `yaml:"database"`
	Writers  WritersConfig  `yaml:"writers"`
	Backfill BackfillConfig `yaml:"backfill"`
	Market   MarketConfig   `yaml:"market"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	CORSOrigins        []string      `yaml:"cors_origins"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

// CapitalConfig holds provider credentials and REST settings.
type CapitalConfig struct {
	APIKey            string        `yaml:"api_key"`
	Identifier        string        `yaml:"identifier"`
	Password          string        `yaml:"password"`
	Demo              bool          `yaml:"demo"`
	BaseURL           string        `yaml:"base_url"` // Overrides the demo/live default
	StreamingURL      string        `yaml:"streaming_url"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// StreamConfig holds upstream streaming settings.
type StreamConfig struct {
	Epics              []string      `yaml:"epics"` // Aliases tried in order
	MaxRetries         int           `yaml:"max_retries"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	SubscribeTimeout   time.Duration `yaml:"subscribe_timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
}

// HubConfig holds downstream subscriber settings.
type HubConfig struct {
	MaxConnections int           `yaml:"max_connections"`
	HistorySize    int           `yaml:"history_size"`
	ReplayLimit    int           `yaml:"replay_limit"`
	SendBuffer     int           `yaml:"send_buffer"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	StaleAfter     time.Duration `yaml:"stale_after"`
}

// DBConfig holds the PostgreSQL connection. Storage is disabled when
// neither URL nor Host is set.
type DBConfig struct {
	URL      string `yaml:"url"` // Full connection string; takes precedence
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (db DBConfig) Enabled() bool {
	return db.URL != "" || db.Host != ""
}

// WritersConfig holds batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// BackfillConfig holds historical candle collection settings.
type BackfillConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Epic        string        `yaml:"epic"`
	Resolutions []string      `yaml:"resolutions"`
	Interval    time.Duration `yaml:"interval"`
	Lookback    time.Duration `yaml:"lookback"`
	MaxPages    int           `yaml:"max_pages"`
	Concurrency int           `yaml:"concurrency"`
}

// MarketConfig holds market status tracker settings.
type MarketConfig struct {
	Epic            string        `yaml:"epic"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// RedisConfig holds the optional Redis sink. Disabled when Addr is empty.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	Channel   string `yaml:"channel"`
}

// KafkaConfig holds the optional Kafka sink. Disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
