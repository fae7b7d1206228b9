package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHost               = "0.0.0.0"
	DefaultPort               = 8000
	DefaultRateLimitPerMinute = 100
	DefaultShutdownTimeout    = 10 * time.Second

	DefaultDemoBaseURL       = "https://demo-api-capital.backend-capital.com"
	DefaultLiveBaseURL       = "https://api-capital.backend-capital.com"
	DefaultStreamingURL      = "wss://api-streaming-capital.backend-capital.com/connect"
	DefaultAPITimeout        = 30 * time.Second
	DefaultAPIMaxRetries     = 3
	DefaultRequestsPerSecond = 5.0

	DefaultStreamMaxRetries   = 5
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultSubscribeTimeout   = 5 * time.Second
	DefaultPingInterval       = 30 * time.Second
	DefaultPingTimeout        = 90 * time.Second
	DefaultStreamBufferSize   = 1000

	DefaultMaxConnections = 100
	DefaultHistorySize    = 1000
	DefaultReplayLimit    = 50
	DefaultSendBuffer     = 256
	DefaultSweepInterval  = 60 * time.Second
	DefaultStaleAfter     = 300 * time.Second

	DefaultDBPort    = 5432
	DefaultDBSSLMode = "prefer"
	DefaultMaxConns  = 10
	DefaultMinConns  = 2

	DefaultBatchSize     = 500
	DefaultFlushInterval = 1 * time.Second
	DefaultBufferSize    = 10000

	DefaultEpic             = "GOLD"
	DefaultBackfillInterval = 15 * time.Minute
	DefaultBackfillLookback = 7 * 24 * time.Hour
	DefaultBackfillPages    = 50
	DefaultBackfillWorkers  = 2

	DefaultMarketRefresh = 60 * time.Second

	DefaultRedisKeyPrefix = "goldstream:"
	DefaultRedisChannel   = "goldstream:ticks"

	DefaultKafkaTopic        = "gold-ticks"
	DefaultKafkaBatchTimeout = 100 * time.Millisecond

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// DefaultEpics are the gold aliases tried when none are configured.
var DefaultEpics = []string{"GOLD", "CS.D.CFEGOLD.CFE.IP", "XAU/USD", "XAUUSD"}

// DefaultResolutions are backfilled when none are configured.
var DefaultResolutions = []string{"MINUTE", "HOUR", "DAY"}

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.RateLimitPerMinute == 0 {
		c.Server.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Capital defaults
	if c.Capital.BaseURL == "" {
		if c.Capital.Demo {
			c.Capital.BaseURL = DefaultDemoBaseURL
		} else {
			c.Capital.BaseURL = DefaultLiveBaseURL
		}
	}
	if c.Capital.StreamingURL == "" {
		c.Capital.StreamingURL = DefaultStreamingURL
	}
	if c.Capital.Timeout == 0 {
		c.Capital.Timeout = DefaultAPITimeout
	}
	if c.Capital.MaxRetries == 0 {
		c.Capital.MaxRetries = DefaultAPIMaxRetries
	}
	if c.Capital.RequestsPerSecond == 0 {
		c.Capital.RequestsPerSecond = DefaultRequestsPerSecond
	}

	// Stream defaults
	if len(c.Stream.Epics) == 0 {
		c.Stream.Epics = append([]string(nil), DefaultEpics...)
	}
	if c.Stream.MaxRetries == 0 {
		c.Stream.MaxRetries = DefaultStreamMaxRetries
	}
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Stream.SubscribeTimeout == 0 {
		c.Stream.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.PingTimeout == 0 {
		c.Stream.PingTimeout = DefaultPingTimeout
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultStreamBufferSize
	}

	// Hub defaults
	if c.Hub.MaxConnections == 0 {
		c.Hub.MaxConnections = DefaultMaxConnections
	}
	if c.Hub.HistorySize == 0 {
		c.Hub.HistorySize = DefaultHistorySize
	}
	if c.Hub.ReplayLimit == 0 {
		c.Hub.ReplayLimit = DefaultReplayLimit
	}
	if c.Hub.SendBuffer == 0 {
		c.Hub.SendBuffer = DefaultSendBuffer
	}
	if c.Hub.SweepInterval == 0 {
		c.Hub.SweepInterval = DefaultSweepInterval
	}
	if c.Hub.StaleAfter == 0 {
		c.Hub.StaleAfter = DefaultStaleAfter
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultBufferSize
	}

	// Backfill defaults
	if c.Backfill.Epic == "" {
		c.Backfill.Epic = DefaultEpic
	}
	if len(c.Backfill.Resolutions) == 0 {
		c.Backfill.Resolutions = append([]string(nil), DefaultResolutions...)
	}
	if c.Backfill.Interval == 0 {
		c.Backfill.Interval = DefaultBackfillInterval
	}
	if c.Backfill.Lookback == 0 {
		c.Backfill.Lookback = DefaultBackfillLookback
	}
	if c.Backfill.MaxPages == 0 {
		c.Backfill.MaxPages = DefaultBackfillPages
	}
	if c.Backfill.Concurrency == 0 {
		c.Backfill.Concurrency = DefaultBackfillWorkers
	}

	// Market defaults
	if c.Market.Epic == "" {
		c.Market.Epic = DefaultEpic
	}
	if c.Market.RefreshInterval == 0 {
		c.Market.RefreshInterval = DefaultMarketRefresh
	}

	// Sink defaults
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = DefaultRedisChannel
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = DefaultKafkaBatchTimeout
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}
