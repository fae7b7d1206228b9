package config

import (
	"errors"
	"fmt"
	"strings"
)

var validResolutions = map[string]bool{
	"MINUTE": true, "MINUTE_5": true, "MINUTE_15": true, "MINUTE_30": true,
	"HOUR": true, "HOUR_4": true, "DAY": true,
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Capital.APIKey == "" {
		return errors.New("capital.api_key is required")
	}
	if c.Capital.Identifier == "" {
		return errors.New("capital.identifier is required")
	}
	if c.Capital.Password == "" {
		return errors.New("capital.password is required")
	}
	if c.Capital.RequestsPerSecond < 0 {
		return errors.New("capital.requests_per_second must be >= 0")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitPerMinute < 1 {
		return errors.New("server.rate_limit_per_minute must be >= 1")
	}

	if len(c.Stream.Epics) == 0 {
		return errors.New("stream.epics must not be empty")
	}
	if c.Stream.MaxRetries < 1 {
		return errors.New("stream.max_retries must be >= 1")
	}
	if c.Stream.ReconnectBaseDelay > c.Stream.ReconnectMaxDelay {
		return fmt.Errorf("stream.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.Stream.ReconnectBaseDelay, c.Stream.ReconnectMaxDelay)
	}

	if c.Hub.MaxConnections < 1 {
		return errors.New("hub.max_connections must be >= 1")
	}
	if c.Hub.HistorySize < 1 {
		return errors.New("hub.history_size must be >= 1")
	}
	if c.Hub.ReplayLimit < 0 || c.Hub.ReplayLimit > c.Hub.HistorySize {
		return fmt.Errorf("hub.replay_limit must be between 0 and history_size (%d)", c.Hub.HistorySize)
	}

	if c.Database.Enabled() {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if c.Writers.BatchSize < 1 {
		return errors.New("writers.batch_size must be >= 1")
	}
	if c.Writers.BufferSize < 1 {
		return errors.New("writers.buffer_size must be >= 1")
	}

	if c.Backfill.Enabled && !c.Database.Enabled() {
		return errors.New("backfill.enabled requires a database")
	}
	for _, r := range c.Backfill.Resolutions {
		if !validResolutions[strings.ToUpper(r)] {
			return fmt.Errorf("backfill.resolutions: unknown resolution %q", r)
		}
	}
	if c.Backfill.Concurrency < 1 {
		return errors.New("backfill.concurrency must be >= 1")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.URL != "" {
		return nil
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
