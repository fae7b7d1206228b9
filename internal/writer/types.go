package writer

import "time"

// WriterConfig holds batching settings shared by the writers.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	FlushTimeout  time.Duration // Per-flush database deadline
}

// DefaultWriterConfig returns default configuration.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
		FlushTimeout:  10 * time.Second,
	}
}

// WriterMetrics contains writer counters.
type WriterMetrics struct {
	Inserts   int64
	Updates   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}
