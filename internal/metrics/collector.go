package metrics

import (
	"sync"
	"time"
)

// SampleFunc returns a JSON-encodable view of one component's counters.
type SampleFunc func() any

// Snapshot is one sample of every registered source.
type Snapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	Uptime    string         `json:"uptime"`
	Sources   map[string]any `json:"sources"`
}

// Collector samples registered sources on demand.
type Collector struct {
	mu      sync.RWMutex
	sources map[string]SampleFunc
	started time.Time
	now     func() time.Time
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		sources: make(map[string]SampleFunc),
		started: time.Now(),
		now:     time.Now,
	}
}

// Register adds or replaces a named source.
func (c *Collector) Register(name string, fn SampleFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[name] = fn
}

// Len returns the number of registered sources.
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sources)
}

// Snapshot samples every source.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	fns := make(map[string]SampleFunc, len(c.sources))
	for name, fn := range c.sources {
		fns[name] = fn
	}
	c.mu.RUnlock()

	now := c.now()
	out := Snapshot{
		Timestamp: now.UTC(),
		Uptime:    now.Sub(c.started).Truncate(time.Second).String(),
		Sources:   make(map[string]any, len(fns)),
	}
	for name, fn := range fns {
		out.Sources[name] = fn()
	}
	return out
}
