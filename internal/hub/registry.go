package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/goldstream/internal/history"
	"github.com/rickgao/goldstream/internal/model"
)

type subscriber struct {
	id            string
	conn          Conn
	connectedAt   time.Time
	lastHeartbeat *time.Time
	active        bool
}

func (s *subscriber) info() SubscriberInfo {
	info := SubscriberInfo{
		ID:          s.id,
		ConnectedAt: s.connectedAt,
		Active:      s.active,
	}
	if s.lastHeartbeat != nil {
		hb := *s.lastHeartbeat
		info.LastHeartbeatAt = &hb
	}
	return info
}

// Registry owns the set of downstream subscribers and the tick history.
// All methods are safe for concurrent use.
type Registry struct {
	cfg     Config
	logger  *slog.Logger
	history *history.Buffer
	now     func() time.Time

	// mu guards subs. FanOut holds it for reading while appending to
	// history and sending, Register holds it for writing while taking the
	// replay snapshot, so a new subscriber sees each tick exactly once.
	mu   sync.RWMutex
	subs map[string]*subscriber

	broadcasts atomic.Int64
	evictions  atomic.Int64
}

// NewRegistry creates a Registry backed by hist.
func NewRegistry(cfg Config, hist *history.Buffer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultConfig().MaxConnections
	}
	if cfg.ReplayLimit <= 0 {
		cfg.ReplayLimit = DefaultConfig().ReplayLimit
	}
	if cfg.DefaultHistoryLimit <= 0 {
		cfg.DefaultHistoryLimit = DefaultConfig().DefaultHistoryLimit
	}

	return &Registry{
		cfg:     cfg,
		logger:  logger,
		history: hist,
		now:     time.Now,
		subs:    make(map[string]*subscriber),
	}
}

// History returns the backing history buffer.
func (r *Registry) History() *history.Buffer {
	return r.history
}

// Register admits conn, greets it, and replays recent history to it alone.
// Returns ErrCapacityExceeded without creating a subscriber when full.
func (r *Registry) Register(conn Conn) (string, error) {
	r.mu.Lock()

	if len(r.subs) >= r.cfg.MaxConnections {
		r.mu.Unlock()
		return "", ErrCapacityExceeded
	}

	now := r.now()
	s := &subscriber{
		id:          uuid.NewString(),
		conn:        conn,
		connectedAt: now,
		active:      true,
	}
	r.subs[s.id] = s

	replay := r.history.Snapshot(r.cfg.ReplayLimit)
	err := r.sendLocked(s, TypeConnectionEstablished, map[string]string{"connection_id": s.id})
	if err == nil {
		err = r.sendLocked(s, TypePriceHistory, historyData(replay))
	}
	total := len(r.subs)
	r.mu.Unlock()

	if err != nil {
		r.Unregister(s.id)
		return "", err
	}

	r.logger.Info("subscriber connected",
		"id", s.id,
		"total", total,
		"replayed", len(replay),
	)
	return s.id, nil
}

// Unregister removes a subscriber and closes its connection.
// Unknown or already removed ids are a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	s, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	remaining := len(r.subs)
	r.mu.Unlock()

	if !ok {
		return
	}

	if err := s.conn.Close(); err != nil {
		r.logger.Debug("close subscriber conn", "id", id, "error", err)
	}
	r.logger.Info("subscriber disconnected", "id", id, "total", remaining)
}

// evictIfStale removes id if it has been silent since before cutoff. The
// check and the removal happen under one lock hold.
func (r *Registry) evictIfStale(id string, cutoff time.Time) bool {
	r.mu.Lock()
	s, ok := r.subs[id]
	if !ok || !s.info().lastSeen().Before(cutoff) {
		r.mu.Unlock()
		return false
	}
	delete(r.subs, id)
	remaining := len(r.subs)
	r.mu.Unlock()

	r.evictions.Add(1)
	if err := s.conn.Close(); err != nil {
		r.logger.Debug("close subscriber conn", "id", id, "error", err)
	}
	r.logger.Info("subscriber disconnected", "id", id, "total", remaining, "reason", "stale")
	return true
}

// FanOut records tick in history and delivers it to every active
// subscriber. Subscribers whose send fails are removed after the pass.
// Returns the number of successful deliveries.
func (r *Registry) FanOut(tick model.Tick) int {
	entry, err := history.NewEntry(tick)
	if err != nil {
		r.logger.Warn("dropping tick", "error", err)
		return 0
	}

	msg, err := json.Marshal(Envelope{
		Type:      TypePriceUpdate,
		Data:      entry.Payload,
		Timestamp: r.timestamp(),
	})
	if err != nil {
		r.logger.Warn("encode price update", "error", err)
		return 0
	}

	var (
		delivered int
		failed    []string
	)

	r.mu.RLock()
	r.history.Append(entry)
	for id, s := range r.subs {
		if !s.active {
			continue
		}
		if err := s.conn.Send(msg); err != nil {
			failed = append(failed, id)
			continue
		}
		delivered++
	}
	r.mu.RUnlock()

	r.broadcasts.Add(1)

	for _, id := range failed {
		r.logger.Warn("removing subscriber after failed send", "id", id)
		r.evictions.Add(1)
		r.Unregister(id)
	}

	return delivered
}

// HandleTick implements router.TickHandler.
func (r *Registry) HandleTick(tick model.Tick) {
	r.FanOut(tick)
}

// RecordHeartbeat marks id as alive now. Unknown ids are ignored.
func (r *Registry) RecordHeartbeat(id string) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.subs[id]; ok {
		s.lastHeartbeat = &now
	}
}

// SetActive toggles whether id receives live updates.
func (r *Registry) SetActive(id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subs[id]
	if !ok {
		return ErrUnknownSubscriber
	}
	s.active = active
	return nil
}

// Send delivers a typed envelope to a single subscriber.
func (r *Registry) Send(id, msgType string, data any) error {
	r.mu.RLock()
	s, ok := r.subs[id]
	var err error
	if ok {
		err = r.sendLocked(s, msgType, data)
	}
	r.mu.RUnlock()

	if !ok {
		return ErrUnknownSubscriber
	}
	if err != nil {
		r.evictions.Add(1)
		r.Unregister(id)
	}
	return err
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[id]
	return ok
}

// Stats returns registry statistics.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{
		Total:          len(r.subs),
		MaxConnections: r.cfg.MaxConnections,
		HistoryCount:   r.history.Len(),
		TicksSeen:      r.history.Total(),
		Broadcasts:     r.broadcasts.Load(),
		Evictions:      r.evictions.Load(),
		Subscribers:    make([]SubscriberInfo, 0, len(r.subs)),
	}
	for _, s := range r.subs {
		if s.active {
			st.Active++
		}
		st.Subscribers = append(st.Subscribers, s.info())
	}
	return st
}

// CloseAll unregisters every subscriber.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Unregister(id)
	}
}

// sendLocked must be called with mu held (read or write).
func (r *Registry) sendLocked(s *subscriber, msgType string, data any) error {
	msg, err := json.Marshal(Envelope{
		Type:      msgType,
		Data:      data,
		Timestamp: r.timestamp(),
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}
	if err := s.conn.Send(msg); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSendFailed, s.id, err)
	}
	return nil
}

// snapshot copies subscriber state for the sweeper.
func (r *Registry) snapshot() []SubscriberInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SubscriberInfo, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s.info())
	}
	return out
}

func (r *Registry) timestamp() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}

func historyData(entries []history.Entry) map[string]any {
	return map[string]any{
		"history": entries,
		"count":   len(entries),
	}
}
