package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/goldstream/internal/api"
	"github.com/rickgao/goldstream/internal/auth"
	"github.com/rickgao/goldstream/internal/database"
	"github.com/rickgao/goldstream/internal/model"
	"github.com/rickgao/goldstream/internal/writer"
)

var fixedNow = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

type fetchCall struct {
	res      model.Resolution
	from, to time.Time
}

// fakeSource returns n candles per call, or err.
type fakeSource struct {
	mu    sync.Mutex
	calls []fetchCall
	n     int
	err   error
}

func (f *fakeSource) FetchRange(ctx context.Context, epic string, res model.Resolution, from, to time.Time, maxPages int, fn api.PageFunc) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{res, from, to})
	f.mu.Unlock()

	if f.n > 0 {
		page := make([]model.Candle, f.n)
		for i := range page {
			page[i] = model.Candle{Epic: epic, Resolution: res, SnapshotTime: to.Add(-time.Duration(i+1) * time.Minute)}
		}
		if err := fn(page); err != nil {
			return 0, err
		}
	}
	return f.n, f.err
}

func (f *fakeSource) callFor(res model.Resolution) (fetchCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.res == res {
			return c, true
		}
	}
	return fetchCall{}, false
}

type fakeStore struct {
	mu     sync.Mutex
	latest map[model.Resolution]time.Time
	logs   []database.FetchLog
	err    error
}

func (s *fakeStore) LatestCandleTime(ctx context.Context, epic string, res model.Resolution) (time.Time, bool, error) {
	if s.err != nil {
		return time.Time{}, false, s.err
	}
	t, ok := s.latest[res]
	return t, ok, nil
}

func (s *fakeStore) LogFetch(ctx context.Context, l database.FetchLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, l)
	return nil
}

func (s *fakeStore) logCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

type fakeSink struct {
	written atomic.Int64
	err     error
}

func (s *fakeSink) Write(ctx context.Context, candles []model.Candle) (writer.WriteResult, error) {
	if s.err != nil {
		return writer.WriteResult{}, s.err
	}
	s.written.Add(int64(len(candles)))
	return writer.WriteResult{Inserted: len(candles)}, nil
}

func newTestPoller(cfg Config, src PriceSource, store CandleStore, sink CandleSink) *Poller {
	p := New(cfg, src, store, sink, nil)
	p.now = func() time.Time { return fixedNow }
	return p
}

func TestPoller_RunOnce_ResumePoints(t *testing.T) {
	src := &fakeSource{n: 3}
	store := &fakeStore{latest: map[model.Resolution]time.Time{
		model.ResolutionHour: fixedNow.Add(-5 * time.Hour),
		// Older than the lookback: clamped.
		model.ResolutionDay: fixedNow.Add(-30 * 24 * time.Hour),
	}}
	sink := &fakeSink{}

	cfg := Config{
		Epic:        "GOLD",
		Resolutions: []model.Resolution{model.ResolutionMinute, model.ResolutionHour, model.ResolutionDay},
		Lookback:    7 * 24 * time.Hour,
		Concurrency: 2,
	}
	p := newTestPoller(cfg, src, store, sink)

	results := p.RunOnce(context.Background())
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}

	floor := fixedNow.Add(-7 * 24 * time.Hour)
	wantFrom := map[model.Resolution]time.Time{
		model.ResolutionMinute: floor,
		model.ResolutionHour:   fixedNow.Add(-5 * time.Hour),
		model.ResolutionDay:    floor,
	}
	for res, want := range wantFrom {
		call, ok := src.callFor(res)
		if !ok {
			t.Errorf("no fetch for %s", res)
			continue
		}
		if !call.from.Equal(want) || !call.to.Equal(fixedNow) {
			t.Errorf("%s range = [%v, %v), want [%v, %v)", res, call.from, call.to, want, fixedNow)
		}
	}

	if got := sink.written.Load(); got != 9 {
		t.Errorf("written = %d, want 9", got)
	}
	if store.logCount() != 3 {
		t.Errorf("fetch logs = %d, want 3", store.logCount())
	}
	for _, r := range results {
		if r.Err != nil || r.Records != 3 || r.Inserted != 3 {
			t.Errorf("result %+v", r)
		}
	}

	at, last := p.LastResults()
	if !at.Equal(fixedNow) || len(last) != 3 {
		t.Errorf("LastResults = %v, %d", at, len(last))
	}
}

func TestPoller_Backfill_FailureLogged(t *testing.T) {
	src := &fakeSource{err: errors.New("upstream down")}
	store := &fakeStore{}
	p := newTestPoller(Config{Epic: "GOLD"}, src, store, &fakeSink{})

	r := p.Backfill(context.Background(), model.ResolutionHour, fixedNow.Add(-time.Hour), fixedNow)
	if r.Err == nil {
		t.Fatal("expected error")
	}

	if store.logCount() != 1 {
		t.Fatalf("fetch logs = %d, want 1", store.logCount())
	}
	entry := store.logs[0]
	if entry.Status != database.FetchFailed || entry.Error != "upstream down" {
		t.Errorf("log entry = %+v", entry)
	}
}

func TestPoller_Backfill_SinkErrorStops(t *testing.T) {
	src := &fakeSource{n: 2}
	sink := &fakeSink{err: errors.New("disk full")}
	store := &fakeStore{}
	p := newTestPoller(Config{}, src, store, sink)

	r := p.Backfill(context.Background(), model.ResolutionMinute, fixedNow.Add(-time.Hour), fixedNow)
	if r.Err == nil || r.Err.Error() != "disk full" {
		t.Errorf("Err = %v, want disk full", r.Err)
	}
}

func TestPoller_RunOnce_StoreError(t *testing.T) {
	src := &fakeSource{}
	store := &fakeStore{err: errors.New("db gone")}
	p := newTestPoller(Config{Resolutions: []model.Resolution{model.ResolutionDay}}, src, store, &fakeSink{})

	results := p.RunOnce(context.Background())
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("results = %+v, want one failure", results)
	}
	if len(src.calls) != 0 {
		t.Errorf("fetch calls = %d, want 0", len(src.calls))
	}
}

func TestPoller_Submit(t *testing.T) {
	src := &fakeSource{n: 1}
	store := &fakeStore{}
	p := newTestPoller(Config{}, src, store, &fakeSink{})

	if err := p.Submit(Request{Resolution: "WEEK", From: fixedNow.Add(-time.Hour), To: fixedNow}); err == nil {
		t.Error("expected error for invalid resolution")
	}
	if err := p.Submit(Request{Resolution: model.ResolutionHour, From: fixedNow, To: fixedNow}); err == nil {
		t.Error("expected error for empty range")
	}

	req := Request{Resolution: model.ResolutionHour, From: fixedNow.Add(-24 * time.Hour), To: fixedNow}
	if err := p.Submit(req); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	// Not started: the single slot is taken.
	if err := p.Submit(req); !errors.Is(err, ErrBusy) {
		t.Errorf("second Submit = %v, want ErrBusy", err)
	}

	// Interval zero: only manual requests run.
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(context.Background())

	deadline := time.Now().Add(time.Second)
	for store.logCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	call, ok := src.callFor(model.ResolutionHour)
	if !ok || !call.from.Equal(req.From) {
		t.Errorf("manual backfill call = %+v, %v", call, ok)
	}
}

// staticSessions satisfies api.Sessions without a login round trip.
type staticSessions struct{}

func (staticSessions) Session(ctx context.Context) (*auth.Session, error) {
	return &auth.Session{SessionToken: "cst", SecurityToken: "sec"}, nil
}
func (staticSessions) Invalidate()    {}
func (staticSessions) APIKey() string { return "key" }

func TestPoller_WithAPIClient(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		to, _ := api.ParseTime(r.URL.Query().Get("to"))
		resp := map[string]any{
			"prices": []map[string]any{{
				"snapshotTimeUTC": api.FormatTime(to.Add(-time.Hour)),
				"openPrice":       map[string]any{"bid": 2030.1, "ask": 2030.4},
				"closePrice":      map[string]any{"bid": 2031.0, "ask": 2031.3},
				"highPrice":       map[string]any{"bid": 2032.0, "ask": 2032.3},
				"lowPrice":        map[string]any{"bid": 2029.0, "ask": 2029.3},
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := api.NewClient(server.URL, staticSessions{}, api.WithTimeout(5*time.Second), api.WithRateLimit(0, 0))
	sink := &fakeSink{}
	store := &fakeStore{}

	cfg := Config{
		Epic:        "GOLD",
		Resolutions: []model.Resolution{model.ResolutionHour},
		Lookback:    24 * time.Hour,
	}
	p := newTestPoller(cfg, client, store, sink)

	results := p.RunOnce(context.Background())
	if results[0].Err != nil {
		t.Fatalf("RunOnce error: %v", results[0].Err)
	}
	// 24h of HOUR data in 12h windows: two short pages.
	if got := requests.Load(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
	if got := sink.written.Load(); got != 2 {
		t.Errorf("written = %d, want 2", got)
	}
}
