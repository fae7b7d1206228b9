package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/goldstream/internal/connection"
	"github.com/rickgao/goldstream/internal/database"
	"github.com/rickgao/goldstream/internal/history"
	"github.com/rickgao/goldstream/internal/hub"
	"github.com/rickgao/goldstream/internal/metrics"
	"github.com/rickgao/goldstream/internal/model"
	"github.com/rickgao/goldstream/internal/poller"
)

// MockCandleReader implements CandleReader for testing.
type MockCandleReader struct {
	mock.Mock
}

func (m *MockCandleReader) GetCandles(ctx context.Context, q database.CandleQuery) ([]model.Candle, error) {
	args := m.Called(ctx, q)
	return args.Get(0).([]model.Candle), args.Error(1)
}

func (m *MockCandleReader) Stats(ctx context.Context) (*database.DataStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(*database.DataStats), args.Error(1)
}

// MockBackfillQueue implements BackfillQueue for testing.
type MockBackfillQueue struct {
	mock.Mock
}

func (m *MockBackfillQueue) Submit(req poller.Request) error {
	return m.Called(req).Error(0)
}

// MockMarketFetcher implements MarketFetcher for testing.
type MockMarketFetcher struct {
	mock.Mock
}

func (m *MockMarketFetcher) GetMarket(ctx context.Context, epic string) (*model.MarketSnapshot, error) {
	args := m.Called(ctx, epic)
	snap, _ := args.Get(0).(*model.MarketSnapshot)
	return snap, args.Error(1)
}

type staticMarket struct {
	snap model.MarketSnapshot
	ok   bool
}

func (s staticMarket) Current() (model.MarketSnapshot, bool) { return s.snap, s.ok }

type staticStream connection.Status

func (s staticStream) Status() connection.Status { return connection.Status(s) }

type staticHub hub.Stats

func (s staticHub) Stats() hub.Stats { return hub.Stats(s) }

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestServer(cfg Config, deps Deps) *Server {
	if deps.Epic == "" {
		deps.Epic = "GOLD"
	}
	s := New(cfg, deps, nil)
	s.now = func() time.Time { return fixedNow }
	return s
}

func do(t *testing.T, s *Server, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var body map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "body: %s", w.Body.String())
	}
	return w, body
}

func testTick(bid, ask string) model.Tick {
	return model.Tick{
		Epic:      "GOLD",
		Timestamp: fixedNow,
		Bid:       decimal.NewNullDecimal(decimal.RequireFromString(bid)),
		Ask:       decimal.NewNullDecimal(decimal.RequireFromString(ask)),
		Mid: decimal.NewNullDecimal(decimal.RequireFromString(bid).
			Add(decimal.RequireFromString(ask)).Div(decimal.NewFromInt(2))),
	}
}

func historyWith(t *testing.T, ticks ...model.Tick) *history.Buffer {
	t.Helper()
	buf := history.NewBuffer(100)
	for _, tk := range ticks {
		e, err := history.NewEntry(tk)
		require.NoError(t, err)
		buf.Append(e)
	}
	return buf
}

func TestHealth(t *testing.T) {
	s := newTestServer(Config{}, Deps{})

	for _, path := range []string{"/health", "/api/health"} {
		w, body := do(t, s, http.MethodGet, path)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, ServiceName, body["service"])
		assert.NotEmpty(t, w.Header().Get(RequestIDHeaderKey))
	}
}

func TestRequestIDPropagated(t *testing.T) {
	s := newTestServer(Config{}, Deps{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeaderKey, "abc-123")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeaderKey))
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(Config{RateLimitPerMinute: 2}, Deps{History: history.NewBuffer(10)})

	for i := 0; i < 2; i++ {
		w, _ := do(t, s, http.MethodGet, "/api/price-history")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
	}

	w, body := do(t, s, http.MethodGet, "/api/price-history")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "Rate limit exceeded", body["error"])
	assert.Equal(t, float64(2), body["limit"])
	assert.Equal(t, "1 minute", body["window"])

	// health is exempt
	w, _ = do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, s, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_PerIP(t *testing.T) {
	now := fixedNow
	rl := newRateLimiter(1, func() time.Time { return now })

	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"))

	now = now.Add(time.Minute)
	assert.True(t, rl.allow("10.0.0.1"))
}

func TestCORS(t *testing.T) {
	t.Run("preflight", func(t *testing.T) {
		s := newTestServer(Config{}, Deps{})
		w, _ := do(t, s, http.MethodOptions, "/api/prices")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("allow list", func(t *testing.T) {
		s := newTestServer(Config{CORSOrigins: []string{"https://app.example.com"}}, Deps{})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

		req = httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w = httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestGoldLive(t *testing.T) {
	t.Run("latest tick from history", func(t *testing.T) {
		s := newTestServer(Config{}, Deps{History: historyWith(t, testTick("1900.0", "1900.5"))})

		w, body := do(t, s, http.MethodGet, "/api/gold-live")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "stream", body["source"])

		data := body["data"].(map[string]any)
		assert.Equal(t, "1900.25", data["mid"])
	})

	t.Run("falls back to market tracker", func(t *testing.T) {
		s := newTestServer(Config{}, Deps{
			History: history.NewBuffer(10),
			Market:  staticMarket{snap: model.MarketSnapshot{Epic: "GOLD", MarketStatus: "TRADEABLE"}, ok: true},
		})

		w, body := do(t, s, http.MethodGet, "/api/gold-live")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "market", body["source"])
	})

	t.Run("falls back to rest", func(t *testing.T) {
		fetcher := new(MockMarketFetcher)
		fetcher.On("GetMarket", mock.Anything, "GOLD").
			Return(&model.MarketSnapshot{Epic: "GOLD", MarketStatus: "CLOSED"}, nil)

		s := newTestServer(Config{}, Deps{Market: staticMarket{}, Markets: fetcher})

		w, body := do(t, s, http.MethodGet, "/api/gold-live")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "CLOSED", body["data"].(map[string]any)["market_status"])
		fetcher.AssertExpectations(t)
	})

	t.Run("no data", func(t *testing.T) {
		fetcher := new(MockMarketFetcher)
		fetcher.On("GetMarket", mock.Anything, "GOLD").Return(nil, errors.New("boom"))

		s := newTestServer(Config{}, Deps{Markets: fetcher})

		w, body := do(t, s, http.MethodGet, "/api/gold-live")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "No gold data available", body["error"])
	})
}

func TestGoldInfo(t *testing.T) {
	s := newTestServer(Config{}, Deps{
		Market: staticMarket{snap: model.MarketSnapshot{Epic: "GOLD", MarketStatus: "TRADEABLE"}, ok: true},
	})

	w, body := do(t, s, http.MethodGet, "/api/gold-info")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["is_open"])
}

func TestConnectionStatus(t *testing.T) {
	s := newTestServer(Config{}, Deps{
		Stream: staticStream{Connected: true, Streaming: true, Epic: "GOLD"},
		Hub:    staticHub{Total: 3, Active: 2, MaxConnections: 100},
	})

	w, body := do(t, s, http.MethodGet, "/api/connection-status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["capital_connected"])
	assert.Equal(t, true, body["websocket_streaming"])
	assert.Equal(t, float64(3), body["active_connections"])
	assert.Equal(t, "GOLD", body["stream"].(map[string]any)["epic"])
}

func TestPriceHistory(t *testing.T) {
	s := newTestServer(Config{}, Deps{History: historyWith(t,
		testTick("1900.0", "1900.5"),
		testTick("1901.0", "1901.5"),
		testTick("1902.0", "1902.5"),
	)})

	w, body := do(t, s, http.MethodGet, "/api/price-history?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["count"])

	hist := body["history"].([]any)
	require.Len(t, hist, 2)
	assert.Equal(t, "1901.25", hist[0].(map[string]any)["mid"])
	assert.Equal(t, "1902.25", hist[1].(map[string]any)["mid"])

	w, _ = do(t, s, http.MethodGet, "/api/price-history?limit=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPrices(t *testing.T) {
	t.Run("no database", func(t *testing.T) {
		s := newTestServer(Config{}, Deps{})
		w, body := do(t, s, http.MethodGet, "/api/prices")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "database not configured", body["error"])
	})

	t.Run("query", func(t *testing.T) {
		reader := new(MockCandleReader)
		want := database.CandleQuery{
			Epic:       "GOLD",
			Resolution: model.ResolutionHour,
			From:       time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			Limit:      10,
		}
		reader.On("GetCandles", mock.Anything, want).Return([]model.Candle{{
			SnapshotTime: time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC),
			CloseBid:     decimal.RequireFromString("1900"),
			CloseAsk:     decimal.RequireFromString("1901"),
		}}, nil)

		s := newTestServer(Config{}, Deps{Candles: reader})
		w, body := do(t, s, http.MethodGet, "/api/prices?resolution=HOUR&from=2025-03-01&limit=10")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(1), body["count"])

		data := body["data"].([]any)
		assert.Equal(t, "1900.5", data[0].(map[string]any)["close_mid"])
		reader.AssertExpectations(t)
	})

	t.Run("bad params", func(t *testing.T) {
		s := newTestServer(Config{}, Deps{Candles: new(MockCandleReader)})

		for _, target := range []string{
			"/api/prices?resolution=WEEK",
			"/api/prices?from=yesterday",
			"/api/prices?limit=0",
		} {
			w, _ := do(t, s, http.MethodGet, target)
			assert.Equal(t, http.StatusBadRequest, w.Code, target)
		}
	})

	t.Run("store error", func(t *testing.T) {
		reader := new(MockCandleReader)
		reader.On("GetCandles", mock.Anything, mock.Anything).Return([]model.Candle(nil), errors.New("db down"))

		s := newTestServer(Config{}, Deps{Candles: reader})
		w, body := do(t, s, http.MethodGet, "/api/prices")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "Internal server error", body["error"])
		assert.NotEmpty(t, body["request_id"])
	})
}

func TestDataStats(t *testing.T) {
	reader := new(MockCandleReader)
	reader.On("Stats", mock.Anything).Return(&database.DataStats{Ticks: 42}, nil)

	s := newTestServer(Config{}, Deps{Candles: reader})
	w, body := do(t, s, http.MethodGet, "/api/data-stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(42), body["data"].(map[string]any)["ticks"])
}

func TestBackfill(t *testing.T) {
	t.Run("queued", func(t *testing.T) {
		queue := new(MockBackfillQueue)
		queue.On("Submit", poller.Request{
			Resolution: model.ResolutionMinute5,
			From:       fixedNow.AddDate(0, 0, -7),
			To:         fixedNow,
		}).Return(nil)

		s := newTestServer(Config{}, Deps{Backfill: queue})
		w, body := do(t, s, http.MethodPost, "/api/backfill?resolution=MINUTE_5&days=7")
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, true, body["success"])
		queue.AssertExpectations(t)
	})

	t.Run("busy", func(t *testing.T) {
		queue := new(MockBackfillQueue)
		queue.On("Submit", mock.Anything).Return(poller.ErrBusy)

		s := newTestServer(Config{}, Deps{Backfill: queue})
		w, _ := do(t, s, http.MethodPost, "/api/backfill")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("invalid", func(t *testing.T) {
		s := newTestServer(Config{}, Deps{Backfill: new(MockBackfillQueue)})

		w, _ := do(t, s, http.MethodPost, "/api/backfill?resolution=NOPE")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w, _ = do(t, s, http.MethodPost, "/api/backfill?days=-1")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no database", func(t *testing.T) {
		s := newTestServer(Config{}, Deps{})
		w, _ := do(t, s, http.MethodPost, "/api/backfill")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestWebSocketRoute(t *testing.T) {
	called := false
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusSwitchingProtocols)
	})

	s := newTestServer(Config{}, Deps{WebSocket: ws})
	req := httptest.NewRequest(http.MethodGet, "/ws/gold-prices", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.True(t, called)
}

func TestRecovery(t *testing.T) {
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	s := newTestServer(Config{}, Deps{WebSocket: ws})
	w, body := do(t, s, http.MethodGet, "/ws/gold-prices")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", body["error"])
}

func TestAddr(t *testing.T) {
	s := New(Config{Host: "0.0.0.0", Port: 8000}, Deps{}, nil)
	assert.Equal(t, "0.0.0.0:8000", s.Addr())
}

func TestMetrics(t *testing.T) {
	s := newTestServer(Config{}, Deps{})
	w, _ := do(t, s, http.MethodGet, "/api/metrics")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	collector := metrics.NewCollector()
	collector.Register("hub", func() any { return map[string]int{"total_connections": 2} })

	s = newTestServer(Config{}, Deps{Metrics: collector})
	w, body := do(t, s, http.MethodGet, "/api/metrics")
	require.Equal(t, http.StatusOK, w.Code)

	sources := body["sources"].(map[string]any)
	assert.Equal(t, float64(2), sources["hub"].(map[string]any)["total_connections"])
}
