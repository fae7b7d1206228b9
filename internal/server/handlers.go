package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/rickgao/goldstream/internal/database"
	"github.com/rickgao/goldstream/internal/history"
	"github.com/rickgao/goldstream/internal/model"
	"github.com/rickgao/goldstream/internal/poller"
	"github.com/rickgao/goldstream/internal/version"
)

const (
	defaultHistoryLimit = 100
	defaultCandleLimit  = 500
	defaultResolution   = model.ResolutionMinute
	maxBackfillDays     = 365
)

var errNoDatabase = errors.New("database not configured")

// candleView is the JSON form of a stored candle.
type candleView struct {
	SnapshotTime time.Time       `json:"snapshot_time"`
	OpenBid      decimal.Decimal `json:"open_bid"`
	OpenAsk      decimal.Decimal `json:"open_ask"`
	HighBid      decimal.Decimal `json:"high_bid"`
	HighAsk      decimal.Decimal `json:"high_ask"`
	LowBid       decimal.Decimal `json:"low_bid"`
	LowAsk       decimal.Decimal `json:"low_ask"`
	CloseBid     decimal.Decimal `json:"close_bid"`
	CloseAsk     decimal.Decimal `json:"close_ask"`
	CloseMid     decimal.Decimal `json:"close_mid"`
	Volume       int64           `json:"volume"`
}

func newCandleView(c model.Candle) candleView {
	return candleView{
		SnapshotTime: c.SnapshotTime.UTC(),
		OpenBid:      c.OpenBid,
		OpenAsk:      c.OpenAsk,
		HighBid:      c.HighBid,
		HighAsk:      c.HighAsk,
		LowBid:       c.LowBid,
		LowAsk:       c.LowAsk,
		CloseBid:     c.CloseBid,
		CloseAsk:     c.CloseAsk,
		CloseMid:     c.CloseMid(),
		Volume:       c.Volume,
	}
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// health handles GET /health and GET /api/health.
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   ServiceName,
		"version":   version.Version,
		"timestamp": s.timestamp(),
	})
}

// goldLive handles GET /api/gold-live.
func (s *Server) goldLive(c *gin.Context) {
	if s.deps.History != nil {
		if latest, ok := s.deps.History.Latest(); ok {
			s.success(c, gin.H{"source": "stream", "data": latest})
			return
		}
	}

	snap, err := s.marketSnapshot(c.Request.Context())
	if err != nil {
		s.handleError(c, err, http.StatusServiceUnavailable, "No gold data available")
		return
	}
	s.success(c, gin.H{"source": "market", "data": snap})
}

// goldInfo handles GET /api/gold-info.
func (s *Server) goldInfo(c *gin.Context) {
	snap, err := s.marketSnapshot(c.Request.Context())
	if err != nil {
		s.handleError(c, err, http.StatusServiceUnavailable, "No market info available")
		return
	}
	s.success(c, gin.H{"data": snap, "is_open": snap.IsOpen()})
}

// marketSnapshot prefers the tracker's cached snapshot over a REST call.
func (s *Server) marketSnapshot(ctx context.Context) (*model.MarketSnapshot, error) {
	if s.deps.Market != nil {
		if snap, ok := s.deps.Market.Current(); ok {
			return &snap, nil
		}
	}
	if s.deps.Markets == nil {
		return nil, errors.New("no market source configured")
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return s.deps.Markets.GetMarket(ctx, s.deps.Epic)
}

// connectionStatus handles GET /api/connection-status.
func (s *Server) connectionStatus(c *gin.Context) {
	body := gin.H{"timestamp": s.timestamp()}

	if s.deps.Stream != nil {
		st := s.deps.Stream.Status()
		body["capital_connected"] = st.Connected
		body["websocket_streaming"] = st.Streaming
		body["stream"] = st
	}
	if s.deps.Hub != nil {
		hs := s.deps.Hub.Stats()
		body["active_connections"] = hs.Total
		body["hub"] = hs
	}
	c.JSON(http.StatusOK, body)
}

// prices handles GET /api/prices?resolution=&from=&to=&limit=.
func (s *Server) prices(c *gin.Context) {
	if s.deps.Candles == nil {
		s.handleError(c, errNoDatabase, http.StatusServiceUnavailable, errNoDatabase.Error())
		return
	}

	q := database.CandleQuery{
		Epic:       s.deps.Epic,
		Resolution: model.Resolution(c.DefaultQuery("resolution", string(defaultResolution))),
		Limit:      defaultCandleLimit,
	}
	if !q.Resolution.Valid() {
		s.handleError(c, errors.New("invalid resolution"), http.StatusBadRequest, "invalid resolution: "+string(q.Resolution))
		return
	}

	var err error
	if q.From, err = parseTimeParam(c, "from"); err != nil {
		s.handleError(c, err, http.StatusBadRequest, err.Error())
		return
	}
	if q.To, err = parseTimeParam(c, "to"); err != nil {
		s.handleError(c, err, http.StatusBadRequest, err.Error())
		return
	}
	if q.Limit, err = parseIntParam(c, "limit", defaultCandleLimit, 1, database.MaxCandleLimit); err != nil {
		s.handleError(c, err, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	candles, err := s.deps.Candles.GetCandles(ctx, q)
	if err != nil {
		s.handleError(c, err, http.StatusInternalServerError, "Internal server error")
		return
	}

	views := make([]candleView, len(candles))
	for i, cd := range candles {
		views[i] = newCandleView(cd)
	}
	s.success(c, gin.H{
		"epic":       q.Epic,
		"resolution": q.Resolution,
		"count":      len(views),
		"data":       views,
	})
}

// priceHistory handles GET /api/price-history?limit=.
func (s *Server) priceHistory(c *gin.Context) {
	limit, err := parseIntParam(c, "limit", defaultHistoryLimit, 1, history.MaxSnapshot)
	if err != nil {
		s.handleError(c, err, http.StatusBadRequest, err.Error())
		return
	}

	var entries []history.Entry
	if s.deps.History != nil {
		entries = s.deps.History.Snapshot(limit)
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	s.success(c, gin.H{"history": entries, "count": len(entries)})
}

// dataStats handles GET /api/data-stats.
func (s *Server) dataStats(c *gin.Context) {
	if s.deps.Candles == nil {
		s.handleError(c, errNoDatabase, http.StatusServiceUnavailable, errNoDatabase.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	stats, err := s.deps.Candles.Stats(ctx)
	if err != nil {
		s.handleError(c, err, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.success(c, gin.H{"data": stats})
}

// backfill handles POST /api/backfill?resolution=&days=.
func (s *Server) backfill(c *gin.Context) {
	if s.deps.Backfill == nil {
		s.handleError(c, errNoDatabase, http.StatusServiceUnavailable, errNoDatabase.Error())
		return
	}

	res := model.Resolution(c.DefaultQuery("resolution", string(defaultResolution)))
	if !res.Valid() {
		s.handleError(c, errors.New("invalid resolution"), http.StatusBadRequest, "invalid resolution: "+string(res))
		return
	}
	days, err := parseIntParam(c, "days", 1, 1, maxBackfillDays)
	if err != nil {
		s.handleError(c, err, http.StatusBadRequest, err.Error())
		return
	}

	to := s.now().UTC()
	req := poller.Request{
		Resolution: res,
		From:       to.AddDate(0, 0, -days),
		To:         to,
	}

	if err := s.deps.Backfill.Submit(req); err != nil {
		if errors.Is(err, poller.ErrBusy) {
			s.handleError(c, err, http.StatusConflict, "a backfill is already queued")
			return
		}
		s.handleError(c, err, http.StatusBadRequest, err.Error())
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":    true,
		"message":    "backfill queued",
		"resolution": res,
		"date_range": gin.H{"from": req.From, "to": req.To},
		"timestamp":  s.timestamp(),
	})
}

// metricsSnapshot handles GET /api/metrics.
func (s *Server) metricsSnapshot(c *gin.Context) {
	if s.deps.Metrics == nil {
		s.handleError(c, errors.New("metrics not configured"), http.StatusServiceUnavailable, "metrics not configured")
		return
	}
	c.JSON(http.StatusOK, s.deps.Metrics.Snapshot())
}

func (s *Server) success(c *gin.Context, body gin.H) {
	body["success"] = true
	body["timestamp"] = s.timestamp()
	c.JSON(http.StatusOK, body)
}

// handleError logs the error and sends a JSON error response.
func (s *Server) handleError(c *gin.Context, err error, statusCode int, userMessage string) {
	requestID := c.GetString(RequestIDContextKey)

	log := s.logger.Warn
	if statusCode >= http.StatusInternalServerError {
		log = s.logger.Error
	}
	log("api error",
		"request_id", requestID,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", statusCode,
		"error", err,
	)

	c.JSON(statusCode, gin.H{
		"success":    false,
		"error":      userMessage,
		"request_id": requestID,
		"timestamp":  s.timestamp(),
	})
}

func parseTimeParam(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, errors.New("invalid " + name + ": want RFC3339 or YYYY-MM-DD")
}

func parseIntParam(c *gin.Context, name string, def, lo, hi int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo {
		return 0, errors.New("invalid " + name + ": " + raw)
	}
	return min(n, hi), nil
}
