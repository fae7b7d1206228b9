// Package server exposes the HTTP API and the downstream WebSocket endpoint.
//
// Routes:
//
//	GET  /health, /api/health     liveness (not rate limited)
//	GET  /api/gold-live           latest tick, falling back to a market snapshot
//	GET  /api/gold-info           market snapshot
//	GET  /api/connection-status   upstream stream and subscriber registry state
//	GET  /api/prices              stored candles
//	GET  /api/price-history       in-memory tick history
//	GET  /api/data-stats          stored data summary
//	POST /api/backfill            queue a historical backfill
//	GET  /api/metrics             component counters
//	GET  /ws/gold-prices          live price WebSocket
//
// Every response carries an X-Request-ID header. Requests are limited per
// client IP per minute.
package server
