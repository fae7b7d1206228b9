// Package database manages the PostgreSQL pool, the schema, and the read
// queries for stored prices.
//
// Tables:
//   - price_ticks: live ticks persisted by the tick writer
//   - price_candles: historical OHLC bars keyed by (epic, resolution, snapshot_time)
//   - data_fetch_log: one row per backfill run
//
// Prices are NUMERIC columns mapped to shopspring decimals.
package database
