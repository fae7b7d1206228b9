// Package writer implements the batch writers for prices.
//
// Writers:
//   - TickWriter drains the router tick queue into price_ticks (append-only,
//     duplicates on (epic, ts) are counted as conflicts)
//   - CandleWriter upserts backfilled bars into price_candles
//
// Both queue rows into a pgx.Batch and send one round trip per batch.
package writer
