// Package poller implements the historical backfill poller.
//
// On every interval, and on demand, the poller:
//   - Resumes each configured resolution from the newest stored candle, or
//     from now minus the lookback when nothing is stored
//   - Pages backwards through the REST prices endpoint
//   - Upserts every page as it arrives
//   - Records the run in the fetch log
package poller
