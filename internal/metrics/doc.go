// Package metrics collects runtime counters from the running components.
//
// Components expose their own Stats methods; the Collector samples them on
// demand so the HTTP API can serve one combined snapshot:
//   - upstream stream state and frame counts
//   - router throughput and queue utilization
//   - writer batch counts and errors
//   - sink publish and drop counts
//   - backfill and market refresh results
package metrics
