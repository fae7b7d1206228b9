// Package hub implements the downstream subscriber registry.
//
// The Registry:
//   - Admits subscribers up to a connection cap and greets them with a
//     history replay
//   - Fans each tick out to active subscribers with non-blocking sends,
//     removing any subscriber whose send fails
//   - Answers the small client message protocol (ping, price queries,
//     start/stop streaming)
//
// The Sweeper evicts subscribers that have been silent longer than a
// staleness threshold.
package hub
