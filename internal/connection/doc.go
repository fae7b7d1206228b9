// Package connection implements the upstream streaming client.
//
// Client wraps a single gorilla WebSocket connection with a read loop and
// an application-level keepalive. Streamer owns the session lifecycle:
// it authenticates, dials, subscribes to the first accepted instrument
// alias, forwards every frame, and reconnects with exponential backoff
// until its retry budget is exhausted.
package connection
