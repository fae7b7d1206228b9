// Package history keeps a fixed-capacity, in-memory ring of recent ticks
// used for replaying context to newly connected subscribers.
package history
