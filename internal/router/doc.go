// Package router turns raw upstream frames into normalized ticks.
//
// The Router:
//   - Normalizes "quote" frames into model.Tick values (see Normalize)
//   - Skips control frames (ping, subscription acks) without error
//   - Hands every tick to the registered handlers in order
//   - Queues ticks for the persistence writer without ever blocking the reader
package router
