// Package gateway adapts downstream WebSocket connections to the hub.
//
// Each accepted connection gets a bounded send queue drained by a single
// writer goroutine, so messages to one client stay ordered and a slow
// client never blocks the broadcaster: when its queue is full, Send fails
// and the hub evicts it. The reader goroutine forwards client messages to
// the hub and unregisters the client when the socket closes.
package gateway
