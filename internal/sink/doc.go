// Package sink exports live ticks to external systems.
//
// Each Publisher (Redis, Kafka) is wrapped in an Async worker that accepts
// ticks from the router without blocking and publishes them in small
// batches. When a worker falls behind its buffer fills and further ticks
// are dropped and counted.
package sink
