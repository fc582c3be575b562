// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces that download workers use to report job progress. It
// batches events on a background goroutine and fans them out to pluggable
// sinks such as the snapshot cache, Prometheus metrics, or a durable mirror.
package progress
