// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces the monitor uses to report what it observes. Events are
// batched on a background goroutine and fanned out to pluggable sinks such as
// structured logs, Prometheus collectors, or a persistent trace store.
package progress
