// Package progress carries run progress out of the deduplication engine. A
// GroupObserver turns merge callbacks into Events, the Hub batches them on a
// background goroutine, and pluggable sinks (structured logs, Prometheus)
// consume the batches. Emitting never blocks the merge.
package progress
