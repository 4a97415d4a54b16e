// Package sinks contains progress.Sink implementations: a zap-backed log sink
// for console progress and a Prometheus sink for run and group metrics.
package sinks
