/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the Lattice
core, tracking bus dispatch, channel handshakes, pipeline routing,
cross-boundary sends, and validator runs.

# Features

- Event bus metrics (emitted, dropped by reason)
- Channel metrics (handshake outcomes, pre-READY buffering)
- Pipeline metrics (delivery outcomes, routing latency, depth aborts)
- Cross-boundary metrics (scope table size, send outcomes, loop rejections)
- Validation metrics (runs, score distribution)
- WebSocket connection metrics

# Usage

	// Create metrics collector (own registry; safe for parallel hosts)
	metrics := monitoring.NewMetrics()

	// Record outcomes
	metrics.Deliveries.WithLabelValues("delivered").Inc()
	metrics.LoopRejections.WithLabelValues("seen_by").Inc()

	// Expose via promhttp against metrics.Registry()

Each Metrics value owns a private prometheus.Registry, so multiple host
instances in one process (tests in particular) never trip duplicate
registration panics.
*/
package monitoring
