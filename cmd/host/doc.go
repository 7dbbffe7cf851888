// Package main is the entry point for the Lattice canvas host.
//
// A host serves one canvas scope: it registers widget bundles, mounts
// widget instances into isolated contexts, routes port outputs through
// the pipeline, and bridges events to peer hosts across canvas
// boundaries.
//
// The server provides:
//   - REST API for manifests, widgets, connections, and routes
//   - WebSocket channels for remote widgets
//   - A WebSocket scope bridge for peer discovery and routing
//   - Prometheus metrics on /metrics
//
// Configuration comes from environment variables (12-factor), with CLI
// flags overriding:
//
//	# Serve canvas-main on :8400
//	./host
//
//	# A second scope peered with the first
//	./host -port 8401 -scope canvas-side -peers ws://localhost:8400/ws/scope
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
