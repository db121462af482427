// Package main provides the command-line interface for the jamyx patchbay daemon.
//
// # Overview
//
// The daemon loads a connection and mixer configuration, attaches to an
// in-process audio graph, registers the mixer ports and serves the control
// protocol until interrupted.
//
// # Usage
//
// Run with the default configuration file:
//
//	go run ./cmd/jamyx
//
// Run with a YAML configuration and debug logging:
//
//	go run ./cmd/jamyx -config studio.yaml -v
//
// Run with four system ports per direction and metrics disabled:
//
//	go run ./cmd/jamyx -system-ports 4 -http ""
//
// # Configuration Options
//
// Daemon configuration:
//   - -config: Configuration file, JSON or YAML by extension (default: config.json)
//   - -listen: Control protocol address (default: 127.0.0.1:56065)
//   - -http: WebSocket and metrics address, empty disables (default: 127.0.0.1:56066)
//   - -retry-delay: Delay before a rejected connect is retried (default: 100ms)
//
// Audio graph configuration:
//   - -client-name: Audio client name and port prefix (default: jamyx)
//   - -buffer-size: Frames per block (default: 256)
//   - -sample-rate: Sample rate in Hz (default: 48000)
//   - -system-ports: Number of system:capture_N and system:playback_N ports (default: 2)
//
// Logging configuration:
//   - -log-level: Log level (DEBUG, INFO, WARN, ERROR) (default: INFO)
//   - -log-file: Log file path (default: stderr)
//   - -v: Shorthand for -log-level DEBUG
//
// # Signal Handling
//
// SIGINT and SIGTERM stop the daemon. SIGHUP simulates an audio server
// restart: every live connection is dropped and the reconciler restores the
// desired graph.
//
// # Exit Codes
//
//   - 0: Clean shutdown
//   - 1: Configuration error or runtime failure
package main
