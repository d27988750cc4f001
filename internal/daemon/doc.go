// Package daemon coordinates the long-running visionedge process.
//
// It holds the flock-based single-instance lock, owns the inference
// coordinator and health tracker, and serves the read-only HTTP surface:
// /healthz for the external health probe, /metrics for Prometheus,
// /ws/inference and /api/packets for the live packet feed, and /api/status.
// Session control arrives over IPC, never over HTTP.
package daemon
