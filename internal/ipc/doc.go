// Package ipc exposes daemon control over JSON-RPC on a Unix domain socket.
//
// The service is registered as "VisionEdge" and offers Start, Stop, Status,
// ApplySetting, Health, and History. The CLI uses Client; the daemon runs
// Server for its lifetime. Request and response types live in types.go so
// both sides share one wire definition.
package ipc
