// Package logging assembles structured slog loggers and formatting helpers used
// across visionedge services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes helpers so stream components tag log lines with the
// session and stream they belong to. The package also provides a no-op logger
// for tests and wiring code that cannot fail.
package logging
