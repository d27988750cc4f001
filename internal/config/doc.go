// Package config loads, normalizes, and validates visionedge configuration.
//
// Configuration lives in TOML (default ~/.config/visionedge/config.toml). Load
// applies defaults, expands paths, honours environment overrides for stream
// URLs and broker credentials, and validates the result before callers see
// it. Watch re-reads the file on change so runtime inference settings can be
// adjusted without restarting the daemon.
package config
