package main

import (
	"strings"

	"visionedge/internal/config"
	"visionedge/internal/daemonrun"
)

// bootstrap loads the configuration the daemon runs with. Hot reload is only
// enabled when a config file actually exists.
func bootstrap(path string) (*config.Config, daemonrun.Options, error) {
	cfg, resolved, exists, err := config.Load(strings.TrimSpace(path))
	if err != nil {
		return nil, daemonrun.Options{}, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, daemonrun.Options{}, err
	}
	opts := daemonrun.Options{}
	if exists {
		opts.ConfigPath = resolved
	}
	return cfg, opts, nil
}
