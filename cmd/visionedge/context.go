package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"visionedge/internal/config"
	"visionedge/internal/ipc"
)

// skipConfigAnnotation marks commands that must run without a loadable config.
const skipConfigAnnotation = "visionedge/skip-config"

type globalFlags struct {
	socket string
	config string
}

type loadedConfig struct {
	cfg *config.Config
	// path is empty when the file did not exist and defaults were used.
	path string
}

type commandContext struct {
	flags globalFlags
	load  func() (loadedConfig, error)
}

func newCommandContext() *commandContext {
	ctx := &commandContext{}
	ctx.load = sync.OnceValues(func() (loadedConfig, error) {
		cfg, resolved, exists, err := config.Load(strings.TrimSpace(ctx.flags.config))
		if err != nil {
			return loadedConfig{}, err
		}
		if err := cfg.EnsureDirectories(); err != nil {
			return loadedConfig{}, err
		}
		loaded := loadedConfig{cfg: cfg}
		if exists {
			loaded.path = resolved
		}
		return loaded, nil
	})
	return ctx
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	loaded, err := c.load()
	return loaded.cfg, err
}

func (c *commandContext) configPath() string {
	loaded, _ := c.load()
	return loaded.path
}

func (c *commandContext) socketPath() string {
	if socket := strings.TrimSpace(c.flags.socket); socket != "" {
		return socket
	}
	if cfg, err := c.ensureConfig(); err == nil {
		return cfg.SocketPath()
	}
	return filepath.Join(os.TempDir(), "visionedge.sock")
}

// withClient dials the daemon for the duration of fn.
func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err != nil {
		return describeDialError(socket, err)
	}
	defer client.Close()
	return fn(client)
}

func describeDialError(socket string, err error) error {
	if errors.Is(err, syscall.ENOENT) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("connect to daemon: socket %s not found; run the daemon with `visionedge run`", socket)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon: socket %s refused the connection; is the daemon still running?", socket)
	}
	return fmt.Errorf("connect to daemon: %w", err)
}

func skipsConfig(cmd *cobra.Command) bool {
	for ; cmd != nil; cmd = cmd.Parent() {
		if _, ok := cmd.Annotations[skipConfigAnnotation]; ok {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
