package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"actlog/internal/api"
	"actlog/internal/config"
	"actlog/internal/logging"
	"actlog/internal/store"
)

type commandContext struct {
	configFlag *string
	verbose    *bool

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag *string, verbose *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		verbose:    verbose,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, exists, err := config.Load(c.configFlagValue())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
		c.configExists = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) configFlagValue() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// apiClient returns a client for the configured daemon API.
func (c *commandContext) apiClient() (*api.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return api.NewClient(cfg.Paths.APIBind, cfg.Paths.APIToken)
}

// localLogger logs to stderr for commands that open the store or queue in
// process. Output is limited to warnings unless --verbose is set.
func (c *commandContext) localLogger(stderr io.Writer) *slog.Logger {
	level := "info"
	if cfg, _ := c.ensureConfig(); cfg != nil {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{Level: level, Format: "console", Writer: stderr})
	if err != nil {
		return logging.NewNop()
	}
	if c.verbose != nil && *c.verbose {
		return logger
	}
	return logging.WithLevelOverride(logger, slog.LevelWarn)
}

// withStore opens the configured backend for the duration of fn.
func (c *commandContext) withStore(fn func(store.Backend) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	backend, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open activity store %s: %w", cfg.StoragePath(), err)
	}
	defer backend.Close()
	return fn(backend)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
