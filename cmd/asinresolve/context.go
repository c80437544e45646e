package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"asinresolve/internal/cache"
	"asinresolve/internal/config"
	"asinresolve/internal/engine"
	"asinresolve/internal/logging"
	"asinresolve/internal/sources"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// loggerFor builds the file and stderr logger once. Falls back to a no-op
// logger if the log directory is unusable so commands still run.
func (c *commandContext) loggerFor(cfg *config.Config) *slog.Logger {
	c.loggerOnce.Do(func() {
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			logger = logging.NewNop()
		}
		c.logger = logger
	})
	return c.logger
}

func (c *commandContext) withEngine(fn func(*engine.Engine) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger := c.loggerFor(cfg)
	srcs, err := sources.FromConfig(cfg, sources.Options{UserAgent: "asinresolve", Logger: logger})
	if err != nil {
		return err
	}
	eng, err := engine.New(cfg, srcs, logger)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	runErr := fn(eng)
	if closeErr := eng.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	return runErr
}

func (c *commandContext) withCache(fn func(*config.Config, *cache.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := cache.OpenFromConfig(cfg, c.loggerFor(cfg))
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer store.Close()
	return fn(cfg, store)
}

// notify reports a delivery failure on stderr without failing the command.
func (c *commandContext) notify(cmd *cobra.Command, err error) {
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "notification failed: %v\n", err)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
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
