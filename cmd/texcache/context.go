package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"texcache/internal/config"
	"texcache/internal/logging"
	"texcache/internal/transport"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// cliLogger writes structured logs to stderr so command output stays clean.
func (c *commandContext) cliLogger(verbose bool) *slog.Logger {
	cfg, err := c.ensureConfig()
	if err != nil {
		return logging.NewNop()
	}
	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, err := logging.NewFromConfig(cfg, logging.Options{
		Level:   level,
		Outputs: []string{"stderr"},
	})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

// transportFlags overrides the client section for one invocation.
type transportFlags struct {
	transport string
	address   string
	baseURL   string
	timeout   time.Duration
}

func (f *transportFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.transport, "transport", "t", "", "Decode transport: worker, stream, or websocket")
	cmd.Flags().StringVarP(&f.address, "address", "a", "", "Server address (host:port, unix socket path, or ws:// URL)")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "Base URL prepended to relative locators")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Per-request timeout (0 uses config)")
}

func (f *transportFlags) apply(cfg *config.Config) *config.Config {
	out := *cfg
	if v := strings.TrimSpace(f.transport); v != "" {
		out.Client.Transport = strings.ToLower(v)
	}
	if v := strings.TrimSpace(f.address); v != "" {
		out.Client.Address = v
	}
	if v := strings.TrimSpace(f.baseURL); v != "" {
		out.Client.BaseURL = v
	}
	if f.timeout > 0 {
		out.Client.RequestTimeoutMs = int(f.timeout / time.Millisecond)
	}
	if out.Client.Address == "" {
		switch out.Client.Transport {
		case transport.KindStream:
			network, address := out.Server.Listen().Network()
			if network == "unix" {
				address = "unix:" + address
			}
			out.Client.Address = address
		case transport.KindWebSocket:
			out.Client.Address = "ws://" + out.WebSocketAddress() + out.WebSocket.Endpoint
		}
	}
	return &out
}

// dialClient opens the configured link and wraps it in a decode client.
func dialClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*transport.Client, error) {
	link, err := transport.Open(ctx, cfg, logger)
	if err != nil {
		return nil, wrapDialError(err, cfg.Client.Transport, cfg.Client.Address)
	}
	client, err := transport.NewClient(link, transport.ClientOptions{
		BaseURL:        cfg.Client.BaseURL,
		RequestTimeout: time.Duration(cfg.Client.RequestTimeoutMs) * time.Millisecond,
		Logger:         logger,
	})
	if err != nil {
		_ = link.Close()
		return nil, err
	}
	return client, nil
}

func wrapDialError(err error, kind, address string) error {
	switch {
	case errors.Is(err, syscall.ENOENT) || os.IsNotExist(err):
		return fmt.Errorf("connect to decode server: socket %s not found; start it with `texcache serve`", address)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to decode server: %s refused the connection; verify texcached is running", address)
	default:
		return fmt.Errorf("connect to decode server (%s): %w", kind, err)
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
