package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateWebSocket(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateClient(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateThrottle(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if !c.Server.Enabled || strings.TrimSpace(c.Server.Path) != "" {
		return nil
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}

func (c *Config) validateWebSocket() error {
	if !c.WebSocket.Enabled {
		return nil
	}
	if c.WebSocket.Port < 0 || c.WebSocket.Port > 65535 {
		return fmt.Errorf("websocket.port %d out of range", c.WebSocket.Port)
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.Concurrency <= 0 {
		return errors.New("worker.concurrency must be positive")
	}
	if c.Worker.MaxDimension < 0 {
		return errors.New("worker.max_dimension must be >= 0")
	}
	if c.Worker.FetchTimeoutMs < 0 {
		return errors.New("worker.fetch_timeout_ms must be >= 0")
	}
	return nil
}

func (c *Config) validateClient() error {
	switch c.Client.Transport {
	case "worker":
	case "stream", "websocket":
		if c.Client.Address == "" {
			return fmt.Errorf("client.address must be set when client.transport is %q", c.Client.Transport)
		}
	default:
		return fmt.Errorf("client.transport: unsupported value %q (expected worker, stream, or websocket)", c.Client.Transport)
	}
	if c.Client.RequestTimeoutMs < 0 {
		return errors.New("client.request_timeout_ms must be >= 0")
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.MemoryBudgetBytes <= 0 {
		return errors.New("cache.memory_budget_bytes must be positive")
	}
	if c.Cache.GraceFrames < 0 {
		return errors.New("cache.grace_frames must be >= 0")
	}
	if c.Cache.MaxTextureSize <= 0 {
		return errors.New("cache.max_texture_size must be positive")
	}
	return nil
}

func (c *Config) validateThrottle() error {
	if c.Throttle.PerFrameUploadBudgetMs <= 0 {
		return errors.New("throttle.per_frame_upload_budget_ms must be positive")
	}
	if c.Throttle.FrameIntervalMs <= 0 {
		return errors.New("throttle.frame_interval_ms must be positive")
	}
	return nil
}

func (c *Config) validateStore() error {
	if c.Store.Enabled && c.Store.MaxMiB <= 0 {
		return errors.New("store.max_mib must be positive when store.enabled is true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}
