package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWebSocket()
	c.normalizeClient()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Server.Path) != "" {
		if c.Server.Path, err = expandPath(c.Server.Path); err != nil {
			return fmt.Errorf("server.path: %w", err)
		}
	}
	if strings.TrimSpace(c.Store.Path) != "" {
		if c.Store.Path, err = expandPath(c.Store.Path); err != nil {
			return fmt.Errorf("store.path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeWebSocket() {
	c.WebSocket.Endpoint = strings.TrimSpace(c.WebSocket.Endpoint)
	if c.WebSocket.Endpoint == "" {
		c.WebSocket.Endpoint = defaultWebSocketEndpoint
	}
	if !strings.HasPrefix(c.WebSocket.Endpoint, "/") {
		c.WebSocket.Endpoint = "/" + c.WebSocket.Endpoint
	}
	c.WebSocket.Subprotocol = strings.TrimSpace(c.WebSocket.Subprotocol)
	if c.WebSocket.Subprotocol == "" {
		c.WebSocket.Subprotocol = defaultWebSocketSubprotocol
	}
}

func (c *Config) normalizeClient() {
	c.Client.Transport = strings.ToLower(strings.TrimSpace(c.Client.Transport))
	if c.Client.Transport == "" {
		c.Client.Transport = defaultClientTransport
	}
	c.Client.Address = strings.TrimSpace(c.Client.Address)
	c.Client.BaseURL = strings.TrimSpace(c.Client.BaseURL)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
