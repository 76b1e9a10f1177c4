package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	LogDir   string `toml:"log_dir"`
	StateDir string `toml:"state_dir"`
}

// Listen describes where a server transport accepts connections. Either
// Host/Port (TCP) or Path (unix domain socket) is used; Path wins when set.
type Listen struct {
	Host string
	Port int
	Path string
}

// Server contains configuration for the length-framed socket transport.
type Server struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Path    string `toml:"path"`
}

// Listen returns the server listen address.
func (s Server) Listen() Listen {
	return Listen{Host: s.Host, Port: s.Port, Path: s.Path}
}

// WebSocket contains configuration for the WebSocket transport.
type WebSocket struct {
	Enabled     bool   `toml:"enabled"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	Endpoint    string `toml:"endpoint"`
	Subprotocol string `toml:"subprotocol"`
}

// Worker contains configuration for the decode workers shared by every transport.
type Worker struct {
	// Concurrency bounds simultaneous fetch+decode jobs per service.
	Concurrency int `toml:"concurrency"`
	// MaxDimension rejects images wider or taller than this before decoding
	// pixels. Zero disables the early check.
	MaxDimension int `toml:"max_dimension"`
	// FetchTimeoutMs bounds a single remote fetch.
	FetchTimeoutMs int `toml:"fetch_timeout_ms"`
}

// Client contains configuration used by the renderer side of the protocol.
type Client struct {
	// Transport selects the decode offload: "worker", "stream", or "websocket".
	Transport string `toml:"transport"`
	// Address is host:port, a unix socket path, or a ws:// URL depending on Transport.
	Address          string `toml:"address"`
	BaseURL          string `toml:"base_url"`
	RequestTimeoutMs int    `toml:"request_timeout_ms"`
}

// Cache contains configuration for the texture cache manager.
type Cache struct {
	MemoryBudgetBytes int64 `toml:"memory_budget_bytes"`
	GraceFrames       int   `toml:"grace_frames"`
	MaxTextureSize    int   `toml:"max_texture_size"`
}

// Throttle contains configuration for per-frame GPU upload throttling.
type Throttle struct {
	PerFrameUploadBudgetMs int `toml:"per_frame_upload_budget_ms"`
	FrameIntervalMs        int `toml:"frame_interval_ms"`
}

// Store contains configuration for the persistent decoded-result store.
type Store struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
	MaxMiB  int    `toml:"max_mib"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for texcache.
//
// Configuration sections by subsystem:
//   - Paths: log and state directories
//   - Server: length-framed TCP / unix socket decode transport
//   - WebSocket: WebSocket decode transport
//   - Worker: decode concurrency and limits shared by all transports
//   - Client: renderer-side transport selection and base URL
//   - Cache: texture cache memory budget and eviction grace
//   - Throttle: per-frame upload budget
//   - Store: persistent decoded-result store on the decode server
//   - Logging: log format, level, and retention
type Config struct {
	Paths     Paths     `toml:"paths"`
	Server    Server    `toml:"server"`
	WebSocket WebSocket `toml:"websocket"`
	Worker    Worker    `toml:"worker"`
	Client    Client    `toml:"client"`
	Cache     Cache     `toml:"cache"`
	Throttle  Throttle  `toml:"throttle"`
	Store     Store     `toml:"store"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/texcache/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("texcache.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.StateDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Server.Enabled && c.Server.Path != "" {
		if err := os.MkdirAll(filepath.Dir(c.Server.Path), 0o755); err != nil {
			return fmt.Errorf("create socket directory: %w", err)
		}
	}
	return nil
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "texcached.lock")
}

// StorePath returns the decoded-result database location.
func (c *Config) StorePath() string {
	if strings.TrimSpace(c.Store.Path) != "" {
		return c.Store.Path
	}
	return filepath.Join(c.Paths.StateDir, "decoded.db")
}

// Network returns the network and address the socket server listens on.
func (l Listen) Network() (string, string) {
	if strings.TrimSpace(l.Path) != "" {
		return "unix", l.Path
	}
	return "tcp", net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// WebSocketAddress returns the host:port the WebSocket server binds.
func (c *Config) WebSocketAddress() string {
	return net.JoinHostPort(c.WebSocket.Host, strconv.Itoa(c.WebSocket.Port))
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
