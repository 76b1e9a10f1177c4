package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"texcache/internal/backend"
	"texcache/internal/config"
	"texcache/internal/daemon"
	"texcache/internal/logging"
	"texcache/internal/preflight"
	"texcache/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// SkipPreflight starts the servers even when a preflight check fails.
	SkipPreflight bool
	// Diagnostic tees debug-level JSON records into logs/debug.
	Diagnostic bool
}

// Run starts texcached and blocks until the context is cancelled or the
// process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("texcached-%s.log", runID))
	logger, err := logging.NewFromConfig(cfg, logging.Options{
		Level:       opts.LogLevel,
		Outputs:     []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if opts.Diagnostic {
		debugPath := filepath.Join(cfg.Paths.LogDir, "debug", fmt.Sprintf("texcached-%s.log", runID))
		debugLogger, debugErr := logging.New(logging.Options{
			Level:       "debug",
			Format:      "json",
			Outputs:     []string{debugPath},
			Development: true,
		})
		if debugErr != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to initialize debug logger: %v\n", debugErr)
		} else {
			logger = logging.TeeLogger(logger, debugLogger.Handler())
			logger.Info("diagnostic mode enabled",
				logging.String(logging.FieldEventType, "diagnostic_mode_enabled"),
				logging.String("debug_log_path", debugPath),
			)
		}
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update texcached.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "texcached-*.log"},
		logging.RetentionTarget{Dir: filepath.Join(cfg.Paths.LogDir, "debug"), Pattern: "texcached-*.log"},
	)
	logConfigSnapshot(logger, cfg)

	if !opts.SkipPreflight {
		if failed := preflight.Failed(preflight.RunAll(signalCtx, cfg, false)); len(failed) > 0 {
			for _, r := range failed {
				logging.ErrorWithContext(logger, "preflight check failed", "preflight_failed",
					logging.String("check", r.Name),
					logging.String("detail", r.Detail),
					logging.String(logging.FieldErrorHint, "run texcache preflight for the full report"),
				)
			}
			return fmt.Errorf("preflight: %d check(s) failed", len(failed))
		}
	}

	pidPath := filepath.Join(cfg.Paths.StateDir, "texcached.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.OpenFromConfig(cfg, logger)
	if err != nil {
		logger.Error("open decoded store", logging.Error(err))
		return err
	}

	svcOpts := backend.OptionsFromConfig(cfg)
	svcOpts.Store = st
	svcOpts.Logger = logger
	svc := backend.NewService(svcOpts)

	d, err := daemon.New(cfg, svc, st, logger)
	if err != nil {
		svc.Close()
		if st != nil {
			_ = st.Close()
		}
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check listen addresses and the state directory lock"),
		)
		return err
	}

	status := d.Status(signalCtx)
	logger.Info("texcached ready",
		logging.String(logging.FieldEventType, "daemon_ready"),
		logging.String("stream_address", status.StreamAddress),
		logging.String("websocket_url", status.WebSocketURL),
		logging.String("store_path", status.StorePath),
	)

	<-signalCtx.Done()
	logger.Info("texcached shutting down")
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "texcached.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// ReadPIDFile returns the pid recorded by a running texcached, or 0.
func ReadPIDFile(cfg *config.Config) int {
	if cfg == nil {
		return 0
	}
	data, err := os.ReadFile(filepath.Join(cfg.Paths.StateDir, "texcached.pid"))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	network, address := cfg.Server.Listen().Network()
	logger.Info("config snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.Bool("stream_enabled", cfg.Server.Enabled),
		logging.String("stream_network", network),
		logging.String("stream_address", address),
		logging.Bool("websocket_enabled", cfg.WebSocket.Enabled),
		logging.String("websocket_address", cfg.WebSocketAddress()),
		logging.Int("worker_concurrency", cfg.Worker.Concurrency),
		logging.Int("max_dimension", cfg.Worker.MaxDimension),
		logging.Bool("store_enabled", cfg.Store.Enabled),
	)
}
