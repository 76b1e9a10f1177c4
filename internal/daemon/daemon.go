package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"texcache/internal/backend"
	"texcache/internal/config"
	"texcache/internal/logging"
	"texcache/internal/server"
	"texcache/internal/store"
)

// Daemon owns the decode service, its transports and the single-instance lock.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	svc    *backend.Service
	store  *store.Store

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	stream    *server.StreamServer
	websocket *server.WebSocketServer
	startedAt time.Time

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	StartedAt     time.Time
	LockFilePath  string
	StreamAddress string
	WebSocketURL  string
	Sessions      int
	StorePath     string
	Store         *store.Stats
}

// New constructs a daemon. st may be nil when the persistent store is disabled.
func New(cfg *config.Config, svc *backend.Service, st *store.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || svc == nil {
		return nil, errors.New("daemon requires config and decode service")
	}
	if !cfg.Server.Enabled && !cfg.WebSocket.Enabled {
		return nil, errors.New("daemon requires at least one of server or websocket enabled")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		svc:      svc,
		store:    st,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and brings up the enabled transports.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another texcached instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.startServers(); err != nil {
		d.closeServers()
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return err
	}

	d.mu.Lock()
	d.startedAt = time.Now()
	d.mu.Unlock()
	d.running.Store(true)
	d.logger.Info("texcache daemon started", logging.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) startServers() error {
	var (
		g         errgroup.Group
		stream    *server.StreamServer
		websocket *server.WebSocketServer
	)
	if d.cfg.Server.Enabled {
		g.Go(func() error {
			srv, err := server.NewStreamServer(d.ctx, d.cfg.Server.Listen(), d.svc, d.logger)
			if err != nil {
				return fmt.Errorf("start stream server: %w", err)
			}
			srv.Serve()
			stream = srv
			return nil
		})
	}
	if d.cfg.WebSocket.Enabled {
		g.Go(func() error {
			srv, err := server.NewWebSocketServer(server.WebSocketOptions{
				Bind:        d.cfg.WebSocketAddress(),
				Endpoint:    d.cfg.WebSocket.Endpoint,
				Subprotocol: d.cfg.WebSocket.Subprotocol,
			}, d.svc, d.logger)
			if err != nil {
				return fmt.Errorf("start websocket server: %w", err)
			}
			if err := srv.Start(d.ctx); err != nil {
				return fmt.Errorf("start websocket server: %w", err)
			}
			websocket = srv
			return nil
		})
	}
	err := g.Wait()

	d.mu.Lock()
	d.stream = stream
	d.websocket = websocket
	d.mu.Unlock()
	return err
}

func (d *Daemon) closeServers() {
	d.mu.Lock()
	stream, websocket := d.stream, d.websocket
	d.stream, d.websocket = nil, nil
	d.mu.Unlock()

	var wg sync.WaitGroup
	if stream != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream.Close()
		}()
	}
	if websocket != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			websocket.Close()
		}()
	}
	wg.Wait()
}

// Stop drops every session, stops the transports and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.closeServers()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "next start may report another instance running"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no texcached is running"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("texcache daemon stopped")
}

// Close stops the daemon and releases the service and store.
func (d *Daemon) Close() error {
	d.Stop()
	d.svc.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Done is closed when the daemon context ends. It is nil before Start.
func (d *Daemon) Done() <-chan struct{} {
	if d.ctx == nil {
		return nil
	}
	return d.ctx.Done()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	stream, websocket, startedAt := d.stream, d.websocket, d.startedAt
	d.mu.Unlock()

	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
	}
	if status.Running {
		status.StartedAt = startedAt
	}
	if stream != nil {
		status.StreamAddress = stream.Addr().String()
		status.Sessions += stream.Sessions()
	}
	if websocket != nil {
		status.WebSocketURL = websocket.URL()
		status.Sessions += websocket.Sessions()
	}
	if d.store != nil {
		status.StorePath = d.store.Path()
		stats, err := d.store.Stats(ctx)
		if err != nil {
			logging.WarnWithContext(d.logger, "store stats unavailable", "store_stats_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "status omits decoded store usage"),
				logging.String(logging.FieldErrorHint, "check the store database at "+d.store.Path()),
			)
		} else {
			status.Store = &stats
		}
	}
	return status
}
