package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"

	"texcache/internal/backend"
	"texcache/internal/config"
	"texcache/internal/logging"
	"texcache/internal/protocol"
)

// StreamServer serves the framed protocol on a TCP or unix socket.
type StreamServer struct {
	network  string
	address  string
	svc      *backend.Service
	logger   *slog.Logger
	listener net.Listener
	conns    connSet

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStreamServer binds the listen address. A stale unix socket at the
// target path is removed first.
func NewStreamServer(ctx context.Context, listen config.Listen, svc *backend.Service, logger *slog.Logger) (*StreamServer, error) {
	if svc == nil {
		return nil, errors.New("stream server requires decode service")
	}
	network, address := listen.Network()
	if network == "unix" {
		if err := os.RemoveAll(address); err != nil {
			return nil, fmt.Errorf("remove existing socket: %w", err)
		}
	}
	listener, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s %s: %w", network, address, err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &StreamServer{
		network:  network,
		address:  address,
		svc:      svc,
		logger:   logging.NewComponentLogger(logger, "stream-server").With(logging.String(logging.FieldTransport, network)),
		listener: listener,
		ctx:      serverCtx,
		cancel:   cancel,
	}, nil
}

// Addr returns the bound address.
func (s *StreamServer) Addr() net.Addr { return s.listener.Addr() }

// Sessions returns the number of open connections.
func (s *StreamServer) Sessions() int { return s.conns.len() }

// Serve starts accepting connections until Close or the context ends.
func (s *StreamServer) Serve() {
	s.logger.Info("stream server listening", logging.String("address", s.listener.Addr().String()))
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		<-s.ctx.Done()
		_ = s.listener.Close()
		s.conns.closeAll()
	}()
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "stream_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "decode clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the server if needed"),
				)
				continue
			}
			if !s.conns.add(conn) {
				_ = conn.Close()
				return
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.conns.remove(c)
				s.handle(c)
			}(conn)
		}
	}()
}

func (s *StreamServer) handle(conn net.Conn) {
	sessionID := uuid.NewString()
	logger := s.logger.With(logging.SessionID(sessionID))
	logger.Debug("stream session opened", logging.String("remote", conn.RemoteAddr().String()))

	writer := protocol.NewFrameWriter(conn)
	sess := s.svc.NewSession(sessionID, writer.WriteResponse)
	defer func() {
		sess.Close()
		_ = conn.Close()
		logger.Debug("stream session closed")
	}()

	reader := protocol.NewFrameReader(conn)
	for {
		req, err := reader.ReadRequest()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return
			}
			logging.WarnWithContext(logger, "dropping stream session", "stream_read_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "in-flight decodes for this client are cancelled"),
				logging.String(logging.FieldErrorHint, "check that the client speaks the framed decode protocol"),
			)
			return
		}
		sess.Handle(req)
	}
}

// Close stops accepting, drops open connections and removes the unix socket.
func (s *StreamServer) Close() {
	s.cancel()
	_ = s.listener.Close()
	s.conns.closeAll()
	s.wg.Wait()
	if s.network != "unix" {
		return
	}
	if err := os.RemoveAll(s.address); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "stream_socket_cleanup_failed",
			logging.String("socket", s.address),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}
