package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"texcache/internal/backend"
	"texcache/internal/logging"
	"texcache/internal/transport"
)

// WebSocketServer serves the decode protocol on a single HTTP endpoint.
type WebSocketServer struct {
	bind        string
	endpoint    string
	subprotocol string
	svc         *backend.Service
	logger      *slog.Logger
	upgrader    websocket.Upgrader

	listener net.Listener
	server   *http.Server
	conns    connSet
}

// WebSocketOptions configures a WebSocketServer.
type WebSocketOptions struct {
	// Bind is the host:port to listen on.
	Bind        string
	Endpoint    string
	Subprotocol string
}

// NewWebSocketServer prepares the HTTP server. Nothing is bound until Start.
func NewWebSocketServer(opts WebSocketOptions, svc *backend.Service, logger *slog.Logger) (*WebSocketServer, error) {
	if svc == nil {
		return nil, errors.New("websocket server requires decode service")
	}
	bind := strings.TrimSpace(opts.Bind)
	if bind == "" {
		return nil, errors.New("websocket server requires bind address")
	}
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = "/"
	}
	sub := strings.TrimSpace(opts.Subprotocol)
	if sub == "" {
		sub = transport.DefaultSubprotocol
	}

	srv := &WebSocketServer{
		bind:        bind,
		endpoint:    endpoint,
		subprotocol: sub,
		svc:         svc,
		logger:      logging.NewComponentLogger(logger, "websocket-server").With(logging.String(logging.FieldTransport, "websocket")),
		upgrader: websocket.Upgrader{
			Subprotocols: []string{sub},
			CheckOrigin:  func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(endpoint, srv.handleUpgrade)
	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

// Start binds the listener and serves until ctx ends or Close is called.
func (s *WebSocketServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("websocket listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("websocket server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	s.logger.Info("websocket server listening",
		logging.String("address", listener.Addr().String()),
		logging.String("endpoint", s.endpoint),
	)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *WebSocketServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL returns the ws:// URL clients dial, or "" before Start.
func (s *WebSocketServer) URL() string {
	addr := s.Addr()
	if addr == nil {
		return ""
	}
	return "ws://" + addr.String() + s.endpoint
}

// Sessions returns the number of open WebSocket sessions.
func (s *WebSocketServer) Sessions() int { return s.conns.len() }

// Close shuts the HTTP server down and drops open sessions.
func (s *WebSocketServer) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.conns.closeAll()
	s.conns.wait()
}

func (s *WebSocketServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	if !offersSubprotocol(r, s.subprotocol) {
		http.Error(w, "unsupported subprotocol", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.WarnWithContext(s.logger, "websocket upgrade failed", "websocket_upgrade_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "client could not open a decode session"),
			logging.String(logging.FieldErrorHint, "check the client handshake headers"),
		)
		return
	}
	ws := transport.NewWSConn(conn)
	if !s.conns.add(ws) {
		_ = ws.Close()
		return
	}
	defer s.conns.remove(ws)
	s.serveConn(ws, r.RemoteAddr)
}

func (s *WebSocketServer) serveConn(ws *transport.WSConn, remote string) {
	sessionID := uuid.NewString()
	logger := s.logger.With(logging.SessionID(sessionID))
	logger.Debug("websocket session opened", logging.String("remote", remote))

	sess := s.svc.NewSession(sessionID, ws.WriteResponse)
	defer func() {
		sess.Close()
		_ = ws.Close()
		logger.Debug("websocket session closed")
	}()

	for {
		req, err := ws.ReadRequest()
		if err != nil {
			if isClosedError(err) {
				return
			}
			logging.WarnWithContext(logger, "dropping websocket session", "websocket_read_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "in-flight decodes for this client are cancelled"),
				logging.String(logging.FieldErrorHint, "check that the client speaks the decode protocol"),
			)
			return
		}
		sess.Handle(req)
	}
}

func offersSubprotocol(r *http.Request, want string) bool {
	for _, offered := range websocket.Subprotocols(r) {
		if offered == want {
			return true
		}
	}
	return false
}

func isClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
	)
}
