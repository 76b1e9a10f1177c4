package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"texcache/internal/backend"
	"texcache/internal/config"
	"texcache/internal/protocol"
)

// ErrClosed is returned by Link and Client operations after Close.
var ErrClosed = errors.New("transport: closed")

// Link carries protocol messages to a decode backend. Send may be called
// concurrently with Receive; Receive has a single caller.
type Link interface {
	Send(req protocol.Request) error
	Receive() (protocol.Response, error)
	Close() error
}

const (
	KindWorker    = "worker"
	KindStream    = "stream"
	KindWebSocket = "websocket"
)

// Open connects the link selected by cfg.Client.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Link, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Client.Transport)) {
	case KindWorker, "":
		opts := backend.OptionsFromConfig(cfg)
		opts.Logger = logger
		return NewWorkerLink(backend.NewService(opts), true), nil
	case KindStream:
		network, address := StreamAddress(cfg.Client.Address)
		return DialStream(ctx, network, address)
	case KindWebSocket:
		return DialWebSocket(ctx, cfg.Client.Address, cfg.WebSocket.Subprotocol)
	default:
		return nil, fmt.Errorf("transport: unknown transport %q", cfg.Client.Transport)
	}
}

// StreamAddress splits a client address into a dial network and address.
// "unix:" prefixes and absolute paths select a unix socket; anything else is
// a TCP host:port.
func StreamAddress(address string) (string, string) {
	address = strings.TrimSpace(address)
	if rest, ok := strings.CutPrefix(address, "unix:"); ok {
		return "unix", rest
	}
	if strings.HasPrefix(address, "/") {
		return "unix", address
	}
	return "tcp", strings.TrimPrefix(address, "tcp:")
}
