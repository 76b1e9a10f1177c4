package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"texcache/internal/protocol"
)

// StreamLink speaks the length-framed protocol over a TCP or unix socket.
type StreamLink struct {
	conn   net.Conn
	writer *protocol.FrameWriter
	reader *protocol.FrameReader

	closeOnce sync.Once
	closeErr  error
}

// DialStream connects to a stream server.
func DialStream(ctx context.Context, network, address string) (*StreamLink, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s %s: %w", network, address, err)
	}
	return NewStreamLink(conn), nil
}

// NewStreamLink wraps an established connection.
func NewStreamLink(conn net.Conn) *StreamLink {
	return &StreamLink{
		conn:   conn,
		writer: protocol.NewFrameWriter(conn),
		reader: protocol.NewFrameReader(conn),
	}
}

func (l *StreamLink) Send(req protocol.Request) error {
	return l.writer.WriteRequest(req)
}

func (l *StreamLink) Receive() (protocol.Response, error) {
	return l.reader.ReadResponse()
}

func (l *StreamLink) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}
