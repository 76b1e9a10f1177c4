package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"texcache/internal/protocol"
)

const (
	// DefaultSubprotocol is the WebSocket sub-protocol spoken by both ends.
	DefaultSubprotocol = "texcache.decode.v1"
	// DefaultWriteTimeout bounds every message write to a peer.
	DefaultWriteTimeout = 10 * time.Second
)

// WSConn carries protocol messages over a WebSocket: JSON messages as text
// frames and pixel buffers as binary frames. Writes are serialised; reads
// must come from a single goroutine.
type WSConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

// NewWSConn wraps an established WebSocket connection.
func NewWSConn(conn *websocket.Conn) *WSConn {
	conn.SetReadLimit(protocol.MaxFrameSize)
	return &WSConn{conn: conn, writeTimeout: DefaultWriteTimeout}
}

// writeLocked sends one message under the write deadline. c.mu must be held.
func (c *WSConn) writeLocked(messageType int, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, payload)
}

// WriteRequest sends req as one text frame.
func (c *WSConn) WriteRequest(req protocol.Request) error {
	payload, err := protocol.MarshalRequest(req)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(websocket.TextMessage, payload)
}

// WriteResponse sends the metadata text frame and, for a Success, the pixel
// binary frame right after it.
func (c *WSConn) WriteResponse(resp protocol.Response) error {
	payload, err := protocol.MarshalResponse(resp)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeLocked(websocket.TextMessage, payload); err != nil {
		return err
	}
	if s, ok := resp.(protocol.Success); ok {
		return c.writeLocked(websocket.BinaryMessage, s.Pixels)
	}
	return nil
}

// ReadRequest reads the next request.
func (c *WSConn) ReadRequest() (protocol.Request, error) {
	mt, payload, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if mt != websocket.TextMessage {
		return nil, fmt.Errorf("%w: unexpected binary message", protocol.ErrMalformed)
	}
	return protocol.UnmarshalRequest(payload)
}

// ReadResponse reads the next response, including the pixel frame that
// follows a Success.
func (c *WSConn) ReadResponse() (protocol.Response, error) {
	mt, payload, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if mt != websocket.TextMessage {
		return nil, fmt.Errorf("%w: binary message without metadata", protocol.ErrMalformed)
	}
	resp, err := protocol.UnmarshalResponse(payload)
	if err != nil {
		return nil, err
	}
	s, ok := resp.(protocol.Success)
	if !ok {
		return resp, nil
	}
	mt, pixels, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: expected pixel frame for id %d", protocol.ErrMalformed, s.ID)
	}
	return protocol.AttachPixels(s, pixels)
}

// Close sends a close frame and closes the connection. When a write is in
// progress the close frame is skipped and the connection is closed under it.
func (c *WSConn) Close() error {
	if c.mu.TryLock() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()
	}
	return c.conn.Close()
}

// WebSocketLink is the client side of a WebSocket session.
type WebSocketLink struct {
	ws        *WSConn
	closeOnce sync.Once
	closeErr  error
}

// DialWebSocket connects to url and negotiates subprotocol.
func DialWebSocket(ctx context.Context, url, subprotocol string) (*WebSocketLink, error) {
	if subprotocol == "" {
		subprotocol = DefaultSubprotocol
	}
	dialer := websocket.Dialer{
		Subprotocols:     []string{subprotocol},
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	if conn.Subprotocol() != subprotocol {
		_ = conn.Close()
		return nil, fmt.Errorf("transport: server did not accept sub-protocol %q", subprotocol)
	}
	return &WebSocketLink{ws: NewWSConn(conn)}, nil
}

func (l *WebSocketLink) Send(req protocol.Request) error {
	return l.ws.WriteRequest(req)
}

func (l *WebSocketLink) Receive() (protocol.Response, error) {
	return l.ws.ReadResponse()
}

func (l *WebSocketLink) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.ws.Close()
	})
	return l.closeErr
}
