package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"texcache/internal/logging"
	"texcache/internal/protocol"
	"texcache/internal/texture"
)

// ResultFunc receives the outcome of one submitted request. Exactly one of
// resp and err is set. It runs on the client's read goroutine, or on a timer
// goroutine for timeouts, and must not block. It must not call Cancel for its
// own id: Cancel waits for a running callback to return.
type ResultFunc func(resp *protocol.Success, err error)

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL string
	// RequestTimeout fails and cancels requests that have no response after
	// this long. Zero disables the timeout.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

type pendingRequest struct {
	deliver ResultFunc
	timer   *time.Timer

	// mu is held while deliver runs; settled is set once the request was
	// delivered or withdrawn.
	mu      sync.Mutex
	settled bool
}

// settle runs deliver unless the request was already settled.
func (p *pendingRequest) settle(resp *protocol.Success, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return
	}
	p.settled = true
	p.deliver(resp, err)
}

// withdraw blocks until a running delivery has returned and prevents any
// later one.
func (p *pendingRequest) withdraw() {
	p.mu.Lock()
	p.settled = true
	p.mu.Unlock()
}

// Client tracks outstanding requests on a Link.
type Client struct {
	link    Link
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[protocol.RequestID]*pendingRequest
	err     error

	done chan struct{}
}

// NewClient sends the base-URL handshake on link and starts reading
// responses. The client owns link.
func NewClient(link Link, opts ClientOptions) (*Client, error) {
	c := &Client{
		link:    link,
		timeout: opts.RequestTimeout,
		logger:  logging.NewComponentLogger(opts.Logger, "transport"),
		pending: make(map[protocol.RequestID]*pendingRequest),
		done:    make(chan struct{}),
	}
	if err := link.Send(protocol.Hello{BaseURL: opts.BaseURL}); err != nil {
		_ = link.Close()
		return nil, texture.Wrap(texture.ErrTransport, "send hello", err)
	}
	go c.readLoop()
	return c, nil
}

// Submit registers deliver for id and sends the decode request. A request
// already pending under id is cancelled first.
func (c *Client) Submit(id protocol.RequestID, kind protocol.DecodeKind, data string, deliver ResultFunc) error {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	if prev, ok := c.pending[id]; ok {
		c.dropLocked(id, prev)
		c.mu.Unlock()
		prev.withdraw()
		_ = c.link.Send(protocol.Cancel{ID: id})
		c.mu.Lock()
		if c.err != nil {
			err := c.err
			c.mu.Unlock()
			return err
		}
	}
	p := &pendingRequest{deliver: deliver}
	c.pending[id] = p
	if c.timeout > 0 {
		p.timer = time.AfterFunc(c.timeout, func() { c.expire(id, p) })
	}
	c.mu.Unlock()

	if err := c.link.Send(protocol.Decode{ID: id, Kind: kind, Data: data}); err != nil {
		c.mu.Lock()
		if c.pending[id] == p {
			c.dropLocked(id, p)
		}
		c.mu.Unlock()
		p.withdraw()
		return texture.Wrap(texture.ErrTransport, "send decode", err)
	}
	return nil
}

// Cancel withdraws id. Its callback never runs after Cancel returns; a
// callback already running is waited for. Cancelling an unknown id does
// nothing.
func (c *Client) Cancel(id protocol.RequestID) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		c.dropLocked(id, p)
	}
	failed := c.err != nil
	c.mu.Unlock()
	if !ok {
		return
	}
	p.withdraw()
	if !failed {
		if err := c.link.Send(protocol.Cancel{ID: id}); err != nil {
			c.logger.Debug("send cancel failed", logging.RequestID(int64(id)), logging.Error(err))
		}
	}
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Done is closed when the link has failed or the client was closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the client, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the link. Pending requests fail with ErrClosed.
func (c *Client) Close() error {
	c.fail(ErrClosed)
	return c.link.Close()
}

func (c *Client) dropLocked(id protocol.RequestID, p *pendingRequest) {
	delete(c.pending, id)
	if p.timer != nil {
		p.timer.Stop()
	}
}

// lookup returns the live entry for id. Entries stay registered while they
// are delivered so that Cancel can find and wait for them.
func (c *Client) lookup(id protocol.RequestID) (*pendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	return p, ok
}

// finish settles p and unregisters it if it is still the entry for id.
func (c *Client) finish(id protocol.RequestID, p *pendingRequest, resp *protocol.Success, err error) {
	p.settle(resp, err)
	c.mu.Lock()
	if c.pending[id] == p {
		c.dropLocked(id, p)
	}
	c.mu.Unlock()
}

func (c *Client) expire(id protocol.RequestID, p *pendingRequest) {
	if cur, ok := c.lookup(id); !ok || cur != p {
		return
	}

	_ = c.link.Send(protocol.Cancel{ID: id})
	logging.WarnWithContext(c.logger, "decode request timed out", "decode_timeout",
		logging.RequestID(int64(id)),
		logging.Duration("timeout", c.timeout),
		logging.String(logging.FieldErrorHint, "check decode backend health or raise client.request_timeout_ms"),
		logging.String(logging.FieldImpact, "texture source moves to error state"),
	)
	c.finish(id, p, nil, texture.Wrap(texture.ErrTransport, fmt.Sprintf("no response within %s", c.timeout), nil))
}

func (c *Client) readLoop() {
	for {
		resp, err := c.link.Receive()
		if err != nil {
			c.fail(err)
			return
		}
		id := resp.RequestID()
		p, ok := c.lookup(id)
		if !ok {
			continue
		}
		switch r := resp.(type) {
		case protocol.Success:
			c.finish(id, p, &r, nil)
		case protocol.Failure:
			c.finish(id, p, nil, failureError(r))
		}
	}
}

// fail ends the client and delivers a transport error to every pending
// request. Only the first call has an effect.
func (c *Client) fail(cause error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	if errors.Is(cause, ErrClosed) {
		c.err = ErrClosed
	} else {
		c.err = texture.Wrap(texture.ErrTransport, "link failed", cause)
	}
	pending := make(map[protocol.RequestID]*pendingRequest, len(c.pending))
	for id, p := range c.pending {
		pending[id] = p
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	err := c.err
	c.mu.Unlock()

	for id, p := range pending {
		c.finish(id, p, nil, texture.Wrap(texture.ErrTransport, "request aborted", err))
	}
	if !errors.Is(cause, ErrClosed) {
		logging.WarnWithContext(c.logger, "decode link failed", "transport_failed",
			logging.Int("pending", len(pending)),
			logging.Error(cause),
			logging.String(logging.FieldErrorHint, "check that the decode server is running and reachable"),
			logging.String(logging.FieldImpact, "pending texture loads fail until sources reload"),
		)
	}
	close(c.done)
}

func failureError(f protocol.Failure) error {
	if protocol.IsNotSupported(f.Err) {
		return texture.Wrap(texture.ErrUnsupported, f.Err, nil)
	}
	return texture.Wrap(texture.ErrDecode, f.Err, nil)
}
