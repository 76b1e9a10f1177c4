package backend

import (
	"context"
	"log/slog"
	"sync"

	"texcache/internal/decoder"
	"texcache/internal/logging"
	"texcache/internal/protocol"
)

// EmitFunc delivers one response to the peer of a session.
type EmitFunc func(protocol.Response) error

type flight struct {
	cancel context.CancelFunc
}

// Session serves the requests of one transport connection.
type Session struct {
	svc    *Service
	emit   EmitFunc
	logger *slog.Logger

	// mu guards inflight and serialises emission, so a handled Cancel is
	// never followed by a response for its id.
	mu       sync.Mutex
	baseURL  string
	inflight map[protocol.RequestID]*flight
	closed   bool
	wg       sync.WaitGroup
}

// NewSession starts a session whose responses are passed to emit. emit is
// never called concurrently.
func (s *Service) NewSession(id string, emit EmitFunc) *Session {
	logger := s.logger
	if id != "" {
		logger = logger.With(logging.SessionID(id))
	}
	return &Session{
		svc:      s,
		emit:     emit,
		logger:   logger,
		inflight: make(map[protocol.RequestID]*flight),
	}
}

// Handle processes one request. It does not block on decoding.
func (s *Session) Handle(req protocol.Request) {
	switch r := req.(type) {
	case protocol.Hello:
		s.mu.Lock()
		s.baseURL = r.BaseURL
		s.mu.Unlock()
		s.logger.Debug("session hello", logging.String("base_url", r.BaseURL))
	case protocol.Decode:
		s.decode(r)
	case protocol.Cancel:
		s.Cancel(r.ID)
	}
}

// Cancel withdraws id. Unknown ids are ignored.
func (s *Session) Cancel(id protocol.RequestID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.inflight[id]
	if !ok {
		return
	}
	delete(s.inflight, id)
	f.cancel()
}

// InFlight returns the number of requests awaiting a response.
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

func (s *Session) decode(r protocol.Decode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if r.Kind != protocol.KindImage {
		s.send(protocol.Failure{ID: r.ID, Err: protocol.NotSupported(r.Kind)})
		return
	}
	if prev, ok := s.inflight[r.ID]; ok {
		prev.cancel()
	}

	ctx, cancel := context.WithCancel(s.svc.ctx)
	f := &flight{cancel: cancel}
	s.inflight[r.ID] = f
	locator := decoder.Resolve(s.baseURL, r.Data)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		img, err := s.svc.Decode(ctx, locator)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.inflight[r.ID] != f {
			return
		}
		delete(s.inflight, r.ID)
		if err != nil {
			s.logger.Debug("decode failed",
				logging.RequestID(int64(r.ID)),
				logging.Locator(locator),
				logging.Error(err),
			)
			s.send(protocol.Failure{ID: r.ID, Err: err.Error()})
			return
		}
		info := make(map[string]any, len(img.RenderInfo)+1)
		for k, v := range img.RenderInfo {
			info[k] = v
		}
		info["src"] = locator
		s.send(protocol.Success{
			ID:         r.ID,
			Width:      img.Width,
			Height:     img.Height,
			RenderInfo: info,
			Pixels:     img.Pix,
		})
	}()
}

// send must be called with s.mu held.
func (s *Session) send(resp protocol.Response) {
	if err := s.emit(resp); err != nil {
		s.logger.Debug("emit response failed",
			logging.RequestID(int64(resp.RequestID())),
			logging.Error(err),
		)
	}
}

// Close cancels every in-flight request and waits for their goroutines.
// No response is emitted after Close returns.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	for id, f := range s.inflight {
		f.cancel()
		delete(s.inflight, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
