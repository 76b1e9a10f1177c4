package server

import (
	"io"
	"sync"
)

// connSet tracks open connections so Close can interrupt blocked reads and
// wait for their handlers. A connection is counted from add until remove.
type connSet struct {
	mu     sync.Mutex
	conns  map[io.Closer]struct{}
	closed bool
	wg     sync.WaitGroup
}

// add registers c. It returns false once closeAll has run; the caller then
// owns c and must close it.
func (s *connSet) add(c io.Closer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.conns == nil {
		s.conns = make(map[io.Closer]struct{})
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

// remove marks the handler of c as finished. Call it exactly once for every
// successful add.
func (s *connSet) remove(c io.Closer) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *connSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// closeAll refuses new connections and closes the open ones.
func (s *connSet) closeAll() {
	s.mu.Lock()
	s.closed = true
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for c := range conns {
		_ = c.Close()
	}
}

// wait blocks until every added connection was removed.
func (s *connSet) wait() { s.wg.Wait() }
