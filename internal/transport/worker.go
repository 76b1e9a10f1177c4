package transport

import (
	"sync"

	"texcache/internal/backend"
	"texcache/internal/protocol"
)

const workerQueueSize = 64

// WorkerLink runs the decode backend in-process. Requests and responses pass
// through channels; decoding happens on the service's goroutines.
type WorkerLink struct {
	svc      *backend.Service
	ownsSvc  bool
	session  *backend.Session
	requests chan protocol.Request
	replies  chan protocol.Response
	done     chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWorkerLink starts a worker session on svc. When owned is true, Close
// also closes svc.
func NewWorkerLink(svc *backend.Service, owned bool) *WorkerLink {
	l := &WorkerLink{
		svc:      svc,
		ownsSvc:  owned,
		requests: make(chan protocol.Request, workerQueueSize),
		replies:  make(chan protocol.Response, workerQueueSize),
		done:     make(chan struct{}),
	}
	l.session = svc.NewSession("worker", l.emit)
	l.wg.Add(1)
	go l.serve()
	return l
}

func (l *WorkerLink) serve() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case req := <-l.requests:
			l.session.Handle(req)
		}
	}
}

func (l *WorkerLink) emit(resp protocol.Response) error {
	select {
	case l.replies <- resp:
		return nil
	case <-l.done:
		return ErrClosed
	}
}

// Send queues req for the worker.
func (l *WorkerLink) Send(req protocol.Request) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.requests <- req:
		return nil
	case <-l.done:
		return ErrClosed
	}
}

// Receive returns the next response.
func (l *WorkerLink) Receive() (protocol.Response, error) {
	select {
	case resp := <-l.replies:
		return resp, nil
	case <-l.done:
		return nil, ErrClosed
	}
}

// Close stops the worker and cancels everything in flight.
func (l *WorkerLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		l.session.Close()
		if l.ownsSvc {
			l.svc.Close()
		}
	})
	return nil
}
