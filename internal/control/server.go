// Package control serves the remote control link: it accepts one client at
// a time, feeds its command lines to the orchestrator and streams guidance
// back.
package control

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wayguide/wayguide/internal/monitoring"
	"github.com/wayguide/wayguide/internal/service"
	"github.com/wayguide/wayguide/internal/timeutil"
)

// Handler is the orchestrator surface the server drives.
type Handler interface {
	Handle(ctx context.Context, line []byte) error
	Halt(ctx context.Context) error
	SetSink(service.Sink)
}

// Server runs control sessions until its context ends.
type Server struct {
	acceptor Acceptor
	handler  Handler
	metrics  *monitoring.Metrics
	clock    timeutil.Clock
	logf     func(string, ...interface{})

	// AcceptBackoff is the pause after a failed Accept.
	AcceptBackoff time.Duration

	mu      sync.Mutex
	current Link
	session uuid.UUID
}

// NewServer returns a server that accepts links from acceptor.
func NewServer(acceptor Acceptor, handler Handler, metrics *monitoring.Metrics, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{
		acceptor:      acceptor,
		handler:       handler,
		metrics:       metrics,
		clock:         clock,
		logf:          monitoring.Component("control"),
		AcceptBackoff: time.Second,
	}
}

// Current returns the connected link, or nil.
func (s *Server) Current() Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Session returns the ID of the connected session, or uuid.Nil.
func (s *Server) Session() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Server) setCurrent(l Link, id uuid.UUID) {
	s.mu.Lock()
	s.current = l
	s.session = id
	s.mu.Unlock()
}

// Serve accepts and runs sessions until ctx ends. It returns nil on
// cancellation.
func (s *Server) Serve(ctx context.Context) error {
	defer s.acceptor.Close()
	for {
		link, err := s.acceptor.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logf("accept failed: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-s.clock.After(s.AcceptBackoff):
			}
			continue
		}
		s.runSession(ctx, link)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// runSession owns link until the client goes away, the link fails or ctx
// ends. On exit the running service is stopped and the link is closed.
func (s *Server) runSession(ctx context.Context, link Link) {
	id := uuid.New()
	s.logf("session %s connected", id)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	subID, lines := link.Subscribe()

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		defer cancel()
		if err := link.Monitor(sctx); err != nil && !errors.Is(err, context.Canceled) {
			s.metrics.TransportFault()
			s.logf("session %s read failed: %v", id, err)
		}
	}()

	s.handler.SetSink(service.SinkFunc(func(out service.Outbound) error {
		data, err := out.Reply.Marshal()
		if err != nil {
			return err
		}
		if err := link.SendLine(string(data)); err != nil {
			s.metrics.TransportFault()
			s.logf("session %s write failed: %v", id, err)
			cancel()
			return err
		}
		return nil
	}))
	s.setCurrent(link, id)

loop:
	for {
		select {
		case <-sctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if err := s.handler.Handle(sctx, []byte(line)); err != nil {
				s.logf("session %s command failed: %v", id, err)
			}
		}
	}

	s.handler.SetSink(nil)
	s.setCurrent(nil, uuid.Nil)
	if err := s.handler.Halt(context.Background()); err != nil {
		s.logf("session %s halt: %v", id, err)
	}
	link.Unsubscribe(subID)
	if err := link.Close(); err != nil {
		s.logf("session %s close: %v", id, err)
	}
	<-monitorDone
	if n := link.Oversized(); n > 0 {
		s.metrics.ProtocolFaults(n)
		s.logf("session %s discarded %d oversized inbound lines", id, n)
	}
	if n := link.Dropped(); n > 0 {
		s.logf("session %s disconnected, %d inbound lines dropped", id, n)
		return
	}
	s.logf("session %s disconnected", id)
}
