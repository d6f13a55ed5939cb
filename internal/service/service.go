package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wayguide/wayguide/internal/camera"
	"github.com/wayguide/wayguide/internal/guidance"
	"github.com/wayguide/wayguide/internal/monitoring"
)

// Outbound is a reply on its way to the control link, tagged with the
// service generation that produced it.
type Outbound struct {
	Reply      guidance.Reply
	Kind       Kind
	Generation uuid.UUID
	At         time.Time
}

// Sink receives outbound replies.
type Sink interface {
	Send(Outbound) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Outbound) error

func (f SinkFunc) Send(o Outbound) error { return f(o) }

// Observer is notified of every reply that reached the sink. Observers must
// not block.
type Observer interface {
	Observe(Outbound)
}

// Transition is one orchestrator state change.
type Transition struct {
	From       State
	To         State
	Generation uuid.UUID
	At         time.Time
}

// StateObserver is implemented by observers that also want state changes.
// It is called with the orchestrator's command lock held and must not block.
type StateObserver interface {
	ObserveTransition(Transition)
}

// Service is one sensing service instance. An instance runs at most once.
type Service interface {
	Kind() Kind
	Generation() uuid.UUID
	// Start launches the service loop on its own goroutine. dev is borrowed
	// until Done is closed.
	Start(ctx context.Context, dev camera.Source, sink Sink)
	// Terminate stops the service. After it returns the service sends no
	// further replies. It does not wait for the loop to exit.
	Terminate()
	// Done is closed once the loop has exited and released the device.
	Done() <-chan struct{}
}

// runner carries the lifecycle shared by every service.
type runner struct {
	kind Kind
	gen  uuid.UUID
	logf func(string, ...interface{})

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// gateMu is held across every send, so Terminate waits for an
	// in-flight send and then blocks all later ones.
	gateMu sync.Mutex
	closed bool
	sink   Sink
	cancel context.CancelFunc
}

func newRunner(kind Kind) runner {
	return runner{
		kind: kind,
		gen:  uuid.New(),
		logf: monitoring.Component(kind.String()),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (r *runner) Kind() Kind               { return r.kind }
func (r *runner) Generation() uuid.UUID    { return r.gen }
func (r *runner) Done() <-chan struct{}    { return r.done }
func (r *runner) stopped() <-chan struct{} { return r.stop }

// launch starts loop on a goroutine with a context cancelled by Terminate.
func (r *runner) launch(ctx context.Context, sink Sink, loop func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(ctx)
	r.gateMu.Lock()
	r.sink = sink
	r.cancel = cancel
	if r.closed {
		cancel()
	}
	r.gateMu.Unlock()

	go func() {
		defer close(r.done)
		defer cancel()
		loop(ctx)
	}()
}

func (r *runner) Terminate() {
	r.gateMu.Lock()
	r.closed = true
	if r.cancel != nil {
		r.cancel()
	}
	r.gateMu.Unlock()
	r.stopOnce.Do(func() { close(r.stop) })
}

// emit sends reply unless the service has been terminated. It reports
// whether the reply was handed to the sink.
func (r *runner) emit(reply guidance.Reply) bool {
	r.gateMu.Lock()
	defer r.gateMu.Unlock()
	if r.closed || r.sink == nil {
		return false
	}
	err := r.sink.Send(Outbound{Reply: reply, Kind: r.kind, Generation: r.gen, At: time.Now()})
	if err != nil {
		r.logf("send failed: %v", err)
		return false
	}
	return true
}

// terminated reports whether Terminate has been called, without blocking.
func (r *runner) terminated() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}
