package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wayguide/wayguide/internal/camera"
	"github.com/wayguide/wayguide/internal/guidance"
	"github.com/wayguide/wayguide/internal/monitoring"
	"github.com/wayguide/wayguide/internal/timeutil"
)

var (
	// ErrJoinTimeout is returned by Halt and Close when a terminated
	// service did not exit in time. Its device is abandoned rather than
	// reused.
	ErrJoinTimeout = errors.New("service: terminated service did not exit")
	// ErrClosed is returned by commands after Close.
	ErrClosed = errors.New("service: orchestrator closed")
)

const DefaultJoinTimeout = 10 * time.Second

// Options configures an Orchestrator.
type Options struct {
	Open    camera.Opener
	Build   Builder
	Catalog *guidance.Catalog
	Metrics *monitoring.Metrics
	Clock   timeutil.Clock

	Observers []Observer

	// ResetDeviceOnSwitch closes the device after every service exit and
	// opens a fresh one for the next service.
	ResetDeviceOnSwitch bool
	JoinTimeout         time.Duration
}

// Snapshot is a read-only view of the orchestrator.
type Snapshot struct {
	State      string    `json:"state"`
	Kind       string    `json:"kind"`
	Generation string    `json:"generation,omitempty"`
	Since      time.Time `json:"since"`
	Switches   int       `json:"switches"`
	Device     bool      `json:"device_open"`
}

// Orchestrator owns the camera device and at most one running service.
// Commands are serialised; a switch returns only after the previous
// service has exited and the new one has started.
type Orchestrator struct {
	opts Options
	logf func(string, ...interface{})

	baseCtx context.Context
	cancel  context.CancelFunc

	// cmdMu serialises commands and guards active and device.
	cmdMu  sync.Mutex
	active Service
	device camera.Device
	closed bool

	// viewMu guards fields read by Snapshot and the sink.
	viewMu   sync.RWMutex
	state    State
	gen      uuid.UUID
	since    time.Time
	switches int
	devOpen  bool
	sink     Sink
}

// NewOrchestrator creates an idle orchestrator.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Open == nil {
		return nil, fmt.Errorf("orchestrator: nil device opener")
	}
	if opts.Build == nil {
		return nil, fmt.Errorf("orchestrator: nil service builder")
	}
	if opts.Catalog == nil {
		c, err := guidance.NewCatalog(guidance.DefaultLocale)
		if err != nil {
			return nil, err
		}
		opts.Catalog = c
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:    opts,
		logf:    monitoring.Component("orchestrator"),
		baseCtx: ctx,
		cancel:  cancel,
		since:   opts.Clock.Now(),
	}, nil
}

// SetSink replaces the reply destination. A nil sink drops replies.
func (o *Orchestrator) SetSink(s Sink) {
	o.viewMu.Lock()
	o.sink = s
	o.viewMu.Unlock()
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.viewMu.RLock()
	defer o.viewMu.RUnlock()
	return o.state
}

// Snapshot returns the current state for diagnostics.
func (o *Orchestrator) Snapshot() Snapshot {
	o.viewMu.RLock()
	s := Snapshot{
		State:    o.state.String(),
		Kind:     kindOf(o.state).String(),
		Since:    o.since,
		Switches: o.switches,
	}
	if o.gen != uuid.Nil {
		s.Generation = o.gen.String()
	}
	s.Device = o.devOpen
	o.viewMu.RUnlock()
	return s
}

// setDeviceLocked records dev as the owned device.
func (o *Orchestrator) setDeviceLocked(dev camera.Device) {
	o.device = dev
	o.viewMu.Lock()
	o.devOpen = dev != nil
	o.viewMu.Unlock()
}

func kindOf(s State) Kind {
	switch s {
	case RunningObstacle:
		return KindObstacle
	case RunningElevator:
		return KindElevator
	}
	return KindNone
}

// deliver hands out to the current sink, then to observers.
func (o *Orchestrator) deliver(out Outbound) error {
	if out.At.IsZero() {
		out.At = o.opts.Clock.Now()
	}
	o.viewMu.RLock()
	sink := o.sink
	o.viewMu.RUnlock()
	if sink == nil {
		return nil
	}
	if err := sink.Send(out); err != nil {
		return err
	}
	o.opts.Metrics.Reply(out.Reply.Action)
	for _, obs := range o.opts.Observers {
		obs.Observe(out)
	}
	return nil
}

func (o *Orchestrator) setView(state State, gen uuid.UUID) {
	o.viewMu.Lock()
	tr := Transition{From: o.state, To: state, Generation: gen, At: o.opts.Clock.Now()}
	o.state = state
	o.gen = gen
	o.since = tr.At
	if state != Idle {
		o.switches++
	}
	o.viewMu.Unlock()

	if tr.From != tr.To || tr.To != Idle {
		for _, obs := range o.opts.Observers {
			if so, ok := obs.(StateObserver); ok {
				so.ObserveTransition(tr)
			}
		}
	}

	kinds := make([]string, len(Kinds))
	for i, k := range Kinds {
		kinds[i] = k.String()
	}
	active := ""
	if state != Idle {
		active = kindOf(state).String()
	}
	o.opts.Metrics.SetActive(active, kinds...)
}

// Handle processes one inbound control line. Malformed lines are logged and
// dropped; they never produce a reply or an error.
func (o *Orchestrator) Handle(ctx context.Context, line []byte) error {
	cmd, err := guidance.ParseCommand(line)
	if err != nil {
		o.opts.Metrics.ProtocolFault()
		o.logf("ignoring malformed command %q: %v", truncate(line, 64), err)
		return nil
	}
	if !cmd.Known() {
		o.logf("unknown mode %q", cmd.Mode)
		o.viewMu.RLock()
		gen, kind := o.gen, kindOf(o.state)
		o.viewMu.RUnlock()
		return o.deliver(Outbound{Reply: o.opts.Catalog.UnknownCommand(), Kind: kind, Generation: gen})
	}

	o.opts.Metrics.ModeSwitch(cmd.Mode)
	kind, _ := KindForMode(cmd.Mode)
	if kind == KindNone {
		return o.Stop(ctx)
	}
	return o.Switch(ctx, kind)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Switch stops the running service, if any, and starts a new one of kind.
// The acknowledgement is sent before the new service can send anything.
func (o *Orchestrator) Switch(ctx context.Context, kind Kind) error {
	if kind == KindNone {
		return o.Stop(ctx)
	}

	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()
	if o.closed {
		return ErrClosed
	}

	// A stuck service keeps its device; the new one gets a fresh device.
	if err := o.haltLocked(ctx); err != nil && !errors.Is(err, ErrJoinTimeout) {
		return err
	}

	dev, err := o.acquireLocked(ctx)
	if err != nil {
		o.logf("cannot open device for %s: %v", kind, err)
		o.deliver(Outbound{Reply: o.replyFor(kind, guidance.KeyCameraUnavailable), Kind: kind})
		return fmt.Errorf("open device: %w", err)
	}

	svc, err := o.opts.Build(kind)
	if err != nil {
		return fmt.Errorf("build %s service: %w", kind, err)
	}

	o.deliver(Outbound{Reply: o.opts.Catalog.SwitchAck(kind.String()), Kind: kind, Generation: svc.Generation()})

	o.active = svc
	o.setView(stateFor(kind), svc.Generation())
	svc.Start(o.baseCtx, dev, SinkFunc(o.deliver))
	go o.watch(svc)

	o.logf("switched to %s (generation %s)", kind, svc.Generation())
	return nil
}

func (o *Orchestrator) replyFor(kind Kind, key guidance.Key) guidance.Reply {
	if kind == KindElevator {
		return o.opts.Catalog.Elevator(key)
	}
	return o.opts.Catalog.Obstacle(key)
}

// Stop terminates the running service and acknowledges with "stop".
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if err := o.haltLocked(ctx); err != nil && !errors.Is(err, ErrJoinTimeout) {
		return err
	}
	o.releaseLocked()
	return o.deliver(Outbound{Reply: o.opts.Catalog.SwitchAck(guidance.ModeStop), Kind: KindNone})
}

// Halt terminates the running service without sending anything. The control
// server calls it when the link drops.
func (o *Orchestrator) Halt(ctx context.Context) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()
	if err := o.haltLocked(ctx); err != nil {
		return err
	}
	o.releaseLocked()
	return nil
}

// haltLocked terminates the active service and waits for it to exit.
func (o *Orchestrator) haltLocked(ctx context.Context) error {
	svc := o.active
	if svc == nil {
		return nil
	}
	o.active = nil
	svc.Terminate()
	o.setView(Idle, uuid.Nil)

	select {
	case <-svc.Done():
		if o.opts.ResetDeviceOnSwitch {
			o.releaseLocked()
		}
		return nil
	case <-o.opts.Clock.After(o.opts.JoinTimeout):
	case <-ctx.Done():
	}

	// The old loop still holds the device. Hand it to a reaper and let the
	// next service open a fresh one.
	o.logf("%s generation %s did not exit, abandoning device", svc.Kind(), svc.Generation())
	if dev := o.device; dev != nil {
		o.setDeviceLocked(nil)
		go func() {
			<-svc.Done()
			dev.Close()
		}()
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrJoinTimeout
}

// acquireLocked returns the device for the next service, opening one if
// needed.
func (o *Orchestrator) acquireLocked(ctx context.Context) (camera.Device, error) {
	if o.device != nil {
		return o.device, nil
	}
	dev, err := o.opts.Open(ctx)
	if err != nil {
		return nil, err
	}
	o.setDeviceLocked(dev)
	return dev, nil
}

func (o *Orchestrator) releaseLocked() {
	if o.device == nil {
		return
	}
	if err := o.device.Close(); err != nil {
		o.logf("device close: %v", err)
	}
	o.setDeviceLocked(nil)
}

// watch returns the orchestrator to Idle when svc exits on its own, for
// example after a sensor fault.
func (o *Orchestrator) watch(svc Service) {
	<-svc.Done()
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()
	if o.active != svc {
		return
	}
	o.logf("%s generation %s exited", svc.Kind(), svc.Generation())
	o.active = nil
	o.setView(Idle, uuid.Nil)
	o.releaseLocked()
}

// Close terminates the running service and releases the device.
func (o *Orchestrator) Close() error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	err := o.haltLocked(context.Background())
	o.releaseLocked()
	o.cancel()
	return err
}
