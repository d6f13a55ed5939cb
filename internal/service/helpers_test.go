package service

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wayguide/wayguide/internal/camera"
	"github.com/wayguide/wayguide/internal/guidance"
	"github.com/wayguide/wayguide/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

// recorder is a Sink, Observer and StateObserver that keeps everything it receives.
type recorder struct {
	mu       sync.Mutex
	out      []Outbound
	observed []Outbound
	trans    []Transition
	err      error
}

func (r *recorder) Send(o Outbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.out = append(r.out, o)
	return nil
}

func (r *recorder) Observe(o Outbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, o)
}

func (r *recorder) ObserveTransition(tr Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trans = append(r.trans, tr)
}

func (r *recorder) transitions() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.trans...)
}

func (r *recorder) replies() []Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outbound, len(r.out))
	copy(out, r.out)
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.out)
}

func (r *recorder) waitFor(t *testing.T, n int) []Outbound {
	t.Helper()
	require.Eventually(t, func() bool { return r.count() >= n }, 2*time.Second, time.Millisecond)
	return r.replies()
}

var tickReply = guidance.Reply{Action: guidance.ActionObstacle, Message: "tick"}

// tickService emits tickReply every millisecond until terminated. With
// stubborn set it ignores termination until release is closed.
type tickService struct {
	runner

	stubborn bool
	release  chan struct{}
	started  chan struct{}
	onStart  func()
}

func newTickService(kind Kind) *tickService {
	return &tickService{
		runner:  newRunner(kind),
		release: make(chan struct{}),
		started: make(chan struct{}),
	}
}

func (s *tickService) Start(ctx context.Context, dev camera.Source, sink Sink) {
	if s.onStart != nil {
		s.onStart()
	}
	s.launch(ctx, sink, func(ctx context.Context) {
		close(s.started)
		for {
			if s.stubborn {
				<-s.release
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
			s.emit(tickReply)
		}
	})
}

// tickBuilder builds tickServices and remembers them in order.
type tickBuilder struct {
	mu       sync.Mutex
	built    []*tickService
	stubborn bool
	onStart  func(prev []*tickService)
}

func (b *tickBuilder) build(kind Kind) (Service, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	svc := newTickService(kind)
	svc.stubborn = b.stubborn
	if b.onStart != nil {
		prev := append([]*tickService(nil), b.built...)
		svc.onStart = func() { b.onStart(prev) }
	}
	b.built = append(b.built, svc)
	return svc, nil
}

func (b *tickBuilder) get(i int) *tickService {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.built[i]
}

// deviceLog counts opened devices.
type deviceLog struct {
	mu      sync.Mutex
	devices []*camera.ScriptedDevice
	setup   func(*camera.ScriptedDevice)
}

func (d *deviceLog) open(ctx context.Context) (camera.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev := camera.NewScriptedDevice(64, 48)
	if d.setup != nil {
		d.setup(dev)
	}
	d.devices = append(d.devices, dev)
	return dev, nil
}

func (d *deviceLog) opened() []*camera.ScriptedDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*camera.ScriptedDevice(nil), d.devices...)
}

func newTestOrchestrator(t *testing.T, build Builder, devs *deviceLog, rec *recorder, reset bool) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(Options{
		Open:                devs.open,
		Build:               build,
		Observers:           []Observer{rec},
		ResetDeviceOnSwitch: reset,
		JoinTimeout:         time.Second,
	})
	require.NoError(t, err)
	o.SetSink(rec)
	t.Cleanup(func() { o.Close() })
	return o
}

func acks(out []Outbound) []Outbound {
	var a []Outbound
	for _, o := range out {
		if o.Reply.Action == guidance.ActionSwitchMode {
			a = append(a, o)
		}
	}
	return a
}

func ofGeneration(out []Outbound, gen uuid.UUID) []Outbound {
	var a []Outbound
	for _, o := range out {
		if o.Generation == gen {
			a = append(a, o)
		}
	}
	return a
}

func collisionFrame(int) *image.Gray {
	// Every sample inverts to 70, inside the nearest band.
	return camera.UniformDisparity(640, 400, 120)
}
