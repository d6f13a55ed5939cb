package mirror

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wayguide/wayguide/internal/guidance"
	"github.com/wayguide/wayguide/internal/monitoring"
	"github.com/wayguide/wayguide/internal/service"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	goleak.VerifyTestMain(m)
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu     sync.Mutex
	msgs   []published
	err    error
	closed bool
	block  chan struct{}
}

func (f *fakePublisher) Publish(topic string, retained bool, payload []byte) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic, retained, payload})
	return nil
}

func (f *fakePublisher) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

var t0 = time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

func TestMirrorPublishesRepliesAndState(t *testing.T) {
	pub := &fakePublisher{}
	m := New(pub, "wayguide/unit7/")
	gen := uuid.New()

	m.ObserveTransition(service.Transition{From: service.Idle, To: service.RunningObstacle, Generation: gen, At: t0})
	m.Observe(service.Outbound{
		Reply: guidance.Reply{Action: guidance.ActionObstacle, Message: "向右走"},
		Kind:  service.KindObstacle, Generation: gen, At: t0,
	})
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.True(t, pub.closed)

	require.Len(t, pub.msgs, 2)

	assert.Equal(t, "wayguide/unit7/state", pub.msgs[0].topic)
	assert.True(t, pub.msgs[0].retained)
	var st StateMessage
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &st))
	assert.Equal(t, StateMessage{State: "running_obstacle", Previous: "idle", Generation: gen.String(), At: t0}, st)

	assert.Equal(t, "wayguide/unit7/reply", pub.msgs[1].topic)
	assert.False(t, pub.msgs[1].retained)
	var rep ReplyMessage
	require.NoError(t, json.Unmarshal(pub.msgs[1].payload, &rep))
	assert.Equal(t, "向右走", rep.Message)
	assert.Equal(t, "obstacle", rep.Kind)
}

func TestMirrorOmitsNilGeneration(t *testing.T) {
	pub := &fakePublisher{}
	m := New(pub, "wg")
	m.Observe(service.Outbound{Reply: guidance.Reply{Action: guidance.ActionSwitchMode, Message: "stop模式"}})
	require.NoError(t, m.Close())

	require.Len(t, pub.msgs, 1)
	assert.NotContains(t, string(pub.msgs[0].payload), "generation")
}

func TestMirrorCountsFailures(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	m := New(pub, "wg")
	m.Observe(service.Outbound{})
	m.Observe(service.Outbound{})
	require.NoError(t, m.Close())

	dropped, failed := m.Stats()
	assert.Zero(t, dropped)
	assert.Equal(t, uint64(2), failed)
}

func TestMirrorDropsWhenBacklogged(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	m := New(pub, "wg")

	// one message is held by the blocked publisher, queueSize fill the
	// queue, the rest drop
	for range queueSize + 10 {
		m.Observe(service.Outbound{})
	}
	close(pub.block)
	require.NoError(t, m.Close())

	dropped, _ := m.Stats()
	assert.GreaterOrEqual(t, dropped, uint64(9))
	assert.LessOrEqual(t, dropped, uint64(10))
	assert.Equal(t, queueSize+10-int(dropped), len(pub.msgs))
}

func TestMirrorIgnoresAfterClose(t *testing.T) {
	pub := &fakePublisher{}
	m := New(pub, "wg")
	require.NoError(t, m.Close())
	m.Observe(service.Outbound{})
	m.ObserveTransition(service.Transition{})
	assert.Empty(t, pub.msgs)
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", brokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", brokerURL("ssl://broker:8883"))
}

func TestClientOptions(t *testing.T) {
	co := clientOptions(Options{Broker: "10.0.0.2:1883", ClientID: "wg-1", Username: "u", Password: "p"})
	require.Len(t, co.Servers, 1)
	assert.Equal(t, "tcp://10.0.0.2:1883", co.Servers[0].String())
	assert.Equal(t, "wg-1", co.ClientID)
	assert.Equal(t, "u", co.Username)
	assert.True(t, co.AutoReconnect)
	assert.True(t, co.ConnectRetry)
}

func TestDialRequiresBroker(t *testing.T) {
	_, err := Dial(Options{})
	assert.Error(t, err)
}
