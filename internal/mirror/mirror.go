// Package mirror republishes guidance and state changes to an MQTT broker so
// that a companion dashboard or caregiver app can follow along.
package mirror

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/wayguide/wayguide/internal/monitoring"
	"github.com/wayguide/wayguide/internal/service"
)

const queueSize = 128

// Publisher sends one message. Implementations may block up to their own
// timeout.
type Publisher interface {
	Publish(topic string, retained bool, payload []byte) error
	Close()
}

// Options configures the MQTT connection.
type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	PublishTimeout time.Duration
}

// ReplyMessage is the payload on <prefix>/reply.
type ReplyMessage struct {
	Action     string    `json:"action"`
	Message    string    `json:"message"`
	Kind       string    `json:"kind"`
	Generation string    `json:"generation,omitempty"`
	At         time.Time `json:"at"`
}

// StateMessage is the retained payload on <prefix>/state.
type StateMessage struct {
	State      string    `json:"state"`
	Previous   string    `json:"previous"`
	Generation string    `json:"generation,omitempty"`
	At         time.Time `json:"at"`
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

// Mirror is a service.Observer and service.StateObserver. Messages are
// queued and published from one goroutine; when the broker is slow the
// oldest backlog wins and new messages are dropped.
type Mirror struct {
	pub    Publisher
	prefix string
	logf   func(string, ...interface{})

	queue chan message
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped uint64
	failed  uint64
}

// New starts a mirror publishing through pub under prefix.
func New(pub Publisher, prefix string) *Mirror {
	m := &Mirror{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "/"),
		logf:   monitoring.Component("mirror"),
		queue:  make(chan message, queueSize),
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

// Dial connects to the broker described by opts and returns a running
// mirror.
func Dial(opts Options) (*Mirror, error) {
	pub, err := dialPaho(opts)
	if err != nil {
		return nil, err
	}
	return New(pub, opts.TopicPrefix), nil
}

func (m *Mirror) ReplyTopic() string { return m.prefix + "/reply" }
func (m *Mirror) StateTopic() string { return m.prefix + "/state" }

func genString(g uuid.UUID) string {
	if g == uuid.Nil {
		return ""
	}
	return g.String()
}

// Observe mirrors a sent reply.
func (m *Mirror) Observe(out service.Outbound) {
	msg := ReplyMessage{
		Action:     out.Reply.Action,
		Message:    out.Reply.Message,
		Kind:       out.Kind.String(),
		Generation: genString(out.Generation),
		At:         out.At,
	}
	m.enqueue(m.ReplyTopic(), false, msg)
}

// ObserveTransition mirrors a state change as a retained message.
func (m *Mirror) ObserveTransition(tr service.Transition) {
	msg := StateMessage{
		State:      tr.To.String(),
		Previous:   tr.From.String(),
		Generation: genString(tr.Generation),
		At:         tr.At,
	}
	m.enqueue(m.StateTopic(), true, msg)
}

func (m *Mirror) enqueue(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		m.logf("marshal %s: %v", topic, err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- message{topic: topic, retained: retained, payload: payload}:
	default:
		m.dropped++
		if m.dropped == 1 || m.dropped%100 == 0 {
			m.logf("queue full, %d messages dropped", m.dropped)
		}
	}
}

func (m *Mirror) run() {
	defer close(m.done)
	for msg := range m.queue {
		if err := m.pub.Publish(msg.topic, msg.retained, msg.payload); err != nil {
			m.mu.Lock()
			m.failed++
			m.mu.Unlock()
			m.logf("publish %s: %v", msg.topic, err)
		}
	}
}

// Stats returns the number of dropped and failed messages.
func (m *Mirror) Stats() (dropped, failed uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped, m.failed
}

// Close publishes what is queued, then disconnects.
func (m *Mirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	<-m.done
	m.pub.Close()
	return nil
}

// pahoPublisher publishes at QoS 0 through a paho client.
type pahoPublisher struct {
	client  mqtt.Client
	timeout time.Duration
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

func clientOptions(opts Options) *mqtt.ClientOptions {
	logf := monitoring.Component("mirror")
	co := mqtt.NewClientOptions()
	co.AddBroker(brokerURL(opts.Broker))
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(2 * time.Second)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.SetOrderMatters(false)
	co.OnConnect = func(mqtt.Client) {
		logf("connected to %s", opts.Broker)
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		logf("connection to %s lost, reconnecting: %v", opts.Broker, err)
	}
	return co
}

func dialPaho(opts Options) (*pahoPublisher, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("mirror: no broker configured")
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	client := mqtt.NewClient(clientOptions(opts))
	token := client.Connect()
	if !token.WaitTimeout(opts.PublishTimeout) {
		// SetConnectRetry keeps trying in the background; publishes queue
		// inside paho until the broker appears.
		monitoring.Logf("[mirror] broker %s not reachable yet, continuing", opts.Broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mirror: connect %s: %w", opts.Broker, err)
	}
	return &pahoPublisher{client: client, timeout: opts.PublishTimeout}, nil
}

func (p *pahoPublisher) Publish(topic string, retained bool, payload []byte) error {
	token := p.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish timeout after %s", p.timeout)
	}
	return token.Error()
}

func (p *pahoPublisher) Close() {
	p.client.Disconnect(250)
}
