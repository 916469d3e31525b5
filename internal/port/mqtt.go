package port

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/nerrad567/gray-logic-orchestrator/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
)

// defaultDialTimeout bounds how long a dial waits for the remote accept.
const defaultDialTimeout = 10 * time.Second

// Envelope operations exchanged on port inbox topics.
const (
	opOpen   = "open"
	opAccept = "accept"
	opReject = "reject"
	opClose  = "close"
	opData   = "data"
)

// MQTTClient is the subset of the broker client used by the transport.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Logger is the logging interface used by the MQTT transport.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// envelope wraps connection management and data on an inbox topic.
type envelope struct {
	Op      string          `json:"op"`
	Conn    string          `json:"conn"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MQTTOptions configures an MQTTTransport.
type MQTTOptions struct {
	// QoS for every envelope. Defaults to 1.
	QoS byte

	// DialTimeout bounds the wait for an accept. Defaults to 10s.
	DialTimeout time.Duration

	// Clock drives dial timeouts. Defaults to the real clock.
	Clock clock.WithDelayedExecution

	Logger Logger
}

// MQTTTransport carries port connections over an MQTT broker.
//
// Every node subscribes to its own inbox topic (orchestrator/port/{node}).
// A dial publishes an "open" envelope to the listener's inbox and waits for
// "accept"; data and close envelopes then flow between the two inboxes,
// tagged with the connection id.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Handlers are never invoked while the transport lock is held.
type MQTTTransport struct {
	client      MQTTClient
	qos         byte
	dialTimeout time.Duration
	clock       clock.WithDelayedExecution
	logger      Logger

	mu        sync.Mutex
	endpoints map[string]*endpoint
	conns     map[string]*mqttConn
}

type endpoint struct {
	name     string
	listener Handler
}

// NewMQTTTransport creates a broker-backed transport.
func NewMQTTTransport(client MQTTClient, opts MQTTOptions) *MQTTTransport {
	if opts.QoS == 0 {
		opts.QoS = 1
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &MQTTTransport{
		client:      client,
		qos:         opts.QoS,
		dialTimeout: opts.DialTimeout,
		clock:       opts.Clock,
		logger:      opts.Logger,
		endpoints:   make(map[string]*endpoint),
		conns:       make(map[string]*mqttConn),
	}
}

func connKey(local, id string) string {
	return local + "/" + id
}

// ensureEndpoint subscribes to name's inbox on first use.
func (t *MQTTTransport) ensureEndpoint(name string) (*endpoint, error) {
	t.mu.Lock()
	ep, ok := t.endpoints[name]
	t.mu.Unlock()
	if ok {
		return ep, nil
	}

	topic := mqtt.Topics{}.PortInbox(name)
	if err := t.client.Subscribe(topic, t.qos, func(_ string, payload []byte) error {
		return t.receive(name, payload)
	}); err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.endpoints[name]; ok {
		return existing, nil
	}
	ep = &endpoint{name: name}
	t.endpoints[name] = ep
	return ep, nil
}

// Listen implements Transport.
func (t *MQTTTransport) Listen(name string, h Handler) (Listener, error) {
	ep, err := t.ensureEndpoint(name)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if ep.listener != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAddressInUse, name)
	}
	ep.listener = h
	t.mu.Unlock()

	h(Event{Kind: Opened, Peer: name})
	return &mqttListener{t: t, name: name, h: h}, nil
}

// Dial implements Transport.
func (t *MQTTTransport) Dial(from, to string, h Handler) {
	if _, err := t.ensureEndpoint(from); err != nil {
		h(Event{Kind: Disconnected, Peer: to, Err: err})
		return
	}

	c := &mqttConn{t: t, id: uuid.NewString(), local: from, peer: to, h: h, pending: true}
	t.mu.Lock()
	t.conns[connKey(from, c.id)] = c
	t.mu.Unlock()

	if err := t.publish(to, envelope{Op: opOpen, Conn: c.id, From: from, To: to}); err != nil {
		t.drop(c)
		h(Event{Kind: Disconnected, Peer: to, Err: err})
		return
	}

	timeout := t.clock.AfterFunc(t.dialTimeout, func() {
		if t.failPending(c) {
			h(Event{Kind: Disconnected, Peer: to, Err: fmt.Errorf("%w: %s", ErrDialTimeout, to)})
		}
	})
	t.mu.Lock()
	c.timeout = timeout
	t.mu.Unlock()
}

// failPending removes c if it is still waiting for an accept.
func (t *MQTTTransport) failPending(c *mqttConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !c.pending || c.closed {
		return false
	}
	c.closed = true
	delete(t.conns, connKey(c.local, c.id))
	return true
}

func (t *MQTTTransport) drop(c *mqttConn) {
	t.mu.Lock()
	c.closed = true
	delete(t.conns, connKey(c.local, c.id))
	t.mu.Unlock()
}

func (t *MQTTTransport) publish(to string, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	return t.client.Publish(mqtt.Topics{}.PortInbox(to), data, t.qos, false)
}

// receive handles one envelope arriving on name's inbox.
func (t *MQTTTransport) receive(name string, payload []byte) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.logger.Warn("dropping malformed port envelope", "node", name, "error", err)
		return nil
	}
	if env.To != name {
		return nil
	}

	switch env.Op {
	case opOpen:
		t.accept(name, env)
	case opAccept:
		t.mu.Lock()
		c, ok := t.conns[connKey(name, env.Conn)]
		var timeout clock.Timer
		if ok && c.pending && !c.closed {
			c.pending = false
			timeout = c.timeout
		} else {
			ok = false
		}
		t.mu.Unlock()
		if !ok {
			return nil
		}
		if timeout != nil {
			timeout.Stop()
		}
		c.h(Event{Kind: Connected, Conn: c, Peer: c.peer})
	case opReject:
		t.mu.Lock()
		c, ok := t.conns[connKey(name, env.Conn)]
		t.mu.Unlock()
		if ok && t.failPending(c) {
			c.h(Event{Kind: Disconnected, Peer: c.peer, Err: fmt.Errorf("%w: %s", ErrRejected, c.peer)})
		}
	case opClose:
		t.mu.Lock()
		c, ok := t.conns[connKey(name, env.Conn)]
		if ok {
			c.closed = true
			delete(t.conns, connKey(name, env.Conn))
		}
		t.mu.Unlock()
		if ok {
			c.h(Event{Kind: Disconnected, Conn: c, Peer: c.peer})
		}
	case opData:
		t.mu.Lock()
		c, ok := t.conns[connKey(name, env.Conn)]
		live := ok && !c.closed && !c.pending
		t.mu.Unlock()
		if !live {
			return nil
		}
		msg, err := protocol.Decode(env.Payload)
		if err != nil {
			t.logger.Warn("dropping malformed peer event", "node", name, "peer", env.From, "error", err)
			return nil
		}
		c.h(Event{Kind: Data, Conn: c, Peer: c.peer, Message: msg})
	default:
		t.logger.Debug("ignoring unknown port envelope", "node", name, "op", env.Op)
	}
	return nil
}

// accept answers an open request on a listening endpoint.
func (t *MQTTTransport) accept(name string, env envelope) {
	t.mu.Lock()
	ep, ok := t.endpoints[name]
	var listener Handler
	if ok {
		listener = ep.listener
	}
	t.mu.Unlock()

	reply := envelope{Conn: env.Conn, From: name, To: env.From}
	if listener == nil {
		reply.Op = opReject
		if err := t.publish(env.From, reply); err != nil {
			t.logger.Warn("failed to reject port connection", "node", name, "peer", env.From, "error", err)
		}
		return
	}

	c := &mqttConn{t: t, id: env.Conn, local: name, peer: env.From, h: listener}
	t.mu.Lock()
	t.conns[connKey(name, c.id)] = c
	t.mu.Unlock()

	reply.Op = opAccept
	if err := t.publish(env.From, reply); err != nil {
		t.drop(c)
		t.logger.Warn("failed to accept port connection", "node", name, "peer", env.From, "error", err)
		return
	}
	listener(Event{Kind: Accepted, Conn: c, Peer: c.peer})
}

type mqttListener struct {
	t    *MQTTTransport
	name string
	h    Handler
}

func (l *mqttListener) Name() string { return l.name }

func (l *mqttListener) Close() error {
	l.t.mu.Lock()
	ep, ok := l.t.endpoints[l.name]
	if ok {
		ep.listener = nil
	}
	l.t.mu.Unlock()
	if ok {
		l.h(Event{Kind: Closed, Peer: l.name})
	}
	return nil
}

type mqttConn struct {
	t       *MQTTTransport
	id      string
	local   string
	peer    string
	h       Handler
	pending bool
	closed  bool
	timeout clock.Timer
}

func (c *mqttConn) ID() string   { return c.id }
func (c *mqttConn) Name() string { return c.peer }

// Send publishes ev to the peer's inbox. A disconnected broker client is
// reported as zero bytes so the caller buffers.
func (c *mqttConn) Send(ev protocol.Event) (int, error) {
	c.t.mu.Lock()
	usable := !c.closed && !c.pending
	c.t.mu.Unlock()
	if !usable {
		return 0, nil
	}

	payload, err := protocol.Encode(ev)
	if err != nil {
		return 0, err
	}
	err = c.t.publish(c.peer, envelope{Op: opData, Conn: c.id, From: c.local, To: c.peer, Payload: payload})
	switch {
	case err == nil:
		return len(payload), nil
	case errors.Is(err, mqtt.ErrNotConnected), errors.Is(err, mqtt.ErrPublishFailed):
		return 0, nil
	default:
		return 0, err
	}
}

// Close tells the peer and forgets the connection.
func (c *mqttConn) Close() error {
	c.t.mu.Lock()
	if c.closed {
		c.t.mu.Unlock()
		return nil
	}
	c.closed = true
	delete(c.t.conns, connKey(c.local, c.id))
	timeout := c.timeout
	c.t.mu.Unlock()

	if timeout != nil {
		timeout.Stop()
	}
	if err := c.t.publish(c.peer, envelope{Op: opClose, Conn: c.id, From: c.local, To: c.peer}); err != nil {
		return fmt.Errorf("closing connection to %s: %w", c.peer, err)
	}
	return nil
}
