// Package tree maintains a device's connections to its parents and children.
//
// A device listens on its own name. Children dial in and must identify
// themselves with CONNECT before they count as connected; parents are
// dialled by name and redialled after a fixed backoff whenever the link
// drops. Every peer is exposed as a stable port.Sender that survives
// reconnects, so a dispatcher can keep buffering against it while the link
// is down.
//
// The manager is driven entirely from its owner's event loop: Handle must be
// called with each port event in arrival order, and reconnect timers must
// fire on the same loop.
package tree

import (
	"errors"
	"sort"
	"time"

	"github.com/nerrad567/gray-logic-orchestrator/internal/port"
	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
	"github.com/nerrad567/gray-logic-orchestrator/internal/quality"
	"github.com/nerrad567/gray-logic-orchestrator/internal/timer"
)

// DefaultBackoff is the delay before a lost parent link is redialled.
const DefaultBackoff = 3 * time.Second

// Sender name prefixes. Dispatcher ordering is per sender name.
const (
	childPrefix  = "child:"
	parentPrefix = "parent:"
)

// ErrAlreadyOpen is returned by Open when the listener is already open.
var ErrAlreadyOpen = errors.New("tree: listener already open")

// Timers arms and cancels the reconnect timers.
type Timers interface {
	After(d time.Duration, fn func()) timer.ID
	Cancel(id timer.ID) bool
}

// Logger is the logging interface used by the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Config configures a Manager.
type Config struct {
	// Name is the device name; the manager listens on it.
	Name string

	// Backoff between parent redials. Defaults to DefaultBackoff.
	Backoff time.Duration
}

type child struct {
	key     string
	typ     string
	state   protocol.State
	conn    port.Conn
	pending bool
}

type parent struct {
	name      string
	conn      port.Conn
	confirmed bool
	attempts  int
	retryID   timer.ID
	dialing   bool
}

// Manager tracks the device tree around one device.
//
// Thread Safety:
//   - Not safe for concurrent use. All methods run on the owner's loop.
type Manager struct {
	name      string
	backoff   time.Duration
	transport port.Transport
	timers    Timers
	handler   port.Handler
	logger    Logger

	listener  port.Listener
	listening bool
	closed    bool

	children    map[string]*child
	parents     map[string]*parent
	handshaking map[string]port.Conn
}

// New creates a manager.
//
// Parameters:
//   - cfg: Device name and reconnect backoff
//   - transport: Transport used to listen and dial
//   - timers: Timer service whose callbacks run on the owner's loop
//   - handler: The owner's port handler; it must post events to the loop
//
// Returns:
//   - *Manager: Manager with no children or parents declared
func New(cfg Config, transport port.Transport, timers Timers, handler port.Handler) *Manager {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	return &Manager{
		name:        cfg.Name,
		backoff:     cfg.Backoff,
		transport:   transport,
		timers:      timers,
		handler:     handler,
		logger:      noopLogger{},
		children:    make(map[string]*child),
		parents:     make(map[string]*parent),
		handshaking: make(map[string]port.Conn),
	}
}

// SetLogger sets the logger. A nil logger silences output.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
}

// Open starts listening for children on the device name.
func (m *Manager) Open() error {
	if m.listener != nil {
		return ErrAlreadyOpen
	}
	l, err := m.transport.Listen(m.name, m.handler)
	if err != nil {
		return err
	}
	m.listener = l
	return nil
}

// Declare registers children (key to device type) and parents.
//
// Declarations accumulate: a key already known keeps its connection and
// last-known state and only has its type updated. New parents are dialled
// straight away.
func (m *Manager) Declare(children map[string]string, parents []string) {
	for key, typ := range children {
		if c, ok := m.children[key]; ok {
			c.typ = typ
			continue
		}
		m.children[key] = &child{key: key, typ: typ, state: protocol.StateIdle}
		m.logger.Debug("child declared", "child", key, "type", typ)
	}
	for _, name := range parents {
		if name == "" || name == m.name {
			continue
		}
		if _, ok := m.parents[name]; ok {
			continue
		}
		p := &parent{name: name}
		m.parents[name] = p
		m.dial(p)
	}
}

func (m *Manager) dial(p *parent) {
	if m.closed {
		return
	}
	p.retryID = 0
	p.dialing = true
	p.attempts++
	m.logger.Debug("dialling parent", "parent", p.name, "attempt", p.attempts)
	m.transport.Dial(m.name, p.name, m.handler)
}

// Handle consumes connection management events. Child reports and parent
// requests are left for the next handler in the chain.
func (m *Manager) Handle(ev port.Event) port.Outcome {
	switch ev.Kind {
	case port.Opened:
		if ev.Peer != m.name {
			return port.NotHandled
		}
		m.listening = true
		m.logger.Debug("listening", "name", m.name)
		return port.Handled

	case port.Closed:
		if ev.Peer != m.name {
			return port.NotHandled
		}
		m.listening = false
		return port.Handled

	case port.Accepted:
		m.handshaking[ev.Conn.ID()] = ev.Conn
		return port.Handled

	case port.Connected:
		return m.parentConnected(ev)

	case port.Disconnected:
		return m.disconnected(ev)

	case port.Data:
		if _, ok := m.handshaking[ev.Conn.ID()]; ok {
			m.handshake(ev.Conn, ev.Message)
			return port.Handled
		}
		if p := m.parentByConn(ev.Conn); p != nil && ev.Message.Kind == protocol.KindConnected {
			m.confirm(p, ev.Message.Result)
			return port.Handled
		}
		return port.NotHandled
	}
	return port.NotHandled
}

// handshake expects CONNECT as the first message on an accepted connection.
func (m *Manager) handshake(conn port.Conn, msg protocol.Event) {
	if msg.Kind != protocol.KindConnect {
		m.logger.Warn("dropping message before handshake", "peer", conn.Name(), "kind", msg.Kind)
		return
	}
	delete(m.handshaking, conn.ID())

	c, ok := m.children[msg.NodeID]
	if !ok {
		m.logger.Warn("rejecting undeclared child", "child", msg.NodeID, "peer", conn.Name())
		m.reply(conn, protocol.UnknownChild)
		_ = conn.Close() //nolint:errcheck // the peer is being turned away
		return
	}

	if c.conn != nil && c.conn.ID() != conn.ID() {
		_ = c.conn.Close() //nolint:errcheck // replaced by the new connection
	}
	c.conn = conn
	m.reply(conn, protocol.NoError)
	m.logger.Info("child connected", "child", c.key)
}

func (m *Manager) reply(conn port.Conn, result protocol.Result) {
	if _, err := conn.Send(protocol.Report(protocol.KindConnected, result)); err != nil {
		m.logger.Warn("failed to answer handshake", "peer", conn.Name(), "error", err)
	}
}

func (m *Manager) parentConnected(ev port.Event) port.Outcome {
	p, ok := m.parents[ev.Peer]
	if !ok {
		_ = ev.Conn.Close() //nolint:errcheck // nobody asked for this link
		return port.Handled
	}
	p.dialing = false
	p.conn = ev.Conn
	p.confirmed = false
	if _, err := ev.Conn.Send(protocol.Connect(m.name)); err != nil {
		m.logger.Warn("failed to send handshake", "parent", p.name, "error", err)
	}
	return port.Handled
}

func (m *Manager) confirm(p *parent, result protocol.Result) {
	if result != protocol.NoError {
		m.logger.Warn("parent refused handshake", "parent", p.name, "result", result)
		conn := p.conn
		p.conn = nil
		_ = conn.Close() //nolint:errcheck // redialled after backoff
		m.scheduleRedial(p)
		return
	}
	p.confirmed = true
	p.attempts = 0
	m.logger.Info("parent connected", "parent", p.name)
}

func (m *Manager) disconnected(ev port.Event) port.Outcome {
	if ev.Conn != nil {
		if _, ok := m.handshaking[ev.Conn.ID()]; ok {
			delete(m.handshaking, ev.Conn.ID())
			return port.Handled
		}
		if c := m.childByConn(ev.Conn); c != nil {
			c.conn = nil
			m.logger.Info("child disconnected", "child", c.key)
			return port.Handled
		}
		if p := m.parentByConn(ev.Conn); p != nil {
			p.conn = nil
			p.confirmed = false
			m.logger.Warn("parent link lost", "parent", p.name)
			m.scheduleRedial(p)
			return port.Handled
		}
		return port.Handled
	}

	// A failed dial carries no connection.
	p, ok := m.parents[ev.Peer]
	if !ok || !p.dialing {
		return port.Handled
	}
	p.dialing = false
	m.logger.Warn("parent dial failed", "parent", p.name, "attempt", p.attempts, "error", ev.Err)
	m.scheduleRedial(p)
	return port.Handled
}

func (m *Manager) scheduleRedial(p *parent) {
	if m.closed || p.retryID != 0 {
		return
	}
	p.retryID = m.timers.After(m.backoff, func() { m.dial(p) })
}

func (m *Manager) childByConn(conn port.Conn) *child {
	for _, c := range m.children {
		if c.conn != nil && c.conn.ID() == conn.ID() {
			return c
		}
	}
	return nil
}

func (m *Manager) parentByConn(conn port.Conn) *parent {
	for _, p := range m.parents {
		if p.conn != nil && p.conn.ID() == conn.ID() {
			return p
		}
	}
	return nil
}

// ChildFor returns the key of the child on conn.
func (m *Manager) ChildFor(conn port.Conn) (string, bool) {
	if conn == nil {
		return "", false
	}
	if c := m.childByConn(conn); c != nil {
		return c.key, true
	}
	return "", false
}

// ParentFor returns the name of the parent on conn.
func (m *Manager) ParentFor(conn port.Conn) (string, bool) {
	if conn == nil {
		return "", false
	}
	if p := m.parentByConn(conn); p != nil {
		return p.name, true
	}
	return "", false
}

// Ready reports whether the listener is open and every declared parent has
// confirmed the handshake.
func (m *Manager) Ready() bool {
	if !m.listening {
		return false
	}
	for _, p := range m.parents {
		if !p.confirmed {
			return false
		}
	}
	return true
}

// Members returns the children sorted by key.
func (m *Manager) Members() []quality.Member {
	out := make([]quality.Member, 0, len(m.children))
	for _, key := range m.ChildKeys() {
		c := m.children[key]
		out = append(out, quality.Member{
			Key:       c.key,
			Type:      c.typ,
			State:     c.state,
			Connected: c.conn != nil,
			Pending:   c.pending,
		})
	}
	return out
}

// ChildKeys returns the declared child keys in sorted order.
func (m *Manager) ChildKeys() []string {
	keys := make([]string, 0, len(m.children))
	for k := range m.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParentNames returns the declared parents in sorted order.
func (m *Manager) ParentNames() []string {
	names := make([]string, 0, len(m.parents))
	for n := range m.parents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SetChildState records the last state reported by key and clears its
// pending flag.
func (m *Manager) SetChildState(key string, state protocol.State) bool {
	c, ok := m.children[key]
	if !ok {
		return false
	}
	c.state = state
	c.pending = false
	return true
}

// ClearChildPending records that key answered without changing its state.
func (m *Manager) ClearChildPending(key string) bool {
	c, ok := m.children[key]
	if !ok {
		return false
	}
	c.pending = false
	return true
}

// MarkPending flags every child as owing a report for a new command.
func (m *Manager) MarkPending() {
	for _, c := range m.children {
		c.pending = true
	}
}

// ClearPending drops every pending flag.
func (m *Manager) ClearPending() {
	for _, c := range m.children {
		c.pending = false
	}
}

// Attempts returns how many dials have been made to parent since it last
// confirmed a handshake.
func (m *Manager) Attempts(parent string) int {
	if p, ok := m.parents[parent]; ok {
		return p.attempts
	}
	return 0
}

// Close cancels redials and tears down every link.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	for _, p := range m.parents {
		m.timers.Cancel(p.retryID)
		p.retryID = 0
		if p.conn != nil {
			_ = p.conn.Close() //nolint:errcheck // shutting down
			p.conn = nil
		}
		p.confirmed = false
	}
	for _, c := range m.children {
		if c.conn != nil {
			_ = c.conn.Close() //nolint:errcheck // shutting down
			c.conn = nil
		}
	}
	for id, conn := range m.handshaking {
		_ = conn.Close() //nolint:errcheck // shutting down
		delete(m.handshaking, id)
	}
	if m.listener != nil {
		_ = m.listener.Close() //nolint:errcheck // shutting down
		m.listener = nil
	}
}
