package port

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
)

// Hub is an in-process Transport for devices co-located in one process.
//
// Messages still pass through the protocol codec, so a Hub deployment
// exercises exactly the payloads a broker deployment would carry.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Handlers are never invoked while the hub lock is held.
type Hub struct {
	mu          sync.Mutex
	listeners   map[string]*hubListener
	conns       map[string]*hubConn
	partitioned map[string]bool
}

// NewHub creates an empty in-process transport.
func NewHub() *Hub {
	return &Hub{
		listeners:   make(map[string]*hubListener),
		conns:       make(map[string]*hubConn),
		partitioned: make(map[string]bool),
	}
}

type hubListener struct {
	hub  *Hub
	name string
	h    Handler
}

func (l *hubListener) Name() string { return l.name }

func (l *hubListener) Close() error {
	l.hub.mu.Lock()
	if l.hub.listeners[l.name] != l {
		l.hub.mu.Unlock()
		return nil
	}
	delete(l.hub.listeners, l.name)
	l.hub.mu.Unlock()

	l.h(Event{Kind: Closed, Peer: l.name})
	return nil
}

type hubConn struct {
	hub    *Hub
	id     string
	local  string
	peer   string
	h      Handler
	remote *hubConn
	closed bool
}

func (c *hubConn) ID() string   { return c.id }
func (c *hubConn) Name() string { return c.peer }

// Send encodes ev and delivers the decoded copy to the remote handler.
func (c *hubConn) Send(ev protocol.Event) (int, error) {
	data, err := protocol.Encode(ev)
	if err != nil {
		return 0, err
	}

	c.hub.mu.Lock()
	reachable := !c.closed && !c.hub.partitioned[c.local] && !c.hub.partitioned[c.peer]
	remote := c.remote
	c.hub.mu.Unlock()

	if !reachable {
		return 0, nil
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		return 0, fmt.Errorf("hub delivery to %s: %w", c.peer, err)
	}
	remote.h(Event{Kind: Data, Conn: remote, Peer: c.local, Message: msg})
	return len(data), nil
}

// Close disconnects both ends. Only the remote end is notified.
func (c *hubConn) Close() error {
	c.hub.mu.Lock()
	if c.closed {
		c.hub.mu.Unlock()
		return nil
	}
	c.closed = true
	c.remote.closed = true
	delete(c.hub.conns, c.id)
	delete(c.hub.conns, c.remote.id)
	remote := c.remote
	c.hub.mu.Unlock()

	remote.h(Event{Kind: Disconnected, Conn: remote, Peer: c.local})
	return nil
}

// Listen implements Transport.
func (h *Hub) Listen(name string, handler Handler) (Listener, error) {
	h.mu.Lock()
	if _, exists := h.listeners[name]; exists {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAddressInUse, name)
	}
	l := &hubListener{hub: h, name: name, h: handler}
	h.listeners[name] = l
	h.mu.Unlock()

	handler(Event{Kind: Opened, Peer: name})
	return l, nil
}

// Dial implements Transport.
func (h *Hub) Dial(from, to string, handler Handler) {
	h.mu.Lock()
	l, ok := h.listeners[to]
	if !ok {
		h.mu.Unlock()
		handler(Event{Kind: Disconnected, Peer: to, Err: fmt.Errorf("%w: %s", ErrNoListener, to)})
		return
	}

	client := &hubConn{hub: h, id: uuid.NewString(), local: from, peer: to, h: handler}
	server := &hubConn{hub: h, id: uuid.NewString(), local: to, peer: from, h: l.h}
	client.remote, server.remote = server, client
	h.conns[client.id] = client
	h.conns[server.id] = server
	h.mu.Unlock()

	l.h(Event{Kind: Accepted, Conn: server, Peer: from})
	handler(Event{Kind: Connected, Conn: client, Peer: to})
}

// Partition makes every send to or from name report zero bytes until the
// partition is lifted. Connections stay up.
func (h *Hub) Partition(name string, partitioned bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if partitioned {
		h.partitioned[name] = true
	} else {
		delete(h.partitioned, name)
	}
}

// Sever closes every connection between a and b and notifies both ends.
func (h *Hub) Sever(a, b string) {
	h.mu.Lock()
	var victims []*hubConn
	for id, c := range h.conns {
		if c.closed || !((c.local == a && c.peer == b) || (c.local == b && c.peer == a)) {
			continue
		}
		c.closed = true
		delete(h.conns, id)
		victims = append(victims, c)
	}
	h.mu.Unlock()

	for _, c := range victims {
		c.h(Event{Kind: Disconnected, Conn: c, Peer: c.peer})
	}
}

// Connections returns the number of live connection ends.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
