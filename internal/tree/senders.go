package tree

import (
	"github.com/nerrad567/gray-logic-orchestrator/internal/port"
	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
)

// peerSender resolves the live connection at send time. With no live link
// it reports zero bytes so the dispatcher buffers.
type peerSender struct {
	name    string
	resolve func() port.Conn
}

func (s peerSender) Name() string { return s.name }

func (s peerSender) Send(ev protocol.Event) (int, error) {
	conn := s.resolve()
	if conn == nil {
		return 0, nil
	}
	return conn.Send(ev)
}

// Child returns a stable sender for the declared child key.
func (m *Manager) Child(key string) port.Sender {
	return peerSender{
		name: childPrefix + key,
		resolve: func() port.Conn {
			if c, ok := m.children[key]; ok {
				return c.conn
			}
			return nil
		},
	}
}

// Parent returns a stable sender for the named parent. Sends wait for the
// handshake to be confirmed.
func (m *Manager) Parent(name string) port.Sender {
	return peerSender{
		name: parentPrefix + name,
		resolve: func() port.Conn {
			if p, ok := m.parents[name]; ok && p.confirmed {
				return p.conn
			}
			return nil
		},
	}
}

// Parents returns senders for every declared parent.
func (m *Manager) Parents() []port.Sender {
	names := m.ParentNames()
	out := make([]port.Sender, 0, len(names))
	for _, n := range names {
		out = append(out, m.Parent(n))
	}
	return out
}
