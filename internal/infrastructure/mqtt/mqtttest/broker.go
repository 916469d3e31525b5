// Package mqtttest provides an in-memory MQTT broker for tests.
//
// Broker has the same Publish and Subscribe signatures as *mqtt.Client, so
// it can stand in wherever a package accepts a small client interface.
// Delivery is synchronous on the publishing goroutine and no broker lock is
// held while handlers run, so handlers may publish in turn.
package mqtttest

import (
	"sync"

	"github.com/nerrad567/gray-logic-orchestrator/internal/infrastructure/mqtt"
)

// Message is one accepted publish.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type subscription struct {
	id      int
	filter  string
	handler mqtt.MessageHandler
}

// Broker is a minimal MQTT broker: wildcard filters, retained messages and
// a switch to simulate a lost connection.
type Broker struct {
	mu        sync.Mutex
	nextID    int
	subs      []subscription
	retained  map[string][]byte
	messages  []Message
	connected bool
}

// NewBroker returns a connected, empty broker.
func NewBroker() *Broker {
	return &Broker{retained: make(map[string][]byte), connected: true}
}

// SetConnected toggles the simulated link. While disconnected Publish and
// Subscribe return mqtt.ErrNotConnected.
func (b *Broker) SetConnected(connected bool) {
	b.mu.Lock()
	b.connected = connected
	b.mu.Unlock()
}

// Publish stores retained payloads and delivers to matching subscribers.
// An empty retained payload clears the retained message, as on a real broker.
func (b *Broker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return mqtt.ErrInvalidTopic
	}

	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return mqtt.ErrNotConnected
	}
	data := append([]byte(nil), payload...)
	b.messages = append(b.messages, Message{Topic: topic, Payload: data, QoS: qos, Retained: retained})
	if retained {
		if len(data) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = data
		}
	}
	var handlers []mqtt.MessageHandler
	for _, s := range b.subs {
		if mqtt.TopicMatches(s.filter, topic) {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		_ = h(topic, data) //nolint:errcheck // handler errors are the subscriber's concern
	}
	return nil
}

// Subscribe registers handler and immediately delivers matching retained
// messages to it.
func (b *Broker) Subscribe(filter string, _ byte, handler mqtt.MessageHandler) error {
	if filter == "" {
		return mqtt.ErrInvalidTopic
	}

	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return mqtt.ErrNotConnected
	}
	b.nextID++
	b.subs = append(b.subs, subscription{id: b.nextID, filter: filter, handler: handler})
	type pending struct {
		topic   string
		payload []byte
	}
	var replay []pending
	for topic, payload := range b.retained {
		if mqtt.TopicMatches(filter, topic) {
			replay = append(replay, pending{topic, payload})
		}
	}
	b.mu.Unlock()

	for _, m := range replay {
		_ = handler(m.topic, m.payload) //nolint:errcheck // see Publish
	}
	return nil
}

// Unsubscribe removes every subscription registered with filter.
func (b *Broker) Unsubscribe(filter string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.subs[:0]
	for _, s := range b.subs {
		if s.filter != filter {
			kept = append(kept, s)
		}
	}
	b.subs = kept
	return nil
}

// Retained returns the retained payload for topic.
func (b *Broker) Retained(topic string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.retained[topic]
	return data, ok
}

// Messages returns every accepted publish matching filter, oldest first.
func (b *Broker) Messages(filter string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, m := range b.messages {
		if mqtt.TopicMatches(filter, m.Topic) {
			out = append(out, m)
		}
	}
	return out
}

// Subscriptions returns the number of live subscriptions.
func (b *Broker) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
