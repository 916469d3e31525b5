package provision

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-orchestrator/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-orchestrator/internal/paramset"
)

// MQTTClient is the subset of the broker client used by the MQTT store and
// the launch helpers.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// MQTT keeps blobs as retained messages on orchestrator/config/<ref>.
//
// Start subscribes to every config topic and mirrors the retained messages
// into a local cache. Get answers from the cache, waiting for the blob to
// arrive until ctx is done.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type MQTT struct {
	client MQTTClient
	qos    byte
	topics mqtt.Topics

	mu      sync.Mutex
	blobs   map[string]paramset.Set
	changed chan struct{}
	started bool
}

// NewMQTT creates a store publishing with the given QoS.
func NewMQTT(client MQTTClient, qos byte) *MQTT {
	return &MQTT{
		client:  client,
		qos:     qos,
		blobs:   make(map[string]paramset.Set),
		changed: make(chan struct{}),
	}
}

// Start subscribes to the config topics. It is a no-op after the first
// successful call.
func (s *MQTT) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.client.Subscribe(s.topics.Config("#"), s.qos, s.receive); err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return fmt.Errorf("subscribing to config topics: %w", err)
	}
	return nil
}

func (s *MQTT) receive(topic string, payload []byte) error {
	ref := strings.TrimPrefix(topic, s.topics.Config(""))
	if ref == topic || ValidateRef(ref) != nil {
		return nil
	}

	var set paramset.Set
	if len(payload) > 0 {
		parsed, err := paramset.Parse(payload)
		if err != nil {
			return fmt.Errorf("parsing config %s: %w", ref, err)
		}
		set = parsed
	}
	s.store(ref, set)
	return nil
}

// store records set for ref (nil removes it) and wakes waiting readers.
func (s *MQTT) store(ref string, set paramset.Set) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set == nil {
		delete(s.blobs, ref)
	} else {
		s.blobs[ref] = set
	}
	close(s.changed)
	s.changed = make(chan struct{})
}

// Get returns the blob for ref, waiting for the retained message if it has
// not been seen yet.
//
// Returns:
//   - paramset.Set: A copy of the blob
//   - error: ErrInvalidRef, or ctx.Err() wrapped when nothing arrived in time
func (s *MQTT) Get(ctx context.Context, ref string) (paramset.Set, error) {
	if err := ValidateRef(ref); err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		return nil, err
	}

	for {
		s.mu.Lock()
		set, ok := s.blobs[ref]
		wait := s.changed
		s.mu.Unlock()
		if ok {
			return set.Clone(), nil
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for config %s: %w", ref, ctx.Err())
		}
	}
}

// Put publishes set as the retained blob for ref. The local cache is
// updated straight away so a Get that follows sees it.
func (s *MQTT) Put(_ context.Context, ref string, set paramset.Set) error {
	if err := ValidateRef(ref); err != nil {
		return err
	}
	data, err := set.Marshal()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", ref, err)
	}
	if err := s.client.Publish(s.topics.Config(ref), data, s.qos, true); err != nil {
		return fmt.Errorf("publishing config %s: %w", ref, err)
	}
	s.store(ref, set.Clone())
	return nil
}
