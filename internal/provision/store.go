// Package provision stores device configuration blobs and gets child
// devices running with them.
//
// A parent that adopts a schedule derives one blob per child, puts it in a
// Store under the child's reference and asks a Launcher on the child's host
// to start the child. Only then does the parent send SCHEDULE, so the child
// always finds its blob when it fetches it.
//
// Three stores are provided: Memory for single-process setups and tests,
// File for a directory of <ref>.yaml files, and MQTT for retained messages
// shared by every node on the broker.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-orchestrator/internal/paramset"
)

// Errors returned by stores and the distributor.
var (
	// ErrNotFound is returned when no blob exists under a reference.
	ErrNotFound = errors.New("provision: configuration not found")

	// ErrInvalidRef is returned for an empty reference or one that could
	// escape its namespace.
	ErrInvalidRef = errors.New("provision: invalid configuration reference")

	// ErrNoRoute is returned when a child's host has no launcher.
	ErrNoRoute = errors.New("provision: no launcher for host")
)

// Store keeps configuration blobs by reference.
//
// Implementations must be safe for concurrent use. Get returns a copy the
// caller may modify.
type Store interface {
	Get(ctx context.Context, ref string) (paramset.Set, error)
	Put(ctx context.Context, ref string, set paramset.Set) error
}

// ValidateRef checks that ref can be used as a file name and a topic level.
func ValidateRef(ref string) error {
	if ref == "" || ref == "." || ref == ".." || strings.ContainsAny(ref, "/\\+#\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return nil
}

// ─── Memory ─────────────────────────────────────────────────────

// Memory is an in-process Store.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]paramset.Set
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string]paramset.Set)}
}

// Get returns the blob stored under ref.
func (m *Memory) Get(_ context.Context, ref string) (paramset.Set, error) {
	if err := ValidateRef(ref); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return set.Clone(), nil
}

// Put stores a copy of set under ref.
func (m *Memory) Put(_ context.Context, ref string, set paramset.Set) error {
	if err := ValidateRef(ref); err != nil {
		return err
	}
	m.mu.Lock()
	m.blobs[ref] = set.Clone()
	m.mu.Unlock()
	return nil
}
