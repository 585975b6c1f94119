// Package artifacts registers and materializes the text artifacts a build
// pass produces. Keys are derived, collision-resistant strings; registering
// the same key twice within one pass is an error.
package artifacts

import (
	"fmt"
)

// Artifact is one named text artifact produced during a pass.
type Artifact struct {
	Key     string
	Content string
}

// Registry receives artifacts as the pipeline produces them.
type Registry interface {
	// Register adds an artifact under its derived key. It fails with
	// ErrDuplicateKey if the key was already registered this pass.
	Register(key, content string) error
}

// Memory is an in-order, in-memory Registry.
type Memory struct {
	keys  map[string]struct{}
	items []Artifact
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{keys: make(map[string]struct{})}
}

// Register implements Registry.
func (m *Memory) Register(key, content string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if _, exists := m.keys[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	m.keys[key] = struct{}{}
	m.items = append(m.items, Artifact{Key: key, Content: content})
	return nil
}

// Artifacts returns everything registered so far, in registration order.
func (m *Memory) Artifacts() []Artifact {
	return m.items
}

// Get returns the artifact registered under key.
func (m *Memory) Get(key string) (Artifact, bool) {
	if _, exists := m.keys[key]; !exists {
		return Artifact{}, false
	}
	for _, a := range m.items {
		if a.Key == key {
			return a, true
		}
	}
	return Artifact{}, false
}

// Len returns the number of registered artifacts.
func (m *Memory) Len() int {
	return len(m.items)
}
