// ABOUTME: In-memory registry of executable entities (agents and workflows)
// ABOUTME: Supports register, lookup, listing, and removal of remote-sourced entities

package entity

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Sources an entity can be registered from.
const (
	SourceDirectory = "directory"
	SourceInMemory  = "in-memory"
	SourceRemote    = "remote"
)

// Registry errors.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrNotRemovable  = errors.New("entity cannot be removed")
	ErrAlreadyExists = errors.New("entity already registered")
)

// Info describes a registered entity.
type Info struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"` // "agent" | "workflow"
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Framework   string         `json:"framework,omitempty"`
	Source      string         `json:"source,omitempty"`
	URL         string         `json:"url,omitempty"`
	Tools       []string       `json:"tools,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type entry struct {
	info   *Info
	object any
}

// Registry is a concurrency-safe entity catalog. The attached object is
// opaque here; the executor decides whether it is runnable.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds an entity. The ID must be unique and non-empty.
func (r *Registry) Register(info *Info, object any) error {
	if info == nil || info.ID == "" {
		return fmt.Errorf("entity info must carry an id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[info.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, info.ID)
	}
	r.entries[info.ID] = &entry{info: info, object: object}
	return nil
}

// Get returns the entity info for id.
func (r *Registry) Get(id string) (*Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.info, true
}

// Object returns the attached object for id.
func (r *Registry) Object(id string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.object, true
}

// List returns all registered entities ordered by ID.
func (r *Registry) List() []*Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered entities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Remove deletes an entity. Only remote-sourced entities are removable;
// directory and in-memory entities are part of the server's configuration.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.info.Source != SourceRemote {
		return ErrNotRemovable
	}
	delete(r.entries, id)
	return nil
}
