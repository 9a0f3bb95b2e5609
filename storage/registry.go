package storage

import (
	"fmt"
	"sort"
	"sync"
)

// BackendType represents the kind of ledger backend
type BackendType string

const (
	// BadgerBackendType is the badger MVCC backend
	BadgerBackendType BackendType = "badger"
	// SQLiteBackendType is the gorm/sqlite backend
	SQLiteBackendType BackendType = "sqlite"
)

// Constructor creates a backend from free-form parameters such as
// "path" or "in_memory"
type Constructor func(params map[string]any) (Backend, error)

// Registry defines the interface for managing Backend implementations
type Registry interface {
	// Register adds a new Backend implementation to the registry
	Register(bt BackendType, constructor Constructor) error
	// Open returns a new instance of the specified backend type
	Open(bt BackendType, params map[string]any) (Backend, error)
	// ListRegistered returns all registered backend types, sorted
	ListRegistered() []BackendType
}

// registry implements the Registry interface
type registry struct {
	mu       sync.RWMutex
	backends map[BackendType]Constructor
}

var (
	// defaultRegistry is the global registry populated by backend packages
	defaultRegistry = NewRegistry()
)

// NewRegistry returns an empty registry
func NewRegistry() Registry {
	return &registry{
		backends: make(map[BackendType]Constructor),
	}
}

// GetRegistry returns the global Registry instance
func GetRegistry() Registry {
	return defaultRegistry
}

// Register adds a new Backend implementation to the registry
func (r *registry) Register(bt BackendType, constructor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[bt]; exists {
		return fmt.Errorf("backend type %s already registered", bt)
	}

	r.backends[bt] = constructor
	return nil
}

// Open returns a new instance of the specified backend type
func (r *registry) Open(bt BackendType, params map[string]any) (Backend, error) {
	r.mu.RLock()
	constructor, exists := r.backends[bt]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("backend type %s not found", bt)
	}

	return constructor(params)
}

// ListRegistered returns a list of all registered backend types
func (r *registry) ListRegistered() []BackendType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]BackendType, 0, len(r.backends))
	for bt := range r.backends {
		types = append(types, bt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Package level functions that delegate to defaultRegistry

// Register adds a new Backend implementation to the registry
func Register(bt BackendType, constructor Constructor) error {
	return GetRegistry().Register(bt, constructor)
}

// Open returns a new instance of the specified backend type
func Open(bt BackendType, params map[string]any) (Backend, error) {
	return GetRegistry().Open(bt, params)
}

// ListRegistered returns a list of all registered backend types
func ListRegistered() []BackendType {
	return GetRegistry().ListRegistered()
}
