package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/e7canasta/framebridge/internal/types"
)

// PeerFactory creates the native side of a new engine.
type PeerFactory func() (Peer, error)

// RegistryEntry is one registered engine backend.
type RegistryEntry struct {
	// Name is the unique identifier, e.g. "raster".
	Name string

	// Kind is the engine kind the backend implements.
	Kind types.EngineKind

	// Priority orders backends of the same kind and picks the default kind
	// (higher = preferred).
	Priority int

	Factory PeerFactory

	// Available reports if the backend can run here. Nil means always.
	Available func() bool
}

func (e *RegistryEntry) available() bool {
	return e.Available == nil || e.Available()
}

// Registry maps engine kinds to peer factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*RegistryEntry
}

// NewRegistry creates an empty registry.
// Most code should use Initialize, which consults the default registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*RegistryEntry)}
}

var defaultRegistry = NewRegistry()

func init() {
	defaultRegistry.Register(RegistryEntry{
		Name:     "raster",
		Kind:     types.KindRaster,
		Priority: 10,
		Factory:  func() (Peer, error) { return newRasterPeer(), nil },
	})
	defaultRegistry.Register(RegistryEntry{
		Name:     "texture",
		Kind:     types.KindTexture,
		Priority: 20,
		Factory:  func() (Peer, error) { return newTexturePeer(DefaultMaxTextureSize), nil },
	})
}

// DefaultRegistry returns the registry used by Initialize.
func DefaultRegistry() *Registry { return defaultRegistry }

// Register adds or replaces a backend.
func (r *Registry) Register(entry RegistryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := entry
	r.entries[e.Name] = &e
}

// Unregister removes a backend. No-op if absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// List returns backend names sorted by priority, highest first.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sorted := r.sorted()
	names := make([]string, len(sorted))
	for i, e := range sorted {
		names[i] = e.Name
	}
	return names
}

// Lookup returns the preferred available backend for kind.
func (r *Registry) Lookup(kind types.EngineKind) (*RegistryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.sorted() {
		if e.Kind == kind && e.available() {
			return e, nil
		}
	}
	return nil, fmt.Errorf("engine: no backend for kind %s: %w", kind, types.ErrEngineNotFound)
}

// DefaultKind returns the kind of the highest-priority available backend.
func (r *Registry) DefaultKind() (types.EngineKind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.sorted() {
		if e.available() {
			return e.Kind, nil
		}
	}
	return 0, fmt.Errorf("engine: registry is empty: %w", types.ErrEngineNotFound)
}

// Initialize creates an engine of kind from this registry.
func (r *Registry) Initialize(kind types.EngineKind) (*Engine, error) {
	entry, err := r.Lookup(kind)
	if err != nil {
		return nil, err
	}
	peer, err := entry.Factory()
	if err != nil {
		return nil, fmt.Errorf("engine: %s backend: %w", entry.Name, err)
	}
	return newEngine(kind, peer), nil
}

// sorted must be called with r.mu held.
func (r *Registry) sorted() []*RegistryEntry {
	out := make([]*RegistryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}
