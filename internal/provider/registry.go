package provider

import (
	"fmt"
	"strings"
	"sync"
)

// Registry holds adapters in match order. More specific formats must be
// registered before more general ones since Detect predicates may overlap.
type Registry struct {
	mu       sync.RWMutex
	adapters []Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{}
	for _, adapter := range adapters {
		r.RegisterProvider(adapter)
	}
	return r
}

// DefaultRegistry returns the built-in adapters in their required order.
func DefaultRegistry(now Clock) *Registry {
	return NewRegistry(
		NewAlfieAdapter(),
		NewVoiceNotesAdapter(now),
		NewAudioPenAdapter(now),
	)
}

// FindProvider returns the first adapter whose Detect accepts payload.
func (r *Registry) FindProvider(payload map[string]any) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, adapter := range r.adapters {
		if adapter.Detect(payload) {
			return adapter, true
		}
	}
	return nil, false
}

func (r *Registry) GetProvider(name string) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	name = normalizeName(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, adapter := range r.adapters {
		if normalizeName(adapter.Name()) == name {
			return adapter, true
		}
	}
	return nil, false
}

// RegisterProvider replaces an adapter with the same name in place, or
// appends it.
func (r *Registry) RegisterProvider(adapter Adapter) {
	if r == nil || adapter == nil || normalizeName(adapter.Name()) == "" {
		return
	}
	name := normalizeName(adapter.Name())
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.adapters {
		if normalizeName(existing.Name()) == name {
			r.adapters[i] = adapter
			return
		}
	}
	r.adapters = append(r.adapters, adapter)
}

func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for _, adapter := range r.adapters {
		names = append(names, adapter.Name())
	}
	return names
}

// Normalize runs find, validate and transform. The returned note always has
// a non-empty ID.
func (r *Registry) Normalize(payload map[string]any) (Note, error) {
	adapter, ok := r.FindProvider(payload)
	if !ok {
		return Note{}, ErrUnsupportedFormat
	}
	if !adapter.Validate(payload) {
		return Note{}, &ValidationError{Platform: adapter.Name()}
	}
	note := adapter.Transform(payload)
	if strings.TrimSpace(note.ID) == "" {
		return Note{}, fmt.Errorf("%w: %s note has no id", ErrTransformContract, adapter.Name())
	}
	if note.Tags == nil {
		note.Tags = []string{}
	}
	return note, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
