package outbox

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// RenderFunc turns a payload into an HTML body.
type RenderFunc func(payload Payload) (string, error)

// TemplateRegistry maps template identifiers to render functions.
type TemplateRegistry struct {
	mu      sync.RWMutex
	renders map[string]RenderFunc
}

// NewTemplateRegistry returns an empty registry.
func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{renders: make(map[string]RenderFunc)}
}

// Register binds id to render. Registering the same id twice is an error.
func (registry *TemplateRegistry) Register(id string, render RenderFunc) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" || render == nil {
		return fmt.Errorf("%w: %q", ErrInvalidTemplateEntry, id)
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, exists := registry.renders[trimmed]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTemplate, trimmed)
	}
	registry.renders[trimmed] = render
	return nil
}

// Render produces the HTML body for id.
func (registry *TemplateRegistry) Render(id string, payload Payload) (string, error) {
	registry.mu.RLock()
	render, ok := registry.renders[id]
	registry.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, id)
	}
	return render(payload)
}

// IDs lists the registered identifiers in sorted order.
func (registry *TemplateRegistry) IDs() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	ids := make([]string, 0, len(registry.renders))
	for id := range registry.renders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
