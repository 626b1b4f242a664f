package provider

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownProvider indicates the requested provider is not registered.
var ErrUnknownProvider = errors.New("unknown provider")

// ErrDuplicateProvider indicates an attempt to register the same provider twice.
var ErrDuplicateProvider = errors.New("provider already registered")

type clientEntry struct {
	client       Client
	defaultModel string
}

// Registry maintains the mapping of provider names to clients. Lookups are
// case-insensitive on the provider name.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]clientEntry
}

// NewRegistry constructs an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]clientEntry),
	}
}

// Register adds a client under its name together with the model used when a
// caller leaves the model unset.
func (r *Registry) Register(c Client, defaultModel string) error {
	if c == nil {
		return errors.New("client must not be nil")
	}
	name := strings.ToLower(strings.TrimSpace(c.Name()))
	if name == "" {
		return errors.New("client name must not be empty")
	}
	if strings.TrimSpace(defaultModel) == "" {
		return fmt.Errorf("provider %q: default model must not be empty", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, name)
	}
	r.clients[name] = clientEntry{client: c, defaultModel: defaultModel}
	return nil
}

// Lookup returns the client and default model for a provider name.
func (r *Registry) Lookup(name string) (Client, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.clients[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return entry.client, entry.defaultModel, nil
}

// Names returns the registered provider names in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}
