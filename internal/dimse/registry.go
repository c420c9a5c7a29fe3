package dimse

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a provider from shared association parameters
type Factory func(cfg ProviderConfig) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a provider available by name. Registering a name twice panics.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if factory == nil {
		panic("dimse: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("dimse: Register called twice for provider " + name)
	}
	registry[name] = factory
}

// Providers returns the registered provider names, sorted
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrUnknownProvider is returned by Open for names nobody registered
type ErrUnknownProvider struct {
	Name      string
	Available []string
}

func (e *ErrUnknownProvider) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("network provider %q is not registered (none linked into this build)", e.Name)
	}
	return fmt.Sprintf("network provider %q is not registered (available: %v)", e.Name, e.Available)
}

// Open builds the named provider
func Open(name string, cfg ProviderConfig) (Provider, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, &ErrUnknownProvider{Name: name, Available: Providers()}
	}
	return factory(cfg)
}
