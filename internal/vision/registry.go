package vision

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a backend from a Config.
type Factory func(Config) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a backend factory under name. Called from backend package
// init functions.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New constructs the named backend with the given options applied over
// defaults. The name must have been registered; import
// internal/vision/backends/all to register everything.
func New(name string, opts ...Option) (Backend, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown vision backend %q (registered: %v)", name, Registered())
	}
	return factory(NewConfig(opts...))
}

// Registered returns the registered backend names, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
