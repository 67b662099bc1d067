// Package registry maps store backend names to constructors.
//
// Backends register themselves in init():
//
//	registry.MustRegister(registry.Backend{ ... })
//
// A binary enables a backend by importing its package (often as a blank import).
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"xdao.co/faceguard/storage"
)

// Options carries the settings any backend may need. Each backend reads only
// its own fields.
type Options struct {
	LocalFSDir  string
	GRPCTarget  string
	Timeout     time.Duration
	MaxMsgBytes int
}

type Backend struct {
	Name        string
	Description string
	Usage       Usage

	// Open constructs the store. It returns an optional close function.
	Open func(opts Options) (storage.Store, func() error, error)
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

// Register registers a backend.
func Register(b Backend) error {
	if b.Name == "" {
		return fmt.Errorf("registry: backend name is required")
	}
	if b.Open == nil {
		return fmt.Errorf("registry: backend %q missing Open", b.Name)
	}
	if b.Usage == 0 {
		return fmt.Errorf("registry: backend %q missing Usage", b.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("registry: backend %q already registered", b.Name)
	}
	backends[b.Name] = b
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns backends matching usage, sorted by name.
func List(usage Usage) []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Usage.allows(usage) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Open opens the named backend if it exists and matches usage.
func Open(name string, usage Usage, opts Options) (storage.Store, func() error, error) {
	mu.RLock()
	b, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("unknown store backend %q", name)
	}
	if !b.Usage.allows(usage) {
		return nil, nil, fmt.Errorf("store backend %q not supported in this binary", name)
	}
	return b.Open(opts)
}
