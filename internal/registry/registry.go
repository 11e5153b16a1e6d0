// Package registry maps plugin-qualified service names to tool instances.
package registry

import (
	"strings"
	"sync"

	"github.com/zupport/zupport/internal/tool"
)

// Separator joins a plugin name and a service name into a registry key.
const Separator = "::"

// Utility is a registered tool together with its names.
type Utility struct {
	Plugin string
	Name   string
	Tool   tool.Tool
}

// Key returns the composite key "{providedBy}::{name}", or name alone
// when providedBy is empty.
func Key(providedBy, name string) string {
	if providedBy == "" {
		return name
	}
	return providedBy + Separator + name
}

// SplitKey splits a composite key on the first separator.
func SplitKey(key string) (plugin, name string) {
	if p, n, ok := strings.Cut(key, Separator); ok {
		return p, n
	}
	return "", key
}

// Registry holds at most one tool per composite key. Registration order
// is kept so that lookups by unqualified name deterministically resolve
// to the most recent registration.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]tool.Tool
	order   []string
}

func New() *Registry {
	return &Registry{entries: make(map[string]tool.Tool)}
}

// Provide registers t under Key(providedBy, name). A previous tool under
// the same key is replaced and the key becomes the most recent one.
func (r *Registry) Provide(t tool.Tool, name, providedBy string) {
	key := Key(providedBy, name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; exists {
		r.removeOrder(key)
	}
	r.entries[key] = t
	r.order = append(r.order, key)
}

func (r *Registry) removeOrder(key string) {
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// Deregister removes the tool stored under key.
func (r *Registry) Deregister(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; !ok {
		return false
	}
	delete(r.entries, key)
	r.removeOrder(key)
	return true
}

// DeregisterPlugin removes every tool provided by plugin and returns how
// many were removed.
func (r *Registry) DeregisterPlugin(plugin string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.order[:0]
	n := 0
	for _, key := range r.order {
		if p, _ := SplitKey(key); p == plugin {
			delete(r.entries, key)
			n++
			continue
		}
		kept = append(kept, key)
	}
	r.order = kept
	return n
}

// UtilitiesForBy maps every unqualified service name to its tool. When
// several plugins provide the same name the last registration wins.
func (r *Registry) UtilitiesForBy() map[string]Utility {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Utility, len(r.order))
	for _, key := range r.order {
		plugin, name := SplitKey(key)
		out[name] = Utility{Plugin: plugin, Name: name, Tool: r.entries[key]}
	}
	return out
}

// UtilitiesFor lists the tools of one plugin in registration order. An
// empty providedBy lists every tool.
func (r *Registry) UtilitiesFor(providedBy string) []Utility {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Utility
	for _, key := range r.order {
		plugin, name := SplitKey(key)
		if providedBy != "" && plugin != providedBy {
			continue
		}
		out = append(out, Utility{Plugin: plugin, Name: name, Tool: r.entries[key]})
	}
	return out
}

// Query resolves a service name. name may be qualified ("plugin::name")
// or bare; a bare name shared by several plugins resolves to the most
// recent registration.
func (r *Registry) Query(name string) (plugin string, t tool.Tool, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if strings.Contains(name, Separator) {
		if t, ok := r.entries[name]; ok {
			p, _ := SplitKey(name)
			return p, t, true
		}
		return "", nil, false
	}
	for i := len(r.order) - 1; i >= 0; i-- {
		p, n := SplitKey(r.order[i])
		if n == name {
			return p, r.entries[r.order[i]], true
		}
	}
	return "", nil, false
}

// Providers returns the plugin names that have tools registered, in
// order of first registration.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, key := range r.order {
		p, _ := SplitKey(key)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
