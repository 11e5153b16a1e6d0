package plugin

import (
	"context"
	"fmt"
	"io/fs"
	"sync"

	"github.com/zupport/zupport/internal/tool"
)

// SetupFunc builds a tool from the parameter list read from the tool's
// template file.
type SetupFunc func(params *tool.ParameterList) (tool.Tool, error)

// ToolModule is one tool a module exposes.
type ToolModule struct {
	Name  string
	Setup SetupFunc
}

// Module is a loaded plugin namespace. Tools lists the tools it exposes;
// Templates holds a "{tool}.yaml" parameter template for each of them.
type Module interface {
	Tools() []ToolModule
	Templates() fs.FS
}

// Importer imports a module. It is called once per plugin load.
type Importer func(ctx context.Context) (Module, error)

type staticModule struct {
	templates fs.FS
	tools     []ToolModule
}

// NewModule returns a module backed by the given templates and tools.
func NewModule(templates fs.FS, tools ...ToolModule) Module {
	return &staticModule{templates: templates, tools: tools}
}

func (m *staticModule) Tools() []ToolModule { return m.tools }
func (m *staticModule) Templates() fs.FS { return m.templates }

// Catalog is the ordered set of importable plugins.
type Catalog struct {
	mu        sync.RWMutex
	names     []string
	importers map[string]Importer
}

func NewCatalog() *Catalog {
	return &Catalog{importers: make(map[string]Importer)}
}

// Register adds an importer under name.
func (c *Catalog) Register(name string, imp Importer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.importers[name]; exists {
		return fmt.Errorf("plugin %q already in catalog", name)
	}
	c.importers[name] = imp
	c.names = append(c.names, name)
	return nil
}

// MustRegister is like Register but panics on a duplicate name. It is
// meant for builtin plugins registered at start-up.
func (c *Catalog) MustRegister(name string, imp Importer) {
	if err := c.Register(name, imp); err != nil {
		panic(err)
	}
}

func (c *Catalog) Lookup(name string) (Importer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	imp, ok := c.importers[name]
	return imp, ok
}

// Names returns the catalog entries in registration order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}
