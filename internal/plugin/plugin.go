// Package plugin loads plugins, reads the parameter templates of the
// tools they expose and registers those tools.
package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/zupport/zupport/internal/registry"
	"github.com/zupport/zupport/internal/tool"
)

// State is the load state of a plugin.
type State int

const (
	NotReady State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case NotReady:
		return "not ready"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrTemplateMissing is logged for tools without a parameter template.
var ErrTemplateMissing = errors.New("parameter template not found")

// Plugin is a loaded module and the tools it registered.
type Plugin struct {
	name     string
	registry *registry.Registry
	logger   *slog.Logger

	mu     sync.Mutex
	state  State
	err    error
	module Module
	failed map[string]error
}

// Load imports the module and registers every tool it exposes under the
// plugin's name. Errors are logged, never returned: an import error
// leaves the plugin Failed, a broken tool is skipped.
func Load(ctx context.Context, name string, imp Importer, reg *registry.Registry, logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Plugin{
		name:     name,
		registry: reg,
		logger:   logger.With("component", "plugin", "plugin", name),
		failed:   make(map[string]error),
	}
	p.load(ctx, imp)
	return p
}

func (p *Plugin) load(ctx context.Context, imp Importer) {
	p.setState(Loading, nil)

	mod, err := imp(ctx)
	if err != nil {
		p.logger.Error("Could not import plugin.", "error", err)
		p.setState(Failed, err)
		return
	}
	if mod == nil {
		err := fmt.Errorf("importer returned no module")
		p.logger.Error("Could not import plugin.", "error", err)
		p.setState(Failed, err)
		return
	}
	p.mu.Lock()
	p.module = mod
	p.mu.Unlock()

	tools := mod.Tools()
	if len(tools) == 0 {
		p.logger.Warn("No tools available for plugin.")
	}
	for _, tm := range tools {
		if err := p.loadTool(mod, tm); err != nil {
			p.logger.Error("Could not load tool.", "tool", tm.Name, "error", err)
			p.mu.Lock()
			p.failed[tm.Name] = err
			p.mu.Unlock()
		}
	}

	p.setState(Ready, nil)
	p.logger.Info("Loaded plugin.", "tools", len(p.RegisteredTools()))
}

func (p *Plugin) loadTool(mod Module, tm ToolModule) error {
	p.logger.Debug("Loading tool.", "tool", tm.Name)

	templates := mod.Templates()
	if templates == nil {
		return fmt.Errorf("%w: %s.yaml", ErrTemplateMissing, tm.Name)
	}
	file := tm.Name + ".yaml"
	data, err := fs.ReadFile(templates, file)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrTemplateMissing, file)
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", file, err)
	}

	params, err := tool.ReadParameterList(tm.Name, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	if tm.Setup == nil {
		return fmt.Errorf("tool %s has no setup function", tm.Name)
	}
	t, err := tm.Setup(params)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	if t == nil {
		return fmt.Errorf("setup returned no tool")
	}

	p.registry.Provide(t, t.Service(), p.name)
	p.logger.Debug("Added tool to registry.", "tool", tm.Name, "service", t.Service())
	return nil
}

func (p *Plugin) setState(s State, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
	p.err = err
}

func (p *Plugin) Name() string { return p.name }

func (p *Plugin) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Ready reports whether the plugin loaded.
func (p *Plugin) Ready() bool { return p.State() == Ready }

// Err returns the import error of a Failed plugin.
func (p *Plugin) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// ToolErrors returns the load error of every skipped tool.
func (p *Plugin) ToolErrors() map[string]error {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]error, len(p.failed))
	for k, v := range p.failed {
		out[k] = v
	}
	return out
}

// Registered reports whether this plugin registered a tool under service.
func (p *Plugin) Registered(service string) bool {
	for _, u := range p.RegisteredTools() {
		if u.Name == service {
			return true
		}
	}
	return false
}

// RegisteredTools lists the tools this plugin has in the registry.
func (p *Plugin) RegisteredTools() []registry.Utility {
	return p.registry.UtilitiesFor(p.name)
}

// Close deregisters the plugin's tools and releases its module.
func (p *Plugin) Close() error {
	n := p.registry.DeregisterPlugin(p.name)
	p.logger.Info("Unloaded plugin.", "tools", n)

	p.mu.Lock()
	mod := p.module
	p.module = nil
	p.state = NotReady
	p.mu.Unlock()

	if c, ok := mod.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
