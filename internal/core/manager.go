// Package core ties plugins, the tool registry, the job queue and the
// result history together.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/zupport/zupport/internal/ctxlog"
	"github.com/zupport/zupport/internal/job"
	"github.com/zupport/zupport/internal/metrics"
	"github.com/zupport/zupport/internal/plugin"
	"github.com/zupport/zupport/internal/registry"
	"github.com/zupport/zupport/internal/store"
)

var (
	// ErrUnknownPlugin is returned for names missing from the catalog.
	ErrUnknownPlugin = errors.New("unknown plugin")
	// ErrPluginNotLoaded is returned when unloading a plugin that is not loaded.
	ErrPluginNotLoaded = errors.New("plugin not loaded")
	// ErrJobPanicked wraps a panic raised while a job ran.
	ErrJobPanicked = errors.New("job panicked")
)

// Options configures a Manager. Only Catalog is required; the other
// fields fall back to an empty registry, an in-memory queue, no result
// history, no metrics and the default logger.
type Options struct {
	Catalog  *plugin.Catalog
	Registry *registry.Registry
	Queue    job.Queue
	Results  *store.ResultStore
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Manager owns the loaded plugins and runs queued jobs one at a time.
type Manager struct {
	catalog  *plugin.Catalog
	registry *registry.Registry
	queue    job.Queue
	results  *store.ResultStore
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	plugins []*plugin.Plugin

	// run serialises RunJob and RunJobs.
	run sync.Mutex
}

// NewManager creates a manager and loads every plugin in the catalog.
// Plugins that fail to import are logged and kept in the Failed state.
func NewManager(ctx context.Context, opts Options) *Manager {
	m := &Manager{
		catalog:  opts.Catalog,
		registry: opts.Registry,
		queue:    opts.Queue,
		results:  opts.Results,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
	if m.catalog == nil {
		m.catalog = plugin.NewCatalog()
	}
	if m.registry == nil {
		m.registry = registry.New()
	}
	if m.queue == nil {
		m.queue = job.NewMemoryQueue()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "manager")

	for _, name := range m.catalog.Names() {
		if _, err := m.LoadPlugin(ctx, name); err != nil {
			m.logger.Error("Could not load plugin.", "plugin", name, "error", err)
		}
	}
	m.logger.Info("Plugins loaded.", "loaded", len(m.LoadedPlugins()), "tools", m.registry.Len())
	return m
}

func (m *Manager) Registry() *registry.Registry { return m.registry }
func (m *Manager) Queue() job.Queue             { return m.queue }

// LoadPlugin loads the named catalog entry. A plugin that is already
// loaded is returned as is.
func (m *Manager) LoadPlugin(ctx context.Context, name string) (*plugin.Plugin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p := m.find(name); p != nil && p.Ready() {
		m.logger.Debug("Plugin already loaded.", "plugin", name)
		return p, nil
	}
	imp, ok := m.catalog.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}

	p := plugin.Load(ctx, name, imp, m.registry, m.logger)
	m.replace(p)
	m.updateGauges()
	return p, nil
}

// UnloadPlugin deregisters the plugin's tools and forgets it.
func (m *Manager) UnloadPlugin(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, p := range m.plugins {
		if p.Name() != name {
			continue
		}
		m.plugins = append(m.plugins[:i], m.plugins[i+1:]...)
		err := p.Close()
		m.updateGauges()
		if err != nil {
			return fmt.Errorf("unload %s: %w", name, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPluginNotLoaded, name)
}

func (m *Manager) find(name string) *plugin.Plugin {
	for _, p := range m.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

func (m *Manager) replace(p *plugin.Plugin) {
	for i, old := range m.plugins {
		if old.Name() == p.Name() {
			m.plugins[i] = p
			return
		}
	}
	m.plugins = append(m.plugins, p)
}

func (m *Manager) updateGauges() {
	ready := 0
	for _, p := range m.plugins {
		if p.Ready() {
			ready++
		}
	}
	m.metrics.SetPlugins(ready)
	m.metrics.SetTools(m.registry.Len())
}

// Plugin returns the named plugin, loaded or failed.
func (m *Manager) Plugin(name string) (*plugin.Plugin, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.find(name)
	return p, p != nil
}

// Plugins returns every known plugin in load order.
func (m *Manager) Plugins() []*plugin.Plugin {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*plugin.Plugin, len(m.plugins))
	copy(out, m.plugins)
	return out
}

// LoadedPlugins returns the names of the plugins in the Ready state.
func (m *Manager) LoadedPlugins() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, p := range m.plugins {
		if p.Ready() {
			out = append(out, p.Name())
		}
	}
	return out
}

// AddJob queues spec and returns its ID.
func (m *Manager) AddJob(ctx context.Context, spec job.Spec) (string, error) {
	spec = spec.WithID()
	if err := m.queue.Push(ctx, spec); err != nil {
		return "", fmt.Errorf("queue job %s: %w", spec.ID, err)
	}
	m.logger.Debug("Queued job.", "job", spec.ID, "service", spec.Service)
	return spec.ID, nil
}

// Summary counts the outcomes of a RunJobs call.
type Summary struct {
	Succeeded int
	Failed    int
	Skipped   int
	Results   []*store.Result
}

// Total is the number of jobs taken from the queue.
func (s Summary) Total() int { return s.Succeeded + s.Failed + s.Skipped }

// RunJobs drains the queue in FIFO order, running one job at a time. A
// failing or panicking job is recorded and the next one runs. RunJobs
// stops early when ctx is done or the queue cannot be read.
func (m *Manager) RunJobs(ctx context.Context) (Summary, error) {
	m.run.Lock()
	defer m.run.Unlock()

	var sum Summary
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		spec, ok, err := m.queue.Pop(ctx)
		if err != nil {
			return sum, fmt.Errorf("reading job queue: %w", err)
		}
		if !ok {
			break
		}
		res := m.runSpec(ctx, spec)
		switch {
		case res.Status == store.StatusSucceeded:
			sum.Succeeded++
		case res.Status == store.StatusCancelled:
			sum.Skipped++
		default:
			sum.Failed++
		}
		sum.Results = append(sum.Results, res)
	}
	m.logger.Info("Job queue drained.", "succeeded", sum.Succeeded, "failed", sum.Failed, "skipped", sum.Skipped)
	return sum, nil
}

// RunJob builds and runs a single job outside the queue.
func (m *Manager) RunJob(ctx context.Context, spec job.Spec) *store.Result {
	m.run.Lock()
	defer m.run.Unlock()
	return m.runSpec(ctx, spec)
}

func (m *Manager) runSpec(ctx context.Context, spec job.Spec) *store.Result {
	spec = spec.WithID()
	ctx = ctxlog.WithLogger(ctx, m.logger)
	j, err := newJob(ctx, m.registry, spec)
	if err != nil {
		res := &store.Result{
			JobID:      spec.ID,
			Service:    spec.Service,
			Status:     store.StatusFailed,
			Error:      err.Error(),
			StartedAt:  time.Now(),
			FinishedAt: time.Now(),
		}
		res.AddMessage(store.SeverityError, res.Error)
		m.logger.Error("Job setup failed.", "job", spec.ID, "service", spec.Service, "error", err)
		m.record(ctx, res)
		m.metrics.ObserveJob(spec.Service, metrics.OutcomePanicked, 0)
		return res
	}
	return m.execute(ctx, j)
}

// newJob builds the job, turning a panic in the tool's Update into an
// error.
func newJob(ctx context.Context, reg *registry.Registry, spec job.Spec) (j *job.Job, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return job.New(ctx, reg, spec), nil
}

// execute runs j and records the outcome. A job that is not ready is
// recorded as cancelled and counted as skipped.
func (m *Manager) execute(ctx context.Context, j *job.Job) *store.Result {
	logger := m.logger.With("job", j.ID(), "service", j.Service())
	res := &store.Result{
		JobID:     j.ID(),
		Service:   j.Service(),
		Plugin:    j.Plugin(),
		Status:    store.StatusExecuting,
		StartedAt: time.Now(),
	}
	if params := j.Parameters(); params != nil {
		res.Params = params.Map()
	}

	if !j.Ready() {
		res.Status = store.StatusCancelled
		switch {
		case j.Tool() == nil:
			res.Error = fmt.Sprintf("%v: %s", job.ErrNoTool, j.Service())
		case j.Err() != nil:
			res.Error = j.Err().Error()
		default:
			res.Error = "tool not ready"
		}
		res.AddMessage(store.SeverityWarning, res.Error)
		res.FinishedAt = time.Now()
		logger.Warn("Skipping job.", "reason", res.Error)
		m.record(ctx, res)
		m.metrics.ObserveJob(j.Service(), metrics.OutcomeSkipped, 0)
		return res
	}

	m.record(ctx, res)
	logger.Info("Running job.", "plugin", j.Plugin())

	err := safeRun(ctx, j)
	res.FinishedAt = time.Now()
	res.Outputs = j.Outputs()

	outcome := metrics.OutcomeSucceeded
	switch {
	case errors.Is(err, ErrJobPanicked):
		outcome = metrics.OutcomePanicked
		res.Status = store.StatusFailed
	case errors.Is(err, context.DeadlineExceeded):
		outcome = metrics.OutcomeFailed
		res.Status = store.StatusTimedOut
	case errors.Is(err, context.Canceled):
		outcome = metrics.OutcomeFailed
		res.Status = store.StatusCancelled
	case err != nil:
		outcome = metrics.OutcomeFailed
		res.Status = store.StatusFailed
	default:
		res.Status = store.StatusSucceeded
	}
	if err != nil {
		res.Error = err.Error()
		res.AddMessage(store.SeverityError, res.Error)
		logger.Error("Job failed.", "error", err, "duration", res.Duration())
	} else {
		logger.Info("Job finished.", "duration", res.Duration(), "outputs", len(res.Outputs))
	}

	m.record(ctx, res)
	m.metrics.ObserveJob(j.Service(), outcome, res.Duration())
	return res
}

func safeRun(ctx context.Context, j *job.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			ctxlog.FromContext(ctx).Debug("Recovered job panic.", "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return j.Run(ctx)
}

// record saves res. History is best effort: a store error is logged and
// does not fail the job.
func (m *Manager) record(ctx context.Context, res *store.Result) {
	if m.results == nil {
		return
	}
	if err := m.results.Save(context.WithoutCancel(ctx), res); err != nil {
		m.logger.Error("Could not record job result.", "job", res.JobID, "error", err)
	}
}

// Close unloads every plugin.
func (m *Manager) Close() error {
	m.mu.Lock()
	plugins := m.plugins
	m.plugins = nil
	m.mu.Unlock()

	var errs []error
	for i := len(plugins) - 1; i >= 0; i-- {
		if err := plugins[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", plugins[i].Name(), err))
		}
	}
	m.metrics.SetPlugins(0)
	m.metrics.SetTools(m.registry.Len())
	return errors.Join(errs...)
}
