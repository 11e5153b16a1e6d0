// Package job binds requested services to registered tools and queues
// job requests.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/zupport/zupport/internal/ctxlog"
	"github.com/zupport/zupport/internal/registry"
	"github.com/zupport/zupport/internal/tool"
)

// ErrNoTool is returned by operations that need a resolved tool.
var ErrNoTool = errors.New("service not available")

// Spec is a serialisable job request.
type Spec struct {
	ID      string         `yaml:"id,omitempty" json:"id,omitempty"`
	Service string         `yaml:"service" json:"service"`
	Batch   bool           `yaml:"batch,omitempty" json:"batch,omitempty"`
	GUI     bool           `yaml:"gui,omitempty" json:"gui,omitempty"`
	Args    []any          `yaml:"args,omitempty" json:"args,omitempty"`
	Params  map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// WithID returns s with a fresh ID when it has none.
func (s Spec) WithID() Spec {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return s
}

// Job binds a Spec to the tool registered for its service. A job whose
// service cannot be resolved holds no tool and its Run does nothing.
type Job struct {
	spec      Spec
	plugin    string
	tool      tool.Tool
	logger    *slog.Logger
	updateErr error

	predecessor *Job
	successor   *Job
}

// New resolves spec.Service in reg and, when found, resets the tool's
// parameters to their template values and pushes the spec's arguments
// into the tool. Batch jobs do not read native parameters.
func New(ctx context.Context, reg *registry.Registry, spec Spec) *Job {
	spec = spec.WithID()
	j := &Job{
		spec:   spec,
		logger: ctxlog.FromContext(ctx).With("component", "job", "job", spec.ID, "service", spec.Service),
	}

	plugin, t, ok := reg.Query(spec.Service)
	if !ok {
		j.logger.Warn("Service not available.")
		return j
	}
	j.plugin = plugin
	j.tool = t

	// tools are shared, so values left by an earlier job are dropped
	if r, ok := t.(tool.Resetter); ok {
		r.ResetParameters()
	}
	if err := j.UpdateParameters(spec.Args, spec.Params); err != nil {
		j.logger.Error("Updating tool parameters failed.", "error", err)
	} else {
		j.logger.Debug("Set up service.", "plugin", plugin)
	}
	return j
}

func (j *Job) ID() string { return j.spec.ID }
func (j *Job) Spec() Spec { return j.spec }
func (j *Job) Service() string { return j.spec.Service }

// Plugin is the name of the plugin that provided the tool.
func (j *Job) Plugin() string { return j.plugin }

// Tool returns the resolved tool, or nil.
func (j *Job) Tool() tool.Tool { return j.tool }

// Err returns the error of the last parameter update.
func (j *Job) Err() error { return j.updateErr }

// Ready reports whether Run will invoke the tool.
func (j *Job) Ready() bool {
	return j.tool != nil && j.updateErr == nil && j.tool.Ready()
}

// Parameters returns the tool's parameter list, or nil without a tool.
func (j *Job) Parameters() *tool.ParameterList {
	if j.tool == nil {
		return nil
	}
	return j.tool.Parameters()
}

// UpdateParameters pushes args and kwargs into the tool.
func (j *Job) UpdateParameters(args []any, kwargs map[string]any) error {
	if j.tool == nil {
		return fmt.Errorf("%w: %s", ErrNoTool, j.spec.Service)
	}
	opts := tool.UpdateOptions{UseNativeParams: !j.spec.Batch, GUI: j.spec.GUI}
	j.updateErr = j.tool.Update(opts, args, kwargs)
	return j.updateErr
}

// Run runs the tool when the job is ready and does nothing otherwise.
func (j *Job) Run(ctx context.Context) error {
	if !j.Ready() {
		j.logger.Debug("Job not ready, nothing to run.")
		return nil
	}
	return j.tool.Run(ctx)
}

// Outputs returns what the tool reported during its last run.
func (j *Job) Outputs() []tool.Output {
	if o, ok := j.tool.(tool.Outputter); ok {
		return o.Outputs()
	}
	return nil
}

func (j *Job) Predecessor() *Job { return j.predecessor }
func (j *Job) Successor() *Job { return j.successor }

func (j *Job) SetPredecessor(p *Job) { j.predecessor = p }
func (j *Job) SetSuccessor(s *Job) { j.successor = s }

// Then links next after j and returns next.
func (j *Job) Then(next *Job) *Job {
	j.successor = next
	next.predecessor = j
	return next
}
