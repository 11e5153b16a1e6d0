// Package tool defines the Tool capability and the parameter model tools
// are driven by.
package tool

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Tool is a unit of work with named parameters, a readiness flag and a
// Run operation. Tools are provided by plugins and looked up through the
// registry.
type Tool interface {
	Service() string
	Parameters() *ParameterList
	Update(opts UpdateOptions, args []any, kwargs map[string]any) error
	ValidateParameters() error
	Ready() bool
	Run(ctx context.Context) error
}

// UpdateOptions controls where Update takes parameter values from.
type UpdateOptions struct {
	// UseNativeParams lets a tool read values from its hosting
	// environment instead of the supplied arguments.
	UseNativeParams bool
	// GUI is set when the tool is driven from an interactive front end.
	GUI bool
}

// NativeSource supplies parameter values from a tool's hosting
// environment, in parameter order.
type NativeSource interface {
	NativeValues() ([]any, error)
}

// Output is a named value a tool reports after running.
type Output struct {
	Name  string `json:"name" yaml:"name"`
	Value any    `json:"value" yaml:"value"`
}

// Resetter is implemented by tools whose parameters can be restored to
// their template values.
type Resetter interface {
	ResetParameters()
}

// Outputter is implemented by tools that report outputs.
type Outputter interface {
	Outputs() []Output
}

// Base implements the bookkeeping shared by all tools. Concrete tools
// embed it and provide Run.
type Base struct {
	service  string
	params   *ParameterList
	defaults *ParameterList
	logger  *slog.Logger
	native  NativeSource

	mu      sync.Mutex
	ready   bool
	gui     bool
	outputs []Output
}

// BaseOption configures a Base.
type BaseOption func(*Base)

func WithLogger(l *slog.Logger) BaseOption {
	return func(b *Base) { b.logger = l }
}

// WithNativeSource sets the source used when Update is called with
// UseNativeParams.
func WithNativeSource(src NativeSource) BaseOption {
	return func(b *Base) { b.native = src }
}

func NewBase(service string, params *ParameterList, opts ...BaseOption) *Base {
	if params == nil {
		params = &ParameterList{name: service}
	}
	b := &Base{service: service, params: params, defaults: params.Clone(), logger: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	b.logger = b.logger.With("tool", service)
	return b
}

func (b *Base) Service() string { return b.service }
func (b *Base) Parameters() *ParameterList { return b.params }
func (b *Base) Logger() *slog.Logger { return b.logger }

func (b *Base) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

func (b *Base) SetReady(ready bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = ready
}

// ResetParameters restores every parameter value to the one it had when
// the tool was set up. The parameter list itself is kept.
func (b *Base) ResetParameters() {
	for _, p := range b.defaults.params {
		_ = b.params.SetValue(p.Name, p.Value)
	}
}

// GUI reports whether the last Update came from an interactive front end.
func (b *Base) GUI() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gui
}

// Update pushes values into the parameter list. Positional args are
// assigned by index, then kwargs by name in sorted key order. When
// opts.UseNativeParams is set and the native source yields values, those
// are used instead of args and kwargs. The tool becomes ready on
// success.
func (b *Base) Update(opts UpdateOptions, args []any, kwargs map[string]any) error {
	b.mu.Lock()
	b.gui = opts.GUI
	b.mu.Unlock()

	if opts.UseNativeParams && b.native != nil {
		values, err := b.native.NativeValues()
		if err != nil {
			return err
		}
		if len(values) > 0 {
			b.logger.Debug("Using native parameter values.", "count", len(values))
			args, kwargs = values, nil
		}
	}

	if len(args) > b.params.Len() {
		err := paramErrorf("tool expects %d parameters, %d provided", b.params.Len(), len(args))
		b.logger.Error("Updating parameters failed.", "error", err)
		return err
	}
	for i, v := range args {
		if err := b.params.SetValue(i, v); err != nil {
			return err
		}
	}

	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := b.params.SetValue(k, kwargs[k]); err != nil {
			b.logger.Error("Updating parameters failed.", "error", err)
			return err
		}
	}

	b.SetReady(true)
	return nil
}

// ValidateParameters fails with a *ParameterError listing every missing
// required value, and marks the tool ready otherwise.
func (b *Base) ValidateParameters() error {
	missing := b.params.Missing()
	if len(missing) > 0 {
		err := &ParameterError{Msg: "following parameter values are missing", Parameters: missing}
		b.logger.Error("Parameter validation failed.", "error", err)
		b.SetReady(false)
		return err
	}
	b.SetReady(true)
	return nil
}

// SetOutput records an output value, replacing one of the same name.
func (b *Base) SetOutput(name string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.outputs {
		if b.outputs[i].Name == name {
			b.outputs[i].Value = value
			return
		}
	}
	b.outputs = append(b.outputs, Output{Name: name, Value: value})
}

// Outputs returns the recorded outputs in insertion order.
func (b *Base) Outputs() []Output {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.outputs)
}

// ResetOutputs clears the recorded outputs before a new run.
func (b *Base) ResetOutputs() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outputs = nil
}

// Func adapts a function to a Tool. It is convenient for small tools and
// tests.
type Func struct {
	*Base
	fn func(ctx context.Context, b *Base) error
}

func NewFunc(service string, params *ParameterList, fn func(ctx context.Context, b *Base) error, opts ...BaseOption) *Func {
	return &Func{Base: NewBase(service, params, opts...), fn: fn}
}

func (f *Func) Run(ctx context.Context) error {
	f.ResetOutputs()
	return f.fn(ctx, f.Base)
}
