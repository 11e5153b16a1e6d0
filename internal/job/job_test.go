package job

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zupport/zupport/internal/ctxlog"
	"github.com/zupport/zupport/internal/registry"
	"github.com/zupport/zupport/internal/tool"
)

type countingTool struct {
	*tool.Base
	runs int
	err  error
}

func (c *countingTool) Run(context.Context) error {
	c.runs++
	return c.err
}

func newRegistry(t *testing.T) (*registry.Registry, *countingTool) {
	t.Helper()
	params, err := tool.NewParameterList("aggregate", []any{
		map[string]any{"name": "input", "value": "", "required": true},
		map[string]any{"name": "factor", "value": 2},
	})
	require.NoError(t, err)
	ct := &countingTool{Base: tool.NewBase("aggregate", params)}
	reg := registry.New()
	reg.Provide(ct, "aggregate", "zarcgis")
	return reg, ct
}

func TestJobResolvesAndRuns(t *testing.T) {
	reg, ct := newRegistry(t)

	j := New(context.Background(), reg, Spec{Service: "aggregate", Batch: true, Args: []any{"/data"}, Params: map[string]any{"factor": 4}})
	require.NotEmpty(t, j.ID())
	assert.Equal(t, "zarcgis", j.Plugin())
	assert.Same(t, ct, j.Tool())
	require.True(t, j.Ready())
	assert.Equal(t, map[string]any{"input": "/data", "factor": 4}, j.Parameters().Map())

	require.NoError(t, j.Run(context.Background()))
	assert.Equal(t, 1, ct.runs)
}

func TestJobUnknownServiceIsInert(t *testing.T) {
	reg, ct := newRegistry(t)
	var buf bytes.Buffer
	ctx := ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

	j := New(ctx, reg, Spec{Service: "nonexistent_tool", Args: []any{1}})
	assert.Nil(t, j.Tool())
	assert.Nil(t, j.Parameters())
	assert.Nil(t, j.Outputs())
	assert.False(t, j.Ready())
	assert.Contains(t, buf.String(), "Service not available.")
	assert.Contains(t, buf.String(), "service=nonexistent_tool")

	assert.NotPanics(t, func() {
		assert.NoError(t, j.Run(context.Background()))
	})
	assert.Equal(t, 0, ct.runs)
	assert.ErrorIs(t, j.UpdateParameters(nil, nil), ErrNoTool)
}

func TestJobFailedUpdateIsNotRun(t *testing.T) {
	reg, ct := newRegistry(t)

	// a previous job leaves the shared tool ready
	require.True(t, New(context.Background(), reg, Spec{Service: "aggregate", Args: []any{"/a"}}).Ready())

	j := New(context.Background(), reg, Spec{Service: "aggregate", Params: map[string]any{"bogus": 1}})
	require.Error(t, j.Err())
	assert.True(t, tool.IsParameterError(j.Err()))
	assert.False(t, j.Ready())
	require.NoError(t, j.Run(context.Background()))
	assert.Equal(t, 0, ct.runs)
}

func TestJobStartsFromTemplateValues(t *testing.T) {
	reg, _ := newRegistry(t)

	first := New(context.Background(), reg, Spec{Service: "aggregate", Args: []any{"/a"}, Params: map[string]any{"factor": 8}})
	require.True(t, first.Ready())

	second := New(context.Background(), reg, Spec{Service: "aggregate", Args: []any{"/b"}})
	require.True(t, second.Ready())
	assert.Equal(t, map[string]any{"input": "/b", "factor": 2}, second.Parameters().Map())

	third := New(context.Background(), reg, Spec{Service: "aggregate"})
	assert.Equal(t, map[string]any{"input": "", "factor": 2}, third.Parameters().Map())
}

func TestJobRunError(t *testing.T) {
	reg, ct := newRegistry(t)
	ct.err = errors.New("engine unavailable")

	j := New(context.Background(), reg, Spec{Service: "zarcgis::aggregate", Args: []any{"/a"}})
	require.ErrorIs(t, j.Run(context.Background()), ct.err)
}

func TestJobBatchControlsNativeParams(t *testing.T) {
	params, err := tool.NewParameterList("t", []any{[]any{"a", ""}})
	require.NoError(t, err)
	reg := registry.New()
	reg.Provide(tool.NewFunc("t", params, func(context.Context, *tool.Base) error { return nil }, tool.WithNativeSource(nativeValues{"native"})), "t", "p")

	j := New(context.Background(), reg, Spec{Service: "t", Args: []any{"arg"}})
	v, _ := j.Parameters().Value("a")
	assert.Equal(t, "native", v)

	j = New(context.Background(), reg, Spec{Service: "t", Batch: true, Args: []any{"arg"}})
	v, _ = j.Parameters().Value("a")
	assert.Equal(t, "arg", v)
}

type nativeValues []any

func (n nativeValues) NativeValues() ([]any, error) { return n, nil }

func TestJobChaining(t *testing.T) {
	reg, _ := newRegistry(t)
	a := New(context.Background(), reg, Spec{Service: "aggregate"})
	b := New(context.Background(), reg, Spec{Service: "aggregate"})

	assert.Same(t, b, a.Then(b))
	assert.Same(t, b, a.Successor())
	assert.Same(t, a, b.Predecessor())
	assert.Nil(t, a.Predecessor())

	c := New(context.Background(), reg, Spec{Service: "aggregate"})
	c.SetPredecessor(b)
	b.SetSuccessor(c)
	assert.Same(t, c, b.Successor())
}

func TestSpecWithID(t *testing.T) {
	s := Spec{Service: "x"}.WithID()
	require.NotEmpty(t, s.ID)
	assert.Equal(t, s.ID, s.WithID().ID)
}
