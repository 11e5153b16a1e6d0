package plugin

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zupport/zupport/internal/lua"
	"github.com/zupport/zupport/internal/tool"
)

// LuaModule exposes the Lua scripts of a directory as tools. Every
// "{tool}.lua" script defines run(params) and sits next to its
// "{tool}.yaml" template.
type LuaModule struct {
	dir     string
	scripts []string
	logger  *slog.Logger
}

// LuaImporter returns an importer for the scripts in dir.
func LuaImporter(dir string, logger *slog.Logger) Importer {
	return func(context.Context) (Module, error) {
		return NewLuaModule(dir, logger)
	}
}

func NewLuaModule(dir string, logger *slog.Logger) (*LuaModule, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading lua plugin dir: %w", err)
	}
	var scripts []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".lua" {
			continue
		}
		scripts = append(scripts, strings.TrimSuffix(e.Name(), ".lua"))
	}
	sort.Strings(scripts)
	return &LuaModule{dir: dir, scripts: scripts, logger: logger.With("component", "lua-plugin")}, nil
}

func (m *LuaModule) Templates() fs.FS { return os.DirFS(m.dir) }

func (m *LuaModule) Tools() []ToolModule {
	out := make([]ToolModule, 0, len(m.scripts))
	for _, name := range m.scripts {
		script := filepath.Join(m.dir, name+".lua")
		out = append(out, ToolModule{
			Name: name,
			Setup: func(params *tool.ParameterList) (tool.Tool, error) {
				return &luaTool{
					Base:   tool.NewBase(name, params, tool.WithLogger(m.logger)),
					script: script,
				}, nil
			},
		})
	}
	return out
}

type luaTool struct {
	*tool.Base
	script string
}

func (t *luaTool) Run(ctx context.Context) error {
	t.ResetOutputs()
	if err := t.ValidateParameters(); err != nil {
		return err
	}
	res, err := lua.RunTool(ctx, t.script, t.Parameters().Map(), t.Logger())
	if err != nil {
		return fmt.Errorf("%s: %w", t.Service(), err)
	}
	keys := make([]string, 0, len(res.Outputs))
	for k := range res.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		t.SetOutput(k, res.Outputs[k])
	}
	return nil
}
