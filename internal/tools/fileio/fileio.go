// Package fileio provides the builtin file iteration tools.
package fileio

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	fio "github.com/zupport/zupport/internal/fileio"
	"github.com/zupport/zupport/internal/plugin"
	"github.com/zupport/zupport/internal/tool"
)

// PluginName is the catalog name of the builtin file tools.
const PluginName = "fileio"

// ErrOddFileCount is returned by pairfileiterator when the files cannot
// be paired.
var ErrOddFileCount = errors.New("an even number of files is needed")

//go:embed templates/*.yaml
var templateFS embed.FS

// Module returns the builtin file tools.
func Module() plugin.Module {
	templates, _ := fs.Sub(templateFS, "templates")
	return plugin.NewModule(templates,
		plugin.ToolModule{Name: "fileiterator", Setup: setupFileIterator},
		plugin.ToolModule{Name: "pairfileiterator", Setup: setupPairFileIterator},
	)
}

// Importer is the catalog entry for Module.
func Importer(context.Context) (plugin.Module, error) {
	return Module(), nil
}

func setupFileIterator(params *tool.ParameterList) (tool.Tool, error) {
	return tool.NewFunc("fileiterator", params, runFileIterator), nil
}

func setupPairFileIterator(params *tool.ParameterList) (tool.Tool, error) {
	return tool.NewFunc("pairfileiterator", params, runPairFileIterator), nil
}

// runFileIterator lists a workspace. With a template the files are
// parsed, and with group_by they are grouped: every group becomes an
// output named by its label holding the member paths.
func runFileIterator(_ context.Context, b *tool.Base) error {
	if err := b.ValidateParameters(); err != nil {
		return err
	}
	params := b.Parameters()
	dir := stringValue(params, "input_workspace")
	wildcard := stringValue(params, "wildcard")
	template := stringValue(params, "template")
	opts := []fio.Option{fio.WithLogger(b.Logger())}

	if template == "" {
		ws, err := fio.NewWorkspace(dir, wildcard, opts...)
		if err != nil {
			return err
		}
		b.SetOutput("files", ws.Files())
		return nil
	}

	groupBy, err := tagList(mustValue(params, "group_by"))
	if err != nil {
		return err
	}
	mapping, err := toMapping(mustValue(params, "mapping"))
	if err != nil {
		return err
	}

	it, err := fio.NewFileGroupIterator(dir, wildcard, template, groupBy, mapping, opts...)
	if err != nil {
		return err
	}
	if len(groupBy) == 0 {
		b.SetOutput("files", paths(it.Workspace().Files()))
		return nil
	}

	b.Logger().Debug("Grouping workspace.", "path", dir, "tags", groupBy, "groups", it.Len())
	for grp := range it.All() {
		b.SetOutput(grp.Label(), paths(grp.Members))
	}
	return nil
}

// runPairFileIterator pairs consecutive files of a parsed workspace.
// Pairs whose ID1 and ID2 tags agree are reported as pair_N outputs,
// the others are logged and skipped.
func runPairFileIterator(_ context.Context, b *tool.Base) error {
	if err := b.ValidateParameters(); err != nil {
		return err
	}
	params := b.Parameters()
	dir := stringValue(params, "input_workspace")
	wildcard := stringValue(params, "wildcard")
	template := stringValue(params, "template")
	debug, _ := mustValue(params, "debug").(bool)
	logger := b.Logger()

	logger.Debug("Parsing workspace.", "path", dir, "template", template)
	ws, err := fio.NewParsedWorkspace(template, dir, wildcard, fio.WithLogger(logger))
	if err != nil {
		return err
	}
	files := ws.Files()
	if len(files)%2 != 0 {
		return fmt.Errorf("%w: %d files in %s", ErrOddFileCount, len(files), dir)
	}

	n := 0
	for i := 0; i < len(files); i += 2 {
		a, c := files[i], files[i+1]
		if !sameTags(a, c, "ID1", "ID2") {
			logger.Warn("Files do not form a pair.", "a", a.Name(), "b", c.Name())
			continue
		}
		if debug {
			logger.Info("Pair.", "a", a.Name(), "b", c.Name())
		}
		n++
		b.SetOutput(fmt.Sprintf("pair_%d", n), []string{a.Path(), c.Path()})
	}
	b.SetOutput("pairs", n)
	return nil
}

func sameTags(a, b *fio.ParsedFileName, tags ...string) bool {
	for _, tag := range tags {
		av, aok := a.Tag(tag)
		bv, bok := b.Tag(tag)
		if aok != bok || av != bv {
			return false
		}
	}
	return true
}

func paths(records []*fio.ParsedFileName) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Path()
	}
	return out
}

func mustValue(params *tool.ParameterList, name string) any {
	v, _ := params.Value(name)
	return v
}

func stringValue(params *tool.ParameterList, name string) string {
	switch v := mustValue(params, name).(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// tagList accepts "ID1,BODY2" or a list of tag names.
func tagList(v any) ([]string, error) {
	var out []string
	switch t := v.(type) {
	case nil:
	case string:
		for _, s := range strings.Split(t, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, t...)
	case []any:
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("group_by: tag must be a string, got %T", e)
			}
			out = append(out, s)
		}
	default:
		return nil, fmt.Errorf("group_by: unsupported value %T", v)
	}
	return out, nil
}

// toMapping accepts a map or "k=v,k=v". An empty value means no mapping.
func toMapping(v any) (fio.Mapping, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		m := fio.Mapping{}
		for _, pair := range strings.Split(t, ",") {
			k, val, ok := strings.Cut(pair, "=")
			if !ok {
				return nil, fmt.Errorf("mapping: %q is not key=value", pair)
			}
			m[strings.TrimSpace(k)] = strings.TrimSpace(val)
		}
		return m, nil
	case map[string]any:
		m := make(fio.Mapping, len(t))
		for k, val := range t {
			m[k] = fio.FormatValue(val)
		}
		return m, nil
	case map[any]any:
		m := make(fio.Mapping, len(t))
		for k, val := range t {
			m[fio.FormatValue(k)] = fio.FormatValue(val)
		}
		return m, nil
	case map[string]string:
		return fio.Mapping(t), nil
	default:
		return nil, fmt.Errorf("mapping: unsupported value %T", v)
	}
}
