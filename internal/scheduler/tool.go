package scheduler

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/zupport/zupport/internal/job"
	"github.com/zupport/zupport/internal/plugin"
	"github.com/zupport/zupport/internal/tool"
)

// PluginName is the catalog name of the scheduler's tools.
const PluginName = "scheduler"

//go:embed templates/*.yaml
var templateFS embed.FS

// Module exposes schedule management as tools so that schedules can be
// created from job files like any other service.
func (s *Scheduler) Module() plugin.Module {
	templates, _ := fs.Sub(templateFS, "templates")
	return plugin.NewModule(templates,
		plugin.ToolModule{Name: "schedule_list", Setup: s.setup("schedule_list", s.runList)},
		plugin.ToolModule{Name: "schedule_add", Setup: s.setup("schedule_add", s.runAdd)},
		plugin.ToolModule{Name: "schedule_remove", Setup: s.setup("schedule_remove", s.byName(s.Remove))},
		plugin.ToolModule{Name: "schedule_pause", Setup: s.setup("schedule_pause", s.byName(s.Pause))},
		plugin.ToolModule{Name: "schedule_resume", Setup: s.setup("schedule_resume", s.byName(s.Resume))},
	)
}

// Importer returns a catalog entry for Module.
func (s *Scheduler) Importer() plugin.Importer {
	return func(context.Context) (plugin.Module, error) { return s.Module(), nil }
}

type runFunc func(ctx context.Context, b *tool.Base) error

func (s *Scheduler) setup(service string, run runFunc) plugin.SetupFunc {
	return func(params *tool.ParameterList) (tool.Tool, error) {
		return tool.NewFunc(service, params, func(ctx context.Context, b *tool.Base) error {
			if err := b.ValidateParameters(); err != nil {
				return err
			}
			return run(ctx, b)
		}, tool.WithLogger(s.logger)), nil
	}
}

func (s *Scheduler) runList(_ context.Context, b *tool.Base) error {
	for _, sc := range s.List() {
		state := "active"
		if sc.Paused {
			state = "paused"
		}
		b.SetOutput(sc.Name, fmt.Sprintf("%s (%s, %s, %d jobs)", sc.Cron, sc.Source, state, len(sc.Jobs)))
	}
	return nil
}

func (s *Scheduler) runAdd(_ context.Context, b *tool.Base) error {
	name, err := stringParam(b, "name")
	if err != nil {
		return err
	}
	expr, err := stringParam(b, "cron")
	if err != nil {
		return err
	}
	path, err := stringParam(b, "job_file")
	if err != nil {
		return err
	}
	specs, err := job.LoadSpecs(path)
	if err != nil {
		return err
	}
	if err := s.Add(Schedule{Name: name, Cron: expr, Jobs: specs}); err != nil {
		return err
	}
	b.SetOutput("schedule", name)
	b.SetOutput("next", s.Next(name))
	return nil
}

func (s *Scheduler) byName(op func(name string) error) runFunc {
	return func(_ context.Context, b *tool.Base) error {
		name, err := stringParam(b, "name")
		if err != nil {
			return err
		}
		if err := op(name); err != nil {
			return err
		}
		b.SetOutput("schedule", name)
		return nil
	}
}

func stringParam(b *tool.Base, name string) (string, error) {
	v, err := b.Parameters().Value(name)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", name, v)
	}
	return s, nil
}
