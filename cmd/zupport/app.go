package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/zupport/zupport/internal/config"
	"github.com/zupport/zupport/internal/core"
	"github.com/zupport/zupport/internal/job"
	"github.com/zupport/zupport/internal/metrics"
	"github.com/zupport/zupport/internal/plugin"
	"github.com/zupport/zupport/internal/scheduler"
	"github.com/zupport/zupport/internal/store"
	filetools "github.com/zupport/zupport/internal/tools/fileio"
)

// builtins are the plugins compiled into the binary. The scheduler is
// registered separately because it needs the manager.
var builtins = map[string]plugin.Importer{
	filetools.PluginName: filetools.Importer,
}

// app is the wired runtime shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *store.DB
	results   *store.ResultStore
	metrics   *metrics.Metrics
	redis     redis.UniversalClient
	manager   *core.Manager
	scheduler *scheduler.Scheduler
}

func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  newLogger(cfg.Log.Level, cfg.Log.Format, logOut),
		metrics: metrics.New(),
	}

	if err := a.openStore(); err != nil {
		return nil, err
	}
	queue, err := a.openQueue(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	catalog, err := a.catalog()
	if err != nil {
		a.close()
		return nil, err
	}

	a.manager = core.NewManager(ctx, core.Options{
		Catalog: catalog,
		Queue:   queue,
		Results: a.results,
		Metrics: a.metrics,
		Logger:  a.logger,
	})

	a.scheduler = scheduler.New(a.manager, cfg.DataDir, a.logger)
	if a.builtinEnabled(scheduler.PluginName) {
		if err := catalog.Register(scheduler.PluginName, a.scheduler.Importer()); err != nil {
			a.close()
			return nil, err
		}
		if _, err := a.manager.LoadPlugin(ctx, scheduler.PluginName); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openStore() error {
	var err error
	switch a.cfg.Store.Driver {
	case "none":
		return nil
	case store.DriverPostgres:
		a.db, err = store.OpenPostgres(a.cfg.Store.DSN)
	default:
		a.db, err = store.Open(a.cfg.DataDir)
	}
	if err != nil {
		return err
	}
	a.results = store.NewResultStore(a.db)
	return nil
}

func (a *app) openQueue(ctx context.Context) (job.Queue, error) {
	if a.cfg.Queue.Backend != "redis" {
		return job.NewMemoryQueue(), nil
	}
	a.redis = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{a.cfg.Queue.Addr},
		Password: a.cfg.Queue.Password,
		DB:       a.cfg.Queue.DB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", a.cfg.Queue.Addr, err)
	}
	return job.NewRedisQueue(a.redis, a.cfg.Queue.Key), nil
}

// catalog registers the enabled builtins and every configured lua and
// binary plugin.
func (a *app) catalog() (*plugin.Catalog, error) {
	c := plugin.NewCatalog()
	for _, name := range []string{filetools.PluginName} {
		if a.builtinEnabled(name) {
			if err := c.Register(name, builtins[name]); err != nil {
				return nil, err
			}
		}
	}
	for _, p := range a.cfg.EnabledPlugins() {
		var imp plugin.Importer
		switch p.Kind {
		case config.KindBuiltin:
			if _, ok := builtins[p.Name]; !ok && p.Name != scheduler.PluginName {
				return nil, fmt.Errorf("plugin %q: no builtin plugin with that name", p.Name)
			}
			continue
		case config.KindLua:
			imp = plugin.LuaImporter(p.Path, a.logger)
		case config.KindBinary:
			imp = plugin.BinaryImporter(p.Path, p.Args, p.Templates, a.logger)
		}
		if err := c.Register(p.Name, imp); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// builtinEnabled reports whether a builtin plugin is wanted. Builtins
// are on unless the config lists them as disabled.
func (a *app) builtinEnabled(name string) bool {
	for _, p := range a.cfg.Plugins {
		if p.Name == name && p.Kind == config.KindBuiltin {
			return !p.Disabled
		}
	}
	return true
}

func (a *app) close() error {
	var errs []error
	if a.manager != nil {
		errs = append(errs, a.manager.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
