// Package scheduler runs named job batches on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/zupport/zupport/internal/core"
	"github.com/zupport/zupport/internal/job"
)

// Runner queues job specs and drains the queue. *core.Manager implements it.
type Runner interface {
	AddJob(ctx context.Context, spec job.Spec) (string, error)
	RunJobs(ctx context.Context) (core.Summary, error)
}

// Schedule sources.
const (
	SourceConfig  = "config"
	SourceDynamic = "dynamic"
)

// Schedule is a named batch of jobs fired on a cron expression. Cron
// accepts the five standard fields or a descriptor such as "@every 1h".
type Schedule struct {
	Name   string     `yaml:"name" json:"name"`
	Cron   string     `yaml:"cron" json:"cron"`
	Jobs   []job.Spec `yaml:"jobs" json:"jobs"`
	Paused bool       `yaml:"paused,omitempty" json:"paused,omitempty"`
	Source string     `yaml:"source,omitempty" json:"source,omitempty"`
}

var (
	ErrConfigProtected = errors.New("config-defined schedules cannot be modified or removed")
	ErrNotFound        = errors.New("schedule not found")
)

func (s Schedule) validate() error {
	if s.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if _, err := cron.ParseStandard(s.Cron); err != nil {
		return fmt.Errorf("invalid cron expression for schedule %q: %w", s.Name, err)
	}
	if len(s.Jobs) == 0 {
		return fmt.Errorf("schedule %q has no jobs", s.Name)
	}
	for i, spec := range s.Jobs {
		if spec.Service == "" {
			return fmt.Errorf("schedule %q: job %d has no service", s.Name, i)
		}
	}
	return nil
}

type entry struct {
	schedule Schedule
	id       cron.EntryID
	active   bool
}

// Scheduler fires schedules on a cron and hands their jobs to a Runner.
type Scheduler struct {
	mu        sync.RWMutex
	schedules map[string]*entry
	cron      *cron.Cron
	runner    Runner
	dataDir   string
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. Dynamic schedules are persisted under
// dataDir/scheduler; an empty dataDir keeps them in memory only.
func New(runner Runner, dataDir string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		schedules: make(map[string]*entry),
		cron: cron.New(
			cron.WithLogger(cronLogger{logger}),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
		),
		runner:  runner,
		dataDir: dataDir,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers the static schedules and the persisted dynamic ones,
// then starts the cron. Invalid schedules are logged and skipped.
func (s *Scheduler) Start(static []Schedule) error {
	for _, sc := range static {
		sc.Source = SourceConfig
		if err := s.add(sc); err != nil {
			s.logger.Warn("Skipping static schedule.", "schedule", sc.Name, "error", err)
		}
	}

	dynamic, err := s.loadDynamic()
	if err != nil {
		s.logger.Error("Loading dynamic schedules failed.", "error", err)
	}
	for _, sc := range dynamic {
		sc.Source = SourceDynamic
		if err := s.add(sc); err != nil {
			s.logger.Warn("Skipping dynamic schedule.", "schedule", sc.Name, "error", err)
		}
	}

	s.cron.Start()
	s.logger.Info("Scheduler started.", "schedules", len(s.List()))
	return nil
}

// Stop stops the cron and waits for running batches to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// Add registers a dynamic schedule and persists it.
func (s *Scheduler) Add(sc Schedule) error {
	sc.Source = SourceDynamic
	if err := s.add(sc); err != nil {
		return err
	}
	return s.persistDynamic()
}

// Remove deletes a dynamic schedule.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	e, ok := s.schedules[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if e.schedule.Source == SourceConfig {
		s.mu.Unlock()
		return ErrConfigProtected
	}
	s.deactivate(e)
	delete(s.schedules, name)
	s.mu.Unlock()

	return s.persistDynamic()
}

// Pause stops firing a schedule until Resume.
func (s *Scheduler) Pause(name string) error {
	s.mu.Lock()
	e, ok := s.schedules[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	s.deactivate(e)
	e.schedule.Paused = true
	s.mu.Unlock()

	return s.persistDynamic()
}

// Resume re-activates a paused schedule.
func (s *Scheduler) Resume(name string) error {
	s.mu.Lock()
	e, ok := s.schedules[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if !e.schedule.Paused {
		s.mu.Unlock()
		return fmt.Errorf("schedule %q is not paused", name)
	}
	e.schedule.Paused = false
	err := s.activate(e)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.persistDynamic()
}

// Update changes the cron expression of a dynamic schedule and
// un-pauses it.
func (s *Scheduler) Update(name, expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	s.mu.Lock()
	e, ok := s.schedules[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if e.schedule.Source == SourceConfig {
		s.mu.Unlock()
		return ErrConfigProtected
	}
	s.deactivate(e)
	e.schedule.Cron = expr
	e.schedule.Paused = false
	err := s.activate(e)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.persistDynamic()
}

// List returns every schedule sorted by name.
func (s *Scheduler) List() []Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Schedule, 0, len(s.schedules))
	for _, e := range s.schedules {
		out = append(out, e.schedule)
	}
	slices.SortFunc(out, func(a, b Schedule) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Get returns a schedule by name.
func (s *Scheduler) Get(name string) (Schedule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.schedules[name]
	if !ok {
		return Schedule{}, false
	}
	return e.schedule, true
}

// Next returns the next time the schedule fires, or the zero time when
// it is paused or the cron is not running.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.RLock()
	e, ok := s.schedules[name]
	s.mu.RUnlock()
	if !ok || !e.active {
		return time.Time{}
	}
	return s.cron.Entry(e.id).Next
}

// RunNow fires a schedule immediately on the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) (core.Summary, error) {
	sc, ok := s.Get(name)
	if !ok {
		return core.Summary{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s.fire(ctx, sc)
}

func (s *Scheduler) add(sc Schedule) error {
	if err := sc.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[sc.Name]; exists {
		return fmt.Errorf("schedule %q already exists", sc.Name)
	}
	e := &entry{schedule: sc}
	if !sc.Paused {
		if err := s.activate(e); err != nil {
			return err
		}
	}
	s.schedules[sc.Name] = e
	return nil
}

// activate and deactivate expect s.mu to be held.
func (s *Scheduler) activate(e *entry) error {
	name := e.schedule.Name
	id, err := s.cron.AddFunc(e.schedule.Cron, func() { s.fireByName(name) })
	if err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	e.id = id
	e.active = true
	return nil
}

func (s *Scheduler) deactivate(e *entry) {
	if e.active {
		s.cron.Remove(e.id)
		e.active = false
	}
}

func (s *Scheduler) fireByName(name string) {
	sc, ok := s.Get(name)
	if !ok || sc.Paused {
		return
	}
	if _, err := s.fire(s.ctx, sc); err != nil {
		s.logger.Error("Scheduled run failed.", "schedule", name, "error", err)
	}
}

// fire queues the schedule's jobs under fresh IDs and drains the queue.
func (s *Scheduler) fire(ctx context.Context, sc Schedule) (core.Summary, error) {
	logger := s.logger.With("schedule", sc.Name)
	logger.Info("Firing schedule.", "jobs", len(sc.Jobs))
	for _, spec := range sc.Jobs {
		spec.ID = ""
		if _, err := s.runner.AddJob(ctx, spec); err != nil {
			return core.Summary{}, fmt.Errorf("queue %s: %w", spec.Service, err)
		}
	}
	sum, err := s.runner.RunJobs(ctx)
	if err != nil {
		return sum, err
	}
	logger.Info("Schedule finished.", "succeeded", sum.Succeeded, "failed", sum.Failed, "skipped", sum.Skipped)
	return sum, nil
}

func (s *Scheduler) persistPath() string {
	return filepath.Join(s.dataDir, "scheduler", "schedules.yaml")
}

func (s *Scheduler) persistDynamic() error {
	if s.dataDir == "" {
		return nil
	}

	var dynamic []Schedule
	for _, sc := range s.List() {
		if sc.Source == SourceDynamic {
			dynamic = append(dynamic, sc)
		}
	}

	dir := filepath.Dir(s.persistPath())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating scheduler dir: %w", err)
	}
	data, err := yaml.Marshal(dynamic)
	if err != nil {
		return fmt.Errorf("marshaling schedules: %w", err)
	}
	return os.WriteFile(s.persistPath(), data, 0600)
}

func (s *Scheduler) loadDynamic() ([]Schedule, error) {
	if s.dataDir == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.persistPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading schedules file: %w", err)
	}
	var schedules []Schedule
	if err := yaml.Unmarshal(data, &schedules); err != nil {
		return nil, fmt.Errorf("parsing schedules file: %w", err)
	}
	return schedules, nil
}

// cronLogger routes cron's logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
