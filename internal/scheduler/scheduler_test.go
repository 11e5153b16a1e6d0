package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zupport/zupport/internal/core"
	"github.com/zupport/zupport/internal/job"
)

type fakeRunner struct {
	mu     sync.Mutex
	queued []job.Spec
	runs   int
	err    error
}

func (f *fakeRunner) AddJob(_ context.Context, spec job.Spec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	spec = spec.WithID()
	f.queued = append(f.queued, spec)
	return spec.ID, nil
}

func (f *fakeRunner) RunJobs(context.Context) (core.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	sum := core.Summary{Succeeded: len(f.queued)}
	f.queued = nil
	return sum, nil
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func nightly(name string) Schedule {
	return Schedule{
		Name: name,
		Cron: "0 3 * * *",
		Jobs: []job.Spec{{Service: "fileiterator", Batch: true}},
	}
}

func TestScheduleValidate(t *testing.T) {
	tests := []struct {
		name string
		s    Schedule
		ok   bool
	}{
		{"valid", nightly("a"), true},
		{"descriptor", Schedule{Name: "a", Cron: "@every 1h", Jobs: nightly("a").Jobs}, true},
		{"no name", Schedule{Cron: "@daily", Jobs: nightly("a").Jobs}, false},
		{"bad cron", Schedule{Name: "a", Cron: "every day", Jobs: nightly("a").Jobs}, false},
		{"no jobs", Schedule{Name: "a", Cron: "@daily"}, false},
		{"no service", Schedule{Name: "a", Cron: "@daily", Jobs: []job.Spec{{}}}, false},
	}
	for _, tc := range tests {
		err := tc.s.validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestStartStaticAndDynamic(t *testing.T) {
	dir := t.TempDir()
	s := New(&fakeRunner{}, dir, nil)
	if err := s.Add(nightly("dyn")); err != nil {
		t.Fatal(err)
	}

	// a new scheduler picks up the persisted dynamic schedule
	s2 := New(&fakeRunner{}, dir, nil)
	if err := s2.Start([]Schedule{nightly("static"), {Name: "broken", Cron: "x"}}); err != nil {
		t.Fatal(err)
	}
	defer s2.Stop()

	list := s2.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 schedules, got %d", len(list))
	}
	if list[0].Name != "dyn" || list[0].Source != SourceDynamic {
		t.Errorf("unexpected first schedule %+v", list[0])
	}
	if list[1].Name != "static" || list[1].Source != SourceConfig {
		t.Errorf("unexpected second schedule %+v", list[1])
	}
	if s2.Next("static").IsZero() {
		t.Error("expected a next run time for an active schedule")
	}
}

func TestStaticSchedulesAreProtected(t *testing.T) {
	s := New(&fakeRunner{}, t.TempDir(), nil)
	if err := s.Start([]Schedule{nightly("static")}); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if err := s.Remove("static"); !errors.Is(err, ErrConfigProtected) {
		t.Errorf("Remove: expected ErrConfigProtected, got %v", err)
	}
	if err := s.Update("static", "@hourly"); !errors.Is(err, ErrConfigProtected) {
		t.Errorf("Update: expected ErrConfigProtected, got %v", err)
	}
	// pausing is allowed
	if err := s.Pause("static"); err != nil {
		t.Errorf("Pause: %v", err)
	}
}

func TestAddDuplicate(t *testing.T) {
	s := New(&fakeRunner{}, "", nil)
	if err := s.Add(nightly("a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(nightly("a")); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("expected duplicate error, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	s := New(&fakeRunner{}, dir, nil)
	if err := s.Add(nightly("a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("a"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get("a"); ok {
		t.Error("schedule still present after Remove")
	}
	if err := s.Remove("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "scheduler", "schedules.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "name: a") {
		t.Errorf("removed schedule still persisted:\n%s", data)
	}
}

func TestPauseResume(t *testing.T) {
	dir := t.TempDir()
	s := New(&fakeRunner{}, dir, nil)
	if err := s.Start(nil); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	if err := s.Add(nightly("a")); err != nil {
		t.Fatal(err)
	}

	if err := s.Resume("a"); err == nil {
		t.Error("expected error resuming an active schedule")
	}
	if err := s.Pause("a"); err != nil {
		t.Fatal(err)
	}
	if sc, _ := s.Get("a"); !sc.Paused {
		t.Error("expected schedule to be paused")
	}
	if !s.Next("a").IsZero() {
		t.Error("paused schedule has a next run")
	}

	// paused state survives a restart
	s2 := New(&fakeRunner{}, dir, nil)
	if err := s2.Start(nil); err != nil {
		t.Fatal(err)
	}
	defer s2.Stop()
	if sc, ok := s2.Get("a"); !ok || !sc.Paused {
		t.Errorf("expected persisted paused schedule, got %+v", sc)
	}

	if err := s.Resume("a"); err != nil {
		t.Fatal(err)
	}
	if sc, _ := s.Get("a"); sc.Paused {
		t.Error("expected schedule to be active")
	}
	if err := s.Pause("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	s := New(&fakeRunner{}, "", nil)
	if err := s.Add(nightly("a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Update("a", "not cron"); err == nil {
		t.Error("expected error for invalid cron")
	}
	if err := s.Update("a", "@hourly"); err != nil {
		t.Fatal(err)
	}
	if sc, _ := s.Get("a"); sc.Cron != "@hourly" {
		t.Errorf("cron = %q, want @hourly", sc.Cron)
	}
}

func TestRunNowQueuesFreshIDs(t *testing.T) {
	r := &fakeRunner{}
	s := New(r, "", nil)
	sc := nightly("a")
	sc.Jobs[0].ID = "fixed"
	sc.Jobs = append(sc.Jobs, job.Spec{Service: "pairfileiterator"})
	if err := s.Add(sc); err != nil {
		t.Fatal(err)
	}

	sum, err := s.RunNow(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Succeeded != 2 {
		t.Errorf("expected 2 jobs run, got %d", sum.Succeeded)
	}
	if r.runCount() != 1 {
		t.Errorf("expected one drain, got %d", r.runCount())
	}

	if _, err := s.RunNow(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunNowQueueError(t *testing.T) {
	r := &fakeRunner{err: errors.New("queue down")}
	s := New(r, "", nil)
	if err := s.Add(nightly("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RunNow(context.Background(), "a"); err == nil {
		t.Fatal("expected queue error")
	}
	if r.runCount() != 0 {
		t.Error("queue should not be drained after a failed push")
	}
}

func TestCronFires(t *testing.T) {
	r := &fakeRunner{}
	s := New(r, "", nil)
	if err := s.Start([]Schedule{{Name: "tick", Cron: "@every 1s", Jobs: nightly("").Jobs}}); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for r.runCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if r.runCount() == 0 {
		t.Fatal("schedule never fired")
	}
}
