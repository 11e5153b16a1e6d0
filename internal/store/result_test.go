package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zupport/zupport/internal/tool"
)

func openResults(t *testing.T) *ResultStore {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewResultStore(db)
}

func TestResultStore_SaveAndGet(t *testing.T) {
	rs := openResults(t)
	ctx := context.Background()

	started := time.Unix(1700000000, 123)
	r := &Result{
		JobID:     "job-1",
		Service:   "raster_sum",
		Plugin:    "zarcgis",
		Status:    StatusExecuting,
		Params:    map[string]any{"input": "a.img", "weight": 2},
		Outputs:   []tool.Output{{Name: "sum", Value: "out.img"}},
		StartedAt: started,
	}
	r.AddMessage(SeverityWarning, "no data value missing")
	if err := rs.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if r.ID == "" {
		t.Fatal("Save did not assign an ID")
	}

	got, err := rs.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.JobID != "job-1" || got.Service != "raster_sum" || got.Plugin != "zarcgis" {
		t.Errorf("got %+v", got)
	}
	if got.Status != StatusExecuting {
		t.Errorf("Status = %v, want executing", got.Status)
	}
	if got.Params["input"] != "a.img" || got.Params["weight"] != 2.0 {
		t.Errorf("Params = %#v", got.Params)
	}
	if v, ok := got.Output("sum"); !ok || v != "out.img" {
		t.Errorf("Output(sum) = %v, %v", v, ok)
	}
	if len(got.Messages) != 1 || got.MaxSeverity() != SeverityWarning {
		t.Errorf("Messages = %+v", got.Messages)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if !got.FinishedAt.IsZero() || got.Duration() != 0 {
		t.Errorf("unfinished result has FinishedAt %v", got.FinishedAt)
	}

	// Save again updates in place.
	r.Status = StatusSucceeded
	r.FinishedAt = started.Add(3 * time.Second)
	if err := rs.Save(ctx, r); err != nil {
		t.Fatalf("Save update: %v", err)
	}
	got, err = rs.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got.Status != StatusSucceeded || got.Duration() != 3*time.Second {
		t.Errorf("after update: status %v duration %v", got.Status, got.Duration())
	}
}

func TestResultStore_EmptyCollections(t *testing.T) {
	rs := openResults(t)
	ctx := context.Background()
	r := &Result{JobID: "j", Service: "noop"}
	if err := rs.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := rs.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Params) != 0 || len(got.Outputs) != 0 || len(got.Messages) != 0 {
		t.Errorf("expected empty collections, got %+v", got)
	}
	if got.StartedAt.IsZero() {
		t.Error("Save should stamp StartedAt")
	}
}

func TestResultStore_NotFound(t *testing.T) {
	rs := openResults(t)
	ctx := context.Background()
	if _, err := rs.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get: %v, want ErrNotFound", err)
	}
	if err := rs.SetStatus(ctx, "missing", StatusFailed); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetStatus: %v, want ErrNotFound", err)
	}
	if err := rs.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete: %v, want ErrNotFound", err)
	}
}

func TestResultStore_InvalidStatus(t *testing.T) {
	rs := openResults(t)
	ctx := context.Background()
	if err := rs.Save(ctx, &Result{Service: "x", Status: Status(42)}); err == nil {
		t.Error("Save accepted invalid status")
	}
	r := &Result{Service: "x"}
	if err := rs.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := rs.SetStatus(ctx, r.ID, Status(-1)); err == nil {
		t.Error("SetStatus accepted invalid status")
	}
}

func TestResultStore_ListAndDelete(t *testing.T) {
	rs := openResults(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i, svc := range []string{"a", "b", "a"} {
		r := &Result{
			JobID:     "job",
			Service:   svc,
			Status:    StatusSucceeded,
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}
		if svc == "b" {
			r.Status = StatusFailed
		}
		if err := rs.Save(ctx, r); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	all, err := rs.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List = %d results, want 3", len(all))
	}
	if !all[0].StartedAt.After(all[2].StartedAt) {
		t.Error("List should return newest first")
	}

	onlyA, err := rs.List(ctx, ListOptions{Service: "a"})
	if err != nil {
		t.Fatalf("List service: %v", err)
	}
	if len(onlyA) != 2 {
		t.Errorf("List(service=a) = %d, want 2", len(onlyA))
	}

	failed := StatusFailed
	fails, err := rs.List(ctx, ListOptions{Status: &failed})
	if err != nil {
		t.Fatalf("List status: %v", err)
	}
	if len(fails) != 1 || fails[0].Service != "b" {
		t.Errorf("List(status=failed) = %+v", fails)
	}

	limited, err := rs.List(ctx, ListOptions{Limit: 1})
	if err != nil {
		t.Fatalf("List limit: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("List(limit=1) = %d", len(limited))
	}

	if err := rs.SetStatus(ctx, fails[0].ID, StatusDeleted); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := rs.Delete(ctx, fails[0].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	all, _ = rs.List(ctx, ListOptions{})
	if len(all) != 2 {
		t.Errorf("after delete: %d results", len(all))
	}
}

func TestStatusString(t *testing.T) {
	if StatusTimedOut.String() != "timed out" {
		t.Errorf("StatusTimedOut = %q", StatusTimedOut.String())
	}
	if Status(99).String() != "Status(99)" {
		t.Errorf("Status(99) = %q", Status(99).String())
	}
}
