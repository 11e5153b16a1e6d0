package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zupport/zupport/internal/tool"
)

// ErrNotFound is returned when no result has the requested ID.
var ErrNotFound = errors.New("result not found")

// Status is the state of a job result.
type Status int

const (
	StatusNew Status = iota
	StatusSubmitted
	StatusWaiting
	StatusExecuting
	StatusSucceeded
	StatusFailed
	StatusTimedOut
	StatusCancelling
	StatusCancelled
	StatusDeleting
	StatusDeleted
)

var statusNames = [...]string{
	"new", "submitted", "waiting", "executing", "succeeded", "failed",
	"timed out", "cancelling", "cancelled", "deleting", "deleted",
}

func (s Status) String() string {
	if s.Valid() {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool { return s >= StatusNew && s <= StatusDeleted }

// Severity of a result message.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// Message is a note attached to a result while the job ran.
type Message struct {
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
}

// Result records one job run.
type Result struct {
	ID         string
	JobID      string
	Service    string
	Plugin     string
	Status     Status
	Params     map[string]any
	Outputs    []tool.Output
	Messages   []Message
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// AddMessage appends a message to the result.
func (r *Result) AddMessage(sev Severity, text string) {
	r.Messages = append(r.Messages, Message{Severity: sev, Text: text})
}

// MaxSeverity returns the highest message severity, SeverityInfo
// without messages.
func (r *Result) MaxSeverity() Severity {
	top := SeverityInfo
	for _, m := range r.Messages {
		if m.Severity > top {
			top = m.Severity
		}
	}
	return top
}

// Output returns the named output.
func (r *Result) Output(name string) (any, bool) {
	for _, o := range r.Outputs {
		if o.Name == name {
			return o.Value, true
		}
	}
	return nil, false
}

// Duration is how long the job ran, or zero while unfinished.
func (r *Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ResultStore reads and writes results.
type ResultStore struct {
	db *DB
}

func NewResultStore(db *DB) *ResultStore {
	return &ResultStore{db: db}
}

const resultColumns = "id, job_id, service, plugin, status, params, outputs, messages, error, started_at, finished_at"

// Save inserts or replaces r. An empty ID is filled with a new UUID.
func (s *ResultStore) Save(ctx context.Context, r *Result) error {
	if !r.Status.Valid() {
		return fmt.Errorf("save result: invalid status %d", int(r.Status))
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	params, err := marshal(r.Params, "{}")
	if err != nil {
		return fmt.Errorf("save result: params: %w", err)
	}
	outputs, err := marshal(r.Outputs, "[]")
	if err != nil {
		return fmt.Errorf("save result: outputs: %w", err)
	}
	messages, err := marshal(r.Messages, "[]")
	if err != nil {
		return fmt.Errorf("save result: messages: %w", err)
	}
	var finished int64
	if !r.FinishedAt.IsZero() {
		finished = r.FinishedAt.UnixNano()
	}

	q := s.db.rebind(`INSERT INTO results (` + resultColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			job_id = excluded.job_id, service = excluded.service, plugin = excluded.plugin,
			status = excluded.status, params = excluded.params, outputs = excluded.outputs,
			messages = excluded.messages, error = excluded.error,
			started_at = excluded.started_at, finished_at = excluded.finished_at`)
	_, err = s.db.db.ExecContext(ctx, q,
		r.ID, r.JobID, r.Service, r.Plugin, int(r.Status), params, outputs, messages, r.Error,
		r.StartedAt.UnixNano(), finished)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

func marshal(v any, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

// SetStatus updates the status of a stored result.
func (s *ResultStore) SetStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("set status: invalid status %d", int(status))
	}
	res, err := s.db.db.ExecContext(ctx, s.db.rebind("UPDATE results SET status = ? WHERE id = ?"), int(status), id)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Get returns the result with the given ID.
func (s *ResultStore) Get(ctx context.Context, id string) (*Result, error) {
	row := s.db.db.QueryRowContext(ctx, s.db.rebind("SELECT "+resultColumns+" FROM results WHERE id = ?"), id)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// ListOptions filters List. Zero values match everything.
type ListOptions struct {
	Service string
	JobID   string
	Status  *Status
	Limit   int
}

// List returns results, newest first.
func (s *ResultStore) List(ctx context.Context, opts ListOptions) ([]*Result, error) {
	var (
		where []string
		args  []any
	)
	if opts.Service != "" {
		where = append(where, "service = ?")
		args = append(args, opts.Service)
	}
	if opts.JobID != "" {
		where = append(where, "job_id = ?")
		args = append(args, opts.JobID)
	}
	if opts.Status != nil {
		where = append(where, "status = ?")
		args = append(args, int(*opts.Status))
	}
	q := "SELECT " + resultColumns + " FROM results"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY started_at DESC, id"
	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.db.QueryContext(ctx, s.db.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []*Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes a result.
func (s *ResultStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.db.ExecContext(ctx, s.db.rebind("DELETE FROM results WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(sc scanner) (*Result, error) {
	var (
		r                         Result
		status                    int
		params, outputs, messages string
		started, finished         int64
	)
	if err := sc.Scan(&r.ID, &r.JobID, &r.Service, &r.Plugin, &status, &params, &outputs, &messages, &r.Error, &started, &finished); err != nil {
		return nil, err
	}
	r.Status = Status(status)
	if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
		return nil, fmt.Errorf("result %s: params: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(outputs), &r.Outputs); err != nil {
		return nil, fmt.Errorf("result %s: outputs: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(messages), &r.Messages); err != nil {
		return nil, fmt.Errorf("result %s: messages: %w", r.ID, err)
	}
	r.StartedAt = time.Unix(0, started)
	if finished != 0 {
		r.FinishedAt = time.Unix(0, finished)
	}
	return &r, nil
}
