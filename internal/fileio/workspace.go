package fileio

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Option configures a Workspace.
type Option func(*options)

type options struct {
	recursive bool
	logger    *slog.Logger
}

// WithRecursive requests scanning of sub directories. Recursive scans
// are not implemented; a refresh with this option set leaves the file
// list unchanged.
func WithRecursive(recursive bool) Option {
	return func(o *options) { o.recursive = recursive }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	o.logger = o.logger.With("component", "workspace")
	return o
}

// Workspace lists the files of a directory that match a glob wildcard.
// Next consumes the list front to back.
type Workspace struct {
	path     string
	wildcard string
	opts     options
	files    []string
}

// NewWorkspace scans path for files matching wildcard. The path must
// exist.
func NewWorkspace(path, wildcard string, opts ...Option) (*Workspace, error) {
	ws := &Workspace{wildcard: wildcard, opts: buildOptions(opts)}
	if err := ws.SetPath(path); err != nil {
		return nil, err
	}
	if err := ws.Refresh(); err != nil {
		return nil, err
	}
	return ws, nil
}

func (w *Workspace) Path() string { return w.path }
func (w *Workspace) Wildcard() string { return w.wildcard }
func (w *Workspace) Recursive() bool { return w.opts.recursive }

// SetPath points the workspace at another existing directory. The file
// list is not refreshed.
func (w *Workspace) SetPath(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("workspace path %s does not exist: %w", path, err)
	}
	w.path = path
	return nil
}

// Files returns the remaining file paths.
func (w *Workspace) Files() []string {
	out := make([]string, len(w.files))
	copy(out, w.files)
	return out
}

func (w *Workspace) Len() int { return len(w.files) }

// Next pops the first remaining file.
func (w *Workspace) Next() (string, bool) {
	if len(w.files) == 0 {
		return "", false
	}
	f := w.files[0]
	w.files = w.files[1:]
	return f, true
}

// SetFilter changes the wildcard and refreshes the list.
func (w *Workspace) SetFilter(wildcard string) error {
	w.wildcard = wildcard
	return w.Refresh()
}

// Refresh lists the files again.
func (w *Workspace) Refresh() error {
	files, ok, err := scan(w.path, w.wildcard, w.opts)
	if err != nil || !ok {
		return err
	}
	w.files = files
	return nil
}

func (w *Workspace) String() string {
	names := make([]string, len(w.files))
	for i, f := range w.files {
		names[i] = filepath.Base(f)
	}
	return strings.Join(names, "\n")
}

// scan globs dir/wildcard, skipping dot files. ok is false when the scan was skipped.
func scan(dir, wildcard string, o options) ([]string, bool, error) {
	if o.recursive {
		o.logger.Warn("Recursive workspace scanning is not implemented, file list left unchanged.", "path", dir)
		return nil, false, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, wildcard))
	if err != nil {
		return nil, false, fmt.Errorf("scanning %s for %q: %w", dir, wildcard, err)
	}
	// hidden files only match a wildcard that asks for them
	files := matches[:0]
	for _, f := range matches {
		if strings.HasPrefix(filepath.Base(f), ".") && !strings.HasPrefix(wildcard, ".") {
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		o.logger.Info("Created an empty workspace.", "path", dir, "wildcard", wildcard)
	}
	return files, true, nil
}

// ParsedWorkspace is a Workspace whose files are parsed against a
// template.
type ParsedWorkspace struct {
	path     string
	wildcard string
	template *Template
	opts     options
	records  []*ParsedFileName
}

// NewParsedWorkspace scans path and parses every matching file name.
// A single non-conforming name fails the whole scan.
func NewParsedWorkspace(template, path, wildcard string, opts ...Option) (*ParsedWorkspace, error) {
	t, err := ParseTemplate(template)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("workspace path %s does not exist: %w", path, err)
	}
	ws := &ParsedWorkspace{
		path:     path,
		wildcard: wildcard,
		template: t,
		opts:     buildOptions(opts),
	}
	if err := ws.Refresh(); err != nil {
		return nil, err
	}
	return ws, nil
}

func (w *ParsedWorkspace) Path() string { return w.path }
func (w *ParsedWorkspace) Wildcard() string { return w.wildcard }
func (w *ParsedWorkspace) Template() *Template { return w.template }

// Refresh replaces every record with a freshly parsed one. On error the
// previous records are kept.
func (w *ParsedWorkspace) Refresh() error {
	files, ok, err := scan(w.path, w.wildcard, w.opts)
	if err != nil || !ok {
		return err
	}
	records := make([]*ParsedFileName, 0, len(files))
	for _, f := range files {
		rec, err := w.template.Parse(f)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	w.records = records
	w.opts.logger.Debug("Workspace parsed.", "path", w.path, "template", w.template.raw, "files", len(records))
	return nil
}

func (w *ParsedWorkspace) Len() int { return len(w.records) }

// At returns the record at index i.
func (w *ParsedWorkspace) At(i int) (*ParsedFileName, error) {
	if i < 0 || i >= len(w.records) {
		return nil, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, len(w.records))
	}
	return w.records[i], nil
}

// Files returns the current records.
func (w *ParsedWorkspace) Files() []*ParsedFileName {
	out := make([]*ParsedFileName, len(w.records))
	copy(out, w.records)
	return out
}

// Next pops the first remaining record.
func (w *ParsedWorkspace) Next() (*ParsedFileName, bool) {
	if len(w.records) == 0 {
		return nil, false
	}
	r := w.records[0]
	w.records = w.records[1:]
	return r, true
}
