package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zupport/zupport/internal/tool"
	pkg "github.com/zupport/zupport/pkg/plugin"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultDialTimeout      = 5 * time.Second
	defaultStopGrace        = 5 * time.Second
)

// BinaryModule is a plugin running as a separate executable that speaks
// the protocol of pkg/plugin. Parameter templates are read from the
// directory holding the executable.
type BinaryModule struct {
	proc      *Process
	client    *Client
	templates fs.FS
	logger    *slog.Logger
}

// BinaryImporter returns an importer that starts the executable at path.
// A "tcp://host:port" path connects to an already running plugin instead;
// templateDir then names where its templates live.
func BinaryImporter(path string, args []string, templateDir string, logger *slog.Logger) Importer {
	return func(ctx context.Context) (Module, error) {
		return StartBinary(ctx, path, args, templateDir, logger)
	}
}

// StartBinary launches a plugin executable, or dials a running one for a
// "tcp://" path, and fetches its capabilities.
func StartBinary(ctx context.Context, path string, args []string, templateDir string, logger *slog.Logger) (*BinaryModule, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "binary-plugin", "path", path)

	if addr, ok := remoteAddress(path); ok {
		client, err := Dial("tcp", addr, defaultDialTimeout)
		if err != nil {
			return nil, err
		}
		return NewBinaryModule(client, nil, templatesFor(templateDir, ""), logger), nil
	}

	proc := NewProcess(logger, path, args...)
	hs, err := proc.Start(ctx, defaultHandshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}
	client, err := DialFromHandshake(hs, defaultDialTimeout)
	if err != nil {
		_ = proc.Stop(defaultStopGrace)
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	logger.Info("Plugin process started.", "network", hs.Network, "address", hs.Address)
	return NewBinaryModule(client, proc, templatesFor(templateDir, path), logger), nil
}

func remoteAddress(path string) (string, bool) {
	addr, ok := strings.CutPrefix(path, "tcp://")
	return addr, ok && addr != ""
}

func templatesFor(templateDir, binaryPath string) fs.FS {
	switch {
	case templateDir != "":
		return os.DirFS(templateDir)
	case binaryPath != "":
		return os.DirFS(filepath.Dir(binaryPath))
	default:
		return nil
	}
}

// NewBinaryModule wraps a connected client. proc may be nil when the
// plugin process is not owned by the host.
func NewBinaryModule(client *Client, proc *Process, templates fs.FS, logger *slog.Logger) *BinaryModule {
	if logger == nil {
		logger = slog.Default()
	}
	return &BinaryModule{proc: proc, client: client, templates: templates, logger: logger}
}

func (m *BinaryModule) Templates() fs.FS { return m.templates }

// Tools exposes every tool the plugin announced.
func (m *BinaryModule) Tools() []ToolModule {
	caps := m.client.Capabilities()
	out := make([]ToolModule, 0, len(caps.Tools))
	for _, t := range caps.Tools {
		name := t.Name
		out = append(out, ToolModule{
			Name: name,
			Setup: func(params *tool.ParameterList) (tool.Tool, error) {
				return &remoteTool{
					Base:   tool.NewBase(name, params, tool.WithLogger(m.logger)),
					client: m.client,
				}, nil
			},
		})
	}
	return out
}

// Close disconnects and stops the plugin process.
func (m *BinaryModule) Close() error {
	err := m.client.Close()
	if m.proc != nil {
		err = errors.Join(err, m.proc.Stop(defaultStopGrace))
	}
	return err
}

// remoteTool forwards runs to a binary plugin.
type remoteTool struct {
	*tool.Base
	client *Client
}

func (t *remoteTool) Run(ctx context.Context) error {
	t.ResetOutputs()
	if err := t.ValidateParameters(); err != nil {
		return err
	}
	resp := t.client.RunContext(ctx, pkg.Request{
		ID:     uuid.NewString(),
		Tool:   t.Service(),
		Params: t.Parameters().Map(),
		GUI:    t.GUI(),
	})
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", t.Service(), err)
	}
	if resp.Error != "" {
		return fmt.Errorf("%s: %s", t.Service(), resp.Error)
	}
	for _, o := range resp.Outputs {
		t.SetOutput(o.Name, o.Value)
	}
	return nil
}
