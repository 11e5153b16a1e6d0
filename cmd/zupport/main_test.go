package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dataDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zupport.yaml")
	cfg := "data_dir: " + dataDir + "\nlog:\n  level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Zupport dev")

	out, _, err = execute(t, "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"version": "dev"`)
}

func TestToolsCommand(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())

	out, _, err := execute(t, "tools", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "fileio")
	assert.Contains(t, out, "fileiterator, pairfileiterator")
	assert.Contains(t, out, "scheduler")
	assert.Contains(t, out, "schedule_add")

	out, _, err = execute(t, "tools", "fileio", "-v", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "fileio::fileiterator")
	assert.Contains(t, out, "Input workspace")
	assert.NotContains(t, out, "scheduler::")
}

func TestRunAndResultsCommands(t *testing.T) {
	dataDir := t.TempDir()
	cfg := writeConfig(t, dataDir)
	ws := t.TempDir()
	touch(t, ws, "a_1_x.img", "b_2_x.img")

	out, logs, err := execute(t, "run", "-c", cfg, "-s", "fileiterator",
		"-p", "input_workspace="+ws, "-p", "wildcard=*.img")
	require.NoError(t, err, logs)
	assert.Contains(t, out, "1 succeeded, 0 failed, 0 skipped")
	assert.Contains(t, logs, "Running job.")

	out, _, err = execute(t, "results", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "fileiterator")
	assert.Contains(t, out, "succeeded")
}

func TestRunJobFile(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())
	ws := t.TempDir()
	touch(t, ws, "a_1_1_x.img", "b_1_1_x.img", "c_2_1_x.img")

	jobs := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(jobs, []byte(`
jobs:
  - service: fileiterator
    batch: true
    params:
      input_workspace: `+ws+`
  - service: pairfileiterator
    batch: true
    params:
      input_workspace: `+ws+`
  - service: nosuchtool
`), 0o644))

	out, _, err := execute(t, "run", "-c", cfg, jobs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 jobs failed")
	assert.Contains(t, out, "1 succeeded, 1 failed, 1 skipped")
	assert.Contains(t, out, "an even number of files is needed")
}

func TestRunArguments(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())

	_, _, err := execute(t, "run", "-c", cfg)
	require.ErrorContains(t, err, "a job file or --service is required")

	_, _, err = execute(t, "run", "-c", cfg, "-s", "fileiterator", "jobs.yaml")
	require.ErrorContains(t, err, "not both")
}

func TestDataDirFlagOverridesConfig(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())
	override := t.TempDir()
	ws := t.TempDir()

	_, _, err := execute(t, "run", "-c", cfg, "--data-dir", override, "-s", "fileiterator", "-p", "input_workspace="+ws)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(override, "zupport.db"))
	require.NoError(t, err)
}

func TestLogLevelFromEnvironment(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())
	t.Setenv("ZUPPORT_LOG_LEVEL", "error")

	_, logs, err := execute(t, "tools", "-c", cfg)
	require.NoError(t, err)
	assert.NotContains(t, logs, "level=INFO")
}

func TestMissingConfigFile(t *testing.T) {
	_, _, err := execute(t, "tools", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "reading config")
}

func TestScanCommand(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())
	ws := t.TempDir()
	touch(t, ws, "a_1_x.img", "b_2_x.img", "c_1_y.img", "notes.txt")

	out, _, err := execute(t, "scan", ws, "-c", cfg, "-w", "*.img")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, ".img"))

	out, _, err = execute(t, "scan", ws, "-c", cfg, "-w", "*.img", "-t", "<BODY1>_<ID1>_<BODY2>")
	require.NoError(t, err)
	assert.Contains(t, out, "a_1_x.img\tBODY1=a ID1=1 BODY2=x")

	out, _, err = execute(t, "scan", ws, "-c", cfg, "-w", "*.img", "-t", "<BODY1>_<ID1>_<BODY2>", "-g", "ID1", "-m", "1=low", "-m", "2=high")
	require.NoError(t, err)
	assert.Contains(t, out, "[low]\n  a_1_x.img\n  c_1_y.img\n")
	assert.Contains(t, out, "[high]\n  b_2_x.img\n")
}

func TestDecodeValue(t *testing.T) {
	assert.Equal(t, 3, decodeValue("3"))
	assert.Equal(t, true, decodeValue("true"))
	assert.Equal(t, "*.img", decodeValue("*.img"))
	assert.Equal(t, "/data/rasters", decodeValue("/data/rasters"))
	assert.Equal(t, "", decodeValue(""))
}

func TestParamFlagSplitsOnFirstEquals(t *testing.T) {
	f := jobFlags{
		service: "fileiterator",
		params:  []string{"mapping=1=a,2=a", "group_by=ID1"},
	}
	specs, err := f.specs(nil)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, map[string]any{"mapping": "1=a,2=a", "group_by": "ID1"}, specs[0].Params)

	f.params = []string{"novalue"}
	_, err = f.specs(nil)
	require.Error(t, err)
}
