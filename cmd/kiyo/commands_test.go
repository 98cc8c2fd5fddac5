package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kiyo"
	"github.com/vkngwrapper/kiyo/app"
	"github.com/vkngwrapper/kiyo/config"
	"github.com/vkngwrapper/kiyo/graph"
)

type captured struct {
	calls int
	cfg   config.Config
	graph graph.Config
	opts  app.Options
}

func (c *captured) run(_ context.Context, cfg config.Config, graphCfg graph.Config, opts app.Options) error {
	c.calls++
	c.cfg = cfg
	c.graph = graphCfg
	c.opts = opts
	return nil
}

func execute(t *testing.T, args ...string) (*captured, string, error) {
	t.Helper()
	t.Cleanup(func() { kiyo.SetLogger(nil) })

	c := &captured{}
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(c.run, &stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return c, stdout.String(), err
}

func TestListPrintsExamples(t *testing.T) {
	_, out, err := execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "clear")
	assert.Contains(t, out, "feedback")
	assert.Contains(t, out, "uncleared images fed back")
}

func TestRunUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	c, _, err := execute(t, "run", "blur-pass", "--shader-dir", dir)
	require.NoError(t, err)
	require.Equal(t, 1, c.calls)

	assert.Equal(t, config.Default(), c.cfg)
	assert.Equal(t, "kiyo - blur-pass", c.opts.Title)
	require.Len(t, c.graph.Passes, 2)
	assert.Equal(t, filepath.Join(dir, "blur.wgsl"), c.graph.Passes[1].Shader)
	assert.FileExists(t, filepath.Join(dir, "screen.wgsl"))
}

func TestRunFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiyo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("width: 640\nheight: 480\nvsync: false\n"), 0o644))

	c, _, err := execute(t, "run", "clear",
		"--config", path,
		"--shader-dir", t.TempDir(),
		"--height", "360",
		"--log-fps",
		"--watch=false")
	require.NoError(t, err)

	want := config.Default()
	want.Width = 640
	want.Height = 360
	want.VSync = false
	want.LogFPS = true
	want.Watch = false
	assert.Equal(t, want, c.cfg)
}

func TestRunRejectsUnknownExample(t *testing.T) {
	c, _, err := execute(t, "run", "teapot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown example "teapot"`)
	assert.Zero(t, c.calls)
}

func TestRunRejectsInvalidFlags(t *testing.T) {
	c, _, err := execute(t, "run", "clear", "--shader-dir", t.TempDir(), "--workgroup-size", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid workgroup_size 0")
	assert.Zero(t, c.calls)
}
