package app

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kiyo"
	"github.com/vkngwrapper/kiyo/frame"
	"github.com/vkngwrapper/kiyo/gpu"
	"github.com/vkngwrapper/kiyo/gpu/gputest"
	"github.com/vkngwrapper/kiyo/graph"
	"github.com/vkngwrapper/kiyo/metrics"
	"github.com/vkngwrapper/kiyo/program"
	"github.com/vkngwrapper/kiyo/shader/shadertest"
)

type fixture struct {
	driver    *gputest.Driver
	compiler  *shadertest.Compiler
	pipeliner *frame.Pipeliner
	store     *program.Store
	orch      *graph.Orchestrator
	shader    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	drv := gputest.NewDriver()
	dev := gpu.NewDevice(drv)
	swapchain := gputest.NewSwapchain(drv, 2, gpu.Extent2D{Width: 64, Height: 64})

	f := &fixture{
		driver:   drv,
		compiler: shadertest.New(),
		shader:   filepath.Join(t.TempDir(), "colors.wgsl"),
	}
	f.compiler.SetSource(f.shader, "// v1")

	var err error
	f.pipeliner, err = frame.New(dev, swapchain, frame.Options{})
	require.NoError(t, err)
	f.store = program.NewStore(dev, f.compiler)
	f.orch, err = graph.Build(dev, f.pipeliner.Pool(), f.store, graph.Config{
		Images: []graph.ImageConfig{{Clear: graph.ClearColor(0, 0, 0)}},
		Passes: []graph.Pass{{Shader: f.shader, Dispatch: graph.DispatchFullScreen{}, Outputs: []int{0}}},
	}, f.pipeliner.Extent())
	require.NoError(t, err)

	t.Cleanup(func() {
		f.orch.Release()
		f.store.Close()
		assert.NoError(t, f.pipeliner.Close())
		dev.Release()
		assert.True(t, drv.Destroyed())
		assert.Zero(t, drv.LiveAtDestroy())
	})
	return f
}

func (f *fixture) loop(frames int, changes <-chan string) *Loop {
	polls := 0
	return &Loop{
		Frames:   f.pipeliner,
		Renderer: f.orch,
		Programs: f.store,
		Changes:  changes,
		Poll: func() bool {
			polls++
			return polls <= frames
		},
	}
}

func (f *fixture) compiles() int {
	n := 0
	for _, c := range f.compiler.Calls() {
		if c.Path == f.shader {
			n++
		}
	}
	return n
}

func TestLoopDrawsUntilPollStops(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.loop(5, nil).Run(context.Background()))
	assert.EqualValues(t, 5, f.pipeliner.Frames())
	assert.Len(t, f.driver.CallsOf("Present"), 5)
	assert.Empty(t, f.driver.Errors())
}

func TestLoopStopsWhenContextDone(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.loop(5, nil).Run(ctx))
	assert.Zero(t, f.pipeliner.Frames())
}

func TestLoopAppliesReloadsBetweenFrames(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, 1, f.compiles())

	changes := make(chan string, 4)
	f.compiler.SetSource(f.shader, "// v2")
	changes <- f.shader
	changes <- filepath.Join(filepath.Dir(f.shader), "notes.txt")

	require.NoError(t, f.loop(2, changes).Run(context.Background()))
	assert.Equal(t, 2, f.compiles())
	assert.EqualValues(t, 2, f.pipeliner.Frames())
}

func TestLoopKeepsDrawingAfterRejectedReload(t *testing.T) {
	f := newFixture(t)

	changes := make(chan string, 1)
	f.compiler.Fail(f.shader, "syntax error")
	changes <- f.shader
	close(changes)

	require.NoError(t, f.loop(3, changes).Run(context.Background()))
	assert.EqualValues(t, 3, f.pipeliner.Frames())
	assert.Equal(t, 1, f.store.Len())
}

func TestLoopReturnsFatalFrameError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loop(1, nil).Run(context.Background()))

	f.driver.FailOn("Submit", nil)
	err := f.loop(3, nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, gpu.IsFatal(err))
	assert.EqualValues(t, 1, f.pipeliner.Frames())
	f.driver.ClearFailure("Submit")
}

func TestReleaseGraphWaitsForIdleBeforeDestroying(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loop(2, nil).Run(context.Background()))

	start := len(f.driver.Ops())
	a := &App{log: kiyo.Logger(), pipeliner: f.pipeliner, orch: f.orch, store: f.store}
	a.releaseGraph()

	ops := f.driver.Ops()[start:]
	require.NotEmpty(t, ops)
	assert.Equal(t, "WaitIdle", ops[0])
	assert.Contains(t, ops, "DestroyProgram")
	assert.Contains(t, ops, "DestroyImage")
	assert.Zero(t, f.store.Len())
}

func TestMetricsServer(t *testing.T) {
	reg := newRegistry()
	m := metrics.New(reg)
	m.SetPrograms(3)

	srv, err := serveMetrics("127.0.0.1:0", reg, kiyo.Logger())
	require.NoError(t, err)
	defer srv.shutdown()

	resp, err := http.Get("http://" + srv.addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "kiyo_programs 3")
	assert.Contains(t, string(body), "go_goroutines")
}
