package program

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kiyo/gpu"
	"github.com/vkngwrapper/kiyo/gpu/gputest"
	"github.com/vkngwrapper/kiyo/metrics"
	"github.com/vkngwrapper/kiyo/shader"
	"github.com/vkngwrapper/kiyo/shader/shadertest"
)

type fixture struct {
	driver   *gputest.Driver
	device   *gpu.Device
	compiler *shadertest.Compiler
	layout   *gpu.ResourceLayout
	store    *Store
	dir      string
}

var constants = gpu.ConstantRange{Stages: gpu.ShaderStageCompute, Size: 12}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	drv := gputest.NewDriver()
	dev := gpu.NewDevice(drv)
	layout, err := dev.NewResourceLayout(gpu.ResourceLayoutInfo{
		Bindings: []gpu.Binding{{Type: gpu.DescriptorStorageImage, Count: 2, Stages: gpu.ShaderStageCompute}},
	})
	require.NoError(t, err)

	f := &fixture{
		driver:   drv,
		device:   dev,
		compiler: shadertest.New(),
		layout:   layout,
		dir:      t.TempDir(),
	}
	f.store = NewStore(dev, f.compiler, WithMetrics(metrics.New(prometheus.NewRegistry())))

	t.Cleanup(func() {
		f.store.Close()
		f.layout.Release()
		f.device.Release()
		assert.True(t, drv.Destroyed())
		assert.Empty(t, drv.Errors())
	})
	return f
}

func (f *fixture) source(name, src string) string {
	path := filepath.Join(f.dir, name)
	f.compiler.SetSource(path, src)
	return path
}

func (f *fixture) register(t *testing.T, path string) Handle {
	t.Helper()
	h, err := f.store.Register(path, f.layout, constants, shader.Macros{"NUM_IMAGES": "2"})
	require.NoError(t, err)
	return h
}

func (f *fixture) get(t *testing.T, h Handle) *gpu.Program {
	t.Helper()
	p, ok := f.store.Get(h)
	require.True(t, ok)
	t.Cleanup(p.Release)
	return p
}

func TestRegisterAndGet(t *testing.T) {
	f := newFixture(t)
	path := f.source("a.wgsl", "fn main() {}")

	h := f.register(t, path)
	first := f.get(t, h)
	second := f.get(t, h)

	assert.True(t, first.Same(second), "get without reload must return the same program")
	assert.Equal(t, gpu.BindPointCompute, first.BindPoint())
	assert.Equal(t, 1, f.store.Len())

	got, ok := f.store.Path(h)
	require.True(t, ok)
	assert.Equal(t, path, got)

	calls := f.compiler.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, shader.StageCompute, calls[0].Stage)
	assert.Equal(t, "2", calls[0].Macros["NUM_IMAGES"])
}

func TestGetUnknownHandle(t *testing.T) {
	f := newFixture(t)
	_, ok := f.store.Get(Handle{})
	assert.False(t, ok)
}

func TestRegisterCompileFailure(t *testing.T) {
	f := newFixture(t)
	path := f.source("bad.wgsl", "fn main() {")
	f.compiler.Fail(path, "expected '}'")

	_, err := f.store.Register(path, f.layout, constants, nil)
	require.Error(t, err)

	ce, ok := shader.AsCompileError(err)
	require.True(t, ok)
	assert.Equal(t, "expected '}'", ce.Message)
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, 0, f.driver.Live(gputest.KindProgram))
}

func TestRegisterRejectsNonCompute(t *testing.T) {
	f := newFixture(t)
	path := f.source("quad.vert", "void main() {}")

	_, err := f.store.Register(path, f.layout, constants, nil)
	assert.Error(t, err)
}

func TestReloadUnmatchedPathIsNoop(t *testing.T) {
	f := newFixture(t)
	a := f.register(t, f.source("a.wgsl", "a"))
	b := f.register(t, f.source("b.wgsl", "b"))
	beforeA, beforeB := f.get(t, a), f.get(t, b)
	compiles := len(f.compiler.Calls())

	n, err := f.store.Reload(filepath.Join(f.dir, "other.wgsl"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, f.compiler.Calls(), compiles)

	assert.True(t, beforeA.Same(f.get(t, a)))
	assert.True(t, beforeB.Same(f.get(t, b)))
}

func TestReloadReplacesOnlyMatchingProgram(t *testing.T) {
	f := newFixture(t)
	pathA := f.source("a.wgsl", "a v1")
	a := f.register(t, pathA)
	b := f.register(t, f.source("b.wgsl", "b"))
	beforeA, beforeB := f.get(t, a), f.get(t, b)

	f.compiler.SetSource(pathA, "a v2")
	n, err := f.store.Reload(pathA)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	afterA := f.get(t, a)
	assert.False(t, beforeA.Same(afterA), "matching program must be replaced")
	assert.True(t, beforeB.Same(f.get(t, b)), "other programs must be untouched")

	obj, ok := f.driver.Object(afterA.Handle())
	require.True(t, ok)
	assert.Contains(t, string(obj.Program.Stages[gpu.ShaderStageCompute]), "a v2")
}

func TestReloadMatchesNonCanonicalPath(t *testing.T) {
	f := newFixture(t)
	path := f.source("a.wgsl", "a")
	h := f.register(t, path)
	before := f.get(t, h)

	n, err := f.store.Reload(filepath.Join(f.dir, "nested", "..", "a.wgsl"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, before.Same(f.get(t, h)))
}

func TestReloadReplacesEveryProgramSharingAPath(t *testing.T) {
	f := newFixture(t)
	path := f.source("shared.wgsl", "s")
	h1 := f.register(t, path)
	h2 := f.register(t, path)

	n, err := f.store.Reload(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, []string{path}, f.store.Paths())
}

func TestReloadFailureKeepsPreviousProgram(t *testing.T) {
	f := newFixture(t)
	path := f.source("a.wgsl", "a")
	h := f.register(t, path)
	before := f.get(t, h)

	f.compiler.Fail(path, "unexpected token")
	n, err := f.store.Reload(path)
	require.Error(t, err)
	assert.Equal(t, 0, n)

	var rerr *ReloadError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, h, rerr.Handle)
	assert.Equal(t, path, rerr.Path)
	_, isCompile := shader.AsCompileError(err)
	assert.True(t, isCompile)

	assert.True(t, before.Same(f.get(t, h)), "failed reload must keep the previous program")
}

func TestReloadUnchangedSource(t *testing.T) {
	f := newFixture(t)
	path := f.source("a.wgsl", "unchanged")
	h := f.register(t, path)
	before := f.get(t, h)

	n, err := f.store.Reload(path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	after := f.get(t, h)
	assert.False(t, before.Same(after), "reload must produce a newly compiled program")

	oldObj, ok := f.driver.Object(before.Handle())
	require.True(t, ok, "held program must stay alive")
	newObj, ok := f.driver.Object(after.Handle())
	require.True(t, ok)
	assert.Equal(t, oldObj.Program.Stages, newObj.Program.Stages)
}

func TestReloadReleasesReplacedProgramOnceUnreferenced(t *testing.T) {
	f := newFixture(t)
	path := f.source("a.wgsl", "a")
	h := f.register(t, path)

	held, ok := f.store.Get(h)
	require.True(t, ok)

	_, err := f.store.Reload(path)
	require.NoError(t, err)
	assert.Equal(t, 2, f.driver.Live(gputest.KindProgram))

	held.Release()
	assert.Equal(t, 1, f.driver.Live(gputest.KindProgram))
}

func TestUnregister(t *testing.T) {
	f := newFixture(t)
	h := f.register(t, f.source("a.wgsl", "a"))

	require.NoError(t, f.store.Unregister(h))
	_, ok := f.store.Get(h)
	assert.False(t, ok)
	assert.Equal(t, 0, f.driver.Live(gputest.KindProgram))

	err := f.store.Unregister(h)
	assert.True(t, errors.Is(err, ErrUnknownHandle))
}

// pausingCompiler blocks the first compile after pause until resume is
// closed. The source is read before blocking.
type pausingCompiler struct {
	*shadertest.Compiler

	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	resume  chan struct{}
}

func (c *pausingCompiler) pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armed = true
	c.entered = make(chan struct{})
	c.resume = make(chan struct{})
}

func (c *pausingCompiler) Compile(path string, stage shader.Stage, macros shader.Macros) ([]byte, error) {
	code, err := c.Compiler.Compile(path, stage, macros)

	c.mu.Lock()
	armed := c.armed
	c.armed = false
	entered, resume := c.entered, c.resume
	c.mu.Unlock()

	if armed {
		close(entered)
		<-resume
	}
	return code, err
}

func TestOverlappingReloadsKeepTheLatestSource(t *testing.T) {
	f := newFixture(t)
	compiler := &pausingCompiler{Compiler: f.compiler}
	store := NewStore(f.device, compiler)
	t.Cleanup(store.Close)

	path := f.source("a.wgsl", "v0")
	h, err := store.Register(path, f.layout, constants, nil)
	require.NoError(t, err)

	f.compiler.SetSource(path, "v1")
	compiler.pause()
	first := make(chan error, 1)
	go func() {
		_, err := store.Reload(path)
		first <- err
	}()
	<-compiler.entered

	f.compiler.SetSource(path, "v2")
	second := make(chan error, 1)
	go func() {
		_, err := store.Reload(path)
		second <- err
	}()

	close(compiler.resume)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	p, ok := store.Get(h)
	require.True(t, ok)
	defer p.Release()
	obj, ok := f.driver.Object(p.Handle())
	require.True(t, ok)
	assert.Equal(t, "v2", strings.TrimRight(string(obj.Program.Stages[gpu.ShaderStageCompute]), "\x00"))
}
