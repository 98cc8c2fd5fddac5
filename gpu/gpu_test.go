package gpu_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kiyo/gpu"
	"github.com/vkngwrapper/kiyo/gpu/gputest"
)

func newDevice(t *testing.T) (*gpu.Device, *gputest.Driver) {
	t.Helper()
	drv := gputest.NewDriver()
	return gpu.NewDevice(drv), drv
}

func storageLayout(t *testing.T, dev *gpu.Device, count int) *gpu.ResourceLayout {
	t.Helper()
	layout, err := dev.NewResourceLayout(gpu.ResourceLayoutInfo{
		Bindings: []gpu.Binding{{
			Binding: 0,
			Type:    gpu.DescriptorStorageImage,
			Count:   count,
			Stages:  gpu.ShaderStageCompute,
		}},
	})
	require.NoError(t, err)
	return layout
}

func computeProgram(t *testing.T, dev *gpu.Device, layout *gpu.ResourceLayout) *gpu.Program {
	t.Helper()
	prog, err := dev.NewProgram(gpu.ProgramCompute, layout,
		gpu.ConstantRange{Stages: gpu.ShaderStageCompute, Size: 12},
		map[gpu.ShaderStage][]byte{gpu.ShaderStageCompute: {0x03, 0x02, 0x23, 0x07}})
	require.NoError(t, err)
	return prog
}

func testImageInfo() gpu.ImageInfo {
	return gpu.ImageInfo{
		Extent: gpu.Extent2D{Width: 4, Height: 4},
		Format: gpu.FormatR8G8B8A8UnsignedNormalized,
		Usage:  gpu.ImageUsageStorage | gpu.ImageUsageTransferSrc | gpu.ImageUsageTransferDst,
	}
}

func TestArenaRejectsStaleHandles(t *testing.T) {
	var arena gpu.Arena[string]

	first := arena.Insert("first")
	got, ok := arena.Get(first)
	require.True(t, ok)
	assert.Equal(t, "first", got)

	removed, ok := arena.Remove(first)
	require.True(t, ok)
	assert.Equal(t, "first", removed)

	second := arena.Insert("second")
	assert.NotEqual(t, first, second)

	_, ok = arena.Get(first)
	assert.False(t, ok, "stale handle must not resolve to the reused slot")
	_, ok = arena.Remove(first)
	assert.False(t, ok)

	got, ok = arena.Get(second)
	require.True(t, ok)
	assert.Equal(t, "second", got)
	assert.Equal(t, 1, arena.Len())

	_, ok = arena.Get(gpu.Handle{})
	assert.False(t, ok)
}

func TestArenaDrainNewestFirst(t *testing.T) {
	var arena gpu.Arena[int]
	for i := 0; i < 4; i++ {
		arena.Insert(i)
	}

	var order []int
	arena.Drain(func(_ gpu.Handle, v int) {
		order = append(order, v)
	})
	assert.Equal(t, []int{3, 2, 1, 0}, order)
	assert.Equal(t, 0, arena.Len())
}

func TestDeviceOutlivesImage(t *testing.T) {
	dev, drv := newDevice(t)

	alloc, err := dev.NewAllocator()
	require.NoError(t, err)
	img, err := dev.NewImage(alloc, testImageInfo())
	require.NoError(t, err)

	dev.Release()
	alloc.Release()

	assert.False(t, drv.Destroyed(), "device destroyed while an image still holds it")
	assert.Equal(t, int32(2), dev.Refs())
	assert.Equal(t, int32(1), alloc.Refs())
	assert.Equal(t, 1, drv.Live(gputest.KindImage))
	assert.Equal(t, 1, drv.Live(gputest.KindAllocator))

	drv.ResetCalls()
	img.Release()

	assert.True(t, drv.Destroyed())
	assert.Equal(t, 0, drv.LiveAtDestroy())
	assert.Equal(t, []string{"DestroyImage", "DestroyAllocator", "WaitIdle", "Destroy"}, drv.Ops())
	assert.Empty(t, drv.Errors())
}

func TestReleaseIsIdempotent(t *testing.T) {
	dev, drv := newDevice(t)
	alloc, err := dev.NewAllocator()
	require.NoError(t, err)

	clone := alloc.Clone()
	alloc.Release()
	alloc.Release()
	assert.Equal(t, 1, drv.Live(gputest.KindAllocator))

	clone.Release()
	assert.Equal(t, 0, drv.Live(gputest.KindAllocator))

	dev.Release()
	assert.True(t, drv.Destroyed())
	assert.Empty(t, drv.Errors())
}

func TestImageRejectsEmptyExtent(t *testing.T) {
	dev, drv := newDevice(t)
	defer dev.Release()
	alloc, err := dev.NewAllocator()
	require.NoError(t, err)
	defer alloc.Release()

	_, err = dev.NewImage(alloc, gpu.ImageInfo{Extent: gpu.Extent2D{Width: 0, Height: 8}})
	require.Error(t, err)
	assert.Equal(t, 0, drv.Live(gputest.KindImage))
}

func TestCommandBufferRetainsProgramUntilBegin(t *testing.T) {
	dev, drv := newDevice(t)
	defer dev.Release()

	layout := storageLayout(t, dev, 1)
	prog := computeProgram(t, dev, layout)
	layout.Release()

	pool, err := dev.NewCommandPool()
	require.NoError(t, err)
	defer pool.Release()
	cmd, err := pool.Allocate()
	require.NoError(t, err)
	defer cmd.Release()

	require.NoError(t, cmd.Begin())
	require.NoError(t, cmd.BindProgram(prog))
	require.NoError(t, cmd.PushConstants(prog, make([]byte, 12)))
	require.NoError(t, cmd.Dispatch(2, 2, 1))
	require.NoError(t, cmd.End())

	prog.Release()
	assert.Equal(t, 1, drv.Live(gputest.KindProgram), "program freed while a recording references it")
	assert.Equal(t, 1, drv.Live(gputest.KindResourceLayout))
	assert.Equal(t, 2, cmd.Retained())

	require.NoError(t, cmd.Begin())
	assert.Equal(t, 0, cmd.Retained())
	assert.Equal(t, 0, drv.Live(gputest.KindProgram))
	assert.Equal(t, 0, drv.Live(gputest.KindResourceLayout))
	assert.Empty(t, drv.Errors())
}

func TestCommandBufferRejectsRecordingOutsideBegin(t *testing.T) {
	dev, _ := newDevice(t)
	defer dev.Release()

	pool, err := dev.NewCommandPool()
	require.NoError(t, err)
	defer pool.Release()
	cmd, err := pool.Allocate()
	require.NoError(t, err)
	defer cmd.Release()

	assert.Error(t, cmd.Dispatch(1, 1, 1))
	assert.Error(t, cmd.End())

	require.NoError(t, cmd.Begin())
	assert.Error(t, cmd.Dispatch(0, 1, 1))
}

func TestPushConstantsBounded(t *testing.T) {
	dev, _ := newDevice(t)
	defer dev.Release()

	layout := storageLayout(t, dev, 1)
	defer layout.Release()
	prog := computeProgram(t, dev, layout)
	defer prog.Release()

	pool, err := dev.NewCommandPool()
	require.NoError(t, err)
	defer pool.Release()
	cmd, err := pool.Allocate()
	require.NoError(t, err)
	defer cmd.Release()

	require.NoError(t, cmd.Begin())
	assert.Error(t, cmd.PushConstants(prog, make([]byte, 16)))
}

func TestImageSetKeepsImagesAlive(t *testing.T) {
	dev, drv := newDevice(t)
	defer dev.Release()

	alloc, err := dev.NewAllocator()
	require.NoError(t, err)
	defer alloc.Release()

	var images []*gpu.Image
	for i := 0; i < 3; i++ {
		img, err := dev.NewImage(alloc, testImageInfo())
		require.NoError(t, err)
		images = append(images, img)
	}

	layout := storageLayout(t, dev, 3)
	set, err := dev.NewImageSet(layout, images)
	require.NoError(t, err)
	layout.Release()
	for _, img := range images {
		img.Release()
	}

	assert.Equal(t, 3, drv.Live(gputest.KindImage))
	assert.Equal(t, 3, set.Len())

	set.Release()
	assert.Equal(t, 0, drv.Live(gputest.KindImage))
	assert.Equal(t, 0, drv.Live(gputest.KindResourceLayout))
}

func TestImageSetCountMismatch(t *testing.T) {
	dev, _ := newDevice(t)
	defer dev.Release()
	alloc, err := dev.NewAllocator()
	require.NoError(t, err)
	defer alloc.Release()
	img, err := dev.NewImage(alloc, testImageInfo())
	require.NoError(t, err)
	defer img.Release()

	layout := storageLayout(t, dev, 2)
	defer layout.Release()

	_, err = dev.NewImageSet(layout, []*gpu.Image{img})
	assert.Error(t, err)
}

func TestProgramKinds(t *testing.T) {
	dev, _ := newDevice(t)
	defer dev.Release()
	layout := storageLayout(t, dev, 1)
	defer layout.Release()

	prog := computeProgram(t, dev, layout)
	defer prog.Release()
	assert.Equal(t, gpu.BindPointCompute, prog.BindPoint())
	assert.Equal(t, layout.Handle(), prog.Layout().Handle())

	clone := prog.Clone()
	assert.True(t, prog.Same(clone))
	clone.Release()

	_, err := dev.NewProgram(gpu.ProgramGraphics, layout, gpu.ConstantRange{},
		map[gpu.ShaderStage][]byte{gpu.ShaderStageVertex: {1, 2, 3, 4}})
	assert.Error(t, err, "graphics program without a fragment stage")

	gfx, err := dev.NewProgram(gpu.ProgramGraphics, layout, gpu.ConstantRange{},
		map[gpu.ShaderStage][]byte{
			gpu.ShaderStageVertex:   {1, 2, 3, 4},
			gpu.ShaderStageFragment: {1, 2, 3, 4},
		})
	require.NoError(t, err)
	defer gfx.Release()
	assert.Equal(t, gpu.BindPointGraphics, gfx.BindPoint())
	assert.False(t, gfx.Same(prog))
}

func TestSubmitOnceWaitsForCompletion(t *testing.T) {
	dev, drv := newDevice(t)
	defer dev.Release()

	alloc, err := dev.NewAllocator()
	require.NoError(t, err)
	defer alloc.Release()
	img, err := dev.NewImage(alloc, testImageInfo())
	require.NoError(t, err)
	defer img.Release()

	pool, err := dev.NewCommandPool()
	require.NoError(t, err)
	defer pool.Release()

	drv.ResetCalls()
	err = pool.SubmitOnce(func(cmd *gpu.CommandBuffer) error {
		return cmd.Transition(img, gpu.ImageBarrier{
			OldLayout: gpu.LayoutUndefined,
			NewLayout: gpu.LayoutGeneral,
			SrcStage:  gpu.StageTopOfPipe,
			DstStage:  gpu.StageComputeShader,
		})
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"AllocateCommandBuffer", "CreateFence", "BeginCommandBuffer", "CmdImageBarrier",
		"EndCommandBuffer", "Submit", "WaitFence", "DestroyFence", "FreeCommandBuffer",
	}, drv.Ops())
	assert.Equal(t, img.Handle(), drv.CallsOf("CmdImageBarrier")[0].Barrier.Image)
	assert.Equal(t, 0, drv.Live(gputest.KindCommandBuffer))
	assert.Equal(t, 0, drv.Live(gputest.KindFence))
	assert.Empty(t, drv.Errors())
}

func TestSubmitFailureIsFatal(t *testing.T) {
	dev, drv := newDevice(t)
	defer dev.Release()

	pool, err := dev.NewCommandPool()
	require.NoError(t, err)
	defer pool.Release()

	drv.FailOn("Submit", nil)
	err = pool.SubmitOnce(func(*gpu.CommandBuffer) error { return nil })
	require.Error(t, err)
	assert.True(t, gpu.IsFatal(err))
	assert.True(t, errors.Is(err, gputest.ErrInjected))
}
