// Package graph builds and records a fixed sequence of compute passes over a
// shared array of images, ending with a blit of the last image onto the
// presentation target.
package graph

import (
	"log/slog"
	"runtime"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/kiyo"
	"github.com/vkngwrapper/kiyo/gpu"
	"github.com/vkngwrapper/kiyo/program"
	"github.com/vkngwrapper/kiyo/shader"
	"golang.org/x/sync/errgroup"
)

const DefaultWorkgroupSize = 32

// ImageFormat is the format of every shared image.
const ImageFormat = gpu.FormatR8G8B8A8UnsignedNormalized

type options struct {
	workgroupSize int
	clock         func() time.Duration
	log           *slog.Logger
}

type Option func(*options)

func WithWorkgroupSize(n int) Option {
	return func(o *options) {
		o.workgroupSize = n
	}
}

// WithClock replaces the monotonic clock used for the time constant.
func WithClock(clock func() time.Duration) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// PassInfo describes a scheduled pass.
type PassInfo struct {
	Program program.Handle
	Shader  string
	Groups  [3]int
	Inputs  []int
	Outputs []int
}

// Orchestrator owns the shared images of a pass graph and records it into
// command buffers.
type Orchestrator struct {
	device     *gpu.Device
	store      *program.Store
	resolution gpu.Extent2D
	log        *slog.Logger
	clock      func() time.Duration
	start      time.Duration

	allocator *gpu.Allocator
	images    []*gpu.Image
	clears    []ClearPolicy
	layout    *gpu.ResourceLayout
	set       *gpu.ImageSet
	passes    []PassInfo
}

func validate(cfg Config, res gpu.Extent2D) error {
	if len(cfg.Images) == 0 {
		return ErrEmptyGraph
	}
	if res.Width <= 0 || res.Height <= 0 {
		return errors.Newf("invalid resolution %s", res)
	}

	n := len(cfg.Images)
	for i, p := range cfg.Passes {
		for _, id := range p.Inputs {
			if id < 0 || id >= n {
				return &BoundsError{Pass: i, Shader: p.Shader, Identity: id, ImageCount: n}
			}
		}
		for _, id := range p.Outputs {
			if id < 0 || id >= n {
				return &BoundsError{Pass: i, Shader: p.Shader, Identity: id, ImageCount: n, Output: true}
			}
		}
		if c, ok := p.Dispatch.(DispatchCount); ok && (c.X <= 0 || c.Y <= 0 || c.Z <= 0) {
			return errors.Newf("pass %d (%s): invalid dispatch %dx%dx%d", i, p.Shader, c.X, c.Y, c.Z)
		}
	}
	return nil
}

// Build validates cfg, allocates its images at resolution and registers one
// program per pass with store. Nothing is allocated when validation fails, and
// everything allocated so far is released when a later step fails.
func Build(device *gpu.Device, pool *gpu.CommandPool, store *program.Store, cfg Config, resolution gpu.Extent2D, opts ...Option) (*Orchestrator, error) {
	o := options{
		workgroupSize: DefaultWorkgroupSize,
		clock:         hrtime.Now,
		log:           kiyo.Logger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workgroupSize <= 0 {
		return nil, errors.Newf("invalid workgroup size %d", o.workgroupSize)
	}

	if err := validate(cfg, resolution); err != nil {
		return nil, err
	}

	orch := &Orchestrator{
		device:     device.Clone(),
		store:      store,
		resolution: resolution,
		log:        o.log,
		clock:      o.clock,
	}
	if err := orch.build(pool, cfg, o.workgroupSize); err != nil {
		orch.Release()
		return nil, err
	}

	orch.start = orch.clock()
	orch.log.Info("pass graph built", "images", len(orch.images), "passes", len(orch.passes), "resolution", resolution.String())
	return orch, nil
}

func (o *Orchestrator) build(pool *gpu.CommandPool, cfg Config, workgroupSize int) error {
	var err error
	o.allocator, err = o.device.NewAllocator()
	if err != nil {
		return err
	}

	info := gpu.ImageInfo{
		Extent: o.resolution,
		Format: ImageFormat,
		Usage:  gpu.ImageUsageStorage | gpu.ImageUsageTransferSrc | gpu.ImageUsageTransferDst,
	}
	for _, ic := range cfg.Images {
		img, err := o.device.NewImage(o.allocator, info)
		if err != nil {
			return err
		}
		o.images = append(o.images, img)
		o.clears = append(o.clears, ic.Clear)
	}

	err = pool.SubmitOnce(func(cmd *gpu.CommandBuffer) error {
		for _, img := range o.images {
			err := cmd.Transition(img, gpu.ImageBarrier{
				OldLayout: gpu.LayoutUndefined,
				NewLayout: gpu.LayoutGeneral,
				SrcStage:  gpu.StageTopOfPipe,
				DstStage:  gpu.StageBottomOfPipe,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "transition shared images")
	}

	o.layout, err = o.device.NewResourceLayout(gpu.ResourceLayoutInfo{
		Bindings: []gpu.Binding{{
			Binding: 0,
			Type:    gpu.DescriptorStorageImage,
			Count:   len(o.images),
			Stages:  gpu.ShaderStageCompute,
		}},
	})
	if err != nil {
		return err
	}
	o.set, err = o.device.NewImageSet(o.layout, o.images)
	if err != nil {
		return err
	}

	return o.registerPasses(cfg.Passes, workgroupSize)
}

// registerPasses compiles every pass concurrently; the resulting handles keep
// pass order.
func (o *Orchestrator) registerPasses(passes []Pass, workgroupSize int) error {
	constants := gpu.ConstantRange{Stages: gpu.ShaderStageCompute, Size: ConstantsSize}
	macros := shader.Macros{
		"NUM_IMAGES":     strconv.Itoa(len(o.images)),
		"WORKGROUP_SIZE": strconv.Itoa(workgroupSize),
	}

	handles := make([]program.Handle, len(passes))
	registered := make([]bool, len(passes))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range passes {
		g.Go(func() error {
			h, err := o.store.Register(p.Shader, o.layout, constants, macros)
			if err != nil {
				return &BuildError{Pass: i, Shader: p.Shader, Err: err}
			}
			handles[i] = h
			registered[i] = true
			return nil
		})
	}
	err := g.Wait()

	for i, p := range passes {
		if !registered[i] {
			continue
		}
		dispatch := p.Dispatch
		if dispatch == nil {
			dispatch = DispatchFullScreen{}
		}
		o.passes = append(o.passes, PassInfo{
			Program: handles[i],
			Shader:  p.Shader,
			Groups:  dispatch.groups(o.resolution, workgroupSize),
			Inputs:  append([]int(nil), p.Inputs...),
			Outputs: append([]int(nil), p.Outputs...),
		})
	}
	return err
}

// Images returns the shared images in identity order. They stay valid until
// Release.
func (o *Orchestrator) Images() []*gpu.Image {
	return o.images
}

func (o *Orchestrator) Passes() []PassInfo {
	return o.passes
}

// Output returns the image that is blitted to the target every frame.
func (o *Orchestrator) Output() *gpu.Image {
	return o.images[len(o.images)-1]
}

func (o *Orchestrator) Resolution() gpu.Extent2D {
	return o.resolution
}

func (o *Orchestrator) Elapsed() time.Duration {
	return o.clock() - o.start
}

// Render records one frame: clears, every pass in order, and the final blit
// onto target. Passes are not separated by barriers; a pass reading an image
// written by an earlier pass relies on submission order alone.
func (o *Orchestrator) Render(cmd *gpu.CommandBuffer, target gpu.ImageRef) error {
	now := float32(o.Elapsed().Seconds())

	for i, img := range o.images {
		if !o.clears[i].Enabled() {
			continue
		}
		if err := o.clear(cmd, img, o.clears[i].value()); err != nil {
			return errors.Wrapf(err, "clear image %d", i)
		}
	}

	for i, p := range o.passes {
		if err := o.recordPass(cmd, p, now); err != nil {
			return errors.Wrapf(err, "pass %d (%s)", i, p.Shader)
		}
	}

	return errors.Wrap(o.blit(cmd, target), "blit to target")
}

func (o *Orchestrator) clear(cmd *gpu.CommandBuffer, img *gpu.Image, color gpu.ClearColor) error {
	err := cmd.Transition(img, gpu.ImageBarrier{
		OldLayout: gpu.LayoutGeneral,
		NewLayout: gpu.LayoutTransferDst,
		SrcStage:  gpu.StageTopOfPipe,
		DstStage:  gpu.StageTransfer,
		DstAccess: gpu.AccessTransferWrite,
	})
	if err != nil {
		return err
	}
	if err := cmd.ClearColor(img, gpu.LayoutTransferDst, color); err != nil {
		return err
	}
	return cmd.Transition(img, gpu.ImageBarrier{
		OldLayout: gpu.LayoutTransferDst,
		NewLayout: gpu.LayoutGeneral,
		SrcStage:  gpu.StageTransfer,
		DstStage:  gpu.StageComputeShader,
		SrcAccess: gpu.AccessTransferWrite,
		DstAccess: gpu.AccessShaderRead | gpu.AccessShaderWrite,
	})
}

func (o *Orchestrator) recordPass(cmd *gpu.CommandBuffer, p PassInfo, now float32) error {
	prog, ok := o.store.Get(p.Program)
	if !ok {
		return errors.Wrapf(program.ErrUnknownHandle, "program %s", p.Program)
	}
	// The command buffer retains what it binds.
	defer prog.Release()

	constants := Constants{
		Time:   now,
		Input:  firstOr(p.Inputs),
		Output: firstOr(p.Outputs),
	}

	if err := cmd.BindProgram(prog); err != nil {
		return err
	}
	if err := cmd.PushConstants(prog, constants.Bytes()); err != nil {
		return err
	}
	if err := cmd.BindImageSet(prog, o.set); err != nil {
		return err
	}
	return cmd.Dispatch(p.Groups[0], p.Groups[1], p.Groups[2])
}

func (o *Orchestrator) blit(cmd *gpu.CommandBuffer, target gpu.ImageRef) error {
	out := o.Output()

	steps := []func() error{
		func() error {
			return cmd.Transition(out, gpu.ImageBarrier{
				OldLayout: gpu.LayoutGeneral,
				NewLayout: gpu.LayoutTransferSrc,
				SrcStage:  gpu.StageComputeShader,
				DstStage:  gpu.StageTransfer,
				SrcAccess: gpu.AccessShaderWrite,
				DstAccess: gpu.AccessTransferRead,
			})
		},
		func() error {
			return cmd.Transition(target, gpu.ImageBarrier{
				OldLayout: gpu.LayoutPresentSrc,
				NewLayout: gpu.LayoutTransferDst,
				SrcStage:  gpu.StageTransfer,
				DstStage:  gpu.StageTransfer,
				DstAccess: gpu.AccessTransferWrite,
			})
		},
		func() error {
			return cmd.ClearColor(target, gpu.LayoutTransferDst, gpu.ClearColor{0, 0, 0, 1})
		},
		func() error {
			return cmd.Transition(target, gpu.ImageBarrier{
				OldLayout: gpu.LayoutTransferDst,
				NewLayout: gpu.LayoutTransferDst,
				SrcStage:  gpu.StageTransfer,
				DstStage:  gpu.StageTransfer,
				SrcAccess: gpu.AccessTransferWrite,
				DstAccess: gpu.AccessTransferWrite,
			})
		},
		func() error {
			return cmd.Blit(out, gpu.LayoutTransferSrc, target, gpu.LayoutTransferDst, gpu.FilterNearest)
		},
		func() error {
			return cmd.Transition(target, gpu.ImageBarrier{
				OldLayout: gpu.LayoutTransferDst,
				NewLayout: gpu.LayoutPresentSrc,
				SrcStage:  gpu.StageTransfer,
				DstStage:  gpu.StageBottomOfPipe,
				SrcAccess: gpu.AccessTransferWrite,
			})
		},
		func() error {
			return cmd.Transition(out, gpu.ImageBarrier{
				OldLayout: gpu.LayoutTransferSrc,
				NewLayout: gpu.LayoutGeneral,
				SrcStage:  gpu.StageTransfer,
				DstStage:  gpu.StageBottomOfPipe,
				SrcAccess: gpu.AccessTransferRead,
			})
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// Release unregisters the graph's programs and drops its images. Frames
// already recorded keep what they reference alive.
func (o *Orchestrator) Release() {
	for _, p := range o.passes {
		if err := o.store.Unregister(p.Program); err != nil {
			o.log.Warn("unregister pass program", "shader", p.Shader, "err", err)
		}
	}
	o.passes = nil

	if o.set != nil {
		o.set.Release()
		o.set = nil
	}
	if o.layout != nil {
		o.layout.Release()
		o.layout = nil
	}
	for _, img := range o.images {
		img.Release()
	}
	o.images = nil
	if o.allocator != nil {
		o.allocator.Release()
		o.allocator = nil
	}
	if o.device != nil {
		o.device.Release()
		o.device = nil
	}
}
