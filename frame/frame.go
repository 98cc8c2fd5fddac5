// Package frame keeps a fixed number of frames in flight against a
// swapchain. Each frame slot owns a command buffer, two semaphores and a
// fence; a slot is only re-recorded after its fence reports the previous
// submission finished.
package frame

import (
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/kiyo"
	"github.com/vkngwrapper/kiyo/gpu"
	"github.com/vkngwrapper/kiyo/metrics"
)

// Renderer records one frame into cmd, ending with target in the present
// layout.
type Renderer interface {
	Render(cmd *gpu.CommandBuffer, target gpu.ImageRef) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(cmd *gpu.CommandBuffer, target gpu.ImageRef) error

func (f RendererFunc) Render(cmd *gpu.CommandBuffer, target gpu.ImageRef) error {
	return f(cmd, target)
}

type Options struct {
	// FramesInFlight is the number of frame slots. Zero means one slot per
	// swapchain image.
	FramesInFlight int
	// LogFPS logs the frame rate once per FPSInterval.
	LogFPS      bool
	FPSInterval time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Clock   func() time.Duration
}

type slot struct {
	cmd            *gpu.CommandBuffer
	imageAcquired  *gpu.Semaphore
	renderFinished *gpu.Semaphore
	inFlight       *gpu.Fence
}

func (s *slot) release() {
	if s.cmd != nil {
		s.cmd.Release()
	}
	if s.imageAcquired != nil {
		s.imageAcquired.Release()
	}
	if s.renderFinished != nil {
		s.renderFinished.Release()
	}
	if s.inFlight != nil {
		s.inFlight.Release()
	}
}

// Pipeliner drives the acquire, record, submit, present cycle.
type Pipeliner struct {
	device    *gpu.Device
	swapchain gpu.Swapchain
	pool      *gpu.CommandPool
	slots     []*slot
	current   int
	frames    uint64

	log     *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Duration
	fps     *fpsCounter
	closed  bool
}

// New creates the frame slots and moves every swapchain image into the
// present layout, which is where Render expects to find them. The pipeliner
// takes ownership of swapchain.
func New(device *gpu.Device, swapchain gpu.Swapchain, opts Options) (*Pipeliner, error) {
	if swapchain.ImageCount() == 0 {
		return nil, errors.New("swapchain has no images")
	}
	n := opts.FramesInFlight
	if n == 0 {
		n = swapchain.ImageCount()
	}
	if n < 0 {
		return nil, errors.Newf("invalid frames in flight %d", n)
	}
	if opts.Logger == nil {
		opts.Logger = kiyo.Logger()
	}
	if opts.Clock == nil {
		opts.Clock = hrtime.Now
	}

	p := &Pipeliner{
		device:    device.Clone(),
		swapchain: swapchain,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		clock:     opts.Clock,
	}
	if opts.LogFPS {
		interval := opts.FPSInterval
		if interval <= 0 {
			interval = time.Second
		}
		p.fps = &fpsCounter{interval: interval, start: opts.Clock()}
	}

	if err := p.init(n); err != nil {
		p.releaseAll()
		return nil, err
	}

	p.log.Info("frame pipeliner ready", "slots", n, "swapchain_images", swapchain.ImageCount(), "extent", swapchain.Extent().String())
	return p, nil
}

func (p *Pipeliner) init(n int) error {
	var err error
	p.pool, err = p.device.NewCommandPool()
	if err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		s := &slot{}
		p.slots = append(p.slots, s)

		if s.cmd, err = p.pool.Allocate(); err != nil {
			return errors.Wrapf(err, "frame slot %d", i)
		}
		if s.imageAcquired, err = p.device.NewSemaphore(); err != nil {
			return errors.Wrapf(err, "frame slot %d", i)
		}
		if s.renderFinished, err = p.device.NewSemaphore(); err != nil {
			return errors.Wrapf(err, "frame slot %d", i)
		}
		// Signaled so the first wait on every slot returns at once.
		if s.inFlight, err = p.device.NewFence(true); err != nil {
			return errors.Wrapf(err, "frame slot %d", i)
		}
	}

	return errors.Wrap(p.pool.SubmitOnce(func(cmd *gpu.CommandBuffer) error {
		for i := 0; i < p.swapchain.ImageCount(); i++ {
			err := cmd.Transition(p.target(i), gpu.ImageBarrier{
				OldLayout: gpu.LayoutUndefined,
				NewLayout: gpu.LayoutPresentSrc,
				SrcStage:  gpu.StageTopOfPipe,
				DstStage:  gpu.StageBottomOfPipe,
			})
			if err != nil {
				return err
			}
		}
		return nil
	}), "transition swapchain images")
}

func (p *Pipeliner) target(index int) gpu.Target {
	return gpu.Target{
		Image: p.swapchain.Image(index),
		Size:  p.swapchain.Extent(),
		Index: index,
	}
}

// Pool returns the command pool the slots were allocated from. It may be
// used for one-shot uploads while the pipeliner is open.
func (p *Pipeliner) Pool() *gpu.CommandPool {
	return p.pool
}

// FrameIndex returns the slot the next DrawFrame will use.
func (p *Pipeliner) FrameIndex() int {
	return p.current
}

// Frames returns the number of frames presented so far.
func (p *Pipeliner) Frames() uint64 {
	return p.frames
}

// Extent is the size of the swapchain images frames are presented to.
func (p *Pipeliner) Extent() gpu.Extent2D {
	return p.swapchain.Extent()
}

func (p *Pipeliner) SlotCount() int {
	return len(p.slots)
}

// DrawFrame waits for the current slot to be free, acquires a swapchain
// image, records it with r, submits and presents it. Every failure is marked
// gpu.ErrFatal: after a failed acquire or submit the slot's synchronization
// state is unknown, so the loop must stop.
func (p *Pipeliner) DrawFrame(r Renderer) error {
	if p.closed {
		return gpu.Fatal(gpu.ErrReleased, "draw frame")
	}
	s := p.slots[p.current]
	begin := p.clock()

	if err := s.inFlight.Wait(); err != nil {
		return err
	}
	waited := p.clock()
	p.metrics.ObserveFenceWait(waited - begin)

	index, err := p.swapchain.AcquireNextImage(s.imageAcquired.Handle())
	if err != nil {
		return gpu.Fatal(err, "acquire swapchain image")
	}
	target := p.target(index)

	if err := s.cmd.Begin(); err != nil {
		return gpu.Fatal(err, "record frame")
	}
	if err := r.Render(s.cmd, target); err != nil {
		return gpu.Fatal(err, "record frame")
	}
	if err := s.cmd.End(); err != nil {
		return gpu.Fatal(err, "record frame")
	}

	// Reset only once recording succeeded, so the fence is never left
	// unsignaled without a submission to signal it.
	if err := s.inFlight.Reset(); err != nil {
		return err
	}
	err = p.device.Submit(gpu.Submission{
		Commands:   []*gpu.CommandBuffer{s.cmd},
		Wait:       []*gpu.Semaphore{s.imageAcquired},
		WaitStages: []gpu.PipelineStage{gpu.StageTransfer},
		Signal:     []*gpu.Semaphore{s.renderFinished},
		Fence:      s.inFlight,
	})
	if err != nil {
		return err
	}

	if err := p.swapchain.Present(index, s.renderFinished.Handle()); err != nil {
		return gpu.Fatal(err, "present swapchain image")
	}

	p.current = (p.current + 1) % len(p.slots)
	p.frames++

	end := p.clock()
	p.metrics.ObserveFrame(end - begin)
	if p.fps != nil {
		if fps, ok := p.fps.tick(end); ok {
			p.log.Info("fps", "fps", fps, "frames", p.frames)
		}
	}
	return nil
}

// Close waits for the device to go idle, then releases the slots, the pool
// and the swapchain. It must be called even after a fatal DrawFrame error.
func (p *Pipeliner) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	err := p.device.WaitIdle()
	if err != nil {
		p.log.Error("wait for device idle before teardown", "err", err)
	}
	p.releaseAll()
	return err
}

func (p *Pipeliner) releaseAll() {
	for _, s := range p.slots {
		s.release()
	}
	p.slots = nil
	if p.pool != nil {
		p.pool.Release()
		p.pool = nil
	}
	p.swapchain.Destroy()
	p.device.Release()
}

type fpsCounter struct {
	interval time.Duration
	start    time.Duration
	frames   int
}

// tick counts a frame presented at now and reports the rate once per
// interval.
func (f *fpsCounter) tick(now time.Duration) (float64, bool) {
	f.frames++
	elapsed := now - f.start
	if elapsed < f.interval {
		return 0, false
	}
	fps := float64(f.frames) / elapsed.Seconds()
	f.frames = 0
	f.start = now
	return fps, true
}
