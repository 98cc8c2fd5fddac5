package gpu

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// CommandPool allocates command buffers for the device queue.
type CommandPool struct {
	ref
	device *Device
}

func (d *Device) NewCommandPool() (*CommandPool, error) {
	h, err := d.driver.CreateCommandPool()
	if err != nil {
		return nil, errors.Wrap(err, "create command pool")
	}

	p := &CommandPool{device: d}
	p.init(newObject("command pool", h, d.driver.DestroyCommandPool, d.obj))
	return p, nil
}

// Allocate returns a primary command buffer from the pool.
func (p *CommandPool) Allocate() (*CommandBuffer, error) {
	driver := p.device.driver
	pool := p.Handle()

	h, err := driver.AllocateCommandBuffer(pool)
	if err != nil {
		return nil, errors.Wrap(err, "allocate command buffer")
	}

	c := &CommandBuffer{driver: driver}
	c.init(newObject("command buffer", h, func(cmd Handle) {
		driver.FreeCommandBuffer(pool, cmd)
	}, p.device.obj, p.obj))
	return c, nil
}

// CommandBuffer records work for the queue. Every program, image set and
// image used while recording is retained until the buffer is next begun or
// released, so owners may drop them right after submission.
type CommandBuffer struct {
	ref
	driver Driver

	mu        sync.Mutex
	retained  []*object
	recording bool
}

func (c *CommandBuffer) retain(objs ...*object) {
	for _, o := range objs {
		c.retained = append(c.retained, o.retain())
	}
}

func (c *CommandBuffer) dropRetained() {
	for i := len(c.retained) - 1; i >= 0; i-- {
		c.retained[i].release()
	}
	c.retained = nil
}

// Retained returns the number of resources held for the current recording.
func (c *CommandBuffer) Retained() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.retained)
}

// Begin starts a new recording. Resources retained by the previous recording
// are released, so the caller must know the previous submission finished.
func (c *CommandBuffer) Begin() error {
	return c.begin(false)
}

// BeginOneTime starts a recording that will be submitted once.
func (c *CommandBuffer) BeginOneTime() error {
	return c.begin(true)
}

func (c *CommandBuffer) begin(oneTime bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released.Load() {
		return ErrReleased
	}
	c.dropRetained()

	if err := c.driver.BeginCommandBuffer(c.Handle(), oneTime); err != nil {
		return errors.Wrap(err, "begin command buffer")
	}
	c.recording = true
	return nil
}

func (c *CommandBuffer) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.recording {
		return errors.New("end command buffer: not recording")
	}
	c.recording = false

	if err := c.driver.EndCommandBuffer(c.Handle()); err != nil {
		return errors.Wrap(err, "end command buffer")
	}
	return nil
}

// Release drops the retained resources along with the buffer itself.
func (c *CommandBuffer) Release() {
	c.mu.Lock()
	c.dropRetained()
	c.mu.Unlock()
	c.ref.Release()
}

func (c *CommandBuffer) record(op string, fn func(cmd Handle) error, objs ...*object) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.recording {
		return errors.Newf("%s: command buffer is not recording", op)
	}
	if err := fn(c.Handle()); err != nil {
		return errors.Wrap(err, op)
	}
	c.retain(objs...)
	return nil
}

func retainable(img ImageRef) []*object {
	if i, ok := img.(*Image); ok {
		return []*object{i.obj}
	}
	return nil
}

// Transition records a layout transition of img.
func (c *CommandBuffer) Transition(img ImageRef, barrier ImageBarrier) error {
	barrier.Image = img.NativeImage()
	return c.record("image barrier", func(cmd Handle) error {
		return c.driver.CmdImageBarrier(cmd, barrier)
	}, retainable(img)...)
}

func (c *CommandBuffer) ClearColor(img ImageRef, layout ImageLayout, color ClearColor) error {
	return c.record("clear color image", func(cmd Handle) error {
		return c.driver.CmdClearColorImage(cmd, img.NativeImage(), layout, color)
	}, retainable(img)...)
}

// Blit copies the whole of src onto the whole of dst, scaling with filter.
func (c *CommandBuffer) Blit(src ImageRef, srcLayout ImageLayout, dst ImageRef, dstLayout ImageLayout, filter Filter) error {
	blit := Blit{
		Src:       src.NativeImage(),
		SrcLayout: srcLayout,
		SrcExtent: src.Extent(),
		Dst:       dst.NativeImage(),
		DstLayout: dstLayout,
		DstExtent: dst.Extent(),
		Filter:    filter,
	}
	objs := append(retainable(src), retainable(dst)...)
	return c.record("blit image", func(cmd Handle) error {
		return c.driver.CmdBlitImage(cmd, blit)
	}, objs...)
}

func (c *CommandBuffer) BindProgram(p *Program) error {
	return c.record("bind program", func(cmd Handle) error {
		return c.driver.CmdBindProgram(cmd, p.BindPoint(), p.Handle())
	}, p.obj)
}

// PushConstants writes data into the constant block of p.
func (c *CommandBuffer) PushConstants(p *Program, data []byte) error {
	if len(data) > p.constants.Size {
		return errors.Newf("push constants: %d bytes exceeds block of %d", len(data), p.constants.Size)
	}
	return c.record("push constants", func(cmd Handle) error {
		return c.driver.CmdPushConstants(cmd, p.Handle(), p.constants, data)
	}, p.obj)
}

// BindImageSet binds set through the layout of p.
func (c *CommandBuffer) BindImageSet(p *Program, set *ImageSet) error {
	return c.record("bind image set", func(cmd Handle) error {
		return c.driver.CmdBindImageSet(cmd, p.BindPoint(), p.Handle(), set.Handle())
	}, p.obj, set.obj)
}

func (c *CommandBuffer) Dispatch(x, y, z int) error {
	if x <= 0 || y <= 0 || z <= 0 {
		return errors.Newf("dispatch: invalid group count %dx%dx%d", x, y, z)
	}
	return c.record("dispatch", func(cmd Handle) error {
		return c.driver.CmdDispatch(cmd, x, y, z)
	})
}

// SubmitOnce records a single-use command buffer with fn, submits it and
// blocks until it has finished executing.
func (p *CommandPool) SubmitOnce(fn func(cmd *CommandBuffer) error) error {
	cmd, err := p.Allocate()
	if err != nil {
		return err
	}
	defer cmd.Release()

	fence, err := p.device.NewFence(false)
	if err != nil {
		return err
	}
	defer fence.Release()

	if err := cmd.BeginOneTime(); err != nil {
		return err
	}
	if err := fn(cmd); err != nil {
		return err
	}
	if err := cmd.End(); err != nil {
		return err
	}

	err = p.device.Submit(Submission{
		Commands: []*CommandBuffer{cmd},
		Fence:    fence,
	})
	if err != nil {
		return err
	}
	return fence.Wait()
}
