package gputest

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiyo/gpu"
)

var _ gpu.Driver = (*Driver)(nil)

// call records c under op and returns the injected failure for op, if any.
// Must hold d.mu.
func (d *Driver) call(op string, c Call) error {
	c.Op = op
	d.calls = append(d.calls, c)
	return d.failures[op]
}

func (d *Driver) misuse(err error) error {
	d.errs = append(d.errs, err)
	return err
}

func (d *Driver) lookup(h gpu.Handle, kind Kind) (*Object, error) {
	obj, ok := d.objects.Get(h)
	if !ok {
		return nil, d.misuse(errors.Newf("unknown %s %s", kind, h))
	}
	if obj.Kind != kind {
		return nil, d.misuse(errors.Newf("%s is a %s, not a %s", h, obj.Kind, kind))
	}
	return obj, nil
}

func (d *Driver) create(op string, obj *Object, handles ...gpu.Handle) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.call(op, Call{Handles: handles}); err != nil {
		return gpu.Handle{}, err
	}
	h := d.objects.Insert(obj)
	d.calls[len(d.calls)-1].Handles = append([]gpu.Handle{h}, handles...)
	return h, nil
}

func (d *Driver) destroy(op string, h gpu.Handle, kind Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_ = d.call(op, Call{Handles: []gpu.Handle{h}})
	if _, err := d.lookup(h, kind); err != nil {
		return
	}
	d.objects.Remove(h)
}

func (d *Driver) CreateAllocator() (gpu.Handle, error) {
	return d.create("CreateAllocator", &Object{Kind: KindAllocator})
}

func (d *Driver) DestroyAllocator(h gpu.Handle) {
	d.destroy("DestroyAllocator", h, KindAllocator)
}

func (d *Driver) CreateImage(allocator gpu.Handle, info gpu.ImageInfo) (gpu.Handle, error) {
	return d.create("CreateImage", &Object{Kind: KindImage, Image: info}, allocator)
}

func (d *Driver) DestroyImage(h gpu.Handle) {
	d.destroy("DestroyImage", h, KindImage)
}

func (d *Driver) CreateResourceLayout(info gpu.ResourceLayoutInfo) (gpu.Handle, error) {
	return d.create("CreateResourceLayout", &Object{Kind: KindResourceLayout, Layout: info})
}

func (d *Driver) DestroyResourceLayout(h gpu.Handle) {
	d.destroy("DestroyResourceLayout", h, KindResourceLayout)
}

func (d *Driver) CreateImageSet(layout gpu.Handle, images []gpu.Handle) (gpu.Handle, error) {
	handles := append([]gpu.Handle{layout}, images...)
	return d.create("CreateImageSet", &Object{Kind: KindImageSet, Images: append([]gpu.Handle(nil), images...)}, handles...)
}

func (d *Driver) DestroyImageSet(h gpu.Handle) {
	d.destroy("DestroyImageSet", h, KindImageSet)
}

func (d *Driver) CreateProgram(info gpu.ProgramInfo) (gpu.Handle, error) {
	return d.create("CreateProgram", &Object{Kind: KindProgram, Program: info}, info.Layout)
}

func (d *Driver) DestroyProgram(h gpu.Handle) {
	d.destroy("DestroyProgram", h, KindProgram)
}

func (d *Driver) CreateCommandPool() (gpu.Handle, error) {
	return d.create("CreateCommandPool", &Object{Kind: KindCommandPool})
}

func (d *Driver) DestroyCommandPool(h gpu.Handle) {
	d.destroy("DestroyCommandPool", h, KindCommandPool)
}

func (d *Driver) AllocateCommandBuffer(pool gpu.Handle) (gpu.Handle, error) {
	return d.create("AllocateCommandBuffer", &Object{Kind: KindCommandBuffer, Pool: pool}, pool)
}

func (d *Driver) FreeCommandBuffer(pool gpu.Handle, cmd gpu.Handle) {
	d.destroy("FreeCommandBuffer", cmd, KindCommandBuffer)
}

func (d *Driver) CreateFence(signaled bool) (gpu.Handle, error) {
	return d.create("CreateFence", &Object{Kind: KindFence, Signaled: signaled})
}

func (d *Driver) DestroyFence(h gpu.Handle) {
	d.destroy("DestroyFence", h, KindFence)
}

// WaitFence completes the submission that signals fence, if any.
func (d *Driver) WaitFence(h gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.call("WaitFence", Call{Handles: []gpu.Handle{h}}); err != nil {
		return err
	}
	fence, err := d.lookup(h, KindFence)
	if err != nil {
		return err
	}
	if fence.Signaled {
		return nil
	}
	if !fence.Pending {
		return d.misuse(ErrDeadlock)
	}
	d.completeLocked(h, fence)
	return nil
}

func (d *Driver) completeLocked(h gpu.Handle, fence *Object) {
	fence.Pending = false
	fence.Signaled = true
	d.objects.Each(func(_ gpu.Handle, obj *Object) {
		if obj.Kind == KindCommandBuffer && obj.InFlight == h {
			obj.InFlight = gpu.Handle{}
		}
	})
}

func (d *Driver) ResetFence(h gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.call("ResetFence", Call{Handles: []gpu.Handle{h}}); err != nil {
		return err
	}
	fence, err := d.lookup(h, KindFence)
	if err != nil {
		return err
	}
	if fence.Pending {
		return d.misuse(errors.Wrapf(ErrInFlight, "reset of pending fence %s", h))
	}
	fence.Signaled = false
	return nil
}

func (d *Driver) CreateSemaphore() (gpu.Handle, error) {
	return d.create("CreateSemaphore", &Object{Kind: KindSemaphore})
}

func (d *Driver) DestroySemaphore(h gpu.Handle) {
	d.destroy("DestroySemaphore", h, KindSemaphore)
}

func (d *Driver) BeginCommandBuffer(h gpu.Handle, oneTimeSubmit bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.call("BeginCommandBuffer", Call{Handles: []gpu.Handle{h}}); err != nil {
		return err
	}
	cmd, err := d.lookup(h, KindCommandBuffer)
	if err != nil {
		return err
	}
	if !cmd.InFlight.IsZero() {
		return d.misuse(errors.Wrapf(ErrInFlight, "begin %s", h))
	}
	cmd.Recording = true
	return nil
}

func (d *Driver) EndCommandBuffer(h gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.call("EndCommandBuffer", Call{Handles: []gpu.Handle{h}}); err != nil {
		return err
	}
	cmd, err := d.lookup(h, KindCommandBuffer)
	if err != nil {
		return err
	}
	cmd.Recording = false
	return nil
}

func (d *Driver) record(op string, h gpu.Handle, c Call) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c.Handles = append([]gpu.Handle{h}, c.Handles...)
	if err := d.call(op, c); err != nil {
		return err
	}
	cmd, err := d.lookup(h, KindCommandBuffer)
	if err != nil {
		return err
	}
	if !cmd.Recording {
		return d.misuse(errors.Newf("%s on %s outside recording", op, h))
	}
	return nil
}

func (d *Driver) CmdImageBarrier(cmd gpu.Handle, barrier gpu.ImageBarrier) error {
	return d.record("CmdImageBarrier", cmd, Call{Barrier: barrier, Handles: []gpu.Handle{barrier.Image}})
}

func (d *Driver) CmdClearColorImage(cmd gpu.Handle, image gpu.Handle, layout gpu.ImageLayout, color gpu.ClearColor) error {
	return d.record("CmdClearColorImage", cmd, Call{Handles: []gpu.Handle{image}, Layout: layout, Color: color})
}

func (d *Driver) CmdBlitImage(cmd gpu.Handle, blit gpu.Blit) error {
	return d.record("CmdBlitImage", cmd, Call{Blit: blit, Handles: []gpu.Handle{blit.Src, blit.Dst}})
}

func (d *Driver) CmdBindProgram(cmd gpu.Handle, bindPoint gpu.BindPoint, program gpu.Handle) error {
	return d.record("CmdBindProgram", cmd, Call{Handles: []gpu.Handle{program}, Index: int(bindPoint)})
}

func (d *Driver) CmdPushConstants(cmd gpu.Handle, program gpu.Handle, constants gpu.ConstantRange, data []byte) error {
	return d.record("CmdPushConstants", cmd, Call{Handles: []gpu.Handle{program}, Data: append([]byte(nil), data...), Index: constants.Offset})
}

func (d *Driver) CmdBindImageSet(cmd gpu.Handle, bindPoint gpu.BindPoint, program gpu.Handle, set gpu.Handle) error {
	return d.record("CmdBindImageSet", cmd, Call{Handles: []gpu.Handle{program, set}, Index: int(bindPoint)})
}

func (d *Driver) CmdDispatch(cmd gpu.Handle, x, y, z int) error {
	return d.record("CmdDispatch", cmd, Call{Groups: [3]int{x, y, z}})
}

// Submit marks the fence pending and the command buffers in flight. The
// work completes when the fence is waited on or the device goes idle.
func (d *Driver) Submit(info gpu.SubmitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.call("Submit", Call{Submit: info}); err != nil {
		return err
	}

	for _, h := range info.CommandBuffers {
		cmd, err := d.lookup(h, KindCommandBuffer)
		if err != nil {
			return err
		}
		if cmd.Recording {
			return d.misuse(errors.Newf("submit of %s while recording", h))
		}
	}

	if info.Fence.IsZero() {
		return nil
	}
	fence, err := d.lookup(info.Fence, KindFence)
	if err != nil {
		return err
	}
	if fence.Signaled || fence.Pending {
		return d.misuse(errors.Newf("submit with fence %s not reset", info.Fence))
	}
	fence.Pending = true
	for _, h := range info.CommandBuffers {
		cmd, _ := d.objects.Get(h)
		cmd.InFlight = info.Fence
	}
	return nil
}

func (d *Driver) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.call("WaitIdle", Call{}); err != nil {
		return err
	}
	var pending []gpu.Handle
	d.objects.Each(func(h gpu.Handle, obj *Object) {
		if obj.Kind == KindFence && obj.Pending {
			pending = append(pending, h)
		}
	})
	for _, h := range pending {
		fence, _ := d.objects.Get(h)
		d.completeLocked(h, fence)
	}
	return nil
}

func (d *Driver) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()

	_ = d.call("Destroy", Call{})
	if d.destroyed {
		_ = d.misuse(errors.New("device destroyed twice"))
		return
	}
	d.destroyed = true
	d.liveAtEnd = d.countLocked("")
}
