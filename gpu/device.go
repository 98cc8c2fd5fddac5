package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiyo"
)

// Device is a reference to the single device context of a running instance.
// Every object created from it holds its own reference, so the native device
// is only torn down after all of them are released. Teardown waits for the
// device to go idle first.
type Device struct {
	ref
	driver Driver
}

// NewDevice takes ownership of driver.
func NewDevice(driver Driver) *Device {
	d := &Device{driver: driver}
	d.init(newObject("device", Handle{}, func(Handle) {
		if err := driver.WaitIdle(); err != nil {
			kiyo.Logger().Warn("device wait idle failed during teardown", "err", err)
		}
		driver.Destroy()
	}))
	return d
}

// Clone returns a new reference to the same device.
func (d *Device) Clone() *Device {
	c := &Device{driver: d.driver}
	c.init(d.obj.retain())
	return c
}

// Driver exposes the underlying native driver.
func (d *Device) Driver() Driver {
	return d.driver
}

// WaitIdle blocks until every submitted command has finished executing.
func (d *Device) WaitIdle() error {
	if err := d.driver.WaitIdle(); err != nil {
		return Fatal(err, "wait for device idle")
	}
	return nil
}

// Submission is one queue submission expressed in wrapper types.
type Submission struct {
	Commands   []*CommandBuffer
	Wait       []*Semaphore
	WaitStages []PipelineStage
	Signal     []*Semaphore
	Fence      *Fence
}

// Submit hands the command buffers to the device queue. Failures are fatal.
func (d *Device) Submit(s Submission) error {
	if len(s.Wait) != len(s.WaitStages) {
		return errors.Newf("submit: %d wait semaphores but %d wait stages", len(s.Wait), len(s.WaitStages))
	}

	info := SubmitInfo{WaitStages: s.WaitStages}
	for _, cmd := range s.Commands {
		info.CommandBuffers = append(info.CommandBuffers, cmd.Handle())
	}
	for _, sem := range s.Wait {
		info.WaitSemaphores = append(info.WaitSemaphores, sem.Handle())
	}
	for _, sem := range s.Signal {
		info.SignalSemaphores = append(info.SignalSemaphores, sem.Handle())
	}
	if s.Fence != nil {
		info.Fence = s.Fence.Handle()
	}

	if err := d.driver.Submit(info); err != nil {
		return Fatal(err, "queue submit")
	}
	return nil
}

// NewAllocator creates a memory allocator bound to this device.
func (d *Device) NewAllocator() (*Allocator, error) {
	h, err := d.driver.CreateAllocator()
	if err != nil {
		return nil, errors.Wrap(err, "create allocator")
	}

	a := &Allocator{}
	a.init(newObject("allocator", h, d.driver.DestroyAllocator, d.obj))
	return a, nil
}

// Allocator hands out device memory for images.
type Allocator struct {
	ref
}

func (a *Allocator) Clone() *Allocator {
	c := &Allocator{}
	c.init(a.obj.retain())
	return c
}
