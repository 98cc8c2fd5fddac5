package gpu

import "github.com/cockroachdb/errors"

// Fence is a CPU-observable completion signal.
type Fence struct {
	ref
	driver Driver
}

func (d *Device) NewFence(signaled bool) (*Fence, error) {
	h, err := d.driver.CreateFence(signaled)
	if err != nil {
		return nil, errors.Wrap(err, "create fence")
	}

	f := &Fence{driver: d.driver}
	f.init(newObject("fence", h, d.driver.DestroyFence, d.obj))
	return f, nil
}

// Wait blocks until the fence is signaled.
func (f *Fence) Wait() error {
	if err := f.driver.WaitFence(f.Handle()); err != nil {
		return Fatal(err, "wait for fence")
	}
	return nil
}

func (f *Fence) Reset() error {
	if err := f.driver.ResetFence(f.Handle()); err != nil {
		return Fatal(err, "reset fence")
	}
	return nil
}

// Semaphore is a GPU-side ordering signal between queue operations.
type Semaphore struct {
	ref
}

func (d *Device) NewSemaphore() (*Semaphore, error) {
	h, err := d.driver.CreateSemaphore()
	if err != nil {
		return nil, errors.Wrap(err, "create semaphore")
	}

	s := &Semaphore{}
	s.init(newObject("semaphore", h, d.driver.DestroySemaphore, d.obj))
	return s, nil
}
