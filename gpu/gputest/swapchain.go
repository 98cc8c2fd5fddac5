package gputest

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiyo/gpu"
)

var _ gpu.Swapchain = (*Swapchain)(nil)

// Swapchain hands out its images in round-robin order.
type Swapchain struct {
	driver *Driver
	images []gpu.Handle
	extent gpu.Extent2D
	next   int
}

// NewSwapchain registers count presentable images with d.
func NewSwapchain(d *Driver, count int, extent gpu.Extent2D) *Swapchain {
	s := &Swapchain{driver: d, extent: extent}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < count; i++ {
		s.images = append(s.images, d.objects.Insert(&Object{
			Kind:  KindSwapchainImage,
			Image: gpu.ImageInfo{Extent: extent, Format: gpu.FormatB8G8R8A8UnsignedNormalized},
		}))
	}
	return s
}

func (s *Swapchain) ImageCount() int {
	return len(s.images)
}

func (s *Swapchain) Extent() gpu.Extent2D {
	return s.extent
}

func (s *Swapchain) Format() gpu.Format {
	return gpu.FormatB8G8R8A8UnsignedNormalized
}

func (s *Swapchain) Image(index int) gpu.Handle {
	return s.images[index]
}

func (s *Swapchain) AcquireNextImage(signal gpu.Handle) (int, error) {
	d := s.driver
	d.mu.Lock()
	defer d.mu.Unlock()

	index := s.next
	if err := d.call("AcquireNextImage", Call{Handles: []gpu.Handle{signal}, Index: index}); err != nil {
		return 0, err
	}
	if _, err := d.lookup(signal, KindSemaphore); err != nil {
		return 0, err
	}
	s.next = (s.next + 1) % len(s.images)
	return index, nil
}

func (s *Swapchain) Present(index int, wait gpu.Handle) error {
	d := s.driver
	d.mu.Lock()
	defer d.mu.Unlock()

	if index < 0 || index >= len(s.images) {
		return d.misuse(errors.Newf("present of image %d out of %d", index, len(s.images)))
	}
	if err := d.call("Present", Call{Handles: []gpu.Handle{s.images[index], wait}, Index: index}); err != nil {
		return err
	}
	_, err := d.lookup(wait, KindSemaphore)
	return err
}

func (s *Swapchain) Destroy() {
	d := s.driver
	d.mu.Lock()
	defer d.mu.Unlock()

	_ = d.call("DestroySwapchain", Call{})
	for _, h := range s.images {
		d.objects.Remove(h)
	}
	s.images = nil
}
