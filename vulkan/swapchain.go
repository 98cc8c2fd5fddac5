package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/kiyo/gpu"
)

// ErrOutOfDate is returned by AcquireNextImage and Present once the surface
// no longer matches the swapchain. Swapchains are not recreated.
var ErrOutOfDate = errors.New("swapchain out of date")

// Swapchain presents to the window surface of the Driver that created it.
type Swapchain struct {
	driver    *Driver
	extension khr_swapchain.ExtensionDriver
	swapchain khr_swapchain.Swapchain

	format    gpu.Format
	extent    gpu.Extent2D
	images    []gpu.Handle
	destroyed bool
}

var _ gpu.Swapchain = (*Swapchain)(nil)

// NewSwapchain creates a swapchain sized to the window's drawable area.
// vsync selects FIFO presentation; otherwise IMMEDIATE is used where the
// surface supports it.
func (d *Driver) NewSwapchain(window *sdl.Window, vsync bool) (*Swapchain, error) {
	capabilities, _, err := d.surfaceExtension.GetPhysicalDeviceSurfaceCapabilities(d.surface, d.physicalDevice)
	if err != nil {
		return nil, errors.Wrap(err, "surface capabilities")
	}
	formats, _, err := d.surfaceExtension.GetPhysicalDeviceSurfaceFormats(d.surface, d.physicalDevice)
	if err != nil {
		return nil, errors.Wrap(err, "surface formats")
	}
	if len(formats) == 0 {
		return nil, errors.New("surface reports no formats")
	}
	presentModes, _, err := d.surfaceExtension.GetPhysicalDeviceSurfacePresentModes(d.surface, d.physicalDevice)
	if err != nil {
		return nil, errors.Wrap(err, "surface present modes")
	}

	surfaceFormat := chooseSurfaceFormat(formats)
	presentMode := choosePresentMode(presentModes, vsync)
	extent := chooseExtent(capabilities, window)

	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && capabilities.MaxImageCount < imageCount {
		imageCount = capabilities.MaxImageCount
	}

	extension := khr_swapchain.CreateExtensionDriverFromCoreDriver(d.deviceDriver)
	swapchain, _, err := extension.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface: d.surface,

		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		// Frames are blitted into swapchain images, never rendered to.
		ImageUsage: core1_0.ImageUsageTransferDst | core1_0.ImageUsageColorAttachment,

		ImageSharingMode: core1_0.SharingModeExclusive,

		PreTransform:   capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    presentMode,
		Clipped:        true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create swapchain")
	}

	images, _, err := extension.GetSwapchainImages(swapchain)
	if err != nil {
		extension.DestroySwapchain(swapchain, nil)
		return nil, errors.Wrap(err, "swapchain images")
	}

	s := &Swapchain{
		driver:    d,
		extension: extension,
		swapchain: swapchain,
		format:    fromFormat(surfaceFormat.Format),
		extent:    gpu.Extent2D{Width: extent.Width, Height: extent.Height},
	}
	for _, img := range images {
		s.images = append(s.images, d.objects.Insert(&presentImage{image: img}))
	}

	d.log.Info("created swapchain",
		"images", len(s.images),
		"extent", s.extent.String(),
		"format", s.format.String(),
		"vsync", vsync)
	return s, nil
}

// chooseSurfaceFormat prefers a UNORM format, so shaders write linear values
// straight through to the display.
func chooseSurfaceFormat(formats []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, f := range formats {
		if f.Format == core1_0.FormatB8G8R8A8UnsignedNormalized && f.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return f
		}
	}
	return formats[0]
}

func choosePresentMode(modes []khr_surface.PresentMode, vsync bool) khr_surface.PresentMode {
	if vsync {
		return khr_surface.PresentModeFIFO
	}
	for _, mode := range modes {
		if mode == khr_surface.PresentModeImmediate {
			return mode
		}
	}
	return khr_surface.PresentModeFIFO
}

func chooseExtent(capabilities *khr_surface.SurfaceCapabilities, window *sdl.Window) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	widthInt, heightInt := window.VulkanGetDrawableSize()
	width := clamp(int(widthInt), capabilities.MinImageExtent.Width, capabilities.MaxImageExtent.Width)
	height := clamp(int(heightInt), capabilities.MinImageExtent.Height, capabilities.MaxImageExtent.Height)
	return core1_0.Extent2D{Width: width, Height: height}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func (s *Swapchain) ImageCount() int {
	return len(s.images)
}

func (s *Swapchain) Extent() gpu.Extent2D {
	return s.extent
}

func (s *Swapchain) Format() gpu.Format {
	return s.format
}

func (s *Swapchain) Image(index int) gpu.Handle {
	return s.images[index]
}

func (s *Swapchain) AcquireNextImage(signal gpu.Handle) (int, error) {
	sem, err := get[*semaphore](s.driver, signal)
	if err != nil {
		return 0, err
	}

	imageIndex, res, err := s.extension.AcquireNextImage(s.swapchain, common.NoTimeout, &sem.semaphore, nil)
	if res == khr_swapchain.VKErrorOutOfDate {
		return 0, ErrOutOfDate
	}
	if err != nil {
		return 0, err
	}
	return imageIndex, nil
}

// Present treats a suboptimal swapchain as out of date.
func (s *Swapchain) Present(index int, wait gpu.Handle) error {
	sem, err := get[*semaphore](s.driver, wait)
	if err != nil {
		return err
	}

	res, err := s.extension.QueuePresent(s.driver.queue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{sem.semaphore},
		Swapchains:     []khr_swapchain.Swapchain{s.swapchain},
		ImageIndices:   []int{index},
	})
	if res == khr_swapchain.VKErrorOutOfDate || res == khr_swapchain.VKSuboptimal {
		return ErrOutOfDate
	}
	return err
}

func (s *Swapchain) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	for _, h := range s.images {
		s.driver.objects.Remove(h)
	}
	s.images = nil
	s.extension.DestroySwapchain(s.swapchain, nil)
}
