package gpu

// Driver is the native device layer the ownership chain is built on. All
// handles it returns are only meaningful to the Driver that issued them.
//
// Create and Destroy calls are made by the wrapper types in this package;
// nothing above this package calls a Driver directly except to submit.
type Driver interface {
	CreateAllocator() (Handle, error)
	DestroyAllocator(allocator Handle)

	CreateImage(allocator Handle, info ImageInfo) (Handle, error)
	DestroyImage(image Handle)

	CreateResourceLayout(info ResourceLayoutInfo) (Handle, error)
	DestroyResourceLayout(layout Handle)

	CreateImageSet(layout Handle, images []Handle) (Handle, error)
	DestroyImageSet(set Handle)

	CreateProgram(info ProgramInfo) (Handle, error)
	DestroyProgram(program Handle)

	CreateCommandPool() (Handle, error)
	DestroyCommandPool(pool Handle)
	AllocateCommandBuffer(pool Handle) (Handle, error)
	FreeCommandBuffer(pool Handle, cmd Handle)

	CreateFence(signaled bool) (Handle, error)
	WaitFence(fence Handle) error
	ResetFence(fence Handle) error
	DestroyFence(fence Handle)

	CreateSemaphore() (Handle, error)
	DestroySemaphore(semaphore Handle)

	BeginCommandBuffer(cmd Handle, oneTimeSubmit bool) error
	EndCommandBuffer(cmd Handle) error
	CmdImageBarrier(cmd Handle, barrier ImageBarrier) error
	CmdClearColorImage(cmd Handle, image Handle, layout ImageLayout, color ClearColor) error
	CmdBlitImage(cmd Handle, blit Blit) error
	CmdBindProgram(cmd Handle, bindPoint BindPoint, program Handle) error
	CmdPushConstants(cmd Handle, program Handle, constants ConstantRange, data []byte) error
	CmdBindImageSet(cmd Handle, bindPoint BindPoint, program Handle, set Handle) error
	CmdDispatch(cmd Handle, x, y, z int) error

	Submit(info SubmitInfo) error
	WaitIdle() error

	// Destroy tears down the native device. It is only called after
	// WaitIdle, once every object built on the device has been released.
	Destroy()
}

// Swapchain is the presentable surface a frame is drawn into.
type Swapchain interface {
	ImageCount() int
	Extent() Extent2D
	Format() Format
	Image(index int) Handle
	// AcquireNextImage returns the index of the next presentable image;
	// signal is signaled once the image may be written.
	AcquireNextImage(signal Handle) (int, error)
	// Present queues image index for presentation once wait is signaled.
	Present(index int, wait Handle) error
	Destroy()
}

// ImageRef is anything that names a native image: a shared Image, or a
// swapchain Target.
type ImageRef interface {
	NativeImage() Handle
	Extent() Extent2D
}

// Target is an acquired swapchain image. It is owned by the swapchain, not
// by the ownership chain.
type Target struct {
	Image Handle
	Size  Extent2D
	Index int
}

func (t Target) NativeImage() Handle {
	return t.Image
}

func (t Target) Extent() Extent2D {
	return t.Size
}
