package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiyo/gpu"
)

// allocator groups the device memory of the images created through it.
// Every image gets its own dedicated allocation.
type allocator struct {
	images int
}

type image struct {
	image     core1_0.Image
	memory    core1_0.DeviceMemory
	view      core1_0.ImageView
	allocator *allocator
}

// presentImage is a swapchain-owned image; it is never destroyed through the
// arena.
type presentImage struct {
	image core1_0.Image
}

type resourceLayout struct {
	layout core1_0.DescriptorSetLayout
	info   gpu.ResourceLayoutInfo
}

type imageSet struct {
	pool core1_0.DescriptorPool
	set  core1_0.DescriptorSet
}

type program struct {
	layout   core1_0.PipelineLayout
	pipeline core1_0.Pipeline
}

type commandPool struct {
	pool core1_0.CommandPool
}

type commandBuffer struct {
	buffer core1_0.CommandBuffer
}

type fence struct {
	fence core1_0.Fence
}

type semaphore struct {
	semaphore core1_0.Semaphore
}

func get[T any](d *Driver, h gpu.Handle) (T, error) {
	var zero T
	obj, ok := d.objects.Get(h)
	if !ok {
		return zero, errors.Wrapf(errStale, "%s", h)
	}
	t, ok := obj.(T)
	if !ok {
		return zero, errors.Newf("%s refers to a %T", h, obj)
	}
	return t, nil
}

func remove[T any](d *Driver, h gpu.Handle) (T, bool) {
	var zero T
	obj, ok := d.objects.Remove(h)
	if !ok {
		d.log.Warn("destroy of stale handle", "handle", h.String())
		return zero, false
	}
	t, ok := obj.(T)
	if !ok {
		d.log.Error("destroy through the wrong kind", "handle", h.String())
		d.destroyObject(obj)
		return zero, false
	}
	return t, true
}

// nativeImage resolves shared images and swapchain images alike.
func (d *Driver) nativeImage(h gpu.Handle) (core1_0.Image, error) {
	obj, ok := d.objects.Get(h)
	if !ok {
		return core1_0.Image{}, errors.Wrapf(errStale, "image %s", h)
	}
	switch img := obj.(type) {
	case *image:
		return img.image, nil
	case *presentImage:
		return img.image, nil
	}
	return core1_0.Image{}, errors.Newf("%s is not an image", h)
}

func (d *Driver) destroyObject(obj any) {
	switch o := obj.(type) {
	case *allocator:
	case *image:
		d.deviceDriver.DestroyImageView(o.view, nil)
		d.deviceDriver.DestroyImage(o.image, nil)
		d.deviceDriver.FreeMemory(o.memory, nil)
		o.allocator.images--
	case *presentImage:
	case *resourceLayout:
		d.deviceDriver.DestroyDescriptorSetLayout(o.layout, nil)
	case *imageSet:
		// Destroying the pool frees its set.
		d.deviceDriver.DestroyDescriptorPool(o.pool, nil)
	case *program:
		d.deviceDriver.DestroyPipeline(o.pipeline, nil)
		d.deviceDriver.DestroyPipelineLayout(o.layout, nil)
	case *commandPool:
		d.deviceDriver.DestroyCommandPool(o.pool, nil)
	case *commandBuffer:
		d.deviceDriver.FreeCommandBuffers(o.buffer)
	case *fence:
		d.deviceDriver.DestroyFence(o.fence, nil)
	case *semaphore:
		d.deviceDriver.DestroySemaphore(o.semaphore, nil)
	}
}

func (d *Driver) CreateAllocator() (gpu.Handle, error) {
	return d.objects.Insert(&allocator{}), nil
}

func (d *Driver) DestroyAllocator(h gpu.Handle) {
	a, ok := remove[*allocator](d, h)
	if ok && a.images > 0 {
		d.log.Warn("allocator destroyed with live images", "images", a.images)
	}
}

func (d *Driver) CreateImage(allocatorHandle gpu.Handle, info gpu.ImageInfo) (gpu.Handle, error) {
	alloc, err := get[*allocator](d, allocatorHandle)
	if err != nil {
		return gpu.Handle{}, err
	}

	img, _, err := d.deviceDriver.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  info.Extent.Width,
			Height: info.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        format(info.Format),
		Tiling:        core1_0.ImageTilingOptimal,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         imageUsage(info.Usage),
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       core1_0.Samples1,
	})
	if err != nil {
		return gpu.Handle{}, err
	}

	memReqs := d.deviceDriver.GetImageMemoryRequirements(img)
	memoryIndex, err := d.findMemoryType(memReqs.MemoryTypeBits, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		d.deviceDriver.DestroyImage(img, nil)
		return gpu.Handle{}, err
	}

	memory, _, err := d.deviceDriver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryIndex,
	})
	if err != nil {
		d.deviceDriver.DestroyImage(img, nil)
		return gpu.Handle{}, err
	}

	if _, err := d.deviceDriver.BindImageMemory(img, memory, 0); err != nil {
		d.deviceDriver.DestroyImage(img, nil)
		d.deviceDriver.FreeMemory(memory, nil)
		return gpu.Handle{}, err
	}

	view, _, err := d.deviceDriver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:            img,
		ViewType:         core1_0.ImageViewType2D,
		Format:           format(info.Format),
		SubresourceRange: colorRange,
	})
	if err != nil {
		d.deviceDriver.DestroyImage(img, nil)
		d.deviceDriver.FreeMemory(memory, nil)
		return gpu.Handle{}, err
	}

	alloc.images++
	return d.objects.Insert(&image{image: img, memory: memory, view: view, allocator: alloc}), nil
}

func (d *Driver) findMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	memProperties := d.instanceDriver.GetPhysicalDeviceMemoryProperties(d.physicalDevice)
	for i, memoryType := range memProperties.MemoryTypes {
		typeBit := uint32(1 << i)
		if typeFilter&typeBit != 0 && memoryType.PropertyFlags&properties == properties {
			return i, nil
		}
	}
	return 0, errors.New("no suitable memory type")
}

func (d *Driver) DestroyImage(h gpu.Handle) {
	if img, ok := remove[*image](d, h); ok {
		d.destroyObject(img)
	}
}

func (d *Driver) CreateResourceLayout(info gpu.ResourceLayoutInfo) (gpu.Handle, error) {
	var bindings []core1_0.DescriptorSetLayoutBinding
	for _, b := range info.Bindings {
		bindings = append(bindings, core1_0.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  descriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      shaderStages(b.Stages),
		})
	}

	layout, _, err := d.deviceDriver.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: bindings,
	})
	if err != nil {
		return gpu.Handle{}, err
	}
	return d.objects.Insert(&resourceLayout{layout: layout, info: info}), nil
}

func (d *Driver) DestroyResourceLayout(h gpu.Handle) {
	if l, ok := remove[*resourceLayout](d, h); ok {
		d.destroyObject(l)
	}
}

// CreateImageSet writes images, in order, into the first binding of layout.
func (d *Driver) CreateImageSet(layoutHandle gpu.Handle, images []gpu.Handle) (gpu.Handle, error) {
	layout, err := get[*resourceLayout](d, layoutHandle)
	if err != nil {
		return gpu.Handle{}, err
	}
	if len(layout.info.Bindings) == 0 {
		return gpu.Handle{}, errors.New("resource layout has no bindings")
	}
	binding := layout.info.Bindings[0]

	infos := make([]core1_0.DescriptorImageInfo, 0, len(images))
	for _, h := range images {
		img, err := get[*image](d, h)
		if err != nil {
			return gpu.Handle{}, err
		}
		infos = append(infos, core1_0.DescriptorImageInfo{
			ImageView:   img.view,
			ImageLayout: core1_0.ImageLayoutGeneral,
		})
	}

	pool, _, err := d.deviceDriver.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: 1,
		PoolSizes: []core1_0.DescriptorPoolSize{{
			Type:            descriptorType(binding.Type),
			DescriptorCount: len(images),
		}},
	})
	if err != nil {
		return gpu.Handle{}, err
	}

	sets, _, err := d.deviceDriver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout.layout},
	})
	if err != nil {
		d.deviceDriver.DestroyDescriptorPool(pool, nil)
		return gpu.Handle{}, err
	}

	err = d.deviceDriver.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{{
		DstSet:          sets[0],
		DstBinding:      binding.Binding,
		DstArrayElement: 0,
		DescriptorType:  descriptorType(binding.Type),
		ImageInfo:       infos,
	}}, nil)
	if err != nil {
		d.deviceDriver.DestroyDescriptorPool(pool, nil)
		return gpu.Handle{}, err
	}

	return d.objects.Insert(&imageSet{pool: pool, set: sets[0]}), nil
}

func (d *Driver) DestroyImageSet(h gpu.Handle) {
	if s, ok := remove[*imageSet](d, h); ok {
		d.destroyObject(s)
	}
}

// CreateProgram builds a compute pipeline. Graphics programs need a render
// pass and attachments, which this driver does not manage.
func (d *Driver) CreateProgram(info gpu.ProgramInfo) (gpu.Handle, error) {
	if info.Kind != gpu.ProgramCompute {
		return gpu.Handle{}, errors.Wrapf(gpu.ErrUnsupported, "%s programs", info.Kind)
	}
	layout, err := get[*resourceLayout](d, info.Layout)
	if err != nil {
		return gpu.Handle{}, err
	}
	code, ok := info.Stages[gpu.ShaderStageCompute]
	if !ok {
		return gpu.Handle{}, errors.New("compute program without compute bytecode")
	}

	module, _, err := d.deviceDriver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: bytesToBytecode(code),
	})
	if err != nil {
		return gpu.Handle{}, err
	}
	defer d.deviceDriver.DestroyShaderModule(module, nil)

	layoutInfo := core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{layout.layout},
	}
	if info.Constants.Size > 0 {
		layoutInfo.PushConstantRanges = []core1_0.PushConstantRange{{
			StageFlags: shaderStages(info.Constants.Stages),
			Offset:     info.Constants.Offset,
			Size:       info.Constants.Size,
		}}
	}
	pipelineLayout, _, err := d.deviceDriver.CreatePipelineLayout(nil, layoutInfo)
	if err != nil {
		return gpu.Handle{}, err
	}

	pipelines, _, err := d.deviceDriver.CreateComputePipelines(nil, nil, core1_0.ComputePipelineCreateInfo{
		Stage: core1_0.PipelineShaderStageCreateInfo{
			Stage:  core1_0.StageCompute,
			Module: module,
			Name:   "main",
		},
		Layout:            pipelineLayout,
		BasePipelineIndex: -1,
	})
	if err != nil {
		d.deviceDriver.DestroyPipelineLayout(pipelineLayout, nil)
		return gpu.Handle{}, err
	}

	return d.objects.Insert(&program{layout: pipelineLayout, pipeline: pipelines[0]}), nil
}

func (d *Driver) DestroyProgram(h gpu.Handle) {
	if p, ok := remove[*program](d, h); ok {
		d.destroyObject(p)
	}
}

func (d *Driver) CreateCommandPool() (gpu.Handle, error) {
	pool, _, err := d.deviceDriver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		// Frame slots re-begin their buffers without an explicit reset.
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: d.queueFamily,
	})
	if err != nil {
		return gpu.Handle{}, err
	}
	return d.objects.Insert(&commandPool{pool: pool}), nil
}

func (d *Driver) DestroyCommandPool(h gpu.Handle) {
	if p, ok := remove[*commandPool](d, h); ok {
		d.destroyObject(p)
	}
}

func (d *Driver) AllocateCommandBuffer(poolHandle gpu.Handle) (gpu.Handle, error) {
	pool, err := get[*commandPool](d, poolHandle)
	if err != nil {
		return gpu.Handle{}, err
	}
	buffers, _, err := d.deviceDriver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        pool.pool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return gpu.Handle{}, err
	}
	return d.objects.Insert(&commandBuffer{buffer: buffers[0]}), nil
}

func (d *Driver) FreeCommandBuffer(_ gpu.Handle, h gpu.Handle) {
	if c, ok := remove[*commandBuffer](d, h); ok {
		d.destroyObject(c)
	}
}

func (d *Driver) CreateFence(signaled bool) (gpu.Handle, error) {
	var info core1_0.FenceCreateInfo
	if signaled {
		info.Flags = core1_0.FenceCreateSignaled
	}
	f, _, err := d.deviceDriver.CreateFence(nil, info)
	if err != nil {
		return gpu.Handle{}, err
	}
	return d.objects.Insert(&fence{fence: f}), nil
}

func (d *Driver) WaitFence(h gpu.Handle) error {
	f, err := get[*fence](d, h)
	if err != nil {
		return err
	}
	_, err = d.deviceDriver.WaitForFences(true, common.NoTimeout, f.fence)
	return err
}

func (d *Driver) ResetFence(h gpu.Handle) error {
	f, err := get[*fence](d, h)
	if err != nil {
		return err
	}
	_, err = d.deviceDriver.ResetFences(f.fence)
	return err
}

func (d *Driver) DestroyFence(h gpu.Handle) {
	if f, ok := remove[*fence](d, h); ok {
		d.destroyObject(f)
	}
}

func (d *Driver) CreateSemaphore() (gpu.Handle, error) {
	s, _, err := d.deviceDriver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return gpu.Handle{}, err
	}
	return d.objects.Insert(&semaphore{semaphore: s}), nil
}

func (d *Driver) DestroySemaphore(h gpu.Handle) {
	if s, ok := remove[*semaphore](d, h); ok {
		d.destroyObject(s)
	}
}

func (d *Driver) Submit(info gpu.SubmitInfo) error {
	submit := core1_0.SubmitInfo{}
	for _, h := range info.CommandBuffers {
		c, err := get[*commandBuffer](d, h)
		if err != nil {
			return err
		}
		submit.CommandBuffers = append(submit.CommandBuffers, c.buffer)
	}
	for i, h := range info.WaitSemaphores {
		s, err := get[*semaphore](d, h)
		if err != nil {
			return err
		}
		submit.WaitSemaphores = append(submit.WaitSemaphores, s.semaphore)
		submit.WaitDstStageMask = append(submit.WaitDstStageMask, pipelineStages(info.WaitStages[i]))
	}
	for _, h := range info.SignalSemaphores {
		s, err := get[*semaphore](d, h)
		if err != nil {
			return err
		}
		submit.SignalSemaphores = append(submit.SignalSemaphores, s.semaphore)
	}

	var signal *core1_0.Fence
	if !info.Fence.IsZero() {
		f, err := get[*fence](d, info.Fence)
		if err != nil {
			return err
		}
		signal = &f.fence
	}

	_, err := d.deviceDriver.QueueSubmit(d.queue, signal, submit)
	return err
}
