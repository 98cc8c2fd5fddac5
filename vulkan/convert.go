package vulkan

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/kiyo/gpu"
)

func format(f gpu.Format) core1_0.Format {
	switch f {
	case gpu.FormatR8G8B8A8UnsignedNormalized:
		return core1_0.FormatR8G8B8A8UnsignedNormalized
	case gpu.FormatB8G8R8A8UnsignedNormalized:
		return core1_0.FormatB8G8R8A8UnsignedNormalized
	case gpu.FormatB8G8R8A8SRGB:
		return core1_0.FormatB8G8R8A8SRGB
	}
	return core1_0.FormatUndefined
}

func fromFormat(f core1_0.Format) gpu.Format {
	switch f {
	case core1_0.FormatR8G8B8A8UnsignedNormalized:
		return gpu.FormatR8G8B8A8UnsignedNormalized
	case core1_0.FormatB8G8R8A8UnsignedNormalized:
		return gpu.FormatB8G8R8A8UnsignedNormalized
	case core1_0.FormatB8G8R8A8SRGB:
		return gpu.FormatB8G8R8A8SRGB
	}
	return gpu.FormatUndefined
}

func imageUsage(u gpu.ImageUsage) core1_0.ImageUsageFlags {
	var flags core1_0.ImageUsageFlags
	if u&gpu.ImageUsageTransferSrc != 0 {
		flags |= core1_0.ImageUsageTransferSrc
	}
	if u&gpu.ImageUsageTransferDst != 0 {
		flags |= core1_0.ImageUsageTransferDst
	}
	if u&gpu.ImageUsageStorage != 0 {
		flags |= core1_0.ImageUsageStorage
	}
	if u&gpu.ImageUsageSampled != 0 {
		flags |= core1_0.ImageUsageSampled
	}
	if u&gpu.ImageUsageColorAttachment != 0 {
		flags |= core1_0.ImageUsageColorAttachment
	}
	return flags
}

func imageLayout(l gpu.ImageLayout) core1_0.ImageLayout {
	switch l {
	case gpu.LayoutGeneral:
		return core1_0.ImageLayoutGeneral
	case gpu.LayoutTransferSrc:
		return core1_0.ImageLayoutTransferSrcOptimal
	case gpu.LayoutTransferDst:
		return core1_0.ImageLayoutTransferDstOptimal
	case gpu.LayoutPresentSrc:
		return khr_swapchain.ImageLayoutPresentSrc
	}
	return core1_0.ImageLayoutUndefined
}

func pipelineStages(s gpu.PipelineStage) core1_0.PipelineStageFlags {
	var flags core1_0.PipelineStageFlags
	if s&gpu.StageTopOfPipe != 0 {
		flags |= core1_0.PipelineStageTopOfPipe
	}
	if s&gpu.StageComputeShader != 0 {
		flags |= core1_0.PipelineStageComputeShader
	}
	if s&gpu.StageTransfer != 0 {
		flags |= core1_0.PipelineStageTransfer
	}
	if s&gpu.StageColorAttachmentOutput != 0 {
		flags |= core1_0.PipelineStageColorAttachmentOutput
	}
	if s&gpu.StageBottomOfPipe != 0 {
		flags |= core1_0.PipelineStageBottomOfPipe
	}
	if s&gpu.StageAllCommands != 0 {
		flags |= core1_0.PipelineStageAllCommands
	}
	// A zero stage mask is invalid.
	if flags == 0 {
		flags = core1_0.PipelineStageTopOfPipe
	}
	return flags
}

func access(a gpu.Access) core1_0.AccessFlags {
	var flags core1_0.AccessFlags
	if a&gpu.AccessShaderRead != 0 {
		flags |= core1_0.AccessShaderRead
	}
	if a&gpu.AccessShaderWrite != 0 {
		flags |= core1_0.AccessShaderWrite
	}
	if a&gpu.AccessTransferRead != 0 {
		flags |= core1_0.AccessTransferRead
	}
	if a&gpu.AccessTransferWrite != 0 {
		flags |= core1_0.AccessTransferWrite
	}
	if a&gpu.AccessMemoryRead != 0 {
		flags |= core1_0.AccessMemoryRead
	}
	return flags
}

func shaderStages(s gpu.ShaderStage) core1_0.ShaderStageFlags {
	var flags core1_0.ShaderStageFlags
	if s&gpu.ShaderStageCompute != 0 {
		flags |= core1_0.StageCompute
	}
	if s&gpu.ShaderStageVertex != 0 {
		flags |= core1_0.StageVertex
	}
	if s&gpu.ShaderStageFragment != 0 {
		flags |= core1_0.StageFragment
	}
	return flags
}

func filter(f gpu.Filter) core1_0.Filter {
	if f == gpu.FilterLinear {
		return core1_0.FilterLinear
	}
	return core1_0.FilterNearest
}

func bindPoint(b gpu.BindPoint) core1_0.PipelineBindPoint {
	if b == gpu.BindPointGraphics {
		return core1_0.PipelineBindPointGraphics
	}
	return core1_0.PipelineBindPointCompute
}

func descriptorType(t gpu.DescriptorType) core1_0.DescriptorType {
	return core1_0.DescriptorTypeStorageImage
}

var colorRange = core1_0.ImageSubresourceRange{
	AspectMask:     core1_0.ImageAspectColor,
	BaseMipLevel:   0,
	LevelCount:     1,
	BaseArrayLayer: 0,
	LayerCount:     1,
}

var colorLayers = core1_0.ImageSubresourceLayers{
	AspectMask:     core1_0.ImageAspectColor,
	MipLevel:       0,
	BaseArrayLayer: 0,
	LayerCount:     1,
}

// bytesToBytecode reinterprets little-endian SPIR-V bytes as words.
func bytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}
	return byteCode
}
