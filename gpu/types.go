package gpu

import "fmt"

type Extent2D struct {
	Width  int
	Height int
}

func (e Extent2D) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

type Format int

const (
	FormatUndefined Format = iota
	FormatR8G8B8A8UnsignedNormalized
	FormatB8G8R8A8UnsignedNormalized
	FormatB8G8R8A8SRGB
)

func (f Format) String() string {
	switch f {
	case FormatR8G8B8A8UnsignedNormalized:
		return "R8G8B8A8_UNORM"
	case FormatB8G8R8A8UnsignedNormalized:
		return "B8G8R8A8_UNORM"
	case FormatB8G8R8A8SRGB:
		return "B8G8R8A8_SRGB"
	default:
		return "UNDEFINED"
	}
}

type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageStorage
	ImageUsageSampled
	ImageUsageColorAttachment
)

type ImageLayout int

const (
	LayoutUndefined ImageLayout = iota
	LayoutGeneral
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresentSrc
)

func (l ImageLayout) String() string {
	switch l {
	case LayoutGeneral:
		return "GENERAL"
	case LayoutTransferSrc:
		return "TRANSFER_SRC"
	case LayoutTransferDst:
		return "TRANSFER_DST"
	case LayoutPresentSrc:
		return "PRESENT_SRC"
	default:
		return "UNDEFINED"
	}
}

type PipelineStage uint32

const (
	StageTopOfPipe PipelineStage = 1 << iota
	StageComputeShader
	StageTransfer
	StageColorAttachmentOutput
	StageBottomOfPipe
	StageAllCommands
)

type Access uint32

const (
	AccessShaderRead Access = 1 << iota
	AccessShaderWrite
	AccessTransferRead
	AccessTransferWrite
	AccessMemoryRead
)

type ShaderStage uint32

const (
	ShaderStageCompute ShaderStage = 1 << iota
	ShaderStageVertex
	ShaderStageFragment
)

type Filter int

const (
	FilterNearest Filter = iota
	FilterLinear
)

// BindPoint is the pipeline bind point a program is bound to.
type BindPoint int

const (
	BindPointCompute BindPoint = iota
	BindPointGraphics
)

func (b BindPoint) String() string {
	if b == BindPointGraphics {
		return "graphics"
	}
	return "compute"
}

type DescriptorType int

const (
	DescriptorStorageImage DescriptorType = iota
)

// ClearColor is a linear RGBA clear value.
type ClearColor [4]float32

type ImageInfo struct {
	Extent Extent2D
	Format Format
	Usage  ImageUsage
}

type Binding struct {
	Binding int
	Type    DescriptorType
	Count   int
	Stages  ShaderStage
}

type ResourceLayoutInfo struct {
	Bindings []Binding
}

// ConstantRange describes the push-constant block a program reads.
type ConstantRange struct {
	Stages ShaderStage
	Offset int
	Size   int
}

type ProgramInfo struct {
	Kind      ProgramKind
	Layout    Handle
	Constants ConstantRange
	// Stages maps each shader stage to its compiled bytecode. Compute
	// programs carry exactly one ShaderStageCompute entry.
	Stages map[ShaderStage][]byte
}

// ImageBarrier is a layout transition with its execution and memory
// dependencies.
type ImageBarrier struct {
	Image     Handle
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcStage  PipelineStage
	DstStage  PipelineStage
	SrcAccess Access
	DstAccess Access
}

type Blit struct {
	Src       Handle
	SrcLayout ImageLayout
	SrcExtent Extent2D
	Dst       Handle
	DstLayout ImageLayout
	DstExtent Extent2D
	Filter    Filter
}

type SubmitInfo struct {
	CommandBuffers   []Handle
	WaitSemaphores   []Handle
	WaitStages       []PipelineStage
	SignalSemaphores []Handle
	Fence            Handle
}
