package graph

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/kiyo/gpu"
)

// ClearPolicy says whether a shared image is cleared at the start of every
// frame, and to which color.
type ClearPolicy struct {
	enabled bool
	color   mgl32.Vec4
}

// NoClear leaves the image's content from the previous frame in place.
func NoClear() ClearPolicy {
	return ClearPolicy{}
}

// ClearColor clears the image to an opaque color every frame.
func ClearColor(r, g, b float32) ClearPolicy {
	return ClearPolicy{enabled: true, color: mgl32.Vec4{r, g, b, 1}}
}

func (c ClearPolicy) Enabled() bool {
	return c.enabled
}

func (c ClearPolicy) Color() mgl32.Vec4 {
	return c.color
}

func (c ClearPolicy) value() gpu.ClearColor {
	return gpu.ClearColor(c.color)
}

type ImageConfig struct {
	Clear ClearPolicy
}

// Dispatch is the work-group count policy of a pass: DispatchCount or
// DispatchFullScreen.
type Dispatch interface {
	groups(resolution gpu.Extent2D, workgroupSize int) [3]int
}

// DispatchCount dispatches a fixed number of work groups.
type DispatchCount struct {
	X, Y, Z int
}

func (d DispatchCount) groups(gpu.Extent2D, int) [3]int {
	return [3]int{d.X, d.Y, d.Z}
}

// DispatchFullScreen covers the whole image with work groups of the
// configured size.
type DispatchFullScreen struct{}

func (DispatchFullScreen) groups(res gpu.Extent2D, workgroupSize int) [3]int {
	return [3]int{
		ceilDiv(res.Width, workgroupSize),
		ceilDiv(res.Height, workgroupSize),
		1,
	}
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}

// Pass is one compute shader invocation over the shared images. Inputs and
// Outputs name images by their index in Config.Images.
type Pass struct {
	Shader   string
	Dispatch Dispatch
	Inputs   []int
	Outputs  []int
}

// Config is a pass graph. The last image is the one presented.
type Config struct {
	Images []ImageConfig
	Passes []Pass
}
