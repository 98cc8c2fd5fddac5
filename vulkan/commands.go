package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiyo/gpu"
)

func (d *Driver) BeginCommandBuffer(h gpu.Handle, oneTimeSubmit bool) error {
	cmd, err := get[*commandBuffer](d, h)
	if err != nil {
		return err
	}
	var info core1_0.CommandBufferBeginInfo
	if oneTimeSubmit {
		info.Flags = core1_0.CommandBufferUsageOneTimeSubmit
	}
	_, err = d.deviceDriver.BeginCommandBuffer(cmd.buffer, info)
	return err
}

func (d *Driver) EndCommandBuffer(h gpu.Handle) error {
	cmd, err := get[*commandBuffer](d, h)
	if err != nil {
		return err
	}
	_, err = d.deviceDriver.EndCommandBuffer(cmd.buffer)
	return err
}

func (d *Driver) CmdImageBarrier(h gpu.Handle, barrier gpu.ImageBarrier) error {
	cmd, err := get[*commandBuffer](d, h)
	if err != nil {
		return err
	}
	img, err := d.nativeImage(barrier.Image)
	if err != nil {
		return err
	}

	return d.deviceDriver.CmdPipelineBarrier(cmd.buffer,
		pipelineStages(barrier.SrcStage),
		pipelineStages(barrier.DstStage),
		0, nil, nil,
		[]core1_0.ImageMemoryBarrier{{
			SrcAccessMask:       access(barrier.SrcAccess),
			DstAccessMask:       access(barrier.DstAccess),
			OldLayout:           imageLayout(barrier.OldLayout),
			NewLayout:           imageLayout(barrier.NewLayout),
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Image:               img,
			SubresourceRange:    colorRange,
		}})
}

func (d *Driver) CmdClearColorImage(h gpu.Handle, imageHandle gpu.Handle, layout gpu.ImageLayout, color gpu.ClearColor) error {
	cmd, err := get[*commandBuffer](d, h)
	if err != nil {
		return err
	}
	img, err := d.nativeImage(imageHandle)
	if err != nil {
		return err
	}

	d.deviceDriver.CmdClearColorImage(cmd.buffer, img, imageLayout(layout),
		core1_0.ClearValueFloat{color[0], color[1], color[2], color[3]},
		colorRange)
	return nil
}

func (d *Driver) CmdBlitImage(h gpu.Handle, blit gpu.Blit) error {
	cmd, err := get[*commandBuffer](d, h)
	if err != nil {
		return err
	}
	src, err := d.nativeImage(blit.Src)
	if err != nil {
		return err
	}
	dst, err := d.nativeImage(blit.Dst)
	if err != nil {
		return err
	}

	return d.deviceDriver.CmdBlitImage(cmd.buffer,
		src, imageLayout(blit.SrcLayout),
		dst, imageLayout(blit.DstLayout),
		[]core1_0.ImageBlit{{
			SrcSubresource: colorLayers,
			SrcOffsets: [2]core1_0.Offset3D{
				{X: 0, Y: 0, Z: 0},
				{X: blit.SrcExtent.Width, Y: blit.SrcExtent.Height, Z: 1},
			},
			DstSubresource: colorLayers,
			DstOffsets: [2]core1_0.Offset3D{
				{X: 0, Y: 0, Z: 0},
				{X: blit.DstExtent.Width, Y: blit.DstExtent.Height, Z: 1},
			},
		}},
		filter(blit.Filter))
}

func (d *Driver) CmdBindProgram(h gpu.Handle, bp gpu.BindPoint, programHandle gpu.Handle) error {
	cmd, err := get[*commandBuffer](d, h)
	if err != nil {
		return err
	}
	p, err := get[*program](d, programHandle)
	if err != nil {
		return err
	}
	d.deviceDriver.CmdBindPipeline(cmd.buffer, bindPoint(bp), p.pipeline)
	return nil
}

func (d *Driver) CmdPushConstants(h gpu.Handle, programHandle gpu.Handle, constants gpu.ConstantRange, data []byte) error {
	if len(data) != constants.Size {
		return errors.Newf("push constants: %d bytes for a %d byte range", len(data), constants.Size)
	}
	cmd, err := get[*commandBuffer](d, h)
	if err != nil {
		return err
	}
	p, err := get[*program](d, programHandle)
	if err != nil {
		return err
	}
	d.deviceDriver.CmdPushConstants(cmd.buffer, p.layout, shaderStages(constants.Stages), constants.Offset, data)
	return nil
}

func (d *Driver) CmdBindImageSet(h gpu.Handle, bp gpu.BindPoint, programHandle gpu.Handle, setHandle gpu.Handle) error {
	cmd, err := get[*commandBuffer](d, h)
	if err != nil {
		return err
	}
	p, err := get[*program](d, programHandle)
	if err != nil {
		return err
	}
	set, err := get[*imageSet](d, setHandle)
	if err != nil {
		return err
	}
	d.deviceDriver.CmdBindDescriptorSets(cmd.buffer, bindPoint(bp), p.layout, 0,
		[]core1_0.DescriptorSet{set.set}, nil)
	return nil
}

func (d *Driver) CmdDispatch(h gpu.Handle, x, y, z int) error {
	cmd, err := get[*commandBuffer](d, h)
	if err != nil {
		return err
	}
	d.deviceDriver.CmdDispatch(cmd.buffer, x, y, z)
	return nil
}
