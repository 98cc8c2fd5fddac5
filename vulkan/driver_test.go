package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/mocks"
	"github.com/vkngwrapper/core/v3/mocks/mocks1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/kiyo"
	"github.com/vkngwrapper/kiyo/gpu"
	"go.uber.org/mock/gomock"
)

type testDriver struct {
	*Driver
	instance *mocks1_0.MockCoreInstanceDriver
	device   *mocks1_0.MockCoreDeviceDriver
	handle   core1_0.Device
}

func newTestDriver(t *testing.T) *testDriver {
	ctrl := gomock.NewController(t)
	td := &testDriver{
		instance: mocks1_0.NewMockCoreInstanceDriver(ctrl),
		device:   mocks1_0.NewMockCoreDeviceDriver(ctrl),
		handle:   mocks.NewDummyDevice(common.Vulkan1_2, nil),
	}
	td.Driver = &Driver{
		log:            kiyo.Logger(),
		instanceDriver: td.instance,
		deviceDriver:   td.device,
	}
	return td
}

func (td *testDriver) commandBuffer() gpu.Handle {
	pool := mocks.NewDummyCommandPool(td.handle)
	return td.objects.Insert(&commandBuffer{buffer: mocks.NewDummyCommandBuffer(pool, td.handle)})
}

func TestCreateLogicalDeviceBuildsDeviceDriver(t *testing.T) {
	td := newTestDriver(t)
	physicalDevice := mocks.NewDummyPhysicalDevice(mocks.NewDummyInstance(common.Vulkan1_2, nil), common.Vulkan1_2)
	td.physicalDevice = physicalDevice
	td.queueFamily = 2
	td.deviceDriver = nil

	queue := mocks.NewDummyQueue(td.handle)
	td.instance.EXPECT().EnumerateDeviceExtensionProperties(physicalDevice).Return(
		map[string]*core1_0.ExtensionProperties{khr_swapchain.ExtensionName: {ExtensionName: khr_swapchain.ExtensionName}},
		core1_0.VKSuccess, nil)
	td.instance.EXPECT().CreateDevice(physicalDevice, gomock.Nil(), gomock.Any()).DoAndReturn(
		func(_ core1_0.PhysicalDevice, _ any, info core1_0.DeviceCreateInfo) (core1_0.Device, common.VkResult, error) {
			require.Len(t, info.QueueCreateInfos, 1)
			assert.Equal(t, 2, info.QueueCreateInfos[0].QueueFamilyIndex)
			assert.Equal(t, []string{khr_swapchain.ExtensionName}, info.EnabledExtensionNames)
			return td.handle, core1_0.VKSuccess, nil
		})
	td.instance.EXPECT().BuildDeviceDriver(td.handle).Return(td.device, nil)
	td.device.EXPECT().GetQueue(2, 0).Return(queue)

	require.NoError(t, td.createLogicalDevice())
	assert.Same(t, td.device, td.deviceDriver)
	assert.Equal(t, queue, td.queue)
}

func TestCmdClearColorImageClearsTheColorSubresource(t *testing.T) {
	td := newTestDriver(t)
	cmd := td.commandBuffer()
	img := mocks.NewDummyImage(td.handle)
	imgHandle := td.objects.Insert(&presentImage{image: img})

	td.device.EXPECT().CmdClearColorImage(
		gomock.Any(), img, core1_0.ImageLayoutTransferDstOptimal,
		core1_0.ClearValueFloat{1, 1, 0, 1},
		colorRange)

	require.NoError(t, td.CmdClearColorImage(cmd, imgHandle, gpu.LayoutTransferDst, gpu.ClearColor{1, 1, 0, 1}))
}

func TestCreateProgramDeclaresPushConstantRange(t *testing.T) {
	td := newTestDriver(t)
	setLayout := mocks.NewDummyDescriptorSetLayout(td.handle)
	layoutHandle := td.objects.Insert(&resourceLayout{layout: setLayout})

	module := mocks.NewDummyShaderModule(td.handle)
	pipelineLayout := mocks.NewDummyPipelineLayout(td.handle)
	pipeline := mocks.NewDummyPipeline(td.handle)

	td.device.EXPECT().CreateShaderModule(gomock.Nil(), gomock.Any()).Return(module, core1_0.VKSuccess, nil)
	td.device.EXPECT().DestroyShaderModule(module, gomock.Nil())
	td.device.EXPECT().CreatePipelineLayout(gomock.Nil(), gomock.Any()).DoAndReturn(
		func(_ any, info core1_0.PipelineLayoutCreateInfo) (core1_0.PipelineLayout, common.VkResult, error) {
			assert.Equal(t, []core1_0.DescriptorSetLayout{setLayout}, info.SetLayouts)
			assert.Equal(t, []core1_0.PushConstantRange{{
				StageFlags: core1_0.StageCompute,
				Offset:     0,
				Size:       12,
			}}, info.PushConstantRanges)
			return pipelineLayout, core1_0.VKSuccess, nil
		})
	td.device.EXPECT().CreateComputePipelines(gomock.Nil(), gomock.Nil(), gomock.Any()).DoAndReturn(
		func(_ any, _ any, infos ...core1_0.ComputePipelineCreateInfo) ([]core1_0.Pipeline, common.VkResult, error) {
			require.Len(t, infos, 1)
			assert.Equal(t, core1_0.StageCompute, infos[0].Stage.Stage)
			assert.Equal(t, "main", infos[0].Stage.Name)
			assert.Equal(t, pipelineLayout, infos[0].Layout)
			return []core1_0.Pipeline{pipeline}, core1_0.VKSuccess, nil
		})

	h, err := td.CreateProgram(gpu.ProgramInfo{
		Kind:      gpu.ProgramCompute,
		Layout:    layoutHandle,
		Constants: gpu.ConstantRange{Stages: gpu.ShaderStageCompute, Size: 12},
		Stages:    map[gpu.ShaderStage][]byte{gpu.ShaderStageCompute: {0x03, 0x02, 0x23, 0x07}},
	})
	require.NoError(t, err)

	p, err := get[*program](td.Driver, h)
	require.NoError(t, err)
	assert.Equal(t, pipeline, p.pipeline)
	assert.Equal(t, pipelineLayout, p.layout)
}

func TestCreateProgramRejectsGraphics(t *testing.T) {
	td := newTestDriver(t)
	_, err := td.CreateProgram(gpu.ProgramInfo{Kind: gpu.ProgramGraphics})
	assert.ErrorIs(t, err, gpu.ErrUnsupported)
}

func TestCmdPushConstantsChecksRangeSize(t *testing.T) {
	td := newTestDriver(t)
	cmd := td.commandBuffer()
	err := td.CmdPushConstants(cmd, gpu.Handle{}, gpu.ConstantRange{Size: 12}, make([]byte, 8))
	assert.ErrorContains(t, err, "8 bytes for a 12 byte range")
}
