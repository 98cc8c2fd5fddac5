// Package vulkan implements gpu.Driver and gpu.Swapchain on vkngwrapper, for
// a single graphics+present queue on an SDL window surface.
package vulkan

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"
	"github.com/vkngwrapper/kiyo"
	"github.com/vkngwrapper/kiyo/gpu"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

var (
	ErrNoDevice = errors.New("no device with a graphics queue that can present to the surface")
	errStale    = errors.New("stale or unknown handle")
)

type Options struct {
	AppName string
	// Validation enables the Khronos validation layer. Its messages are
	// logged at warn and error level.
	Validation bool
	Logger     *slog.Logger
}

// Driver is a vkngwrapper-backed gpu.Driver. Native objects are kept in a
// generation-checked arena; Destroy frees any still left in it before the
// device goes away.
type Driver struct {
	log *slog.Logger

	globalDriver   core1_0.GlobalDriver
	instanceDriver core1_0.CoreInstanceDriver
	deviceDriver   core1_0.CoreDeviceDriver

	debugDriver      ext_debug_utils.ExtensionDriver
	debugMessenger   ext_debug_utils.DebugUtilsMessenger
	surfaceExtension khr_surface.ExtensionDriver
	surface          khr_surface.Surface

	physicalDevice core1_0.PhysicalDevice
	queueFamily    int
	queue          core1_0.Queue

	objects gpu.Arena[any]
}

var _ gpu.Driver = (*Driver)(nil)

// Open creates an instance, a surface for window, and a device with one
// queue that supports both graphics and presentation to it.
func Open(window *sdl.Window, opts Options) (*Driver, error) {
	if opts.Logger == nil {
		opts.Logger = kiyo.Logger()
	}
	if opts.AppName == "" {
		opts.AppName = "kiyo"
	}

	d := &Driver{log: opts.Logger}
	steps := []struct {
		name string
		fn   func() error
	}{
		{"load vulkan", d.loadDriver},
		{"create instance", func() error { return d.createInstance(window, opts) }},
		{"create debug messenger", func() error { return d.setupDebugMessenger(opts.Validation) }},
		{"create surface", func() error { return d.createSurface(window) }},
		{"pick physical device", d.pickPhysicalDevice},
		{"create device", d.createLogicalDevice},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			d.teardown()
			return nil, errors.Wrap(err, step.name)
		}
	}
	return d, nil
}

func (d *Driver) loadDriver() error {
	var err error
	d.globalDriver, err = core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	return err
}

func (d *Driver) createInstance(window *sdl.Window, opts Options) error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    opts.AppName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "kiyo",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	extensions, _, err := d.globalDriver.AvailableExtensions()
	if err != nil {
		return err
	}
	for _, ext := range window.VulkanGetInstanceExtensions() {
		if _, ok := extensions[ext]; !ok {
			return errors.Newf("missing instance extension %s", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	if _, ok := extensions[khr_portability_enumeration.ExtensionName]; ok {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if opts.Validation {
		layers, _, err := d.globalDriver.AvailableLayers()
		if err != nil {
			return err
		}
		if _, ok := layers[validationLayer]; !ok {
			return errors.Newf("validation layer %s not available", validationLayer)
		}
		instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, validationLayer)
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
		instanceOptions.Next = d.debugMessengerOptions()
	}

	instance, _, err := d.globalDriver.CreateInstance(nil, instanceOptions)
	if err != nil {
		return err
	}
	d.instanceDriver, err = d.globalDriver.BuildInstanceDriver(instance)
	return err
}

func (d *Driver) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    d.logDebug,
	}
}

func (d *Driver) logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	level := slog.LevelWarn
	if severity&ext_debug_utils.SeverityError != 0 {
		level = slog.LevelError
	}
	d.log.Log(context.Background(), level, data.Message, "type", msgType, "severity", severity)
	return false
}

func (d *Driver) setupDebugMessenger(enabled bool) error {
	if !enabled {
		return nil
	}

	var err error
	d.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(d.instanceDriver)
	d.debugMessenger, _, err = d.debugDriver.CreateDebugUtilsMessenger(nil, d.debugMessengerOptions())
	return err
}

func (d *Driver) createSurface(window *sdl.Window) error {
	d.surfaceExtension = khr_surface.CreateExtensionDriverFromCoreDriver(d.instanceDriver)
	surface, err := vkng_sdl2.CreateSurface(d.instanceDriver.Instance(), d.surfaceExtension, window)
	if err != nil {
		return err
	}
	d.surface = surface
	return nil
}

func (d *Driver) pickPhysicalDevice() error {
	physicalDevices, _, err := d.instanceDriver.EnumeratePhysicalDevices()
	if err != nil {
		return err
	}

	for _, device := range physicalDevices {
		family, ok, err := d.findQueueFamily(device)
		if err != nil {
			return err
		}
		if !ok || !d.supportsSwapchain(device) {
			continue
		}
		d.physicalDevice = device
		d.queueFamily = family

		if props, err := d.instanceDriver.GetPhysicalDeviceProperties(device); err == nil {
			d.log.Info("selected physical device", "name", props.DriverName, "queue_family", family)
		}
		return nil
	}
	return ErrNoDevice
}

// findQueueFamily returns a family that supports graphics, compute and
// presentation, so every submission goes through one queue.
func (d *Driver) findQueueFamily(device core1_0.PhysicalDevice) (int, bool, error) {
	queueFamilies := d.instanceDriver.GetPhysicalDeviceQueueFamilyProperties(device)
	for idx, family := range queueFamilies {
		if family.QueueFlags&core1_0.QueueGraphics == 0 || family.QueueFlags&core1_0.QueueCompute == 0 {
			continue
		}
		supported, _, err := d.surfaceExtension.GetPhysicalDeviceSurfaceSupport(d.surface, device, idx)
		if err != nil {
			return 0, false, err
		}
		if supported {
			return idx, true, nil
		}
	}
	return 0, false, nil
}

func (d *Driver) supportsSwapchain(device core1_0.PhysicalDevice) bool {
	extensions, _, err := d.instanceDriver.EnumerateDeviceExtensionProperties(device)
	if err != nil {
		return false
	}
	_, ok := extensions[khr_swapchain.ExtensionName]
	return ok
}

func (d *Driver) createLogicalDevice() error {
	extensionNames := []string{khr_swapchain.ExtensionName}

	extensions, _, err := d.instanceDriver.EnumerateDeviceExtensionProperties(d.physicalDevice)
	if err != nil {
		return err
	}
	if _, ok := extensions[khr_portability_subset.ExtensionName]; ok {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	device, _, err := d.instanceDriver.CreateDevice(d.physicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: []core1_0.DeviceQueueCreateInfo{{
			QueueFamilyIndex: d.queueFamily,
			QueuePriorities:  []float32{1.0},
		}},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return err
	}
	d.deviceDriver, err = d.instanceDriver.BuildDeviceDriver(device)
	if err != nil {
		return err
	}

	d.queue = d.deviceDriver.GetQueue(d.queueFamily, 0)
	return nil
}

func (d *Driver) WaitIdle() error {
	_, err := d.deviceDriver.DeviceWaitIdle()
	return err
}

// Destroy frees every native object still in the arena, then the device,
// the surface and the instance.
func (d *Driver) Destroy() {
	if n := d.objects.Len(); n > 0 {
		d.log.Warn("destroying device with live objects", "count", n)
	}
	d.objects.Drain(func(_ gpu.Handle, obj any) {
		d.destroyObject(obj)
	})
	d.teardown()
}

func (d *Driver) teardown() {
	if d.deviceDriver != nil {
		d.deviceDriver.DestroyDevice(nil)
		d.deviceDriver = nil
	}
	if d.debugMessenger.Initialized() {
		d.debugDriver.DestroyDebugUtilsMessenger(d.debugMessenger, nil)
		d.debugMessenger = ext_debug_utils.DebugUtilsMessenger{}
	}
	if d.surface.Initialized() {
		d.surfaceExtension.DestroySurface(d.surface, nil)
		d.surface = khr_surface.Surface{}
	}
	if d.instanceDriver != nil {
		d.instanceDriver.DestroyInstance(nil)
		d.instanceDriver = nil
	}
}
