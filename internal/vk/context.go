// Package vk is the Vulkan implementation of gpu.Device. A Context owns
// the instance, the logical device with one queue per distinct family,
// the swapchain and everything the render and advance passes bind.
package vk

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/vulkan-go/glfw/v3.3/glfw"
	"github.com/vulkan-go/vulkan"
	"go.uber.org/zap"

	"orrery/internal/gpu"
)

var (
	validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
	deviceExtensions = []string{"VK_KHR_swapchain"}
)

// Options configure a Context.
type Options struct {
	AppName    string
	Validation bool
	// Shaders is the directory holding the compiled SPIR-V modules.
	Shaders string
	Logger  *zap.Logger
}

// Context is the root device context. It is not safe for concurrent use;
// every call must come from the thread that created the window.
type Context struct {
	opts   Options
	log    *zap.Logger
	window *glfw.Window

	instance      vulkan.Instance
	debugCallback vulkan.DebugReportCallback
	surface       vulkan.Surface
	physical      vulkan.PhysicalDevice
	device        vulkan.Device

	families gpu.Families
	limits   gpu.Limits
	queues   map[gpu.QueueKind]vulkan.Queue
	pools    map[gpu.Family]vulkan.CommandPool

	// arena holds objects that live as long as the device. swapArena is
	// its child and is emptied on every swapchain recreation.
	arena     *gpu.Arena
	swapArena *gpu.Arena
	swap      *swapchain
	scene     *scene
}

var _ gpu.Device = (*Context)(nil)

// New creates the instance, picks a physical device and creates the
// logical device and the swapchain for window.
func New(window *glfw.Window, opts Options) (*Context, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := &Context{
		opts:   opts,
		log:    opts.Logger,
		window: window,
		queues: make(map[gpu.QueueKind]vulkan.Queue),
		pools:  make(map[gpu.Family]vulkan.CommandPool),
		arena:  gpu.NewArena(),
	}
	c.swapArena = c.arena.Child()
	if err := c.init(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Context) init() error {
	vulkan.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	if err := vulkan.Init(); err != nil {
		return fmt.Errorf("vulkan init: %w", err)
	}
	if err := c.createInstance(); err != nil {
		return err
	}
	if err := vulkan.InitInstance(c.instance); err != nil {
		return fmt.Errorf("vkInitInstance: %w", err)
	}
	if err := c.setupDebugCallback(); err != nil {
		return err
	}
	if err := c.createSurface(); err != nil {
		return err
	}
	if err := c.pickPhysicalDevice(); err != nil {
		return err
	}
	if err := c.createLogicalDevice(); err != nil {
		return err
	}
	if err := c.createCommandPools(); err != nil {
		return err
	}
	return c.createSwapchain()
}

func (c *Context) createInstance() error {
	if c.opts.Validation && !validationLayersSupported() {
		return errors.New("requested validation layers not available")
	}
	if !glfw.VulkanSupported() {
		return errors.New("GLFW Vulkan loader not found")
	}
	name := c.opts.AppName
	if name == "" {
		name = "Orrery"
	}

	appInfo := vulkan.ApplicationInfo{
		SType:              vulkan.StructureTypeApplicationInfo,
		PApplicationName:   name,
		ApplicationVersion: vulkan.MakeVersion(0, 1, 0),
		PEngineName:        "No Engine",
		EngineVersion:      vulkan.MakeVersion(0, 1, 0),
		ApiVersion:         vulkan.MakeVersion(1, 1, 0),
	}

	extensions := c.window.GetRequiredInstanceExtensions()
	if c.opts.Validation {
		extensions = append(extensions, "VK_EXT_debug_report")
	}

	createInfo := vulkan.InstanceCreateInfo{
		SType:                   vulkan.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
	}
	if c.opts.Validation {
		createInfo.EnabledLayerCount = uint32(len(validationLayers))
		createInfo.PpEnabledLayerNames = validationLayers
	}

	if res := vulkan.CreateInstance(&createInfo, nil, &c.instance); res != vulkan.Success {
		return fmt.Errorf("create instance: %w", vulkan.Error(res))
	}
	return nil
}

func validationLayersSupported() bool {
	var count uint32
	if vulkan.EnumerateInstanceLayerProperties(&count, nil) != vulkan.Success {
		return false
	}
	props := make([]vulkan.LayerProperties, count)
	if vulkan.EnumerateInstanceLayerProperties(&count, props) != vulkan.Success {
		return false
	}
	supported := make(map[string]bool)
	for i := range props {
		props[i].Deref()
		supported[vulkan.ToString(props[i].LayerName[:])] = true
	}
	for _, l := range validationLayers {
		if !supported[l] {
			return false
		}
	}
	return true
}

// setupDebugCallback forwards validation reports to the logger.
func (c *Context) setupDebugCallback() error {
	if !c.opts.Validation {
		return nil
	}
	vlog := c.log.Named("validation")
	createInfo := vulkan.DebugReportCallbackCreateInfo{
		SType: vulkan.StructureTypeDebugReportCallbackCreateInfo,
		Flags: vulkan.DebugReportFlags(
			vulkan.DebugReportErrorBit |
				vulkan.DebugReportWarningBit |
				vulkan.DebugReportPerformanceWarningBit),
		PfnCallback: func(flags vulkan.DebugReportFlags, objectType vulkan.DebugReportObjectType, object uint64, location uint, messageCode int32, layerPrefix string, message string, userData unsafe.Pointer) vulkan.Bool32 {
			fields := []zap.Field{zap.String("layer", layerPrefix), zap.Int32("code", messageCode)}
			if flags&vulkan.DebugReportFlags(vulkan.DebugReportErrorBit) != 0 {
				vlog.Error(message, fields...)
			} else {
				vlog.Warn(message, fields...)
			}
			return vulkan.False
		},
	}
	if res := vulkan.CreateDebugReportCallback(c.instance, &createInfo, nil, &c.debugCallback); res != vulkan.Success {
		return fmt.Errorf("create debug callback: %w", vulkan.Error(res))
	}
	return nil
}

func (c *Context) createSurface() error {
	surfacePtr, err := c.window.CreateWindowSurface(c.instance, nil)
	if err != nil {
		return fmt.Errorf("create window surface: %w", err)
	}
	c.surface = vulkan.SurfaceFromPointer(surfacePtr)
	return nil
}

func (c *Context) pickPhysicalDevice() error {
	var count uint32
	if res := vulkan.EnumeratePhysicalDevices(c.instance, &count, nil); res != vulkan.Success {
		return fmt.Errorf("enumerate physical devices: %w", vulkan.Error(res))
	}
	if count == 0 {
		return errors.New("no Vulkan devices found")
	}
	devices := make([]vulkan.PhysicalDevice, count)
	if res := vulkan.EnumeratePhysicalDevices(c.instance, &count, devices); res != vulkan.Success {
		return fmt.Errorf("enumerate physical devices list: %w", vulkan.Error(res))
	}

	var selected vulkan.PhysicalDevice
	var families gpu.Families
	bestScore := int32(-1)
	for _, dev := range devices {
		fams, err := gpu.SelectFamilies(c.familyCaps(dev))
		if err != nil {
			continue
		}
		if !deviceExtensionsSupported(dev) {
			continue
		}
		support := c.querySwapchainSupport(dev)
		if len(support.formats) == 0 || len(support.presentModes) == 0 {
			continue
		}
		if score := deviceScore(dev); score > bestScore {
			bestScore = score
			selected = dev
			families = fams
		}
	}
	if selected == (vulkan.PhysicalDevice)(unsafe.Pointer(nil)) {
		return errors.New("no suitable GPU found")
	}

	var props vulkan.PhysicalDeviceProperties
	vulkan.GetPhysicalDeviceProperties(selected, &props)
	props.Deref()
	props.Limits.Deref()

	c.physical = selected
	c.families = families
	c.limits = gpu.Limits{
		MaxComputeWorkGroupCount: props.Limits.MaxComputeWorkGroupCount[0],
		MaxComputeWorkGroupSize:  props.Limits.MaxComputeWorkGroupSize[0],
	}
	c.log.Info("physical device selected",
		zap.String("name", vulkan.ToString(props.DeviceName[:])),
		zap.Uint32("graphics", uint32(families.Graphics)),
		zap.Uint32("compute", uint32(families.Compute)),
		zap.Uint32("transfer", uint32(families.Transfer)),
		zap.Uint32("present", uint32(families.Present)),
		zap.Uint32("max_groups", c.limits.MaxComputeWorkGroupCount))
	return nil
}

func deviceScore(device vulkan.PhysicalDevice) int32 {
	var props vulkan.PhysicalDeviceProperties
	vulkan.GetPhysicalDeviceProperties(device, &props)
	props.Deref()

	switch props.DeviceType {
	case vulkan.PhysicalDeviceTypeDiscreteGpu:
		return 1000
	case vulkan.PhysicalDeviceTypeIntegratedGpu:
		return 500
	default:
		return 100
	}
}

func deviceExtensionsSupported(device vulkan.PhysicalDevice) bool {
	var count uint32
	if res := vulkan.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vulkan.Success {
		return false
	}
	props := make([]vulkan.ExtensionProperties, count)
	if res := vulkan.EnumerateDeviceExtensionProperties(device, "", &count, props); res != vulkan.Success {
		return false
	}
	supported := make(map[string]bool)
	for i := range props {
		props[i].Deref()
		supported[vulkan.ToString(props[i].ExtensionName[:])] = true
	}
	for _, ext := range deviceExtensions {
		if !supported[ext] {
			return false
		}
	}
	return true
}

// familyCaps reports the capabilities of every queue family of device.
func (c *Context) familyCaps(device vulkan.PhysicalDevice) []gpu.FamilyCaps {
	var count uint32
	vulkan.GetPhysicalDeviceQueueFamilyProperties(device, &count, nil)
	props := make([]vulkan.QueueFamilyProperties, count)
	vulkan.GetPhysicalDeviceQueueFamilyProperties(device, &count, props)

	caps := make([]gpu.FamilyCaps, count)
	for i := range props {
		props[i].Deref()
		flags := props[i].QueueFlags
		var present vulkan.Bool32
		vulkan.GetPhysicalDeviceSurfaceSupport(device, uint32(i), c.surface, &present)
		caps[i] = gpu.FamilyCaps{
			Graphics: flags&vulkan.QueueFlags(vulkan.QueueGraphicsBit) != 0,
			Compute:  flags&vulkan.QueueFlags(vulkan.QueueComputeBit) != 0,
			Transfer: flags&vulkan.QueueFlags(vulkan.QueueTransferBit) != 0,
			Present:  present == vulkan.True,
		}
		c.log.Debug("queue family",
			zap.Int("index", i),
			zap.Uint32("queues", props[i].QueueCount),
			zap.Bool("graphics", caps[i].Graphics),
			zap.Bool("compute", caps[i].Compute),
			zap.Bool("transfer", caps[i].Transfer),
			zap.Bool("present", caps[i].Present))
	}
	return caps
}

// createLogicalDevice creates one queue for every distinct family.
func (c *Context) createLogicalDevice() error {
	unique := c.families.Unique()
	priority := float32(1.0)
	queueInfos := make([]vulkan.DeviceQueueCreateInfo, 0, len(unique))
	for _, family := range unique {
		queueInfos = append(queueInfos, vulkan.DeviceQueueCreateInfo{
			SType:            vulkan.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: uint32(family),
			QueueCount:       1,
			PQueuePriorities: []float32{priority},
		})
	}

	deviceFeatures := vulkan.PhysicalDeviceFeatures{}
	createInfo := vulkan.DeviceCreateInfo{
		SType:                   vulkan.StructureTypeDeviceCreateInfo,
		PQueueCreateInfos:       queueInfos,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PEnabledFeatures:        []vulkan.PhysicalDeviceFeatures{deviceFeatures},
		PpEnabledExtensionNames: deviceExtensions,
		EnabledExtensionCount:   uint32(len(deviceExtensions)),
	}
	if c.opts.Validation {
		createInfo.EnabledLayerCount = uint32(len(validationLayers))
		createInfo.PpEnabledLayerNames = validationLayers
	}

	if res := vulkan.CreateDevice(c.physical, &createInfo, nil, &c.device); res != vulkan.Success {
		return fmt.Errorf("create logical device: %w", vulkan.Error(res))
	}
	for _, kind := range []gpu.QueueKind{gpu.Graphics, gpu.Compute, gpu.TransferQueue, gpu.Present} {
		var q vulkan.Queue
		vulkan.GetDeviceQueue(c.device, uint32(c.families.Of(kind)), 0, &q)
		c.queues[kind] = q
	}
	return nil
}

func (c *Context) createCommandPools() error {
	for _, family := range c.families.Unique() {
		poolInfo := vulkan.CommandPoolCreateInfo{
			SType:            vulkan.StructureTypeCommandPoolCreateInfo,
			QueueFamilyIndex: uint32(family),
			Flags:            vulkan.CommandPoolCreateFlags(vulkan.CommandPoolCreateResetCommandBufferBit),
		}
		var pool vulkan.CommandPool
		if res := vulkan.CreateCommandPool(c.device, &poolInfo, nil, &pool); res != vulkan.Success {
			return fmt.Errorf("create command pool for family %d: %w", family, vulkan.Error(res))
		}
		c.pools[family] = pool
		c.arena.Register(pool, func() { vulkan.DestroyCommandPool(c.device, pool, nil) })
	}
	return nil
}

// Window returns the window the swapchain presents to.
func (c *Context) Window() *glfw.Window { return c.window }

// Close waits for the device and destroys everything in reverse order of
// creation.
func (c *Context) Close() {
	if c.device != vulkan.Device(vulkan.NullHandle) {
		vulkan.DeviceWaitIdle(c.device)
	}
	c.arena.DestroyAll()
	if c.device != vulkan.Device(vulkan.NullHandle) {
		vulkan.DestroyDevice(c.device, nil)
		c.device = vulkan.Device(vulkan.NullHandle)
	}
	if c.debugCallback != vulkan.DebugReportCallback(vulkan.NullHandle) {
		vulkan.DestroyDebugReportCallback(c.instance, c.debugCallback, nil)
		c.debugCallback = vulkan.DebugReportCallback(vulkan.NullHandle)
	}
	if c.surface != vulkan.Surface(vulkan.NullHandle) {
		vulkan.DestroySurface(c.instance, c.surface, nil)
		c.surface = vulkan.Surface(vulkan.NullHandle)
	}
	if c.instance != vulkan.Instance(vulkan.NullHandle) {
		vulkan.DestroyInstance(c.instance, nil)
		c.instance = vulkan.Instance(vulkan.NullHandle)
	}
}
