package vk

import (
	"errors"
	"fmt"
	"math"

	"github.com/vulkan-go/glfw/v3.3/glfw"
	"github.com/vulkan-go/vulkan"
	"go.uber.org/zap"

	"orrery/internal/gpu"
)

type swapchainSupport struct {
	capabilities vulkan.SurfaceCapabilities
	formats      []vulkan.SurfaceFormat
	presentModes []vulkan.PresentMode
}

// swapchain holds everything sized by the surface. All of it is
// registered in the context's swapchain arena.
type swapchain struct {
	arena *gpu.Arena

	handle      vulkan.Swapchain
	images      []vulkan.Image
	views       []vulkan.ImageView
	format      vulkan.Format
	extent      vulkan.Extent2D
	depthFormat vulkan.Format
	depthView   vulkan.ImageView
	renderPass  vulkan.RenderPass

	framebuffers []vulkan.Framebuffer
	// frame holds the per-image resources of the scene, nil until a
	// scene is loaded.
	frame *frameResources
}

func (c *Context) querySwapchainSupport(device vulkan.PhysicalDevice) swapchainSupport {
	var details swapchainSupport
	vulkan.GetPhysicalDeviceSurfaceCapabilities(device, c.surface, &details.capabilities)
	details.capabilities.Deref()
	details.capabilities.CurrentExtent.Deref()
	details.capabilities.MinImageExtent.Deref()
	details.capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	vulkan.GetPhysicalDeviceSurfaceFormats(device, c.surface, &formatCount, nil)
	if formatCount > 0 {
		details.formats = make([]vulkan.SurfaceFormat, formatCount)
		vulkan.GetPhysicalDeviceSurfaceFormats(device, c.surface, &formatCount, details.formats)
		for i := range details.formats {
			details.formats[i].Deref()
		}
	}

	var presentCount uint32
	vulkan.GetPhysicalDeviceSurfacePresentModes(device, c.surface, &presentCount, nil)
	if presentCount > 0 {
		details.presentModes = make([]vulkan.PresentMode, presentCount)
		vulkan.GetPhysicalDeviceSurfacePresentModes(device, c.surface, &presentCount, details.presentModes)
	}
	return details
}

func chooseSwapSurfaceFormat(available []vulkan.SurfaceFormat) vulkan.SurfaceFormat {
	for _, f := range available {
		if f.Format == vulkan.FormatB8g8r8a8Srgb && f.ColorSpace == vulkan.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	return available[0]
}

func chooseSwapPresentMode(available []vulkan.PresentMode) vulkan.PresentMode {
	for _, m := range available {
		if m == vulkan.PresentModeMailbox {
			return m
		}
	}
	return vulkan.PresentModeFifo
}

func chooseSwapExtent(caps vulkan.SurfaceCapabilities, window *glfw.Window) vulkan.Extent2D {
	if caps.CurrentExtent.Width != math.MaxUint32 {
		return caps.CurrentExtent
	}
	w, h := window.GetFramebufferSize()
	min := caps.MinImageExtent
	max := caps.MaxImageExtent
	return vulkan.Extent2D{
		Width:  uint32(clamp(uint64(w), uint64(min.Width), uint64(max.Width))),
		Height: uint32(clamp(uint64(h), uint64(min.Height), uint64(max.Height))),
	}
}

func clamp(val, min, max uint64) uint64 {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// createSwapchain builds the swapchain, its views, the depth buffer, the
// render pass and the framebuffers. When a scene is loaded its per-image
// resources and pipelines are rebuilt as well.
func (c *Context) createSwapchain() error {
	s := &swapchain{arena: c.swapArena}
	c.swap = s

	support := c.querySwapchainSupport(c.physical)
	if len(support.formats) == 0 {
		return errors.New("surface reports no formats")
	}
	surfaceFormat := chooseSwapSurfaceFormat(support.formats)
	presentMode := chooseSwapPresentMode(support.presentModes)
	extent := chooseSwapExtent(support.capabilities, c.window)

	imageCount := support.capabilities.MinImageCount + 1
	if support.capabilities.MaxImageCount > 0 && imageCount > support.capabilities.MaxImageCount {
		imageCount = support.capabilities.MaxImageCount
	}

	createInfo := vulkan.SwapchainCreateInfo{
		SType:            vulkan.StructureTypeSwapchainCreateInfo,
		Surface:          c.surface,
		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vulkan.ImageUsageFlags(vulkan.ImageUsageColorAttachmentBit),
		PreTransform:     support.capabilities.CurrentTransform,
		CompositeAlpha:   vulkan.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vulkan.True,
		OldSwapchain:     vulkan.Swapchain(vulkan.NullHandle),
	}
	if c.families.Graphics != c.families.Present {
		indices := []uint32{uint32(c.families.Graphics), uint32(c.families.Present)}
		createInfo.ImageSharingMode = vulkan.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = uint32(len(indices))
		createInfo.PQueueFamilyIndices = indices
	} else {
		createInfo.ImageSharingMode = vulkan.SharingModeExclusive
	}

	if res := vulkan.CreateSwapchain(c.device, &createInfo, nil, &s.handle); res != vulkan.Success {
		return fmt.Errorf("create swapchain: %w", vulkan.Error(res))
	}
	handle := s.handle
	s.arena.Register(handle, func() { vulkan.DestroySwapchain(c.device, handle, nil) })

	var count uint32
	vulkan.GetSwapchainImages(c.device, s.handle, &count, nil)
	s.images = make([]vulkan.Image, count)
	vulkan.GetSwapchainImages(c.device, s.handle, &count, s.images)
	s.format = surfaceFormat.Format
	s.extent = extent

	if err := c.createImageViews(s); err != nil {
		return err
	}
	if err := c.createDepthResources(s); err != nil {
		return err
	}
	if err := c.createRenderPass(s); err != nil {
		return err
	}
	if err := c.createFramebuffers(s); err != nil {
		return err
	}
	if c.scene != nil {
		if err := c.createFrameResources(s); err != nil {
			return err
		}
	}
	c.log.Info("swapchain created",
		zap.Int("images", len(s.images)),
		zap.Uint32("width", extent.Width),
		zap.Uint32("height", extent.Height),
		zap.Int32("present_mode", int32(presentMode)))
	return nil
}

// Recreate waits for the device, drops the swapchain and everything
// sized by it and builds them again for the current surface. While the
// framebuffer is zero sized (a minimised window) it blocks on window
// events.
func (c *Context) Recreate() error {
	w, h := c.window.GetFramebufferSize()
	for (w == 0 || h == 0) && !c.window.ShouldClose() {
		glfw.WaitEvents()
		w, h = c.window.GetFramebufferSize()
	}
	if res := vulkan.DeviceWaitIdle(c.device); res != vulkan.Success {
		return fmt.Errorf("wait idle before recreate: %w", resultError(res))
	}
	c.swapArena.DestroyAll()
	return c.createSwapchain()
}

// Extent returns the swapchain size in pixels.
func (c *Context) Extent() (width, height uint32) {
	return c.swap.extent.Width, c.swap.extent.Height
}

func (c *Context) createImageViews(s *swapchain) error {
	s.views = make([]vulkan.ImageView, len(s.images))
	for i, img := range s.images {
		view, err := c.createImageView(img, s.format, vulkan.ImageAspectFlags(vulkan.ImageAspectColorBit), vulkan.ImageViewType2d, 1)
		if err != nil {
			return fmt.Errorf("create image view %d: %w", i, err)
		}
		s.views[i] = view
		s.arena.Register(view, func() { vulkan.DestroyImageView(c.device, view, nil) })
	}
	return nil
}

func (c *Context) createDepthResources(s *swapchain) error {
	depthFormat, err := c.findDepthFormat()
	if err != nil {
		return err
	}
	s.depthFormat = depthFormat
	image, memory, err := c.createImage(s.extent.Width, s.extent.Height, 1, depthFormat, vulkan.ImageTilingOptimal, vulkan.ImageUsageFlags(vulkan.ImageUsageDepthStencilAttachmentBit), vulkan.MemoryPropertyDeviceLocalBit)
	if err != nil {
		return fmt.Errorf("create depth image: %w", err)
	}
	s.arena.Register(image, func() {
		vulkan.DestroyImage(c.device, image, nil)
		vulkan.FreeMemory(c.device, memory, nil)
	})
	view, err := c.createImageView(image, depthFormat, vulkan.ImageAspectFlags(vulkan.ImageAspectDepthBit), vulkan.ImageViewType2d, 1)
	if err != nil {
		return fmt.Errorf("create depth image view: %w", err)
	}
	s.depthView = view
	s.arena.Register(view, func() { vulkan.DestroyImageView(c.device, view, nil) })
	return nil
}

func (c *Context) findDepthFormat() (vulkan.Format, error) {
	candidates := []vulkan.Format{
		vulkan.FormatD32Sfloat,
		vulkan.FormatD32SfloatS8Uint,
		vulkan.FormatD24UnormS8Uint,
	}
	return c.findSupportedFormat(candidates, vulkan.ImageTilingOptimal, vulkan.FormatFeatureFlags(vulkan.FormatFeatureDepthStencilAttachmentBit))
}

func (c *Context) findSupportedFormat(candidates []vulkan.Format, tiling vulkan.ImageTiling, features vulkan.FormatFeatureFlags) (vulkan.Format, error) {
	for _, format := range candidates {
		var props vulkan.FormatProperties
		vulkan.GetPhysicalDeviceFormatProperties(c.physical, format, &props)
		props.Deref()
		if tiling == vulkan.ImageTilingLinear && props.LinearTilingFeatures&features == features {
			return format, nil
		}
		if tiling == vulkan.ImageTilingOptimal && props.OptimalTilingFeatures&features == features {
			return format, nil
		}
	}
	return 0, errors.New("no supported format found")
}

func (c *Context) createRenderPass(s *swapchain) error {
	colorAttachment := vulkan.AttachmentDescription{
		Format:         s.format,
		Samples:        vulkan.SampleCount1Bit,
		LoadOp:         vulkan.AttachmentLoadOpClear,
		StoreOp:        vulkan.AttachmentStoreOpStore,
		InitialLayout:  vulkan.ImageLayoutUndefined,
		FinalLayout:    vulkan.ImageLayoutPresentSrc,
		StencilLoadOp:  vulkan.AttachmentLoadOpDontCare,
		StencilStoreOp: vulkan.AttachmentStoreOpDontCare,
	}
	depthAttachment := vulkan.AttachmentDescription{
		Format:         s.depthFormat,
		Samples:        vulkan.SampleCount1Bit,
		LoadOp:         vulkan.AttachmentLoadOpClear,
		StoreOp:        vulkan.AttachmentStoreOpDontCare,
		StencilLoadOp:  vulkan.AttachmentLoadOpDontCare,
		StencilStoreOp: vulkan.AttachmentStoreOpDontCare,
		InitialLayout:  vulkan.ImageLayoutUndefined,
		FinalLayout:    vulkan.ImageLayoutDepthStencilAttachmentOptimal,
	}
	colorRef := vulkan.AttachmentReference{
		Attachment: 0,
		Layout:     vulkan.ImageLayoutColorAttachmentOptimal,
	}
	depthRef := vulkan.AttachmentReference{
		Attachment: 1,
		Layout:     vulkan.ImageLayoutDepthStencilAttachmentOptimal,
	}
	subpass := vulkan.SubpassDescription{
		PipelineBindPoint:       vulkan.PipelineBindPointGraphics,
		ColorAttachmentCount:    1,
		PColorAttachments:       []vulkan.AttachmentReference{colorRef},
		PDepthStencilAttachment: &depthRef,
	}
	dependency := vulkan.SubpassDependency{
		SrcSubpass:    vulkan.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vulkan.PipelineStageFlags(vulkan.PipelineStageColorAttachmentOutputBit | vulkan.PipelineStageEarlyFragmentTestsBit),
		SrcAccessMask: 0,
		DstStageMask:  vulkan.PipelineStageFlags(vulkan.PipelineStageColorAttachmentOutputBit | vulkan.PipelineStageEarlyFragmentTestsBit),
		DstAccessMask: vulkan.AccessFlags(vulkan.AccessColorAttachmentWriteBit | vulkan.AccessDepthStencilAttachmentWriteBit),
	}

	attachments := []vulkan.AttachmentDescription{colorAttachment, depthAttachment}
	createInfo := vulkan.RenderPassCreateInfo{
		SType:           vulkan.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vulkan.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vulkan.SubpassDependency{dependency},
	}
	if res := vulkan.CreateRenderPass(c.device, &createInfo, nil, &s.renderPass); res != vulkan.Success {
		return fmt.Errorf("create render pass: %w", vulkan.Error(res))
	}
	pass := s.renderPass
	s.arena.Register(pass, func() { vulkan.DestroyRenderPass(c.device, pass, nil) })
	return nil
}

func (c *Context) createFramebuffers(s *swapchain) error {
	s.framebuffers = make([]vulkan.Framebuffer, len(s.views))
	for i := range s.views {
		attachments := []vulkan.ImageView{s.views[i], s.depthView}
		createInfo := vulkan.FramebufferCreateInfo{
			SType:           vulkan.StructureTypeFramebufferCreateInfo,
			RenderPass:      s.renderPass,
			AttachmentCount: uint32(len(attachments)),
			PAttachments:    attachments,
			Width:           s.extent.Width,
			Height:          s.extent.Height,
			Layers:          1,
		}
		if res := vulkan.CreateFramebuffer(c.device, &createInfo, nil, &s.framebuffers[i]); res != vulkan.Success {
			return fmt.Errorf("create framebuffer %d: %w", i, vulkan.Error(res))
		}
		fb := s.framebuffers[i]
		s.arena.Register(fb, func() { vulkan.DestroyFramebuffer(c.device, fb, nil) })
	}
	return nil
}
