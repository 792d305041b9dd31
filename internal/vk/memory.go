package vk

import (
	"fmt"
	"unsafe"

	"github.com/vulkan-go/vulkan"

	"orrery/internal/gpu"
)

// buffer is a buffer and its dedicated allocation.
type buffer struct {
	handle vulkan.Buffer
	memory vulkan.DeviceMemory
	size   vulkan.DeviceSize
}

const hostVisible = vulkan.MemoryPropertyHostVisibleBit | vulkan.MemoryPropertyHostCoherentBit

func (c *Context) findMemoryType(typeFilter uint32, properties vulkan.MemoryPropertyFlagBits) (uint32, error) {
	var memProps vulkan.PhysicalDeviceMemoryProperties
	vulkan.GetPhysicalDeviceMemoryProperties(c.physical, &memProps)
	memProps.Deref()

	for i := uint32(0); i < memProps.MemoryTypeCount; i++ {
		memoryType := memProps.MemoryTypes[i]
		memoryType.Deref()
		if typeFilter&(1<<i) != 0 && memoryType.PropertyFlags&vulkan.MemoryPropertyFlags(properties) == vulkan.MemoryPropertyFlags(properties) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no memory type for filter %#x and properties %#x", typeFilter, properties)
}

func (c *Context) createBuffer(size vulkan.DeviceSize, usage vulkan.BufferUsageFlags, properties vulkan.MemoryPropertyFlagBits) (*buffer, error) {
	bufferInfo := vulkan.BufferCreateInfo{
		SType:       vulkan.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       usage,
		SharingMode: vulkan.SharingModeExclusive,
	}
	var handle vulkan.Buffer
	if res := vulkan.CreateBuffer(c.device, &bufferInfo, nil, &handle); res != vulkan.Success {
		return nil, fmt.Errorf("create buffer: %w", vulkan.Error(res))
	}
	var memReq vulkan.MemoryRequirements
	vulkan.GetBufferMemoryRequirements(c.device, handle, &memReq)
	memReq.Deref()
	memType, err := c.findMemoryType(memReq.MemoryTypeBits, properties)
	if err != nil {
		vulkan.DestroyBuffer(c.device, handle, nil)
		return nil, err
	}
	allocInfo := vulkan.MemoryAllocateInfo{
		SType:           vulkan.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReq.Size,
		MemoryTypeIndex: memType,
	}
	var memory vulkan.DeviceMemory
	if res := vulkan.AllocateMemory(c.device, &allocInfo, nil, &memory); res != vulkan.Success {
		vulkan.DestroyBuffer(c.device, handle, nil)
		return nil, fmt.Errorf("allocate buffer memory: %w", vulkan.Error(res))
	}
	if res := vulkan.BindBufferMemory(c.device, handle, memory, 0); res != vulkan.Success {
		vulkan.DestroyBuffer(c.device, handle, nil)
		vulkan.FreeMemory(c.device, memory, nil)
		return nil, fmt.Errorf("bind buffer memory: %w", vulkan.Error(res))
	}
	return &buffer{handle: handle, memory: memory, size: size}, nil
}

// register hands b to arena and returns its id.
func (c *Context) register(arena *gpu.Arena, b *buffer) uint64 {
	return arena.Register(b, func() {
		vulkan.DestroyBuffer(c.device, b.handle, nil)
		vulkan.FreeMemory(c.device, b.memory, nil)
	})
}

// hostBuffer creates a host-visible coherent buffer owned by arena.
func (c *Context) hostBuffer(arena *gpu.Arena, size int, usage vulkan.BufferUsageFlagBits) (*buffer, error) {
	b, err := c.createBuffer(vulkan.DeviceSize(size), vulkan.BufferUsageFlags(usage), hostVisible)
	if err != nil {
		return nil, err
	}
	c.register(arena, b)
	return b, nil
}

// write copies data into a host-visible buffer at offset.
func (c *Context) write(b *buffer, offset int, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	size := vulkan.DeviceSize(len(data))
	if vulkan.DeviceSize(offset)+size > b.size {
		return fmt.Errorf("write of %d bytes at %d overflows buffer of %d", len(data), offset, b.size)
	}
	var mapped unsafe.Pointer
	if res := vulkan.MapMemory(c.device, b.memory, vulkan.DeviceSize(offset), size, 0, &mapped); res != vulkan.Success {
		return fmt.Errorf("map buffer memory: %w", vulkan.Error(res))
	}
	dst := (*[1 << 30]byte)(mapped)[:size:size]
	copy(dst, data)
	vulkan.UnmapMemory(c.device, b.memory)
	return nil
}

// deviceBuffer uploads data into a device-local buffer through a staging
// buffer. The copy runs on the graphics queue.
func (c *Context) deviceBuffer(arena *gpu.Arena, usage vulkan.BufferUsageFlagBits, data []byte) (*buffer, uint64, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("empty buffer")
	}
	size := vulkan.DeviceSize(len(data))
	staging, err := c.createBuffer(size, vulkan.BufferUsageFlags(vulkan.BufferUsageTransferSrcBit), hostVisible)
	if err != nil {
		return nil, 0, fmt.Errorf("create staging buffer: %w", err)
	}
	defer func() {
		vulkan.DestroyBuffer(c.device, staging.handle, nil)
		vulkan.FreeMemory(c.device, staging.memory, nil)
	}()
	if err := c.write(staging, 0, data); err != nil {
		return nil, 0, err
	}

	b, err := c.createBuffer(size, vulkan.BufferUsageFlags(usage|vulkan.BufferUsageTransferDstBit), vulkan.MemoryPropertyDeviceLocalBit)
	if err != nil {
		return nil, 0, err
	}
	id := c.register(arena, b)
	err = c.singleTime(gpu.Graphics, func(cb vulkan.CommandBuffer) {
		region := vulkan.BufferCopy{Size: size}
		vulkan.CmdCopyBuffer(cb, staging.handle, b.handle, 1, []vulkan.BufferCopy{region})
	})
	if err != nil {
		arena.Release(id)
		return nil, 0, fmt.Errorf("copy staging buffer: %w", err)
	}
	return b, id, nil
}

// singleTime records a throwaway command buffer on q, submits it and
// waits for the queue to drain.
func (c *Context) singleTime(q gpu.QueueKind, record func(cb vulkan.CommandBuffer)) error {
	pool := c.pools[c.families.Of(q)]
	allocInfo := vulkan.CommandBufferAllocateInfo{
		SType:              vulkan.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vulkan.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cbs := make([]vulkan.CommandBuffer, 1)
	if res := vulkan.AllocateCommandBuffers(c.device, &allocInfo, cbs); res != vulkan.Success {
		return fmt.Errorf("allocate one-shot command buffer: %w", vulkan.Error(res))
	}
	defer vulkan.FreeCommandBuffers(c.device, pool, 1, cbs)

	beginInfo := vulkan.CommandBufferBeginInfo{
		SType: vulkan.StructureTypeCommandBufferBeginInfo,
		Flags: vulkan.CommandBufferUsageFlags(vulkan.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vulkan.BeginCommandBuffer(cbs[0], &beginInfo); res != vulkan.Success {
		return fmt.Errorf("begin one-shot command buffer: %w", vulkan.Error(res))
	}
	record(cbs[0])
	if res := vulkan.EndCommandBuffer(cbs[0]); res != vulkan.Success {
		return fmt.Errorf("end one-shot command buffer: %w", vulkan.Error(res))
	}

	submitInfo := vulkan.SubmitInfo{
		SType:              vulkan.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    cbs,
	}
	queue := c.queues[q]
	if res := vulkan.QueueSubmit(queue, 1, []vulkan.SubmitInfo{submitInfo}, vulkan.Fence(vulkan.NullHandle)); res != vulkan.Success {
		return fmt.Errorf("submit one-shot command buffer: %w", resultError(res))
	}
	if res := vulkan.QueueWaitIdle(queue); res != vulkan.Success {
		return fmt.Errorf("wait for one-shot command buffer: %w", resultError(res))
	}
	return nil
}

func (c *Context) createImage(width, height, layers uint32, format vulkan.Format, tiling vulkan.ImageTiling, usage vulkan.ImageUsageFlags, properties vulkan.MemoryPropertyFlagBits) (vulkan.Image, vulkan.DeviceMemory, error) {
	createInfo := vulkan.ImageCreateInfo{
		SType:     vulkan.StructureTypeImageCreateInfo,
		ImageType: vulkan.ImageType2d,
		Extent: vulkan.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   layers,
		Format:        format,
		Tiling:        tiling,
		InitialLayout: vulkan.ImageLayoutUndefined,
		Usage:         usage,
		Samples:       vulkan.SampleCount1Bit,
		SharingMode:   vulkan.SharingModeExclusive,
	}

	var image vulkan.Image
	if res := vulkan.CreateImage(c.device, &createInfo, nil, &image); res != vulkan.Success {
		return vulkan.Image(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), fmt.Errorf("create image: %w", vulkan.Error(res))
	}

	var memRequirements vulkan.MemoryRequirements
	vulkan.GetImageMemoryRequirements(c.device, image, &memRequirements)
	memRequirements.Deref()
	memType, err := c.findMemoryType(memRequirements.MemoryTypeBits, properties)
	if err != nil {
		vulkan.DestroyImage(c.device, image, nil)
		return vulkan.Image(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), err
	}

	allocInfo := vulkan.MemoryAllocateInfo{
		SType:           vulkan.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memType,
	}
	var memory vulkan.DeviceMemory
	if res := vulkan.AllocateMemory(c.device, &allocInfo, nil, &memory); res != vulkan.Success {
		vulkan.DestroyImage(c.device, image, nil)
		return vulkan.Image(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), fmt.Errorf("allocate image memory: %w", vulkan.Error(res))
	}
	if res := vulkan.BindImageMemory(c.device, image, memory, 0); res != vulkan.Success {
		vulkan.DestroyImage(c.device, image, nil)
		vulkan.FreeMemory(c.device, memory, nil)
		return vulkan.Image(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), fmt.Errorf("bind image memory: %w", vulkan.Error(res))
	}
	return image, memory, nil
}

func (c *Context) createImageView(image vulkan.Image, format vulkan.Format, aspectFlags vulkan.ImageAspectFlags, viewType vulkan.ImageViewType, layers uint32) (vulkan.ImageView, error) {
	viewInfo := vulkan.ImageViewCreateInfo{
		SType:    vulkan.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: viewType,
		Format:   format,
		Components: vulkan.ComponentMapping{
			R: vulkan.ComponentSwizzleIdentity,
			G: vulkan.ComponentSwizzleIdentity,
			B: vulkan.ComponentSwizzleIdentity,
			A: vulkan.ComponentSwizzleIdentity,
		},
		SubresourceRange: vulkan.ImageSubresourceRange{
			AspectMask:     aspectFlags,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     layers,
		},
	}
	var view vulkan.ImageView
	if res := vulkan.CreateImageView(c.device, &viewInfo, nil, &view); res != vulkan.Success {
		return vulkan.ImageView(vulkan.NullHandle), fmt.Errorf("create image view: %w", vulkan.Error(res))
	}
	return view, nil
}
