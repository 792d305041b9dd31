package vk

import (
	"fmt"

	"github.com/vulkan-go/vulkan"

	"orrery/internal/asset"
	"orrery/internal/gpu"
)

const textureFormat = vulkan.FormatR8g8b8a8Srgb

// texture is a sampled 2D array image.
type texture struct {
	image  vulkan.Image
	memory vulkan.DeviceMemory
	view   vulkan.ImageView
	layers uint32
}

// createTexture uploads every layer of arr into a device-local array
// image and leaves it ready for sampling in fragment shaders.
func (c *Context) createTexture(arr *asset.TextureArray) (*texture, error) {
	size := uint32(arr.Size)
	layers := uint32(arr.Layers)
	staging, err := c.createBuffer(vulkan.DeviceSize(len(arr.Pixels)), vulkan.BufferUsageFlags(vulkan.BufferUsageTransferSrcBit), hostVisible)
	if err != nil {
		return nil, fmt.Errorf("create staging buffer: %w", err)
	}
	defer vulkan.DestroyBuffer(c.device, staging.handle, nil)
	defer vulkan.FreeMemory(c.device, staging.memory, nil)
	if err := c.write(staging, 0, arr.Pixels); err != nil {
		return nil, err
	}

	image, memory, err := c.createImage(size, size, layers, textureFormat, vulkan.ImageTilingOptimal, vulkan.ImageUsageFlags(vulkan.ImageUsageTransferDstBit|vulkan.ImageUsageSampledBit), vulkan.MemoryPropertyDeviceLocalBit)
	if err != nil {
		return nil, fmt.Errorf("create texture image: %w", err)
	}
	t := &texture{image: image, memory: memory, layers: layers}
	c.arena.Register(image, func() {
		vulkan.DestroyImage(c.device, image, nil)
		vulkan.FreeMemory(c.device, memory, nil)
	})

	err = c.singleTime(gpu.Graphics, func(cb vulkan.CommandBuffer) {
		transitionImageLayout(cb, image, layers, vulkan.ImageLayoutUndefined, vulkan.ImageLayoutTransferDstOptimal)
		copyBufferToImage(cb, staging.handle, image, size, layers)
		transitionImageLayout(cb, image, layers, vulkan.ImageLayoutTransferDstOptimal, vulkan.ImageLayoutShaderReadOnlyOptimal)
	})
	if err != nil {
		return nil, fmt.Errorf("upload texture: %w", err)
	}

	t.view, err = c.createImageView(image, textureFormat, vulkan.ImageAspectFlags(vulkan.ImageAspectColorBit), vulkan.ImageViewType2dArray, layers)
	if err != nil {
		return nil, fmt.Errorf("create texture view: %w", err)
	}
	view := t.view
	c.arena.Register(view, func() { vulkan.DestroyImageView(c.device, view, nil) })
	return t, nil
}

// transitionImageLayout records the layout change of every layer for
// the two transitions an upload needs.
func transitionImageLayout(cb vulkan.CommandBuffer, image vulkan.Image, layers uint32, oldLayout, newLayout vulkan.ImageLayout) {
	barrier := vulkan.ImageMemoryBarrier{
		SType:               vulkan.StructureTypeImageMemoryBarrier,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vulkan.QueueFamilyIgnored,
		DstQueueFamilyIndex: vulkan.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange: vulkan.ImageSubresourceRange{
			AspectMask:     vulkan.ImageAspectFlags(vulkan.ImageAspectColorBit),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     layers,
		},
	}

	var srcStage, dstStage vulkan.PipelineStageFlagBits
	if oldLayout == vulkan.ImageLayoutUndefined {
		barrier.SrcAccessMask = 0
		barrier.DstAccessMask = vulkan.AccessFlags(vulkan.AccessTransferWriteBit)
		srcStage = vulkan.PipelineStageTopOfPipeBit
		dstStage = vulkan.PipelineStageTransferBit
	} else {
		barrier.SrcAccessMask = vulkan.AccessFlags(vulkan.AccessTransferWriteBit)
		barrier.DstAccessMask = vulkan.AccessFlags(vulkan.AccessShaderReadBit)
		srcStage = vulkan.PipelineStageTransferBit
		dstStage = vulkan.PipelineStageFragmentShaderBit
	}
	vulkan.CmdPipelineBarrier(cb, vulkan.PipelineStageFlags(srcStage), vulkan.PipelineStageFlags(dstStage), 0,
		0, nil, 0, nil, 1, []vulkan.ImageMemoryBarrier{barrier})
}

// copyBufferToImage copies tightly packed layers of size×size texels.
func copyBufferToImage(cb vulkan.CommandBuffer, src vulkan.Buffer, image vulkan.Image, size, layers uint32) {
	region := vulkan.BufferImageCopy{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vulkan.ImageSubresourceLayers{
			AspectMask:     vulkan.ImageAspectFlags(vulkan.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     layers,
		},
		ImageOffset: vulkan.Offset3D{X: 0, Y: 0, Z: 0},
		ImageExtent: vulkan.Extent3D{Width: size, Height: size, Depth: 1},
	}
	vulkan.CmdCopyBufferToImage(cb, src, image, vulkan.ImageLayoutTransferDstOptimal, 1, []vulkan.BufferImageCopy{region})
}

func (c *Context) createSampler() (vulkan.Sampler, error) {
	samplerInfo := vulkan.SamplerCreateInfo{
		SType:                   vulkan.StructureTypeSamplerCreateInfo,
		MagFilter:               vulkan.FilterLinear,
		MinFilter:               vulkan.FilterLinear,
		AddressModeU:            vulkan.SamplerAddressModeRepeat,
		AddressModeV:            vulkan.SamplerAddressModeClampToEdge,
		AddressModeW:            vulkan.SamplerAddressModeClampToEdge,
		AnisotropyEnable:        vulkan.False,
		MaxAnisotropy:           1.0,
		BorderColor:             vulkan.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vulkan.False,
		CompareEnable:           vulkan.False,
		CompareOp:               vulkan.CompareOpAlways,
		MipmapMode:              vulkan.SamplerMipmapModeLinear,
	}
	var sampler vulkan.Sampler
	if res := vulkan.CreateSampler(c.device, &samplerInfo, nil, &sampler); res != vulkan.Success {
		return vulkan.Sampler(vulkan.NullHandle), fmt.Errorf("create sampler: %w", vulkan.Error(res))
	}
	c.arena.Register(sampler, func() { vulkan.DestroySampler(c.device, sampler, nil) })
	return sampler, nil
}
