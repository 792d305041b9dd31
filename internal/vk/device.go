package vk

import (
	"errors"
	"fmt"
	"time"

	"github.com/vulkan-go/vulkan"

	"orrery/internal/gpu"
)

// resultError maps the results the frame loop reacts to onto the gpu
// sentinels and wraps everything else.
func resultError(res vulkan.Result) error {
	switch res {
	case vulkan.Success:
		return nil
	case vulkan.Suboptimal:
		return gpu.ErrSuboptimal
	case vulkan.ErrorOutOfDate:
		return gpu.ErrOutOfDate
	case vulkan.Timeout:
		return gpu.ErrTimeout
	case vulkan.ErrorDeviceLost:
		return gpu.ErrDeviceLost
	}
	return vulkan.Error(res)
}

func timeoutNanos(d time.Duration) uint64 {
	if d < 0 {
		return vulkan.MaxUint64
	}
	return uint64(d.Nanoseconds())
}

func (c *Context) Families() gpu.Families { return c.families }

func (c *Context) Limits() gpu.Limits { return c.limits }

func (c *Context) ImageCount() int {
	if c.swap == nil {
		return 0
	}
	return len(c.swap.images)
}

func (c *Context) NewFence(signaled bool) (gpu.Fence, error) {
	fenceInfo := vulkan.FenceCreateInfo{
		SType: vulkan.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fenceInfo.Flags = vulkan.FenceCreateFlags(vulkan.FenceCreateSignaledBit)
	}
	var fence vulkan.Fence
	if res := vulkan.CreateFence(c.device, &fenceInfo, nil, &fence); res != vulkan.Success {
		return 0, fmt.Errorf("create fence: %w", vulkan.Error(res))
	}
	id := c.arena.Register(fence, func() { vulkan.DestroyFence(c.device, fence, nil) })
	return gpu.Fence(id), nil
}

func (c *Context) NewSemaphore() (gpu.Semaphore, error) {
	semInfo := vulkan.SemaphoreCreateInfo{
		SType: vulkan.StructureTypeSemaphoreCreateInfo,
	}
	var sem vulkan.Semaphore
	if res := vulkan.CreateSemaphore(c.device, &semInfo, nil, &sem); res != vulkan.Success {
		return 0, fmt.Errorf("create semaphore: %w", vulkan.Error(res))
	}
	id := c.arena.Register(sem, func() { vulkan.DestroySemaphore(c.device, sem, nil) })
	return gpu.Semaphore(id), nil
}

// NewBuffer uploads data into a device-local buffer owned by the
// graphics family.
func (c *Context) NewBuffer(usage gpu.BufferUsage, data []byte) (gpu.Buffer, error) {
	var flags vulkan.BufferUsageFlagBits
	if usage&gpu.UsageVertex != 0 {
		flags |= vulkan.BufferUsageVertexBufferBit
	}
	if usage&gpu.UsageStorage != 0 {
		flags |= vulkan.BufferUsageStorageBufferBit
	}
	if usage&gpu.UsageUniform != 0 {
		flags |= vulkan.BufferUsageUniformBufferBit
	}
	if flags == 0 {
		return 0, fmt.Errorf("buffer usage %#x", usage)
	}
	_, id, err := c.deviceBuffer(c.arena, flags, data)
	if err != nil {
		return 0, err
	}
	return gpu.Buffer(id), nil
}

func (c *Context) NewCommandBuffer(q gpu.QueueKind) (gpu.CommandBuffer, error) {
	pool := c.pools[c.families.Of(q)]
	allocInfo := vulkan.CommandBufferAllocateInfo{
		SType:              vulkan.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vulkan.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cbs := make([]vulkan.CommandBuffer, 1)
	if res := vulkan.AllocateCommandBuffers(c.device, &allocInfo, cbs); res != vulkan.Success {
		return 0, fmt.Errorf("allocate %s command buffer: %w", q, vulkan.Error(res))
	}
	cb := &commandBuffer{handle: cbs[0], queue: q}
	id := c.arena.Register(cb, func() { vulkan.FreeCommandBuffers(c.device, pool, 1, cbs) })
	return gpu.CommandBuffer(id), nil
}

// record resets cb, hands a recorder to fn and ends the buffer.
func (c *Context) record(id gpu.CommandBuffer, want gpu.QueueKind, fn func(r recorder) error) error {
	cb, ok := gpu.Lookup[*commandBuffer](c.arena, uint64(id))
	if !ok {
		return fmt.Errorf("unknown command buffer %d", id)
	}
	if cb.queue != want {
		return fmt.Errorf("command buffer %d belongs to the %s queue, not %s", id, cb.queue, want)
	}
	if c.scene == nil {
		return errors.New("no scene loaded")
	}
	if res := vulkan.ResetCommandBuffer(cb.handle, 0); res != vulkan.Success {
		return fmt.Errorf("reset command buffer: %w", vulkan.Error(res))
	}
	beginInfo := vulkan.CommandBufferBeginInfo{
		SType: vulkan.StructureTypeCommandBufferBeginInfo,
	}
	if res := vulkan.BeginCommandBuffer(cb.handle, &beginInfo); res != vulkan.Success {
		return fmt.Errorf("begin command buffer: %w", vulkan.Error(res))
	}
	recErr := fn(recorder{c: c, cb: cb.handle, family: c.families.Of(want)})
	if res := vulkan.EndCommandBuffer(cb.handle); res != vulkan.Success {
		return fmt.Errorf("end command buffer: %w", vulkan.Error(res))
	}
	return recErr
}

func (c *Context) RecordCompute(cb gpu.CommandBuffer, fn func(gpu.ComputeRecorder)) error {
	return c.record(cb, gpu.Compute, func(base recorder) error {
		r := &computeRecorder{recorder: base}
		fn(r)
		return r.err
	})
}

func (c *Context) RecordGraphics(cb gpu.CommandBuffer, image uint32, fn func(gpu.GraphicsRecorder)) error {
	if int(image) >= c.ImageCount() {
		return fmt.Errorf("image %d out of range", image)
	}
	return c.record(cb, gpu.Graphics, func(base recorder) error {
		r := &graphicsRecorder{recorder: base, image: image, s: c.swap}
		fn(r)
		return r.err
	})
}

func (c *Context) OneShot(q gpu.QueueKind, fn func(gpu.BarrierRecorder)) error {
	var recErr error
	err := c.singleTime(q, func(cb vulkan.CommandBuffer) {
		r := &recorder{c: c, cb: cb, family: c.families.Of(q)}
		fn(r)
		recErr = r.err
	})
	if err != nil {
		return err
	}
	return recErr
}

func (c *Context) fences(ids []gpu.Fence) ([]vulkan.Fence, error) {
	out := make([]vulkan.Fence, len(ids))
	for i, id := range ids {
		f, ok := gpu.Lookup[vulkan.Fence](c.arena, uint64(id))
		if !ok {
			return nil, fmt.Errorf("unknown fence %d", id)
		}
		out[i] = f
	}
	return out, nil
}

func (c *Context) semaphore(id gpu.Semaphore) (vulkan.Semaphore, error) {
	s, ok := gpu.Lookup[vulkan.Semaphore](c.arena, uint64(id))
	if !ok {
		return vulkan.Semaphore(vulkan.NullHandle), fmt.Errorf("unknown semaphore %d", id)
	}
	return s, nil
}

func (c *Context) WaitFences(ids []gpu.Fence, timeout time.Duration) error {
	fences, err := c.fences(ids)
	if err != nil || len(fences) == 0 {
		return err
	}
	res := vulkan.WaitForFences(c.device, uint32(len(fences)), fences, vulkan.True, timeoutNanos(timeout))
	if res != vulkan.Success {
		return fmt.Errorf("wait for fences: %w", resultError(res))
	}
	return nil
}

func (c *Context) ResetFences(ids ...gpu.Fence) error {
	fences, err := c.fences(ids)
	if err != nil || len(fences) == 0 {
		return err
	}
	if res := vulkan.ResetFences(c.device, uint32(len(fences)), fences); res != vulkan.Success {
		return fmt.Errorf("reset fences: %w", resultError(res))
	}
	return nil
}

// AcquireNextImage returns the image index together with ErrSuboptimal
// when the image is usable but the swapchain should be rebuilt.
func (c *Context) AcquireNextImage(signal gpu.Semaphore, timeout time.Duration) (uint32, error) {
	sem, err := c.semaphore(signal)
	if err != nil {
		return 0, err
	}
	var image uint32
	res := vulkan.AcquireNextImage(c.device, c.swap.handle, timeoutNanos(timeout), sem, vulkan.Fence(vulkan.NullHandle), &image)
	switch res {
	case vulkan.Success:
		return image, nil
	case vulkan.Suboptimal:
		return image, gpu.ErrSuboptimal
	}
	return 0, fmt.Errorf("acquire next image: %w", resultError(res))
}

func (c *Context) Submit(q gpu.QueueKind, b gpu.Batch, fence gpu.Fence) error {
	info := vulkan.SubmitInfo{SType: vulkan.StructureTypeSubmitInfo}
	for _, w := range b.Wait {
		sem, err := c.semaphore(w.Semaphore)
		if err != nil {
			return err
		}
		info.PWaitSemaphores = append(info.PWaitSemaphores, sem)
		info.PWaitDstStageMask = append(info.PWaitDstStageMask, stageFlags(w.Stage))
	}
	info.WaitSemaphoreCount = uint32(len(info.PWaitSemaphores))
	for _, id := range b.CommandBuffers {
		cb, ok := gpu.Lookup[*commandBuffer](c.arena, uint64(id))
		if !ok {
			return fmt.Errorf("unknown command buffer %d", id)
		}
		if c.families.Of(cb.queue) != c.families.Of(q) {
			return fmt.Errorf("command buffer %d of the %s queue submitted to %s", id, cb.queue, q)
		}
		info.PCommandBuffers = append(info.PCommandBuffers, cb.handle)
	}
	info.CommandBufferCount = uint32(len(info.PCommandBuffers))
	for _, id := range b.Signal {
		sem, err := c.semaphore(id)
		if err != nil {
			return err
		}
		info.PSignalSemaphores = append(info.PSignalSemaphores, sem)
	}
	info.SignalSemaphoreCount = uint32(len(info.PSignalSemaphores))

	vkFence := vulkan.Fence(vulkan.NullHandle)
	if fence != gpu.NoFence {
		fences, err := c.fences([]gpu.Fence{fence})
		if err != nil {
			return err
		}
		vkFence = fences[0]
	}
	if res := vulkan.QueueSubmit(c.queues[q], 1, []vulkan.SubmitInfo{info}, vkFence); res != vulkan.Success {
		return fmt.Errorf("submit to %s queue: %w", q, resultError(res))
	}
	return nil
}

func (c *Context) Present(image uint32, wait gpu.Semaphore) error {
	sem, err := c.semaphore(wait)
	if err != nil {
		return err
	}
	presentInfo := vulkan.PresentInfo{
		SType:              vulkan.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vulkan.Semaphore{sem},
		SwapchainCount:     1,
		PSwapchains:        []vulkan.Swapchain{c.swap.handle},
		PImageIndices:      []uint32{image},
	}
	if res := vulkan.QueuePresent(c.queues[gpu.Present], &presentInfo); res != vulkan.Success {
		return fmt.Errorf("queue present: %w", resultError(res))
	}
	return nil
}

func (c *Context) WaitIdle() error {
	if res := vulkan.DeviceWaitIdle(c.device); res != vulkan.Success {
		return fmt.Errorf("wait idle: %w", resultError(res))
	}
	return nil
}
