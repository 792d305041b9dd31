package vk

import (
	"fmt"

	"github.com/vulkan-go/vulkan"

	"orrery/internal/gpu"
)

// commandBuffer is a primary command buffer allocated for one queue.
type commandBuffer struct {
	handle vulkan.CommandBuffer
	queue  gpu.QueueKind
}

func accessFlags(a gpu.Access) vulkan.AccessFlags {
	var out vulkan.AccessFlagBits
	if a&gpu.AccessVertexAttributeRead != 0 {
		out |= vulkan.AccessVertexAttributeReadBit
	}
	if a&gpu.AccessShaderRead != 0 {
		out |= vulkan.AccessShaderReadBit
	}
	if a&gpu.AccessShaderWrite != 0 {
		out |= vulkan.AccessShaderWriteBit
	}
	if a&gpu.AccessTransferWrite != 0 {
		out |= vulkan.AccessTransferWriteBit
	}
	if a&gpu.AccessUniformRead != 0 {
		out |= vulkan.AccessUniformReadBit
	}
	return vulkan.AccessFlags(out)
}

func stageFlags(s gpu.Stage) vulkan.PipelineStageFlags {
	var out vulkan.PipelineStageFlagBits
	if s&gpu.StageTopOfPipe != 0 {
		out |= vulkan.PipelineStageTopOfPipeBit
	}
	if s&gpu.StageVertexInput != 0 {
		out |= vulkan.PipelineStageVertexInputBit
	}
	if s&gpu.StageComputeShader != 0 {
		out |= vulkan.PipelineStageComputeShaderBit
	}
	if s&gpu.StageTransfer != 0 {
		out |= vulkan.PipelineStageTransferBit
	}
	if s&gpu.StageColorAttachmentOutput != 0 {
		out |= vulkan.PipelineStageColorAttachmentOutputBit
	}
	if s&gpu.StageBottomOfPipe != 0 {
		out |= vulkan.PipelineStageBottomOfPipeBit
	}
	return vulkan.PipelineStageFlags(out)
}

// recorder records into one command buffer. The first error is kept
// and returned when recording ends.
type recorder struct {
	c      *Context
	cb     vulkan.CommandBuffer
	family gpu.Family
	err    error
}

func (r *recorder) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf(format, args...)
	}
}

func (r *recorder) buffer(b gpu.Buffer) (*buffer, bool) {
	buf, ok := gpu.Lookup[*buffer](r.c.arena, uint64(b))
	if !ok {
		r.fail("unknown buffer %d", b)
	}
	return buf, ok
}

// BufferBarrier records b. For an ownership transfer the stage on the
// other queue's side is replaced by top or bottom of pipe, since this
// queue may not support it and its access mask is empty anyway.
func (r *recorder) BufferBarrier(b gpu.BufferBarrier) {
	buf, ok := r.buffer(b.Buffer)
	if !ok {
		return
	}
	srcStage, dstStage := stageFlags(b.SrcStage), stageFlags(b.DstStage)
	srcFamily, dstFamily := uint32(b.SrcFamily), uint32(b.DstFamily)
	switch {
	case b.SrcFamily == b.DstFamily:
		srcFamily, dstFamily = vulkan.QueueFamilyIgnored, vulkan.QueueFamilyIgnored
	case r.family == b.SrcFamily:
		dstStage = vulkan.PipelineStageFlags(vulkan.PipelineStageBottomOfPipeBit)
	case r.family == b.DstFamily:
		srcStage = vulkan.PipelineStageFlags(vulkan.PipelineStageTopOfPipeBit)
	default:
		r.fail("barrier for families %d->%d recorded on family %d", b.SrcFamily, b.DstFamily, r.family)
		return
	}
	size := vulkan.DeviceSize(b.Size)
	if size == 0 {
		size = vulkan.DeviceSize(vulkan.WholeSize)
	}
	barrier := vulkan.BufferMemoryBarrier{
		SType:               vulkan.StructureTypeBufferMemoryBarrier,
		SrcAccessMask:       accessFlags(b.SrcAccess),
		DstAccessMask:       accessFlags(b.DstAccess),
		SrcQueueFamilyIndex: srcFamily,
		DstQueueFamilyIndex: dstFamily,
		Buffer:              buf.handle,
		Offset:              vulkan.DeviceSize(b.Offset),
		Size:                size,
	}
	vulkan.CmdPipelineBarrier(r.cb, srcStage, dstStage, 0,
		0, nil, 1, []vulkan.BufferMemoryBarrier{barrier}, 0, nil)
}

type computeRecorder struct {
	recorder
}

func (r *computeRecorder) BindAdvance(bodies gpu.Buffer) {
	buf, ok := r.buffer(bodies)
	if !ok {
		return
	}
	sc := r.c.scene
	r.c.bindBodies(buf)
	vulkan.CmdBindPipeline(r.cb, vulkan.PipelineBindPointCompute, sc.computePipe)
	vulkan.CmdBindDescriptorSets(r.cb, vulkan.PipelineBindPointCompute, sc.computeLayout, 0, 1, []vulkan.DescriptorSet{sc.computeSet}, 0, nil)
}

func (r *computeRecorder) Dispatch(groups uint32) {
	if groups > r.c.limits.MaxComputeWorkGroupCount {
		r.fail("dispatch of %d groups exceeds the device limit %d", groups, r.c.limits.MaxComputeWorkGroupCount)
		return
	}
	vulkan.CmdDispatch(r.cb, groups, 1, 1)
}

type graphicsRecorder struct {
	recorder
	image uint32
	s     *swapchain
}

func (r *graphicsRecorder) BeginRenderPass() {
	clearValues := []vulkan.ClearValue{
		vulkan.NewClearValue([]float32{0, 0, 0, 1}),
		vulkan.NewClearDepthStencil(1.0, 0),
	}
	renderPassInfo := vulkan.RenderPassBeginInfo{
		SType:       vulkan.StructureTypeRenderPassBeginInfo,
		RenderPass:  r.s.renderPass,
		Framebuffer: r.s.framebuffers[r.image],
		RenderArea: vulkan.Rect2D{
			Offset: vulkan.Offset2D{X: 0, Y: 0},
			Extent: r.s.extent,
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vulkan.CmdBeginRenderPass(r.cb, &renderPassInfo, vulkan.SubpassContentsInline)
}

func (r *graphicsRecorder) bind(pipeline vulkan.Pipeline) {
	vulkan.CmdBindPipeline(r.cb, vulkan.PipelineBindPointGraphics, pipeline)
	vulkan.CmdBindDescriptorSets(r.cb, vulkan.PipelineBindPointGraphics, r.c.scene.graphicsLayout, 0, 1,
		[]vulkan.DescriptorSet{r.s.frame.sets[r.image]}, 0, nil)
}

func (r *graphicsRecorder) DrawSky() {
	sky := r.c.scene.sky
	r.bind(r.s.frame.sky)
	vulkan.CmdBindVertexBuffers(r.cb, 0, 1, []vulkan.Buffer{sky.vertices.handle}, []vulkan.DeviceSize{0})
	vulkan.CmdBindIndexBuffer(r.cb, sky.indices.handle, 0, vulkan.IndexTypeUint32)
	vulkan.CmdDrawIndexed(r.cb, sky.count, 1, 0, 0, 0)
}

func (r *graphicsRecorder) DrawBodies(instances gpu.Buffer, count uint32) {
	buf, ok := r.buffer(instances)
	if !ok {
		return
	}
	sphere := r.c.scene.body
	r.bind(r.s.frame.body)
	vulkan.CmdBindVertexBuffers(r.cb, 0, 2,
		[]vulkan.Buffer{sphere.vertices.handle, buf.handle},
		[]vulkan.DeviceSize{0, 0})
	vulkan.CmdBindIndexBuffer(r.cb, sphere.indices.handle, 0, vulkan.IndexTypeUint32)
	vulkan.CmdDrawIndexed(r.cb, sphere.count, count, 0, 0, 0)
}

func (r *graphicsRecorder) DrawOrbits(points gpu.Buffer, ranges []gpu.DrawRange) {
	buf, ok := r.buffer(points)
	if !ok {
		return
	}
	r.bind(r.s.frame.orbit)
	vulkan.CmdBindVertexBuffers(r.cb, 0, 1, []vulkan.Buffer{buf.handle}, []vulkan.DeviceSize{0})
	for _, rg := range ranges {
		vulkan.CmdDraw(r.cb, rg.Count, 1, rg.First, 0)
	}
}

func (r *graphicsRecorder) DrawOverlay() {
	f := r.s.frame
	vulkan.CmdBindPipeline(r.cb, vulkan.PipelineBindPointGraphics, f.overlay)
	vulkan.CmdBindVertexBuffers(r.cb, 0, 1, []vulkan.Buffer{f.overlayVerts[r.image].handle}, []vulkan.DeviceSize{0})
	vulkan.CmdDrawIndirect(r.cb, f.overlayDraws[r.image].handle, 0, 1, uint32(f.overlayDraws[r.image].size))
}

func (r *graphicsRecorder) EndRenderPass() {
	vulkan.CmdEndRenderPass(r.cb)
}
