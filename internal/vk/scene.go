package vk

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/vulkan-go/vulkan"
	"go.uber.org/zap"

	"orrery/internal/asset"
	"orrery/internal/camera"
	"orrery/internal/gpu"
	"orrery/internal/hud"
	"orrery/internal/mesh"
	"orrery/internal/sim"
)

// SceneData is what the render and advance passes sample and draw
// besides the body and orbit buffers.
type SceneData struct {
	Body       *mesh.Mesh
	Sky        *mesh.Mesh
	Textures   *asset.TextureArray
	SkyTexture *asset.TextureArray
}

type meshBuffers struct {
	vertices *buffer
	indices  *buffer
	count    uint32
}

// scene holds the device-lifetime resources of the render and advance
// passes.
type scene struct {
	body meshBuffers
	sky  meshBuffers

	textures   *texture
	skyTexture *texture
	sampler    vulkan.Sampler

	graphicsSetLayout vulkan.DescriptorSetLayout
	computeSetLayout  vulkan.DescriptorSetLayout
	graphicsLayout    vulkan.PipelineLayout
	overlayLayout     vulkan.PipelineLayout
	computeLayout     vulkan.PipelineLayout

	params         *buffer
	computePool    vulkan.DescriptorPool
	computeSet     vulkan.DescriptorSet
	computePipe    vulkan.Pipeline
	boundBodies    vulkan.Buffer
	hasBoundBodies bool
}

// frameResources are the per-image parts of the scene: pipelines built
// for the current render pass, camera uniforms, overlay buffers and the
// descriptor sets binding them.
type frameResources struct {
	sky, body, orbit, overlay vulkan.Pipeline

	pool         vulkan.DescriptorPool
	sets         []vulkan.DescriptorSet
	cameras      []*buffer
	overlayVerts []*buffer
	overlayDraws []*buffer
}

var cameraSize = int(unsafe.Sizeof(camera.UBO{}))

// LoadScene uploads meshes and textures, creates the advance pipeline
// and builds the per-image resources of the current swapchain.
func (c *Context) LoadScene(d SceneData) error {
	if c.scene != nil {
		return errors.New("scene already loaded")
	}
	if d.Body == nil || d.Sky == nil || d.Textures == nil || d.SkyTexture == nil {
		return errors.New("scene data incomplete")
	}
	sc := &scene{}
	var err error
	if sc.body, err = c.uploadMesh(d.Body); err != nil {
		return fmt.Errorf("upload body mesh: %w", err)
	}
	if sc.sky, err = c.uploadMesh(d.Sky); err != nil {
		return fmt.Errorf("upload sky mesh: %w", err)
	}
	if sc.textures, err = c.createTexture(d.Textures); err != nil {
		return fmt.Errorf("body textures: %w", err)
	}
	if sc.skyTexture, err = c.createTexture(d.SkyTexture); err != nil {
		return fmt.Errorf("sky texture: %w", err)
	}
	if sc.sampler, err = c.createSampler(); err != nil {
		return err
	}

	sc.graphicsSetLayout, err = c.createSetLayout(
		vulkan.DescriptorSetLayoutBinding{
			Binding:         0,
			DescriptorType:  vulkan.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			StageFlags:      vulkan.ShaderStageFlags(vulkan.ShaderStageVertexBit),
		},
		vulkan.DescriptorSetLayoutBinding{
			Binding:         1,
			DescriptorType:  vulkan.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			StageFlags:      vulkan.ShaderStageFlags(vulkan.ShaderStageFragmentBit),
		},
		vulkan.DescriptorSetLayoutBinding{
			Binding:         2,
			DescriptorType:  vulkan.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			StageFlags:      vulkan.ShaderStageFlags(vulkan.ShaderStageFragmentBit),
		},
	)
	if err != nil {
		return err
	}
	sc.computeSetLayout, err = c.createSetLayout(
		vulkan.DescriptorSetLayoutBinding{
			Binding:         0,
			DescriptorType:  vulkan.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			StageFlags:      vulkan.ShaderStageFlags(vulkan.ShaderStageComputeBit),
		},
		vulkan.DescriptorSetLayoutBinding{
			Binding:         1,
			DescriptorType:  vulkan.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			StageFlags:      vulkan.ShaderStageFlags(vulkan.ShaderStageComputeBit),
		},
	)
	if err != nil {
		return err
	}
	if sc.graphicsLayout, err = c.createPipelineLayout(sc.graphicsSetLayout); err != nil {
		return err
	}
	if sc.overlayLayout, err = c.createPipelineLayout(); err != nil {
		return err
	}
	if sc.computeLayout, err = c.createPipelineLayout(sc.computeSetLayout); err != nil {
		return err
	}
	if sc.computePipe, err = c.createComputePipeline(sc.computeLayout); err != nil {
		return err
	}
	if sc.params, err = c.hostBuffer(c.arena, sim.ParamsSize, vulkan.BufferUsageUniformBufferBit); err != nil {
		return fmt.Errorf("create params buffer: %w", err)
	}
	sc.computePool, err = c.createDescriptorPool(c.arena, 1, []vulkan.DescriptorPoolSize{
		{Type: vulkan.DescriptorTypeStorageBuffer, DescriptorCount: 1},
		{Type: vulkan.DescriptorTypeUniformBuffer, DescriptorCount: 1},
	})
	if err != nil {
		return err
	}
	sets, err := c.allocateSets(sc.computePool, sc.computeSetLayout, 1)
	if err != nil {
		return err
	}
	sc.computeSet = sets[0]

	c.scene = sc
	if err := c.createFrameResources(c.swap); err != nil {
		return err
	}
	c.log.Info("scene loaded",
		zap.Uint32("sphere_indices", sc.body.count),
		zap.Int("texture_layers", d.Textures.Layers),
		zap.Int("texture_size", d.Textures.Size))
	return nil
}

func (c *Context) uploadMesh(m *mesh.Mesh) (meshBuffers, error) {
	vb, _, err := c.deviceBuffer(c.arena, vulkan.BufferUsageVertexBufferBit, m.VertexBytes())
	if err != nil {
		return meshBuffers{}, err
	}
	ib, _, err := c.deviceBuffer(c.arena, vulkan.BufferUsageIndexBufferBit, m.IndexBytes())
	if err != nil {
		return meshBuffers{}, err
	}
	return meshBuffers{vertices: vb, indices: ib, count: uint32(len(m.Indices))}, nil
}

func (c *Context) createDescriptorPool(arena *gpu.Arena, maxSets uint32, sizes []vulkan.DescriptorPoolSize) (vulkan.DescriptorPool, error) {
	poolInfo := vulkan.DescriptorPoolCreateInfo{
		SType:         vulkan.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var pool vulkan.DescriptorPool
	if res := vulkan.CreateDescriptorPool(c.device, &poolInfo, nil, &pool); res != vulkan.Success {
		return vulkan.DescriptorPool(vulkan.NullHandle), fmt.Errorf("create descriptor pool: %w", vulkan.Error(res))
	}
	arena.Register(pool, func() { vulkan.DestroyDescriptorPool(c.device, pool, nil) })
	return pool, nil
}

func (c *Context) allocateSets(pool vulkan.DescriptorPool, layout vulkan.DescriptorSetLayout, n int) ([]vulkan.DescriptorSet, error) {
	layouts := make([]vulkan.DescriptorSetLayout, n)
	for i := range layouts {
		layouts[i] = layout
	}
	allocInfo := vulkan.DescriptorSetAllocateInfo{
		SType:              vulkan.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: uint32(n),
		PSetLayouts:        layouts,
	}
	sets := make([]vulkan.DescriptorSet, n)
	if res := vulkan.AllocateDescriptorSets(c.device, &allocInfo, &sets[0]); res != vulkan.Success {
		return nil, fmt.Errorf("allocate descriptor sets: %w", vulkan.Error(res))
	}
	return sets, nil
}

// createFrameResources builds the pipelines and the per-image uniforms,
// overlay buffers and descriptor sets for s.
func (c *Context) createFrameResources(s *swapchain) error {
	sc := c.scene
	f := &frameResources{}
	var err error
	if f.sky, err = c.createGraphicsPipeline(s, "sky", SkyPipelineState, skyLayout, sc.graphicsLayout); err != nil {
		return err
	}
	if f.body, err = c.createGraphicsPipeline(s, "body", BodyPipelineState, bodyLayout, sc.graphicsLayout); err != nil {
		return err
	}
	if f.orbit, err = c.createGraphicsPipeline(s, "orbit", OrbitPipelineState, orbitLayout, sc.graphicsLayout); err != nil {
		return err
	}
	if f.overlay, err = c.createGraphicsPipeline(s, "overlay", OverlayPipelineState, overlayLayout, sc.overlayLayout); err != nil {
		return err
	}

	n := len(s.images)
	f.pool, err = c.createDescriptorPool(s.arena, uint32(n), []vulkan.DescriptorPoolSize{
		{Type: vulkan.DescriptorTypeUniformBuffer, DescriptorCount: uint32(n)},
		{Type: vulkan.DescriptorTypeCombinedImageSampler, DescriptorCount: uint32(2 * n)},
	})
	if err != nil {
		return err
	}
	if f.sets, err = c.allocateSets(f.pool, sc.graphicsSetLayout, n); err != nil {
		return err
	}
	drawSize := int(unsafe.Sizeof(vulkan.DrawIndirectCommand{}))
	for i := 0; i < n; i++ {
		cam, err := c.hostBuffer(s.arena, cameraSize, vulkan.BufferUsageUniformBufferBit)
		if err != nil {
			return fmt.Errorf("create camera buffer %d: %w", i, err)
		}
		verts, err := c.hostBuffer(s.arena, hud.MaxVertices*hud.VertexSize, vulkan.BufferUsageVertexBufferBit)
		if err != nil {
			return fmt.Errorf("create overlay vertex buffer %d: %w", i, err)
		}
		draw, err := c.hostBuffer(s.arena, drawSize, vulkan.BufferUsageIndirectBufferBit)
		if err != nil {
			return fmt.Errorf("create overlay indirect buffer %d: %w", i, err)
		}
		f.cameras = append(f.cameras, cam)
		f.overlayVerts = append(f.overlayVerts, verts)
		f.overlayDraws = append(f.overlayDraws, draw)
		if err := c.writeOverlayDraw(draw, 0); err != nil {
			return err
		}

		writes := []vulkan.WriteDescriptorSet{
			{
				SType:           vulkan.StructureTypeWriteDescriptorSet,
				DstSet:          f.sets[i],
				DstBinding:      0,
				DescriptorType:  vulkan.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,
				PBufferInfo: []vulkan.DescriptorBufferInfo{{
					Buffer: cam.handle,
					Range:  vulkan.DeviceSize(cameraSize),
				}},
			},
			{
				SType:           vulkan.StructureTypeWriteDescriptorSet,
				DstSet:          f.sets[i],
				DstBinding:      1,
				DescriptorType:  vulkan.DescriptorTypeCombinedImageSampler,
				DescriptorCount: 1,
				PImageInfo: []vulkan.DescriptorImageInfo{{
					Sampler:     sc.sampler,
					ImageView:   sc.textures.view,
					ImageLayout: vulkan.ImageLayoutShaderReadOnlyOptimal,
				}},
			},
			{
				SType:           vulkan.StructureTypeWriteDescriptorSet,
				DstSet:          f.sets[i],
				DstBinding:      2,
				DescriptorType:  vulkan.DescriptorTypeCombinedImageSampler,
				DescriptorCount: 1,
				PImageInfo: []vulkan.DescriptorImageInfo{{
					Sampler:     sc.sampler,
					ImageView:   sc.skyTexture.view,
					ImageLayout: vulkan.ImageLayoutShaderReadOnlyOptimal,
				}},
			},
		}
		vulkan.UpdateDescriptorSets(c.device, uint32(len(writes)), writes, 0, nil)
	}
	s.frame = f
	return nil
}

// bindBodies points the advance descriptor set at the body buffer.
func (c *Context) bindBodies(b *buffer) {
	sc := c.scene
	if sc.hasBoundBodies && sc.boundBodies == b.handle {
		return
	}
	writes := []vulkan.WriteDescriptorSet{
		{
			SType:           vulkan.StructureTypeWriteDescriptorSet,
			DstSet:          sc.computeSet,
			DstBinding:      0,
			DescriptorType:  vulkan.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			PBufferInfo:     []vulkan.DescriptorBufferInfo{{Buffer: b.handle, Range: b.size}},
		},
		{
			SType:           vulkan.StructureTypeWriteDescriptorSet,
			DstSet:          sc.computeSet,
			DstBinding:      1,
			DescriptorType:  vulkan.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			PBufferInfo:     []vulkan.DescriptorBufferInfo{{Buffer: sc.params.handle, Range: sc.params.size}},
		},
	}
	vulkan.UpdateDescriptorSets(c.device, uint32(len(writes)), writes, 0, nil)
	sc.boundBodies = b.handle
	sc.hasBoundBodies = true
}

// WriteCamera stores the camera uniforms read by the render pass of image.
// The image must not be in flight.
func (c *Context) WriteCamera(image uint32, ubo camera.UBO) error {
	f, err := c.frame(image)
	if err != nil {
		return err
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(&ubo)), cameraSize)
	return c.write(f.cameras[image], 0, data)
}

// WriteParams stores the parameters of the next advance pass. The
// compute queue must be idle.
func (c *Context) WriteParams(p sim.Params) error {
	if c.scene == nil {
		return errors.New("no scene loaded")
	}
	return c.write(c.scene.params, 0, p.Bytes())
}

// WriteOverlay replaces the HUD geometry drawn over image. Vertices past
// hud.MaxVertices are dropped.
func (c *Context) WriteOverlay(image uint32, verts []hud.Vertex) error {
	f, err := c.frame(image)
	if err != nil {
		return err
	}
	if len(verts) > hud.MaxVertices {
		verts = verts[:hud.MaxVertices]
	}
	if err := c.write(f.overlayVerts[image], 0, hud.Bytes(verts)); err != nil {
		return fmt.Errorf("write overlay vertices: %w", err)
	}
	return c.writeOverlayDraw(f.overlayDraws[image], uint32(len(verts)))
}

func (c *Context) writeOverlayDraw(b *buffer, vertices uint32) error {
	draw := vulkan.DrawIndirectCommand{
		VertexCount:   vertices,
		InstanceCount: 1,
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(&draw)), unsafe.Sizeof(draw))
	if err := c.write(b, 0, data); err != nil {
		return fmt.Errorf("write overlay draw: %w", err)
	}
	return nil
}

func (c *Context) frame(image uint32) (*frameResources, error) {
	if c.swap == nil || c.swap.frame == nil {
		return nil, errors.New("no scene loaded")
	}
	if int(image) >= len(c.swap.frame.cameras) {
		return nil, fmt.Errorf("image %d out of range", image)
	}
	return c.swap.frame, nil
}
