package vk

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/vulkan-go/vulkan"

	"orrery/internal/hud"
	"orrery/internal/mesh"
	"orrery/internal/sim"
)

//go:generate glslc ../../shaders/advance.comp -o ../../shaders/advance.comp.spv
//go:generate glslc ../../shaders/sky.vert -o ../../shaders/sky.vert.spv
//go:generate glslc ../../shaders/sky.frag -o ../../shaders/sky.frag.spv
//go:generate glslc ../../shaders/body.vert -o ../../shaders/body.vert.spv
//go:generate glslc ../../shaders/body.frag -o ../../shaders/body.frag.spv
//go:generate glslc ../../shaders/orbit.vert -o ../../shaders/orbit.vert.spv
//go:generate glslc ../../shaders/orbit.frag -o ../../shaders/orbit.frag.spv
//go:generate glslc ../../shaders/overlay.vert -o ../../shaders/overlay.vert.spv
//go:generate glslc ../../shaders/overlay.frag -o ../../shaders/overlay.frag.spv

// PipelineState is the fixed-function state of a graphics pipeline.
type PipelineState struct {
	Topology     vulkan.PrimitiveTopology
	CullMode     vulkan.CullModeFlagBits
	DepthTest    bool
	DepthWrite   bool
	DepthCompare vulkan.CompareOp
	Blend        bool
}

var (
	// BodyPipelineState draws the instanced spheres.
	BodyPipelineState = PipelineState{
		Topology:     vulkan.PrimitiveTopologyTriangleList,
		CullMode:     vulkan.CullModeBackBit,
		DepthTest:    true,
		DepthWrite:   true,
		DepthCompare: vulkan.CompareOpLess,
	}
	// SkyPipelineState draws the inside of the sky sphere behind everything.
	SkyPipelineState = PipelineState{
		Topology:     vulkan.PrimitiveTopologyTriangleList,
		CullMode:     vulkan.CullModeFrontBit,
		DepthCompare: vulkan.CompareOpAlways,
	}
	// OrbitPipelineState draws one line strip per trajectory.
	OrbitPipelineState = PipelineState{
		Topology:     vulkan.PrimitiveTopologyLineStrip,
		CullMode:     vulkan.CullModeNone,
		DepthTest:    true,
		DepthCompare: vulkan.CompareOpLess,
		Blend:        true,
	}
	// OverlayPipelineState draws the HUD in clip space.
	OverlayPipelineState = PipelineState{
		Topology:     vulkan.PrimitiveTopologyTriangleList,
		CullMode:     vulkan.CullModeNone,
		DepthCompare: vulkan.CompareOpAlways,
	}
)

// vertexLayout is the vertex input of a pipeline.
type vertexLayout struct {
	bindings   []vulkan.VertexInputBindingDescription
	attributes []vulkan.VertexInputAttributeDescription
}

func sphereBinding() ([]vulkan.VertexInputBindingDescription, []vulkan.VertexInputAttributeDescription) {
	bindings := []vulkan.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    uint32(mesh.VertexSize),
		InputRate: vulkan.VertexInputRateVertex,
	}}
	attributes := []vulkan.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vulkan.FormatR32g32b32Sfloat, Offset: uint32(unsafe.Offsetof(mesh.Vertex{}.Pos))},
		{Location: 1, Binding: 0, Format: vulkan.FormatR32g32b32Sfloat, Offset: uint32(unsafe.Offsetof(mesh.Vertex{}.Normal))},
		{Location: 2, Binding: 0, Format: vulkan.FormatR32g32Sfloat, Offset: uint32(unsafe.Offsetof(mesh.Vertex{}.UV))},
	}
	return bindings, attributes
}

var skyLayout = func() vertexLayout {
	b, a := sphereBinding()
	return vertexLayout{bindings: b, attributes: a}
}()

// bodyLayout reads the sphere per vertex and the body records per
// instance.
var bodyLayout = func() vertexLayout {
	b, a := sphereBinding()
	b = append(b, vulkan.VertexInputBindingDescription{
		Binding:   1,
		Stride:    uint32(sim.BodySize),
		InputRate: vulkan.VertexInputRateInstance,
	})
	vec4 := vulkan.FormatR32g32b32a32Sfloat
	a = append(a,
		vulkan.VertexInputAttributeDescription{Location: 3, Binding: 1, Format: vec4, Offset: uint32(unsafe.Offsetof(sim.Body{}.Position))},
		vulkan.VertexInputAttributeDescription{Location: 4, Binding: 1, Format: vec4, Offset: uint32(unsafe.Offsetof(sim.Body{}.Scale))},
		vulkan.VertexInputAttributeDescription{Location: 5, Binding: 1, Format: vec4, Offset: uint32(unsafe.Offsetof(sim.Body{}.Rotation))},
		vulkan.VertexInputAttributeDescription{Location: 6, Binding: 1, Format: vec4, Offset: uint32(unsafe.Offsetof(sim.Body{}.Tilt))},
		vulkan.VertexInputAttributeDescription{Location: 7, Binding: 1, Format: vec4, Offset: uint32(unsafe.Offsetof(sim.Body{}.Tint))},
	)
	return vertexLayout{bindings: b, attributes: a}
}()

var orbitLayout = vertexLayout{
	bindings: []vulkan.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    8,
		InputRate: vulkan.VertexInputRateVertex,
	}},
	attributes: []vulkan.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vulkan.FormatR32g32Sfloat, Offset: 0},
	},
}

var overlayLayout = vertexLayout{
	bindings: []vulkan.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    uint32(hud.VertexSize),
		InputRate: vulkan.VertexInputRateVertex,
	}},
	attributes: []vulkan.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vulkan.FormatR32g32Sfloat, Offset: uint32(unsafe.Offsetof(hud.Vertex{}.Pos))},
		{Location: 1, Binding: 0, Format: vulkan.FormatR32g32b32Sfloat, Offset: uint32(unsafe.Offsetof(hud.Vertex{}.Color))},
	},
}

func bool32(b bool) vulkan.Bool32 {
	if b {
		return vulkan.True
	}
	return vulkan.False
}

// loadShader reads shaders/<name>.spv and creates a module from it. The
// caller destroys the module once the pipeline exists.
func (c *Context) loadShader(name string) (vulkan.ShaderModule, error) {
	path := filepath.Join(c.opts.Shaders, name+".spv")
	code, err := os.ReadFile(path)
	if err != nil {
		return vulkan.ShaderModule(vulkan.NullHandle), fmt.Errorf("read shader %s: %w", name, err)
	}
	if len(code) == 0 || len(code)%4 != 0 {
		return vulkan.ShaderModule(vulkan.NullHandle), fmt.Errorf("shader %s: size %d is not a positive multiple of 4", name, len(code))
	}
	createInfo := vulkan.ShaderModuleCreateInfo{
		SType:    vulkan.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    bytesToUint32(code),
	}
	var module vulkan.ShaderModule
	if res := vulkan.CreateShaderModule(c.device, &createInfo, nil, &module); res != vulkan.Success {
		return vulkan.ShaderModule(vulkan.NullHandle), fmt.Errorf("create shader module %s: %w", name, vulkan.Error(res))
	}
	return module, nil
}

func bytesToUint32(data []byte) []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
}

// createGraphicsPipeline builds a pipeline for the swapchain's render
// pass from <name>.vert and <name>.frag. The viewport covers the whole
// swapchain extent.
func (c *Context) createGraphicsPipeline(s *swapchain, name string, state PipelineState, input vertexLayout, layout vulkan.PipelineLayout) (vulkan.Pipeline, error) {
	vertModule, err := c.loadShader(name + ".vert")
	if err != nil {
		return vulkan.Pipeline(vulkan.NullHandle), err
	}
	defer vulkan.DestroyShaderModule(c.device, vertModule, nil)
	fragModule, err := c.loadShader(name + ".frag")
	if err != nil {
		return vulkan.Pipeline(vulkan.NullHandle), err
	}
	defer vulkan.DestroyShaderModule(c.device, fragModule, nil)

	mainName := "main\x00"
	shaderStages := []vulkan.PipelineShaderStageCreateInfo{
		{
			SType:  vulkan.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vulkan.ShaderStageVertexBit,
			Module: vertModule,
			PName:  mainName,
		},
		{
			SType:  vulkan.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vulkan.ShaderStageFragmentBit,
			Module: fragModule,
			PName:  mainName,
		},
	}

	vertexInput := vulkan.PipelineVertexInputStateCreateInfo{
		SType:                           vulkan.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(input.bindings)),
		PVertexBindingDescriptions:      input.bindings,
		VertexAttributeDescriptionCount: uint32(len(input.attributes)),
		PVertexAttributeDescriptions:    input.attributes,
	}
	inputAssembly := vulkan.PipelineInputAssemblyStateCreateInfo{
		SType:                  vulkan.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               state.Topology,
		PrimitiveRestartEnable: vulkan.False,
	}

	viewport := vulkan.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(s.extent.Width),
		Height:   float32(s.extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}
	scissor := vulkan.Rect2D{
		Offset: vulkan.Offset2D{X: 0, Y: 0},
		Extent: s.extent,
	}
	viewportState := vulkan.PipelineViewportStateCreateInfo{
		SType:         vulkan.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports:    []vulkan.Viewport{viewport},
		ScissorCount:  1,
		PScissors:     []vulkan.Rect2D{scissor},
	}

	rasterizer := vulkan.PipelineRasterizationStateCreateInfo{
		SType:                   vulkan.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vulkan.False,
		RasterizerDiscardEnable: vulkan.False,
		PolygonMode:             vulkan.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vulkan.CullModeFlags(state.CullMode),
		FrontFace:               vulkan.FrontFaceCounterClockwise,
		DepthBiasEnable:         vulkan.False,
	}
	multisampling := vulkan.PipelineMultisampleStateCreateInfo{
		SType:                vulkan.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vulkan.SampleCount1Bit,
	}
	depthStencil := vulkan.PipelineDepthStencilStateCreateInfo{
		SType:                 vulkan.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       bool32(state.DepthTest),
		DepthWriteEnable:      bool32(state.DepthWrite),
		DepthCompareOp:        state.DepthCompare,
		DepthBoundsTestEnable: vulkan.False,
		StencilTestEnable:     vulkan.False,
	}

	colorBlendAttachment := vulkan.PipelineColorBlendAttachmentState{
		ColorWriteMask: vulkan.ColorComponentFlags(vulkan.ColorComponentRBit | vulkan.ColorComponentGBit | vulkan.ColorComponentBBit | vulkan.ColorComponentABit),
		BlendEnable:    bool32(state.Blend),
	}
	if state.Blend {
		colorBlendAttachment.SrcColorBlendFactor = vulkan.BlendFactorSrcAlpha
		colorBlendAttachment.DstColorBlendFactor = vulkan.BlendFactorOneMinusSrcAlpha
		colorBlendAttachment.ColorBlendOp = vulkan.BlendOpAdd
		colorBlendAttachment.SrcAlphaBlendFactor = vulkan.BlendFactorOne
		colorBlendAttachment.DstAlphaBlendFactor = vulkan.BlendFactorZero
		colorBlendAttachment.AlphaBlendOp = vulkan.BlendOpAdd
	}
	colorBlending := vulkan.PipelineColorBlendStateCreateInfo{
		SType:           vulkan.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vulkan.PipelineColorBlendAttachmentState{colorBlendAttachment},
	}

	pipelineInfo := vulkan.GraphicsPipelineCreateInfo{
		SType:               vulkan.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(shaderStages)),
		PStages:             shaderStages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlending,
		Layout:              layout,
		RenderPass:          s.renderPass,
		Subpass:             0,
	}

	pipelines := make([]vulkan.Pipeline, 1)
	if res := vulkan.CreateGraphicsPipelines(c.device, vulkan.PipelineCache(vulkan.NullHandle), 1, []vulkan.GraphicsPipelineCreateInfo{pipelineInfo}, nil, pipelines); res != vulkan.Success {
		return vulkan.Pipeline(vulkan.NullHandle), fmt.Errorf("create %s pipeline: %w", name, vulkan.Error(res))
	}
	pipeline := pipelines[0]
	s.arena.Register(pipeline, func() { vulkan.DestroyPipeline(c.device, pipeline, nil) })
	return pipeline, nil
}

// createComputePipeline builds the advance pipeline. It does not depend
// on the swapchain and lives as long as the device.
func (c *Context) createComputePipeline(layout vulkan.PipelineLayout) (vulkan.Pipeline, error) {
	module, err := c.loadShader("advance.comp")
	if err != nil {
		return vulkan.Pipeline(vulkan.NullHandle), err
	}
	defer vulkan.DestroyShaderModule(c.device, module, nil)

	pipelineInfo := vulkan.ComputePipelineCreateInfo{
		SType: vulkan.StructureTypeComputePipelineCreateInfo,
		Stage: vulkan.PipelineShaderStageCreateInfo{
			SType:  vulkan.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vulkan.ShaderStageComputeBit,
			Module: module,
			PName:  "main\x00",
		},
		Layout: layout,
	}
	pipelines := make([]vulkan.Pipeline, 1)
	if res := vulkan.CreateComputePipelines(c.device, vulkan.PipelineCache(vulkan.NullHandle), 1, []vulkan.ComputePipelineCreateInfo{pipelineInfo}, nil, pipelines); res != vulkan.Success {
		return vulkan.Pipeline(vulkan.NullHandle), fmt.Errorf("create advance pipeline: %w", vulkan.Error(res))
	}
	pipeline := pipelines[0]
	c.arena.Register(pipeline, func() { vulkan.DestroyPipeline(c.device, pipeline, nil) })
	return pipeline, nil
}

func (c *Context) createPipelineLayout(sets ...vulkan.DescriptorSetLayout) (vulkan.PipelineLayout, error) {
	layoutInfo := vulkan.PipelineLayoutCreateInfo{
		SType:          vulkan.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(sets)),
		PSetLayouts:    sets,
	}
	var layout vulkan.PipelineLayout
	if res := vulkan.CreatePipelineLayout(c.device, &layoutInfo, nil, &layout); res != vulkan.Success {
		return vulkan.PipelineLayout(vulkan.NullHandle), fmt.Errorf("create pipeline layout: %w", vulkan.Error(res))
	}
	c.arena.Register(layout, func() { vulkan.DestroyPipelineLayout(c.device, layout, nil) })
	return layout, nil
}

func (c *Context) createSetLayout(bindings ...vulkan.DescriptorSetLayoutBinding) (vulkan.DescriptorSetLayout, error) {
	layoutInfo := vulkan.DescriptorSetLayoutCreateInfo{
		SType:        vulkan.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var layout vulkan.DescriptorSetLayout
	if res := vulkan.CreateDescriptorSetLayout(c.device, &layoutInfo, nil, &layout); res != vulkan.Success {
		return vulkan.DescriptorSetLayout(vulkan.NullHandle), fmt.Errorf("create descriptor set layout: %w", vulkan.Error(res))
	}
	c.arena.Register(layout, func() { vulkan.DestroyDescriptorSetLayout(c.device, layout, nil) })
	return layout, nil
}
