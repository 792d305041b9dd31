package vk

import (
	"errors"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vulkan-go/vulkan"

	"orrery/internal/gpu"
	"orrery/internal/sim"
)

func TestAccessFlags(t *testing.T) {
	assert.Equal(t, vulkan.AccessFlags(0), accessFlags(gpu.AccessNone))
	assert.Equal(t,
		vulkan.AccessFlags(vulkan.AccessShaderReadBit|vulkan.AccessShaderWriteBit),
		accessFlags(gpu.AccessShaderRead|gpu.AccessShaderWrite))
	assert.Equal(t,
		vulkan.AccessFlags(vulkan.AccessVertexAttributeReadBit),
		accessFlags(gpu.AccessVertexAttributeRead))
}

func TestStageFlags(t *testing.T) {
	cases := map[gpu.Stage]vulkan.PipelineStageFlagBits{
		gpu.StageTopOfPipe:             vulkan.PipelineStageTopOfPipeBit,
		gpu.StageVertexInput:           vulkan.PipelineStageVertexInputBit,
		gpu.StageComputeShader:         vulkan.PipelineStageComputeShaderBit,
		gpu.StageTransfer:              vulkan.PipelineStageTransferBit,
		gpu.StageColorAttachmentOutput: vulkan.PipelineStageColorAttachmentOutputBit,
		gpu.StageBottomOfPipe:          vulkan.PipelineStageBottomOfPipeBit,
	}
	for in, want := range cases {
		assert.Equal(t, vulkan.PipelineStageFlags(want), stageFlags(in), "stage %#x", in)
	}
	assert.Equal(t,
		vulkan.PipelineStageFlags(vulkan.PipelineStageVertexInputBit|vulkan.PipelineStageComputeShaderBit),
		stageFlags(gpu.StageVertexInput|gpu.StageComputeShader))
}

func TestResultError(t *testing.T) {
	assert.NoError(t, resultError(vulkan.Success))
	assert.ErrorIs(t, resultError(vulkan.Suboptimal), gpu.ErrSuboptimal)
	assert.ErrorIs(t, resultError(vulkan.ErrorOutOfDate), gpu.ErrOutOfDate)
	assert.ErrorIs(t, resultError(vulkan.Timeout), gpu.ErrTimeout)
	assert.ErrorIs(t, resultError(vulkan.ErrorDeviceLost), gpu.ErrDeviceLost)

	err := resultError(vulkan.ErrorOutOfDeviceMemory)
	require.Error(t, err)
	for _, sentinel := range []error{gpu.ErrSuboptimal, gpu.ErrOutOfDate, gpu.ErrTimeout, gpu.ErrDeviceLost} {
		assert.False(t, errors.Is(err, sentinel))
	}
}

func TestTimeoutNanos(t *testing.T) {
	assert.Equal(t, uint64(1_500_000_000), timeoutNanos(1500*time.Millisecond))
	assert.Equal(t, uint64(vulkan.MaxUint64), timeoutNanos(-1))
}

func TestPipelineStates(t *testing.T) {
	assert.Equal(t, vulkan.CullModeBackBit, BodyPipelineState.CullMode)
	assert.True(t, BodyPipelineState.DepthTest)
	assert.True(t, BodyPipelineState.DepthWrite)
	assert.Equal(t, vulkan.CompareOpLess, BodyPipelineState.DepthCompare)

	assert.False(t, SkyPipelineState.DepthWrite)
	assert.Equal(t, vulkan.PrimitiveTopologyLineStrip, OrbitPipelineState.Topology)
	assert.False(t, OrbitPipelineState.DepthWrite)
	assert.True(t, OrbitPipelineState.Blend)
	assert.False(t, OverlayPipelineState.DepthTest)
}

func TestBodyLayoutMatchesRecord(t *testing.T) {
	require.Len(t, bodyLayout.bindings, 2)
	inst := bodyLayout.bindings[1]
	assert.Equal(t, vulkan.VertexInputRateInstance, inst.InputRate)
	assert.Equal(t, uint32(sim.BodySize), inst.Stride)

	offsets := map[uint32]uintptr{
		3: unsafe.Offsetof(sim.Body{}.Position),
		4: unsafe.Offsetof(sim.Body{}.Scale),
		5: unsafe.Offsetof(sim.Body{}.Rotation),
		6: unsafe.Offsetof(sim.Body{}.Tilt),
		7: unsafe.Offsetof(sim.Body{}.Tint),
	}
	seen := 0
	for _, a := range bodyLayout.attributes {
		if a.Binding != 1 {
			continue
		}
		want, ok := offsets[a.Location]
		require.True(t, ok, "unexpected location %d", a.Location)
		assert.Equal(t, uint32(want), a.Offset, "location %d", a.Location)
		seen++
	}
	assert.Equal(t, len(offsets), seen)
}

func TestBytesToUint32(t *testing.T) {
	words := bytesToUint32([]byte{0x03, 0x02, 0x23, 0x07, 1, 0, 0, 0})
	require.Len(t, words, 2)
	assert.Equal(t, uint32(0x07230203), words[0])
	assert.Equal(t, uint32(1), words[1])
}

func TestClamp(t *testing.T) {
	assert.Equal(t, uint64(5), clamp(1, 5, 10))
	assert.Equal(t, uint64(10), clamp(12, 5, 10))
	assert.Equal(t, uint64(7), clamp(7, 5, 10))
}
