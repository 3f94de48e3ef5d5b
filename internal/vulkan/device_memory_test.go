package vulkan

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/mocks"
	"github.com/vkngwrapper/forge/memutils"
	"github.com/golang/mock/gomock"
)

var testMemoryTypes = []core1_0.MemoryType{
	{PropertyFlags: core1_0.MemoryPropertyHostVisible, HeapIndex: 1},
	{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 1},
	{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
	{PropertyFlags: core1_0.MemoryPropertyDeviceLocal | core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 0},
}

var testMemoryHeaps = []core1_0.MemoryHeap{
	{Size: 1024 * 1024, Flags: core1_0.MemoryHeapDeviceLocal},
	{Size: 512 * 1024},
}

type recordingCallbacks struct {
	allocated []int
	freed     []int
}

func (c *recordingCallbacks) Allocate(memoryType int, memory core1_0.DeviceMemory, size int) {
	c.allocated = append(c.allocated, size)
}

func (c *recordingCallbacks) Free(memoryType int, memory core1_0.DeviceMemory, size int) {
	c.freed = append(c.freed, size)
}

func newTestProperties(t *testing.T, ctrl *gomock.Controller, device core1_0.Device, maxAllocations int, heapLimits []int, callbacks MemoryCallbacks) *DeviceMemoryProperties {
	physicalDevice := mocks.NewMockPhysicalDevice(ctrl)
	physicalDevice.EXPECT().Properties().Return(&core1_0.PhysicalDeviceProperties{
		Limits: &core1_0.PhysicalDeviceLimits{
			BufferImageGranularity:   1024,
			NonCoherentAtomSize:      64,
			MaxMemoryAllocationCount: maxAllocations,
		},
	}, nil)
	physicalDevice.EXPECT().MemoryProperties().Return(&core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: testMemoryTypes,
		MemoryHeaps: testMemoryHeaps,
	})

	props, err := NewDeviceMemoryProperties(false, nil, callbacks, device, physicalDevice, heapLimits)
	require.NoError(t, err)
	return props
}

func TestFindMemoryTypeIndex(t *testing.T) {
	testCases := map[string]struct {
		memoryTypeBits uint32
		required       core1_0.MemoryPropertyFlags
		expected       int
		expectErr      bool
	}{
		"DeviceLocal": {
			memoryTypeBits: 0xf,
			required:       core1_0.MemoryPropertyDeviceLocal,
			expected:       2,
		},
		"FirstFit": {
			memoryTypeBits: 0xf,
			required:       core1_0.MemoryPropertyHostVisible,
			expected:       0,
		},
		"Coherent": {
			memoryTypeBits: 0xf,
			required:       core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
			expected:       1,
		},
		"MaskedOut": {
			memoryTypeBits: 0x8,
			required:       core1_0.MemoryPropertyDeviceLocal,
			expected:       3,
		},
		"NoFlags": {
			memoryTypeBits: 0x4,
			required:       0,
			expected:       2,
		},
		"NoneCompatible": {
			memoryTypeBits: 0x3,
			required:       core1_0.MemoryPropertyDeviceLocal,
			expectErr:      true,
		},
		"EmptyMask": {
			memoryTypeBits: 0,
			required:       0,
			expectErr:      true,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			index, res, err := FindMemoryTypeIndex(testMemoryTypes, testCase.memoryTypeBits, testCase.required)
			if testCase.expectErr {
				require.Error(t, err)
				require.Equal(t, core1_0.VKErrorFeatureNotPresent, res)
				require.Equal(t, -1, index)
				return
			}

			require.NoError(t, err)
			require.Equal(t, testCase.expected, index)
			require.Equal(t, testCase.required, testMemoryTypes[index].PropertyFlags&testCase.required)
		})
	}
}

func TestDeviceMemoryProperties_GlobalBitsMaskSearch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	device := mocks.NewMockDevice(ctrl)
	props := newTestProperties(t, ctrl, device, 4096, nil, nil)

	require.Equal(t, uint32(0xf), props.CalculateGlobalMemoryTypeBits())

	// Bits beyond the device's type count never match
	_, _, err := props.FindMemoryTypeIndex(0xf0, 0)
	require.Error(t, err)

	index, _, err := props.FindMemoryTypeIndex(0xff, core1_0.MemoryPropertyDeviceLocal|core1_0.MemoryPropertyHostVisible)
	require.NoError(t, err)
	require.Equal(t, 3, index)
	require.False(t, props.IsMemoryTypeHostNonCoherent(3))
	require.True(t, props.IsMemoryTypeHostNonCoherent(0))
}

func TestDeviceMemoryProperties_HeapLimitLength(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	physicalDevice := mocks.NewMockPhysicalDevice(ctrl)
	physicalDevice.EXPECT().Properties().Return(&core1_0.PhysicalDeviceProperties{
		Limits: &core1_0.PhysicalDeviceLimits{
			BufferImageGranularity: 1,
			NonCoherentAtomSize:    1,
		},
	}, nil)
	physicalDevice.EXPECT().MemoryProperties().Return(&core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: testMemoryTypes,
		MemoryHeaps: testMemoryHeaps,
	})

	_, err := NewDeviceMemoryProperties(false, nil, nil, mocks.NewMockDevice(ctrl), physicalDevice, []int{1})
	require.Error(t, err)
}

func TestDeviceMemoryProperties_BadGranularity(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	physicalDevice := mocks.NewMockPhysicalDevice(ctrl)
	physicalDevice.EXPECT().Properties().Return(&core1_0.PhysicalDeviceProperties{
		Limits: &core1_0.PhysicalDeviceLimits{
			BufferImageGranularity: 48,
			NonCoherentAtomSize:    1,
		},
	}, nil)
	physicalDevice.EXPECT().MemoryProperties().Return(&core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: testMemoryTypes,
		MemoryHeaps: testMemoryHeaps,
	})

	_, err := NewDeviceMemoryProperties(false, nil, nil, mocks.NewMockDevice(ctrl), physicalDevice, nil)
	require.ErrorIs(t, err, memutils.PowerOfTwoError)
}

func TestDeviceMemoryProperties_AllocateAndFree(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	device := mocks.NewMockDevice(ctrl)
	memory := mocks.NewMockDeviceMemory(ctrl)
	callbacks := &recordingCallbacks{}
	props := newTestProperties(t, ctrl, device, 4096, nil, callbacks)

	device.EXPECT().AllocateMemory(gomock.Nil(), core1_0.MemoryAllocateInfo{
		AllocationSize:  176,
		MemoryTypeIndex: 2,
	}).Return(memory, core1_0.VKSuccess, nil)

	mem, _, err := props.AllocateVulkanMemory(core1_0.MemoryAllocateInfo{
		AllocationSize:  176,
		MemoryTypeIndex: 2,
	})
	require.NoError(t, err)
	require.Equal(t, memory, mem.VulkanDeviceMemory())
	require.Equal(t, 176, mem.Size())
	require.Equal(t, uint32(1), props.AllocationCount())

	props.AddAllocation(0, 100)
	props.AddAllocation(0, 64)

	var stats memutils.Statistics
	props.HeapStatistics(0, &stats)
	require.Equal(t, memutils.Statistics{
		BlockCount:      1,
		AllocationCount: 2,
		BlockBytes:      176,
		AllocationBytes: 164,
	}, stats)
	require.Equal(t, 12, stats.PaddingBytes())

	props.RemoveAllocation(0, 100)
	props.RemoveAllocation(0, 64)

	memory.EXPECT().Free(gomock.Nil())
	require.NoError(t, props.FreeVulkanMemory(2, mem))

	props.HeapStatistics(0, &stats)
	require.Equal(t, memutils.Statistics{}, stats)
	require.Equal(t, uint32(0), props.AllocationCount())
	require.Equal(t, []int{176}, callbacks.allocated)
	require.Equal(t, []int{176}, callbacks.freed)
}

func TestDeviceMemoryProperties_DoubleFreeSkipsCallback(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	device := mocks.NewMockDevice(ctrl)
	memory := mocks.NewMockDeviceMemory(ctrl)
	callbacks := &recordingCallbacks{}
	props := newTestProperties(t, ctrl, device, 4096, nil, callbacks)

	device.EXPECT().AllocateMemory(gomock.Nil(), core1_0.MemoryAllocateInfo{
		AllocationSize:  64,
		MemoryTypeIndex: 0,
	}).Return(memory, core1_0.VKSuccess, nil)

	mem, _, err := props.AllocateVulkanMemory(core1_0.MemoryAllocateInfo{
		AllocationSize:  64,
		MemoryTypeIndex: 0,
	})
	require.NoError(t, err)

	memory.EXPECT().Free(gomock.Nil()).Times(1)
	require.NoError(t, props.FreeVulkanMemory(0, mem))
	require.Error(t, props.FreeVulkanMemory(0, mem))

	require.Equal(t, []int{64}, callbacks.freed)
	require.Equal(t, uint32(0), props.AllocationCount())
}

func TestDeviceMemoryProperties_HostNonCoherent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	props := newTestProperties(t, ctrl, mocks.NewMockDevice(ctrl), 4096, nil, nil)

	testCases := map[string]struct {
		MemoryType  int
		NonCoherent bool
	}{
		"HostVisible":          {MemoryType: 0, NonCoherent: true},
		"HostVisibleCoherent":  {MemoryType: 1, NonCoherent: false},
		"DeviceLocal":          {MemoryType: 2, NonCoherent: false},
		"DeviceLocalAndMapped": {MemoryType: 3, NonCoherent: false},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, testCase.NonCoherent, props.IsMemoryTypeHostNonCoherent(testCase.MemoryType))
		})
	}

	require.Equal(t, 64, props.DeviceProperties().Limits.NonCoherentAtomSize)
}

func TestDeviceMemoryProperties_HeapLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	device := mocks.NewMockDevice(ctrl)
	memory := mocks.NewMockDeviceMemory(ctrl)
	props := newTestProperties(t, ctrl, device, 4096, []int{256, 0}, nil)

	device.EXPECT().AllocateMemory(gomock.Nil(), gomock.Any()).Return(memory, core1_0.VKSuccess, nil)

	_, _, err := props.AllocateVulkanMemory(core1_0.MemoryAllocateInfo{
		AllocationSize:  200,
		MemoryTypeIndex: 2,
	})
	require.NoError(t, err)

	// 200 + 100 exceeds the 256 byte limit on heap 0 and never reaches the device
	_, res, err := props.AllocateVulkanMemory(core1_0.MemoryAllocateInfo{
		AllocationSize:  100,
		MemoryTypeIndex: 3,
	})
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorOutOfDeviceMemory, res)
	require.Equal(t, uint32(1), props.AllocationCount())

	var stats memutils.Statistics
	props.HeapStatistics(0, &stats)
	require.Equal(t, 200, stats.BlockBytes)
	require.Equal(t, 1, stats.BlockCount)
}

func TestDeviceMemoryProperties_TooManyObjects(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	device := mocks.NewMockDevice(ctrl)
	memory := mocks.NewMockDeviceMemory(ctrl)
	props := newTestProperties(t, ctrl, device, 1, nil, nil)

	device.EXPECT().AllocateMemory(gomock.Nil(), gomock.Any()).Return(memory, core1_0.VKSuccess, nil)

	_, _, err := props.AllocateVulkanMemory(core1_0.MemoryAllocateInfo{AllocationSize: 16, MemoryTypeIndex: 0})
	require.NoError(t, err)

	_, res, err := props.AllocateVulkanMemory(core1_0.MemoryAllocateInfo{AllocationSize: 16, MemoryTypeIndex: 0})
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorTooManyObjects, res)
	require.Equal(t, uint32(1), props.AllocationCount())
}

func TestDeviceMemoryProperties_DeviceFailureRollsBack(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	device := mocks.NewMockDevice(ctrl)
	props := newTestProperties(t, ctrl, device, 4096, nil, nil)

	device.EXPECT().AllocateMemory(gomock.Nil(), gomock.Any()).
		Return(nil, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError())

	_, res, err := props.AllocateVulkanMemory(core1_0.MemoryAllocateInfo{AllocationSize: 64, MemoryTypeIndex: 1})
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorOutOfDeviceMemory, res)

	var stats memutils.Statistics
	props.HeapStatistics(1, &stats)
	require.Equal(t, memutils.Statistics{}, stats)
	require.Equal(t, uint32(0), props.AllocationCount())
}
