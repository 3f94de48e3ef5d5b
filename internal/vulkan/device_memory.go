package vulkan

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/forge/memutils"
)

type DeviceMemoryProperties struct {
	// Number of native memory blocks that have been allocated from each heap
	blockCount [common.MaxMemoryHeaps]int32
	// Number of resources that have been bound into those blocks
	allocationCount [common.MaxMemoryHeaps]int32
	// Size of native memory blocks allocated from each heap
	blockBytes [common.MaxMemoryHeaps]int64
	// Size of resources bound into those blocks, not counting alignment padding
	allocationBytes [common.MaxMemoryHeaps]int64

	// Whether the SynchronizedMemory objects created from this object should use a mutex to control access
	useMutex            bool
	allocationCallbacks *driver.AllocationCallbacks
	memoryCallbacks     MemoryCallbacks
	memoryCount         uint32
	heapLimits          []int

	device           core1_0.Device
	deviceProperties *core1_0.PhysicalDeviceProperties
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
}

func NewDeviceMemoryProperties(
	useMutex bool,
	allocationCallbacks *driver.AllocationCallbacks,
	memoryCallbacks MemoryCallbacks,
	device core1_0.Device,
	physicalDevice core1_0.PhysicalDevice,
	heapSizeLimits []int,
) (*DeviceMemoryProperties, error) {
	deviceProperties := &DeviceMemoryProperties{
		useMutex:            useMutex,
		allocationCallbacks: allocationCallbacks,
		memoryCallbacks:     memoryCallbacks,

		device: device,
	}

	var err error
	deviceProperties.deviceProperties, err = physicalDevice.Properties()
	if err != nil {
		return nil, err
	}

	deviceProperties.memoryProperties = physicalDevice.MemoryProperties()

	err = memutils.CheckPow2(deviceProperties.deviceProperties.Limits.BufferImageGranularity, "device bufferImageGranularity")
	if err != nil {
		return nil, err
	}
	err = memutils.CheckPow2(deviceProperties.deviceProperties.Limits.NonCoherentAtomSize, "device nonCoherentAtomSize")
	if err != nil {
		return nil, err
	}

	heapCount := deviceProperties.MemoryHeapCount()
	heapLimitCount := len(heapSizeLimits)

	if heapLimitCount > 0 && heapLimitCount != heapCount {
		return nil, errors.Newf("HeapSizeLimits was provided with %d entries, but the PhysicalDevice has %d heaps", heapLimitCount, heapCount)
	}

	deviceProperties.heapLimits = heapSizeLimits

	return deviceProperties, nil
}

func (m *DeviceMemoryProperties) MemoryTypeCount() int {
	return len(m.memoryProperties.MemoryTypes)
}

func (m *DeviceMemoryProperties) MemoryHeapCount() int {
	return len(m.memoryProperties.MemoryHeaps)
}

func (m *DeviceMemoryProperties) MemoryTypes() []core1_0.MemoryType {
	return m.memoryProperties.MemoryTypes
}

func (m *DeviceMemoryProperties) MemoryTypeIndexToHeapIndex(memTypeIndex int) int {
	return m.memoryProperties.MemoryTypes[memTypeIndex].HeapIndex
}

func (m *DeviceMemoryProperties) DeviceProperties() *core1_0.PhysicalDeviceProperties {
	return m.deviceProperties
}

func (m *DeviceMemoryProperties) MemoryTypeProperties(memoryTypeIndex int) core1_0.MemoryType {
	return m.memoryProperties.MemoryTypes[memoryTypeIndex]
}

func (m *DeviceMemoryProperties) MemoryHeapProperties(heapIndex int) core1_0.MemoryHeap {
	return m.memoryProperties.MemoryHeaps[heapIndex]
}

func (m *DeviceMemoryProperties) IsMemoryTypeHostNonCoherent(memoryTypeIndex int) bool {
	flags := m.memoryProperties.MemoryTypes[memoryTypeIndex].PropertyFlags

	return flags&(core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent) == core1_0.MemoryPropertyHostVisible
}

// CalculateGlobalMemoryTypeBits returns a bitmask with one bit set for every memory type the device exposes
func (m *DeviceMemoryProperties) CalculateGlobalMemoryTypeBits() uint32 {
	var typeBits uint32

	memTypeCount := len(m.memoryProperties.MemoryTypes)
	for memoryTypeIndex := 0; memoryTypeIndex < memTypeCount; memoryTypeIndex++ {
		typeBits |= 1 << memoryTypeIndex
	}

	return typeBits
}

// FindMemoryTypeIndex scans the memory types in index order and returns the first one whose bit is set
// in memoryTypeBits and whose property flags contain every flag in requiredFlags
func FindMemoryTypeIndex(memoryTypes []core1_0.MemoryType, memoryTypeBits uint32, requiredFlags core1_0.MemoryPropertyFlags) (int, common.VkResult, error) {
	for memoryTypeIndex, memoryType := range memoryTypes {
		if memoryTypeBits&(1<<memoryTypeIndex) == 0 {
			continue
		}

		if memoryType.PropertyFlags&requiredFlags == requiredFlags {
			return memoryTypeIndex, core1_0.VKSuccess, nil
		}
	}

	return -1, core1_0.VKErrorFeatureNotPresent, core1_0.VKErrorFeatureNotPresent.ToError()
}

func (m *DeviceMemoryProperties) FindMemoryTypeIndex(memoryTypeBits uint32, requiredFlags core1_0.MemoryPropertyFlags) (int, common.VkResult, error) {
	return FindMemoryTypeIndex(m.memoryProperties.MemoryTypes, memoryTypeBits&m.CalculateGlobalMemoryTypeBits(), requiredFlags)
}

func (m *DeviceMemoryProperties) heapLimit(heapIndex int) int {
	if heapIndex >= len(m.heapLimits) {
		return 0
	}

	return m.heapLimits[heapIndex]
}

func (m *DeviceMemoryProperties) addBlockAllocation(heapIndex int, allocationSize int) {
	atomic.AddInt64(&m.blockBytes[heapIndex], int64(allocationSize))
	atomic.AddInt32(&m.blockCount[heapIndex], 1)
}

func (m *DeviceMemoryProperties) addBlockAllocationWithBudget(heapIndex, allocationSize, maxAllocatable int) (common.VkResult, error) {
	for {
		currentVal := atomic.LoadInt64(&m.blockBytes[heapIndex])
		targetVal := currentVal + int64(allocationSize)

		if targetVal > int64(maxAllocatable) {
			return core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError()
		}

		if atomic.CompareAndSwapInt64(&m.blockBytes[heapIndex], currentVal, targetVal) {
			break
		}
	}

	atomic.AddInt32(&m.blockCount[heapIndex], 1)
	return core1_0.VKSuccess, nil
}

func (m *DeviceMemoryProperties) removeBlockAllocation(heapIndex, allocationSize int) {
	newVal := atomic.AddInt64(&m.blockBytes[heapIndex], int64(-allocationSize))
	if newVal < 0 {
		panic(fmt.Sprintf("block bytes budget for heapIndex %d went negative", heapIndex))
	}

	newCountVal := atomic.AddInt32(&m.blockCount[heapIndex], -1)
	if newCountVal < 0 {
		panic(fmt.Sprintf("block count budget for heapIndex %d went negative", heapIndex))
	}
}

// AllocateVulkanMemory allocates one native block, enforcing the device's allocation count limit and any
// heap size limit the allocator was created with
func (m *DeviceMemoryProperties) AllocateVulkanMemory(
	allocateInfo core1_0.MemoryAllocateInfo,
) (mem *SynchronizedMemory, res common.VkResult, err error) {
	newDeviceCount := atomic.AddUint32(&m.memoryCount, 1)
	defer func() {
		// If we failed out, roll back the device increment
		if err != nil {
			atomic.AddUint32(&m.memoryCount, ^uint32(0))
		}
	}()

	maxCount := m.deviceProperties.Limits.MaxMemoryAllocationCount
	if maxCount > 0 && int(newDeviceCount) > maxCount {
		return nil, core1_0.VKErrorTooManyObjects, core1_0.VKErrorTooManyObjects.ToError()
	}

	heapIndex := m.MemoryTypeIndexToHeapIndex(allocateInfo.MemoryTypeIndex)
	heapLimit := m.heapLimit(heapIndex)
	if heapLimit <= 0 {
		m.addBlockAllocation(heapIndex, allocateInfo.AllocationSize)
	} else {
		maxSize := heapLimit
		heapSize := m.memoryProperties.MemoryHeaps[heapIndex].Size
		if heapSize > 0 && heapSize < maxSize {
			maxSize = heapSize
		}
		res, err = m.addBlockAllocationWithBudget(heapIndex, allocateInfo.AllocationSize, maxSize)
		if err != nil {
			return nil, res, err
		}
	}
	defer func() {
		// If we failed out, roll back the block allocation
		if err != nil {
			m.removeBlockAllocation(heapIndex, allocateInfo.AllocationSize)
		}
	}()

	vulkanMem, res, err := m.device.AllocateMemory(m.allocationCallbacks, allocateInfo)
	if err != nil {
		return nil, res, err
	}

	mem = newSynchronizedMemory(vulkanMem, allocateInfo.AllocationSize, m.useMutex, m.allocationCallbacks)

	if m.memoryCallbacks != nil {
		m.memoryCallbacks.Allocate(
			allocateInfo.MemoryTypeIndex,
			vulkanMem,
			allocateInfo.AllocationSize,
		)
	}

	return mem, res, nil
}

func (m *DeviceMemoryProperties) FreeVulkanMemory(memoryType int, memory *SynchronizedMemory) error {
	size := memory.Size()
	vulkanMemory := memory.VulkanDeviceMemory()

	err := memory.FreeMemory()
	if err != nil {
		return err
	}

	if m.memoryCallbacks != nil {
		m.memoryCallbacks.Free(
			memoryType,
			vulkanMemory,
			size,
		)
	}

	heapIndex := m.MemoryTypeIndexToHeapIndex(memoryType)
	m.removeBlockAllocation(heapIndex, size)
	atomic.AddUint32(&m.memoryCount, ^uint32(0))
	return nil
}

// AddAllocation records a resource bound into a block on the heap
func (m *DeviceMemoryProperties) AddAllocation(heapIndex int, size int) {
	atomic.AddInt64(&m.allocationBytes[heapIndex], int64(size))
	atomic.AddInt32(&m.allocationCount[heapIndex], 1)
}

func (m *DeviceMemoryProperties) RemoveAllocation(heapIndex int, size int) {
	newSizeVal := atomic.AddInt64(&m.allocationBytes[heapIndex], int64(-size))
	if newSizeVal < 0 {
		panic(fmt.Sprintf("allocation bytes budget for heapIndex %d went negative", heapIndex))
	}

	newCountVal := atomic.AddInt32(&m.allocationCount[heapIndex], -1)
	if newCountVal < 0 {
		panic(fmt.Sprintf("allocation count budget for heapIndex %d went negative", heapIndex))
	}
}

// HeapStatistics writes the live block and allocation counters for one heap into stats
func (m *DeviceMemoryProperties) HeapStatistics(heapIndex int, stats *memutils.Statistics) {
	stats.BlockCount = int(atomic.LoadInt32(&m.blockCount[heapIndex]))
	stats.AllocationCount = int(atomic.LoadInt32(&m.allocationCount[heapIndex]))
	stats.BlockBytes = int(atomic.LoadInt64(&m.blockBytes[heapIndex]))
	stats.AllocationBytes = int(atomic.LoadInt64(&m.allocationBytes[heapIndex]))
}

func (m *DeviceMemoryProperties) AllocationCount() uint32 {
	return atomic.LoadUint32(&m.memoryCount)
}
