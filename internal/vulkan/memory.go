package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/forge/internal/utils"
)

// SynchronizedMemory wraps a single native memory block. Mapping is reference counted so that
// several resources placed in the same block can be written through one mapping.
type SynchronizedMemory struct {
	mapReferences int
	mapData       unsafe.Pointer
	freed         bool

	mapMutex utils.OptionalMutex
	memory   core1_0.DeviceMemory
	size     int

	allocationCallbacks *driver.AllocationCallbacks
}

func newSynchronizedMemory(memory core1_0.DeviceMemory, size int, useMutex bool, callbacks *driver.AllocationCallbacks) *SynchronizedMemory {
	return &SynchronizedMemory{
		memory: memory,
		size:   size,
		mapMutex: utils.OptionalMutex{
			UseMutex: useMutex,
		},
		allocationCallbacks: callbacks,
	}
}

func (m *SynchronizedMemory) VulkanDeviceMemory() core1_0.DeviceMemory {
	return m.memory
}

func (m *SynchronizedMemory) Size() int {
	return m.size
}

func (m *SynchronizedMemory) BindVulkanBuffer(offset int, buffer core1_0.Buffer) (common.VkResult, error) {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.freed {
		return core1_0.VKErrorUnknown, errors.New("attempted to bind a buffer to freed memory")
	}

	return buffer.BindBufferMemory(m.memory, offset)
}

func (m *SynchronizedMemory) BindVulkanImage(offset int, image core1_0.Image) (common.VkResult, error) {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.freed {
		return core1_0.VKErrorUnknown, errors.New("attempted to bind an image to freed memory")
	}

	return image.BindImageMemory(m.memory, offset)
}

func (m *SynchronizedMemory) References() int {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	return m.mapReferences
}

// Map maps the whole block on the first reference and hands out the same pointer to every
// later reference
func (m *SynchronizedMemory) Map() (unsafe.Pointer, common.VkResult, error) {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.freed {
		return nil, core1_0.VKErrorUnknown, errors.New("attempted to map freed memory")
	}

	if m.mapReferences > 0 {
		if m.mapData == nil {
			return nil, core1_0.VKErrorUnknown, errors.New("the block is showing existing memory mapping references, but no mapped memory")
		}

		m.mapReferences++
		return m.mapData, core1_0.VKSuccess, nil
	}

	mappedData, result, err := m.memory.Map(0, m.size, 0)
	if err != nil {
		return nil, result, err
	}

	m.mapData = mappedData
	m.mapReferences = 1
	return mappedData, result, nil
}

func (m *SynchronizedMemory) Unmap() error {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.mapReferences == 0 {
		return errors.New("attempted to unmap memory that is not mapped")
	}

	m.mapReferences--
	if m.mapReferences == 0 {
		m.memory.Unmap()
		m.mapData = nil
	}

	return nil
}

// FreeMemory releases the native block. Outstanding mappings are dropped first.
func (m *SynchronizedMemory) FreeMemory() error {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.freed {
		return errors.New("attempted to free memory that has already been freed")
	}

	if m.mapReferences > 0 {
		m.memory.Unmap()
		m.mapReferences = 0
		m.mapData = nil
	}

	m.memory.Free(m.allocationCallbacks)
	m.freed = true
	return nil
}
