package vulkan

import "github.com/vkngwrapper/core/v2/core1_0"

// MemoryCallbacks is notified every time a native memory block is allocated or freed
type MemoryCallbacks interface {
	Allocate(memoryType int, memory core1_0.DeviceMemory, size int)
	Free(memoryType int, memory core1_0.DeviceMemory, size int)
}
