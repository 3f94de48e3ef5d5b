package vulkan

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/extensions/v2/khr_dedicated_allocation"
	"github.com/vkngwrapper/extensions/v2/khr_get_memory_requirements2"
	khr_get_memory_requirements2_shim "github.com/vkngwrapper/extensions/v2/khr_get_memory_requirements2/shim"
)

// ExtensionData records which optional memory-requirement paths are usable on a device
type ExtensionData struct {
	DedicatedAllocations  bool
	GetMemoryRequirements khr_get_memory_requirements2_shim.Shim
}

func NewExtensionData(device core1_0.Device) *ExtensionData {
	data := &ExtensionData{}

	device11 := core1_1.PromoteDevice(device)
	if device11 != nil {
		// Core 1.1 carries both khr_get_memory_requirements2 and khr_dedicated_allocation
		data.DedicatedAllocations = true
		data.GetMemoryRequirements = device11
	}

	if data.GetMemoryRequirements == nil && device.IsDeviceExtensionActive(khr_get_memory_requirements2.ExtensionName) {
		extension := khr_get_memory_requirements2.CreateExtensionFromDevice(device)
		data.GetMemoryRequirements = khr_get_memory_requirements2_shim.NewShim(extension, device)
	}

	// Dedicated requirements are only reported through MemoryRequirements2
	if data.GetMemoryRequirements != nil && !data.DedicatedAllocations &&
		device.IsDeviceExtensionActive(khr_dedicated_allocation.ExtensionName) {
		data.DedicatedAllocations = true
	}

	return data
}

// UseMemoryRequirements2 reports whether dedicated-allocation hints can be queried
func (d *ExtensionData) UseMemoryRequirements2() bool {
	return d.DedicatedAllocations && d.GetMemoryRequirements != nil
}
