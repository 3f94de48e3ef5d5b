package pack

import (
	"github.com/dolthub/swiss"
	"github.com/google/uuid"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/forge/internal/utils"
	"github.com/vkngwrapper/forge/internal/vulkan"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var allocatorCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	allocatorCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return allocatorCreateFlagsMapping.FlagsToString(f)
}

const (
	// AllocatorCreateInternallySynchronized guards the allocator's registry of live allocations and
	// every allocation's memory mapping with mutexes. Without it the consumer must guarantee the
	// allocator and its allocations are used from one goroutine at a time.
	AllocatorCreateInternallySynchronized CreateFlags = 1 << iota
)

func init() {
	AllocatorCreateInternallySynchronized.Register("AllocatorCreateInternallySynchronized")
}

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags

	// VulkanCallbacks is an optional set of callbacks that will be passed to Vulkan when allocating
	// and freeing device memory
	VulkanCallbacks *driver.AllocationCallbacks

	// MemoryCallbackOptions is an optional set of callbacks that will be executed when device memory
	// is allocated or freed by this allocator
	MemoryCallbackOptions *MemoryCallbackOptions

	// HeapSizeLimits can be left empty. If it is provided, though, it must be a slice
	// with a number of entries corresponding to the number of heaps in the PhysicalDevice
	// used to create this Allocator. Each entry must be either the maximum number of bytes
	// that should be allocated from the corresponding device memory heap, or 0 or -1 indicating
	// no limit.
	//
	// Allocations that would push a heap past its limit fail with core1_0.VKErrorOutOfDeviceMemory
	HeapSizeLimits []int
}

// New creates a new Allocator
//
// physicalDevice - The PhysicalDevice that owns the provided Device
//
// device - The Device that memory will be allocated into
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, physicalDevice core1_0.PhysicalDevice, device core1_0.Device, options CreateOptions) (*Allocator, error) {
	useMutex := options.Flags&AllocatorCreateInternallySynchronized != 0

	allocator := &Allocator{
		logger:              logger,
		device:              device,
		extensionData:       vulkan.NewExtensionData(device),
		allocationCallbacks: options.VulkanCallbacks,

		createFlags: options.Flags,
		allocationsMutex: utils.OptionalRWMutex{
			UseMutex: useMutex,
		},
		allocations: swiss.NewMap[uuid.UUID, *Allocation](16),
	}

	var err error
	allocator.deviceMemory, err = vulkan.NewDeviceMemoryProperties(
		useMutex,
		options.VulkanCallbacks,
		&memoryCallbacks{
			Callbacks: options.MemoryCallbackOptions,
			Allocator: allocator,
		},
		device,
		physicalDevice,
		options.HeapSizeLimits,
	)
	if err != nil {
		return nil, err
	}

	allocator.globalMemoryTypeBits = allocator.deviceMemory.CalculateGlobalMemoryTypeBits()

	logger.Debug("Allocator::New",
		slog.String("Flags", options.Flags.String()),
		slog.Int("MemoryTypeCount", allocator.deviceMemory.MemoryTypeCount()),
		slog.Int("MemoryHeapCount", allocator.deviceMemory.MemoryHeapCount()),
		slog.Bool("DedicatedAllocations", allocator.extensionData.DedicatedAllocations),
	)

	return allocator, nil
}
