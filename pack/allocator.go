package pack

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/google/uuid"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/forge/internal/utils"
	"github.com/vkngwrapper/forge/internal/vulkan"
	"github.com/vkngwrapper/forge/memutils"
	"golang.org/x/exp/slog"
)

// Allocator packs batches of buffers and images into single device memory blocks. Each call to
// AllocateMemoryForResources or AllocateMemoryForResource produces exactly one native allocation.
type Allocator struct {
	logger              *slog.Logger
	createFlags         CreateFlags
	allocationCallbacks *driver.AllocationCallbacks

	device core1_0.Device

	extensionData        *vulkan.ExtensionData
	deviceMemory         *vulkan.DeviceMemoryProperties
	globalMemoryTypeBits uint32

	allocationsMutex utils.OptionalRWMutex
	allocations      *swiss.Map[uuid.UUID, *Allocation]
	nextSequence     uint64
	destroyed        bool
}

// Device returns the device memory is allocated from
func (a *Allocator) Device() core1_0.Device {
	return a.device
}

// AllocationCallbacks returns the Vulkan allocation callbacks this allocator was created with
func (a *Allocator) AllocationCallbacks() *driver.AllocationCallbacks {
	return a.allocationCallbacks
}

// MemoryTypeProperties returns the properties of one of the device's memory types
func (a *Allocator) MemoryTypeProperties(memoryTypeIndex int) core1_0.MemoryType {
	return a.deviceMemory.MemoryTypeProperties(memoryTypeIndex)
}

// Probe reports the memory requirement of a single resource. When core 1.1 or khr_get_memory_requirements2
// with khr_dedicated_allocation is active, the dedicated allocation hints are filled in as well.
func (a *Allocator) Probe(resource Resource) (Requirement, error) {
	if resource == nil {
		return Requirement{}, errors.Wrap(ErrInvalidRequirement, "attempted to probe a nil resource")
	}

	requirement, err := resource.requirement(a.extensionData)
	if err != nil {
		return Requirement{}, err
	}

	err = requirement.Validate()
	if err != nil {
		return Requirement{}, errors.Wrapf(err, "%s", resource.Kind())
	}

	return requirement, nil
}

func (a *Allocator) probeAll(resources []Resource) ([]Requirement, error) {
	requirements := make([]Requirement, 0, len(resources))
	for i, resource := range resources {
		requirement, err := a.Probe(resource)
		if err != nil {
			return nil, errors.Wrapf(err, "resource %d", i)
		}

		if requirement.RequiresDedicated || requirement.PrefersDedicated {
			a.logger.Debug("Allocator::probeAll dedicated allocation requested",
				slog.Int("Resource", i),
				slog.String("Kind", resource.Kind().String()),
				slog.Bool("RequiresDedicated", requirement.RequiresDedicated),
				slog.Bool("PrefersDedicated", requirement.PrefersDedicated),
			)
		}

		requirements = append(requirements, requirement)
	}

	return requirements, nil
}

// FindMemoryTypeIndex returns the first memory type index whose bit is set in memoryTypeBits and whose
// property flags contain requiredFlags. core1_0.VKErrorFeatureNotPresent is returned if there is none.
func (a *Allocator) FindMemoryTypeIndex(memoryTypeBits uint32, requiredFlags core1_0.MemoryPropertyFlags) (int, common.VkResult, error) {
	a.logger.Debug("Allocator::FindMemoryTypeIndex")

	return a.deviceMemory.FindMemoryTypeIndex(memoryTypeBits&a.globalMemoryTypeBits, requiredFlags)
}

// AllocateMemoryForResources probes every resource, packs them in input order into a single block
// of the first memory type compatible with all of them that carries requiredFlags, and binds each
// resource at its offset.
//
// If allocation or any bind fails, the block is freed again and nothing is retained. The resources
// themselves are never destroyed by the allocator.
func (a *Allocator) AllocateMemoryForResources(resources []Resource, requiredFlags core1_0.MemoryPropertyFlags) (*Allocation, common.VkResult, error) {
	a.logger.Debug("Allocator::AllocateMemoryForResources",
		slog.Int("ResourceCount", len(resources)),
		slog.String("RequiredFlags", requiredFlags.String()),
	)

	if len(resources) == 0 {
		return nil, core1_0.VKErrorUnknown, errors.Wrap(ErrInvalidRequirement, "attempted to allocate memory for no resources")
	}

	requirements, err := a.probeAll(resources)
	if err != nil {
		return nil, core1_0.VKErrorUnknown, err
	}

	plan, err := PlanAllocation(requirements, a.deviceMemory.MemoryTypes(), requiredFlags)
	if err != nil {
		return nil, planResult(err), err
	}

	for i := range plan.Placements {
		plan.Placements[i].Resource = resources[i]
	}

	return a.allocatePlan(plan)
}

// AllocateMemoryForResource allocates a block for a single resource, bound at offset 0
func (a *Allocator) AllocateMemoryForResource(resource Resource, requiredFlags core1_0.MemoryPropertyFlags) (*Allocation, common.VkResult, error) {
	a.logger.Debug("Allocator::AllocateMemoryForResource",
		slog.String("RequiredFlags", requiredFlags.String()),
	)

	requirements, err := a.probeAll([]Resource{resource})
	if err != nil {
		return nil, core1_0.VKErrorUnknown, err
	}

	plan, err := planSingle(requirements[0], a.deviceMemory.MemoryTypes(), requiredFlags)
	if err != nil {
		return nil, planResult(err), err
	}
	plan.Placements[0].Resource = resource

	return a.allocatePlan(plan)
}

func planResult(err error) common.VkResult {
	if errors.Is(err, ErrNoCompatibleMemoryType) {
		return core1_0.VKErrorFeatureNotPresent
	}
	return core1_0.VKErrorUnknown
}

func (a *Allocator) allocatePlan(plan Plan) (alloc *Allocation, res common.VkResult, err error) {
	memutils.DebugValidate(&plan)

	if a.isDestroyed() {
		return nil, core1_0.VKErrorUnknown, errors.New("attempted to allocate from a destroyed allocator")
	}

	memory, res, err := a.deviceMemory.AllocateVulkanMemory(core1_0.MemoryAllocateInfo{
		AllocationSize:  plan.Size,
		MemoryTypeIndex: plan.MemoryTypeIndex,
	})
	if err != nil {
		return nil, res, err
	}
	defer func() {
		if err != nil {
			freeErr := a.deviceMemory.FreeVulkanMemory(plan.MemoryTypeIndex, memory)
			if freeErr != nil {
				a.logger.Error("Allocator::allocatePlan failed to free memory after a failed bind", slog.Any("error", freeErr))
			}
		}
	}()

	for i, placement := range plan.Placements {
		res, err = placement.Resource.bind(memory, placement.Offset)
		if err != nil {
			return nil, res, errors.Wrapf(err, "failed to bind resource %d (%s) at offset %d", i, placement.Resource.Kind(), placement.Offset)
		}
	}

	alloc = newAllocation(a, memory, plan)

	heapIndex := a.deviceMemory.MemoryTypeIndexToHeapIndex(plan.MemoryTypeIndex)
	for _, placement := range plan.Placements {
		a.deviceMemory.AddAllocation(heapIndex, placement.Requirement.Size)
	}

	a.register(alloc)

	a.logger.Debug("Allocator::allocatePlan",
		slog.String("ID", alloc.ID().String()),
		slog.Int("Size", plan.Size),
		slog.Int("MemoryTypeIndex", plan.MemoryTypeIndex),
		slog.Int("Placements", len(plan.Placements)),
	)

	return alloc, res, nil
}

func (a *Allocator) register(alloc *Allocation) {
	a.allocationsMutex.Lock()
	defer a.allocationsMutex.Unlock()

	alloc.sequence = a.nextSequence
	a.nextSequence++
	a.allocations.Put(alloc.id, alloc)
}

func (a *Allocator) unregister(alloc *Allocation) bool {
	a.allocationsMutex.Lock()
	defer a.allocationsMutex.Unlock()

	return a.allocations.Delete(alloc.id)
}

func (a *Allocator) freeAllocation(alloc *Allocation) error {
	if !a.unregister(alloc) {
		return errors.Wrapf(ErrAllocationFreed, "allocation %s", alloc.id)
	}

	heapIndex := a.deviceMemory.MemoryTypeIndexToHeapIndex(alloc.plan.MemoryTypeIndex)
	for _, placement := range alloc.plan.Placements {
		a.deviceMemory.RemoveAllocation(heapIndex, placement.Requirement.Size)
	}

	return a.deviceMemory.FreeVulkanMemory(alloc.plan.MemoryTypeIndex, alloc.memory)
}

// Allocation looks up a live allocation by its ID
func (a *Allocator) Allocation(id uuid.UUID) (*Allocation, bool) {
	a.allocationsMutex.RLock()
	defer a.allocationsMutex.RUnlock()

	return a.allocations.Get(id)
}

// AllocationCount returns the number of live allocations
func (a *Allocator) AllocationCount() int {
	a.allocationsMutex.RLock()
	defer a.allocationsMutex.RUnlock()

	return a.allocations.Count()
}

func (a *Allocator) isDestroyed() bool {
	a.allocationsMutex.RLock()
	defer a.allocationsMutex.RUnlock()

	return a.destroyed
}

// Destroy marks the allocator as unusable. It fails if any allocation has not been freed.
func (a *Allocator) Destroy() error {
	a.logger.Debug("Allocator::Destroy")

	a.allocationsMutex.Lock()
	defer a.allocationsMutex.Unlock()

	if a.destroyed {
		return errors.New("allocator has already been destroyed")
	}

	count := a.allocations.Count()
	if count > 0 {
		return errors.Newf("allocator still has %d live allocations", count)
	}

	a.destroyed = true
	return nil
}
