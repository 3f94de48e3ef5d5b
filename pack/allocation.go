package pack

import (
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/google/uuid"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/internal/vulkan"
	"github.com/vkngwrapper/forge/memutils"
	"golang.org/x/exp/slog"
)

// Allocation is a single device memory block and the resources that were bound into it. Freeing the
// allocation invalidates every resource bound into it; resources are never rebound elsewhere.
type Allocation struct {
	id       uuid.UUID
	sequence uint64
	name     string
	freed    atomic.Bool

	plan    Plan
	offsets *swiss.Map[Resource, int]
	memory  *vulkan.SynchronizedMemory

	parentAllocator *Allocator
}

func newAllocation(allocator *Allocator, memory *vulkan.SynchronizedMemory, plan Plan) *Allocation {
	offsets := swiss.NewMap[Resource, int](uint32(len(plan.Placements)))
	for _, placement := range plan.Placements {
		offsets.Put(placement.Resource, placement.Offset)
	}

	return &Allocation{
		id:              uuid.New(),
		plan:            plan,
		offsets:         offsets,
		memory:          memory,
		parentAllocator: allocator,
	}
}

func (a *Allocation) ID() uuid.UUID {
	return a.id
}

// SetName attaches a name to the allocation, which is included in the allocator's stats output
func (a *Allocation) SetName(name string) {
	a.name = name
}

func (a *Allocation) Name() string {
	return a.name
}

// Memory returns the native memory block. It is invalid after Free.
func (a *Allocation) Memory() core1_0.DeviceMemory {
	return a.memory.VulkanDeviceMemory()
}

func (a *Allocation) Plan() Plan {
	return a.plan
}

func (a *Allocation) Size() int {
	return a.plan.Size
}

func (a *Allocation) MemoryTypeIndex() int {
	return a.plan.MemoryTypeIndex
}

func (a *Allocation) Resources() []Resource {
	resources := make([]Resource, 0, len(a.plan.Placements))
	for _, placement := range a.plan.Placements {
		resources = append(resources, placement.Resource)
	}
	return resources
}

// OffsetOf returns the offset a resource was bound at, and whether it belongs to this allocation
func (a *Allocation) OffsetOf(resource Resource) (int, bool) {
	return a.offsets.Get(resource)
}

func (a *Allocation) IsFreed() bool {
	return a.freed.Load()
}

// Map maps the whole block into host memory. Map calls are reference counted and must be matched by
// calls to Unmap. The memory type must be host visible.
func (a *Allocation) Map() (unsafe.Pointer, common.VkResult, error) {
	a.parentAllocator.logger.Debug("Allocation::Map", slog.String("ID", a.id.String()))

	if a.freed.Load() {
		return nil, core1_0.VKErrorUnknown, errors.Wrapf(ErrAllocationFreed, "attempted to map allocation %s", a.id)
	}

	if a.plan.PropertyFlags&core1_0.MemoryPropertyHostVisible == 0 {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.Newf("attempted to map allocation %s, but memory type %d is not host visible", a.id, a.plan.MemoryTypeIndex)
	}

	return a.memory.Map()
}

// MapResource maps the block and returns a pointer to the start of one of its resources
func (a *Allocation) MapResource(resource Resource) (unsafe.Pointer, common.VkResult, error) {
	offset, ok := a.OffsetOf(resource)
	if !ok {
		return nil, core1_0.VKErrorUnknown, errors.Newf("resource is not bound to allocation %s", a.id)
	}

	ptr, res, err := a.Map()
	if err != nil {
		return nil, res, err
	}

	return unsafe.Add(ptr, offset), res, nil
}

func (a *Allocation) Unmap() error {
	a.parentAllocator.logger.Debug("Allocation::Unmap", slog.String("ID", a.id.String()))

	if a.freed.Load() {
		return errors.Wrapf(ErrAllocationFreed, "attempted to unmap allocation %s", a.id)
	}

	return a.memory.Unmap()
}

// Flush makes host writes to [offset, offset+size) of the block visible to the device. A size of
// -1 flushes through the end of the block. Host-coherent memory needs no flush and is left alone.
func (a *Allocation) Flush(offset, size int) (common.VkResult, error) {
	if a.freed.Load() {
		return core1_0.VKErrorUnknown, errors.Wrapf(ErrAllocationFreed, "attempted to flush allocation %s", a.id)
	}

	memRange, needed := a.flushRange(offset, size)
	if !needed {
		return core1_0.VKSuccess, nil
	}

	a.parentAllocator.logger.Debug("Allocation::Flush",
		slog.String("ID", a.id.String()),
		slog.Int("Offset", memRange.Offset),
		slog.Int("Size", memRange.Size),
	)

	return a.parentAllocator.device.FlushMappedMemoryRanges([]core1_0.MappedMemoryRange{memRange})
}

func (a *Allocation) flushRange(offset, size int) (core1_0.MappedMemoryRange, bool) {
	deviceMemory := a.parentAllocator.deviceMemory
	if size == 0 || !deviceMemory.IsMemoryTypeHostNonCoherent(a.plan.MemoryTypeIndex) {
		return core1_0.MappedMemoryRange{}, false
	}

	allocationSize := a.plan.Size
	if size < 0 || offset+size > allocationSize {
		size = allocationSize - offset
	}

	nonCoherentAtomSize := uint(deviceMemory.DeviceProperties().Limits.NonCoherentAtomSize)
	alignedOffset := memutils.AlignDown(offset, nonCoherentAtomSize)
	alignedSize := memutils.AlignUp(size+(offset-alignedOffset), nonCoherentAtomSize)
	if alignedOffset+alignedSize > allocationSize {
		alignedSize = allocationSize - alignedOffset
	}

	return core1_0.MappedMemoryRange{
		Memory: a.memory.VulkanDeviceMemory(),
		Offset: alignedOffset,
		Size:   alignedSize,
	}, true
}

// Free releases the memory block. Any mapping is dropped. Calling Free a second time returns
// ErrAllocationFreed.
func (a *Allocation) Free() error {
	a.parentAllocator.logger.Debug("Allocation::Free", slog.String("ID", a.id.String()))

	if !a.freed.CompareAndSwap(false, true) {
		return errors.Wrapf(ErrAllocationFreed, "allocation %s", a.id)
	}

	return a.parentAllocator.freeAllocation(a)
}

func (a *Allocation) printParameters(json *jwriter.ObjectState) {
	json.Name("ID").String(a.id.String())
	if a.name != "" {
		json.Name("Name").String(a.name)
	}
	json.Name("MemoryTypeIndex").Int(a.plan.MemoryTypeIndex)
	json.Name("Size").Int(a.plan.Size)
	json.Name("MapReferences").Int(a.memory.References())
}

func (a *Allocation) printPlacements(json *jwriter.ObjectState) {
	placements := json.Name("Placements").Array()
	defer placements.End()

	end := 0
	for _, placement := range a.plan.Placements {
		if placement.Offset > end {
			obj := placements.Object()
			obj.Name("Offset").Int(end)
			obj.Name("Type").String("Padding")
			obj.Name("Size").Int(placement.Offset - end)
			obj.End()
		}

		obj := placements.Object()
		obj.Name("Offset").Int(placement.Offset)
		obj.Name("Type").String(placement.Resource.Kind().String())
		obj.Name("Size").Int(placement.Requirement.Size)
		obj.Name("Alignment").Int(placement.Requirement.Alignment)
		obj.End()

		end = placement.Offset + placement.Requirement.Size
	}
}
