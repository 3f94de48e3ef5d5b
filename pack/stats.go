package pack

import (
	"sort"

	"github.com/google/uuid"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/forge/memutils"
)

// CalculateStatistics totals the live blocks and bound resources across every heap
func (a *Allocator) CalculateStatistics(stats *memutils.Statistics) {
	stats.Clear()

	var heapStats memutils.Statistics
	for heapIndex := 0; heapIndex < a.deviceMemory.MemoryHeapCount(); heapIndex++ {
		a.deviceMemory.HeapStatistics(heapIndex, &heapStats)
		stats.AddStatistics(&heapStats)
	}
}

// HeapStatistics reports the live blocks and bound resources of a single heap
func (a *Allocator) HeapStatistics(heapIndex int, stats *memutils.Statistics) {
	a.deviceMemory.HeapStatistics(heapIndex, stats)
}

// CalculateDetailedStatistics walks every live allocation, including the padding between placements
func (a *Allocator) CalculateDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.Clear()

	for _, alloc := range a.liveAllocations() {
		alloc.plan.AddDetailedStatistics(stats)
	}
}

func (a *Allocator) liveAllocations() []*Allocation {
	a.allocationsMutex.RLock()
	allocations := make([]*Allocation, 0, a.allocations.Count())
	a.allocations.Iter(func(_ uuid.UUID, alloc *Allocation) bool {
		allocations = append(allocations, alloc)
		return false
	})
	a.allocationsMutex.RUnlock()

	sort.Slice(allocations, func(i, j int) bool {
		return allocations[i].sequence < allocations[j].sequence
	})
	return allocations
}

func printStatistics(json *jwriter.ObjectState, stats *memutils.Statistics) {
	json.Name("BlockCount").Int(stats.BlockCount)
	json.Name("BlockBytes").Int(stats.BlockBytes)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("PaddingBytes").Int(stats.PaddingBytes())
}

// BuildStatsString renders the allocator's state as a JSON document. When detailed is true, every live
// allocation is listed with its placements and the padding between them.
func (a *Allocator) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()
	a.buildStats(&writer, detailed)
	return string(writer.Bytes())
}

func (a *Allocator) buildStats(writer *jwriter.Writer, detailed bool) {
	root := writer.Object()
	defer root.End()

	general := root.Name("General").Object()
	general.Name("MemoryHeapCount").Int(a.deviceMemory.MemoryHeapCount())
	general.Name("MemoryTypeCount").Int(a.deviceMemory.MemoryTypeCount())
	general.Name("Flags").String(a.createFlags.String())
	general.Name("DedicatedAllocations").Bool(a.extensionData.DedicatedAllocations)
	general.End()

	var total memutils.Statistics
	a.CalculateStatistics(&total)
	totalObj := root.Name("Total").Object()
	printStatistics(&totalObj, &total)
	totalObj.End()

	heaps := root.Name("MemoryHeaps").Array()
	for heapIndex := 0; heapIndex < a.deviceMemory.MemoryHeapCount(); heapIndex++ {
		heap := a.deviceMemory.MemoryHeapProperties(heapIndex)

		heapObj := heaps.Object()
		heapObj.Name("Index").Int(heapIndex)
		heapObj.Name("Size").Int(heap.Size)
		heapObj.Name("Flags").String(heap.Flags.String())

		var heapStats memutils.Statistics
		a.deviceMemory.HeapStatistics(heapIndex, &heapStats)
		statsObj := heapObj.Name("Stats").Object()
		printStatistics(&statsObj, &heapStats)
		statsObj.End()

		types := heapObj.Name("MemoryTypes").Array()
		for typeIndex := 0; typeIndex < a.deviceMemory.MemoryTypeCount(); typeIndex++ {
			memoryType := a.deviceMemory.MemoryTypeProperties(typeIndex)
			if memoryType.HeapIndex != heapIndex {
				continue
			}

			typeObj := types.Object()
			typeObj.Name("Index").Int(typeIndex)
			typeObj.Name("Flags").String(memoryType.PropertyFlags.String())
			typeObj.End()
		}
		types.End()

		heapObj.End()
	}
	heaps.End()

	if !detailed {
		return
	}

	allocations := root.Name("Allocations").Array()
	defer allocations.End()

	for _, alloc := range a.liveAllocations() {
		obj := allocations.Object()
		alloc.printParameters(&obj)
		alloc.printPlacements(&obj)
		obj.End()
	}
}
