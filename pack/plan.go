package pack

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/internal/vulkan"
	"github.com/vkngwrapper/forge/memutils"
)

// Placement is one resource's position inside a packed block
type Placement struct {
	Resource    Resource
	Requirement Requirement
	Offset      int
}

// Plan is the layout of a batch of resources inside a single device memory block. Placements are
// kept in input order and never overlap.
type Plan struct {
	Placements      []Placement
	Size            int
	MemoryTypeIndex int
	// MemoryTypeBits is the AND of the memory type bits of every placement
	MemoryTypeBits uint32
	// PropertyFlags are the flags of the chosen memory type, RequiredFlags the ones that were asked for
	PropertyFlags core1_0.MemoryPropertyFlags
	RequiredFlags core1_0.MemoryPropertyFlags
}

var _ memutils.Validatable = &Plan{}

func (p *Plan) Validate() error {
	if len(p.Placements) == 0 {
		return errors.New("plan has no placements")
	}

	if p.MemoryTypeIndex < 0 || p.MemoryTypeBits&(1<<p.MemoryTypeIndex) == 0 {
		return errors.Newf("memory type %d is not present in memory type bits %b", p.MemoryTypeIndex, p.MemoryTypeBits)
	}

	if p.PropertyFlags&p.RequiredFlags != p.RequiredFlags {
		return errors.Newf("memory type flags %s do not contain required flags %s", p.PropertyFlags, p.RequiredFlags)
	}

	end := 0
	for i, placement := range p.Placements {
		if placement.Offset < end {
			return errors.Newf("placement %d at offset %d overlaps the previous placement, which ends at %d", i, placement.Offset, end)
		}

		if !memutils.IsAligned(placement.Offset, uint(placement.Requirement.Alignment)) {
			return errors.Newf("placement %d at offset %d is not aligned to %d", i, placement.Offset, placement.Requirement.Alignment)
		}

		if p.MemoryTypeBits&placement.Requirement.MemoryTypeBits != p.MemoryTypeBits {
			return errors.Newf("placement %d memory type bits %b do not cover the plan's memory type bits %b", i, placement.Requirement.MemoryTypeBits, p.MemoryTypeBits)
		}

		end = placement.Offset + placement.Requirement.Size
	}

	if end > p.Size {
		return errors.Newf("placements end at %d, past the plan size of %d", end, p.Size)
	}

	return nil
}

// OffsetOf returns the offset of a resource in the plan, or -1 if it is not present
func (p *Plan) OffsetOf(resource Resource) int {
	for _, placement := range p.Placements {
		if placement.Resource == resource {
			return placement.Offset
		}
	}

	return -1
}

// AddDetailedStatistics adds one block of this plan's size and one allocation per placement. The gaps
// between placements are added as unused ranges.
func (p *Plan) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += p.Size

	end := 0
	for _, placement := range p.Placements {
		stats.AddUnusedRange(placement.Offset - end)
		stats.AddAllocation(placement.Requirement.Size)
		end = placement.Offset + placement.Requirement.Size
	}
	stats.AddUnusedRange(p.Size - end)
}

// PlanAllocation lays the requirements out back to back in input order, padding each offset up to
// that requirement's alignment, and picks the first memory type that every requirement accepts and that
// carries all of the required property flags.
//
// The returned placements have a nil Resource.
func PlanAllocation(requirements []Requirement, memoryTypes []core1_0.MemoryType, required core1_0.MemoryPropertyFlags) (Plan, error) {
	if len(requirements) == 0 {
		return Plan{}, errors.Wrap(ErrInvalidRequirement, "attempted to plan an allocation with no resources")
	}

	plan := Plan{
		Placements:     make([]Placement, 0, len(requirements)),
		MemoryTypeBits: ^uint32(0),
		RequiredFlags:  required,
	}

	currentSize := 0
	for i, requirement := range requirements {
		err := requirement.Validate()
		if err != nil {
			return Plan{}, errors.Wrapf(err, "resource %d", i)
		}

		memutils.DebugCheckPow2(requirement.Alignment, "alignment")
		offset := memutils.AlignUp(currentSize, uint(requirement.Alignment))
		plan.Placements = append(plan.Placements, Placement{
			Requirement: requirement,
			Offset:      offset,
		})

		currentSize = offset + requirement.Size
		plan.MemoryTypeBits &= requirement.MemoryTypeBits
	}
	plan.Size = currentSize

	memoryTypeIndex, _, err := vulkan.FindMemoryTypeIndex(memoryTypes, plan.MemoryTypeBits, required)
	if err != nil {
		return Plan{}, errors.Mark(
			errors.Wrapf(err, "no memory type in bits %b has flags %s", plan.MemoryTypeBits, required),
			ErrNoCompatibleMemoryType,
		)
	}

	plan.MemoryTypeIndex = memoryTypeIndex
	plan.PropertyFlags = memoryTypes[memoryTypeIndex].PropertyFlags

	return plan, nil
}

// planSingle is PlanAllocation for exactly one requirement, which always sits at offset 0
func planSingle(requirement Requirement, memoryTypes []core1_0.MemoryType, required core1_0.MemoryPropertyFlags) (Plan, error) {
	err := requirement.Validate()
	if err != nil {
		return Plan{}, err
	}

	memoryTypeIndex, _, err := vulkan.FindMemoryTypeIndex(memoryTypes, requirement.MemoryTypeBits, required)
	if err != nil {
		return Plan{}, errors.Mark(
			errors.Wrapf(err, "no memory type in bits %b has flags %s", requirement.MemoryTypeBits, required),
			ErrNoCompatibleMemoryType,
		)
	}

	return Plan{
		Placements: []Placement{
			{Requirement: requirement, Offset: 0},
		},
		Size:            requirement.Size,
		MemoryTypeIndex: memoryTypeIndex,
		MemoryTypeBits:  requirement.MemoryTypeBits,
		PropertyFlags:   memoryTypes[memoryTypeIndex].PropertyFlags,
		RequiredFlags:   required,
	}, nil
}
