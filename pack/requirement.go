package pack

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/memutils"
)

// Requirement is the memory a single resource needs. PrefersDedicated and RequiresDedicated are only
// reported by devices with khr_dedicated_allocation or core 1.1 and are advisory: packed allocations
// never honor them.
type Requirement struct {
	Size           int
	Alignment      int
	MemoryTypeBits uint32

	PrefersDedicated  bool
	RequiresDedicated bool
}

func newRequirement(memReqs *core1_0.MemoryRequirements, prefersDedicated, requiresDedicated bool) Requirement {
	return Requirement{
		Size:              memReqs.Size,
		Alignment:         memReqs.Alignment,
		MemoryTypeBits:    memReqs.MemoryTypeBits,
		PrefersDedicated:  prefersDedicated,
		RequiresDedicated: requiresDedicated,
	}
}

var _ memutils.Validatable = Requirement{}

func (r Requirement) Validate() error {
	if r.Size <= 0 {
		return errors.Wrapf(ErrInvalidRequirement, "size is %d", r.Size)
	}

	if r.Alignment <= 0 {
		return errors.Wrapf(ErrInvalidRequirement, "alignment is %d", r.Alignment)
	}

	err := memutils.CheckPow2(r.Alignment, "alignment")
	if err != nil {
		return errors.Mark(err, ErrInvalidRequirement)
	}

	if r.MemoryTypeBits == 0 {
		return errors.Wrap(ErrInvalidRequirement, "resource is not compatible with any memory type")
	}

	return nil
}
