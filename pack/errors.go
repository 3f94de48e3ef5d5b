package pack

import "github.com/cockroachdb/errors"

// ErrNoCompatibleMemoryType is returned when no memory type satisfies both the combined memory type bits
// of a batch of resources and the requested property flags
var ErrNoCompatibleMemoryType = errors.New("no compatible memory type")

// ErrInvalidRequirement is returned when a resource reports memory requirements that cannot be packed
var ErrInvalidRequirement = errors.New("invalid memory requirement")

// ErrAllocationFreed is returned when an allocation is used after Free
var ErrAllocationFreed = errors.New("allocation has already been freed")
