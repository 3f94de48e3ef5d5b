package transfer

import "github.com/vkngwrapper/core/v2/core1_0"

// Options configures the buffers and images an Engine creates
type Options struct {
	// StagingProperties are the memory property flags staging memory must carry. Zero means
	// HOST_VISIBLE | HOST_COHERENT.
	StagingProperties core1_0.MemoryPropertyFlags
	// SharingMode is applied to every staging buffer and destination resource the engine creates
	SharingMode core1_0.SharingMode
	// QueueFamilyIndices is only consulted when SharingMode is concurrent
	QueueFamilyIndices []int
}

func (o Options) withDefaults() Options {
	if o.StagingProperties == 0 {
		o.StagingProperties = core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent
	}

	return o
}

func (o Options) queueFamilyIndices() []int {
	if o.SharingMode != core1_0.SharingModeConcurrent {
		return nil
	}

	return o.QueueFamilyIndices
}

// imageQueueFamilyIndices is queueFamilyIndices in the form ImageCreateInfo takes
func (o Options) imageQueueFamilyIndices() []uint32 {
	indices := o.queueFamilyIndices()
	if indices == nil {
		return nil
	}

	converted := make([]uint32, 0, len(indices))
	for _, index := range indices {
		converted = append(converted, uint32(index))
	}
	return converted
}
