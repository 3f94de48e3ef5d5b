package pack

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/khr_dedicated_allocation"
	"github.com/vkngwrapper/forge/internal/vulkan"
)

type ResourceKind byte

const (
	ResourceKindBuffer ResourceKind = iota
	ResourceKindImage
)

var resourceKindMapping = make(map[ResourceKind]string)

func (k ResourceKind) String() string {
	return resourceKindMapping[k]
}

func init() {
	resourceKindMapping[ResourceKindBuffer] = "ResourceKindBuffer"
	resourceKindMapping[ResourceKindImage] = "ResourceKindImage"
}

// Resource is a buffer or image that can be placed into device memory and filled from a staging buffer.
// BufferResource and ImageResource are the only implementations.
type Resource interface {
	Kind() ResourceKind
	// MemoryRequirements is the plain core 1.0 requirement query
	MemoryRequirements() *core1_0.MemoryRequirements
	// RecordCopyFrom records the commands that fill this resource with size bytes read from the start
	// of source
	RecordCopyFrom(commandBuffer core1_0.CommandBuffer, source core1_0.Buffer, size int) error
	Destroy(callbacks *driver.AllocationCallbacks)

	requirement(extensions *vulkan.ExtensionData) (Requirement, error)
	bind(memory *vulkan.SynchronizedMemory, offset int) (common.VkResult, error)
}

type BufferResource struct {
	Buffer core1_0.Buffer
}

var _ Resource = &BufferResource{}

func (r *BufferResource) Kind() ResourceKind { return ResourceKindBuffer }

func (r *BufferResource) MemoryRequirements() *core1_0.MemoryRequirements {
	return r.Buffer.MemoryRequirements()
}

func (r *BufferResource) RecordCopyFrom(commandBuffer core1_0.CommandBuffer, source core1_0.Buffer, size int) error {
	return commandBuffer.CmdCopyBuffer(source, r.Buffer, []core1_0.BufferCopy{
		{
			SrcOffset: 0,
			DstOffset: 0,
			Size:      size,
		},
	})
}

func (r *BufferResource) Destroy(callbacks *driver.AllocationCallbacks) {
	r.Buffer.Destroy(callbacks)
}

func (r *BufferResource) requirement(extensions *vulkan.ExtensionData) (Requirement, error) {
	if r.Buffer == nil {
		return Requirement{}, errors.Wrap(ErrInvalidRequirement, "attempted to probe a nil buffer")
	}

	if extensions.UseMemoryRequirements2() {
		dedicatedReqs := khr_dedicated_allocation.MemoryDedicatedRequirements{}
		memReqs := core1_1.MemoryRequirements2{
			NextOutData: common.NextOutData{
				Next: &dedicatedReqs,
			},
		}

		err := extensions.GetMemoryRequirements.BufferMemoryRequirements2(
			core1_1.BufferMemoryRequirementsInfo2{
				Buffer: r.Buffer,
			},
			&memReqs)
		if err != nil {
			return Requirement{}, err
		}

		return newRequirement(&memReqs.MemoryRequirements, dedicatedReqs.PrefersDedicatedAllocation, dedicatedReqs.RequiresDedicatedAllocation), nil
	}

	return newRequirement(r.Buffer.MemoryRequirements(), false, false), nil
}

func (r *BufferResource) bind(memory *vulkan.SynchronizedMemory, offset int) (common.VkResult, error) {
	return memory.BindVulkanBuffer(offset, r.Buffer)
}

// ImageResource is a single-mip, single-layer 2D color image. Width and Height are used when recording
// copies into it.
type ImageResource struct {
	Image  core1_0.Image
	Width  int
	Height int
}

var _ Resource = &ImageResource{}

func (r *ImageResource) Kind() ResourceKind { return ResourceKindImage }

func (r *ImageResource) MemoryRequirements() *core1_0.MemoryRequirements {
	return r.Image.MemoryRequirements()
}

func colorSubresource() core1_0.ImageSubresourceRange {
	return core1_0.ImageSubresourceRange{
		AspectMask:     core1_0.ImageAspectColor,
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

// RecordCopyFrom transitions the image to TRANSFER_DST_OPTIMAL, copies the full extent out of source, and
// leaves the image in SHADER_READ_ONLY_OPTIMAL for sampling from fragment shaders
func (r *ImageResource) RecordCopyFrom(commandBuffer core1_0.CommandBuffer, source core1_0.Buffer, size int) error {
	err := commandBuffer.CmdPipelineBarrier(core1_0.PipelineStageTopOfPipe, core1_0.PipelineStageTransfer, 0, nil, nil, []core1_0.ImageMemoryBarrier{
		{
			SrcAccessMask:       0,
			DstAccessMask:       core1_0.AccessTransferWrite,
			OldLayout:           core1_0.ImageLayoutUndefined,
			NewLayout:           core1_0.ImageLayoutTransferDstOptimal,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Image:               r.Image,
			SubresourceRange:    colorSubresource(),
		},
	})
	if err != nil {
		return err
	}

	err = commandBuffer.CmdCopyBufferToImage(source, r.Image, core1_0.ImageLayoutTransferDstOptimal, []core1_0.BufferImageCopy{
		{
			BufferOffset:      0,
			BufferRowLength:   0,
			BufferImageHeight: 0,

			ImageSubresource: core1_0.ImageSubresourceLayers{
				AspectMask:     core1_0.ImageAspectColor,
				MipLevel:       0,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			ImageOffset: core1_0.Offset3D{X: 0, Y: 0, Z: 0},
			ImageExtent: core1_0.Extent3D{Width: r.Width, Height: r.Height, Depth: 1},
		},
	})
	if err != nil {
		return err
	}

	return commandBuffer.CmdPipelineBarrier(core1_0.PipelineStageTransfer, core1_0.PipelineStageFragmentShader, 0, nil, nil, []core1_0.ImageMemoryBarrier{
		{
			SrcAccessMask:       core1_0.AccessTransferWrite,
			DstAccessMask:       core1_0.AccessShaderRead,
			OldLayout:           core1_0.ImageLayoutTransferDstOptimal,
			NewLayout:           core1_0.ImageLayoutShaderReadOnlyOptimal,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Image:               r.Image,
			SubresourceRange:    colorSubresource(),
		},
	})
}

func (r *ImageResource) Destroy(callbacks *driver.AllocationCallbacks) {
	r.Image.Destroy(callbacks)
}

func (r *ImageResource) requirement(extensions *vulkan.ExtensionData) (Requirement, error) {
	if r.Image == nil {
		return Requirement{}, errors.Wrap(ErrInvalidRequirement, "attempted to probe a nil image")
	}

	if extensions.UseMemoryRequirements2() {
		dedicatedReqs := khr_dedicated_allocation.MemoryDedicatedRequirements{}
		memReqs := core1_1.MemoryRequirements2{
			NextOutData: common.NextOutData{
				Next: &dedicatedReqs,
			},
		}

		err := extensions.GetMemoryRequirements.ImageMemoryRequirements2(
			core1_1.ImageMemoryRequirementsInfo2{
				Image: r.Image,
			},
			&memReqs)
		if err != nil {
			return Requirement{}, err
		}

		return newRequirement(&memReqs.MemoryRequirements, dedicatedReqs.PrefersDedicatedAllocation, dedicatedReqs.RequiresDedicatedAllocation), nil
	}

	return newRequirement(r.Image.MemoryRequirements(), false, false), nil
}

func (r *ImageResource) bind(memory *vulkan.SynchronizedMemory, offset int) (common.VkResult, error) {
	return memory.BindVulkanImage(offset, r.Image)
}
