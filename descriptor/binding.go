// Package descriptor exposes a homogeneous list of buffers or image views to shader stages through a
// single descriptor set, with one binding per resource.
package descriptor

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Binding owns the layout, pool and set created to expose a list of resources. Binding i of the layout
// refers to resource i of the list.
type Binding struct {
	Pool   core1_0.DescriptorPool
	Layout core1_0.DescriptorSetLayout
	Sets   []core1_0.DescriptorSet
	Writes []core1_0.WriteDescriptorSet
}

// Set returns the binding's only descriptor set
func (b *Binding) Set() core1_0.DescriptorSet {
	return b.Sets[0]
}

// Destroy destroys the pool, which frees the set, and then the layout
func (b *Binding) Destroy() {
	if b.Pool != nil {
		b.Pool.Destroy(nil)
		b.Pool = nil
	}
	if b.Layout != nil {
		b.Layout.Destroy(nil)
		b.Layout = nil
	}
	b.Sets = nil
}

// BindBuffers binds each buffer to its own binding, covering rangeSize bytes from the start of the buffer
func BindBuffers(device core1_0.Device, buffers []core1_0.Buffer, descriptorType core1_0.DescriptorType, stages core1_0.ShaderStageFlags, rangeSize int) (*Binding, common.VkResult, error) {
	return bind(device, buffers, descriptorType, stages, func(buffer core1_0.Buffer, write *core1_0.WriteDescriptorSet) {
		write.BufferInfo = []core1_0.DescriptorBufferInfo{
			{
				Buffer: buffer,
				Offset: 0,
				Range:  rangeSize,
			},
		}
	})
}

// BindImageViews binds each view to its own binding, all sharing one sampler. The views are expected to
// be in SHADER_READ_ONLY_OPTIMAL when the set is used.
func BindImageViews(device core1_0.Device, views []core1_0.ImageView, descriptorType core1_0.DescriptorType, stages core1_0.ShaderStageFlags, sampler core1_0.Sampler) (*Binding, common.VkResult, error) {
	return bind(device, views, descriptorType, stages, func(view core1_0.ImageView, write *core1_0.WriteDescriptorSet) {
		write.ImageInfo = []core1_0.DescriptorImageInfo{
			{
				Sampler:     sampler,
				ImageView:   view,
				ImageLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
			},
		}
	})
}

func bind[T any](
	device core1_0.Device,
	resources []T,
	descriptorType core1_0.DescriptorType,
	stages core1_0.ShaderStageFlags,
	fillWrite func(resource T, write *core1_0.WriteDescriptorSet),
) (*Binding, common.VkResult, error) {
	if len(resources) == 0 {
		return nil, core1_0.VKErrorUnknown, errors.New("attempted to bind an empty list of resources")
	}

	layoutBindings := make([]core1_0.DescriptorSetLayoutBinding, 0, len(resources))
	for index := range resources {
		layoutBindings = append(layoutBindings, core1_0.DescriptorSetLayoutBinding{
			Binding:         index,
			DescriptorType:  descriptorType,
			DescriptorCount: 1,
			StageFlags:      stages,
		})
	}

	binding := &Binding{}
	var res common.VkResult
	var err error

	binding.Layout, res, err = device.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: layoutBindings,
	})
	if err != nil {
		return nil, res, errors.Wrap(err, "failed to create descriptor set layout")
	}

	binding.Pool, res, err = device.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: 1,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{
				Type:            descriptorType,
				DescriptorCount: len(resources),
			},
		},
	})
	if err != nil {
		binding.Destroy()
		return nil, res, errors.Wrap(err, "failed to create descriptor pool")
	}

	binding.Sets, res, err = device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: binding.Pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{binding.Layout},
	})
	if err != nil {
		binding.Destroy()
		return nil, res, errors.Wrap(err, "failed to allocate descriptor set")
	}

	binding.Writes = make([]core1_0.WriteDescriptorSet, 0, len(resources))
	for index, resource := range resources {
		write := core1_0.WriteDescriptorSet{
			DstSet:          binding.Sets[0],
			DstBinding:      index,
			DstArrayElement: 0,
			DescriptorType:  descriptorType,
		}
		fillWrite(resource, &write)
		binding.Writes = append(binding.Writes, write)
	}

	err = device.UpdateDescriptorSets(binding.Writes, nil)
	if err != nil {
		binding.Destroy()
		return nil, core1_0.VKErrorUnknown, errors.Wrap(err, "failed to write descriptor set")
	}

	return binding, core1_0.VKSuccess, nil
}
