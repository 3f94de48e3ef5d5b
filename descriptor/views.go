package descriptor

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// CreateImageViews creates a 2D color view of the first mip level and array layer of each image. If
// any view fails, the views already created are destroyed.
func CreateImageViews(device core1_0.Device, images []core1_0.Image, format core1_0.Format) ([]core1_0.ImageView, common.VkResult, error) {
	views := make([]core1_0.ImageView, 0, len(images))

	for index, image := range images {
		view, res, err := device.CreateImageView(nil, core1_0.ImageViewCreateInfo{
			Image:    image,
			ViewType: core1_0.ImageViewType2D,
			Format:   format,
			Components: core1_0.ComponentMapping{
				R: core1_0.ComponentSwizzleIdentity,
				G: core1_0.ComponentSwizzleIdentity,
				B: core1_0.ComponentSwizzleIdentity,
				A: core1_0.ComponentSwizzleIdentity,
			},
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     core1_0.ImageAspectColor,
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		})
		if err != nil {
			for _, created := range views {
				created.Destroy(nil)
			}
			return nil, res, errors.Wrapf(err, "failed to create view for image %d", index)
		}

		views = append(views, view)
	}

	return views, core1_0.VKSuccess, nil
}

// CreateTextureSampler creates a sampler with linear filtering, repeat addressing, and anisotropic
// filtering at the device's maximum level
func CreateTextureSampler(physicalDevice core1_0.PhysicalDevice, device core1_0.Device) (core1_0.Sampler, common.VkResult, error) {
	properties, err := physicalDevice.Properties()
	if err != nil {
		return nil, core1_0.VKErrorUnknown, err
	}

	return device.CreateSampler(nil, core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.FilterLinear,
		MinFilter:    core1_0.FilterLinear,
		AddressModeU: core1_0.SamplerAddressModeRepeat,
		AddressModeV: core1_0.SamplerAddressModeRepeat,
		AddressModeW: core1_0.SamplerAddressModeRepeat,

		AnisotropyEnable: true,
		MaxAnisotropy:    properties.Limits.MaxSamplerAnisotropy,

		BorderColor: core1_0.BorderColorIntOpaqueBlack,

		MipmapMode: core1_0.SamplerMipmapModeLinear,
		MinLod:     0,
		MaxLod:     0,
	})
}
