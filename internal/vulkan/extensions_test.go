package vulkan

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/mocks"
	"github.com/vkngwrapper/extensions/v2/khr_dedicated_allocation"
	"github.com/vkngwrapper/extensions/v2/khr_get_memory_requirements2"
	"github.com/golang/mock/gomock"
)

func TestExtensionsNew_NoExtensions(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	_, _, device := mocks.MockRig1_0(ctrl, common.Vulkan1_0, []string{}, []string{})

	extension := NewExtensionData(device)

	require.Equal(t, &ExtensionData{}, extension)
	require.False(t, extension.UseMemoryRequirements2())
}

func TestExtensionsNew_Core1_1(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	_, _, device := mocks.MockRig1_1(ctrl, common.Vulkan1_1, []string{}, []string{})

	extension := NewExtensionData(device)

	require.Equal(t, &ExtensionData{
		DedicatedAllocations:  true,
		GetMemoryRequirements: device,
	}, extension)
	require.True(t, extension.UseMemoryRequirements2())
}

func TestExtensionsNew_DedicatedAllocations(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	_, _, device := mocks.MockRig1_0(ctrl, common.Vulkan1_0, []string{},
		[]string{
			khr_get_memory_requirements2.ExtensionName,
			khr_dedicated_allocation.ExtensionName,
		})

	extension := NewExtensionData(device)

	require.True(t, extension.UseMemoryRequirements2())
	require.NotNil(t, extension.GetMemoryRequirements)
	extension.GetMemoryRequirements = nil

	require.Equal(t, &ExtensionData{
		DedicatedAllocations: true,
	}, extension)
}

func TestExtensionsNew_NoDedicatedAllocations(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	_, _, device := mocks.MockRig1_0(ctrl, common.Vulkan1_0, []string{},
		[]string{
			khr_dedicated_allocation.ExtensionName,
		})

	extension := NewExtensionData(device)

	require.Equal(t, &ExtensionData{}, extension)
}

func TestExtensionsNew_RequirementsWithoutDedicated(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	_, _, device := mocks.MockRig1_0(ctrl, common.Vulkan1_0, []string{},
		[]string{
			khr_get_memory_requirements2.ExtensionName,
		})

	extension := NewExtensionData(device)

	require.NotNil(t, extension.GetMemoryRequirements)
	require.False(t, extension.DedicatedAllocations)
	require.False(t, extension.UseMemoryRequirements2())
}
