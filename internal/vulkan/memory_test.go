package vulkan

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/mocks"
	"github.com/golang/mock/gomock"
)

func TestSynchronizedMemory_MapReferences(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backing := make([]byte, 128)
	memory := mocks.NewMockDeviceMemory(ctrl)
	memory.EXPECT().Map(0, 128, core1_0.MemoryMapFlags(0)).Return(unsafe.Pointer(&backing[0]), core1_0.VKSuccess, nil)

	mem := newSynchronizedMemory(memory, 128, true, nil)

	first, _, err := mem.Map()
	require.NoError(t, err)
	second, _, err := mem.Map()
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 2, mem.References())

	require.NoError(t, mem.Unmap())
	require.Equal(t, 1, mem.References())

	memory.EXPECT().Unmap()
	require.NoError(t, mem.Unmap())
	require.Equal(t, 0, mem.References())

	require.Error(t, mem.Unmap())
}

func TestSynchronizedMemory_FreeWhileMapped(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backing := make([]byte, 16)
	memory := mocks.NewMockDeviceMemory(ctrl)
	memory.EXPECT().Map(0, 16, core1_0.MemoryMapFlags(0)).Return(unsafe.Pointer(&backing[0]), core1_0.VKSuccess, nil)
	memory.EXPECT().Unmap()
	memory.EXPECT().Free(gomock.Nil())

	mem := newSynchronizedMemory(memory, 16, false, nil)
	_, _, err := mem.Map()
	require.NoError(t, err)

	require.NoError(t, mem.FreeMemory())
	require.Error(t, mem.FreeMemory())

	_, _, err = mem.Map()
	require.Error(t, err)
}

func TestSynchronizedMemory_Bind(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	memory := mocks.NewMockDeviceMemory(ctrl)
	buffer := mocks.NewMockBuffer(ctrl)
	image := mocks.NewMockImage(ctrl)

	buffer.EXPECT().BindBufferMemory(memory, 112).Return(core1_0.VKSuccess, nil)
	image.EXPECT().BindImageMemory(memory, 0).Return(core1_0.VKSuccess, nil)

	mem := newSynchronizedMemory(memory, 176, false, nil)

	_, err := mem.BindVulkanBuffer(112, buffer)
	require.NoError(t, err)
	_, err = mem.BindVulkanImage(0, image)
	require.NoError(t, err)
}
