package transfer

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/pack"
	"golang.org/x/exp/slog"
)

// StagingBuffer is a host-visible TRANSFER_SRC buffer with its own single-resource allocation. It is
// released by the transfer batch that consumes it, or by calling Destroy.
type StagingBuffer struct {
	engine     *Engine
	resource   *pack.BufferResource
	allocation *pack.Allocation
	size       int
	released   bool
}

// NewStagingBuffer creates a staging buffer of size bytes and binds it to host-visible memory
func (e *Engine) NewStagingBuffer(size int) (*StagingBuffer, error) {
	e.logger.Debug("Engine::NewStagingBuffer", slog.Int("Size", size))

	if size <= 0 {
		return nil, errors.Newf("cannot create a staging buffer of %d bytes", size)
	}

	buffer, _, err := e.device.CreateBuffer(e.allocator.AllocationCallbacks(), core1_0.BufferCreateInfo{
		Size:               size,
		Usage:              core1_0.BufferUsageTransferSrc,
		SharingMode:        e.options.SharingMode,
		QueueFamilyIndices: e.options.queueFamilyIndices(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create staging buffer")
	}

	resource := &pack.BufferResource{Buffer: buffer}
	allocation, _, err := e.allocator.AllocateMemoryForResource(resource, e.options.StagingProperties)
	if err != nil {
		resource.Destroy(e.allocator.AllocationCallbacks())
		return nil, errors.Wrap(err, "failed to allocate staging memory")
	}
	allocation.SetName("staging")

	return &StagingBuffer{
		engine:     e,
		resource:   resource,
		allocation: allocation,
		size:       size,
	}, nil
}

func (s *StagingBuffer) Buffer() core1_0.Buffer {
	return s.resource.Buffer
}

func (s *StagingBuffer) Size() int {
	return s.size
}

func (s *StagingBuffer) Allocation() *pack.Allocation {
	return s.allocation
}

// Released reports whether the buffer and its memory have been destroyed
func (s *StagingBuffer) Released() bool {
	return s.released
}

func (s *StagingBuffer) mapped(size int, write func(target []byte) error) error {
	if s.released {
		return errors.New("attempted to write to a released staging buffer")
	}
	if size > s.size {
		return errors.Newf("attempted to write %d bytes to a staging buffer of %d bytes", size, s.size)
	}

	ptr, _, err := s.allocation.Map()
	if err != nil {
		return err
	}

	writeErr := write(unsafe.Slice((*byte)(ptr), size))
	if writeErr == nil {
		// Non-coherent staging memory has to be flushed while it is still mapped
		_, writeErr = s.allocation.Flush(0, size)
	}
	err = s.allocation.Unmap()
	if writeErr != nil {
		return writeErr
	}

	return err
}

// Write copies data to the start of the buffer
func (s *StagingBuffer) Write(data []byte) error {
	return s.mapped(len(data), func(target []byte) error {
		copy(target, data)
		return nil
	})
}

// WriteData serializes a fixed-size value (or slice of fixed-size values) to the start of the buffer in
// the host byte order Vulkan expects
func (s *StagingBuffer) WriteData(data any) error {
	size := binary.Size(data)
	if size < 0 {
		return errors.Newf("cannot stage value of type %T: it does not have a fixed size", data)
	}

	return s.mapped(size, func(target []byte) error {
		buf := &bytes.Buffer{}
		err := binary.Write(buf, common.ByteOrder, data)
		if err != nil {
			return err
		}

		copy(target, buf.Bytes())
		return nil
	})
}

// Destroy destroys the buffer and frees its memory. Calling it on a released buffer does nothing.
func (s *StagingBuffer) Destroy() error {
	if s.released {
		return nil
	}
	s.released = true

	s.resource.Destroy(s.engine.allocator.AllocationCallbacks())
	return s.allocation.Free()
}
