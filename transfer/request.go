package transfer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/imagedata"
	"github.com/vkngwrapper/forge/pack"
	"golang.org/x/exp/slog"
)

// Request copies Size bytes from the start of Source into Destination. Destination must be bound to
// memory before the request is transferred.
type Request struct {
	Source      *StagingBuffer
	Destination pack.Resource
	Size        int
}

func (r Request) validate() error {
	if r.Source == nil {
		return errors.New("request has no staging buffer")
	}
	if r.Source.Released() {
		return errors.New("request's staging buffer has already been released")
	}
	if r.Destination == nil {
		return errors.New("request has no destination")
	}
	if r.Size <= 0 || r.Size > r.Source.Size() {
		return errors.Newf("request size %d is outside the staging buffer's %d bytes", r.Size, r.Source.Size())
	}

	// The buffer to image copy reads every texel of the image
	if image, ok := r.Destination.(*pack.ImageResource); ok {
		required := image.Width * image.Height * imagedata.BytesPerPixel
		if r.Size < required {
			return errors.Newf("request size %d is too small for a %dx%d image, which needs %d bytes", r.Size, image.Width, image.Height, required)
		}
	}

	return nil
}

// Destinations returns the destination of every request, in order
func Destinations(requests []Request) []pack.Resource {
	resources := make([]pack.Resource, 0, len(requests))
	for _, request := range requests {
		resources = append(resources, request.Destination)
	}
	return resources
}

// StageBuffer copies data into a new staging buffer and creates an unbound destination buffer of the same
// size with usage | TRANSFER_DST
func (e *Engine) StageBuffer(data []byte, usage core1_0.BufferUsageFlags) (Request, error) {
	e.logger.Debug("Engine::StageBuffer", slog.Int("Size", len(data)), slog.Int("Usage", int(usage)))

	staging, err := e.stage(len(data), func(staging *StagingBuffer) error {
		return staging.Write(data)
	})
	if err != nil {
		return Request{}, err
	}

	buffer, _, err := e.device.CreateBuffer(e.allocator.AllocationCallbacks(), core1_0.BufferCreateInfo{
		Size:               len(data),
		Usage:              usage | core1_0.BufferUsageTransferDst,
		SharingMode:        e.options.SharingMode,
		QueueFamilyIndices: e.options.queueFamilyIndices(),
	})
	if err != nil {
		e.release(staging)
		return Request{}, errors.Wrap(err, "failed to create destination buffer")
	}

	return Request{
		Source:      staging,
		Destination: &pack.BufferResource{Buffer: buffer},
		Size:        len(data),
	}, nil
}

// StageImage copies the image's pixels into a new staging buffer and creates an unbound 2D image with
// optimal tiling, one mip level and usage | TRANSFER_DST. The pixel data must already be in format.
func (e *Engine) StageImage(image *imagedata.Image, format core1_0.Format, usage core1_0.ImageUsageFlags) (Request, error) {
	if image == nil {
		return Request{}, errors.New("attempted to stage a nil image")
	}

	err := image.Validate()
	if err != nil {
		return Request{}, errors.Wrap(err, "attempted to stage a malformed image")
	}

	e.logger.Debug("Engine::StageImage",
		slog.Int("Width", image.Width),
		slog.Int("Height", image.Height),
		slog.Int("Format", int(format)))

	staging, err := e.stage(image.Size(), func(staging *StagingBuffer) error {
		return staging.Write(image.Pixels)
	})
	if err != nil {
		return Request{}, err
	}

	vkImage, _, err := e.device.CreateImage(e.allocator.AllocationCallbacks(), core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  image.Width,
			Height: image.Height,
			Depth:  1,
		},
		MipLevels:          1,
		ArrayLayers:        1,
		Format:             format,
		Tiling:             core1_0.ImageTilingOptimal,
		InitialLayout:      core1_0.ImageLayoutUndefined,
		Usage:              usage | core1_0.ImageUsageTransferDst,
		SharingMode:        e.options.SharingMode,
		QueueFamilyIndices: e.options.imageQueueFamilyIndices(),
		Samples:            core1_0.Samples1,
	})
	if err != nil {
		e.release(staging)
		return Request{}, errors.Wrap(err, "failed to create destination image")
	}

	return Request{
		Source: staging,
		Destination: &pack.ImageResource{
			Image:  vkImage,
			Width:  image.Width,
			Height: image.Height,
		},
		Size: image.Size(),
	}, nil
}

func (e *Engine) stage(size int, write func(staging *StagingBuffer) error) (*StagingBuffer, error) {
	staging, err := e.NewStagingBuffer(size)
	if err != nil {
		return nil, err
	}

	err = write(staging)
	if err != nil {
		e.release(staging)
		return nil, err
	}

	return staging, nil
}
