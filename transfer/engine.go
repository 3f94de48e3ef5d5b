// Package transfer fills device-local buffers and images from host-visible staging buffers using
// one-shot command buffers.
package transfer

import (
	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/pack"
	"golang.org/x/exp/slog"
)

// ErrTransfersPending is returned when the device could not be waited on after transfers were
// submitted. The staging buffers, command buffers and destination memory of the batch are left alive,
// because the device may still be using them.
var ErrTransfersPending = errors.New("submitted transfers may still be executing")

// Engine creates staging buffers through an Allocator and submits the copies that drain them. It is not
// safe for concurrent use.
type Engine struct {
	logger    *slog.Logger
	device    core1_0.Device
	allocator *pack.Allocator
	options   Options
}

func NewEngine(logger *slog.Logger, allocator *pack.Allocator, options Options) *Engine {
	return &Engine{
		logger:    logger,
		device:    allocator.Device(),
		allocator: allocator,
		options:   options.withDefaults(),
	}
}

func (e *Engine) Allocator() *pack.Allocator {
	return e.allocator
}

func (e *Engine) release(staging *StagingBuffer) {
	err := staging.Destroy()
	if err != nil {
		e.logger.Error("failed to release staging buffer", slog.Any("error", err))
	}
}

func (e *Engine) releaseAll(requests []Request) {
	for _, request := range requests {
		if request.Source != nil {
			e.release(request.Source)
		}
	}
}

// TransferBatch records and submits one command buffer per request, waits once for the device to go
// idle, and returns the destinations in request order. Every request's staging buffer is released
// before TransferBatch returns, whether it succeeds or not, unless the wait itself fails. In that case
// the error is marked with ErrTransfersPending and nothing the device may still read is released. On
// failure the destination contents are undefined.
func (e *Engine) TransferBatch(pool core1_0.CommandPool, queue core1_0.Queue, requests []Request) (destinations []pack.Resource, err error) {
	e.logger.Debug("Engine::TransferBatch", slog.Int("Requests", len(requests)))

	start := hrtime.Now()
	var commandBuffers []core1_0.CommandBuffer
	awaitingIdle := false
	idleFailed := false

	defer func() {
		if awaitingIdle {
			_, idleErr := e.device.WaitIdle()
			if idleErr != nil {
				e.logger.Error("failed to wait for submitted transfers", slog.Any("error", idleErr))
				idleFailed = true
				err = errors.Mark(err, ErrTransfersPending)
			}
		}

		if idleFailed {
			e.logger.Error("leaking transfer command buffers and staging buffers that may still be in use",
				slog.Int("CommandBuffers", len(commandBuffers)),
				slog.Int("Requests", len(requests)))
			return
		}

		if len(commandBuffers) > 0 {
			e.device.FreeCommandBuffers(commandBuffers)
		}

		e.releaseAll(requests)
	}()

	for index, request := range requests {
		err = request.validate()
		if err != nil {
			return nil, errors.Wrapf(err, "invalid transfer request %d", index)
		}
	}

	for index, request := range requests {
		var buffers []core1_0.CommandBuffer
		buffers, _, err = e.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
			CommandPool:        pool,
			Level:              core1_0.CommandBufferLevelPrimary,
			CommandBufferCount: 1,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to allocate command buffer for transfer request %d", index)
		}
		commandBuffers = append(commandBuffers, buffers...)

		err = e.record(buffers[0], request)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to record transfer request %d", index)
		}

		_, err = queue.Submit(nil, []core1_0.SubmitInfo{
			{
				CommandBuffers: []core1_0.CommandBuffer{buffers[0]},
			},
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to submit transfer request %d", index)
		}
		awaitingIdle = true
	}

	if awaitingIdle {
		awaitingIdle = false
		_, err = e.device.WaitIdle()
		if err != nil {
			idleFailed = true
			return nil, errors.Mark(errors.Wrap(err, "failed to wait for transfers"), ErrTransfersPending)
		}
	}

	e.logger.Debug("Engine::TransferBatch complete",
		slog.Int("Requests", len(requests)),
		slog.Duration("Elapsed", hrtime.Since(start)))

	return Destinations(requests), nil
}

func (e *Engine) record(commandBuffer core1_0.CommandBuffer, request Request) error {
	_, err := commandBuffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return err
	}

	err = request.Destination.RecordCopyFrom(commandBuffer, request.Source.Buffer(), request.Size)
	if err != nil {
		return err
	}

	_, err = commandBuffer.End()
	return err
}

// Upload packs every request's destination into a single allocation carrying the required property
// flags, then transfers into them. On failure the staging buffers are still released and the allocation,
// if one was made, is freed, unless the failure is ErrTransfersPending. The caller owns the destinations
// in either case.
func (e *Engine) Upload(pool core1_0.CommandPool, queue core1_0.Queue, requests []Request, required core1_0.MemoryPropertyFlags) ([]pack.Resource, *pack.Allocation, error) {
	e.logger.Debug("Engine::Upload", slog.Int("Requests", len(requests)))

	allocation, _, err := e.allocator.AllocateMemoryForResources(Destinations(requests), required)
	if err != nil {
		e.releaseAll(requests)
		return nil, nil, errors.Wrap(err, "failed to allocate memory for transfer destinations")
	}

	destinations, err := e.TransferBatch(pool, queue, requests)
	if errors.Is(err, ErrTransfersPending) {
		e.logger.Error("leaking destination memory that may still be written", slog.String("Allocation", allocation.ID().String()))
		return nil, nil, err
	}
	if err != nil {
		freeErr := allocation.Free()
		if freeErr != nil {
			e.logger.Error("failed to free destination memory", slog.Any("error", freeErr))
		}
		return nil, nil, err
	}

	return destinations, allocation, nil
}
