// Package capture owns the camera lifecycle and produces still-image evidence.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strconv"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

// DefaultJPEGQuality matches a 0.95 canvas export.
const DefaultJPEGQuality = 95

// State is the camera lifecycle position.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateStreaming
	StateCapturing
	StateStopped
	StateError
)

func (state State) String() string {
	switch state {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateCapturing:
		return "capturing"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithOperationLogger wires a logger for camera_start, camera_capture and camera_stop.
func WithOperationLogger(logger ticketing.OperationLogger) Option {
	return func(manager *Manager) {
		manager.logger = logger
	}
}

// WithClock overrides the capture timestamp source.
func WithClock(now func() time.Time) Option {
	return func(manager *Manager) {
		if now != nil {
			manager.now = now
		}
	}
}

// WithJPEGQuality sets the encoder quality (1..100).
func WithJPEGQuality(quality int) Option {
	return func(manager *Manager) {
		if quality >= 1 && quality <= 100 {
			manager.quality = quality
		}
	}
}

// Manager drives one selfie camera: Idle, Starting, Streaming, Capturing, Stopped.
// Capture is single-shot; it always releases the stream.
type Manager struct {
	device  Device
	arbiter *CameraArbiter
	logger  ticketing.OperationLogger
	now     func() time.Time
	quality int

	mu      sync.Mutex
	state   State
	stream  Stream
	release func()
	lastErr error
	// generation changes on every Start and Stop; a Start whose open outlives
	// a Stop sees a different value and discards its stream.
	generation uint64
}

// NewManager wires a Manager around device. A nil arbiter gets a private one.
func NewManager(device Device, arbiter *CameraArbiter, options ...Option) (*Manager, error) {
	if device == nil {
		return nil, fmt.Errorf("%w: camera device is nil", ticketing.ErrInvalidServiceConfig)
	}
	if arbiter == nil {
		arbiter = NewCameraArbiter()
	}
	manager := &Manager{
		device:  device,
		arbiter: arbiter,
		now:     time.Now,
		quality: DefaultJPEGQuality,
		state:   StateIdle,
	}
	for _, option := range options {
		if option != nil {
			option(manager)
		}
	}
	return manager, nil
}

// State returns the current lifecycle state.
func (manager *Manager) State() State {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	return manager.state
}

// Err returns the failure behind StateError.
func (manager *Manager) Err() error {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	return manager.lastErr
}

// Start acquires the camera. Starting while streaming is a no-op; retry after
// an error is allowed. The device opens without holding the lock, so Stop can
// release the camera while a permission prompt is pending.
func (manager *Manager) Start(ctx context.Context) (err error) {
	manager.mu.Lock()
	if manager.state == StateStreaming {
		manager.mu.Unlock()
		return nil
	}
	defer func() {
		ticketing.LogOperation(ctx, manager.logger, ticketing.OperationLog{Operation: ticketing.OperationCameraStart, Error: err})
	}()

	release, err := manager.arbiter.Acquire(OwnerSelfie)
	if err != nil {
		manager.mu.Unlock()
		return ticketing.WrapError(ticketing.OperationCameraStart, "camera", "busy", err)
	}
	manager.state = StateStarting
	manager.lastErr = nil
	manager.release = release
	manager.generation++
	generation := manager.generation
	manager.mu.Unlock()

	stream, openErr := manager.device.Open(ctx)

	manager.mu.Lock()
	defer manager.mu.Unlock()
	if generation != manager.generation {
		// Stop ran while the device was opening and already released the lease.
		if openErr == nil {
			_ = stream.Close()
		}
		return ticketing.WrapError(ticketing.OperationCameraStart, "camera", "stopped",
			fmt.Errorf("%w: stopped while starting", ticketing.ErrNotStreaming))
	}
	if openErr != nil {
		_ = manager.closeStream()
		manager.fail(openErr)
		return ticketing.WrapError(ticketing.OperationCameraStart, "camera", "open_failed", openErr)
	}
	manager.stream = stream
	manager.state = StateStreaming
	return nil
}

// Capture encodes the current frame as JPEG and stops the stream.
func (manager *Manager) Capture(ctx context.Context) (evidence ticketing.CapturedEvidence, err error) {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	defer func() {
		entry := ticketing.OperationLog{Operation: ticketing.OperationCameraCapture, Error: err}
		if err == nil {
			entry.Detail = evidence.Filename()
		}
		ticketing.LogOperation(ctx, manager.logger, entry)
	}()
	if manager.state != StateStreaming || manager.stream == nil {
		return ticketing.CapturedEvidence{}, ticketing.WrapError(ticketing.OperationCameraCapture, "camera", "not_streaming",
			fmt.Errorf("%w: state %s", ticketing.ErrNotStreaming, manager.state))
	}
	manager.state = StateCapturing

	frame, err := manager.stream.Frame(ctx)
	if err != nil {
		closeErr := manager.closeStream()
		manager.fail(errors.Join(err, closeErr))
		return ticketing.CapturedEvidence{}, ticketing.WrapError(ticketing.OperationCameraCapture, "camera", "frame_failed", err)
	}
	capturedAt := manager.now()
	evidence, err = EncodeJPEG(frame, manager.quality, "selfie-"+strconv.FormatInt(capturedAt.UnixMilli(), 10)+".jpg", capturedAt)
	if closeErr := manager.closeStream(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		manager.fail(err)
		return ticketing.CapturedEvidence{}, ticketing.WrapError(ticketing.OperationCameraCapture, "camera", "encode_failed", err)
	}
	manager.state = StateStopped
	return evidence, nil
}

// Stop releases the stream. It is safe to call in any state, any number of times.
func (manager *Manager) Stop(ctx context.Context) (err error) {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	hadStream := manager.stream != nil
	defer func() {
		entry := ticketing.OperationLog{Operation: ticketing.OperationCameraStop, Error: err}
		if !hadStream {
			entry.Detail = "no active stream"
		}
		ticketing.LogOperation(ctx, manager.logger, entry)
	}()
	manager.generation++
	err = manager.closeStream()
	if manager.state != StateIdle && manager.state != StateError {
		manager.state = StateStopped
	}
	if err != nil {
		return ticketing.WrapError(ticketing.OperationCameraStop, "camera", "close_failed", err)
	}
	return nil
}

func (manager *Manager) closeStream() error {
	var err error
	if manager.stream != nil {
		err = manager.stream.Close()
		manager.stream = nil
	}
	if manager.release != nil {
		manager.release()
		manager.release = nil
	}
	return err
}

func (manager *Manager) fail(err error) {
	manager.state = StateError
	manager.lastErr = err
}

// EncodeJPEG rasterizes frame into camera evidence.
func EncodeJPEG(frame image.Image, quality int, filename string, capturedAt time.Time) (ticketing.CapturedEvidence, error) {
	if frame == nil {
		return ticketing.CapturedEvidence{}, fmt.Errorf("%w: empty frame", ticketing.ErrInvalidEvidence)
	}
	var buffer bytes.Buffer
	if err := jpeg.Encode(&buffer, frame, &jpeg.Options{Quality: quality}); err != nil {
		return ticketing.CapturedEvidence{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return ticketing.NewCapturedEvidence(buffer.Bytes(), filename, "image/jpeg", capturedAt, ticketing.EvidenceSourceCamera)
}
