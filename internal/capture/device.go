package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"

	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

// Device grants live video streams. Open fails with ticketing.ErrPermissionDenied
// or ticketing.ErrNoDevice.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is one live video track. Close must release the hardware.
type Stream interface {
	Frame(ctx context.Context) (image.Image, error)
	Close() error
}

// ReplayDevice serves a fixed list of frames in a loop. It backs the CLI and
// tests where no hardware camera exists.
type ReplayDevice struct {
	frames []image.Image

	mu   sync.Mutex
	open int
}

// NewReplayDevice returns a device replaying frames.
func NewReplayDevice(frames ...image.Image) *ReplayDevice {
	return &ReplayDevice{frames: frames}
}

// LoadReplayDevice decodes JPEG or PNG files into a ReplayDevice.
func LoadReplayDevice(paths ...string) (*ReplayDevice, error) {
	frames := make([]image.Image, 0, len(paths))
	for _, path := range paths {
		frame, err := decodeImageFile(path)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return NewReplayDevice(frames...), nil
}

// Open implements Device.
func (device *ReplayDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(device.frames) == 0 {
		return nil, fmt.Errorf("%w: replay device has no frames", ticketing.ErrNoDevice)
	}
	device.mu.Lock()
	device.open++
	device.mu.Unlock()
	return &replayStream{device: device}, nil
}

// OpenStreams reports how many streams are currently open.
func (device *ReplayDevice) OpenStreams() int {
	device.mu.Lock()
	defer device.mu.Unlock()
	return device.open
}

type replayStream struct {
	device *ReplayDevice
	next   int
	closed bool
	mu     sync.Mutex
}

func (stream *replayStream) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	if stream.closed {
		return nil, ticketing.ErrNotStreaming
	}
	frame := stream.device.frames[stream.next%len(stream.device.frames)]
	stream.next++
	return frame, nil
}

func (stream *replayStream) Close() error {
	stream.mu.Lock()
	defer stream.mu.Unlock()
	if stream.closed {
		return nil
	}
	stream.closed = true
	stream.device.mu.Lock()
	stream.device.open--
	stream.device.mu.Unlock()
	return nil
}

// UnavailableDevice fails every Open with Err.
type UnavailableDevice struct {
	Err error
}

// Open implements Device.
func (device UnavailableDevice) Open(context.Context) (Stream, error) {
	if device.Err == nil {
		return nil, ticketing.ErrNoDevice
	}
	return nil, device.Err
}

func decodeImageFile(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ticketing.ErrNoDevice, path, err)
	}
	defer file.Close()
	frame, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ticketing.ErrInvalidEvidence, path, err)
	}
	return frame, nil
}
