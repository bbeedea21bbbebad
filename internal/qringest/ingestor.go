// Package qringest turns camera frames, QR image files or pasted text into a
// validated ticket reference.
package qringest

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/ticketgate/internal/capture"
	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

// DefaultScanInterval samples ten frames per second.
const DefaultScanInterval = 100 * time.Millisecond

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithOperationLogger wires a logger for qr_scan and qr_manual.
func WithOperationLogger(logger ticketing.OperationLogger) Option {
	return func(ingestor *Ingestor) {
		ingestor.logger = logger
	}
}

// WithScanInterval sets the delay between sampled frames.
func WithScanInterval(interval time.Duration) Option {
	return func(ingestor *Ingestor) {
		if interval > 0 {
			ingestor.interval = interval
		}
	}
}

// WithDecoder replaces the gozxing decoder.
func WithDecoder(decoder Decoder) Option {
	return func(ingestor *Ingestor) {
		if decoder != nil {
			ingestor.decoder = decoder
		}
	}
}

// Ingestor validates QR payloads from a scanning camera or manual entry.
type Ingestor struct {
	device   capture.Device
	arbiter  *capture.CameraArbiter
	decoder  Decoder
	interval time.Duration
	logger   ticketing.OperationLogger
}

// New wires an Ingestor. device may be nil when only manual entry and image
// files are used.
func New(device capture.Device, arbiter *capture.CameraArbiter, options ...Option) *Ingestor {
	if arbiter == nil {
		arbiter = capture.NewCameraArbiter()
	}
	ingestor := &Ingestor{
		device:   device,
		arbiter:  arbiter,
		decoder:  ZXingDecoder{},
		interval: DefaultScanInterval,
	}
	for _, option := range options {
		if option != nil {
			option(ingestor)
		}
	}
	return ingestor
}

// Scan samples frames until one decodes, then releases the camera and returns
// the validated payload. Canceling ctx stops the scan with ErrScanCanceled.
// Scan may be called again after it returns.
func (ingestor *Ingestor) Scan(ctx context.Context) (payload ticketing.TicketQRPayload, err error) {
	attempts := 0
	defer func() {
		entry := ticketing.OperationLog{
			Operation: ticketing.OperationQRScan,
			Detail:    "attempts=" + strconv.Itoa(attempts),
			Error:     err,
		}
		if err == nil {
			tokenID := payload.TokenID()
			entry.TokenID = &tokenID
		}
		ticketing.LogOperation(ctx, ingestor.logger, entry)
	}()
	if ingestor.device == nil {
		return ticketing.TicketQRPayload{}, ticketing.WrapError(ticketing.OperationQRScan, "camera", "missing", ticketing.ErrNoDevice)
	}

	release, err := ingestor.arbiter.Acquire(capture.OwnerQRScan)
	if err != nil {
		return ticketing.TicketQRPayload{}, ticketing.WrapError(ticketing.OperationQRScan, "camera", "busy", err)
	}
	defer release()
	stream, err := ingestor.device.Open(ctx)
	if err != nil {
		return ticketing.TicketQRPayload{}, ticketing.WrapError(ticketing.OperationQRScan, "camera", "open_failed", err)
	}
	defer stream.Close()

	ticker := time.NewTicker(ingestor.interval)
	defer ticker.Stop()
	for {
		if ctx.Err() == nil {
			attempts++
			text, decodeErr := ingestor.decodeFrame(ctx, stream)
			if decodeErr == nil {
				payload, err = ticketing.ParseTicketQRPayload(text)
				if err != nil {
					return ticketing.TicketQRPayload{}, ticketing.WrapError(ticketing.OperationQRScan, "payload", "malformed", err)
				}
				return payload, nil
			}
			if !errors.Is(decodeErr, ErrNoSymbol) {
				return ticketing.TicketQRPayload{}, ticketing.WrapError(ticketing.OperationQRScan, "camera", "frame_failed", decodeErr)
			}
		}
		select {
		case <-ctx.Done():
			return ticketing.TicketQRPayload{}, ticketing.WrapError(ticketing.OperationQRScan, "scan", "canceled",
				fmt.Errorf("%w: %v", ticketing.ErrScanCanceled, ctx.Err()))
		case <-ticker.C:
		}
	}
}

func (ingestor *Ingestor) decodeFrame(ctx context.Context, stream capture.Stream) (string, error) {
	frame, err := stream.Frame(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ErrNoSymbol, err)
		}
		return "", err
	}
	return ingestor.decoder.Decode(frame)
}

// AcceptManual validates pasted text with the same rules as a scan.
func (ingestor *Ingestor) AcceptManual(ctx context.Context, text string) (payload ticketing.TicketQRPayload, err error) {
	defer func() {
		entry := ticketing.OperationLog{Operation: ticketing.OperationQRManual, Error: err}
		if err == nil {
			tokenID := payload.TokenID()
			entry.TokenID = &tokenID
		}
		ticketing.LogOperation(ctx, ingestor.logger, entry)
	}()
	payload, err = ticketing.ParseTicketQRPayload(text)
	if err != nil {
		return ticketing.TicketQRPayload{}, ticketing.WrapError(ticketing.OperationQRManual, "payload", "malformed", err)
	}
	return payload, nil
}

// DecodeImage reads a QR symbol from a still image.
func (ingestor *Ingestor) DecodeImage(ctx context.Context, frame image.Image) (payload ticketing.TicketQRPayload, err error) {
	defer func() {
		entry := ticketing.OperationLog{Operation: ticketing.OperationQRScan, Detail: "still image", Error: err}
		if err == nil {
			tokenID := payload.TokenID()
			entry.TokenID = &tokenID
		}
		ticketing.LogOperation(ctx, ingestor.logger, entry)
	}()
	text, err := ingestor.decoder.Decode(frame)
	if err != nil {
		return ticketing.TicketQRPayload{}, ticketing.WrapError(ticketing.OperationQRScan, "image", "no_symbol",
			fmt.Errorf("%w: %w", ticketing.ErrMalformedPayload, err))
	}
	payload, err = ticketing.ParseTicketQRPayload(text)
	if err != nil {
		return ticketing.TicketQRPayload{}, ticketing.WrapError(ticketing.OperationQRScan, "payload", "malformed", err)
	}
	return payload, nil
}

// DecodeFile reads a QR symbol from a JPEG or PNG file.
func (ingestor *Ingestor) DecodeFile(ctx context.Context, path string) (ticketing.TicketQRPayload, error) {
	file, err := os.Open(path)
	if err != nil {
		return ticketing.TicketQRPayload{}, fmt.Errorf("open qr image: %w", err)
	}
	defer file.Close()
	frame, _, err := image.Decode(file)
	if err != nil {
		return ticketing.TicketQRPayload{}, fmt.Errorf("%w: decode %s: %v", ticketing.ErrMalformedPayload, path, err)
	}
	return ingestor.DecodeImage(ctx, frame)
}
