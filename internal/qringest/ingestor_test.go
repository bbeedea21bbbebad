package qringest

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/ticketgate/internal/capture"
	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

const ticketText = `{"token_id":1,"event_id":"evt123","metadata_uri":"ipfs://abc"}`

type recordingLogger struct {
	entries []ticketing.OperationLog
}

func (logger *recordingLogger) LogOperation(_ context.Context, entry ticketing.OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func blankFrame() image.Image {
	frame := image.NewGray(image.Rect(0, 0, 64, 64))
	for index := range frame.Pix {
		frame.Pix[index] = 0xFF
	}
	return frame
}

func mustPayload(test *testing.T) ticketing.TicketQRPayload {
	test.Helper()
	payload, err := ticketing.ParseTicketQRPayload(ticketText)
	if err != nil {
		test.Fatalf("payload: %v", err)
	}
	return payload
}

func mustSymbol(test *testing.T, payload ticketing.TicketQRPayload) image.Image {
	test.Helper()
	symbol, err := RenderImage(payload, 256)
	if err != nil {
		test.Fatalf("render: %v", err)
	}
	return symbol
}

func TestScanEmitsOnceAndReleasesCamera(test *testing.T) {
	test.Parallel()
	payload := mustPayload(test)
	device := capture.NewReplayDevice(blankFrame(), blankFrame(), mustSymbol(test, payload))
	arbiter := capture.NewCameraArbiter()
	logger := &recordingLogger{}
	ingestor := New(device, arbiter, WithScanInterval(time.Millisecond), WithOperationLogger(logger))

	scanned, err := ingestor.Scan(context.Background())
	if err != nil {
		test.Fatalf("scan: %v", err)
	}
	if scanned.Raw() != ticketText || scanned.TokenID() != 1 {
		test.Fatalf("unexpected payload %q", scanned.Raw())
	}
	if device.OpenStreams() != 0 || arbiter.Holder() != "" {
		test.Fatalf("expected camera released, open=%d holder=%q", device.OpenStreams(), arbiter.Holder())
	}
	if len(logger.entries) != 1 || logger.entries[0].Detail != "attempts=3" || logger.entries[0].Status != ticketing.OperationStatusOK {
		test.Fatalf("expected one scan log entry with three attempts, got %+v", logger.entries)
	}

	again, err := ingestor.Scan(context.Background())
	if err != nil || again.Raw() != ticketText {
		test.Fatalf("expected scan to be restartable, got %q (%v)", again.Raw(), err)
	}
}

func TestScanCancelReleasesCamera(test *testing.T) {
	test.Parallel()
	device := capture.NewReplayDevice(blankFrame())
	arbiter := capture.NewCameraArbiter()
	ingestor := New(device, arbiter, WithScanInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := ingestor.Scan(ctx)
	if !errors.Is(err, ticketing.ErrScanCanceled) || !ticketing.IsRecoverableLocally(err) {
		test.Fatalf("expected recoverable ErrScanCanceled, got %v", err)
	}
	if device.OpenStreams() != 0 || arbiter.Holder() != "" {
		test.Fatalf("expected camera released, open=%d holder=%q", device.OpenStreams(), arbiter.Holder())
	}
}

func TestScanRejectsMalformedSymbol(test *testing.T) {
	test.Parallel()
	device := capture.NewReplayDevice(blankFrame())
	ingestor := New(device, nil, WithScanInterval(time.Millisecond), WithDecoder(stubDecoder{text: "not-json"}))
	if _, err := ingestor.Scan(context.Background()); !errors.Is(err, ticketing.ErrMalformedPayload) {
		test.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
	if device.OpenStreams() != 0 {
		test.Fatalf("expected camera released after malformed scan")
	}
}

func TestScanWhileCameraBusy(test *testing.T) {
	test.Parallel()
	arbiter := capture.NewCameraArbiter()
	release, err := arbiter.Acquire(capture.OwnerSelfie)
	if err != nil {
		test.Fatalf("acquire: %v", err)
	}
	defer release()
	device := capture.NewReplayDevice(blankFrame())
	ingestor := New(device, arbiter)
	if _, err := ingestor.Scan(context.Background()); !errors.Is(err, ticketing.ErrCameraBusy) {
		test.Fatalf("expected ErrCameraBusy, got %v", err)
	}
	if device.OpenStreams() != 0 {
		test.Fatalf("expected no stream opened")
	}
	if _, err := New(nil, nil).Scan(context.Background()); !errors.Is(err, ticketing.ErrNoDevice) {
		test.Fatalf("expected ErrNoDevice without a camera, got %v", err)
	}
}

func TestAcceptManual(test *testing.T) {
	test.Parallel()
	logger := &recordingLogger{}
	ingestor := New(nil, nil, WithOperationLogger(logger))
	if _, err := ingestor.AcceptManual(context.Background(), "not-json"); !errors.Is(err, ticketing.ErrMalformedPayload) {
		test.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
	if _, err := ingestor.AcceptManual(context.Background(), `{"token_id":1,"event_id":"evt123"}`); !errors.Is(err, ticketing.ErrMalformedPayload) {
		test.Fatalf("expected missing metadata_uri to be rejected, got %v", err)
	}
	payload, err := ingestor.AcceptManual(context.Background(), ticketText)
	if err != nil || payload.Raw() != ticketText {
		test.Fatalf("unexpected manual payload %q (%v)", payload.Raw(), err)
	}
	if len(logger.entries) != 3 || logger.entries[2].TokenID == nil || *logger.entries[2].TokenID != 1 {
		test.Fatalf("unexpected log entries %+v", logger.entries)
	}
}

func TestDecodeFileRoundTrip(test *testing.T) {
	test.Parallel()
	payload := mustPayload(test)
	path := filepath.Join(test.TempDir(), "ticket.png")
	if err := WriteFile(payload, 256, path); err != nil {
		test.Fatalf("write: %v", err)
	}
	decoded, err := New(nil, nil).DecodeFile(context.Background(), path)
	if err != nil {
		test.Fatalf("decode file: %v", err)
	}
	if decoded.Raw() != ticketText {
		test.Fatalf("unexpected decoded payload %q", decoded.Raw())
	}
	if _, err := New(nil, nil).DecodeImage(context.Background(), blankFrame()); !errors.Is(err, ticketing.ErrMalformedPayload) {
		test.Fatalf("expected blank image to be rejected, got %v", err)
	}
}

type stubDecoder struct {
	text string
}

func (decoder stubDecoder) Decode(image.Image) (string, error) {
	return decoder.text, nil
}
