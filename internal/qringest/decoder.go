package qringest

import (
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/makiuchi-d/gozxing"
	zxingqr "github.com/makiuchi-d/gozxing/qrcode"
	qrencode "github.com/skip2/go-qrcode"

	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

// ErrNoSymbol reports a frame without a readable QR symbol.
var ErrNoSymbol = errors.New("no qr symbol in frame")

// Decoder finds QR text in one frame.
type Decoder interface {
	Decode(frame image.Image) (string, error)
}

// ZXingDecoder decodes QR symbols with gozxing.
type ZXingDecoder struct{}

// Decode implements Decoder. Frames without a symbol return ErrNoSymbol.
func (ZXingDecoder) Decode(frame image.Image) (string, error) {
	bitmap, err := gozxing.NewBinaryBitmapFromImage(frame)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoSymbol, err)
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	result, err := zxingqr.NewQRCodeReader().Decode(bitmap, hints)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoSymbol, err)
	}
	return result.GetText(), nil
}

// Render encodes a ticket payload as a PNG QR symbol of size pixels.
func Render(payload ticketing.TicketQRPayload, size int) ([]byte, error) {
	code, err := newSymbol(payload)
	if err != nil {
		return nil, err
	}
	return code.PNG(size)
}

// RenderImage is Render without the PNG encoding.
func RenderImage(payload ticketing.TicketQRPayload, size int) (image.Image, error) {
	code, err := newSymbol(payload)
	if err != nil {
		return nil, err
	}
	return code.Image(size), nil
}

// WriteFile renders payload to a PNG file.
func WriteFile(payload ticketing.TicketQRPayload, size int, path string) error {
	data, err := Render(payload, size)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func newSymbol(payload ticketing.TicketQRPayload) (*qrencode.QRCode, error) {
	if payload.IsZero() {
		return nil, fmt.Errorf("%w: empty payload", ticketing.ErrMalformedPayload)
	}
	code, err := qrencode.New(payload.Raw(), qrencode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encode qr symbol: %w", err)
	}
	return code, nil
}
