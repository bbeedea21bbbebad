package capture

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

const maxUploadBytes = 20 << 20

// FromFile turns a user-selected image file into evidence. It is the fallback
// when no camera is available.
func FromFile(path string, selectedAt time.Time) (ticketing.CapturedEvidence, error) {
	file, err := os.Open(path)
	if err != nil {
		return ticketing.CapturedEvidence{}, fmt.Errorf("%w: open %s: %v", ticketing.ErrInvalidEvidence, path, err)
	}
	defer file.Close()
	return FromReader(filepath.Base(path), file, selectedAt)
}

// FromReader reads an uploaded image. Only formats the image package can
// decode (JPEG, PNG) are accepted.
func FromReader(filename string, reader io.Reader, selectedAt time.Time) (ticketing.CapturedEvidence, error) {
	data, err := io.ReadAll(io.LimitReader(reader, maxUploadBytes+1))
	if err != nil {
		return ticketing.CapturedEvidence{}, fmt.Errorf("%w: read %s: %v", ticketing.ErrInvalidEvidence, filename, err)
	}
	if len(data) > maxUploadBytes {
		return ticketing.CapturedEvidence{}, fmt.Errorf("%w: %s exceeds %d bytes", ticketing.ErrInvalidEvidence, filename, maxUploadBytes)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return ticketing.CapturedEvidence{}, fmt.Errorf("%w: %s is not a supported image: %v", ticketing.ErrInvalidEvidence, filename, err)
	}
	return ticketing.NewCapturedEvidence(data, filename, http.DetectContentType(data), selectedAt, ticketing.EvidenceSourceUpload)
}
