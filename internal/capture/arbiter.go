package capture

import (
	"fmt"
	"sync"

	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

// Camera owners.
const (
	OwnerSelfie = "selfie"
	OwnerQRScan = "qr_scan"
)

// CameraArbiter allows at most one open video stream per page.
type CameraArbiter struct {
	mu     sync.Mutex
	holder string
	lease  uint64
}

// NewCameraArbiter returns a free arbiter.
func NewCameraArbiter() *CameraArbiter {
	return &CameraArbiter{}
}

// Acquire reserves the camera for owner. The returned release is idempotent.
func (arbiter *CameraArbiter) Acquire(owner string) (func(), error) {
	arbiter.mu.Lock()
	defer arbiter.mu.Unlock()
	if arbiter.holder != "" {
		return nil, fmt.Errorf("%w: held by %s", ticketing.ErrCameraBusy, arbiter.holder)
	}
	arbiter.lease++
	lease := arbiter.lease
	arbiter.holder = owner
	var once sync.Once
	return func() {
		once.Do(func() {
			arbiter.mu.Lock()
			defer arbiter.mu.Unlock()
			if arbiter.lease == lease {
				arbiter.holder = ""
			}
		})
	}, nil
}

// Holder returns the current owner, or "" when free.
func (arbiter *CameraArbiter) Holder() string {
	arbiter.mu.Lock()
	defer arbiter.mu.Unlock()
	return arbiter.holder
}
