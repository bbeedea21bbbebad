package verification

import (
	"context"
	"sync"

	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

// Session collects the two proofs of one entry check. Evidence is held in
// memory only; a new selfie replaces the held one and a submission drops it.
type Session struct {
	orchestrator *Orchestrator

	mu       sync.Mutex
	payload  ticketing.TicketQRPayload
	evidence ticketing.CapturedEvidence
}

// NewSession starts an empty session.
func NewSession(orchestrator *Orchestrator) *Session {
	return &Session{orchestrator: orchestrator}
}

// SetPayload records a validated ticket reference.
func (session *Session) SetPayload(payload ticketing.TicketQRPayload) {
	session.mu.Lock()
	defer session.mu.Unlock()
	session.payload = payload
}

// SetEvidence records the selfie, replacing any earlier one.
func (session *Session) SetEvidence(evidence ticketing.CapturedEvidence) {
	session.mu.Lock()
	defer session.mu.Unlock()
	session.evidence = evidence
}

// Ready reports whether both proofs are present.
func (session *Session) Ready() bool {
	session.mu.Lock()
	defer session.mu.Unlock()
	return !session.payload.IsZero() && !session.evidence.IsZero()
}

// Submit verifies the held proofs. The selfie is discarded once the
// authority has answered.
func (session *Session) Submit(ctx context.Context) (ticketing.Outcome, error) {
	session.mu.Lock()
	payload, evidence := session.payload, session.evidence
	session.mu.Unlock()

	outcome, err := session.orchestrator.Verify(ctx, payload, evidence)
	if err != nil {
		return nil, err
	}
	session.mu.Lock()
	session.evidence = ticketing.CapturedEvidence{}
	session.mu.Unlock()
	return outcome, nil
}
