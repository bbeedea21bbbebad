// Package verification drives a two-proof entry check: a validated ticket
// QR payload plus a selfie, judged by the verification authority.
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MarkoPoloResearchLab/ticketgate/internal/gateway"
	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

// VerifyAPI submits one verification attempt.
type VerifyAPI interface {
	Verify(ctx context.Context, qrData string, selfie ticketing.CapturedEvidence) (gateway.VerifyResponse, error)
}

// AttemptRecorder keeps a local history of attempts.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt Attempt) error
}

// Attempt is one completed verification call.
type Attempt struct {
	ID          string
	TokenID     ticketing.TokenID
	EventID     ticketing.EventID
	Status      ticketing.Status
	Message     string
	Confidence  ticketing.Confidence
	Evidence    ticketing.EvidenceSource
	RawResponse json.RawMessage
	StartedAt   time.Time
	CompletedAt time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithOperationLogger wires a logger for verify.
func WithOperationLogger(logger ticketing.OperationLogger) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.logger = logger
	}
}

// WithAttemptRecorder stores every attempt after it completes.
func WithAttemptRecorder(recorder AttemptRecorder) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.recorder = recorder
	}
}

// WithClock overrides attempt timestamps.
func WithClock(now func() time.Time) Option {
	return func(orchestrator *Orchestrator) {
		if now != nil {
			orchestrator.now = now
		}
	}
}

// Orchestrator submits attempts and interprets the authority's decision.
// At most one submission is in flight at a time.
type Orchestrator struct {
	api      VerifyAPI
	recorder AttemptRecorder
	logger   ticketing.OperationLogger
	now      func() time.Time

	inFlight atomic.Bool

	mu   sync.RWMutex
	last ticketing.Outcome
}

// New wires an Orchestrator.
func New(api VerifyAPI, options ...Option) (*Orchestrator, error) {
	if api == nil {
		return nil, fmt.Errorf("%w: verify api dependency is nil", ticketing.ErrInvalidServiceConfig)
	}
	orchestrator := &Orchestrator{api: api, now: time.Now}
	for _, option := range options {
		if option != nil {
			option(orchestrator)
		}
	}
	return orchestrator, nil
}

// Verify submits payload and evidence and returns the fresh outcome, which
// replaces any earlier one. Missing proofs are refused locally with
// ErrIncompleteAttempt; a concurrent call gets ErrSubmissionInFlight.
// Transport and authority failures come back as an Errored outcome.
func (orchestrator *Orchestrator) Verify(ctx context.Context, payload ticketing.TicketQRPayload, evidence ticketing.CapturedEvidence) (outcome ticketing.Outcome, err error) {
	if payload.IsZero() || evidence.IsZero() {
		return nil, ticketing.WrapError(ticketing.OperationVerify, "attempt", "incomplete", missingProof(payload, evidence))
	}
	if !orchestrator.inFlight.CompareAndSwap(false, true) {
		return nil, ticketing.WrapError(ticketing.OperationVerify, "attempt", "in_flight", ticketing.ErrSubmissionInFlight)
	}
	defer orchestrator.inFlight.Store(false)

	tokenID := payload.TokenID()
	var callErr error
	defer func() {
		entry := ticketing.OperationLog{Operation: ticketing.OperationVerify, TokenID: &tokenID, Error: callErr}
		if outcome != nil {
			entry.Outcome = outcome.Status()
			entry.Detail = outcome.Message()
		}
		ticketing.LogOperation(ctx, orchestrator.logger, entry)
	}()

	startedAt := orchestrator.now().UTC()
	response, callErr := orchestrator.api.Verify(ctx, payload.Raw(), evidence)
	if callErr != nil {
		outcome = erroredOutcome(transportMessage(callErr), callErr)
	} else {
		outcome = interpret(response)
	}
	orchestrator.mu.Lock()
	orchestrator.last = outcome
	orchestrator.mu.Unlock()

	if orchestrator.recorder != nil {
		attempt := Attempt{
			ID:          uuid.NewString(),
			TokenID:     tokenID,
			EventID:     payload.EventID(),
			Status:      outcome.Status(),
			Message:     outcome.Message(),
			Confidence:  outcome.Confidence(),
			Evidence:    evidence.Source(),
			RawResponse: response.Raw,
			StartedAt:   startedAt,
			CompletedAt: orchestrator.now().UTC(),
		}
		if recordErr := orchestrator.recorder.RecordAttempt(ctx, attempt); recordErr != nil {
			callErr = errors.Join(callErr, recordErr)
		}
	}
	return outcome, nil
}

// Last returns the most recent outcome, or nil before the first attempt.
func (orchestrator *Orchestrator) Last() ticketing.Outcome {
	orchestrator.mu.RLock()
	defer orchestrator.mu.RUnlock()
	return orchestrator.last
}

// InFlight reports whether a submission is waiting on the authority.
func (orchestrator *Orchestrator) InFlight() bool {
	return orchestrator.inFlight.Load()
}

func missingProof(payload ticketing.TicketQRPayload, evidence ticketing.CapturedEvidence) error {
	switch {
	case payload.IsZero() && evidence.IsZero():
		return fmt.Errorf("%w: ticket qr and selfie are missing", ticketing.ErrIncompleteAttempt)
	case payload.IsZero():
		return fmt.Errorf("%w: ticket qr is missing", ticketing.ErrIncompleteAttempt)
	default:
		return fmt.Errorf("%w: selfie is missing", ticketing.ErrIncompleteAttempt)
	}
}

// interpret maps the authority response onto exactly one outcome variant.
func interpret(response gateway.VerifyResponse) ticketing.Outcome {
	status, err := ticketing.ParseStatus(response.Status)
	if err != nil {
		if response.Status == "" && response.Verified {
			status = ticketing.StatusVerified
		} else {
			message := fmt.Sprintf("authority returned unrecognized status %q: %s", response.Status, response.Message)
			return erroredOutcome(message, fmt.Errorf("%w: %s", ticketing.ErrAuthority, message))
		}
	}
	var hints []ticketing.RemediationHint
	if status == ticketing.StatusError {
		hints = RemediationHints(response.Message)
	}
	outcome, err := ticketing.NewOutcome(status, response.Message, response.Confidence, hints)
	if err != nil {
		return erroredOutcome(err.Error(), fmt.Errorf("%w: %w", ticketing.ErrAuthority, err))
	}
	return outcome
}

func erroredOutcome(message string, cause error) ticketing.Outcome {
	return ticketing.Errored{Reason: message, Score: ticketing.UnknownConfidence(), Hints: RemediationHints(message), Cause: cause}
}

func transportMessage(err error) string {
	var apiError *gateway.APIError
	if errors.As(err, &apiError) && apiError.Detail != "" {
		return apiError.Detail
	}
	return err.Error()
}
