package ticketing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Status is the authority's trust decision for one verification attempt.
type Status string

const (
	StatusVerified   Status = "verified"
	StatusSuspicious Status = "suspicious"
	StatusDenied     Status = "denied"
	StatusError      Status = "error"
)

// ParseStatus validates a wire status.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusVerified:
		return StatusVerified, nil
	case StatusSuspicious:
		return StatusSuspicious, nil
	case StatusDenied:
		return StatusDenied, nil
	case StatusError:
		return StatusError, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// String returns the wire value.
func (status Status) String() string {
	return string(status)
}

// Confidence is either a numeric similarity score, a label reported by the
// authority, or unknown.
type Confidence struct {
	score    float64
	hasScore bool
	label    string
}

// ScoreConfidence builds a numeric confidence.
func ScoreConfidence(score float64) Confidence {
	return Confidence{score: score, hasScore: true}
}

// LabelConfidence builds a textual confidence. "unknown" and empty map to UnknownConfidence.
func LabelConfidence(label string) Confidence {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" || strings.EqualFold(trimmed, confidenceUnknown) {
		return UnknownConfidence()
	}
	return Confidence{label: trimmed}
}

// ParseConfidence reads the text form written by String: a number, a label,
// or "unknown".
func ParseConfidence(text string) Confidence {
	if score, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
		return ScoreConfidence(score)
	}
	return LabelConfidence(text)
}

// UnknownConfidence is the zero value.
func UnknownConfidence() Confidence {
	return Confidence{}
}

// Score returns the numeric score when present.
func (confidence Confidence) Score() (float64, bool) {
	return confidence.score, confidence.hasScore
}

// Known reports whether the authority supplied any confidence.
func (confidence Confidence) Known() bool {
	return confidence.hasScore || confidence.label != ""
}

// String renders the score, the label, or "unknown".
func (confidence Confidence) String() string {
	if confidence.hasScore {
		return strconv.FormatFloat(confidence.score, 'f', -1, 64)
	}
	if confidence.label != "" {
		return confidence.label
	}
	return confidenceUnknown
}

// MarshalJSON writes a number, a label string, or "unknown".
func (confidence Confidence) MarshalJSON() ([]byte, error) {
	if confidence.hasScore {
		return json.Marshal(confidence.score)
	}
	return json.Marshal(confidence.String())
}

// UnmarshalJSON accepts a number, a string, or null.
func (confidence *Confidence) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*confidence = UnknownConfidence()
		return nil
	}
	if trimmed[0] == '"' {
		var label string
		if err := json.Unmarshal(trimmed, &label); err != nil {
			return err
		}
		*confidence = ParseConfidence(label)
		return nil
	}
	var score float64
	if err := json.Unmarshal(trimmed, &score); err != nil {
		return fmt.Errorf("confidence must be a number or string: %w", err)
	}
	*confidence = ScoreConfidence(score)
	return nil
}

// RemediationHint is advisory operator guidance attached to error outcomes.
type RemediationHint struct {
	Key  string
	Text string
}

// Outcome is the result of one verification attempt. Exactly one of Verified,
// Suspicious, Denied or Errored.
type Outcome interface {
	Status() Status
	Message() string
	Confidence() Confidence
	outcome()
}

// Verified means both proofs were accepted.
type Verified struct {
	Reason string
	Score  Confidence
}

// Suspicious means proofs were present but need manual review.
type Suspicious struct {
	Reason string
	Score  Confidence
}

// Denied means the ticket or the likeness was rejected.
type Denied struct {
	Reason string
	Score  Confidence
}

// Errored means the authority could not complete the evaluation. It asks for
// a retry, not for distrust. Cause wraps ErrAuthority when the authority
// answered with an error status and ErrTransport when it was not reached.
type Errored struct {
	Reason string
	Score  Confidence
	Hints  []RemediationHint
	Cause  error
}

func (Verified) outcome()   {}
func (Suspicious) outcome() {}
func (Denied) outcome()     {}
func (Errored) outcome()    {}

func (result Verified) Status() Status   { return StatusVerified }
func (result Suspicious) Status() Status { return StatusSuspicious }
func (result Denied) Status() Status     { return StatusDenied }
func (result Errored) Status() Status    { return StatusError }

func (result Verified) Message() string   { return result.Reason }
func (result Suspicious) Message() string { return result.Reason }
func (result Denied) Message() string     { return result.Reason }
func (result Errored) Message() string    { return result.Reason }

func (result Verified) Confidence() Confidence   { return result.Score }
func (result Suspicious) Confidence() Confidence { return result.Score }
func (result Denied) Confidence() Confidence     { return result.Score }
func (result Errored) Confidence() Confidence    { return result.Score }

// NewOutcome builds the variant matching status.
func NewOutcome(status Status, message string, confidence Confidence, hints []RemediationHint) (Outcome, error) {
	switch status {
	case StatusVerified:
		return Verified{Reason: message, Score: confidence}, nil
	case StatusSuspicious:
		return Suspicious{Reason: message, Score: confidence}, nil
	case StatusDenied:
		return Denied{Reason: message, Score: confidence}, nil
	case StatusError:
		return Errored{Reason: message, Score: confidence, Hints: hints, Cause: fmt.Errorf("%w: %s", ErrAuthority, message)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
}
