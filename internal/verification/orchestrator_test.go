package verification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/ticketgate/internal/gateway"
	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

const ticketText = `{"token_id":1,"event_id":"evt123","metadata_uri":"ipfs://abc"}`

type stubVerifyAPI struct {
	mu        sync.Mutex
	responses []gateway.VerifyResponse
	err       error
	calls     []string
	block     chan struct{}
	started   chan struct{}
}

func (api *stubVerifyAPI) Verify(_ context.Context, qrData string, _ ticketing.CapturedEvidence) (gateway.VerifyResponse, error) {
	api.mu.Lock()
	api.calls = append(api.calls, qrData)
	index := len(api.calls) - 1
	api.mu.Unlock()
	if api.started != nil {
		close(api.started)
	}
	if api.block != nil {
		<-api.block
	}
	if api.err != nil {
		return gateway.VerifyResponse{}, api.err
	}
	return api.responses[index%len(api.responses)], nil
}

func (api *stubVerifyAPI) callCount() int {
	api.mu.Lock()
	defer api.mu.Unlock()
	return len(api.calls)
}

type recordingRecorder struct {
	attempts []Attempt
}

func (recorder *recordingRecorder) RecordAttempt(_ context.Context, attempt Attempt) error {
	recorder.attempts = append(recorder.attempts, attempt)
	return nil
}

func decodeResponse(test *testing.T, raw string) gateway.VerifyResponse {
	test.Helper()
	var response gateway.VerifyResponse
	if err := json.Unmarshal([]byte(raw), &response); err != nil {
		test.Fatalf("decode response: %v", err)
	}
	response.Raw = json.RawMessage(raw)
	return response
}

func mustPayload(test *testing.T) ticketing.TicketQRPayload {
	test.Helper()
	payload, err := ticketing.ParseTicketQRPayload(ticketText)
	if err != nil {
		test.Fatalf("payload: %v", err)
	}
	return payload
}

func mustEvidence(test *testing.T) ticketing.CapturedEvidence {
	test.Helper()
	evidence, err := ticketing.NewCapturedEvidence([]byte{0xFF, 0xD8, 0xFF, 0xD9}, "selfie-1.jpg", "image/jpeg", time.Unix(1, 0), ticketing.EvidenceSourceCamera)
	if err != nil {
		test.Fatalf("evidence: %v", err)
	}
	return evidence
}

func mustOrchestrator(test *testing.T, api VerifyAPI, options ...Option) *Orchestrator {
	test.Helper()
	orchestrator, err := New(api, options...)
	if err != nil {
		test.Fatalf("new orchestrator: %v", err)
	}
	return orchestrator
}

func TestVerifiedOutcomeCarriesConfidence(test *testing.T) {
	test.Parallel()
	api := &stubVerifyAPI{responses: []gateway.VerifyResponse{decodeResponse(test, `{"verified":true,"status":"verified","message":"Face match","confidence":0.97}`)}}
	recorder := &recordingRecorder{}
	orchestrator := mustOrchestrator(test, api, WithAttemptRecorder(recorder))

	outcome, err := orchestrator.Verify(context.Background(), mustPayload(test), mustEvidence(test))
	if err != nil {
		test.Fatalf("verify: %v", err)
	}
	verified, ok := outcome.(ticketing.Verified)
	if !ok {
		test.Fatalf("expected Verified, got %#v", outcome)
	}
	if score, known := verified.Score.Score(); !known || score != 0.97 {
		test.Fatalf("expected confidence 0.97, got %v", verified.Score)
	}
	if len(api.calls) != 1 || api.calls[0] != ticketText {
		test.Fatalf("expected the raw qr text to be submitted, got %v", api.calls)
	}
	if len(recorder.attempts) != 1 || recorder.attempts[0].Status != ticketing.StatusVerified || recorder.attempts[0].TokenID != 1 || len(recorder.attempts[0].RawResponse) == 0 {
		test.Fatalf("unexpected recorded attempts %+v", recorder.attempts)
	}
}

func TestIncompleteAttemptIsRefusedLocally(test *testing.T) {
	test.Parallel()
	api := &stubVerifyAPI{responses: []gateway.VerifyResponse{{Status: "verified"}}}
	orchestrator := mustOrchestrator(test, api)
	cases := []struct {
		name     string
		payload  ticketing.TicketQRPayload
		evidence ticketing.CapturedEvidence
	}{
		{name: "no payload", evidence: mustEvidence(test)},
		{name: "no evidence", payload: mustPayload(test)},
		{name: "nothing"},
	}
	for _, tc := range cases {
		if _, err := orchestrator.Verify(context.Background(), tc.payload, tc.evidence); !errors.Is(err, ticketing.ErrIncompleteAttempt) {
			test.Fatalf("%s: expected ErrIncompleteAttempt, got %v", tc.name, err)
		}
	}
	if api.callCount() != 0 {
		test.Fatalf("expected no network calls, got %d", api.callCount())
	}
	if orchestrator.Last() != nil {
		test.Fatalf("expected no outcome")
	}
}

func TestAuthorityQuotaErrorSurfacesHint(test *testing.T) {
	test.Parallel()
	api := &stubVerifyAPI{responses: []gateway.VerifyResponse{decodeResponse(test, `{"verified":false,"status":"error","message":"OpenAI API quota exceeded. Please add credits to your OpenAI account","confidence":"unknown"}`)}}
	orchestrator := mustOrchestrator(test, api)

	outcome, err := orchestrator.Verify(context.Background(), mustPayload(test), mustEvidence(test))
	if err != nil {
		test.Fatalf("verify: %v", err)
	}
	errored, ok := outcome.(ticketing.Errored)
	if !ok {
		test.Fatalf("expected Errored, got %#v", outcome)
	}
	if outcome.Status() != ticketing.StatusError || errored.Score.Known() {
		test.Fatalf("unexpected errored outcome %#v", errored)
	}
	if !hasHint(errored.Hints, "quota") || !hasHint(errored.Hints, "openai") {
		test.Fatalf("expected quota and openai hints, got %+v", errored.Hints)
	}
	if !errors.Is(errored.Cause, ticketing.ErrAuthority) || errors.Is(errored.Cause, ticketing.ErrTransport) {
		test.Fatalf("expected an authority cause, got %v", errored.Cause)
	}
}

func TestTransportFailureBecomesErroredOutcome(test *testing.T) {
	test.Parallel()
	api := &stubVerifyAPI{err: &gateway.APIError{StatusCode: http.StatusBadRequest, Detail: "Invalid API key for Gemini"}}
	orchestrator := mustOrchestrator(test, api)
	outcome, err := orchestrator.Verify(context.Background(), mustPayload(test), mustEvidence(test))
	if err != nil {
		test.Fatalf("verify: %v", err)
	}
	errored, ok := outcome.(ticketing.Errored)
	if !ok || errored.Reason != "Invalid API key for Gemini" {
		test.Fatalf("expected errored outcome with server detail, got %#v", outcome)
	}
	if !hasHint(errored.Hints, "api_key") || !hasHint(errored.Hints, "gemini") {
		test.Fatalf("unexpected hints %+v", errored.Hints)
	}
	var apiError *gateway.APIError
	if !errors.Is(errored.Cause, ticketing.ErrTransport) || !errors.As(errored.Cause, &apiError) || errors.Is(errored.Cause, ticketing.ErrAuthority) {
		test.Fatalf("expected a transport cause, got %v", errored.Cause)
	}
}

func TestSecondAttemptReplacesOutcome(test *testing.T) {
	test.Parallel()
	api := &stubVerifyAPI{responses: []gateway.VerifyResponse{
		decodeResponse(test, `{"verified":false,"status":"suspicious","message":"Ticket already used","confidence":0.61}`),
		decodeResponse(test, `{"verified":false,"status":"denied","message":"Face mismatch","confidence":"low"}`),
	}}
	orchestrator := mustOrchestrator(test, api)
	first, err := orchestrator.Verify(context.Background(), mustPayload(test), mustEvidence(test))
	if err != nil {
		test.Fatalf("first verify: %v", err)
	}
	if _, ok := first.(ticketing.Suspicious); !ok {
		test.Fatalf("expected Suspicious, got %#v", first)
	}
	second, err := orchestrator.Verify(context.Background(), mustPayload(test), mustEvidence(test))
	if err != nil {
		test.Fatalf("second verify: %v", err)
	}
	denied, ok := second.(ticketing.Denied)
	if !ok || denied.Score.String() != "low" {
		test.Fatalf("expected Denied with label confidence, got %#v", second)
	}
	if orchestrator.Last() != second {
		test.Fatalf("expected the second outcome to replace the first")
	}
}

func TestConcurrentSubmissionIsRefused(test *testing.T) {
	test.Parallel()
	api := &stubVerifyAPI{
		responses: []gateway.VerifyResponse{{Status: "verified", Verified: true}},
		block:     make(chan struct{}),
		started:   make(chan struct{}),
	}
	orchestrator := mustOrchestrator(test, api)
	done := make(chan error, 1)
	go func() {
		_, err := orchestrator.Verify(context.Background(), mustPayload(test), mustEvidence(test))
		done <- err
	}()
	<-api.started
	if !orchestrator.InFlight() {
		test.Fatalf("expected in-flight submission")
	}
	if _, err := orchestrator.Verify(context.Background(), mustPayload(test), mustEvidence(test)); !errors.Is(err, ticketing.ErrSubmissionInFlight) {
		test.Fatalf("expected ErrSubmissionInFlight, got %v", err)
	}
	close(api.block)
	if err := <-done; err != nil {
		test.Fatalf("first verify: %v", err)
	}
	if api.callCount() != 1 || orchestrator.InFlight() {
		test.Fatalf("expected exactly one submission, got %d", api.callCount())
	}
}

func TestUnknownStatusIsAnError(test *testing.T) {
	test.Parallel()
	api := &stubVerifyAPI{responses: []gateway.VerifyResponse{{Status: "pending", Message: "queued"}}}
	outcome, err := mustOrchestrator(test, api).Verify(context.Background(), mustPayload(test), mustEvidence(test))
	if err != nil {
		test.Fatalf("verify: %v", err)
	}
	errored, ok := outcome.(ticketing.Errored)
	if !ok || !errors.Is(errored.Cause, ticketing.ErrAuthority) {
		test.Fatalf("expected authority error outcome, got %#v", outcome)
	}
}

func TestSessionDiscardsEvidenceAfterSubmit(test *testing.T) {
	test.Parallel()
	api := &stubVerifyAPI{responses: []gateway.VerifyResponse{{Status: "verified", Verified: true}}}
	session := NewSession(mustOrchestrator(test, api))
	if _, err := session.Submit(context.Background()); !errors.Is(err, ticketing.ErrIncompleteAttempt) {
		test.Fatalf("expected ErrIncompleteAttempt, got %v", err)
	}
	session.SetPayload(mustPayload(test))
	if session.Ready() {
		test.Fatalf("expected the selfie to be missing")
	}
	session.SetEvidence(mustEvidence(test))
	if !session.Ready() {
		test.Fatalf("expected both proofs")
	}
	if _, err := session.Submit(context.Background()); err != nil {
		test.Fatalf("submit: %v", err)
	}
	if session.Ready() {
		test.Fatalf("expected selfie to be discarded after verification")
	}
}

func TestRemediationHints(test *testing.T) {
	test.Parallel()
	cases := []struct {
		message string
		want    []string
	}{
		{message: "Hugging Face API rate limit exceeded", want: []string{"rate_limit", "huggingface"}},
		{message: "Failed to fetch metadata from IPFS", want: []string{"metadata"}},
		{message: "Claude model unavailable", want: []string{"model", "claude"}},
		{message: "Face mismatch", want: nil},
		{message: "upstream returned HTTP 429", want: []string{"rate_limit"}},
		{message: "Ticket 4290 face mismatch", want: nil},
	}
	for _, tc := range cases {
		hints := RemediationHints(tc.message)
		if len(hints) != len(tc.want) {
			test.Fatalf("%q: expected %v, got %+v", tc.message, tc.want, hints)
		}
		for index, key := range tc.want {
			if hints[index].Key != key {
				test.Fatalf("%q: expected %v, got %+v", tc.message, tc.want, hints)
			}
		}
	}
}

func hasHint(hints []ticketing.RemediationHint, key string) bool {
	for _, hint := range hints {
		if hint.Key == key {
			return true
		}
	}
	return false
}
