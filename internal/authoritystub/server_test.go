package authoritystub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/MarkoPoloResearchLab/ticketgate/internal/gateway"
	"github.com/MarkoPoloResearchLab/ticketgate/internal/walletauth"
	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

const testSigningKey = "stub-signing-key"

func newStub(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	if cfg.SigningKey == "" {
		cfg.SigningKey = testSigningKey
	}
	stub, err := NewServer(cfg, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	httpServer := httptest.NewServer(stub.Handler())
	t.Cleanup(httpServer.Close)
	return stub, httpServer
}

func newClient(t *testing.T, baseURL string, options ...gateway.ClientOption) *gateway.Client {
	t.Helper()
	client, err := gateway.New(baseURL, options...)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return client
}

func newWallet(t *testing.T) *walletauth.KeyWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	wallet, err := walletauth.NewKeyWallet(key)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	return wallet
}

func signedRequest(t *testing.T, wallet *walletauth.KeyWallet, message string) gateway.WalletAuthRequest {
	t.Helper()
	signature, err := wallet.SignMessage(context.Background(), wallet.Address(), message)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return gateway.WalletAuthRequest{WalletAddress: wallet.Address().String(), Signature: signature, Message: message}
}

func evidence(t *testing.T, name string) ticketing.CapturedEvidence {
	t.Helper()
	captured, err := ticketing.NewCapturedEvidence([]byte("\xff\xd8\xff\xe0 stub jpeg "+name), name, "image/jpeg", time.Now(), ticketing.EvidenceSourceUpload)
	if err != nil {
		t.Fatalf("evidence: %v", err)
	}
	return captured
}

func TestWalletAuthIssuesSessionToken(t *testing.T) {
	t.Parallel()
	stub, httpServer := newStub(t, Config{})
	client := newClient(t, httpServer.URL)
	wallet := newWallet(t)
	ctx := context.Background()

	response, err := client.AuthenticateWallet(ctx, signedRequest(t, wallet, "Sign this message\nNonce: 1"))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if response.IsOrganizer || response.Message != "User created" || response.SessionToken == "" {
		t.Fatalf("unexpected first login %+v", response)
	}

	stub.MakeOrganizer(wallet.Address().String())
	response, err = client.AuthenticateWallet(ctx, signedRequest(t, wallet, "Sign this message\nNonce: 2"))
	if err != nil {
		t.Fatalf("authenticate again: %v", err)
	}
	if !response.IsOrganizer || response.Message != "Login successful" {
		t.Fatalf("unexpected organizer login %+v", response)
	}
}

func TestWalletAuthRejectsForeignSignature(t *testing.T) {
	t.Parallel()
	_, httpServer := newStub(t, Config{})
	client := newClient(t, httpServer.URL)
	signer := newWallet(t)
	claimed := newWallet(t)

	request := signedRequest(t, signer, "Sign this message\nNonce: 1")
	request.WalletAddress = claimed.Address().String()
	_, err := client.AuthenticateWallet(context.Background(), request)
	var apiError *gateway.APIError
	if !errors.As(err, &apiError) || apiError.StatusCode != http.StatusUnauthorized || apiError.Detail != "Invalid signature" {
		t.Fatalf("expected 401 invalid signature, got %v", err)
	}
}

func TestCreateEventRequiresOrganizer(t *testing.T) {
	t.Parallel()
	organizer := newWallet(t)
	_, httpServer := newStub(t, Config{Organizers: []string{organizer.Address().String()}})
	client := newClient(t, httpServer.URL)
	attendee := newWallet(t)
	ctx := context.Background()
	request := gateway.CreateEventRequest{
		Title:       "Launch",
		Description: "Launch party",
		Date:        time.Date(2026, 12, 1, 20, 0, 0, 0, time.UTC),
		Venue:       "Hall A",
		TicketPrice: 0.05,
		TotalSupply: 1,
	}

	request.OrganizerAddress = attendee.Address()
	_, err := client.CreateEvent(ctx, request)
	var apiError *gateway.APIError
	if !errors.As(err, &apiError) || apiError.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}

	request.OrganizerAddress = organizer.Address()
	request.Image = evidence(t, "poster.jpg")
	created, err := client.CreateEvent(ctx, request)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if created.EventID == "" || created.Event.ImageURL == "" || created.Event.Available() != 1 {
		t.Fatalf("unexpected created event %+v", created)
	}
	events, err := client.Events(ctx)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected one listed event, got %d (%v)", len(events), err)
	}
	eventID, err := ticketing.NewEventID(created.EventID)
	if err != nil {
		t.Fatalf("event id: %v", err)
	}
	event, err := client.Event(ctx, eventID)
	if err != nil || event.Title != "Launch" || event.Date != "2026-12-01T20:00:00Z" {
		t.Fatalf("unexpected event %+v (%v)", event, err)
	}
}

func TestMintListsTicketAndSellsOut(t *testing.T) {
	t.Parallel()
	stub, httpServer := newStub(t, Config{})
	client := newClient(t, httpServer.URL)
	buyer := newWallet(t)
	ctx := context.Background()
	eventID, err := ticketing.NewEventID(stub.SeedEvent(gateway.Event{Title: "Show", Venue: "Arena", Date: "2026-11-01T19:00:00Z", TotalSupply: 1}))
	if err != nil {
		t.Fatalf("event id: %v", err)
	}

	minted, err := client.MintTicket(ctx, gateway.MintRequest{EventID: eventID, WalletAddress: buyer.Address(), BuyerImage: evidence(t, "buyer.jpg")})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	payload, err := minted.Payload()
	if err != nil {
		t.Fatalf("minted qr payload: %v", err)
	}
	if payload.TokenID() != 1 || payload.EventID() != eventID || minted.TxHash == "" {
		t.Fatalf("unexpected mint %+v", minted)
	}

	_, err = client.MintTicket(ctx, gateway.MintRequest{EventID: eventID, WalletAddress: buyer.Address(), BuyerImage: evidence(t, "again.jpg")})
	var apiError *gateway.APIError
	if !errors.As(err, &apiError) || apiError.Detail != "Event sold out" {
		t.Fatalf("expected sold out, got %v", err)
	}

	tickets, err := client.Tickets(ctx, buyer.Address())
	if err != nil {
		t.Fatalf("tickets: %v", err)
	}
	if len(tickets.Tickets) != 1 || tickets.Tickets[0].Event == nil || tickets.Tickets[0].Event.Title != "Show" {
		t.Fatalf("unexpected tickets %+v", tickets)
	}
	listed, err := tickets.Tickets[0].Payload()
	if err != nil || listed.Raw() != payload.Raw() {
		t.Fatalf("listed payload %q differs from minted %q (%v)", listed.Raw(), payload.Raw(), err)
	}
}

func TestVerifyAnswersScriptedVerdict(t *testing.T) {
	t.Parallel()
	stub, httpServer := newStub(t, Config{})
	client := newClient(t, httpServer.URL)
	ctx := context.Background()
	qrText := `{"token_id":1,"event_id":"evt123","metadata_uri":"ipfs://abc"}`

	response, err := client.Verify(ctx, qrText, evidence(t, "selfie.jpg"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !response.Verified || response.Status != "verified" || response.Confidence.String() != "0.97" {
		t.Fatalf("unexpected default verdict %+v", response)
	}

	stub.SetVerdict(Verdict{Status: "error", Message: "OpenAI quota exceeded", Confidence: ticketing.UnknownConfidence()})
	response, err = client.Verify(ctx, qrText, evidence(t, "selfie.jpg"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if response.Verified || response.Status != "error" || response.Confidence.Known() {
		t.Fatalf("unexpected scripted verdict %+v", response)
	}

	stub.SetVerdict(Verdict{HTTPStatus: http.StatusInternalServerError, Message: "Verification failed: provider down"})
	_, err = client.Verify(ctx, qrText, evidence(t, "selfie.jpg"))
	var apiError *gateway.APIError
	if !errors.As(err, &apiError) || apiError.StatusCode != http.StatusInternalServerError || apiError.Detail != "Verification failed: provider down" {
		t.Fatalf("expected scripted 500, got %v", err)
	}

	_, err = client.Verify(ctx, "not-json", evidence(t, "selfie.jpg"))
	if !errors.As(err, &apiError) || apiError.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed qr, got %v", err)
	}

	logs, err := client.VerificationLogs(ctx)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 2 || logs[0].Status != "error" || logs[1].Status != "verified" {
		t.Fatalf("expected newest-first logs, got %+v", logs)
	}
	if stub.VerifyCalls() != 4 {
		t.Fatalf("expected four verify calls, got %d", stub.VerifyCalls())
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: Config{SigningKey: "k"}},
		{name: "missing key", cfg: Config{}, wantErr: true},
		{name: "unknown status", cfg: Config{SigningKey: "k", VerifyStatus: "maybe"}, wantErr: true},
		{name: "bad organizer", cfg: Config{SigningKey: "k", Organizers: []string{"0x123"}}, wantErr: true},
	}
	for _, testCase := range cases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			err := testCase.cfg.Validate()
			if testCase.wantErr != (err != nil) {
				t.Fatalf("wantErr=%v got %v", testCase.wantErr, err)
			}
			if err != nil && !errors.Is(err, ticketing.ErrInvalidServiceConfig) {
				t.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
			}
			if err == nil && (testCase.cfg.ListenAddr != ":8000" || testCase.cfg.VerifyStatus != "verified") {
				t.Fatalf("defaults not applied: %+v", testCase.cfg)
			}
		})
	}
}
