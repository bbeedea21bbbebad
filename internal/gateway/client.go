package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

const (
	// DefaultBaseURL is used when no base URL is configured.
	DefaultBaseURL = "http://localhost:8000"

	pathAuthWallet = "/auth/wallet"
	pathVerify     = "/verify"
	pathVerifyLogs = "/verify/logs"
	pathMint       = "/tickets/mint"
	pathTickets    = "/tickets/"
	pathEvents     = "/events"

	fieldQRData        = "qr_data"
	fieldSelfie        = "selfie"
	fieldEventID       = "event_id"
	fieldWalletAddress = "wallet_address"
	fieldBuyerImage    = "buyer_image"
	fieldImage         = "image"

	maxErrorBodyBytes = 64 << 10
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default transport. Timeouts belong to this client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithSessionStore attaches the stored session token as a bearer credential.
func WithSessionStore(store ticketing.SessionStore) ClientOption {
	return func(client *Client) {
		client.sessions = store
	}
}

// Client is the typed transport to the ticketing API. It never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	sessions   ticketing.SessionStore
}

// New builds a Client for baseURL (see ResolveBaseURL).
func New(baseURL string, options ...ClientOption) (*Client, error) {
	resolved, err := ResolveBaseURL(baseURL, "")
	if err != nil {
		return nil, err
	}
	client := &Client{baseURL: resolved, httpClient: http.DefaultClient}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

// BaseURL returns the resolved API root.
func (client *Client) BaseURL() string {
	return client.baseURL
}

// ResolveBaseURL normalizes the configured API root. An empty value falls back
// to DefaultBaseURL; a path-only value ("/api") is joined to origin, which is
// how a same-origin deployment is expressed.
func ResolveBaseURL(configured string, origin string) (string, error) {
	trimmed := strings.TrimSpace(configured)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if strings.HasPrefix(trimmed, "/") {
		trimmedOrigin := strings.TrimRight(strings.TrimSpace(origin), "/")
		if trimmedOrigin == "" {
			return "", fmt.Errorf("%w: relative base url %q needs an origin", ticketing.ErrInvalidServiceConfig, configured)
		}
		trimmed = trimmedOrigin + trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: base url: %v", ticketing.ErrInvalidServiceConfig, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: base url %q must be http or https", ticketing.ErrInvalidServiceConfig, configured)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: base url %q has no host", ticketing.ErrInvalidServiceConfig, configured)
	}
	return strings.TrimRight(trimmed, "/"), nil
}

// AuthenticateWallet submits a signed challenge to POST /auth/wallet.
func (client *Client) AuthenticateWallet(ctx context.Context, request WalletAuthRequest) (WalletAuthResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return WalletAuthResponse{}, fmt.Errorf("encode wallet auth: %w", err)
	}
	var response WalletAuthResponse
	if err := client.do(ctx, http.MethodPost, pathAuthWallet, "application/json", bytes.NewReader(body), &response); err != nil {
		return WalletAuthResponse{}, err
	}
	return response, nil
}

// Verify sends the raw QR text and the selfie to POST /verify.
func (client *Client) Verify(ctx context.Context, qrData string, selfie ticketing.CapturedEvidence) (VerifyResponse, error) {
	form := newMultipartForm()
	form.addField(fieldQRData, qrData)
	form.addFile(fieldSelfie, selfie)
	contentType, body, err := form.finish()
	if err != nil {
		return VerifyResponse{}, err
	}
	var raw json.RawMessage
	if err := client.do(ctx, http.MethodPost, pathVerify, contentType, body, &raw); err != nil {
		return VerifyResponse{}, err
	}
	var response VerifyResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return VerifyResponse{}, fmt.Errorf("%w: decode verify response: %v", ticketing.ErrTransport, err)
	}
	response.Raw = raw
	return response, nil
}

// MintTicket sends POST /tickets/mint.
func (client *Client) MintTicket(ctx context.Context, request MintRequest) (MintResponse, error) {
	form := newMultipartForm()
	form.addField(fieldEventID, request.EventID.String())
	form.addField(fieldWalletAddress, request.WalletAddress.String())
	form.addFile(fieldBuyerImage, request.BuyerImage)
	contentType, body, err := form.finish()
	if err != nil {
		return MintResponse{}, err
	}
	var response MintResponse
	if err := client.do(ctx, http.MethodPost, pathMint, contentType, body, &response); err != nil {
		return MintResponse{}, err
	}
	return response, nil
}

// Tickets lists the tickets owned by wallet.
func (client *Client) Tickets(ctx context.Context, wallet ticketing.WalletAddress) (TicketsResponse, error) {
	var response TicketsResponse
	if err := client.do(ctx, http.MethodGet, pathTickets+url.PathEscape(wallet.String()), "", nil, &response); err != nil {
		return TicketsResponse{}, err
	}
	return response, nil
}

// Events lists every event.
func (client *Client) Events(ctx context.Context) ([]Event, error) {
	var response []Event
	if err := client.do(ctx, http.MethodGet, pathEvents, "", nil, &response); err != nil {
		return nil, err
	}
	return response, nil
}

// Event loads one event.
func (client *Client) Event(ctx context.Context, eventID ticketing.EventID) (Event, error) {
	var response Event
	if err := client.do(ctx, http.MethodGet, pathEvents+"/"+url.PathEscape(eventID.String()), "", nil, &response); err != nil {
		return Event{}, err
	}
	return response, nil
}

// CreateEvent sends POST /events.
func (client *Client) CreateEvent(ctx context.Context, request CreateEventRequest) (CreateEventResponse, error) {
	form := newMultipartForm()
	form.addField("title", request.Title)
	form.addField("description", request.Description)
	form.addField("date", request.Date.UTC().Format(time.RFC3339))
	form.addField("venue", request.Venue)
	form.addField("ticket_price", strconv.FormatFloat(request.TicketPrice, 'f', -1, 64))
	form.addField("total_supply", strconv.FormatInt(request.TotalSupply, 10))
	form.addField("organizer_address", request.OrganizerAddress.String())
	if !request.Image.IsZero() {
		form.addFile(fieldImage, request.Image)
	}
	contentType, body, err := form.finish()
	if err != nil {
		return CreateEventResponse{}, err
	}
	var response CreateEventResponse
	if err := client.do(ctx, http.MethodPost, pathEvents, contentType, body, &response); err != nil {
		return CreateEventResponse{}, err
	}
	return response, nil
}

// VerificationLogs returns the authority's recent verification attempts.
func (client *Client) VerificationLogs(ctx context.Context) ([]VerificationLogEntry, error) {
	var response []VerificationLogEntry
	if err := client.do(ctx, http.MethodGet, pathVerifyLogs, "", nil, &response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) do(ctx context.Context, method string, path string, contentType string, body io.Reader, target any) error {
	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	request.Header.Set("Accept", "application/json")
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	if err := client.authorize(ctx, request); err != nil {
		return err
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ticketing.ErrTransport, method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		errorBody, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return newAPIError(response.StatusCode, errorBody)
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %s %s: empty response body", ticketing.ErrTransport, method, path)
		}
		return fmt.Errorf("%w: decode %s %s: %v", ticketing.ErrTransport, method, path, err)
	}
	return nil
}

func (client *Client) authorize(ctx context.Context, request *http.Request) error {
	if client.sessions == nil {
		return nil
	}
	session, ok, err := client.sessions.Get(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if ok && session.SessionToken != "" {
		request.Header.Set("Authorization", "Bearer "+session.SessionToken)
	}
	return nil
}
