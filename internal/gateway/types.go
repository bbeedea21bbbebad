package gateway

import (
	"encoding/json"
	"time"

	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

// WalletAuthRequest is the body of POST /auth/wallet.
type WalletAuthRequest struct {
	WalletAddress string `json:"wallet_address"`
	Signature     string `json:"signature"`
	Message       string `json:"message"`
}

// WalletAuthResponse is the authority's answer to a signed challenge.
type WalletAuthResponse struct {
	Message       string `json:"message"`
	WalletAddress string `json:"wallet_address"`
	IsOrganizer   bool   `json:"is_organizer"`
	SessionToken  string `json:"session_token,omitempty"`
}

// VerifyResponse is the structured trust decision returned by POST /verify.
type VerifyResponse struct {
	Verified   bool                 `json:"verified"`
	Status     string               `json:"status"`
	Message    string               `json:"message"`
	Confidence ticketing.Confidence `json:"confidence"`
	Raw        json.RawMessage      `json:"-"`
}

// MintRequest carries the multipart fields of POST /tickets/mint.
type MintRequest struct {
	EventID       ticketing.EventID
	WalletAddress ticketing.WalletAddress
	BuyerImage    ticketing.CapturedEvidence
}

// MintResponse describes a freshly minted ticket.
type MintResponse struct {
	Message     string `json:"message"`
	TokenID     int64  `json:"token_id"`
	TxHash      string `json:"tx_hash"`
	QRCodeData  string `json:"qr_code_data"`
	MetadataURI string `json:"metadata_uri"`
}

// Payload validates the QR text produced by minting.
func (response MintResponse) Payload() (ticketing.TicketQRPayload, error) {
	return ticketing.ParseTicketQRPayload(response.QRCodeData)
}

// TicketEvent is the event summary embedded in ticket listings.
type TicketEvent struct {
	Title string `json:"title"`
	Venue string `json:"venue"`
	Date  string `json:"date"`
}

// TicketRecord is one ticket owned by a wallet.
type TicketRecord struct {
	ID           string       `json:"_id,omitempty"`
	TokenID      int64        `json:"token_id"`
	EventID      string       `json:"event_id"`
	OwnerAddress string       `json:"owner_address"`
	MetadataURI  string       `json:"metadata_uri"`
	QRCodeData   string       `json:"qr_code_data"`
	TxHash       string       `json:"tx_hash,omitempty"`
	MintedAt     string       `json:"minted_at,omitempty"`
	Event        *TicketEvent `json:"event,omitempty"`
}

// Payload returns the ticket's QR payload, preferring the stored QR text.
func (record TicketRecord) Payload() (ticketing.TicketQRPayload, error) {
	if record.QRCodeData != "" {
		return ticketing.ParseTicketQRPayload(record.QRCodeData)
	}
	tokenID, err := ticketing.NewTokenID(record.TokenID)
	if err != nil {
		return ticketing.TicketQRPayload{}, err
	}
	eventID, err := ticketing.NewEventID(record.EventID)
	if err != nil {
		return ticketing.TicketQRPayload{}, err
	}
	metadataURI, err := ticketing.NewMetadataURI(record.MetadataURI)
	if err != nil {
		return ticketing.TicketQRPayload{}, err
	}
	return ticketing.NewTicketQRPayload(tokenID, eventID, metadataURI)
}

// TicketsResponse is the body of GET /tickets/{wallet_address}.
type TicketsResponse struct {
	Tickets           []TicketRecord    `json:"tickets"`
	BlockchainTickets []json.RawMessage `json:"blockchain_tickets,omitempty"`
}

// Event is a listed event.
type Event struct {
	ID               string  `json:"_id"`
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	Date             string  `json:"date"`
	Venue            string  `json:"venue"`
	ImageURL         string  `json:"image_url"`
	TicketPrice      float64 `json:"ticket_price"`
	TotalSupply      int64   `json:"total_supply"`
	SoldCount        int64   `json:"sold_count"`
	OrganizerAddress string  `json:"organizer_address"`
}

// Available returns the number of unsold tickets.
func (event Event) Available() int64 {
	remaining := event.TotalSupply - event.SoldCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CreateEventRequest carries the multipart fields of POST /events.
type CreateEventRequest struct {
	Title            string
	Description      string
	Date             time.Time
	Venue            string
	TicketPrice      float64
	TotalSupply      int64
	OrganizerAddress ticketing.WalletAddress
	Image            ticketing.CapturedEvidence
}

// CreateEventResponse is returned after an event is stored.
type CreateEventResponse struct {
	Message string `json:"message"`
	EventID string `json:"event_id"`
	Event   Event  `json:"event"`
}

// VerificationLogEntry is one row of GET /verify/logs.
type VerificationLogEntry struct {
	ID         string          `json:"_id"`
	TokenID    int64           `json:"token_id"`
	Status     string          `json:"status"`
	Verified   bool            `json:"verified"`
	Reason     string          `json:"reason"`
	VerifiedAt string          `json:"verified_at"`
	TicketInfo json.RawMessage `json:"ticket_info,omitempty"`
}
