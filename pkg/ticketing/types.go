package ticketing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// WalletAddress is a 20-byte account identifier.
type WalletAddress struct {
	value common.Address
}

// NewWalletAddress validates a 0x-prefixed hex address.
func NewWalletAddress(raw string) (WalletAddress, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return WalletAddress{}, fmt.Errorf("%w: %q", ErrInvalidWalletAddress, raw)
	}
	address := common.HexToAddress(trimmed)
	if address == (common.Address{}) {
		return WalletAddress{}, fmt.Errorf("%w: zero address", ErrInvalidWalletAddress)
	}
	return WalletAddress{value: address}, nil
}

// WalletAddressFromCommon wraps an already decoded address.
func WalletAddressFromCommon(address common.Address) WalletAddress {
	return WalletAddress{value: address}
}

// String returns the EIP-55 checksummed form.
func (address WalletAddress) String() string {
	if address.IsZero() {
		return ""
	}
	return address.value.Hex()
}

// Common returns the go-ethereum representation.
func (address WalletAddress) Common() common.Address {
	return address.value
}

// IsZero reports whether the address is unset.
func (address WalletAddress) IsZero() bool {
	return address.value == (common.Address{})
}

// TokenID identifies a minted ticket NFT.
type TokenID int64

// NewTokenID validates a token id.
func NewTokenID(raw int64) (TokenID, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must be zero or greater", ErrInvalidTokenID)
	}
	return TokenID(raw), nil
}

// Int64 exposes the raw value.
func (tokenID TokenID) Int64() int64 {
	return int64(tokenID)
}

// String formats the token id in base 10.
func (tokenID TokenID) String() string {
	return strconv.FormatInt(int64(tokenID), 10)
}

// EventID is an opaque event identifier.
type EventID struct {
	value string
}

// NewEventID validates and normalizes an event id.
func NewEventID(raw string) (EventID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EventID{}, fmt.Errorf("%w: empty value", ErrInvalidEventID)
	}
	return EventID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id EventID) String() string {
	return id.value
}

// MetadataURI points at the ticket's NFT metadata document.
type MetadataURI struct {
	value string
}

// NewMetadataURI validates a URI carrying a scheme (ipfs://, https://, ...).
func NewMetadataURI(raw string) (MetadataURI, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return MetadataURI{}, fmt.Errorf("%w: empty value", ErrInvalidMetadataURI)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return MetadataURI{}, fmt.Errorf("%w: %v", ErrInvalidMetadataURI, err)
	}
	if parsed.Scheme == "" {
		return MetadataURI{}, fmt.Errorf("%w: missing scheme", ErrInvalidMetadataURI)
	}
	return MetadataURI{value: trimmed}, nil
}

// String returns the URI.
func (uri MetadataURI) String() string {
	return uri.value
}

// TicketQRPayload is the validated ticket reference carried by a QR symbol.
type TicketQRPayload struct {
	tokenID     TokenID
	eventID     EventID
	metadataURI MetadataURI
	raw         string
}

// NewTicketQRPayload builds a payload and its canonical wire text.
func NewTicketQRPayload(tokenID TokenID, eventID EventID, metadataURI MetadataURI) (TicketQRPayload, error) {
	if eventID.String() == "" {
		return TicketQRPayload{}, fmt.Errorf("%w: empty value", ErrInvalidEventID)
	}
	if metadataURI.String() == "" {
		return TicketQRPayload{}, fmt.Errorf("%w: empty value", ErrInvalidMetadataURI)
	}
	wire := qrWirePayload{
		TokenID:     tokenID.Int64(),
		EventID:     eventID.String(),
		MetadataURI: metadataURI.String(),
	}
	encoded, err := json.Marshal(wire)
	if err != nil {
		return TicketQRPayload{}, err
	}
	return TicketQRPayload{tokenID: tokenID, eventID: eventID, metadataURI: metadataURI, raw: string(encoded)}, nil
}

type qrWirePayload struct {
	TokenID     int64  `json:"token_id"`
	EventID     string `json:"event_id"`
	MetadataURI string `json:"metadata_uri"`
}

// ParseTicketQRPayload validates decoded or pasted QR text. Every failure wraps
// ErrMalformedPayload.
func ParseTicketQRPayload(text string) (TicketQRPayload, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return TicketQRPayload{}, fmt.Errorf("%w: empty text", ErrMalformedPayload)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return TicketQRPayload{}, fmt.Errorf("%w: expected JSON object: %v", ErrMalformedPayload, err)
	}
	if fields == nil {
		return TicketQRPayload{}, fmt.Errorf("%w: expected JSON object", ErrMalformedPayload)
	}

	tokenID, err := parseTokenIDField(fields)
	if err != nil {
		return TicketQRPayload{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	eventRaw, err := parseStringField(fields, qrFieldEventID)
	if err != nil {
		return TicketQRPayload{}, fmt.Errorf("%w: %w: %v", ErrMalformedPayload, ErrInvalidEventID, err)
	}
	eventID, err := NewEventID(eventRaw)
	if err != nil {
		return TicketQRPayload{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	uriRaw, err := parseStringField(fields, qrFieldMetadataURI)
	if err != nil {
		return TicketQRPayload{}, fmt.Errorf("%w: %w: %v", ErrMalformedPayload, ErrInvalidMetadataURI, err)
	}
	metadataURI, err := NewMetadataURI(uriRaw)
	if err != nil {
		return TicketQRPayload{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return TicketQRPayload{tokenID: tokenID, eventID: eventID, metadataURI: metadataURI, raw: trimmed}, nil
}

func parseTokenIDField(fields map[string]json.RawMessage) (TokenID, error) {
	raw, ok := fields[qrFieldTokenID]
	if !ok || isJSONNull(raw) {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidTokenID, qrFieldTokenID)
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !(trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9')) {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidTokenID, qrFieldTokenID)
	}
	value, err := strconv.ParseInt(string(trimmed), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidTokenID, qrFieldTokenID)
	}
	return NewTokenID(value)
}

func parseStringField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok || isJSONNull(raw) {
		return "", fmt.Errorf("missing %s", name)
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("%s must be a string", name)
	}
	return value, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// TokenID returns the minted token id.
func (payload TicketQRPayload) TokenID() TokenID {
	return payload.tokenID
}

// EventID returns the event reference.
func (payload TicketQRPayload) EventID() EventID {
	return payload.eventID
}

// MetadataURI returns the NFT metadata location.
func (payload TicketQRPayload) MetadataURI() MetadataURI {
	return payload.metadataURI
}

// Raw returns the validated text exactly as captured.
func (payload TicketQRPayload) Raw() string {
	return payload.raw
}

// IsZero reports whether the payload was never captured.
func (payload TicketQRPayload) IsZero() bool {
	return payload.raw == ""
}

// WalletSession is the proven wallet identity persisted between runs.
type WalletSession struct {
	Address        WalletAddress
	IsOrganizer    bool
	SessionToken   string
	TokenExpiresAt time.Time
}

// IsZero reports whether no wallet is connected.
func (session WalletSession) IsZero() bool {
	return session.Address.IsZero()
}

// EvidenceSource tells where a CapturedEvidence came from.
type EvidenceSource string

const (
	EvidenceSourceCamera EvidenceSource = "camera"
	EvidenceSourceUpload EvidenceSource = "upload"
)

// CapturedEvidence is an in-memory image submitted as the biometric proof.
type CapturedEvidence struct {
	data        []byte
	filename    string
	contentType string
	capturedAt  time.Time
	source      EvidenceSource
}

// NewCapturedEvidence validates an evidence artifact.
func NewCapturedEvidence(data []byte, filename string, contentType string, capturedAt time.Time, source EvidenceSource) (CapturedEvidence, error) {
	if len(data) == 0 {
		return CapturedEvidence{}, fmt.Errorf("%w: empty image", ErrInvalidEvidence)
	}
	trimmedName := strings.TrimSpace(filename)
	if trimmedName == "" {
		return CapturedEvidence{}, fmt.Errorf("%w: empty filename", ErrInvalidEvidence)
	}
	if source != EvidenceSourceCamera && source != EvidenceSourceUpload {
		return CapturedEvidence{}, fmt.Errorf("%w: unknown source %q", ErrInvalidEvidence, source)
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = "application/octet-stream"
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	return CapturedEvidence{
		data:        copied,
		filename:    trimmedName,
		contentType: contentType,
		capturedAt:  capturedAt.UTC(),
		source:      source,
	}, nil
}

// Data returns the image bytes.
func (evidence CapturedEvidence) Data() []byte {
	return evidence.data
}

// Filename returns the generated or selected file name.
func (evidence CapturedEvidence) Filename() string {
	return evidence.filename
}

// ContentType returns the MIME type.
func (evidence CapturedEvidence) ContentType() string {
	return evidence.contentType
}

// CapturedAt returns the capture or selection time.
func (evidence CapturedEvidence) CapturedAt() time.Time {
	return evidence.capturedAt
}

// Source returns camera or upload.
func (evidence CapturedEvidence) Source() EvidenceSource {
	return evidence.source
}

// IsZero reports whether no evidence is held.
func (evidence CapturedEvidence) IsZero() bool {
	return len(evidence.data) == 0
}
