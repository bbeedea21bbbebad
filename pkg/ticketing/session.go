package ticketing

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// SessionStore persists the wallet session across runs. Set and Clear touch
// every storage key together.
type SessionStore interface {
	Get(ctx context.Context) (WalletSession, bool, error)
	Set(ctx context.Context, session WalletSession) error
	Clear(ctx context.Context) error
}

// SessionStorageKeys lists every key owned by the wallet session.
func SessionStorageKeys() []string {
	return []string{StorageKeyWalletAddress, StorageKeyIsOrganizer, StorageKeySessionToken, StorageKeyTokenExpires}
}

// EncodeSession flattens a session into string storage values.
func EncodeSession(session WalletSession) (map[string]string, error) {
	if session.IsZero() {
		return nil, fmt.Errorf("%w: empty address", ErrInvalidWalletAddress)
	}
	values := map[string]string{
		StorageKeyWalletAddress: session.Address.String(),
		StorageKeyIsOrganizer:   strconv.FormatBool(session.IsOrganizer),
		StorageKeySessionToken:  session.SessionToken,
		StorageKeyTokenExpires:  "",
	}
	if !session.TokenExpiresAt.IsZero() {
		values[StorageKeyTokenExpires] = strconv.FormatInt(session.TokenExpiresAt.UTC().Unix(), 10)
	}
	return values, nil
}

// DecodeSession rebuilds a session from storage values. A missing wallet
// address means no session.
func DecodeSession(values map[string]string) (WalletSession, bool, error) {
	rawAddress, ok := values[StorageKeyWalletAddress]
	if !ok || rawAddress == "" {
		return WalletSession{}, false, nil
	}
	address, err := NewWalletAddress(rawAddress)
	if err != nil {
		return WalletSession{}, false, err
	}
	session := WalletSession{
		Address:      address,
		IsOrganizer:  values[StorageKeyIsOrganizer] == "true",
		SessionToken: values[StorageKeySessionToken],
	}
	if rawExpiry := values[StorageKeyTokenExpires]; rawExpiry != "" {
		unixSeconds, err := strconv.ParseInt(rawExpiry, 10, 64)
		if err != nil {
			return WalletSession{}, false, fmt.Errorf("decode session expiry: %w", err)
		}
		session.TokenExpiresAt = time.Unix(unixSeconds, 0).UTC()
	}
	return session, true, nil
}
