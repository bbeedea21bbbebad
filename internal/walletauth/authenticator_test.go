package walletauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"

	"github.com/MarkoPoloResearchLab/ticketgate/internal/gateway"
	"github.com/MarkoPoloResearchLab/ticketgate/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

type stubAuthAPI struct {
	mu          sync.Mutex
	isOrganizer bool
	token       string
	err         error
	requests    []gateway.WalletAuthRequest
}

func (api *stubAuthAPI) AuthenticateWallet(_ context.Context, request gateway.WalletAuthRequest) (gateway.WalletAuthResponse, error) {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.requests = append(api.requests, request)
	if api.err != nil {
		return gateway.WalletAuthResponse{}, api.err
	}
	signer, err := RecoverSigner(request.Message, request.Signature)
	if err != nil {
		return gateway.WalletAuthResponse{}, &gateway.APIError{StatusCode: http.StatusUnauthorized, Detail: err.Error()}
	}
	if !strings.EqualFold(signer.Hex(), request.WalletAddress) {
		return gateway.WalletAuthResponse{}, &gateway.APIError{StatusCode: http.StatusUnauthorized, Detail: "Invalid signature"}
	}
	return gateway.WalletAuthResponse{
		Message:       "Authentication successful",
		WalletAddress: request.WalletAddress,
		IsOrganizer:   api.isOrganizer,
		SessionToken:  api.token,
	}, nil
}

type rejectingWallet struct {
	address ticketing.WalletAddress
}

func (wallet rejectingWallet) Connect(context.Context) (ticketing.WalletAddress, error) {
	return wallet.address, nil
}

func (wallet rejectingWallet) SignMessage(context.Context, ticketing.WalletAddress, string) (string, error) {
	return "", fmt.Errorf("%w: user denied message signature", ticketing.ErrUserRejected)
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []ticketing.OperationLog
}

func (logger *recordingLogger) LogOperation(_ context.Context, entry ticketing.OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func mustKeyWallet(test *testing.T) *KeyWallet {
	test.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		test.Fatalf("generate key: %v", err)
	}
	wallet, err := NewKeyWallet(key)
	if err != nil {
		test.Fatalf("key wallet: %v", err)
	}
	return wallet
}

func mustAuthenticator(test *testing.T, wallet Wallet, api AuthAPI, store ticketing.SessionStore, options ...Option) *Authenticator {
	test.Helper()
	authenticator, err := New(wallet, api, store, options...)
	if err != nil {
		test.Fatalf("new authenticator: %v", err)
	}
	return authenticator
}

func TestLoginPersistsNonOrganizerSession(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	wallet := mustKeyWallet(test)
	api := &stubAuthAPI{isOrganizer: false}
	store := memstore.NewSessionStore()
	logger := &recordingLogger{}
	authenticator := mustAuthenticator(test, wallet, api, store, WithOperationLogger(logger))

	session, err := authenticator.Login(ctx)
	if err != nil {
		test.Fatalf("login: %v", err)
	}
	if session.Address != wallet.Address() || session.IsOrganizer {
		test.Fatalf("unexpected session %+v", session)
	}
	values := store.Values()
	if values[ticketing.StorageKeyWalletAddress] != wallet.Address().String() || values[ticketing.StorageKeyIsOrganizer] != "false" {
		test.Fatalf("unexpected stored values %v", values)
	}
	if _, err := authenticator.RequireOrganizer(ctx); !errors.Is(err, ticketing.ErrNotOrganizer) {
		test.Fatalf("expected organizer actions to stay gated, got %v", err)
	}
	if len(api.requests) != 1 || !strings.HasPrefix(api.requests[0].Message, DefaultChallengePrefix+"\nNonce: ") {
		test.Fatalf("unexpected challenge %+v", api.requests)
	}
	if len(logger.entries) != 2 || logger.entries[0].Operation != ticketing.OperationConnect || logger.entries[1].Operation != ticketing.OperationAuthenticate {
		test.Fatalf("unexpected log entries %+v", logger.entries)
	}
	for _, entry := range logger.entries {
		if entry.Status != ticketing.OperationStatusOK {
			test.Fatalf("expected ok entries, got %+v", entry)
		}
	}
}

func TestAuthenticateFailuresPersistNothing(test *testing.T) {
	test.Parallel()
	wallet := mustKeyWallet(test)
	cases := []struct {
		name    string
		wallet  Wallet
		api     *stubAuthAPI
		wantErr error
	}{
		{name: "user declines signing", wallet: rejectingWallet{address: wallet.Address()}, api: &stubAuthAPI{}, wantErr: ticketing.ErrUserRejected},
		{name: "authority rejects signature", wallet: wallet, api: &stubAuthAPI{err: &gateway.APIError{StatusCode: http.StatusUnauthorized, Detail: "Invalid signature"}}, wantErr: ticketing.ErrSignatureRejected},
		{name: "authority unreachable", wallet: wallet, api: &stubAuthAPI{err: ticketing.ErrTransport}, wantErr: ticketing.ErrTransport},
	}
	for _, tc := range cases {
		tc := tc
		test.Run(tc.name, func(test *testing.T) {
			test.Parallel()
			store := memstore.NewSessionStore()
			authenticator := mustAuthenticator(test, tc.wallet, tc.api, store)
			_, err := authenticator.Login(context.Background())
			if !errors.Is(err, tc.wantErr) {
				test.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if len(store.Values()) != 0 {
				test.Fatalf("expected no session keys, got %v", store.Values())
			}
		})
	}
}

func TestConnectWithoutWallet(test *testing.T) {
	test.Parallel()
	authenticator := mustAuthenticator(test, UnavailableWallet{}, &stubAuthAPI{}, memstore.NewSessionStore())
	if _, err := authenticator.Connect(context.Background()); !errors.Is(err, ticketing.ErrWalletUnavailable) {
		test.Fatalf("expected ErrWalletUnavailable, got %v", err)
	}
}

func TestChallengeNonceIsMonotonic(test *testing.T) {
	test.Parallel()
	fixed := time.UnixMilli(1_700_000_000_000)
	authenticator := mustAuthenticator(test, mustKeyWallet(test), &stubAuthAPI{}, memstore.NewSessionStore(),
		WithClock(func() time.Time { return fixed }))
	first := authenticator.Challenge()
	second := authenticator.Challenge()
	if first != BuildChallenge(DefaultChallengePrefix, 1_700_000_000_000) {
		test.Fatalf("unexpected first challenge %q", first)
	}
	if second != BuildChallenge(DefaultChallengePrefix, 1_700_000_000_001) {
		test.Fatalf("expected nonce to advance, got %q", second)
	}
}

func TestSessionTokenExpiryAndDisconnect(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	expiresAt := time.Unix(1_900_000_000, 0).UTC()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "wallet",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}).SignedString([]byte("secret"))
	if err != nil {
		test.Fatalf("sign token: %v", err)
	}
	store := memstore.NewSessionStore()
	authenticator := mustAuthenticator(test, mustKeyWallet(test), &stubAuthAPI{isOrganizer: true, token: token}, store)

	session, err := authenticator.Login(ctx)
	if err != nil {
		test.Fatalf("login: %v", err)
	}
	if session.SessionToken != token || !session.TokenExpiresAt.Equal(expiresAt) {
		test.Fatalf("unexpected token fields %+v", session)
	}
	if _, err := authenticator.RequireOrganizer(ctx); err != nil {
		test.Fatalf("expected organizer session, got %v", err)
	}

	if err := authenticator.Disconnect(ctx); err != nil {
		test.Fatalf("disconnect: %v", err)
	}
	if _, err := authenticator.RequireSession(ctx); !errors.Is(err, ticketing.ErrNoSession) {
		test.Fatalf("expected ErrNoSession, got %v", err)
	}
	if err := authenticator.Disconnect(ctx); err != nil {
		test.Fatalf("second disconnect: %v", err)
	}
}

func TestKeyWalletSignatureRecovers(test *testing.T) {
	test.Parallel()
	wallet := mustKeyWallet(test)
	signature, err := wallet.SignMessage(context.Background(), wallet.Address(), "hello")
	if err != nil {
		test.Fatalf("sign: %v", err)
	}
	signer, err := RecoverSigner("hello", signature)
	if err != nil {
		test.Fatalf("recover: %v", err)
	}
	if signer != wallet.Address().Common() {
		test.Fatalf("expected %s, got %s", wallet.Address(), signer.Hex())
	}
	other, err := RecoverSigner("tampered", signature)
	if err == nil && other == wallet.Address().Common() {
		test.Fatalf("expected tampered message to recover a different signer")
	}
	if _, err := RecoverSigner("hello", "0x1234"); !errors.Is(err, ticketing.ErrSignatureRejected) {
		test.Fatalf("expected ErrSignatureRejected for short signature, got %v", err)
	}
	if _, err := ParseKeyWallet("not-hex"); !errors.Is(err, ticketing.ErrWalletUnavailable) {
		test.Fatalf("expected ErrWalletUnavailable for a bad key, got %v", err)
	}
}
