// Package walletauth proves wallet control with a challenge-signature
// handshake and keeps the resulting session in a SessionStore.
package walletauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MarkoPoloResearchLab/ticketgate/internal/gateway"
	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

// DefaultChallengePrefix opens every challenge message.
const DefaultChallengePrefix = "Sign this message to login to NFT Ticketing System."

// AuthAPI is the slice of the gateway the authenticator needs.
type AuthAPI interface {
	AuthenticateWallet(ctx context.Context, request gateway.WalletAuthRequest) (gateway.WalletAuthResponse, error)
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithOperationLogger wires a logger for connect, authenticate and disconnect.
func WithOperationLogger(logger ticketing.OperationLogger) Option {
	return func(authenticator *Authenticator) {
		authenticator.logger = logger
	}
}

// WithClock overrides the nonce clock.
func WithClock(now func() time.Time) Option {
	return func(authenticator *Authenticator) {
		if now != nil {
			authenticator.now = now
		}
	}
}

// WithChallengePrefix overrides the human-readable challenge text.
func WithChallengePrefix(prefix string) Option {
	return func(authenticator *Authenticator) {
		if strings.TrimSpace(prefix) != "" {
			authenticator.challengePrefix = prefix
		}
	}
}

// Connection is a wallet account that has not yet proven key control.
type Connection struct {
	Address ticketing.WalletAddress
}

// Authenticator runs the challenge-signature handshake.
type Authenticator struct {
	wallet          Wallet
	api             AuthAPI
	store           ticketing.SessionStore
	logger          ticketing.OperationLogger
	now             func() time.Time
	challengePrefix string

	nonceMu   sync.Mutex
	lastNonce int64
}

// New wires an Authenticator.
func New(wallet Wallet, api AuthAPI, store ticketing.SessionStore, options ...Option) (*Authenticator, error) {
	if wallet == nil {
		return nil, fmt.Errorf("%w: wallet dependency is nil", ticketing.ErrInvalidServiceConfig)
	}
	if api == nil {
		return nil, fmt.Errorf("%w: auth api dependency is nil", ticketing.ErrInvalidServiceConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: session store dependency is nil", ticketing.ErrInvalidServiceConfig)
	}
	authenticator := &Authenticator{
		wallet:          wallet,
		api:             api,
		store:           store,
		now:             time.Now,
		challengePrefix: DefaultChallengePrefix,
	}
	for _, option := range options {
		if option != nil {
			option(authenticator)
		}
	}
	return authenticator, nil
}

// Connect asks the wallet provider for its active account.
func (authenticator *Authenticator) Connect(ctx context.Context) (connection Connection, err error) {
	defer func() {
		ticketing.LogOperation(ctx, authenticator.logger, ticketing.OperationLog{
			Operation:     ticketing.OperationConnect,
			WalletAddress: connection.Address.String(),
			Error:         err,
		})
	}()
	address, err := authenticator.wallet.Connect(ctx)
	if err != nil {
		return Connection{}, ticketing.WrapError(ticketing.OperationConnect, "wallet", "connect_failed", classifyWalletError(err))
	}
	if address.IsZero() {
		return Connection{}, ticketing.WrapError(ticketing.OperationConnect, "wallet", "no_account", ticketing.ErrWalletUnavailable)
	}
	return Connection{Address: address}, nil
}

// Authenticate signs a fresh challenge and exchanges it for a session. The
// session is persisted only when every step succeeds.
func (authenticator *Authenticator) Authenticate(ctx context.Context, connection Connection) (session ticketing.WalletSession, err error) {
	defer func() {
		entry := ticketing.OperationLog{
			Operation:     ticketing.OperationAuthenticate,
			WalletAddress: connection.Address.String(),
			Error:         err,
		}
		if err == nil {
			entry.Detail = "is_organizer=" + strconv.FormatBool(session.IsOrganizer)
		}
		ticketing.LogOperation(ctx, authenticator.logger, entry)
	}()
	if connection.Address.IsZero() {
		return ticketing.WalletSession{}, ticketing.WrapError(ticketing.OperationAuthenticate, "wallet", "not_connected", ticketing.ErrWalletUnavailable)
	}

	message := authenticator.Challenge()
	signature, err := authenticator.wallet.SignMessage(ctx, connection.Address, message)
	if err != nil {
		return ticketing.WalletSession{}, ticketing.WrapError(ticketing.OperationAuthenticate, "signature", "sign_failed", classifyWalletError(err))
	}

	response, err := authenticator.api.AuthenticateWallet(ctx, gateway.WalletAuthRequest{
		WalletAddress: connection.Address.String(),
		Signature:     signature,
		Message:       message,
	})
	if err != nil {
		return ticketing.WalletSession{}, ticketing.WrapError(ticketing.OperationAuthenticate, "exchange", "rejected", classifyExchangeError(err))
	}
	if response.WalletAddress != "" && !strings.EqualFold(response.WalletAddress, connection.Address.String()) {
		return ticketing.WalletSession{}, ticketing.WrapError(ticketing.OperationAuthenticate, "exchange", "address_mismatch",
			fmt.Errorf("%w: authority answered for %s", ticketing.ErrSignatureRejected, response.WalletAddress))
	}

	session = ticketing.WalletSession{
		Address:        connection.Address,
		IsOrganizer:    response.IsOrganizer,
		SessionToken:   response.SessionToken,
		TokenExpiresAt: tokenExpiry(response.SessionToken),
	}
	if err := authenticator.store.Set(ctx, session); err != nil {
		_ = authenticator.store.Clear(ctx)
		return ticketing.WalletSession{}, ticketing.WrapError(ticketing.OperationAuthenticate, "session", "persist_failed", err)
	}
	return session, nil
}

// Login runs Connect then Authenticate.
func (authenticator *Authenticator) Login(ctx context.Context) (ticketing.WalletSession, error) {
	connection, err := authenticator.Connect(ctx)
	if err != nil {
		return ticketing.WalletSession{}, err
	}
	return authenticator.Authenticate(ctx, connection)
}

// Disconnect clears every persisted session key.
func (authenticator *Authenticator) Disconnect(ctx context.Context) (err error) {
	current, _, _ := authenticator.store.Get(ctx)
	defer func() {
		ticketing.LogOperation(ctx, authenticator.logger, ticketing.OperationLog{
			Operation:     ticketing.OperationDisconnect,
			WalletAddress: current.Address.String(),
			Error:         err,
		})
	}()
	if err := authenticator.store.Clear(ctx); err != nil {
		return ticketing.WrapError(ticketing.OperationDisconnect, "session", "clear_failed", err)
	}
	return nil
}

// Current returns the persisted session.
func (authenticator *Authenticator) Current(ctx context.Context) (ticketing.WalletSession, bool, error) {
	return authenticator.store.Get(ctx)
}

// RequireSession returns the persisted session or ErrNoSession.
func (authenticator *Authenticator) RequireSession(ctx context.Context) (ticketing.WalletSession, error) {
	session, ok, err := authenticator.store.Get(ctx)
	if err != nil {
		return ticketing.WalletSession{}, err
	}
	if !ok {
		return ticketing.WalletSession{}, ticketing.ErrNoSession
	}
	return session, nil
}

// RequireOrganizer gates organizer-only actions.
func (authenticator *Authenticator) RequireOrganizer(ctx context.Context) (ticketing.WalletSession, error) {
	session, err := authenticator.RequireSession(ctx)
	if err != nil {
		return ticketing.WalletSession{}, err
	}
	if !session.IsOrganizer {
		return ticketing.WalletSession{}, ticketing.ErrNotOrganizer
	}
	return session, nil
}

// Challenge returns a new challenge message. The nonce is a millisecond
// timestamp forced to increase within the process; it is not a replay guard.
func (authenticator *Authenticator) Challenge() string {
	return BuildChallenge(authenticator.challengePrefix, authenticator.nextNonce())
}

// BuildChallenge formats the challenge text for a nonce.
func BuildChallenge(prefix string, nonce int64) string {
	return prefix + "\nNonce: " + strconv.FormatInt(nonce, 10)
}

func (authenticator *Authenticator) nextNonce() int64 {
	authenticator.nonceMu.Lock()
	defer authenticator.nonceMu.Unlock()
	nonce := authenticator.now().UnixMilli()
	if nonce <= authenticator.lastNonce {
		nonce = authenticator.lastNonce + 1
	}
	authenticator.lastNonce = nonce
	return nonce
}

func classifyWalletError(err error) error {
	if errors.Is(err, ticketing.ErrWalletUnavailable) || errors.Is(err, ticketing.ErrUserRejected) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ticketing.ErrWalletUnavailable, err)
}

func classifyExchangeError(err error) error {
	var apiError *gateway.APIError
	if errors.As(err, &apiError) {
		switch apiError.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", ticketing.ErrSignatureRejected, err)
		}
	}
	return err
}

// tokenExpiry reads the exp claim of a bearer token without verifying it.
// The client never holds the signing key.
func tokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time.UTC()
}
