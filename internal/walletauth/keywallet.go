package walletauth

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

// Wallet is the signing capability the authenticator needs from a wallet
// provider.
type Wallet interface {
	// Connect asks the provider for the active account.
	Connect(ctx context.Context) (ticketing.WalletAddress, error)
	// SignMessage returns a 65-byte personal_sign signature, 0x-hex encoded.
	SignMessage(ctx context.Context, address ticketing.WalletAddress, message string) (string, error)
}

// KeyWallet signs with a local secp256k1 key using EIP-191 personal messages.
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address ticketing.WalletAddress
}

// NewKeyWallet wraps an existing private key.
func NewKeyWallet(key *ecdsa.PrivateKey) (*KeyWallet, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: private key is nil", ticketing.ErrWalletUnavailable)
	}
	address := ticketing.WalletAddressFromCommon(crypto.PubkeyToAddress(key.PublicKey))
	return &KeyWallet{key: key, address: address}, nil
}

// ParseKeyWallet decodes a hex private key, with or without 0x.
func ParseKeyWallet(hexKey string) (*KeyWallet, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty private key", ticketing.ErrWalletUnavailable)
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ticketing.ErrWalletUnavailable, err)
	}
	return NewKeyWallet(key)
}

// LoadKeyWallet reads a hex private key from path.
func LoadKeyWallet(path string) (*KeyWallet, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read key file: %v", ticketing.ErrWalletUnavailable, err)
	}
	return ParseKeyWallet(string(contents))
}

// Address returns the wallet's account.
func (wallet *KeyWallet) Address() ticketing.WalletAddress {
	return wallet.address
}

// Connect implements Wallet.
func (wallet *KeyWallet) Connect(ctx context.Context) (ticketing.WalletAddress, error) {
	if err := ctx.Err(); err != nil {
		return ticketing.WalletAddress{}, err
	}
	return wallet.address, nil
}

// SignMessage implements Wallet.
func (wallet *KeyWallet) SignMessage(ctx context.Context, address ticketing.WalletAddress, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if address != wallet.address {
		return "", fmt.Errorf("%w: account %s is not held by this wallet", ticketing.ErrUserRejected, address)
	}
	signature, err := crypto.Sign(accounts.TextHash([]byte(message)), wallet.key)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	signature[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(signature), nil
}

// RecoverSigner returns the account that produced a personal_sign signature
// over message.
func RecoverSigner(message string, signatureHex string) (common.Address, error) {
	signature, err := hexutil.Decode(strings.TrimSpace(signatureHex))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ticketing.ErrSignatureRejected, err)
	}
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature must be %d bytes", ticketing.ErrSignatureRejected, crypto.SignatureLength)
	}
	if signature[crypto.RecoveryIDOffset] >= 27 {
		signature[crypto.RecoveryIDOffset] -= 27
	}
	publicKey, err := crypto.SigToPub(accounts.TextHash([]byte(message)), signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ticketing.ErrSignatureRejected, err)
	}
	return crypto.PubkeyToAddress(*publicKey), nil
}

// UnavailableWallet stands in when no wallet provider is configured.
type UnavailableWallet struct{}

// Connect always fails with ErrWalletUnavailable.
func (UnavailableWallet) Connect(context.Context) (ticketing.WalletAddress, error) {
	return ticketing.WalletAddress{}, fmt.Errorf("%w: no wallet configured", ticketing.ErrWalletUnavailable)
}

// SignMessage always fails with ErrWalletUnavailable.
func (UnavailableWallet) SignMessage(context.Context, ticketing.WalletAddress, string) (string, error) {
	return "", fmt.Errorf("%w: no wallet configured", ticketing.ErrWalletUnavailable)
}
