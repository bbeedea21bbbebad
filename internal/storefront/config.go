package storefront

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/ticketgate/internal/capture"
	"github.com/MarkoPoloResearchLab/ticketgate/internal/gateway"
	"github.com/MarkoPoloResearchLab/ticketgate/internal/qringest"
	"github.com/MarkoPoloResearchLab/ticketgate/internal/walletauth"
	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

const (
	// MemoryDatabaseURL keeps the session in process memory only.
	MemoryDatabaseURL = "memory"

	defaultQRSize        = 256
	defaultHistoryLimit  = 20
	sessionDatabaseName  = "session.db"
	configDirectoryName  = "ticketgate"
	fallbackDatabasePath = "ticketgate-session.db"
)

// Config aggregates runtime settings for the storefront client.
type Config struct {
	APIBaseURL         string
	SessionDatabaseURL string
	WalletKeyHex       string
	WalletKeyFile      string
	RequestTimeout     time.Duration
	ChallengePrefix    string
	ScanInterval       time.Duration
	JPEGQuality        int
	CameraFrames       []string
	ScanFrames         []string
	QRSize             int
	HistoryLimit       int
	Verbose            bool
}

// Validate fills defaults and rejects unusable values.
func (cfg *Config) Validate() error {
	cfg.APIBaseURL = defaultIfEmpty(cfg.APIBaseURL, gateway.DefaultBaseURL)
	cfg.SessionDatabaseURL = defaultIfEmpty(cfg.SessionDatabaseURL, DefaultSessionDatabaseURL())
	cfg.ChallengePrefix = defaultIfEmpty(cfg.ChallengePrefix, walletauth.DefaultChallengePrefix)
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = qringest.DefaultScanInterval
	}
	if cfg.JPEGQuality == 0 {
		cfg.JPEGQuality = capture.DefaultJPEGQuality
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = defaultQRSize
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if _, err := gateway.ResolveBaseURL(cfg.APIBaseURL, ""); err != nil {
		return err
	}
	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("%w: request timeout must not be negative", ticketing.ErrInvalidServiceConfig)
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return fmt.Errorf("%w: jpeg quality must be within 1..100", ticketing.ErrInvalidServiceConfig)
	}
	if strings.TrimSpace(cfg.WalletKeyHex) != "" && strings.TrimSpace(cfg.WalletKeyFile) != "" {
		return fmt.Errorf("%w: set either a wallet key or a wallet key file, not both", ticketing.ErrInvalidServiceConfig)
	}
	return nil
}

// DefaultSessionDatabaseURL points at the per-user config directory.
func DefaultSessionDatabaseURL() string {
	directory, err := os.UserConfigDir()
	if err != nil || directory == "" {
		return "sqlite://" + fallbackDatabasePath
	}
	return "sqlite://" + filepath.Join(directory, configDirectoryName, sessionDatabaseName)
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseList splits comma-delimited values, dropping blanks.
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
