package authoritystub

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

const (
	defaultListenAddr     = ":8000"
	defaultIssuer         = "ticketgate-stub"
	defaultTokenTTL       = 24 * time.Hour
	defaultVerifyStatus   = "verified"
	defaultVerifyMessage  = "Face match confirmed"
	defaultConfidence     = "0.97"
	defaultMetadataScheme = "ipfs://"
)

// Config describes the stub authority.
type Config struct {
	ListenAddr       string
	AllowedOrigins   []string
	SigningKey       string
	Issuer           string
	TokenTTL         time.Duration
	Organizers       []string
	VerifyStatus     string
	VerifyMessage    string
	VerifyConfidence string
	MetadataScheme   string
}

// Validate fills defaults and checks the scripted verdict.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.Issuer = defaultIfEmpty(cfg.Issuer, defaultIssuer)
	cfg.VerifyStatus = defaultIfEmpty(cfg.VerifyStatus, defaultVerifyStatus)
	cfg.VerifyMessage = defaultIfEmpty(cfg.VerifyMessage, defaultVerifyMessage)
	cfg.VerifyConfidence = defaultIfEmpty(cfg.VerifyConfidence, defaultConfidence)
	cfg.MetadataScheme = defaultIfEmpty(cfg.MetadataScheme, defaultMetadataScheme)
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if strings.TrimSpace(cfg.SigningKey) == "" {
		return fmt.Errorf("%w: signing key is required", ticketing.ErrInvalidServiceConfig)
	}
	if _, err := ticketing.ParseStatus(cfg.VerifyStatus); err != nil {
		return fmt.Errorf("%w: verify status: %v", ticketing.ErrInvalidServiceConfig, err)
	}
	for _, organizer := range cfg.Organizers {
		if _, err := ticketing.NewWalletAddress(organizer); err != nil {
			return fmt.Errorf("%w: organizer %q: %v", ticketing.ErrInvalidServiceConfig, organizer, err)
		}
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
