package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/ticketgate/internal/authoritystub"
	"github.com/MarkoPoloResearchLab/ticketgate/internal/storefront"
)

const (
	flagListenAddr       = "listen-addr"
	flagAllowedOrigins   = "allowed-origins"
	flagJWTSigningKey    = "jwt-signing-key"
	flagJWTIssuer        = "jwt-issuer"
	flagTokenTTL         = "token-ttl"
	flagOrganizers       = "organizers"
	flagVerifyStatus     = "verify-status"
	flagVerifyMessage    = "verify-message"
	flagVerifyConfidence = "verify-confidence"
	flagMetadataScheme   = "metadata-scheme"
	envPrefix            = "STUBAUTHORITY"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "stubauthority: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := authoritystub.Config{}
	cmd := &cobra.Command{
		Use:           "stubauthority",
		Short:         "In-memory ticketing API with scripted face verification",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("zap init: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return authoritystub.Run(ctx, cfg, logger)
		},
	}

	cmd.Flags().String(flagListenAddr, ":8000", "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "*", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "HS256 key for session tokens (required)")
	cmd.Flags().String(flagJWTIssuer, "", "session token issuer")
	cmd.Flags().Duration(flagTokenTTL, 0, "session token lifetime (e.g. 24h)")
	cmd.Flags().String(flagOrganizers, "", "comma-separated organizer wallet addresses")
	cmd.Flags().String(flagVerifyStatus, "", "scripted verification status (verified, suspicious, denied, error)")
	cmd.Flags().String(flagVerifyMessage, "", "scripted verification message")
	cmd.Flags().String(flagVerifyConfidence, "", "scripted confidence (number or label)")
	cmd.Flags().String(flagMetadataScheme, "", "scheme prefix for minted metadata URIs")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *authoritystub.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{flagListenAddr, flagAllowedOrigins, flagJWTSigningKey, flagJWTIssuer, flagTokenTTL, flagOrganizers, flagVerifyStatus, flagVerifyMessage, flagVerifyConfidence, flagMetadataScheme} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	if strings.TrimSpace(v.GetString(flagJWTSigningKey)) == "" {
		return fmt.Errorf("%s is required", flagJWTSigningKey)
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.AllowedOrigins = storefront.ParseList(v.GetString(flagAllowedOrigins))
	cfg.SigningKey = v.GetString(flagJWTSigningKey)
	cfg.Issuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.TokenTTL = v.GetDuration(flagTokenTTL)
	cfg.Organizers = storefront.ParseList(v.GetString(flagOrganizers))
	cfg.VerifyStatus = strings.TrimSpace(v.GetString(flagVerifyStatus))
	cfg.VerifyMessage = v.GetString(flagVerifyMessage)
	cfg.VerifyConfidence = strings.TrimSpace(v.GetString(flagVerifyConfidence))
	cfg.MetadataScheme = strings.TrimSpace(v.GetString(flagMetadataScheme))

	return cfg.Validate()
}
