package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/ticketgate/internal/storefront"
)

const (
	flagAPIBaseURL      = "api-base-url"
	flagSessionDB       = "session-db"
	flagWalletKey       = "wallet-key"
	flagWalletKeyFile   = "wallet-key-file"
	flagRequestTimeout  = "request-timeout"
	flagChallengePrefix = "challenge-prefix"
	flagScanInterval    = "scan-interval"
	flagJPEGQuality     = "jpeg-quality"
	flagCameraFrames    = "camera-frames"
	flagScanFrames      = "scan-frames"
	flagQRSize          = "qr-size"
	flagHistoryLimit    = "history-limit"
	flagVerbose         = "verbose"
	envPrefix           = "TICKETGATE"
)

var persistentFlags = []string{
	flagAPIBaseURL, flagSessionDB, flagWalletKey, flagWalletKeyFile, flagRequestTimeout, flagChallengePrefix,
	flagScanInterval, flagJPEGQuality, flagCameraFrames, flagScanFrames, flagQRSize, flagHistoryLimit, flagVerbose,
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ticketctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &storefront.Config{}
	cmd := &cobra.Command{
		Use:           "ticketctl",
		Short:         "Storefront client for NFT event tickets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagAPIBaseURL, "", "ticketing API base URL (default http://localhost:8000)")
	flags.String(flagSessionDB, "", "session database: sqlite path or URL, postgres URL, or \"memory\"")
	flags.String(flagWalletKey, "", "hex secp256k1 private key used to sign the login challenge")
	flags.String(flagWalletKeyFile, "", "file holding the hex private key")
	flags.Duration(flagRequestTimeout, 0, "HTTP request timeout (0 keeps the transport default)")
	flags.String(flagChallengePrefix, "", "login challenge text preceding the nonce")
	flags.Duration(flagScanInterval, 0, "QR scan frame interval (default 100ms)")
	flags.Int(flagJPEGQuality, 0, "selfie JPEG quality 1-100 (default 95)")
	flags.String(flagCameraFrames, "", "comma-separated image files replayed as the selfie camera")
	flags.String(flagScanFrames, "", "comma-separated image files replayed as the QR scan camera")
	flags.Int(flagQRSize, 0, "rendered QR code size in pixels (default 256)")
	flags.Int(flagHistoryLimit, 0, "number of local verification attempts to list (default 20)")
	flags.Bool(flagVerbose, false, "development logging")

	cmd.AddCommand(
		newConnectCommand(cfg),
		newDisconnectCommand(cfg),
		newWhoamiCommand(cfg),
		newEventsCommand(cfg),
		newEventCommand(cfg),
		newCreateEventCommand(cfg),
		newMintCommand(cfg),
		newTicketsCommand(cfg),
		newVerifyCommand(cfg),
		newVerifyLogsCommand(cfg),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *storefront.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range persistentFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.APIBaseURL = strings.TrimSpace(v.GetString(flagAPIBaseURL))
	cfg.SessionDatabaseURL = strings.TrimSpace(v.GetString(flagSessionDB))
	cfg.WalletKeyHex = strings.TrimSpace(v.GetString(flagWalletKey))
	cfg.WalletKeyFile = strings.TrimSpace(v.GetString(flagWalletKeyFile))
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.ChallengePrefix = v.GetString(flagChallengePrefix)
	cfg.ScanInterval = v.GetDuration(flagScanInterval)
	cfg.JPEGQuality = v.GetInt(flagJPEGQuality)
	cfg.CameraFrames = storefront.ParseList(v.GetString(flagCameraFrames))
	cfg.ScanFrames = storefront.ParseList(v.GetString(flagScanFrames))
	cfg.QRSize = v.GetInt(flagQRSize)
	cfg.HistoryLimit = v.GetInt(flagHistoryLimit)
	cfg.Verbose = v.GetBool(flagVerbose)

	return cfg.Validate()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// runWithApp builds the storefront for one command and always releases it.
func runWithApp(cmd *cobra.Command, cfg *storefront.Config, run func(ctx context.Context, app *storefront.App) error) error {
	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("zap init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := storefront.NewApp(ctx, *cfg, storefront.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(context.Background()); closeErr != nil {
			logger.Warn("storefront close", zap.Error(closeErr))
		}
	}()
	return run(ctx, app)
}
