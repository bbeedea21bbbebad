// Package storefront wires the storefront components from configuration and
// exposes the workflows the command line drives.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/ticketgate/internal/capture"
	"github.com/MarkoPoloResearchLab/ticketgate/internal/gateway"
	"github.com/MarkoPoloResearchLab/ticketgate/internal/qringest"
	"github.com/MarkoPoloResearchLab/ticketgate/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/ticketgate/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/ticketgate/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/ticketgate/internal/verification"
	"github.com/MarkoPoloResearchLab/ticketgate/internal/walletauth"
	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

const (
	errorOperationApp   = "storefront"
	errorSubjectHistory = "history"
	errorSubjectMint    = "mint"
	errorSubjectEvent   = "event"
	errorSubjectVerify  = "verify"
)

// ErrLocalHistoryUnavailable reports a session database that keeps no history.
var ErrLocalHistoryUnavailable = errors.New("local verification history requires a session database")

// Option overrides a collaborator normally built from Config.
type Option func(*dependencies)

type dependencies struct {
	wallet     walletauth.Wallet
	camera     capture.Device
	scanner    capture.Device
	httpClient *http.Client
	logger     *zap.Logger
	clock      func() time.Time
}

// WithWallet supplies the signing wallet.
func WithWallet(wallet walletauth.Wallet) Option {
	return func(deps *dependencies) {
		deps.wallet = wallet
	}
}

// WithCameraDevice supplies the selfie camera.
func WithCameraDevice(device capture.Device) Option {
	return func(deps *dependencies) {
		deps.camera = device
	}
}

// WithScanDevice supplies the camera used for QR scanning.
func WithScanDevice(device capture.Device) Option {
	return func(deps *dependencies) {
		deps.scanner = device
	}
}

// WithHTTPClient overrides the HTTP client used for the API.
func WithHTTPClient(client *http.Client) Option {
	return func(deps *dependencies) {
		deps.httpClient = client
	}
}

// WithLogger sets the zap logger behind every operation log.
func WithLogger(logger *zap.Logger) Option {
	return func(deps *dependencies) {
		deps.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(deps *dependencies) {
		if now != nil {
			deps.clock = now
		}
	}
}

// App holds the wired storefront components.
type App struct {
	Config   Config
	API      *gateway.Client
	Sessions ticketing.SessionStore
	Attempts *gormstore.AttemptStore
	Auth     *walletauth.Authenticator
	Arbiter  *capture.CameraArbiter
	Camera   *capture.Manager
	Scanner  *qringest.Ingestor
	Verifier *verification.Orchestrator
	// EntryCheck holds the ticket and selfie of the current verification.
	EntryCheck *verification.Session

	logger  ticketing.OperationLogger
	now     func() time.Time
	cleanup func() error
}

// NewApp validates cfg and builds every component.
func NewApp(ctx context.Context, cfg Config, options ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	deps := dependencies{clock: time.Now}
	for _, option := range options {
		if option != nil {
			option(&deps)
		}
	}
	operationLogger := NewZapOperationLogger(deps.logger)

	db, cleanup, driver, err := openDatabase(ctx, cfg.SessionDatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	app := &App{Config: cfg, logger: operationLogger, now: deps.clock, cleanup: cleanup}
	switch {
	case db == nil:
		app.Sessions = memstore.NewSessionStore()
	case driver == driverPostgres:
		pool, err := pgstore.Open(ctx, cfg.SessionDatabaseURL)
		if err != nil {
			_ = cleanup()
			return nil, fmt.Errorf("open session pool: %w", err)
		}
		app.cleanup = func() error {
			pool.Close()
			return cleanup()
		}
		app.Sessions = pgstore.New(pool)
		app.Attempts = gormstore.NewAttemptStore(db)
	default:
		app.Sessions = gormstore.NewSessionStore(db)
		app.Attempts = gormstore.NewAttemptStore(db)
	}

	if err := app.wire(cfg, deps, operationLogger); err != nil {
		_ = app.cleanup()
		return nil, err
	}
	return app, nil
}

func (app *App) wire(cfg Config, deps dependencies, operationLogger ticketing.OperationLogger) error {
	httpClient := deps.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	api, err := gateway.New(cfg.APIBaseURL, gateway.WithHTTPClient(httpClient), gateway.WithSessionStore(app.Sessions))
	if err != nil {
		return err
	}
	app.API = api

	wallet := deps.wallet
	if wallet == nil {
		wallet, err = walletFromConfig(cfg)
		if err != nil {
			return err
		}
	}
	app.Auth, err = walletauth.New(wallet, api, app.Sessions,
		walletauth.WithOperationLogger(operationLogger),
		walletauth.WithChallengePrefix(cfg.ChallengePrefix),
		walletauth.WithClock(deps.clock),
	)
	if err != nil {
		return err
	}

	app.Arbiter = capture.NewCameraArbiter()
	camera := deps.camera
	if camera == nil {
		camera, err = deviceFromFrames(cfg.CameraFrames)
		if err != nil {
			return err
		}
	}
	app.Camera, err = capture.NewManager(camera, app.Arbiter,
		capture.WithOperationLogger(operationLogger),
		capture.WithJPEGQuality(cfg.JPEGQuality),
		capture.WithClock(deps.clock),
	)
	if err != nil {
		return err
	}

	scanner := deps.scanner
	if scanner == nil && len(cfg.ScanFrames) > 0 {
		scanner, err = deviceFromFrames(cfg.ScanFrames)
		if err != nil {
			return err
		}
	}
	app.Scanner = qringest.New(scanner, app.Arbiter,
		qringest.WithOperationLogger(operationLogger),
		qringest.WithScanInterval(cfg.ScanInterval),
	)

	verifierOptions := []verification.Option{
		verification.WithOperationLogger(operationLogger),
		verification.WithClock(deps.clock),
	}
	if app.Attempts != nil {
		verifierOptions = append(verifierOptions, verification.WithAttemptRecorder(app.Attempts))
	}
	app.Verifier, err = verification.New(api, verifierOptions...)
	if err != nil {
		return err
	}
	app.EntryCheck = verification.NewSession(app.Verifier)
	return nil
}

func walletFromConfig(cfg Config) (walletauth.Wallet, error) {
	switch {
	case strings.TrimSpace(cfg.WalletKeyHex) != "":
		return walletauth.ParseKeyWallet(cfg.WalletKeyHex)
	case strings.TrimSpace(cfg.WalletKeyFile) != "":
		return walletauth.LoadKeyWallet(cfg.WalletKeyFile)
	default:
		return walletauth.UnavailableWallet{}, nil
	}
}

func deviceFromFrames(paths []string) (capture.Device, error) {
	if len(paths) == 0 {
		return capture.UnavailableDevice{Err: ticketing.ErrNoDevice}, nil
	}
	return capture.LoadReplayDevice(paths...)
}

// Close releases the camera and the session database.
func (app *App) Close(ctx context.Context) error {
	var stopErr error
	if app.Camera != nil {
		stopErr = app.Camera.Stop(ctx)
	}
	var closeErr error
	if app.cleanup != nil {
		closeErr = app.cleanup()
	}
	return errors.Join(stopErr, closeErr)
}

// VerifyRequest names where the two proofs come from. QRText wins over
// QRImagePath; with neither, the scan camera is used. With UseCamera the
// selfie is captured live and SelfiePath is the fallback when no camera can be
// opened.
type VerifyRequest struct {
	QRText      string
	QRImagePath string
	UseCamera   bool
	SelfiePath  string
	// Attempts bounds the submissions made while the authority answers with
	// an error status. The ticket is read once; each retry takes a new selfie.
	Attempts int
}

// Verify gathers both proofs and submits them. An Errored outcome is retried
// with a fresh selfie until request.Attempts is used up; each answer replaces
// the previous one.
func (app *App) Verify(ctx context.Context, request VerifyRequest) (ticketing.Outcome, error) {
	payload, err := app.AcquirePayload(ctx, request)
	if err != nil {
		return nil, err
	}
	attempts := request.Attempts
	if attempts < 1 {
		attempts = 1
	}
	app.EntryCheck.SetPayload(payload)
	for attempt := 1; attempt <= attempts; attempt++ {
		evidence, err := app.AcquireEvidence(ctx, request)
		if err != nil {
			return nil, err
		}
		app.EntryCheck.SetEvidence(evidence)
		if !app.EntryCheck.Ready() {
			return nil, ticketing.WrapError(errorOperationApp, errorSubjectVerify, "incomplete", ticketing.ErrIncompleteAttempt)
		}
		if _, err := app.EntryCheck.Submit(ctx); err != nil {
			return nil, err
		}
		if _, retry := app.Verifier.Last().(ticketing.Errored); !retry {
			break
		}
	}
	return app.Verifier.Last(), nil
}

// AcquirePayload resolves the ticket reference of a verification request.
func (app *App) AcquirePayload(ctx context.Context, request VerifyRequest) (ticketing.TicketQRPayload, error) {
	switch {
	case strings.TrimSpace(request.QRText) != "":
		return app.Scanner.AcceptManual(ctx, request.QRText)
	case strings.TrimSpace(request.QRImagePath) != "":
		return app.Scanner.DecodeFile(ctx, request.QRImagePath)
	default:
		return app.Scanner.Scan(ctx)
	}
}

// AcquireEvidence captures or loads the selfie of a verification request.
func (app *App) AcquireEvidence(ctx context.Context, request VerifyRequest) (ticketing.CapturedEvidence, error) {
	if !request.UseCamera {
		if strings.TrimSpace(request.SelfiePath) == "" {
			return ticketing.CapturedEvidence{}, ticketing.WrapError(errorOperationApp, errorSubjectVerify, "no_selfie", ticketing.ErrIncompleteAttempt)
		}
		return capture.FromFile(request.SelfiePath, app.now())
	}
	evidence, err := app.captureSelfie(ctx)
	if err == nil {
		return evidence, nil
	}
	if ticketing.IsRecoverableLocally(err) && strings.TrimSpace(request.SelfiePath) != "" {
		return capture.FromFile(request.SelfiePath, app.now())
	}
	return ticketing.CapturedEvidence{}, err
}

func (app *App) captureSelfie(ctx context.Context) (ticketing.CapturedEvidence, error) {
	if err := app.Camera.Start(ctx); err != nil {
		return ticketing.CapturedEvidence{}, err
	}
	evidence, err := app.Camera.Capture(ctx)
	if stopErr := app.Camera.Stop(ctx); stopErr != nil && err == nil {
		err = stopErr
	}
	return evidence, err
}

// Mint buys a ticket for the connected wallet and validates its QR payload.
func (app *App) Mint(ctx context.Context, eventID ticketing.EventID, buyerImagePath string) (response gateway.MintResponse, payload ticketing.TicketQRPayload, err error) {
	var wallet string
	defer func() {
		entry := ticketing.OperationLog{Operation: ticketing.OperationMint, WalletAddress: wallet, Detail: eventID.String(), Error: err}
		if err == nil {
			tokenID := payload.TokenID()
			entry.TokenID = &tokenID
		}
		ticketing.LogOperation(ctx, app.logger, entry)
	}()
	session, err := app.Auth.RequireSession(ctx)
	if err != nil {
		return gateway.MintResponse{}, ticketing.TicketQRPayload{}, err
	}
	wallet = session.Address.String()
	image, err := capture.FromFile(buyerImagePath, app.now())
	if err != nil {
		return gateway.MintResponse{}, ticketing.TicketQRPayload{}, ticketing.WrapError(errorOperationApp, errorSubjectMint, "buyer_image", err)
	}
	response, err = app.API.MintTicket(ctx, gateway.MintRequest{EventID: eventID, WalletAddress: session.Address, BuyerImage: image})
	if err != nil {
		return gateway.MintResponse{}, ticketing.TicketQRPayload{}, err
	}
	payload, err = response.Payload()
	if err != nil {
		return response, ticketing.TicketQRPayload{}, ticketing.WrapError(errorOperationApp, errorSubjectMint, "qr_payload", err)
	}
	return response, payload, nil
}

// Tickets lists the connected wallet's tickets.
func (app *App) Tickets(ctx context.Context) (gateway.TicketsResponse, error) {
	session, err := app.Auth.RequireSession(ctx)
	if err != nil {
		return gateway.TicketsResponse{}, err
	}
	return app.API.Tickets(ctx, session.Address)
}

// CreateEvent publishes an event. Non-organizer sessions are refused before
// any request is sent.
func (app *App) CreateEvent(ctx context.Context, request gateway.CreateEventRequest, imagePath string) (gateway.CreateEventResponse, error) {
	session, err := app.Auth.RequireOrganizer(ctx)
	if err != nil {
		return gateway.CreateEventResponse{}, err
	}
	request.OrganizerAddress = session.Address
	if strings.TrimSpace(imagePath) != "" {
		request.Image, err = capture.FromFile(imagePath, app.now())
		if err != nil {
			return gateway.CreateEventResponse{}, ticketing.WrapError(errorOperationApp, errorSubjectEvent, "image", err)
		}
	}
	return app.API.CreateEvent(ctx, request)
}

// LocalAttempts returns the newest locally recorded verification attempts.
func (app *App) LocalAttempts(ctx context.Context) ([]verification.Attempt, error) {
	if app.Attempts == nil {
		return nil, ticketing.WrapError(errorOperationApp, errorSubjectHistory, "unavailable", ErrLocalHistoryUnavailable)
	}
	return app.Attempts.ListAttempts(ctx, app.Config.HistoryLimit)
}
