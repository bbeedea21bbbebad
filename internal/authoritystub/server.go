// Package authoritystub is an in-memory stand-in for the ticketing API: wallet
// login, events, minting, ticket listings and scripted face verification.
package authoritystub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/ticketgate/internal/gateway"
	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

const (
	verificationLogLimit = 50
	shutdownTimeout      = 5 * time.Second
)

var ginModeOnce sync.Once

// Verdict is the scripted answer of POST /verify. A non-zero HTTPStatus other
// than 200 answers with that status and Message as the detail.
type Verdict struct {
	Verified   bool
	Status     string
	Message    string
	Confidence ticketing.Confidence
	HTTPStatus int
}

// Server holds the stub state.
type Server struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu            sync.Mutex
	users         map[string]bool
	events        map[string]gateway.Event
	eventOrder    []string
	tickets       []gateway.TicketRecord
	verifications []gateway.VerificationLogEntry
	nextTokenID   int64
	verdict       Verdict
	verifyCalls   int
}

// NewServer validates cfg and returns an empty stub.
func NewServer(cfg Config, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &Server{
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		users:       make(map[string]bool),
		events:      make(map[string]gateway.Event),
		nextTokenID: 1,
		verdict: Verdict{
			Verified:   cfg.VerifyStatus == ticketing.StatusVerified.String(),
			Status:     cfg.VerifyStatus,
			Message:    cfg.VerifyMessage,
			Confidence: ticketing.ParseConfidence(cfg.VerifyConfidence),
		},
	}
	for _, organizer := range cfg.Organizers {
		server.users[strings.ToLower(organizer)] = true
	}
	return server, nil
}

// Run serves the stub until ctx is canceled.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	server, err := NewServer(cfg, logger)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("stub authority listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler returns the gin router.
func (server *Server) Handler() http.Handler {
	ginModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(server.cfg.AllowedOrigins)))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/auth/wallet", server.handleWalletAuth)
	router.POST("/auth/make-organizer/:wallet", server.handleMakeOrganizer)
	router.GET("/events", server.handleListEvents)
	router.GET("/events/:id", server.handleGetEvent)
	router.POST("/events", server.handleCreateEvent)
	router.POST("/tickets/mint", server.handleMint)
	router.GET("/tickets/:wallet", server.handleTickets)
	router.POST("/verify", server.handleVerify)
	router.GET("/verify/logs", server.handleVerifyLogs)
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Origin", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// SetVerdict scripts the answer of subsequent verifications.
func (server *Server) SetVerdict(verdict Verdict) {
	server.mu.Lock()
	defer server.mu.Unlock()
	server.verdict = verdict
}

// VerifyCalls counts requests that reached POST /verify.
func (server *Server) VerifyCalls() int {
	server.mu.Lock()
	defer server.mu.Unlock()
	return server.verifyCalls
}

// MakeOrganizer grants organizer rights to address.
func (server *Server) MakeOrganizer(address string) {
	server.mu.Lock()
	defer server.mu.Unlock()
	server.users[strings.ToLower(address)] = true
}

// SeedEvent stores event and returns its id.
func (server *Server) SeedEvent(event gateway.Event) string {
	server.mu.Lock()
	defer server.mu.Unlock()
	return server.storeEventLocked(event)
}

func (server *Server) storeEventLocked(event gateway.Event) string {
	if event.ID == "" {
		event.ID = newObjectID()
	}
	if _, exists := server.events[event.ID]; !exists {
		server.eventOrder = append(server.eventOrder, event.ID)
	}
	event.OrganizerAddress = strings.ToLower(event.OrganizerAddress)
	server.events[event.ID] = event
	return event.ID
}

// errorResponse renders the detail field clients read plus a coded envelope.
func errorResponse(code string, message string) gin.H {
	return gin.H{
		"detail": message,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func missingFieldResponse(location string, field string) gin.H {
	return gin.H{
		"detail": []gin.H{{
			"type": "missing",
			"loc":  []string{location, field},
			"msg":  fmt.Sprintf("Field required: %s", field),
		}},
	}
}
