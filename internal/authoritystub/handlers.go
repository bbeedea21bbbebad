package authoritystub

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/ticketgate/internal/gateway"
	"github.com/MarkoPoloResearchLab/ticketgate/internal/walletauth"
	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

const (
	locationBody  = "body"
	maxUploadSize = 20 << 20
)

func (server *Server) handleWalletAuth(ctx *gin.Context) {
	var request gateway.WalletAuthRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	required := []struct{ name, value string }{
		{"wallet_address", request.WalletAddress},
		{"signature", request.Signature},
		{"message", request.Message},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			ctx.JSON(http.StatusUnprocessableEntity, missingFieldResponse(locationBody, field.name))
			return
		}
	}
	address, err := ticketing.NewWalletAddress(request.WalletAddress)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_wallet", "Invalid wallet address"))
		return
	}
	signer, err := walletauth.RecoverSigner(request.Message, request.Signature)
	if err != nil || signer != address.Common() {
		server.logger.Info("wallet signature rejected", zap.String("wallet_address", address.String()))
		ctx.JSON(http.StatusUnauthorized, errorResponse("invalid_signature", "Invalid signature"))
		return
	}

	wallet := strings.ToLower(address.String())
	server.mu.Lock()
	organizer, known := server.users[wallet]
	if !known {
		server.users[wallet] = false
	}
	server.mu.Unlock()

	token, err := server.issueToken(wallet, organizer)
	if err != nil {
		server.logger.Error("session token failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("token_error", "could not issue session"))
		return
	}
	message := "Login successful"
	if !known {
		message = "User created"
	}
	server.logger.Info("wallet authenticated", zap.String("wallet_address", wallet), zap.Bool("is_organizer", organizer))
	ctx.JSON(http.StatusOK, gateway.WalletAuthResponse{
		Message:       message,
		WalletAddress: wallet,
		IsOrganizer:   organizer,
		SessionToken:  token,
	})
}

func (server *Server) handleMakeOrganizer(ctx *gin.Context) {
	wallet := strings.ToLower(ctx.Param("wallet"))
	server.mu.Lock()
	_, known := server.users[wallet]
	if known {
		server.users[wallet] = true
	}
	server.mu.Unlock()
	if !known {
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "User not found"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "User is now an organizer"})
}

func (server *Server) handleListEvents(ctx *gin.Context) {
	server.mu.Lock()
	events := make([]gateway.Event, 0, len(server.eventOrder))
	for _, id := range server.eventOrder {
		events = append(events, server.events[id])
	}
	server.mu.Unlock()
	ctx.JSON(http.StatusOK, events)
}

func (server *Server) handleGetEvent(ctx *gin.Context) {
	server.mu.Lock()
	event, ok := server.events[ctx.Param("id")]
	server.mu.Unlock()
	if !ok {
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "Event not found"))
		return
	}
	ctx.JSON(http.StatusOK, event)
}

func (server *Server) handleCreateEvent(ctx *gin.Context) {
	fields := map[string]string{}
	for _, name := range []string{"title", "description", "date", "venue", "ticket_price", "total_supply", "organizer_address"} {
		value, ok := ctx.GetPostForm(name)
		if !ok {
			ctx.JSON(http.StatusUnprocessableEntity, missingFieldResponse(locationBody, name))
			return
		}
		fields[name] = value
	}
	organizer := strings.ToLower(strings.TrimSpace(fields["organizer_address"]))
	if claims, err := server.bearerClaims(ctx); err == nil {
		if claims.Subject != organizer {
			ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "Session does not match organizer address"))
			return
		}
	} else if !errors.Is(err, errMissingBearer) {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "Invalid session token"))
		return
	}
	server.mu.Lock()
	isOrganizer := server.users[organizer]
	server.mu.Unlock()
	if !isOrganizer {
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "Only organizers can create events"))
		return
	}

	date, err := time.Parse(time.RFC3339, fields["date"])
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_date", "Invalid event date"))
		return
	}
	price, err := strconv.ParseFloat(fields["ticket_price"], 64)
	if err != nil || price < 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_price", "Invalid ticket price"))
		return
	}
	supply, err := strconv.ParseInt(fields["total_supply"], 10, 64)
	if err != nil || supply <= 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_supply", "Invalid total supply"))
		return
	}
	imageURL := ""
	if image, err := readUpload(ctx, "image"); err == nil {
		imageURL = server.cfg.MetadataScheme + contentDigest(image)
	}

	server.mu.Lock()
	event := gateway.Event{
		ID:               newObjectID(),
		Title:            fields["title"],
		Description:      fields["description"],
		Date:             date.UTC().Format(time.RFC3339),
		Venue:            fields["venue"],
		ImageURL:         imageURL,
		TicketPrice:      price,
		TotalSupply:      supply,
		OrganizerAddress: organizer,
	}
	server.storeEventLocked(event)
	server.mu.Unlock()

	server.logger.Info("event created", zap.String("event_id", event.ID), zap.String("organizer", organizer))
	ctx.JSON(http.StatusOK, gateway.CreateEventResponse{Message: "Event created", EventID: event.ID, Event: event})
}

func (server *Server) handleMint(ctx *gin.Context) {
	eventID, ok := ctx.GetPostForm("event_id")
	if !ok {
		ctx.JSON(http.StatusUnprocessableEntity, missingFieldResponse(locationBody, "event_id"))
		return
	}
	rawWallet, ok := ctx.GetPostForm("wallet_address")
	if !ok {
		ctx.JSON(http.StatusUnprocessableEntity, missingFieldResponse(locationBody, "wallet_address"))
		return
	}
	image, err := readUpload(ctx, "buyer_image")
	if err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, missingFieldResponse(locationBody, "buyer_image"))
		return
	}
	address, err := ticketing.NewWalletAddress(rawWallet)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_wallet", "Invalid wallet address"))
		return
	}
	wallet := strings.ToLower(address.String())

	server.mu.Lock()
	defer server.mu.Unlock()
	event, ok := server.events[eventID]
	if !ok {
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "Event not found"))
		return
	}
	if event.Available() == 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("sold_out", "Event sold out"))
		return
	}

	tokenID, err := ticketing.NewTokenID(server.nextTokenID)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, errorResponse("mint_failed", err.Error()))
		return
	}
	validEventID, err := ticketing.NewEventID(eventID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_event", "Invalid event ID"))
		return
	}
	metadataURI, err := ticketing.NewMetadataURI(server.cfg.MetadataScheme + contentDigest(image))
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, errorResponse("metadata_failed", err.Error()))
		return
	}
	payload, err := ticketing.NewTicketQRPayload(tokenID, validEventID, metadataURI)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, errorResponse("mint_failed", err.Error()))
		return
	}
	server.nextTokenID++
	event.SoldCount++
	server.events[event.ID] = event

	record := gateway.TicketRecord{
		ID:           newObjectID(),
		TokenID:      tokenID.Int64(),
		EventID:      event.ID,
		OwnerAddress: wallet,
		MetadataURI:  metadataURI.String(),
		QRCodeData:   payload.Raw(),
		TxHash:       transactionHash(tokenID, address),
		MintedAt:     server.now().UTC().Format(time.RFC3339),
		Event:        &gateway.TicketEvent{Title: event.Title, Venue: event.Venue, Date: event.Date},
	}
	server.tickets = append(server.tickets, record)
	server.logger.Info("ticket minted", zap.Int64("token_id", record.TokenID), zap.String("wallet_address", wallet))
	ctx.JSON(http.StatusOK, gateway.MintResponse{
		Message:     "Ticket minted successfully",
		TokenID:     record.TokenID,
		TxHash:      record.TxHash,
		QRCodeData:  record.QRCodeData,
		MetadataURI: record.MetadataURI,
	})
}

func (server *Server) handleTickets(ctx *gin.Context) {
	wallet := strings.ToLower(ctx.Param("wallet"))
	server.mu.Lock()
	tickets := make([]gateway.TicketRecord, 0)
	for _, ticket := range server.tickets {
		if ticket.OwnerAddress == wallet {
			tickets = append(tickets, ticket)
		}
	}
	server.mu.Unlock()
	ctx.JSON(http.StatusOK, gateway.TicketsResponse{Tickets: tickets, BlockchainTickets: []json.RawMessage{}})
}

func (server *Server) handleVerify(ctx *gin.Context) {
	server.mu.Lock()
	server.verifyCalls++
	server.mu.Unlock()

	qrData, ok := ctx.GetPostForm("qr_data")
	if !ok {
		ctx.JSON(http.StatusUnprocessableEntity, missingFieldResponse(locationBody, "qr_data"))
		return
	}
	if _, err := readUpload(ctx, "selfie"); err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, missingFieldResponse(locationBody, "selfie"))
		return
	}
	payload, err := ticketing.ParseTicketQRPayload(qrData)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_qr", "Invalid QR code data format: "+err.Error()))
		return
	}

	server.mu.Lock()
	verdict := server.verdict
	if verdict.HTTPStatus != 0 && verdict.HTTPStatus != http.StatusOK {
		server.mu.Unlock()
		ctx.JSON(verdict.HTTPStatus, errorResponse("verification_failed", verdict.Message))
		return
	}
	entry := gateway.VerificationLogEntry{
		ID:         newObjectID(),
		TokenID:    payload.TokenID().Int64(),
		Status:     verdict.Status,
		Verified:   verdict.Verified,
		Reason:     verdict.Message,
		VerifiedAt: server.now().UTC().Format(time.RFC3339Nano),
	}
	for _, ticket := range server.tickets {
		if ticket.TokenID == entry.TokenID {
			info, _ := json.Marshal(gin.H{"event_id": ticket.EventID, "owner_address": ticket.OwnerAddress})
			entry.TicketInfo = info
			break
		}
	}
	server.verifications = append(server.verifications, entry)
	server.mu.Unlock()

	server.logger.Info("verification answered", zap.Int64("token_id", entry.TokenID), zap.String("status", verdict.Status))
	ctx.JSON(http.StatusOK, gin.H{
		"verified":   verdict.Verified,
		"status":     verdict.Status,
		"message":    verdict.Message,
		"confidence": verdict.Confidence,
	})
}

func (server *Server) handleVerifyLogs(ctx *gin.Context) {
	server.mu.Lock()
	logs := make([]gateway.VerificationLogEntry, 0, min(len(server.verifications), verificationLogLimit))
	for index := len(server.verifications) - 1; index >= 0 && len(logs) < verificationLogLimit; index-- {
		logs = append(logs, server.verifications[index])
	}
	server.mu.Unlock()
	ctx.JSON(http.StatusOK, logs)
}

func readUpload(ctx *gin.Context, field string) ([]byte, error) {
	header, err := ctx.FormFile(field)
	if err != nil {
		return nil, err
	}
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty upload")
	}
	return data, nil
}

func contentDigest(data []byte) string {
	return strings.TrimPrefix(crypto.Keccak256Hash(data).Hex(), "0x")
}

func transactionHash(tokenID ticketing.TokenID, owner ticketing.WalletAddress) string {
	var tokenBytes [8]byte
	binary.BigEndian.PutUint64(tokenBytes[:], uint64(tokenID.Int64()))
	return crypto.Keccak256Hash(tokenBytes[:], owner.Common().Bytes(), []byte(uuid.NewString())).Hex()
}
