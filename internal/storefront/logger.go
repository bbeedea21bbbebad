package storefront

import (
	"context"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

// ZapOperationLogger writes operation entries through zap.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps logger; nil yields a no-op logger.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

// LogOperation implements ticketing.OperationLogger.
func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry ticketing.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.WalletAddress != "" {
		fields = append(fields, zap.String("wallet_address", entry.WalletAddress))
	}
	if entry.TokenID != nil {
		fields = append(fields, zap.Int64("token_id", entry.TokenID.Int64()))
	}
	if entry.Outcome != "" {
		fields = append(fields, zap.String("outcome", entry.Outcome.String()))
	}
	if entry.Detail != "" {
		fields = append(fields, zap.String("detail", entry.Detail))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("storefront operation", fields...)
		return
	}
	operationLogger.logger.Info("storefront operation", fields...)
}
