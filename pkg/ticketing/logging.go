package ticketing

import "context"

// OperationLogger records domain-level events emitted by storefront components.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one storefront operation.
type OperationLog struct {
	Operation     string
	WalletAddress string
	TokenID       *TokenID
	Outcome       Status
	Detail        string
	Status        string
	Error         error
}

// LogOperation fills in the status and forwards entry when logger is set.
func LogOperation(ctx context.Context, logger OperationLogger, entry OperationLog) {
	if logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = OperationStatusError
		} else {
			entry.Status = OperationStatusOK
		}
	}
	logger.LogOperation(ctx, entry)
}

// NopOperationLogger discards every entry.
type NopOperationLogger struct{}

// LogOperation implements OperationLogger.
func (NopOperationLogger) LogOperation(context.Context, OperationLog) {}
