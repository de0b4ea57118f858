package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SettlementStatus is the terminal outcome of a payment settlement attempt.
type SettlementStatus string

const (
	SettlementGranted          SettlementStatus = "granted"
	SettlementAlreadyProcessed SettlementStatus = "already_processed"
	SettlementRejected         SettlementStatus = "rejected"
)

// SettlementConfirmation is a payment provider's confirmation of a checkout session.
type SettlementConfirmation struct {
	SessionID     string
	UserID        string
	Credits       int64
	PaymentStatus string
	Provider      string
	Metadata      MetadataJSON
}

// SettlementResult reports what Settle did.
type SettlementResult struct {
	Status      SettlementStatus
	Message     string
	Credits     int64
	Description string
}

// SettlementDescription returns the canonical transaction description for a payment session.
func SettlementDescription(provider string, sessionID string) string {
	trimmedProvider := strings.TrimSpace(provider)
	if trimmedProvider == "" {
		trimmedProvider = defaultSettlementProvider
	}
	return fmt.Sprintf(settlementDescriptionFormat, trimmedProvider, strings.TrimSpace(sessionID))
}

// Settle grants the purchased credits at most once per payment session.
// A session that was already granted reports already_processed whatever status the provider sends later;
// otherwise unpaid or incomplete confirmations are rejected without touching the ledger.
func (service *Service) Settle(ctx context.Context, confirmation SettlementConfirmation) (SettlementResult, error) {
	sessionID := strings.TrimSpace(confirmation.SessionID)
	if sessionID == "" {
		return service.rejectSettlement(ctx, UserID{}, confirmation, "missing payment session id"), nil
	}
	userID, err := NewUserID(confirmation.UserID)
	if err != nil {
		return service.rejectSettlement(ctx, UserID{}, confirmation, "missing user id in payment metadata"), nil
	}
	credits, err := NewCredits(confirmation.Credits)
	if err != nil {
		return service.rejectSettlement(ctx, userID, confirmation, "missing credit amount in payment metadata"), nil
	}

	description := SettlementDescription(confirmation.Provider, sessionID)
	_, found, err := service.store.FindTransaction(ctx, userID, TransactionTopUp, description)
	if err != nil {
		return SettlementResult{}, err
	}
	if found {
		return service.duplicateSettlement(ctx, userID, credits, description), nil
	}
	if !strings.EqualFold(strings.TrimSpace(confirmation.PaymentStatus), paymentStatusPaid) {
		return service.rejectSettlement(ctx, userID, confirmation, "payment not completed"), nil
	}

	var migrated int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		_, legacy, err := service.grantWithin(ctx, transactionStore, GrantRequest{
			UserID:         userID,
			Amount:         credits,
			Source:         BatchSourceSettlement,
			IdempotencyKey: description,
			Metadata:       confirmation.Metadata,
		}, description)
		migrated = legacy
		return err
	})
	if errors.Is(operationError, ErrDuplicateIdempotencyKey) {
		return service.duplicateSettlement(ctx, userID, credits, description), nil
	}
	service.logOperation(ctx, OperationLog{
		Operation:   operationSettle,
		UserID:      userID,
		Amount:      credits.Int64(),
		Description: description,
		Error:       operationError,
	})
	if operationError != nil {
		return SettlementResult{}, operationError
	}
	service.recordMigration(ctx, userID, migrated)
	service.publish(ctx, userID, operationSettle, credits.Int64())
	return SettlementResult{
		Status:      SettlementGranted,
		Message:     fmt.Sprintf("Added %d credits", credits.Int64()),
		Credits:     credits.Int64(),
		Description: description,
	}, nil
}

func (service *Service) duplicateSettlement(ctx context.Context, userID UserID, credits Credits, description string) SettlementResult {
	service.logOperation(ctx, OperationLog{
		Operation:   operationSettle,
		UserID:      userID,
		Amount:      credits.Int64(),
		Description: description,
		Status:      operationStatusDuplicate,
	})
	return SettlementResult{
		Status:      SettlementAlreadyProcessed,
		Message:     "Payment already processed",
		Credits:     credits.Int64(),
		Description: description,
	}
}

func (service *Service) rejectSettlement(ctx context.Context, userID UserID, confirmation SettlementConfirmation, message string) SettlementResult {
	service.logOperation(ctx, OperationLog{
		Operation:   operationSettle,
		UserID:      userID,
		Amount:      confirmation.Credits,
		Description: message,
		Status:      operationStatusRejected,
	})
	return SettlementResult{Status: SettlementRejected, Message: message}
}
