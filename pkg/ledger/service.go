package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Service contains the domain logic over a Store.
type Service struct {
	store               Store
	nowFn               func() int64
	logger              OperationLogger
	publisher           EventPublisher
	lowBalanceThreshold int64
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, lowBalanceThreshold: defaultLowBalanceThreshold}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// GrantRequest describes a top-up.
type GrantRequest struct {
	UserID         UserID
	Amount         Credits
	Description    string
	ExpiresInDays  int
	Source         BatchSource
	IdempotencyKey string
	Metadata       MetadataJSON
}

// BalanceView is the read-surface projection of a balance together with the current costs.
type BalanceView struct {
	Balance
	IsLowBalance  bool
	ItemFetchCost int64
	Research2Cost int64
}

// Balance returns the spendable balance: the remaining amount of every unexpired, non-empty batch.
// A user whose cached summary holds credits but who has no batches yet gets a one-time migration batch.
func (service *Service) Balance(ctx context.Context, userID UserID) (Balance, error) {
	nowUnixUTC := service.nowFn()
	spendable, err := service.store.SumSpendable(ctx, userID, nowUnixUTC)
	if err != nil {
		return Balance{}, err
	}
	summary, found, err := service.store.GetSummary(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	if spendable == 0 && found && summary.CurrentCredits > 0 {
		batchCount, err := service.store.CountBatches(ctx, userID)
		if err != nil {
			return Balance{}, err
		}
		if batchCount == 0 {
			spendable, err = service.migrateLegacyBalance(ctx, userID)
			if err != nil {
				return Balance{}, err
			}
		}
	}
	return Balance{
		CurrentCredits:   spendable,
		TotalPurchased:   summary.TotalPurchased,
		LastTopupUnixUTC: summary.LastTopupUnixUTC,
		IsTrial:          summary.IsTrial,
	}, nil
}

// BalanceView returns the balance along with both named costs and the low-balance flag.
func (service *Service) BalanceView(ctx context.Context, userID UserID) (BalanceView, error) {
	balance, err := service.Balance(ctx, userID)
	if err != nil {
		return BalanceView{}, err
	}
	itemFetchCost, err := service.Cost(ctx, SettingItemFetchCost)
	if err != nil {
		return BalanceView{}, err
	}
	research2Cost, err := service.Cost(ctx, SettingResearch2Cost)
	if err != nil {
		return BalanceView{}, err
	}
	lowBalance := balance.CurrentCredits <= service.lowBalanceThreshold ||
		balance.CurrentCredits < itemFetchCost+research2Cost
	return BalanceView{
		Balance:       balance,
		IsLowBalance:  lowBalance && !balance.IsTrial,
		ItemFetchCost: itemFetchCost,
		Research2Cost: research2Cost,
	}, nil
}

func (service *Service) migrateLegacyBalance(ctx context.Context, userID UserID) (int64, error) {
	var migrated int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		summary, err := transactionStore.LockSummary(ctx, userID)
		if err != nil {
			return err
		}
		migrated, err = service.migrateLegacyWithin(ctx, transactionStore, userID, summary)
		return err
	})
	if errors.Is(operationError, ErrDuplicateLegacyBatch) {
		operationError = nil
		migrated = 0
	}
	if operationError != nil {
		service.logOperation(ctx, OperationLog{Operation: operationMigrate, UserID: userID, Description: legacyMigrationDescription, Error: operationError})
		return 0, operationError
	}
	service.recordMigration(ctx, userID, migrated)
	return service.store.SumSpendable(ctx, userID, service.nowFn())
}

// migrateLegacyWithin gives a user whose cached summary holds credits but who has no batches a
// non-expiring migration batch for that amount. The caller must hold the summary lock.
func (service *Service) migrateLegacyWithin(ctx context.Context, transactionStore Store, userID UserID, summary Summary) (int64, error) {
	if summary.CurrentCredits <= 0 {
		return 0, nil
	}
	batchCount, err := transactionStore.CountBatches(ctx, userID)
	if err != nil {
		return 0, err
	}
	if batchCount > 0 {
		return 0, nil
	}
	if _, err := transactionStore.InsertBatch(ctx, Batch{
		UserID:          userID.String(),
		Amount:          summary.CurrentCredits,
		RemainingAmount: summary.CurrentCredits,
		Source:          BatchSourceMigration,
		CreatedUnixUTC:  service.nowFn(),
	}); err != nil {
		return 0, err
	}
	return summary.CurrentCredits, nil
}

func (service *Service) recordMigration(ctx context.Context, userID UserID, migrated int64) {
	if migrated <= 0 {
		return
	}
	service.logOperation(ctx, OperationLog{Operation: operationMigrate, UserID: userID, Amount: migrated, Description: legacyMigrationDescription})
	service.publish(ctx, userID, operationMigrate, migrated)
}

// Grant creates one batch, credits the summary, and appends a topup transaction in a single transaction.
func (service *Service) Grant(ctx context.Context, request GrantRequest) (Batch, error) {
	description := grantDescription(request.Description)
	var granted Batch
	var migrated int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		batch, legacy, err := service.grantWithin(ctx, transactionStore, request, description)
		if err != nil {
			return err
		}
		granted = batch
		migrated = legacy
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operationGrant,
		UserID:      request.UserID,
		Amount:      request.Amount.Int64(),
		Description: description,
		Error:       operationError,
	})
	if operationError != nil {
		return Batch{}, operationError
	}
	service.recordMigration(ctx, request.UserID, migrated)
	service.publish(ctx, request.UserID, operationGrant, request.Amount.Int64())
	return granted, nil
}

func (service *Service) grantWithin(ctx context.Context, transactionStore Store, request GrantRequest, description string) (Batch, int64, error) {
	if request.UserID.String() == "" {
		return Batch{}, 0, WrapError(operationGrant, errorSubjectRequest, "user_id", ErrInvalidUserID)
	}
	if request.Amount <= 0 {
		return Batch{}, 0, WrapError(operationGrant, errorSubjectRequest, "amount", ErrInvalidCredits)
	}
	if request.ExpiresInDays < 0 {
		return Batch{}, 0, WrapError(operationGrant, errorSubjectRequest, "expiry", ErrInvalidExpiry)
	}
	source := request.Source
	if source == "" {
		source = BatchSourceGrant
	}
	nowUnixUTC := service.nowFn()
	var expiresAtUnixUTC int64
	if request.ExpiresInDays > 0 {
		expiresAtUnixUTC = nowUnixUTC + int64(request.ExpiresInDays)*secondsPerDay
	}
	summary, err := transactionStore.LockSummary(ctx, request.UserID)
	if err != nil {
		return Batch{}, 0, err
	}
	migrated, err := service.migrateLegacyWithin(ctx, transactionStore, request.UserID, summary)
	if err != nil {
		return Batch{}, 0, err
	}
	batch, err := transactionStore.InsertBatch(ctx, Batch{
		UserID:           request.UserID.String(),
		Amount:           request.Amount.Int64(),
		RemainingAmount:  request.Amount.Int64(),
		ExpiresAtUnixUTC: expiresAtUnixUTC,
		Source:           source,
		CreatedUnixUTC:   nowUnixUTC,
	})
	if err != nil {
		return Batch{}, 0, err
	}
	if err := transactionStore.ApplySummaryDelta(ctx, request.UserID, SummaryDelta{
		CurrentCredits: request.Amount.Int64(),
		TotalPurchased: request.Amount.Int64(),
		TopupUnixUTC:   nowUnixUTC,
	}); err != nil {
		return Batch{}, 0, err
	}
	if _, err := transactionStore.InsertTransaction(ctx, Transaction{
		UserID:         request.UserID.String(),
		Type:           TransactionTopUp,
		Amount:         request.Amount.Int64(),
		Description:    description,
		IdempotencyKey: strings.TrimSpace(request.IdempotencyKey),
		MetadataJSON:   request.Metadata.String(),
		CreatedUnixUTC: nowUnixUTC,
	}); err != nil {
		return Batch{}, 0, err
	}
	return batch, migrated, nil
}

// SetTrial marks an account as unmetered (or metered again).
func (service *Service) SetTrial(ctx context.Context, userID UserID, trial bool) error {
	operationError := service.store.SetTrial(ctx, userID, trial)
	service.logOperation(ctx, OperationLog{
		Operation:   operationTrial,
		UserID:      userID,
		Description: fmt.Sprintf("trial=%t", trial),
		Error:       operationError,
	})
	return operationError
}

// ListTransactions lists a user's transactions created before a cutoff, newest first.
func (service *Service) ListTransactions(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: must be greater than zero", ErrInvalidListLimit)
	}
	if beforeUnixUTC <= 0 {
		beforeUnixUTC = service.nowFn() + 1
	}
	return service.store.ListTransactions(ctx, userID, beforeUnixUTC, limit)
}

// ListBatches lists every batch of a user, including exhausted and expired ones.
func (service *Service) ListBatches(ctx context.Context, userID UserID) ([]Batch, error) {
	return service.store.ListBatches(ctx, userID)
}

// Now exposes the service clock.
func (service *Service) Now() int64 {
	return service.nowFn()
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func (service *Service) publish(ctx context.Context, userID UserID, operation string, amount int64) {
	if service.publisher == nil {
		return
	}
	service.publisher.PublishBalanceChanged(ctx, BalanceChangedEvent{
		UserID:          userID.String(),
		Operation:       operation,
		Amount:          amount,
		OccurredUnixUTC: service.nowFn(),
	})
}

func grantDescription(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultTopUpDescription
	}
	return trimmed
}
