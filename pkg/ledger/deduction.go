package ledger

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// DeductionResult reports the outcome of a deduction. Applied is false when the balance could not cover Required;
// nothing was written in that case.
type DeductionResult struct {
	Applied   bool
	Required  int64
	Available int64
}

// Allocation is the portion of a deduction taken from one batch.
type Allocation struct {
	BatchID string `json:"batch_id"`
	Amount  int64  `json:"amount"`
}

// DeductionPlan lists per-batch decrements in consumption order.
type DeductionPlan struct {
	Allocations []Allocation
	Required    int64
	Available   int64
}

// Sufficient reports whether the spendable batches cover the required amount.
func (plan DeductionPlan) Sufficient() bool {
	return plan.Available >= plan.Required
}

// ApplyFunc mutates business state inside the deduction transaction.
type ApplyFunc func(ctx context.Context) error

// Deduct consumes amount across the user's spendable batches, soonest expiry first, all or nothing.
func (service *Service) Deduct(ctx context.Context, userID UserID, amount Credits, description Description) (DeductionResult, error) {
	return service.DeductWith(ctx, userID, amount, description, nil)
}

// DeductWith performs Deduct and runs apply in the same transaction before commit.
// An error from apply rolls back the deduction; apply is not called when funds are insufficient.
func (service *Service) DeductWith(ctx context.Context, userID UserID, amount Credits, description Description, apply ApplyFunc) (DeductionResult, error) {
	return service.deduct(ctx, userID, amount, description, nil, apply)
}

// DeductCostWith performs DeductWith for a named cost the caller already quoted to the user.
// The cost is read again under the summary lock; if it no longer equals quoted nothing is written
// and the error wraps ErrCostChanged.
func (service *Service) DeductCostWith(ctx context.Context, userID UserID, name SettingName, quoted Credits, description Description, apply ApplyFunc) (DeductionResult, error) {
	guard := func(ctx context.Context, transactionStore Store) error {
		current, err := costFrom(ctx, transactionStore, name)
		if err != nil {
			return err
		}
		if current != quoted.Int64() {
			return WrapError(operationDeduct, errorSubjectRequest, "cost", fmt.Errorf("%w: %s quoted %d, now %d", ErrCostChanged, name, quoted.Int64(), current))
		}
		return nil
	}
	return service.deduct(ctx, userID, quoted, description, guard, apply)
}

func (service *Service) deduct(ctx context.Context, userID UserID, amount Credits, description Description, guard func(ctx context.Context, transactionStore Store) error, apply ApplyFunc) (DeductionResult, error) {
	result := DeductionResult{Required: amount.Int64()}
	var migrated int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if amount <= 0 {
			return WrapError(operationDeduct, errorSubjectRequest, "amount", ErrInvalidCredits)
		}
		if description.String() == "" {
			return WrapError(operationDeduct, errorSubjectRequest, "description", ErrInvalidDescription)
		}
		summary, err := transactionStore.LockSummary(ctx, userID)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(ctx, transactionStore); err != nil {
				return err
			}
		}
		migrated, err = service.migrateLegacyWithin(ctx, transactionStore, userID, summary)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		batches, err := transactionStore.LockSpendableBatches(ctx, userID, nowUnixUTC)
		if err != nil {
			return err
		}
		plan := planDeduction(batches, amount, nowUnixUTC)
		result.Available = plan.Available
		if !plan.Sufficient() {
			return ErrInsufficientFunds
		}
		for _, allocation := range plan.Allocations {
			if err := transactionStore.DecrementBatch(ctx, allocation.BatchID, allocation.Amount); err != nil {
				return err
			}
		}
		if err := transactionStore.ApplySummaryDelta(ctx, userID, SummaryDelta{CurrentCredits: -amount.Int64()}); err != nil {
			return err
		}
		metadata, err := allocationMetadata(plan.Allocations)
		if err != nil {
			return err
		}
		if _, err := transactionStore.InsertTransaction(ctx, Transaction{
			UserID:         userID.String(),
			Type:           TransactionDeduction,
			Amount:         amount.Int64(),
			Description:    description.String(),
			MetadataJSON:   metadata,
			CreatedUnixUTC: nowUnixUTC,
		}); err != nil {
			return err
		}
		if apply != nil {
			return apply(ctx)
		}
		return nil
	})

	status := ""
	if errors.Is(operationError, ErrInsufficientFunds) {
		operationError = nil
		status = operationStatusRejected
	} else if operationError == nil {
		result.Applied = true
	}
	service.logOperation(ctx, OperationLog{
		Operation:   operationDeduct,
		UserID:      userID,
		Amount:      amount.Int64(),
		Description: description.String(),
		Status:      status,
		Error:       operationError,
	})
	if operationError != nil {
		return DeductionResult{Required: amount.Int64(), Available: result.Available}, operationError
	}
	if result.Applied {
		service.recordMigration(ctx, userID, migrated)
		service.publish(ctx, userID, operationDeduct, amount.Int64())
	}
	return result, nil
}

// planDeduction walks the spendable batches soonest-expiring first (non-expiring last, then oldest first)
// and takes min(remaining, needed) from each until the amount is covered.
func planDeduction(batches []Batch, amount Credits, atUnixUTC int64) DeductionPlan {
	spendable := make([]Batch, 0, len(batches))
	for _, batch := range batches {
		if batch.SpendableAt(atUnixUTC) {
			spendable = append(spendable, batch)
		}
	}
	slices.SortStableFunc(spendable, compareConsumptionOrder)

	plan := DeductionPlan{Required: amount.Int64()}
	for _, batch := range spendable {
		plan.Available += batch.RemainingAmount
	}
	if !plan.Sufficient() {
		return plan
	}
	needed := amount.Int64()
	for _, batch := range spendable {
		if needed == 0 {
			break
		}
		take := min(batch.RemainingAmount, needed)
		plan.Allocations = append(plan.Allocations, Allocation{BatchID: batch.ID, Amount: take})
		needed -= take
	}
	return plan
}

func compareConsumptionOrder(left Batch, right Batch) int {
	if left.Expires() != right.Expires() {
		if left.Expires() {
			return -1
		}
		return 1
	}
	if order := cmp.Compare(left.ExpiresAtUnixUTC, right.ExpiresAtUnixUTC); order != 0 {
		return order
	}
	if order := cmp.Compare(left.CreatedUnixUTC, right.CreatedUnixUTC); order != 0 {
		return order
	}
	return cmp.Compare(left.ID, right.ID)
}

func allocationMetadata(allocations []Allocation) (string, error) {
	raw, err := json.Marshal(map[string]any{"allocations": allocations})
	if err != nil {
		return "", WrapError(operationDeduct, "metadata", "marshal", err)
	}
	return string(raw), nil
}
