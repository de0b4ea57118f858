package ledger

import (
	"context"
	"testing"
)

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func TestServiceLogsGrantOperation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	logger := &recorderLogger{}
	service := mustNewService(test, store, 42, WithOperationLogger(logger))
	userID := mustUserID(test, userIDValue)

	if _, err := service.Grant(context.Background(), GrantRequest{UserID: userID, Amount: mustCredits(test, 100), Description: "Welcome pack"}); err != nil {
		test.Fatalf("grant failed: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationGrant || entry.UserID != userID || entry.Amount != 100 || entry.Description != "Welcome pack" {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Error != nil || entry.Status != operationStatusOK {
		test.Fatalf("expected successful log entry, got %+v", entry)
	}
}

func TestServiceLogsErrorStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.lockSummaryError = errStoreFailure
	logger := &recorderLogger{}
	service := mustNewService(test, store, 1, WithOperationLogger(logger))

	_, err := service.Grant(context.Background(), GrantRequest{UserID: mustUserID(test, userIDValue), Amount: mustCredits(test, 100)})
	if err == nil {
		test.Fatalf("expected error")
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	if logger.entries[0].Status != operationStatusError || logger.entries[0].Error == nil {
		test.Fatalf("expected error log entry, got %+v", logger.entries[0])
	}
	if logger.entries[0].Description != defaultTopUpDescription {
		test.Fatalf("expected default description, got %q", logger.entries[0].Description)
	}
}

func TestServiceLogsRejectedDeduction(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	logger := &recorderLogger{}
	service := mustNewService(test, store, 1, WithOperationLogger(logger))

	result, err := service.Deduct(context.Background(), mustUserID(test, userIDValue), mustCredits(test, 3), mustDescription(test, "Item fetch"))
	if err != nil || result.Applied {
		test.Fatalf("expected rejected deduction, got %+v (%v)", result, err)
	}
	if len(logger.entries) != 1 || logger.entries[0].Status != operationStatusRejected || logger.entries[0].Error != nil {
		test.Fatalf("expected rejected log entry, got %+v", logger.entries)
	}
}

func TestLowBalanceThresholdIgnoresNegative(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, newStubStore(test), 1, WithLowBalanceThreshold(-5))
	if service.lowBalanceThreshold != defaultLowBalanceThreshold {
		test.Fatalf("expected default threshold, got %d", service.lowBalanceThreshold)
	}
}
