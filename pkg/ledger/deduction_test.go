package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

const descriptionItemFetch = "Item fetch"

func TestPlanDeductionConsumesSoonestExpiringFirst(test *testing.T) {
	test.Parallel()
	const now = int64(1_000)
	batches := []Batch{
		{ID: "never", RemainingAmount: 50, CreatedUnixUTC: 1},
		{ID: "thirty-days", RemainingAmount: 10, ExpiresAtUnixUTC: now + 30*secondsPerDay, CreatedUnixUTC: 2},
		{ID: "one-day", RemainingAmount: 5, ExpiresAtUnixUTC: now + secondsPerDay, CreatedUnixUTC: 3},
	}

	plan := planDeduction(batches, Credits(7), now)
	if !plan.Sufficient() {
		test.Fatalf("expected sufficient plan, got %+v", plan)
	}
	expected := []Allocation{{BatchID: "one-day", Amount: 5}, {BatchID: "thirty-days", Amount: 2}}
	if len(plan.Allocations) != len(expected) {
		test.Fatalf("expected %d allocations, got %+v", len(expected), plan.Allocations)
	}
	for index, allocation := range expected {
		if plan.Allocations[index] != allocation {
			test.Fatalf("allocation %d: expected %+v, got %+v", index, allocation, plan.Allocations[index])
		}
	}
}

func TestPlanDeductionBreaksTiesByCreationThenID(test *testing.T) {
	test.Parallel()
	const now = int64(1_000)
	batches := []Batch{
		{ID: "b", RemainingAmount: 1, CreatedUnixUTC: 20},
		{ID: "c", RemainingAmount: 1, CreatedUnixUTC: 10},
		{ID: "a", RemainingAmount: 1, CreatedUnixUTC: 20},
	}
	plan := planDeduction(batches, Credits(3), now)
	order := []string{plan.Allocations[0].BatchID, plan.Allocations[1].BatchID, plan.Allocations[2].BatchID}
	if order[0] != "c" || order[1] != "a" || order[2] != "b" {
		test.Fatalf("unexpected consumption order %v", order)
	}
}

func TestPlanDeductionIgnoresUnspendableBatches(test *testing.T) {
	test.Parallel()
	const now = int64(1_000)
	batches := []Batch{
		{ID: "expired", RemainingAmount: 100, ExpiresAtUnixUTC: now - 1},
		{ID: "empty", RemainingAmount: 0},
		{ID: "live", RemainingAmount: 4},
	}
	plan := planDeduction(batches, Credits(5), now)
	if plan.Sufficient() {
		test.Fatalf("expected insufficient plan, got %+v", plan)
	}
	if plan.Available != 4 || len(plan.Allocations) != 0 {
		test.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestDeductSoonestExpiryFirstScenario(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store, testNowUnixUTC)
	userID := mustUserID(test, userIDValue)
	batchA := mustGrant(test, service, userID, 5, 1)
	batchB := mustGrant(test, service, userID, 10, 30)
	batchC := mustGrant(test, service, userID, 50, 0)

	result, err := service.Deduct(context.Background(), userID, mustCredits(test, 7), mustDescription(test, descriptionItemFetch))
	if err != nil {
		test.Fatalf("deduct: %v", err)
	}
	if !result.Applied {
		test.Fatalf("expected applied deduction, got %+v", result)
	}
	assertRemaining(test, store, batchA.ID, 0)
	assertRemaining(test, store, batchB.ID, 8)
	assertRemaining(test, store, batchC.ID, 50)
}

func TestDeductSequentialScenario(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store, testNowUnixUTC)
	userID := mustUserID(test, userIDValue)
	batchC := mustGrant(test, service, userID, 5, 1)
	batchA := mustGrant(test, service, userID, 10, 30)
	batchB := mustGrant(test, service, userID, 50, 0)

	steps := []struct {
		amount      int64
		remainingC  int64
		remainingA  int64
		remainingB  int64
		wantBalance int64
	}{
		{amount: 3, remainingC: 2, remainingA: 10, remainingB: 50, wantBalance: 62},
		{amount: 4, remainingC: 0, remainingA: 8, remainingB: 50, wantBalance: 58},
	}
	for _, step := range steps {
		result, err := service.Deduct(context.Background(), userID, mustCredits(test, step.amount), mustDescription(test, descriptionItemFetch))
		if err != nil || !result.Applied {
			test.Fatalf("deduct %d: result %+v err %v", step.amount, result, err)
		}
		assertRemaining(test, store, batchC.ID, step.remainingC)
		assertRemaining(test, store, batchA.ID, step.remainingA)
		assertRemaining(test, store, batchB.ID, step.remainingB)
		balance, err := service.Balance(context.Background(), userID)
		if err != nil {
			test.Fatalf("balance: %v", err)
		}
		if balance.CurrentCredits != step.wantBalance {
			test.Fatalf("expected balance %d, got %d", step.wantBalance, balance.CurrentCredits)
		}
	}
}

func TestDeductOneCreditHundredTimes(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store, testNowUnixUTC)
	userID := mustUserID(test, userIDValue)
	mustGrant(test, service, userID, 100, 0)

	for attempt := 1; attempt <= 100; attempt++ {
		result, err := service.Deduct(context.Background(), userID, mustCredits(test, 1), mustDescription(test, descriptionItemFetch))
		if err != nil || !result.Applied {
			test.Fatalf("deduction %d: result %+v err %v", attempt, result, err)
		}
	}
	balance, err := service.Balance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.CurrentCredits != 0 {
		test.Fatalf("expected empty balance, got %d", balance.CurrentCredits)
	}
	result, err := service.Deduct(context.Background(), userID, mustCredits(test, 1), mustDescription(test, descriptionItemFetch))
	if err != nil {
		test.Fatalf("expected insufficient funds as an outcome, got error %v", err)
	}
	if result.Applied {
		test.Fatalf("expected 101st deduction to fail")
	}
	if store.summaries[userIDValue].CurrentCredits != 0 {
		test.Fatalf("expected summary at zero, got %d", store.summaries[userIDValue].CurrentCredits)
	}
}

func TestDeductIsAllOrNothing(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	publisher := &recorderPublisher{}
	service := mustNewService(test, store, testNowUnixUTC, WithEventPublisher(publisher))
	userID := mustUserID(test, userIDValue)
	mustGrant(test, service, userID, 4, 1)
	mustGrant(test, service, userID, 6, 0)
	transactionsBefore := len(store.transactions)
	publisher.events = nil

	result, err := service.Deduct(context.Background(), userID, mustCredits(test, 11), mustDescription(test, descriptionItemFetch))
	if err != nil {
		test.Fatalf("deduct: %v", err)
	}
	if result.Applied || result.Required != 11 || result.Available != 10 {
		test.Fatalf("unexpected result: %+v", result)
	}
	if store.sumRemaining(userID) != 10 {
		test.Fatalf("expected batches untouched, remaining sum %d", store.sumRemaining(userID))
	}
	if len(store.transactions) != transactionsBefore {
		test.Fatalf("expected no new transaction")
	}
	if store.summaries[userIDValue].CurrentCredits != 10 {
		test.Fatalf("expected summary untouched, got %d", store.summaries[userIDValue].CurrentCredits)
	}
	if len(publisher.events) != 0 {
		test.Fatalf("expected no balance events, got %+v", publisher.events)
	}
}

func TestDeductConservesCredits(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store, testNowUnixUTC)
	userID := mustUserID(test, userIDValue)
	mustGrant(test, service, userID, 3, 2)
	mustGrant(test, service, userID, 9, 5)
	mustGrant(test, service, userID, 20, 0)

	for _, amount := range []int64{4, 7, 100, 1, 20, 1} {
		before := store.sumRemaining(userID)
		result, err := service.Deduct(context.Background(), userID, mustCredits(test, amount), mustDescription(test, descriptionItemFetch))
		if err != nil {
			test.Fatalf("deduct %d: %v", amount, err)
		}
		after := store.sumRemaining(userID)
		if result.Applied && before-after != amount {
			test.Fatalf("deduct %d: expected decrease of %d, got %d", amount, amount, before-after)
		}
		if !result.Applied && before != after {
			test.Fatalf("failed deduct %d changed remaining from %d to %d", amount, before, after)
		}
		for _, batch := range store.batches {
			if batch.RemainingAmount < 0 {
				test.Fatalf("negative remaining on %s: %d", batch.ID, batch.RemainingAmount)
			}
		}
	}
}

func TestDeductRecordsAllocationsOnTransaction(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store, testNowUnixUTC)
	userID := mustUserID(test, userIDValue)
	first := mustGrant(test, service, userID, 2, 1)
	second := mustGrant(test, service, userID, 5, 0)

	if _, err := service.Deduct(context.Background(), userID, mustCredits(test, 3), mustDescription(test, "Research2 stage")); err != nil {
		test.Fatalf("deduct: %v", err)
	}
	deduction := store.transactions[len(store.transactions)-1]
	if deduction.Type != TransactionDeduction || deduction.Amount != 3 || deduction.Description != "Research2 stage" {
		test.Fatalf("unexpected deduction transaction: %+v", deduction)
	}
	var metadata struct {
		Allocations []Allocation `json:"allocations"`
	}
	if err := json.Unmarshal([]byte(deduction.MetadataJSON), &metadata); err != nil {
		test.Fatalf("metadata decode: %v", err)
	}
	if len(metadata.Allocations) != 2 || metadata.Allocations[0].BatchID != first.ID || metadata.Allocations[1].BatchID != second.ID {
		test.Fatalf("unexpected allocations: %+v", metadata.Allocations)
	}
}

func TestDeductWithRollsBackWhenApplyFails(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store, testNowUnixUTC)
	userID := mustUserID(test, userIDValue)
	mustGrant(test, service, userID, 10, 0)
	errStageUpdate := errors.New("stage update failed")

	result, err := service.DeductWith(context.Background(), userID, mustCredits(test, 2), mustDescription(test, descriptionItemFetch), func(ctx context.Context) error {
		return errStageUpdate
	})
	if !errors.Is(err, errStageUpdate) {
		test.Fatalf("expected apply error, got %v", err)
	}
	if result.Applied {
		test.Fatalf("expected unapplied result, got %+v", result)
	}
	if store.sumRemaining(userID) != 10 || store.summaries[userIDValue].CurrentCredits != 10 {
		test.Fatalf("expected rollback, remaining %d summary %d", store.sumRemaining(userID), store.summaries[userIDValue].CurrentCredits)
	}
}

func TestDeductCostWithChargesOnlyTheQuotedCost(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name        string
		stored      int64
		quoted      int64
		wantErr     error
		wantBalance int64
	}{
		{name: "cost unchanged", stored: 2, quoted: 2, wantBalance: 8},
		{name: "cost raised", stored: 5, quoted: 2, wantErr: ErrCostChanged, wantBalance: 10},
		{name: "cost lowered", stored: 1, quoted: 2, wantErr: ErrCostChanged, wantBalance: 10},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			store.settings[SettingResearch2Cost] = Setting{Name: SettingResearch2Cost, Value: testCase.stored}
			service := mustNewService(test, store, testNowUnixUTC)
			userID := mustUserID(test, userIDValue)
			mustGrant(test, service, userID, 10, 0)
			applied := false

			result, err := service.DeductCostWith(context.Background(), userID, SettingResearch2Cost, mustCredits(test, testCase.quoted), mustDescription(test, "Stage research2: item-1"), func(ctx context.Context) error {
				applied = true
				return nil
			})
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				if result.Applied || applied || len(store.transactions) != 1 {
					test.Fatalf("expected nothing written, result %+v applied %t", result, applied)
				}
			} else if err != nil || !result.Applied || !applied {
				test.Fatalf("expected applied deduction, result %+v err %v", result, err)
			}
			if store.sumRemaining(userID) != testCase.wantBalance {
				test.Fatalf("expected balance %d, got %d", testCase.wantBalance, store.sumRemaining(userID))
			}
		})
	}
}

func TestDeductWithSkipsApplyWhenInsufficient(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store, testNowUnixUTC)
	userID := mustUserID(test, userIDValue)
	applied := false

	result, err := service.DeductWith(context.Background(), userID, mustCredits(test, 2), mustDescription(test, descriptionItemFetch), func(ctx context.Context) error {
		applied = true
		return nil
	})
	if err != nil {
		test.Fatalf("deduct: %v", err)
	}
	if result.Applied || applied {
		test.Fatalf("expected neither deduction nor apply, result %+v applied %t", result, applied)
	}
}

func TestDeductReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(store *stubStore)
	}{
		{name: "lock summary error", configure: func(store *stubStore) { store.lockSummaryError = errStoreFailure }},
		{name: "lock batches error", configure: func(store *stubStore) { store.lockBatchesError = errStoreFailure }},
		{name: "decrement error", configure: func(store *stubStore) { store.decrementError = errStoreFailure }},
		{name: "insert transaction error", configure: func(store *stubStore) { store.insertTransactionError = errStoreFailure }},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			service := mustNewService(test, store, testNowUnixUTC)
			userID := mustUserID(test, userIDValue)
			mustGrant(test, service, userID, 10, 0)
			testCase.configure(store)

			result, err := service.Deduct(context.Background(), userID, mustCredits(test, 4), mustDescription(test, descriptionItemFetch))
			if !errors.Is(err, errStoreFailure) {
				test.Fatalf("expected %v, got %v", errStoreFailure, err)
			}
			if result.Applied {
				test.Fatalf("expected unapplied result")
			}
			if store.sumRemaining(userID) != 10 {
				test.Fatalf("expected no partial state, remaining %d", store.sumRemaining(userID))
			}
		})
	}
}

func assertRemaining(test *testing.T, store *stubStore, batchID string, want int64) {
	test.Helper()
	if got := store.batchByID(test, batchID).RemainingAmount; got != want {
		test.Fatalf("batch %s: expected remaining %d, got %d", batchID, want, got)
	}
}
