package ledger

import (
	"context"
	"fmt"
	"slices"
	"testing"
)

// stubStore is an in-memory Store. WithTx snapshots state and restores it when fn fails.
type stubStore struct {
	summaries    map[string]Summary
	batches      []Batch
	transactions []Transaction
	settings     map[SettingName]Setting
	nextID       int
	withTxCalls  int

	sumSpendableError      error
	getSummaryError        error
	lockSummaryError       error
	lockBatchesError       error
	decrementError         error
	insertBatchError       error
	insertTransactionError error
	getSettingError        error
	upsertSettingError     error
	listTransactionsError  error
	findTransactionHook    func()
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		summaries: map[string]Summary{},
		settings:  map[SettingName]Setting{},
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.withTxCalls++
	summaries := make(map[string]Summary, len(store.summaries))
	for key, value := range store.summaries {
		summaries[key] = value
	}
	settings := make(map[SettingName]Setting, len(store.settings))
	for key, value := range store.settings {
		settings[key] = value
	}
	batches := slices.Clone(store.batches)
	transactions := slices.Clone(store.transactions)
	if err := fn(ctx, store); err != nil {
		store.summaries = summaries
		store.settings = settings
		store.batches = batches
		store.transactions = transactions
		return err
	}
	return nil
}

func (store *stubStore) GetSummary(_ context.Context, userID UserID) (Summary, bool, error) {
	if store.getSummaryError != nil {
		return Summary{}, false, store.getSummaryError
	}
	summary, ok := store.summaries[userID.String()]
	return summary, ok, nil
}

func (store *stubStore) LockSummary(_ context.Context, userID UserID) (Summary, error) {
	if store.lockSummaryError != nil {
		return Summary{}, store.lockSummaryError
	}
	summary, ok := store.summaries[userID.String()]
	if !ok {
		summary = Summary{UserID: userID.String()}
		store.summaries[userID.String()] = summary
	}
	return summary, nil
}

func (store *stubStore) ApplySummaryDelta(_ context.Context, userID UserID, delta SummaryDelta) error {
	summary, ok := store.summaries[userID.String()]
	if !ok {
		return ErrUnknownSummary
	}
	summary.CurrentCredits += delta.CurrentCredits
	summary.TotalPurchased += delta.TotalPurchased
	if delta.TopupUnixUTC != 0 {
		summary.LastTopupUnixUTC = delta.TopupUnixUTC
	}
	store.summaries[userID.String()] = summary
	return nil
}

func (store *stubStore) SetTrial(_ context.Context, userID UserID, trial bool) error {
	summary := store.summaries[userID.String()]
	summary.UserID = userID.String()
	summary.IsTrial = trial
	store.summaries[userID.String()] = summary
	return nil
}

func (store *stubStore) SumSpendable(_ context.Context, userID UserID, atUnixUTC int64) (int64, error) {
	if store.sumSpendableError != nil {
		return 0, store.sumSpendableError
	}
	var total int64
	for _, batch := range store.batches {
		if batch.UserID == userID.String() && batch.SpendableAt(atUnixUTC) {
			total += batch.RemainingAmount
		}
	}
	return total, nil
}

func (store *stubStore) CountBatches(_ context.Context, userID UserID) (int64, error) {
	var count int64
	for _, batch := range store.batches {
		if batch.UserID == userID.String() {
			count++
		}
	}
	return count, nil
}

func (store *stubStore) LockSpendableBatches(_ context.Context, userID UserID, atUnixUTC int64) ([]Batch, error) {
	if store.lockBatchesError != nil {
		return nil, store.lockBatchesError
	}
	var spendable []Batch
	for _, batch := range store.batches {
		if batch.UserID == userID.String() && batch.SpendableAt(atUnixUTC) {
			spendable = append(spendable, batch)
		}
	}
	return spendable, nil
}

func (store *stubStore) ListBatches(_ context.Context, userID UserID) ([]Batch, error) {
	var batches []Batch
	for _, batch := range store.batches {
		if batch.UserID == userID.String() {
			batches = append(batches, batch)
		}
	}
	return batches, nil
}

func (store *stubStore) InsertBatch(_ context.Context, batch Batch) (Batch, error) {
	if store.insertBatchError != nil {
		return Batch{}, store.insertBatchError
	}
	store.nextID++
	if batch.ID == "" {
		batch.ID = fmt.Sprintf("batch-%03d", store.nextID)
	}
	store.batches = append(store.batches, batch)
	return batch, nil
}

func (store *stubStore) DecrementBatch(_ context.Context, batchID string, amount int64) error {
	if store.decrementError != nil {
		return store.decrementError
	}
	for index := range store.batches {
		if store.batches[index].ID != batchID {
			continue
		}
		if store.batches[index].RemainingAmount < amount {
			return ErrBatchUnderflow
		}
		store.batches[index].RemainingAmount -= amount
		return nil
	}
	return ErrBatchUnderflow
}

func (store *stubStore) InsertTransaction(_ context.Context, transaction Transaction) (Transaction, error) {
	if store.insertTransactionError != nil {
		return Transaction{}, store.insertTransactionError
	}
	if transaction.IdempotencyKey != "" {
		for _, existing := range store.transactions {
			if existing.UserID == transaction.UserID && existing.IdempotencyKey == transaction.IdempotencyKey {
				return Transaction{}, ErrDuplicateIdempotencyKey
			}
		}
	}
	store.nextID++
	transaction.ID = fmt.Sprintf("transaction-%03d", store.nextID)
	store.transactions = append(store.transactions, transaction)
	return transaction, nil
}

func (store *stubStore) FindTransaction(_ context.Context, userID UserID, transactionType TransactionType, description string) (Transaction, bool, error) {
	var (
		found   Transaction
		matched bool
	)
	for _, transaction := range store.transactions {
		if transaction.UserID == userID.String() && transaction.Type == transactionType && transaction.Description == description {
			found, matched = transaction, true
			break
		}
	}
	if store.findTransactionHook != nil {
		store.findTransactionHook()
	}
	return found, matched, nil
}

func (store *stubStore) ListTransactions(_ context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	if store.listTransactionsError != nil {
		return nil, store.listTransactionsError
	}
	var listed []Transaction
	for index := len(store.transactions) - 1; index >= 0 && len(listed) < limit; index-- {
		transaction := store.transactions[index]
		if transaction.UserID == userID.String() && transaction.CreatedUnixUTC < beforeUnixUTC {
			listed = append(listed, transaction)
		}
	}
	return listed, nil
}

func (store *stubStore) GetSetting(_ context.Context, name SettingName) (Setting, bool, error) {
	if store.getSettingError != nil {
		return Setting{}, false, store.getSettingError
	}
	setting, ok := store.settings[name]
	return setting, ok, nil
}

func (store *stubStore) UpsertSetting(_ context.Context, setting Setting) error {
	if store.upsertSettingError != nil {
		return store.upsertSettingError
	}
	store.settings[setting.Name] = setting
	return nil
}

func (store *stubStore) ListSettings(_ context.Context) ([]Setting, error) {
	settings := make([]Setting, 0, len(store.settings))
	for _, setting := range store.settings {
		settings = append(settings, setting)
	}
	return settings, nil
}

func (store *stubStore) batchByID(test *testing.T, batchID string) Batch {
	test.Helper()
	for _, batch := range store.batches {
		if batch.ID == batchID {
			return batch
		}
	}
	test.Fatalf("batch %s not found", batchID)
	return Batch{}
}

func (store *stubStore) sumRemaining(userID UserID) int64 {
	var total int64
	for _, batch := range store.batches {
		if batch.UserID == userID.String() {
			total += batch.RemainingAmount
		}
	}
	return total
}

type recorderPublisher struct {
	events []BalanceChangedEvent
}

func (publisher *recorderPublisher) PublishBalanceChanged(_ context.Context, event BalanceChangedEvent) {
	publisher.events = append(publisher.events, event)
}

func fixedClock(now int64) func() int64 {
	return func() int64 { return now }
}

func mustNewService(test *testing.T, store Store, now int64, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, fixedClock(now), options...)
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustCredits(test *testing.T, raw int64) Credits {
	test.Helper()
	credits, err := NewCredits(raw)
	if err != nil {
		test.Fatalf("credits: %v", err)
	}
	return credits
}

func mustDescription(test *testing.T, raw string) Description {
	test.Helper()
	description, err := NewDescription(raw)
	if err != nil {
		test.Fatalf("description: %v", err)
	}
	return description
}

func mustGrant(test *testing.T, service *Service, userID UserID, amount int64, expiresInDays int) Batch {
	test.Helper()
	batch, err := service.Grant(context.Background(), GrantRequest{
		UserID:        userID,
		Amount:        mustCredits(test, amount),
		ExpiresInDays: expiresInDays,
	})
	if err != nil {
		test.Fatalf("grant: %v", err)
	}
	return batch
}
