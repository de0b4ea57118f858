package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Credits is a strictly positive quantity of credits.
type Credits int64

// UserID identifies an account owner.
type UserID struct {
	value string
}

// Description is the free-text label stored on a ledger transaction.
type Description struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// SettingName identifies a process-wide numeric setting.
type SettingName string

const (
	SettingItemFetchCost SettingName = "item_fetch_cost"
	SettingResearch2Cost SettingName = "research2_cost"
)

// TransactionType enumerates ledger transaction kinds.
type TransactionType string

const (
	TransactionTopUp     TransactionType = "topup"
	TransactionDeduction TransactionType = "deduction"
)

// BatchSource records why a batch was created.
type BatchSource string

const (
	BatchSourceGrant      BatchSource = "grant"
	BatchSourceSettlement BatchSource = "settlement"
	BatchSourceMigration  BatchSource = "migration"
)

// NewCredits validates an amount and ensures it is strictly positive.
func NewCredits(raw int64) (Credits, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidCredits)
	}
	return Credits(raw), nil
}

// Int64 exposes the raw amount.
func (credits Credits) Int64() int64 {
	return int64(credits)
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewDescription validates a transaction description.
func NewDescription(raw string) (Description, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Description{}, fmt.Errorf("%w: empty value", ErrInvalidDescription)
	}
	if utf8.RuneCountInString(trimmed) > maxDescriptionLength {
		return Description{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidDescription, maxDescriptionLength)
	}
	return Description{value: trimmed}, nil
}

// String returns the normalized description.
func (description Description) String() string {
	return description.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// NewSettingName validates a setting name.
func NewSettingName(raw string) (SettingName, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidSettingName)
	}
	return SettingName(trimmed), nil
}

// String returns the setting name.
func (name SettingName) String() string {
	return string(name)
}

// ParseTransactionType validates a stored transaction type.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(raw) {
	case TransactionTopUp, TransactionDeduction:
		return TransactionType(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
	}
}

// String returns the transaction type value.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// ParseBatchSource validates a stored batch source.
func ParseBatchSource(raw string) (BatchSource, error) {
	switch BatchSource(raw) {
	case BatchSourceGrant, BatchSourceSettlement, BatchSourceMigration:
		return BatchSource(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBatchSource, raw)
	}
}

// String returns the batch source value.
func (source BatchSource) String() string {
	return string(source)
}

// Batch is one grant of credits with its own remaining amount and optional expiry.
// ExpiresAtUnixUTC of zero means the batch never expires.
type Batch struct {
	ID               string
	UserID           string
	Amount           int64
	RemainingAmount  int64
	ExpiresAtUnixUTC int64
	Source           BatchSource
	CreatedUnixUTC   int64
}

// Expires reports whether the batch carries an expiry.
func (batch Batch) Expires() bool {
	return batch.ExpiresAtUnixUTC != 0
}

// ExpiredAt reports whether the batch is expired at the given instant.
func (batch Batch) ExpiredAt(atUnixUTC int64) bool {
	return batch.Expires() && batch.ExpiresAtUnixUTC <= atUnixUTC
}

// SpendableAt reports whether the batch contributes to the balance at the given instant.
func (batch Batch) SpendableAt(atUnixUTC int64) bool {
	return batch.RemainingAmount > 0 && !batch.ExpiredAt(atUnixUTC)
}

// Transaction is an immutable ledger line.
type Transaction struct {
	ID             string
	UserID         string
	Type           TransactionType
	Amount         int64
	Description    string
	IdempotencyKey string
	MetadataJSON   string
	CreatedUnixUTC int64
}

// Summary is the cached per-user credit projection.
type Summary struct {
	UserID           string
	CurrentCredits   int64
	TotalPurchased   int64
	LastTopupUnixUTC int64
	IsTrial          bool
}

// SummaryDelta describes an additive change to a Summary.
// A non-zero TopupUnixUTC replaces the last top-up date.
type SummaryDelta struct {
	CurrentCredits int64
	TotalPurchased int64
	TopupUnixUTC   int64
}

// Setting is a named numeric configuration value.
type Setting struct {
	Name           SettingName
	Value          int64
	Description    string
	UpdatedBy      string
	UpdatedUnixUTC int64
}

// Balance view for a user.
type Balance struct {
	CurrentCredits   int64
	TotalPurchased   int64
	LastTopupUnixUTC int64
	IsTrial          bool
}

// Store is the persistence contract used by Service.
// Implementations lock rows in LockSummary and LockSpendableBatches for the lifetime of the enclosing transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetSummary(ctx context.Context, userID UserID) (Summary, bool, error)
	LockSummary(ctx context.Context, userID UserID) (Summary, error)
	ApplySummaryDelta(ctx context.Context, userID UserID, delta SummaryDelta) error
	SetTrial(ctx context.Context, userID UserID, trial bool) error
	SumSpendable(ctx context.Context, userID UserID, atUnixUTC int64) (int64, error)
	CountBatches(ctx context.Context, userID UserID) (int64, error)
	LockSpendableBatches(ctx context.Context, userID UserID, atUnixUTC int64) ([]Batch, error)
	ListBatches(ctx context.Context, userID UserID) ([]Batch, error)
	InsertBatch(ctx context.Context, batch Batch) (Batch, error)
	DecrementBatch(ctx context.Context, batchID string, amount int64) error
	InsertTransaction(ctx context.Context, transaction Transaction) (Transaction, error)
	FindTransaction(ctx context.Context, userID UserID, transactionType TransactionType, description string) (Transaction, bool, error)
	ListTransactions(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]Transaction, error)
	GetSetting(ctx context.Context, name SettingName) (Setting, bool, error)
	UpsertSetting(ctx context.Context, setting Setting) error
	ListSettings(ctx context.Context) ([]Setting, error)
}
