package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintBatchLegacy        = "idx_credit_batches_user_legacy"
	constraintTransactionIdemKey = "idx_credit_transactions_user_idempotency"
	defaultMetadataJSON          = "{}"
	legacyMarkerValue            = "legacy"
	pgUniqueViolationCode        = "23505"
	sqliteConstraintUniqueCode   = 2067
	sqliteConstraintPrimaryCode  = 1555
	spendableOrder               = "expires_at IS NULL, expires_at ASC, created_at ASC, id ASC"
	errorOperationStore          = "store"
	errorSubjectBatch            = "batch"
	errorSubjectSetting          = "setting"
	errorSubjectSummary          = "summary"
	errorSubjectTransaction      = "transaction"
	errorCodeCount               = "count"
	errorCodeDecrement           = "decrement"
	errorCodeDuplicate           = "duplicate"
	errorCodeGet                 = "get"
	errorCodeInsert              = "insert"
	errorCodeList                = "list"
	errorCodeLock                = "lock"
	errorCodeSumSpendable        = "sum_spendable"
	errorCodeUpdate              = "update"
	errorCodeUpsert              = "upsert"
)

type transactionContextKey struct{}

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates every table used by the ledger and the workflow.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(Models()...)
}

// WithTx executes fn within a transaction. The transaction also travels in ctx so that
// ItemStore writes made by fn commit or roll back with the ledger writes.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		transactionCtx := context.WithValue(ctx, transactionContextKey{}, transaction)
		return fn(transactionCtx, &Store{db: transaction})
	})
}

func (store *Store) GetSummary(ctx context.Context, userID ledger.UserID) (ledger.Summary, bool, error) {
	var row UserCreditSummary
	err := store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Summary{UserID: userID.String()}, false, nil
	}
	if err != nil {
		return ledger.Summary{}, false, wrapStoreError(errorSubjectSummary, errorCodeGet, err)
	}
	return mapSummary(row), true, nil
}

// LockSummary creates the summary row when missing and locks it for the rest of the transaction.
func (store *Store) LockSummary(ctx context.Context, userID ledger.UserID) (ledger.Summary, error) {
	db := store.db.WithContext(ctx)
	seed := UserCreditSummary{UserID: userID.String(), UpdatedAt: time.Now().UTC()}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return ledger.Summary{}, wrapStoreError(errorSubjectSummary, errorCodeLock, err)
	}
	var row UserCreditSummary
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID.String()).
		Take(&row).Error
	if err != nil {
		return ledger.Summary{}, wrapStoreError(errorSubjectSummary, errorCodeLock, err)
	}
	return mapSummary(row), nil
}

func (store *Store) ApplySummaryDelta(ctx context.Context, userID ledger.UserID, delta ledger.SummaryDelta) error {
	updates := map[string]any{
		"current_credits": gorm.Expr("current_credits + ?", delta.CurrentCredits),
		"total_purchased": gorm.Expr("total_purchased + ?", delta.TotalPurchased),
		"updated_at":      time.Now().UTC(),
	}
	if delta.TopupUnixUTC != 0 {
		updates["last_topup_at"] = unixToTime(delta.TopupUnixUTC)
	}
	result := store.db.WithContext(ctx).
		Model(&UserCreditSummary{}).
		Where("user_id = ?", userID.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectSummary, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectSummary, errorCodeUpdate, ledger.ErrUnknownSummary)
	}
	return nil
}

func (store *Store) SetTrial(ctx context.Context, userID ledger.UserID, trial bool) error {
	row := UserCreditSummary{UserID: userID.String(), IsTrial: trial, UpdatedAt: time.Now().UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_trial", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectSummary, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) SumSpendable(ctx context.Context, userID ledger.UserID, atUnixUTC int64) (int64, error) {
	var sum sqlSum
	err := store.spendable(ctx, userID, atUnixUTC).
		Select("coalesce(sum(remaining_amount),0) as total").
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBatch, errorCodeSumSpendable, err)
	}
	return sum.Total, nil
}

func (store *Store) CountBatches(ctx context.Context, userID ledger.UserID) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&CreditBatch{}).
		Where("user_id = ?", userID.String()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBatch, errorCodeCount, err)
	}
	return count, nil
}

// LockSpendableBatches locks the user's unexpired, non-empty batches in consumption order.
func (store *Store) LockSpendableBatches(ctx context.Context, userID ledger.UserID, atUnixUTC int64) ([]ledger.Batch, error) {
	var rows []CreditBatch
	err := store.spendable(ctx, userID, atUnixUTC).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Order(spendableOrder).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBatch, errorCodeLock, err)
	}
	return mapBatches(rows), nil
}

func (store *Store) ListBatches(ctx context.Context, userID ledger.UserID) ([]ledger.Batch, error) {
	var rows []CreditBatch
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBatch, errorCodeList, err)
	}
	return mapBatches(rows), nil
}

func (store *Store) InsertBatch(ctx context.Context, batch ledger.Batch) (ledger.Batch, error) {
	row := CreditBatch{
		ID:              batch.ID,
		UserID:          batch.UserID,
		Amount:          batch.Amount,
		RemainingAmount: batch.RemainingAmount,
		ExpiresAt:       optionalTime(batch.ExpiresAtUnixUTC),
		Source:          string(batch.Source),
		CreatedAt:       unixToTime(batch.CreatedUnixUTC),
	}
	if batch.Source == ledger.BatchSourceMigration {
		marker := legacyMarkerValue
		row.LegacyMarker = &marker
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintBatchLegacy) {
		return ledger.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeDuplicate, ledger.ErrDuplicateLegacyBatch)
	}
	if err != nil {
		return ledger.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeInsert, err)
	}
	return mapBatch(row), nil
}

// DecrementBatch never lets remaining_amount drop below zero.
func (store *Store) DecrementBatch(ctx context.Context, batchID string, amount int64) error {
	result := store.db.WithContext(ctx).
		Model(&CreditBatch{}).
		Where("id = ? AND remaining_amount >= ?", batchID, amount).
		Update("remaining_amount", gorm.Expr("remaining_amount - ?", amount))
	if result.Error != nil {
		return wrapStoreError(errorSubjectBatch, errorCodeDecrement, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBatch, errorCodeDecrement, ledger.ErrBatchUnderflow)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction ledger.Transaction) (ledger.Transaction, error) {
	row := CreditTransaction{
		UserID:      transaction.UserID,
		Type:        transaction.Type.String(),
		Amount:      transaction.Amount,
		Description: transaction.Description,
		Metadata:    datatypesJSON(transaction.MetadataJSON),
		CreatedAt:   unixToTime(transaction.CreatedUnixUTC),
	}
	if transaction.IdempotencyKey != "" {
		key := transaction.IdempotencyKey
		row.IdempotencyKey = &key
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintTransactionIdemKey) {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return mapTransaction(row), nil
}

func (store *Store) FindTransaction(ctx context.Context, userID ledger.UserID, transactionType ledger.TransactionType, description string) (ledger.Transaction, bool, error) {
	var rows []CreditTransaction
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND description = ?", userID.String(), transactionType.String(), description).
		Order("created_at ASC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return ledger.Transaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	if len(rows) == 0 {
		return ledger.Transaction{}, false, nil
	}
	return mapTransaction(rows[0]), true, nil
}

func (store *Store) ListTransactions(ctx context.Context, userID ledger.UserID, beforeUnixUTC int64, limit int) ([]ledger.Transaction, error) {
	var rows []CreditTransaction
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND created_at < ?", userID.String(), unixToTime(beforeUnixUTC)).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transactions = append(transactions, mapTransaction(row))
	}
	return transactions, nil
}

func (store *Store) GetSetting(ctx context.Context, name ledger.SettingName) (ledger.Setting, bool, error) {
	var row CreditSetting
	err := store.db.WithContext(ctx).Where("name = ?", name.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Setting{}, false, nil
	}
	if err != nil {
		return ledger.Setting{}, false, wrapStoreError(errorSubjectSetting, errorCodeGet, err)
	}
	return mapSetting(row), true, nil
}

func (store *Store) UpsertSetting(ctx context.Context, setting ledger.Setting) error {
	row := CreditSetting{
		Name:        setting.Name.String(),
		Value:       setting.Value,
		Description: setting.Description,
		UpdatedBy:   setting.UpdatedBy,
		UpdatedAt:   unixToTime(setting.UpdatedUnixUTC),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "description", "updated_by", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectSetting, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) ListSettings(ctx context.Context) ([]ledger.Setting, error) {
	var rows []CreditSetting
	if err := store.db.WithContext(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectSetting, errorCodeList, err)
	}
	settings := make([]ledger.Setting, 0, len(rows))
	for _, row := range rows {
		settings = append(settings, mapSetting(row))
	}
	return settings, nil
}

func (store *Store) spendable(ctx context.Context, userID ledger.UserID, atUnixUTC int64) *gorm.DB {
	return store.db.WithContext(ctx).
		Model(&CreditBatch{}).
		Where("user_id = ? AND remaining_amount > 0", userID.String()).
		Where("(expires_at IS NULL OR expires_at > ?)", unixToTime(atUnixUTC))
}

// connection returns the transaction carried by ctx, or fallback when there is none.
func connection(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if transaction, ok := ctx.Value(transactionContextKey{}).(*gorm.DB); ok {
		return transaction.WithContext(ctx)
	}
	return fallback.WithContext(ctx)
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func mapSummary(row UserCreditSummary) ledger.Summary {
	return ledger.Summary{
		UserID:           row.UserID,
		CurrentCredits:   row.CurrentCredits,
		TotalPurchased:   row.TotalPurchased,
		LastTopupUnixUTC: timeOrZero(row.LastTopupAt),
		IsTrial:          row.IsTrial,
	}
}

func mapBatch(row CreditBatch) ledger.Batch {
	return ledger.Batch{
		ID:               row.ID,
		UserID:           row.UserID,
		Amount:           row.Amount,
		RemainingAmount:  row.RemainingAmount,
		ExpiresAtUnixUTC: timeOrZero(row.ExpiresAt),
		Source:           ledger.BatchSource(row.Source),
		CreatedUnixUTC:   row.CreatedAt.Unix(),
	}
}

func mapBatches(rows []CreditBatch) []ledger.Batch {
	batches := make([]ledger.Batch, 0, len(rows))
	for _, row := range rows {
		batches = append(batches, mapBatch(row))
	}
	return batches
}

func mapTransaction(row CreditTransaction) ledger.Transaction {
	transaction := ledger.Transaction{
		ID:             row.ID,
		UserID:         row.UserID,
		Type:           ledger.TransactionType(row.Type),
		Amount:         row.Amount,
		Description:    row.Description,
		MetadataJSON:   string(row.Metadata),
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}
	if row.IdempotencyKey != nil {
		transaction.IdempotencyKey = *row.IdempotencyKey
	}
	return transaction
}

func mapSetting(row CreditSetting) ledger.Setting {
	return ledger.Setting{
		Name:           ledger.SettingName(row.Name),
		Value:          row.Value,
		Description:    row.Description,
		UpdatedBy:      row.UpdatedBy,
		UpdatedUnixUTC: row.UpdatedAt.Unix(),
	}
}

func unixToTime(unixUTC int64) time.Time {
	if unixUTC == 0 {
		return time.Now().UTC().Truncate(time.Second)
	}
	return time.Unix(unixUTC, 0).UTC()
}

func optionalTime(unixUTC int64) *time.Time {
	if unixUTC == 0 {
		return nil
	}
	value := time.Unix(unixUTC, 0).UTC()
	return &value
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

// isUniqueViolation matches a unique-constraint failure from either driver. SQLite does not report
// the constraint name, so any unique or primary key failure matches there; NOT NULL and CHECK failures never do.
func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqliteConstraintUniqueCode || code == sqliteConstraintPrimaryCode
	}
	return false
}
