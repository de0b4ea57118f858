package pgstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintBatchLegacy        = "idx_credit_batches_user_legacy"
	constraintTransactionIdemKey = "idx_credit_transactions_user_idempotency"
	legacyMarkerValue            = "legacy"
	pgUniqueViolationCode        = "23505"
	errorOperationStore          = "store"
	errorSubjectBatch            = "batch"
	errorSubjectSetting          = "setting"
	errorSubjectSummary          = "summary"
	errorSubjectTransaction      = "transaction"
	errorCodeBegin               = "begin"
	errorCodeCommit              = "commit"
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

	summaryColumns = `user_id, current_credits, total_purchased,
		coalesce(extract(epoch from last_topup_at)::bigint,0), is_trial`

	batchColumns = `id::text, user_id, amount, remaining_amount,
		coalesce(extract(epoch from expires_at)::bigint,0), source, extract(epoch from created_at)::bigint`

	transactionColumns = `id::text, user_id, type, amount, description, coalesce(idempotency_key,''),
		coalesce(metadata::text,'{}'), extract(epoch from created_at)::bigint`

	settingColumns = `name, value, description, updated_by, extract(epoch from updated_at)::bigint`

	sqlEnsureSummary = `
		insert into user_credit_summaries(user_id, current_credits, total_purchased, is_trial, updated_at)
		values ($1, 0, 0, false, now())
		on conflict (user_id) do nothing
	`

	sqlSelectSummary = `select ` + summaryColumns + ` from user_credit_summaries where user_id = $1`

	sqlLockSummary = sqlSelectSummary + ` for update`

	sqlApplySummaryDelta = `
		update user_credit_summaries
		set current_credits = current_credits + $2,
			total_purchased = total_purchased + $3,
			last_topup_at = case when $4::bigint = 0 then last_topup_at else to_timestamp($4::bigint) end,
			updated_at = now()
		where user_id = $1
	`

	sqlSetTrial = `
		insert into user_credit_summaries(user_id, current_credits, total_purchased, is_trial, updated_at)
		values ($1, 0, 0, $2, now())
		on conflict (user_id) do update set is_trial = excluded.is_trial, updated_at = now()
	`

	sqlSpendableFilter = `
		from credit_batches
		where user_id = $1 and remaining_amount > 0
		and (expires_at is null or expires_at > to_timestamp($2::bigint))
	`

	sqlSumSpendable = `select coalesce(sum(remaining_amount),0) ` + sqlSpendableFilter

	sqlLockSpendableBatches = `select ` + batchColumns + sqlSpendableFilter + `
		order by expires_at is null, expires_at asc, created_at asc, id asc
		for update
	`

	sqlCountBatches = `select count(*) from credit_batches where user_id = $1`

	sqlListBatches = `select ` + batchColumns + ` from credit_batches where user_id = $1 order by created_at asc, id asc`

	sqlInsertBatch = `
		insert into credit_batches(id, user_id, amount, remaining_amount, expires_at, source, legacy_marker, created_at)
		values (
			gen_random_uuid(), $1, $2, $3,
			to_timestamp(nullif($4::bigint,0)),
			$5, nullif($6,''),
			to_timestamp($7::bigint)
		)
		returning id::text
	`

	sqlDecrementBatch = `
		update credit_batches
		set remaining_amount = remaining_amount - $2
		where id = $1 and remaining_amount >= $2
	`

	sqlInsertTransaction = `
		insert into credit_transactions(id, user_id, type, amount, description, idempotency_key, metadata, created_at)
		values (
			gen_random_uuid(), $1, $2, $3, $4,
			nullif($5,''),
			coalesce(nullif($6,''),'{}')::jsonb,
			to_timestamp($7::bigint)
		)
		returning id::text
	`

	sqlFindTransaction = `select ` + transactionColumns + `
		from credit_transactions
		where user_id = $1 and type = $2 and description = $3
		order by created_at asc
		limit 1
	`

	sqlListTransactionsBefore = `select ` + transactionColumns + `
		from credit_transactions
		where user_id = $1 and created_at < to_timestamp($2::bigint)
		order by created_at desc
		limit $3
	`

	sqlSelectSetting = `select ` + settingColumns + ` from credit_settings where name = $1`

	sqlUpsertSetting = `
		insert into credit_settings(name, value, description, updated_by, updated_at)
		values ($1, $2, $3, $4, to_timestamp($5::bigint))
		on conflict (name) do update
		set value = excluded.value, description = excluded.description,
			updated_by = excluded.updated_by, updated_at = excluded.updated_at
	`

	sqlListSettings = `select ` + settingColumns + ` from credit_settings order by name asc`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ledger.Store using a pgx connection pool. It expects the schema
// created by gormstore.AutoMigrate.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New returns a Store backed by a pgx pool (autocommit).
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// WithTx runs fn in a transaction. A Store that is already transactional runs fn directly.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	if err := fn(ctx, &Store{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetSummary(ctx context.Context, userID ledger.UserID) (ledger.Summary, bool, error) {
	summary, err := scanSummary(store.db.QueryRow(ctx, sqlSelectSummary, userID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Summary{UserID: userID.String()}, false, nil
	}
	if err != nil {
		return ledger.Summary{}, false, wrapStoreError(errorSubjectSummary, errorCodeGet, err)
	}
	return summary, true, nil
}

func (store *Store) LockSummary(ctx context.Context, userID ledger.UserID) (ledger.Summary, error) {
	if _, err := store.db.Exec(ctx, sqlEnsureSummary, userID.String()); err != nil {
		return ledger.Summary{}, wrapStoreError(errorSubjectSummary, errorCodeLock, err)
	}
	summary, err := scanSummary(store.db.QueryRow(ctx, sqlLockSummary, userID.String()))
	if err != nil {
		return ledger.Summary{}, wrapStoreError(errorSubjectSummary, errorCodeLock, err)
	}
	return summary, nil
}

func (store *Store) ApplySummaryDelta(ctx context.Context, userID ledger.UserID, delta ledger.SummaryDelta) error {
	tag, err := store.db.Exec(ctx, sqlApplySummaryDelta, userID.String(), delta.CurrentCredits, delta.TotalPurchased, delta.TopupUnixUTC)
	if err != nil {
		return wrapStoreError(errorSubjectSummary, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectSummary, errorCodeUpdate, ledger.ErrUnknownSummary)
	}
	return nil
}

func (store *Store) SetTrial(ctx context.Context, userID ledger.UserID, trial bool) error {
	if _, err := store.db.Exec(ctx, sqlSetTrial, userID.String(), trial); err != nil {
		return wrapStoreError(errorSubjectSummary, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) SumSpendable(ctx context.Context, userID ledger.UserID, atUnixUTC int64) (int64, error) {
	var sum int64
	if err := store.db.QueryRow(ctx, sqlSumSpendable, userID.String(), atUnixUTC).Scan(&sum); err != nil {
		return 0, wrapStoreError(errorSubjectBatch, errorCodeSumSpendable, err)
	}
	return sum, nil
}

func (store *Store) CountBatches(ctx context.Context, userID ledger.UserID) (int64, error) {
	var count int64
	if err := store.db.QueryRow(ctx, sqlCountBatches, userID.String()).Scan(&count); err != nil {
		return 0, wrapStoreError(errorSubjectBatch, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) LockSpendableBatches(ctx context.Context, userID ledger.UserID, atUnixUTC int64) ([]ledger.Batch, error) {
	batches, err := store.queryBatches(ctx, sqlLockSpendableBatches, userID.String(), atUnixUTC)
	if err != nil {
		return nil, wrapStoreError(errorSubjectBatch, errorCodeLock, err)
	}
	return batches, nil
}

func (store *Store) ListBatches(ctx context.Context, userID ledger.UserID) ([]ledger.Batch, error) {
	batches, err := store.queryBatches(ctx, sqlListBatches, userID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectBatch, errorCodeList, err)
	}
	return batches, nil
}

func (store *Store) InsertBatch(ctx context.Context, batch ledger.Batch) (ledger.Batch, error) {
	legacyMarker := ""
	if batch.Source == ledger.BatchSourceMigration {
		legacyMarker = legacyMarkerValue
	}
	err := store.db.QueryRow(ctx, sqlInsertBatch,
		batch.UserID,
		batch.Amount,
		batch.RemainingAmount,
		batch.ExpiresAtUnixUTC,
		string(batch.Source),
		legacyMarker,
		batch.CreatedUnixUTC,
	).Scan(&batch.ID)
	if isUniqueViolation(err, constraintBatchLegacy) {
		return ledger.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeDuplicate, ledger.ErrDuplicateLegacyBatch)
	}
	if err != nil {
		return ledger.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeInsert, err)
	}
	return batch, nil
}

func (store *Store) DecrementBatch(ctx context.Context, batchID string, amount int64) error {
	tag, err := store.db.Exec(ctx, sqlDecrementBatch, batchID, amount)
	if err != nil {
		return wrapStoreError(errorSubjectBatch, errorCodeDecrement, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBatch, errorCodeDecrement, ledger.ErrBatchUnderflow)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction ledger.Transaction) (ledger.Transaction, error) {
	err := store.db.QueryRow(ctx, sqlInsertTransaction,
		transaction.UserID,
		transaction.Type.String(),
		transaction.Amount,
		transaction.Description,
		transaction.IdempotencyKey,
		transaction.MetadataJSON,
		transaction.CreatedUnixUTC,
	).Scan(&transaction.ID)
	if isUniqueViolation(err, constraintTransactionIdemKey) {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return transaction, nil
}

func (store *Store) FindTransaction(ctx context.Context, userID ledger.UserID, transactionType ledger.TransactionType, description string) (ledger.Transaction, bool, error) {
	transaction, err := scanTransaction(store.db.QueryRow(ctx, sqlFindTransaction, userID.String(), transactionType.String(), description))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, false, nil
	}
	if err != nil {
		return ledger.Transaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	return transaction, true, nil
}

func (store *Store) ListTransactions(ctx context.Context, userID ledger.UserID, beforeUnixUTC int64, limit int) ([]ledger.Transaction, error) {
	rows, err := store.db.Query(ctx, sqlListTransactionsBefore, userID.String(), beforeUnixUTC, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	var transactions []ledger.Transaction
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return transactions, nil
}

func (store *Store) GetSetting(ctx context.Context, name ledger.SettingName) (ledger.Setting, bool, error) {
	setting, err := scanSetting(store.db.QueryRow(ctx, sqlSelectSetting, name.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Setting{}, false, nil
	}
	if err != nil {
		return ledger.Setting{}, false, wrapStoreError(errorSubjectSetting, errorCodeGet, err)
	}
	return setting, true, nil
}

func (store *Store) UpsertSetting(ctx context.Context, setting ledger.Setting) error {
	_, err := store.db.Exec(ctx, sqlUpsertSetting,
		setting.Name.String(),
		setting.Value,
		setting.Description,
		setting.UpdatedBy,
		setting.UpdatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectSetting, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) ListSettings(ctx context.Context) ([]ledger.Setting, error) {
	rows, err := store.db.Query(ctx, sqlListSettings)
	if err != nil {
		return nil, wrapStoreError(errorSubjectSetting, errorCodeList, err)
	}
	defer rows.Close()
	var settings []ledger.Setting
	for rows.Next() {
		setting, err := scanSetting(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectSetting, errorCodeList, err)
		}
		settings = append(settings, setting)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectSetting, errorCodeList, err)
	}
	return settings, nil
}

func (store *Store) queryBatches(ctx context.Context, sql string, args ...any) ([]ledger.Batch, error) {
	rows, err := store.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []ledger.Batch
	for rows.Next() {
		var (
			batch  ledger.Batch
			source string
		)
		if err := rows.Scan(
			&batch.ID,
			&batch.UserID,
			&batch.Amount,
			&batch.RemainingAmount,
			&batch.ExpiresAtUnixUTC,
			&source,
			&batch.CreatedUnixUTC,
		); err != nil {
			return nil, err
		}
		batch.Source = ledger.BatchSource(source)
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

func scanSummary(row pgx.Row) (ledger.Summary, error) {
	var summary ledger.Summary
	err := row.Scan(&summary.UserID, &summary.CurrentCredits, &summary.TotalPurchased, &summary.LastTopupUnixUTC, &summary.IsTrial)
	return summary, err
}

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var (
		transaction     ledger.Transaction
		transactionType string
	)
	err := row.Scan(
		&transaction.ID,
		&transaction.UserID,
		&transactionType,
		&transaction.Amount,
		&transaction.Description,
		&transaction.IdempotencyKey,
		&transaction.MetadataJSON,
		&transaction.CreatedUnixUTC,
	)
	transaction.Type = ledger.TransactionType(transactionType)
	return transaction, err
}

func scanSetting(row pgx.Row) (ledger.Setting, error) {
	var (
		setting ledger.Setting
		name    string
	)
	err := row.Scan(&name, &setting.Value, &setting.Description, &setting.UpdatedBy, &setting.UpdatedUnixUTC)
	setting.Name = ledger.SettingName(name)
	return setting, err
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}

var _ ledger.Store = (*Store)(nil)
