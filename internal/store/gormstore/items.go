package gormstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/ledger"
	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/workflow"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	errorSubjectItem = "item"
	errorSubjectStep = "step"
)

// ItemStore implements workflow.ItemStore. Every method joins the transaction carried by ctx when present.
type ItemStore struct {
	db *gorm.DB
}

// NewItemStore returns an ItemStore backed by gorm.DB.
func NewItemStore(db *gorm.DB) *ItemStore {
	return &ItemStore{db: db}
}

// RunInTx runs fn inside the transaction already carried by ctx, or opens one.
func (store *ItemStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(transactionContextKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(context.WithValue(ctx, transactionContextKey{}, transaction))
	})
}

func (store *ItemStore) CreateItem(ctx context.Context, item workflow.Item) (workflow.Item, error) {
	row := AuctionItem{
		ID:           item.ID,
		OwnerID:      item.OwnerID,
		Title:        item.Title,
		SourceURL:    item.SourceURL,
		Stage:        item.Stage.String(),
		AssignedRole: string(item.AssignedRole),
		CreatedAt:    unixToTime(item.CreatedUnixUTC),
		UpdatedAt:    unixToTime(item.UpdatedUnixUTC),
	}
	if err := connection(ctx, store.db).Create(&row).Error; err != nil {
		return workflow.Item{}, wrapStoreError(errorSubjectItem, errorCodeInsert, err)
	}
	return mapItem(row), nil
}

func (store *ItemStore) GetItem(ctx context.Context, itemID string) (workflow.Item, error) {
	return store.loadItem(connection(ctx, store.db), itemID, errorCodeGet)
}

// LockItem reads an item and holds its row lock until the enclosing transaction ends.
func (store *ItemStore) LockItem(ctx context.Context, itemID string) (workflow.Item, error) {
	return store.loadItem(connection(ctx, store.db).Clauses(clause.Locking{Strength: "UPDATE"}), itemID, errorCodeLock)
}

// UpdateStage moves an item only if it is still in from.
func (store *ItemStore) UpdateStage(ctx context.Context, itemID string, from workflow.Stage, to workflow.Stage, assignee workflow.Role, atUnixUTC int64) error {
	result := connection(ctx, store.db).
		Model(&AuctionItem{}).
		Where("id = ? AND stage = ?", itemID, from.String()).
		Updates(map[string]any{
			"stage":         to.String(),
			"assigned_role": string(assignee),
			"updated_at":    unixToTime(atUnixUTC),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectItem, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectItem, errorCodeUpdate, workflow.ErrStageConflict)
	}
	return nil
}

func (store *ItemStore) AppendStep(ctx context.Context, step workflow.Step) error {
	details, err := json.Marshal(map[string]any{"cost": step.Cost})
	if err != nil {
		return wrapStoreError(errorSubjectStep, errorCodeInsert, err)
	}
	row := WorkflowStep{
		ID:        step.ID,
		ItemID:    step.ItemID,
		FromStage: step.From.String(),
		ToStage:   step.To.String(),
		ActorID:   step.ActorID,
		Cost:      step.Cost,
		Details:   datatypes.JSON(details),
		CreatedAt: unixToTime(step.CreatedUnixUTC),
	}
	if err := connection(ctx, store.db).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectStep, errorCodeInsert, err)
	}
	return nil
}

func (store *ItemStore) ListSteps(ctx context.Context, itemID string) ([]workflow.Step, error) {
	var rows []WorkflowStep
	err := connection(ctx, store.db).
		Where("item_id = ?", itemID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectStep, errorCodeList, err)
	}
	steps := make([]workflow.Step, 0, len(rows))
	for _, row := range rows {
		steps = append(steps, workflow.Step{
			ID:             row.ID,
			ItemID:         row.ItemID,
			From:           workflow.Stage(row.FromStage),
			To:             workflow.Stage(row.ToStage),
			ActorID:        row.ActorID,
			Cost:           row.Cost,
			CreatedUnixUTC: row.CreatedAt.Unix(),
		})
	}
	return steps, nil
}

func (store *ItemStore) loadItem(db *gorm.DB, itemID string, code string) (workflow.Item, error) {
	var row AuctionItem
	err := db.Where("id = ?", itemID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return workflow.Item{}, wrapStoreError(errorSubjectItem, code, workflow.ErrUnknownItem)
	}
	if err != nil {
		return workflow.Item{}, wrapStoreError(errorSubjectItem, code, err)
	}
	return mapItem(row), nil
}

func mapItem(row AuctionItem) workflow.Item {
	return workflow.Item{
		ID:             row.ID,
		OwnerID:        row.OwnerID,
		Title:          row.Title,
		SourceURL:      row.SourceURL,
		Stage:          workflow.Stage(row.Stage),
		AssignedRole:   workflow.Role(row.AssignedRole),
		CreatedUnixUTC: row.CreatedAt.Unix(),
		UpdatedUnixUTC: row.UpdatedAt.Unix(),
	}
}

var (
	_ ledger.Store       = (*Store)(nil)
	_ workflow.ItemStore = (*ItemStore)(nil)
)
