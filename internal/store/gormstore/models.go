package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreditBatch represents the credit_batches table.
// LegacyMarker is set only on migration batches so at most one exists per user.
type CreditBatch struct {
	ID              string     `gorm:"type:uuid;primaryKey"`
	UserID          string     `gorm:"not null;index:idx_credit_batches_user_expiry,priority:1;index:idx_credit_batches_user_legacy,unique,priority:1"`
	Amount          int64      `gorm:"not null"`
	RemainingAmount int64      `gorm:"not null;check:chk_credit_batches_remaining,remaining_amount >= 0"`
	ExpiresAt       *time.Time `gorm:"index:idx_credit_batches_user_expiry,priority:2"`
	Source          string     `gorm:"not null"`
	LegacyMarker    *string    `gorm:"index:idx_credit_batches_user_legacy,unique,priority:2"`
	CreatedAt       time.Time  `gorm:"not null"`
}

func (CreditBatch) TableName() string { return "credit_batches" }

func (batch *CreditBatch) BeforeCreate(tx *gorm.DB) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	return nil
}

// CreditTransaction mirrors the credit_transactions table.
type CreditTransaction struct {
	ID             string         `gorm:"type:uuid;primaryKey"`
	UserID         string         `gorm:"not null;index:idx_credit_transactions_user_created,priority:1;index:idx_credit_transactions_user_idempotency,unique,priority:1"`
	Type           string         `gorm:"not null"`
	Amount         int64          `gorm:"not null"`
	Description    string         `gorm:"not null"`
	IdempotencyKey *string        `gorm:"index:idx_credit_transactions_user_idempotency,unique,priority:2"`
	Metadata       datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_credit_transactions_user_created,priority:2"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

func (transaction *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.ID == "" {
		transaction.ID = uuid.NewString()
	}
	return nil
}

// UserCreditSummary mirrors the user_credit_summaries table.
type UserCreditSummary struct {
	UserID         string `gorm:"primaryKey"`
	CurrentCredits int64  `gorm:"not null"`
	TotalPurchased int64  `gorm:"not null"`
	LastTopupAt    *time.Time
	IsTrial        bool      `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (UserCreditSummary) TableName() string { return "user_credit_summaries" }

// CreditSetting mirrors the credit_settings table.
type CreditSetting struct {
	Name        string    `gorm:"primaryKey"`
	Value       int64     `gorm:"not null"`
	Description string    `gorm:"not null"`
	UpdatedBy   string    `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (CreditSetting) TableName() string { return "credit_settings" }

// AuctionItem mirrors the auction_items table.
type AuctionItem struct {
	ID           string    `gorm:"type:uuid;primaryKey"`
	OwnerID      string    `gorm:"not null;index"`
	Title        string    `gorm:"not null"`
	SourceURL    string    `gorm:"not null"`
	Stage        string    `gorm:"not null;index"`
	AssignedRole string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (AuctionItem) TableName() string { return "auction_items" }

func (item *AuctionItem) BeforeCreate(tx *gorm.DB) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	return nil
}

// WorkflowStep mirrors the workflow_steps table.
type WorkflowStep struct {
	ID        string         `gorm:"type:uuid;primaryKey"`
	ItemID    string         `gorm:"type:uuid;not null;index:idx_workflow_steps_item_created,priority:1"`
	FromStage string         `gorm:"not null"`
	ToStage   string         `gorm:"not null"`
	ActorID   string         `gorm:"not null"`
	Cost      int64          `gorm:"not null"`
	Details   datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null;index:idx_workflow_steps_item_created,priority:2"`
}

func (WorkflowStep) TableName() string { return "workflow_steps" }

func (step *WorkflowStep) BeforeCreate(tx *gorm.DB) error {
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	return nil
}

// Models lists every table managed by this package in migration order.
func Models() []any {
	return []any{
		&UserCreditSummary{},
		&CreditBatch{},
		&CreditTransaction{},
		&CreditSetting{},
		&AuctionItem{},
		&WorkflowStep{},
	}
}
