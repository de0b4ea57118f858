package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/ledger"
	"github.com/google/uuid"
)

// Item is an auction item moving through the pipeline.
type Item struct {
	ID             string
	OwnerID        string
	Title          string
	SourceURL      string
	Stage          Stage
	AssignedRole   Role
	CreatedUnixUTC int64
	UpdatedUnixUTC int64
}

// Step is an append-only record of one stage change. From is empty for admission.
type Step struct {
	ID             string
	ItemID         string
	From           Stage
	To             Stage
	ActorID        string
	Cost           int64
	CreatedUnixUTC int64
}

// ItemStore persists items and their step history.
// RunInTx joins a transaction already carried by ctx, such as the one opened by Ledger.DeductCostWith.
type ItemStore interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateItem(ctx context.Context, item Item) (Item, error)
	GetItem(ctx context.Context, itemID string) (Item, error)
	LockItem(ctx context.Context, itemID string) (Item, error)
	UpdateStage(ctx context.Context, itemID string, from Stage, to Stage, assignee Role, atUnixUTC int64) error
	AppendStep(ctx context.Context, step Step) error
	ListSteps(ctx context.Context, itemID string) ([]Step, error)
}

// Ledger is the part of ledger.Service the engine charges through.
type Ledger interface {
	CheckAffordable(ctx context.Context, userID ledger.UserID, name ledger.SettingName) (ledger.Affordability, error)
	DeductCostWith(ctx context.Context, userID ledger.UserID, name ledger.SettingName, quoted ledger.Credits, description ledger.Description, apply ledger.ApplyFunc) (ledger.DeductionResult, error)
}

// OutcomeStatus names what a Transition or Admit call did.
type OutcomeStatus string

const (
	OutcomeTransitioned         OutcomeStatus = "transitioned"
	OutcomeAdmitted             OutcomeStatus = "admitted"
	OutcomeConfirmationRequired OutcomeStatus = "confirmation_required"
	OutcomeInsufficientCredits  OutcomeStatus = "insufficient_credits"
)

// Outcome reports the result of a mutation. Cost is what was (or would be) charged.
type Outcome struct {
	Status    OutcomeStatus
	Item      Item
	Cost      int64
	Required  int64
	Available int64
}

// TransitionRequest moves an item to Target, or to the next stage when Target is empty.
// Confirmed must be set for cost-gated stages.
type TransitionRequest struct {
	ItemID    string
	Target    Stage
	Actor     string
	Confirmed bool
}

// AdmitRequest brings a new item into the research stage.
type AdmitRequest struct {
	Actor     string
	Title     string
	SourceURL string
}

// Engine is the single mutation path for item stages.
type Engine struct {
	items  ItemStore
	ledger Ledger
	nowFn  func() int64
	newID  func() string
}

// NewEngine wires an Engine.
func NewEngine(items ItemStore, ledgerService Ledger, now func() int64) (*Engine, error) {
	if items == nil || ledgerService == nil || now == nil {
		return nil, fmt.Errorf("%w: items, ledger, and clock are required", ErrInvalidEngineConfig)
	}
	return &Engine{items: items, ledger: ledgerService, nowFn: now, newID: uuid.NewString}, nil
}

// Item loads an item with its stage history.
func (engine *Engine) Item(ctx context.Context, itemID string) (Item, []Step, error) {
	item, err := engine.items.GetItem(ctx, strings.TrimSpace(itemID))
	if err != nil {
		return Item{}, nil, err
	}
	steps, err := engine.items.ListSteps(ctx, item.ID)
	if err != nil {
		return Item{}, nil, err
	}
	return item, steps, nil
}

// Admit creates an item in the research stage, charging item_fetch_cost to the actor.
func (engine *Engine) Admit(ctx context.Context, request AdmitRequest) (Outcome, error) {
	actor, err := ledger.NewUserID(request.Actor)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidActor, err)
	}
	title := strings.TrimSpace(request.Title)
	if title == "" {
		return Outcome{}, fmt.Errorf("%w: title is required", ErrInvalidItem)
	}
	charge, gated, err := engine.gate(ctx, actor, ledger.SettingItemFetchCost, true)
	if err != nil || gated != nil {
		return derefOutcome(gated), err
	}

	nowUnixUTC := engine.nowFn()
	item := Item{
		ID:             engine.newID(),
		OwnerID:        actor.String(),
		Title:          title,
		SourceURL:      strings.TrimSpace(request.SourceURL),
		Stage:          StageResearch,
		AssignedRole:   RoleResearcher,
		CreatedUnixUTC: nowUnixUTC,
		UpdatedUnixUTC: nowUnixUTC,
	}
	apply := func(ctx context.Context) error {
		created, err := engine.items.CreateItem(ctx, item)
		if err != nil {
			return err
		}
		item = created
		return engine.items.AppendStep(ctx, Step{
			ID:             engine.newID(),
			ItemID:         item.ID,
			To:             StageResearch,
			ActorID:        actor.String(),
			Cost:           charge,
			CreatedUnixUTC: nowUnixUTC,
		})
	}
	description := fmt.Sprintf("Item fetch: %s", item.ID)
	outcome, err := engine.commit(ctx, actor, ledger.SettingItemFetchCost, charge, description, apply)
	if err != nil || outcome != nil {
		return derefOutcome(outcome), err
	}
	return Outcome{Status: OutcomeAdmitted, Item: item, Cost: charge}, nil
}

// Transition advances an item by one stage. Cost-gated stages require confirmation and sufficient credits;
// the debit and the stage change commit together or not at all.
func (engine *Engine) Transition(ctx context.Context, request TransitionRequest) (Outcome, error) {
	actor, err := ledger.NewUserID(request.Actor)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidActor, err)
	}
	item, err := engine.items.GetItem(ctx, strings.TrimSpace(request.ItemID))
	if err != nil {
		return Outcome{}, err
	}
	rule, err := NextRule(item.Stage, request.Target)
	if err != nil {
		return Outcome{}, err
	}
	charge, gated, err := engine.gate(ctx, actor, rule.CostSetting, request.Confirmed)
	if err != nil {
		return Outcome{}, err
	}
	if gated != nil {
		gated.Item = item
		return *gated, nil
	}

	apply := func(ctx context.Context) error {
		locked, err := engine.items.LockItem(ctx, item.ID)
		if err != nil {
			return err
		}
		if locked.Stage != rule.From {
			return fmt.Errorf("%w: expected %s, found %s", ErrStageConflict, rule.From, locked.Stage)
		}
		nowUnixUTC := engine.nowFn()
		if err := engine.items.UpdateStage(ctx, item.ID, rule.From, rule.To, rule.Assignee, nowUnixUTC); err != nil {
			return err
		}
		if err := engine.items.AppendStep(ctx, Step{
			ID:             engine.newID(),
			ItemID:         item.ID,
			From:           rule.From,
			To:             rule.To,
			ActorID:        actor.String(),
			Cost:           charge,
			CreatedUnixUTC: nowUnixUTC,
		}); err != nil {
			return err
		}
		item = locked
		item.Stage = rule.To
		item.AssignedRole = rule.Assignee
		item.UpdatedUnixUTC = nowUnixUTC
		return nil
	}
	description := fmt.Sprintf("Stage %s: %s", rule.To, item.ID)
	outcome, err := engine.commit(ctx, actor, rule.CostSetting, charge, description, apply)
	if errors.Is(err, ledger.ErrCostChanged) {
		_, requoted, gateErr := engine.gate(ctx, actor, rule.CostSetting, false)
		if gateErr != nil {
			return Outcome{}, gateErr
		}
		if requoted != nil {
			requoted.Item = item
			return *requoted, nil
		}
	}
	if err != nil {
		return Outcome{}, err
	}
	if outcome != nil {
		outcome.Item = item
		return *outcome, nil
	}
	return Outcome{Status: OutcomeTransitioned, Item: item, Cost: charge}, nil
}

// gate returns the amount to charge, or an outcome that stops the mutation before anything is written.
// Trial accounts and zero costs charge nothing.
func (engine *Engine) gate(ctx context.Context, actor ledger.UserID, setting ledger.SettingName, confirmed bool) (int64, *Outcome, error) {
	if setting == "" {
		return 0, nil, nil
	}
	affordability, err := engine.ledger.CheckAffordable(ctx, actor, setting)
	if err != nil {
		return 0, nil, err
	}
	if affordability.Bypassed || affordability.Cost == 0 {
		return 0, nil, nil
	}
	if !affordability.Affordable {
		return 0, &Outcome{
			Status:    OutcomeInsufficientCredits,
			Cost:      affordability.Cost,
			Required:  affordability.Cost,
			Available: affordability.Available,
		}, nil
	}
	if !confirmed {
		return 0, &Outcome{
			Status:    OutcomeConfirmationRequired,
			Cost:      affordability.Cost,
			Available: affordability.Available,
		}, nil
	}
	return affordability.Cost, nil, nil
}

// commit runs apply inside the deduction transaction when charge is positive, otherwise in an item transaction.
// The affordability check is repeated under lock by DeductCostWith; losing that race yields an insufficient outcome,
// and a cost changed since gate fails with ledger.ErrCostChanged before anything is written.
func (engine *Engine) commit(ctx context.Context, actor ledger.UserID, setting ledger.SettingName, charge int64, rawDescription string, apply ledger.ApplyFunc) (*Outcome, error) {
	if charge <= 0 {
		return nil, engine.items.RunInTx(ctx, apply)
	}
	amount, err := ledger.NewCredits(charge)
	if err != nil {
		return nil, err
	}
	description, err := ledger.NewDescription(rawDescription)
	if err != nil {
		return nil, err
	}
	result, err := engine.ledger.DeductCostWith(ctx, actor, setting, amount, description, apply)
	if err != nil {
		return nil, err
	}
	if !result.Applied {
		return &Outcome{
			Status:    OutcomeInsufficientCredits,
			Cost:      charge,
			Required:  result.Required,
			Available: result.Available,
		}, nil
	}
	return nil, nil
}

func derefOutcome(outcome *Outcome) Outcome {
	if outcome == nil {
		return Outcome{}
	}
	return *outcome
}
