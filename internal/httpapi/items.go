package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/ledger"
	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/workflow"
	"github.com/gin-gonic/gin"
)

type admitItemRequest struct {
	Title     string `json:"title"`
	SourceURL string `json:"sourceUrl"`
}

type transitionRequest struct {
	Target  string `json:"target"`
	Confirm bool   `json:"confirm"`
}

type itemPayload struct {
	ID           string `json:"id"`
	OwnerID      string `json:"ownerId"`
	Title        string `json:"title"`
	SourceURL    string `json:"sourceUrl,omitempty"`
	Stage        string `json:"stage"`
	AssignedRole string `json:"assignedRole"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

type stepPayload struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	ActorID   string `json:"actorId"`
	Cost      int64  `json:"cost"`
	CreatedAt string `json:"createdAt"`
}

func (handler *httpHandler) handleAdmitItem(ctx *gin.Context) {
	userID, ok := sessionUser(ctx)
	if !ok {
		return
	}
	var request admitItemRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	outcome, err := handler.workflow.Admit(requestCtx, workflow.AdmitRequest{
		Actor:     userID.String(),
		Title:     request.Title,
		SourceURL: request.SourceURL,
	})
	if err != nil {
		handler.workflowError(ctx, err)
		return
	}
	handler.respondOutcome(ctx, userID, outcome, http.StatusCreated)
}

func (handler *httpHandler) handleItem(ctx *gin.Context) {
	if _, ok := sessionUser(ctx); !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	item, steps, err := handler.workflow.Item(requestCtx, ctx.Param("id"))
	if err != nil {
		handler.workflowError(ctx, err)
		return
	}
	history := make([]stepPayload, 0, len(steps))
	for _, step := range steps {
		history = append(history, stepPayload{
			From:      step.From.String(),
			To:        step.To.String(),
			ActorID:   step.ActorID,
			Cost:      step.Cost,
			CreatedAt: formatUnix(step.CreatedUnixUTC),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"item": newItemPayload(item), "steps": history})
}

func (handler *httpHandler) handleTransition(ctx *gin.Context) {
	userID, ok := sessionUser(ctx)
	if !ok {
		return
	}
	var request transitionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	var target workflow.Stage
	if request.Target != "" {
		parsed, err := workflow.ParseStage(request.Target)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_stage", err.Error()))
			return
		}
		target = parsed
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	outcome, err := handler.workflow.Transition(requestCtx, workflow.TransitionRequest{
		ItemID:    ctx.Param("id"),
		Target:    target,
		Actor:     userID.String(),
		Confirmed: request.Confirm,
	})
	if err != nil {
		handler.workflowError(ctx, err)
		return
	}
	handler.respondOutcome(ctx, userID, outcome, http.StatusOK)
}

// respondOutcome writes the outcome with the caller's fresh balance.
// A confirmation prompt is 200 with the cost; a shortfall is 402 with required and available.
func (handler *httpHandler) respondOutcome(ctx *gin.Context, userID ledger.UserID, outcome workflow.Outcome, successStatus int) {
	balance, err := handler.balancePayload(ctx, userID)
	if err != nil {
		handler.internalError(ctx, "balance unavailable", err)
		return
	}
	body := gin.H{
		"status":  string(outcome.Status),
		"item":    newItemPayload(outcome.Item),
		"cost":    outcome.Cost,
		"credits": balance,
	}
	switch outcome.Status {
	case workflow.OutcomeInsufficientCredits:
		body["error"] = gin.H{"code": "insufficient_credits", "message": "not enough credits"}
		body["required"] = outcome.Required
		body["available"] = outcome.Available
		ctx.JSON(http.StatusPaymentRequired, body)
	case workflow.OutcomeConfirmationRequired:
		body["requiresConfirmation"] = true
		ctx.JSON(http.StatusOK, body)
	default:
		ctx.JSON(successStatus, body)
	}
}

func (handler *httpHandler) workflowError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, workflow.ErrUnknownItem):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_item", "item not found"))
	case errors.Is(err, workflow.ErrInvalidTransition), errors.Is(err, workflow.ErrInvalidStage):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_transition", err.Error()))
	case errors.Is(err, workflow.ErrInvalidItem), errors.Is(err, workflow.ErrInvalidActor):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_item", err.Error()))
	case errors.Is(err, workflow.ErrStageConflict):
		ctx.JSON(http.StatusConflict, errorResponse("stage_conflict", "item was moved by someone else"))
	case errors.Is(err, ledger.ErrCostChanged):
		ctx.JSON(http.StatusConflict, errorResponse("cost_changed", "the cost changed; request the item again"))
	default:
		handler.internalError(ctx, "workflow update failed", err)
	}
}

func newItemPayload(item workflow.Item) itemPayload {
	return itemPayload{
		ID:           item.ID,
		OwnerID:      item.OwnerID,
		Title:        item.Title,
		SourceURL:    item.SourceURL,
		Stage:        item.Stage.String(),
		AssignedRole: string(item.AssignedRole),
		CreatedAt:    formatUnix(item.CreatedUnixUTC),
		UpdatedAt:    formatUnix(item.UpdatedUnixUTC),
	}
}
