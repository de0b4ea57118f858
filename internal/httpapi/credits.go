package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/ledger"
	"github.com/gin-gonic/gin"
)

type balancePayload struct {
	CurrentCredits int64  `json:"currentCredits"`
	TotalPurchased int64  `json:"totalPurchased"`
	LastTopupDate  string `json:"lastTopupDate,omitempty"`
	IsTrial        bool   `json:"isTrial"`
	IsLowBalance   bool   `json:"isLowBalance"`
	ItemFetchCost  int64  `json:"itemFetchCost"`
	Research2Cost  int64  `json:"research2Cost"`
}

type transactionPayload struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Amount      int64           `json:"amount"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata"`
	CreatedAt   string          `json:"createdAt"`
}

type batchPayload struct {
	ID              string `json:"id"`
	Amount          int64  `json:"amount"`
	RemainingAmount int64  `json:"remainingAmount"`
	ExpiresAt       string `json:"expiresAt,omitempty"`
	Expired         bool   `json:"expired"`
	Source          string `json:"source"`
	CreatedAt       string `json:"createdAt"`
}

type settingPayload struct {
	Name        string `json:"name"`
	Value       int64  `json:"value"`
	Description string `json:"description,omitempty"`
	UpdatedBy   string `json:"updatedBy,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

type topUpRequest struct {
	UserID        string `json:"userId"`
	Amount        int64  `json:"amount"`
	Description   string `json:"description"`
	ExpiresInDays int    `json:"expiresInDays"`
}

type trialRequest struct {
	UserID string `json:"userId"`
	Trial  *bool  `json:"trial"`
}

type updateSettingsRequest struct {
	Settings  map[string]int64 `json:"settings"`
	UpdatedBy string           `json:"updatedBy"`
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	userID, ok := sessionUser(ctx)
	if !ok {
		return
	}
	balance, err := handler.balancePayload(ctx, userID)
	if err != nil {
		handler.internalError(ctx, "balance unavailable", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"credits": balance})
}

func (handler *httpHandler) handleTransactions(ctx *gin.Context) {
	userID, ok := sessionUser(ctx)
	if !ok {
		return
	}
	limit := defaultTransactionsLimit
	if raw := strings.TrimSpace(ctx.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxTransactionsLimit {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", "limit must be between 1 and 200"))
			return
		}
		limit = parsed
	}
	var before int64
	if raw := strings.TrimSpace(ctx.Query("before")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_before", "before must be a unix timestamp"))
			return
		}
		before = parsed
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	transactions, err := handler.ledger.ListTransactions(requestCtx, userID, before, limit)
	if err != nil {
		handler.internalError(ctx, "transactions unavailable", err)
		return
	}
	payload := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payload = append(payload, transactionPayload{
			ID:          transaction.ID,
			Type:        transaction.Type.String(),
			Amount:      transaction.Amount,
			Description: transaction.Description,
			Metadata:    json.RawMessage(metadataOrEmpty(transaction.MetadataJSON)),
			CreatedAt:   formatUnix(transaction.CreatedUnixUTC),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": payload})
}

func (handler *httpHandler) handleBatches(ctx *gin.Context) {
	userID, ok := sessionUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	batches, err := handler.ledger.ListBatches(requestCtx, userID)
	if err != nil {
		handler.internalError(ctx, "batches unavailable", err)
		return
	}
	nowUnixUTC := handler.ledger.Now()
	payload := make([]batchPayload, 0, len(batches))
	for _, batch := range batches {
		payload = append(payload, batchPayload{
			ID:              batch.ID,
			Amount:          batch.Amount,
			RemainingAmount: batch.RemainingAmount,
			ExpiresAt:       formatUnix(batch.ExpiresAtUnixUTC),
			Expired:         batch.ExpiredAt(nowUnixUTC),
			Source:          batch.Source.String(),
			CreatedAt:       formatUnix(batch.CreatedUnixUTC),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"batches": payload})
}

func (handler *httpHandler) handleTopUp(ctx *gin.Context) {
	var request topUpRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_user_id", "userId is required"))
		return
	}
	amount, err := ledger.NewCredits(request.Amount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "amount must be a positive integer"))
		return
	}
	if request.ExpiresInDays < 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_expiry", "expiresInDays must not be negative"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	batch, err := handler.ledger.Grant(requestCtx, ledger.GrantRequest{
		UserID:        userID,
		Amount:        amount,
		Description:   request.Description,
		ExpiresInDays: request.ExpiresInDays,
	})
	if err != nil {
		handler.internalError(ctx, "top-up failed", err)
		return
	}
	balance, err := handler.balancePayload(ctx, userID)
	if err != nil {
		handler.internalError(ctx, "balance unavailable", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message": "Credits topped up successfully",
		"batchId": batch.ID,
		"credits": balance,
	})
}

func (handler *httpHandler) handleTrial(ctx *gin.Context) {
	var request trialRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || request.Trial == nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected userId and trial"))
		return
	}
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_user_id", "userId is required"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.ledger.SetTrial(requestCtx, userID, *request.Trial); err != nil {
		handler.internalError(ctx, "trial update failed", err)
		return
	}
	balance, err := handler.balancePayload(ctx, userID)
	if err != nil {
		handler.internalError(ctx, "balance unavailable", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"credits": balance})
}

func (handler *httpHandler) handleSettings(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	settings, err := handler.ledger.Settings(requestCtx)
	if err != nil {
		handler.internalError(ctx, "settings unavailable", err)
		return
	}
	ctx.JSON(http.StatusOK, settingsResponse(settings))
}

// handleUpdateSettings validates every value before writing any of them.
func (handler *httpHandler) handleUpdateSettings(ctx *gin.Context) {
	var request updateSettingsRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || len(request.Settings) == 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected a settings object"))
		return
	}
	updates := make([]ledger.Setting, 0, len(request.Settings))
	for rawName, value := range request.Settings {
		name, err := ledger.NewSettingName(rawName)
		if err != nil || value < 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_setting", "setting values must be non-negative integers"))
			return
		}
		updates = append(updates, ledger.Setting{Name: name, Value: value})
	}
	updatedBy := strings.TrimSpace(request.UpdatedBy)
	if updatedBy == "" {
		updatedBy = getClaims(ctx).GetUserID()
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	for _, update := range updates {
		if _, err := handler.ledger.UpdateSetting(requestCtx, update.Name, update.Value, updatedBy); err != nil {
			if errors.Is(err, ledger.ErrUnknownSetting) {
				ctx.JSON(http.StatusNotFound, errorResponse("unknown_setting", "unknown setting "+update.Name.String()))
				return
			}
			handler.internalError(ctx, "settings update failed", err)
			return
		}
	}
	settings, err := handler.ledger.Settings(requestCtx)
	if err != nil {
		handler.internalError(ctx, "settings unavailable", err)
		return
	}
	ctx.JSON(http.StatusOK, settingsResponse(settings))
}

func settingsResponse(settings []ledger.Setting) gin.H {
	values := make(map[string]int64, len(settings))
	payload := make([]settingPayload, 0, len(settings))
	for _, setting := range settings {
		values[setting.Name.String()] = setting.Value
		payload = append(payload, settingPayload{
			Name:        setting.Name.String(),
			Value:       setting.Value,
			Description: setting.Description,
			UpdatedBy:   setting.UpdatedBy,
			UpdatedAt:   formatUnix(setting.UpdatedUnixUTC),
		})
	}
	return gin.H{"settings": values, "details": payload}
}

func (handler *httpHandler) balancePayload(ctx *gin.Context, userID ledger.UserID) (balancePayload, error) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	view, err := handler.ledger.BalanceView(requestCtx, userID)
	if err != nil {
		return balancePayload{}, err
	}
	return balancePayload{
		CurrentCredits: view.CurrentCredits,
		TotalPurchased: view.TotalPurchased,
		LastTopupDate:  formatUnix(view.LastTopupUnixUTC),
		IsTrial:        view.IsTrial,
		IsLowBalance:   view.IsLowBalance,
		ItemFetchCost:  view.ItemFetchCost,
		Research2Cost:  view.Research2Cost,
	}, nil
}

func formatUnix(unixUTC int64) string {
	if unixUTC == 0 {
		return ""
	}
	return time.Unix(unixUTC, 0).UTC().Format(time.RFC3339)
}

func metadataOrEmpty(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "{}"
	}
	return raw
}
