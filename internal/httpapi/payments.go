package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/auctioncredits/internal/payment"
	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type verifyPaymentRequest struct {
	SessionID string `json:"sessionId"`
}

// handleVerifyPayment settles a checkout the caller returned from. Unpaid sessions are 400, repeats are 200.
func (handler *httpHandler) handleVerifyPayment(ctx *gin.Context) {
	userID, ok := sessionUser(ctx)
	if !ok {
		return
	}
	if handler.payments == nil {
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("payments_disabled", "no payment provider configured"))
		return
	}
	var request verifyPaymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.SessionID) == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "missing sessionId"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	confirmation, err := handler.payments.Verify(requestCtx, request.SessionID)
	if err != nil {
		handler.paymentError(ctx, err)
		return
	}
	if confirmation.UserID != userID.String() {
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "payment belongs to another account"))
		return
	}
	result, err := handler.ledger.Settle(requestCtx, confirmation)
	if err != nil {
		handler.internalError(ctx, "payment settlement failed", err)
		return
	}
	status := http.StatusOK
	if result.Status == ledger.SettlementRejected {
		status = http.StatusBadRequest
	}
	body := settlementBody(result)
	if balance, err := handler.balancePayload(ctx, userID); err == nil {
		body["credits"] = balance
	} else {
		handler.logger.Warn("balance after settlement unavailable", zap.Error(err))
	}
	ctx.JSON(status, body)
}

// handlePaymentWebhook acknowledges every authenticated notification with 200 so the provider stops retrying,
// including ones that settle nothing such as pending payments.
func (handler *httpHandler) handlePaymentWebhook(ctx *gin.Context) {
	if handler.payments == nil {
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("payments_disabled", "no payment provider configured"))
		return
	}
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, webhookMaxBodyBytes)
	var notification payment.Notification
	if err := ctx.ShouldBindJSON(&notification); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	confirmation, err := handler.payments.ConfirmNotification(requestCtx, notification)
	if err != nil {
		handler.paymentError(ctx, err)
		return
	}
	result, err := handler.ledger.Settle(requestCtx, confirmation)
	if err != nil {
		handler.internalError(ctx, "payment settlement failed", err)
		return
	}
	handler.logger.Info("payment notification processed",
		zap.String("order_id", notification.OrderID),
		zap.String("transaction_status", notification.TransactionStatus),
		zap.String("result", string(result.Status)),
	)
	ctx.JSON(http.StatusOK, settlementBody(result))
}

func (handler *httpHandler) paymentError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		ctx.JSON(http.StatusUnauthorized, errorResponse("invalid_signature", "notification signature mismatch"))
	case errors.Is(err, payment.ErrInvalidNotification), errors.Is(err, payment.ErrInvalidOrderID):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_session", err.Error()))
	case errors.Is(err, payment.ErrUnknownSession):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_session", "payment session not found"))
	case errors.Is(err, payment.ErrProviderUnavailable):
		handler.logger.Error("payment provider unavailable", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("provider_error", "payment provider unavailable"))
	default:
		handler.internalError(ctx, "payment verification failed", err)
	}
}

func settlementBody(result ledger.SettlementResult) gin.H {
	return gin.H{
		"status":  string(result.Status),
		"message": result.Message,
		"amount":  result.Credits,
	}
}
