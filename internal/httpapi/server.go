// Package httpapi serves the credit and item workflow endpoints behind tauth sessions.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/MarkoPoloResearchLab/auctioncredits/internal/payment"
	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/ledger"
	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

// PaymentProvider confirms checkout sessions and authenticates provider notifications.
type PaymentProvider interface {
	Verify(ctx context.Context, sessionID string) (ledger.SettlementConfirmation, error)
	ConfirmNotification(ctx context.Context, notification payment.Notification) (ledger.SettlementConfirmation, error)
}

// Dependencies are the domain services the handlers call. Payments may be nil, which disables the payment routes.
type Dependencies struct {
	Ledger   *ledger.Service
	Workflow *workflow.Engine
	Payments PaymentProvider
	Logger   *zap.Logger
}

// Run serves the API until ctx is cancelled.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}
	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(cfg, deps, sessionValidator)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("creditapi listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter wires every route onto a gin engine.
func NewRouter(cfg Config, deps Dependencies, validator *sessionvalidator.Validator) (*gin.Engine, error) {
	if deps.Ledger == nil || deps.Workflow == nil {
		return nil, errors.New("ledger and workflow dependencies are required")
	}
	if validator == nil {
		return nil, errors.New("session validator is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &httpHandler{
		logger:   logger,
		ledger:   deps.Ledger,
		workflow: deps.Workflow,
		payments: deps.Payments,
		cfg:      cfg,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/webhooks/payments", handler.handlePaymentWebhook)

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(authClaimsContextKey))
	api.GET("/session", handler.handleSession)

	credits := api.Group("/credits")
	credits.GET("/balance", handler.handleBalance)
	credits.GET("/transactions", handler.handleTransactions)
	credits.GET("/batches", handler.handleBatches)
	credits.GET("/settings", handler.handleSettings)
	credits.POST("/topup", requireAdmin, handler.handleTopUp)
	credits.POST("/trial", requireAdmin, handler.handleTrial)
	credits.PUT("/settings", requireAdmin, handler.handleUpdateSettings)

	api.POST("/payments/verify", handler.handleVerifyPayment)

	api.POST("/items", handler.handleAdmitItem)
	api.GET("/items/:id", handler.handleItem)
	api.POST("/items/:id/transition", handler.handleTransition)

	return router, nil
}

type httpHandler struct {
	logger   *zap.Logger
	ledger   *ledger.Service
	workflow *workflow.Engine
	payments PaymentProvider
	cfg      Config
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"userId":  claims.GetUserID(),
		"email":   claims.GetUserEmail(),
		"display": claims.GetUserDisplayName(),
		"roles":   claims.GetUserRoles(),
		"isAdmin": isAdmin(claims),
	})
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func requireAdmin(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	if !isAdmin(claims) {
		ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "admin role required"))
		return
	}
	ctx.Next()
}

func isAdmin(claims *sessionvalidator.Claims) bool {
	roles := claims.GetUserRoles()
	return slices.Contains(roles, adminRole) || slices.Contains(roles, superAdminRole)
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(authClaimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

// sessionUser returns the caller's ledger user id, writing a 401 when the session is missing.
func sessionUser(ctx *gin.Context) (ledger.UserID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return ledger.UserID{}, false
	}
	userID, err := ledger.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "session has no user id"))
		return ledger.UserID{}, false
	}
	return userID, true
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func (handler *httpHandler) internalError(ctx *gin.Context, message string, err error) {
	handler.logger.Error(message, zap.Error(err))
	ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", message))
}
