package grpcserver

import (
	"context"
	"errors"
	"fmt"

	creditv1 "github.com/MarkoPoloResearchLab/auctioncredits/api/credit/v1"
	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/ledger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	errorInvalidUserID           = "invalid_user_id"
	errorInvalidAmount           = "invalid_amount"
	errorInvalidDescription      = "invalid_description"
	errorInvalidExpiry           = "invalid_expiry"
	errorInvalidMetadata         = "invalid_metadata_json"
	errorInvalidSettingName      = "invalid_setting_name"
	errorInvalidSettingValue     = "invalid_setting_value"
	errorInvalidListLimit        = "invalid_list_limit"
	errorUnknownSetting          = "unknown_setting"
	errorDuplicateIdempotency    = "duplicate_idempotency_key"
	errorInsufficientFunds       = "insufficient_funds"
	defaultListTransactionsLimit = 50
	maxListTransactionsLimit     = 200
)

// CreditServiceServer exposes the credit ledger over gRPC.
type CreditServiceServer struct {
	creditv1.UnimplementedCreditServiceServer
	creditService *ledger.Service
}

// NewCreditServiceServer constructs a gRPC server for the ledger service.
func NewCreditServiceServer(creditService *ledger.Service) *CreditServiceServer {
	return &CreditServiceServer{creditService: creditService}
}

func (service *CreditServiceServer) GetBalance(ctx context.Context, request *creditv1.BalanceRequest) (*creditv1.BalanceResponse, error) {
	userID, err := ledger.NewUserID(request.GetUserId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return service.balance(ctx, userID)
}

func (service *CreditServiceServer) Grant(ctx context.Context, request *creditv1.GrantRequest) (*creditv1.GrantResponse, error) {
	userID, err := ledger.NewUserID(request.GetUserId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	amount, err := ledger.NewCredits(request.GetAmount())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	metadata, err := ledger.NewMetadataJSON(request.MetadataJson)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	batch, operationError := service.creditService.Grant(ctx, ledger.GrantRequest{
		UserID:         userID,
		Amount:         amount,
		Description:    request.Description,
		ExpiresInDays:  int(request.ExpiresInDays),
		IdempotencyKey: request.IdempotencyKey,
		Metadata:       metadata,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	balance, err := service.balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &creditv1.GrantResponse{Batch: batchMessage(batch, service.creditService.Now()), Balance: balance}, nil
}

func (service *CreditServiceServer) Deduct(ctx context.Context, request *creditv1.DeductRequest) (*creditv1.DeductResponse, error) {
	userID, err := ledger.NewUserID(request.GetUserId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	amount, err := ledger.NewCredits(request.GetAmount())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	description, err := ledger.NewDescription(request.Description)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, operationError := service.creditService.Deduct(ctx, userID, amount, description)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &creditv1.DeductResponse{Applied: result.Applied, Required: result.Required, Available: result.Available}, nil
}

func (service *CreditServiceServer) CheckAffordable(ctx context.Context, request *creditv1.CheckAffordableRequest) (*creditv1.CheckAffordableResponse, error) {
	userID, err := ledger.NewUserID(request.UserId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	name, err := ledger.NewSettingName(request.Setting)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	affordability, operationError := service.creditService.CheckAffordable(ctx, userID, name)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &creditv1.CheckAffordableResponse{
		Cost:       affordability.Cost,
		Available:  affordability.Available,
		Affordable: affordability.Affordable,
		Bypassed:   affordability.Bypassed,
	}, nil
}

func (service *CreditServiceServer) Settle(ctx context.Context, request *creditv1.SettleRequest) (*creditv1.SettleResponse, error) {
	metadata, err := ledger.NewMetadataJSON(request.MetadataJson)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, operationError := service.creditService.Settle(ctx, ledger.SettlementConfirmation{
		SessionID:     request.SessionId,
		UserID:        request.UserId,
		Credits:       request.Credits,
		PaymentStatus: request.PaymentStatus,
		Provider:      request.Provider,
		Metadata:      metadata,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &creditv1.SettleResponse{
		Status:      string(result.Status),
		Message:     result.Message,
		Credits:     result.Credits,
		Description: result.Description,
	}, nil
}

func (service *CreditServiceServer) ListTransactions(ctx context.Context, request *creditv1.ListTransactionsRequest) (*creditv1.ListTransactionsResponse, error) {
	userID, err := ledger.NewUserID(request.UserId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	limit, err := normalizeListLimit(request.GetLimit())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidListLimit)
	}
	transactions, operationError := service.creditService.ListTransactions(ctx, userID, request.BeforeUnixUtc, int(limit))
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	response := &creditv1.ListTransactionsResponse{Transactions: make([]*creditv1.Transaction, 0, len(transactions))}
	for _, transaction := range transactions {
		response.Transactions = append(response.Transactions, &creditv1.Transaction{
			Id:             transaction.ID,
			UserId:         transaction.UserID,
			Type:           transaction.Type.String(),
			Amount:         transaction.Amount,
			Description:    transaction.Description,
			MetadataJson:   transaction.MetadataJSON,
			CreatedUnixUtc: transaction.CreatedUnixUTC,
		})
	}
	return response, nil
}

func (service *CreditServiceServer) ListBatches(ctx context.Context, request *creditv1.ListBatchesRequest) (*creditv1.ListBatchesResponse, error) {
	userID, err := ledger.NewUserID(request.UserId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	batches, operationError := service.creditService.ListBatches(ctx, userID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	nowUnixUTC := service.creditService.Now()
	response := &creditv1.ListBatchesResponse{Batches: make([]*creditv1.Batch, 0, len(batches))}
	for _, batch := range batches {
		response.Batches = append(response.Batches, batchMessage(batch, nowUnixUTC))
	}
	return response, nil
}

func (service *CreditServiceServer) GetSettings(ctx context.Context, _ *creditv1.GetSettingsRequest) (*creditv1.GetSettingsResponse, error) {
	settings, operationError := service.creditService.Settings(ctx)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	response := &creditv1.GetSettingsResponse{Settings: make([]*creditv1.Setting, 0, len(settings))}
	for _, setting := range settings {
		response.Settings = append(response.Settings, settingMessage(setting))
	}
	return response, nil
}

func (service *CreditServiceServer) UpdateSetting(ctx context.Context, request *creditv1.UpdateSettingRequest) (*creditv1.UpdateSettingResponse, error) {
	name, err := ledger.NewSettingName(request.Name)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	setting, operationError := service.creditService.UpdateSetting(ctx, name, request.Value, request.UpdatedBy)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &creditv1.UpdateSettingResponse{Setting: settingMessage(setting)}, nil
}

func (service *CreditServiceServer) balance(ctx context.Context, userID ledger.UserID) (*creditv1.BalanceResponse, error) {
	view, operationError := service.creditService.BalanceView(ctx, userID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &creditv1.BalanceResponse{
		CurrentCredits:   view.CurrentCredits,
		TotalPurchased:   view.TotalPurchased,
		LastTopupUnixUtc: view.LastTopupUnixUTC,
		IsTrial:          view.IsTrial,
		IsLowBalance:     view.IsLowBalance,
		ItemFetchCost:    view.ItemFetchCost,
		Research2Cost:    view.Research2Cost,
	}, nil
}

func batchMessage(batch ledger.Batch, nowUnixUTC int64) *creditv1.Batch {
	return &creditv1.Batch{
		Id:               batch.ID,
		UserId:           batch.UserID,
		Amount:           batch.Amount,
		RemainingAmount:  batch.RemainingAmount,
		ExpiresAtUnixUtc: batch.ExpiresAtUnixUTC,
		Source:           batch.Source.String(),
		CreatedUnixUtc:   batch.CreatedUnixUTC,
		Expired:          batch.ExpiredAt(nowUnixUTC),
	}
}

func settingMessage(setting ledger.Setting) *creditv1.Setting {
	return &creditv1.Setting{
		Name:           setting.Name.String(),
		Value:          setting.Value,
		Description:    setting.Description,
		UpdatedBy:      setting.UpdatedBy,
		UpdatedUnixUtc: setting.UpdatedUnixUTC,
	}
}

func normalizeListLimit(limit int32) (int32, error) {
	if limit <= 0 {
		return defaultListTransactionsLimit, nil
	}
	if limit > maxListTransactionsLimit {
		return 0, fmt.Errorf("limit exceeds maximum: %d > %d", limit, maxListTransactionsLimit)
	}
	return limit, nil
}

func mapToGRPCError(source error) error {
	switch {
	case errors.Is(source, ledger.ErrInvalidUserID):
		return status.Error(codes.InvalidArgument, errorInvalidUserID)
	case errors.Is(source, ledger.ErrInvalidCredits):
		return status.Error(codes.InvalidArgument, errorInvalidAmount)
	case errors.Is(source, ledger.ErrInvalidDescription):
		return status.Error(codes.InvalidArgument, errorInvalidDescription)
	case errors.Is(source, ledger.ErrInvalidExpiry):
		return status.Error(codes.InvalidArgument, errorInvalidExpiry)
	case errors.Is(source, ledger.ErrInvalidMetadataJSON):
		return status.Error(codes.InvalidArgument, errorInvalidMetadata)
	case errors.Is(source, ledger.ErrInvalidSettingName):
		return status.Error(codes.InvalidArgument, errorInvalidSettingName)
	case errors.Is(source, ledger.ErrInvalidSettingValue):
		return status.Error(codes.InvalidArgument, errorInvalidSettingValue)
	case errors.Is(source, ledger.ErrInvalidListLimit):
		return status.Error(codes.InvalidArgument, errorInvalidListLimit)
	case errors.Is(source, ledger.ErrUnknownSetting):
		return status.Error(codes.NotFound, errorUnknownSetting)
	case errors.Is(source, ledger.ErrDuplicateIdempotencyKey):
		return status.Error(codes.AlreadyExists, errorDuplicateIdempotency)
	case errors.Is(source, ledger.ErrInsufficientFunds):
		return status.Error(codes.FailedPrecondition, errorInsufficientFunds)
	default:
		return status.Error(codes.Internal, source.Error())
	}
}
