// Package payment turns payment-provider confirmations into ledger settlements.
package payment

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/ledger"
	"github.com/go-playground/validator/v10"
	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
)

// ProviderMidtrans is the provider label written into settlement descriptions.
const ProviderMidtrans = "Midtrans"

const (
	orderIDPrefix    = "credits"
	orderIDSeparator = "~"

	statusSettlement = "settlement"
	statusCapture    = "capture"
	fraudAccept      = "accept"
	paymentPaid      = "paid"
)

var (
	ErrInvalidOrderID      = errors.New("invalid order id")
	ErrInvalidNotification = errors.New("invalid payment notification")
	ErrInvalidSignature    = errors.New("invalid notification signature")
	ErrUnknownSession      = errors.New("unknown payment session")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrInvalidProvider     = errors.New("invalid payment provider config")
)

// TransactionChecker looks a transaction up by order id. *coreapi.Client satisfies it.
type TransactionChecker interface {
	CheckTransaction(orderID string) (*coreapi.TransactionStatusResponse, *midtrans.Error)
}

// Notification is the HTTP notification body Midtrans posts for every status change.
type Notification struct {
	OrderID           string `json:"order_id" validate:"required"`
	StatusCode        string `json:"status_code" validate:"required"`
	GrossAmount       string `json:"gross_amount" validate:"required"`
	SignatureKey      string `json:"signature_key" validate:"required,hexadecimal"`
	TransactionStatus string `json:"transaction_status" validate:"required"`
	FraudStatus       string `json:"fraud_status"`
	TransactionID     string `json:"transaction_id"`
	PaymentType       string `json:"payment_type"`
}

// Order identifies the account and credit amount a payment session was opened for.
type Order struct {
	UserID  string `validate:"required"`
	Credits int64  `validate:"gt=0"`
	Nonce   string `validate:"required"`
}

// MidtransProvider confirms Midtrans payments by order id and by signed notification.
type MidtransProvider struct {
	checker   TransactionChecker
	serverKey string
	validate  *validator.Validate
}

// NewMidtransProvider builds a provider backed by the Midtrans Core API.
func NewMidtransProvider(serverKey string, production bool) (*MidtransProvider, error) {
	environment := midtrans.Sandbox
	if production {
		environment = midtrans.Production
	}
	client := &coreapi.Client{}
	client.New(strings.TrimSpace(serverKey), environment)
	return NewMidtransProviderWithChecker(client, serverKey)
}

// NewMidtransProviderWithChecker builds a provider over any TransactionChecker.
func NewMidtransProviderWithChecker(checker TransactionChecker, serverKey string) (*MidtransProvider, error) {
	if checker == nil {
		return nil, fmt.Errorf("%w: transaction checker is nil", ErrInvalidProvider)
	}
	trimmedKey := strings.TrimSpace(serverKey)
	if trimmedKey == "" {
		return nil, fmt.Errorf("%w: server key is required", ErrInvalidProvider)
	}
	return &MidtransProvider{checker: checker, serverKey: trimmedKey, validate: validator.New()}, nil
}

// Verify asks Midtrans for the current state of the order and returns it as a settlement confirmation.
func (provider *MidtransProvider) Verify(ctx context.Context, sessionID string) (ledger.SettlementConfirmation, error) {
	if err := ctx.Err(); err != nil {
		return ledger.SettlementConfirmation{}, err
	}
	orderID := strings.TrimSpace(sessionID)
	order, err := ParseOrderID(orderID)
	if err != nil {
		return ledger.SettlementConfirmation{}, err
	}
	response, midtransErr := provider.checker.CheckTransaction(orderID)
	if midtransErr != nil {
		if midtransErr.StatusCode == http.StatusNotFound {
			return ledger.SettlementConfirmation{}, fmt.Errorf("%w: %s", ErrUnknownSession, orderID)
		}
		return ledger.SettlementConfirmation{}, fmt.Errorf("%w: %s", ErrProviderUnavailable, midtransErr.GetMessage())
	}
	if response == nil || response.OrderID != orderID {
		return ledger.SettlementConfirmation{}, fmt.Errorf("%w: %s", ErrUnknownSession, orderID)
	}
	return confirmation(order, orderID, response.TransactionStatus, response.FraudStatus, map[string]string{
		"transaction_id": response.TransactionID,
		"payment_type":   response.PaymentType,
		"gross_amount":   response.GrossAmount,
		"status":         response.TransactionStatus,
	})
}

// ConfirmNotification validates and authenticates a notification before turning it into a settlement confirmation.
func (provider *MidtransProvider) ConfirmNotification(_ context.Context, notification Notification) (ledger.SettlementConfirmation, error) {
	if err := provider.validate.Struct(notification); err != nil {
		return ledger.SettlementConfirmation{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if !VerifySignature(notification, provider.serverKey) {
		return ledger.SettlementConfirmation{}, ErrInvalidSignature
	}
	order, err := ParseOrderID(notification.OrderID)
	if err != nil {
		return ledger.SettlementConfirmation{}, err
	}
	return confirmation(order, notification.OrderID, notification.TransactionStatus, notification.FraudStatus, map[string]string{
		"transaction_id": notification.TransactionID,
		"payment_type":   notification.PaymentType,
		"gross_amount":   notification.GrossAmount,
		"status":         notification.TransactionStatus,
	})
}

// Signature computes the Midtrans notification signature: SHA-512 over order id, status code, gross amount and server key.
func Signature(orderID string, statusCode string, grossAmount string, serverKey string) string {
	digest := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(digest[:])
}

// VerifySignature reports whether the notification was signed with serverKey.
func VerifySignature(notification Notification, serverKey string) bool {
	expected := Signature(notification.OrderID, notification.StatusCode, notification.GrossAmount, serverKey)
	received := strings.ToLower(strings.TrimSpace(notification.SignatureKey))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(received)) == 1
}

// PaymentStatus maps a Midtrans transaction state to the ledger's payment status.
// Only settled payments and fraud-accepted card captures count as paid.
func PaymentStatus(transactionStatus string, fraudStatus string) string {
	status := strings.ToLower(strings.TrimSpace(transactionStatus))
	fraud := strings.ToLower(strings.TrimSpace(fraudStatus))
	switch {
	case status == statusSettlement:
		return paymentPaid
	case status == statusCapture && (fraud == "" || fraud == fraudAccept):
		return paymentPaid
	default:
		return status
	}
}

// EncodeOrderID builds the order id a checkout is opened with.
func EncodeOrderID(order Order) (string, error) {
	if err := validator.New().Struct(order); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOrderID, err)
	}
	if strings.Contains(order.Nonce, orderIDSeparator) {
		return "", fmt.Errorf("%w: nonce contains %q", ErrInvalidOrderID, orderIDSeparator)
	}
	return strings.Join([]string{orderIDPrefix, order.UserID, strconv.FormatInt(order.Credits, 10), order.Nonce}, orderIDSeparator), nil
}

// ParseOrderID reverses EncodeOrderID. User ids may themselves contain the separator, so fields are read from the right.
func ParseOrderID(orderID string) (Order, error) {
	parts := strings.Split(strings.TrimSpace(orderID), orderIDSeparator)
	if len(parts) < 4 || parts[0] != orderIDPrefix {
		return Order{}, fmt.Errorf("%w: %q", ErrInvalidOrderID, orderID)
	}
	nonce := parts[len(parts)-1]
	credits, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil || credits <= 0 {
		return Order{}, fmt.Errorf("%w: credits segment of %q", ErrInvalidOrderID, orderID)
	}
	userID := strings.Join(parts[1:len(parts)-2], orderIDSeparator)
	if strings.TrimSpace(userID) == "" || nonce == "" {
		return Order{}, fmt.Errorf("%w: %q", ErrInvalidOrderID, orderID)
	}
	return Order{UserID: userID, Credits: credits, Nonce: nonce}, nil
}

func confirmation(order Order, orderID string, transactionStatus string, fraudStatus string, details map[string]string) (ledger.SettlementConfirmation, error) {
	for key, value := range details {
		if value == "" {
			delete(details, key)
		}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return ledger.SettlementConfirmation{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(encoded))
	if err != nil {
		return ledger.SettlementConfirmation{}, err
	}
	return ledger.SettlementConfirmation{
		SessionID:     orderID,
		UserID:        order.UserID,
		Credits:       order.Credits,
		PaymentStatus: PaymentStatus(transactionStatus, fraudStatus),
		Provider:      ProviderMidtrans,
		Metadata:      metadata,
	}, nil
}
