package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
)

const testServerKey = "SB-Mid-server-test"

type stubChecker struct {
	response *coreapi.TransactionStatusResponse
	err      *midtrans.Error
	calls    []string
}

func (stub *stubChecker) CheckTransaction(orderID string) (*coreapi.TransactionStatusResponse, *midtrans.Error) {
	stub.calls = append(stub.calls, orderID)
	return stub.response, stub.err
}

func mustOrderID(test *testing.T, order Order) string {
	test.Helper()
	orderID, err := EncodeOrderID(order)
	if err != nil {
		test.Fatalf("encode order id: %v", err)
	}
	return orderID
}

func mustProvider(test *testing.T, checker TransactionChecker) *MidtransProvider {
	test.Helper()
	provider, err := NewMidtransProviderWithChecker(checker, testServerKey)
	if err != nil {
		test.Fatalf("provider: %v", err)
	}
	return provider
}

func signedNotification(orderID string, status string, fraud string) Notification {
	notification := Notification{
		OrderID:           orderID,
		StatusCode:        "200",
		GrossAmount:       "50000.00",
		TransactionStatus: status,
		FraudStatus:       fraud,
		TransactionID:     "txn-1",
		PaymentType:       "bank_transfer",
	}
	notification.SignatureKey = Signature(notification.OrderID, notification.StatusCode, notification.GrossAmount, testServerKey)
	return notification
}

func TestOrderIDRoundTripKeepsSeparatorInUserID(test *testing.T) {
	test.Parallel()
	order := Order{UserID: "google~1234", Credits: 50, Nonce: "a1b2"}
	orderID := mustOrderID(test, order)
	if orderID != "credits~google~1234~50~a1b2" {
		test.Fatalf("unexpected order id %q", orderID)
	}
	parsed, err := ParseOrderID(orderID)
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	if parsed != order {
		test.Fatalf("expected %+v, got %+v", order, parsed)
	}
}

func TestParseOrderIDRejectsMalformed(test *testing.T) {
	test.Parallel()
	testCases := []string{
		"",
		"credits~user~50",
		"checkout~user~50~n1",
		"credits~user~zero~n1",
		"credits~user~-5~n1",
		"credits~~50~n1",
		"credits~user~50~",
	}
	for _, orderID := range testCases {
		if _, err := ParseOrderID(orderID); !errors.Is(err, ErrInvalidOrderID) {
			test.Fatalf("%q: expected ErrInvalidOrderID, got %v", orderID, err)
		}
	}
}

func TestEncodeOrderIDValidates(test *testing.T) {
	test.Parallel()
	testCases := []Order{
		{UserID: "", Credits: 5, Nonce: "n"},
		{UserID: "user", Credits: 0, Nonce: "n"},
		{UserID: "user", Credits: 5, Nonce: ""},
		{UserID: "user", Credits: 5, Nonce: "a~b"},
	}
	for _, order := range testCases {
		if _, err := EncodeOrderID(order); !errors.Is(err, ErrInvalidOrderID) {
			test.Fatalf("%+v: expected ErrInvalidOrderID, got %v", order, err)
		}
	}
}

func TestPaymentStatus(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		status string
		fraud  string
		want   string
	}{
		{status: "settlement", want: "paid"},
		{status: "SETTLEMENT", fraud: "accept", want: "paid"},
		{status: "capture", fraud: "accept", want: "paid"},
		{status: "capture", want: "paid"},
		{status: "capture", fraud: "challenge", want: "capture"},
		{status: "pending", want: "pending"},
		{status: "expire", want: "expire"},
		{status: "deny", want: "deny"},
	}
	for _, testCase := range testCases {
		if got := PaymentStatus(testCase.status, testCase.fraud); got != testCase.want {
			test.Fatalf("%s/%s: expected %q, got %q", testCase.status, testCase.fraud, testCase.want, got)
		}
	}
}

func TestVerifyReturnsConfirmation(test *testing.T) {
	test.Parallel()
	orderID := mustOrderID(test, Order{UserID: "user-1", Credits: 25, Nonce: "n1"})
	checker := &stubChecker{response: &coreapi.TransactionStatusResponse{
		OrderID:           orderID,
		TransactionID:     "txn-9",
		TransactionStatus: "settlement",
		GrossAmount:       "25000.00",
		PaymentType:       "gopay",
	}}
	provider := mustProvider(test, checker)

	confirmation, err := provider.Verify(context.Background(), " "+orderID+" ")
	if err != nil {
		test.Fatalf("verify: %v", err)
	}
	if len(checker.calls) != 1 || checker.calls[0] != orderID {
		test.Fatalf("unexpected checker calls %v", checker.calls)
	}
	if confirmation.SessionID != orderID || confirmation.UserID != "user-1" || confirmation.Credits != 25 {
		test.Fatalf("unexpected confirmation %+v", confirmation)
	}
	if confirmation.PaymentStatus != "paid" || confirmation.Provider != ProviderMidtrans {
		test.Fatalf("unexpected status/provider %+v", confirmation)
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(confirmation.Metadata.String()), &metadata); err != nil {
		test.Fatalf("metadata: %v", err)
	}
	if metadata["transaction_id"] != "txn-9" || metadata["payment_type"] != "gopay" {
		test.Fatalf("unexpected metadata %v", metadata)
	}
}

func TestVerifyMapsProviderErrors(test *testing.T) {
	test.Parallel()
	orderID := mustOrderID(test, Order{UserID: "user-1", Credits: 25, Nonce: "n1"})
	testCases := []struct {
		name    string
		checker *stubChecker
		want    error
	}{
		{name: "not found", checker: &stubChecker{err: &midtrans.Error{Message: "not found", StatusCode: http.StatusNotFound}}, want: ErrUnknownSession},
		{name: "outage", checker: &stubChecker{err: &midtrans.Error{Message: "bad gateway", StatusCode: http.StatusBadGateway}}, want: ErrProviderUnavailable},
		{name: "other order", checker: &stubChecker{response: &coreapi.TransactionStatusResponse{OrderID: "credits~x~1~n"}}, want: ErrUnknownSession},
	}
	for _, testCase := range testCases {
		provider := mustProvider(test, testCase.checker)
		if _, err := provider.Verify(context.Background(), orderID); !errors.Is(err, testCase.want) {
			test.Fatalf("%s: expected %v, got %v", testCase.name, testCase.want, err)
		}
	}
}

func TestVerifyRejectsForeignOrderWithoutLookup(test *testing.T) {
	test.Parallel()
	checker := &stubChecker{}
	provider := mustProvider(test, checker)
	if _, err := provider.Verify(context.Background(), "subscription-123"); !errors.Is(err, ErrInvalidOrderID) {
		test.Fatalf("expected ErrInvalidOrderID, got %v", err)
	}
	if len(checker.calls) != 0 {
		test.Fatalf("expected no provider lookup, got %v", checker.calls)
	}
}

func TestConfirmNotification(test *testing.T) {
	test.Parallel()
	provider := mustProvider(test, &stubChecker{})
	orderID := mustOrderID(test, Order{UserID: "user-7", Credits: 10, Nonce: "n2"})

	confirmation, err := provider.ConfirmNotification(context.Background(), signedNotification(orderID, "capture", "accept"))
	if err != nil {
		test.Fatalf("confirm: %v", err)
	}
	if confirmation.UserID != "user-7" || confirmation.Credits != 10 || confirmation.PaymentStatus != "paid" {
		test.Fatalf("unexpected confirmation %+v", confirmation)
	}

	pending, err := provider.ConfirmNotification(context.Background(), signedNotification(orderID, "pending", ""))
	if err != nil {
		test.Fatalf("confirm pending: %v", err)
	}
	if pending.PaymentStatus != "pending" {
		test.Fatalf("expected pending status, got %q", pending.PaymentStatus)
	}
}

func TestConfirmNotificationRejectsTampering(test *testing.T) {
	test.Parallel()
	provider := mustProvider(test, &stubChecker{})
	orderID := mustOrderID(test, Order{UserID: "user-7", Credits: 10, Nonce: "n2"})

	tampered := signedNotification(orderID, "settlement", "")
	tampered.GrossAmount = "1.00"
	if _, err := provider.ConfirmNotification(context.Background(), tampered); !errors.Is(err, ErrInvalidSignature) {
		test.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	incomplete := signedNotification(orderID, "settlement", "")
	incomplete.StatusCode = ""
	if _, err := provider.ConfirmNotification(context.Background(), incomplete); !errors.Is(err, ErrInvalidNotification) {
		test.Fatalf("expected ErrInvalidNotification, got %v", err)
	}
}

func TestNewMidtransProviderRequiresKey(test *testing.T) {
	test.Parallel()
	if _, err := NewMidtransProviderWithChecker(&stubChecker{}, "  "); !errors.Is(err, ErrInvalidProvider) {
		test.Fatalf("expected ErrInvalidProvider, got %v", err)
	}
	if _, err := NewMidtransProviderWithChecker(nil, testServerKey); !errors.Is(err, ErrInvalidProvider) {
		test.Fatalf("expected ErrInvalidProvider, got %v", err)
	}
}
