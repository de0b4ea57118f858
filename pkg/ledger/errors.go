package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrCostChanged             = errors.New("cost changed since it was quoted")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrDuplicateLegacyBatch    = errors.New("legacy balance already migrated")
	ErrBatchUnderflow          = errors.New("batch remaining amount underflow")
	ErrUnknownSummary          = errors.New("unknown credit summary")
	ErrUnknownSetting          = errors.New("unknown setting")
	ErrInvalidUserID           = errors.New("invalid user id")
	ErrInvalidCredits          = errors.New("invalid credits")
	ErrInvalidDescription      = errors.New("invalid description")
	ErrInvalidExpiry           = errors.New("invalid expiry")
	ErrInvalidSettingName      = errors.New("invalid setting name")
	ErrInvalidSettingValue     = errors.New("invalid setting value")
	ErrInvalidTransactionType  = errors.New("invalid transaction type")
	ErrInvalidBatchSource      = errors.New("invalid batch source")
	ErrInvalidMetadataJSON     = errors.New("invalid metadata json")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
	ErrInvalidListLimit        = errors.New("invalid list limit")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
