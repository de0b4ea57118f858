package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation   string
	UserID      UserID
	Amount      int64
	Description string
	Status      string
	Error       error
}

// EventPublisher receives a notification after a committed balance change.
type EventPublisher interface {
	PublishBalanceChanged(ctx context.Context, event BalanceChangedEvent)
}

// BalanceChangedEvent tells subscribers that a user's balance must be re-read.
type BalanceChangedEvent struct {
	UserID          string
	Operation       string
	Amount          int64
	OccurredUnixUTC int64
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithEventPublisher wires a publisher notified after grants, deductions, and migrations commit.
func WithEventPublisher(publisher EventPublisher) ServiceOption {
	return func(service *Service) {
		service.publisher = publisher
	}
}

// WithLowBalanceThreshold overrides the balance at or below which IsLowBalance is reported.
func WithLowBalanceThreshold(threshold int64) ServiceOption {
	return func(service *Service) {
		if threshold >= 0 {
			service.lowBalanceThreshold = threshold
		}
	}
}
