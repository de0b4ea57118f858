package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/ledger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type publishedMessage struct {
	channel string
	payload []byte
}

type stubPublisher struct {
	messages []publishedMessage
	err      error
}

func (stub *stubPublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	command := redis.NewIntCmd(ctx)
	if stub.err != nil {
		command.SetErr(stub.err)
		return command
	}
	stub.messages = append(stub.messages, publishedMessage{channel: channel, payload: message.([]byte)})
	command.SetVal(1)
	return command
}

func TestPublishBalanceChangedWritesUserChannel(test *testing.T) {
	test.Parallel()
	stub := &stubPublisher{}
	publisher := NewRedisPublisher(stub, "", zap.NewNop())

	publisher.PublishBalanceChanged(context.Background(), ledger.BalanceChangedEvent{UserID: "user-1", Operation: "deduct", Amount: 2, OccurredUnixUTC: 1700000000})

	if len(stub.messages) != 1 {
		test.Fatalf("expected one message, got %d", len(stub.messages))
	}
	if stub.messages[0].channel != "credits:balance:user-1" {
		test.Fatalf("unexpected channel %q", stub.messages[0].channel)
	}
	var message BalanceMessage
	if err := json.Unmarshal(stub.messages[0].payload, &message); err != nil {
		test.Fatalf("decode: %v", err)
	}
	expected := BalanceMessage{Type: "balance_changed", UserID: "user-1", Operation: "deduct", Amount: 2, OccurredAt: 1700000000}
	if message != expected {
		test.Fatalf("expected %+v, got %+v", expected, message)
	}
}

func TestPublishBalanceChangedLogsFailures(test *testing.T) {
	test.Parallel()
	core, logs := observer.New(zapcore.WarnLevel)
	stub := &stubPublisher{err: errors.New("connection refused")}
	publisher := NewRedisPublisher(stub, "tenant-a:balance", zap.New(core))

	publisher.PublishBalanceChanged(context.Background(), ledger.BalanceChangedEvent{UserID: "user-2", Operation: "grant", Amount: 10})

	entries := logs.FilterMessage("balance event publish failed").All()
	if len(entries) != 1 {
		test.Fatalf("expected one warning, got %d", len(entries))
	}
	if channel := entries[0].ContextMap()["channel"]; channel != "tenant-a:balance:user-2" {
		test.Fatalf("unexpected channel field %v", channel)
	}
}

func TestConnectRejectsMalformedURL(test *testing.T) {
	test.Parallel()
	if _, err := Connect(context.Background(), "http://not-redis"); err == nil {
		test.Fatalf("expected parse error")
	}
}
