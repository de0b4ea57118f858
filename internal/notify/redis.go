// Package notify fans balance changes out to other processes over Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/ledger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultChannelPrefix   = "credits:balance"
	eventTypeBalanceChange = "balance_changed"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// BalanceMessage is the JSON payload published for every committed balance change.
type BalanceMessage struct {
	Type       string `json:"type"`
	UserID     string `json:"user_id"`
	Operation  string `json:"operation"`
	Amount     int64  `json:"amount"`
	OccurredAt int64  `json:"occurred_at"`
}

// RedisPublisher implements ledger.EventPublisher. Publishing is best effort: failures are logged, never returned.
type RedisPublisher struct {
	client        publisher
	channelPrefix string
	logger        *zap.Logger
}

// NewRedisPublisher builds a publisher. An empty prefix falls back to DefaultChannelPrefix.
func NewRedisPublisher(client publisher, channelPrefix string, logger *zap.Logger) *RedisPublisher {
	prefix := strings.TrimSpace(channelPrefix)
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{client: client, channelPrefix: prefix, logger: logger}
}

// Channel returns the per-user channel name.
func (publisher *RedisPublisher) Channel(userID string) string {
	return publisher.channelPrefix + ":" + userID
}

func (publisher *RedisPublisher) PublishBalanceChanged(ctx context.Context, event ledger.BalanceChangedEvent) {
	payload, err := json.Marshal(BalanceMessage{
		Type:       eventTypeBalanceChange,
		UserID:     event.UserID,
		Operation:  event.Operation,
		Amount:     event.Amount,
		OccurredAt: event.OccurredUnixUTC,
	})
	if err != nil {
		publisher.logger.Warn("balance event encode failed", zap.String("user_id", event.UserID), zap.Error(err))
		return
	}
	channel := publisher.Channel(event.UserID)
	if err := publisher.client.Publish(ctx, channel, payload).Err(); err != nil {
		publisher.logger.Warn("balance event publish failed",
			zap.String("channel", channel),
			zap.String("operation", event.Operation),
			zap.Error(err),
		)
	}
}

// Connect parses a redis:// URL, opens a client, and verifies it with PING.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
