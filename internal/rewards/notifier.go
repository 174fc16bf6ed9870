package rewards

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const CouponChannel = "favor:notify:coupon"

// CouponEvent is published once per user when the coupon latch flips.
type CouponEvent struct {
	UserID    string    `json:"user_id"`
	RequestID string    `json:"request_id"`
	Stars     int       `json:"stars"`
	EarnedAt  time.Time `json:"earned_at"`
}

// Notifier delivers coupon events to downstream email/SMS senders.
type Notifier interface {
	CouponEarned(ctx context.Context, ev CouponEvent) error
}

// RedisNotifier publishes coupon events on a pub/sub channel.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisNotifier(client redis.UniversalClient) *RedisNotifier {
	return &RedisNotifier{client: client, channel: CouponChannel}
}

func (n *RedisNotifier) CouponEarned(ctx context.Context, ev CouponEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal coupon event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("publish coupon event: %w", err)
	}
	return nil
}
