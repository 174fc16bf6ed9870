package rewards

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisNotifier_PublishesCouponEvent(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, CouponChannel)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	n := NewRedisNotifier(client)
	ev := CouponEvent{UserID: "u-1", RequestID: "r-9", Stars: 500, EarnedAt: time.Now().UTC()}
	require.NoError(t, n.CouponEarned(ctx, ev))

	select {
	case msg := <-sub.Channel():
		var got CouponEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, "u-1", got.UserID)
		assert.Equal(t, 500, got.Stars)
	case <-time.After(2 * time.Second):
		t.Fatal("coupon event not published")
	}
}
