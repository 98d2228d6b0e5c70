// README: Redis pub/sub subscriber feeding the statistics pipeline.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"yisong/internal/modules/order"
	"yisong/internal/types"
)

// Message is the JSON document published for each domain event.
type Message struct {
	Type       order.EventType `json:"type"`
	OrderID    types.ID        `json:"orderId"`
	MerchantID types.ID        `json:"merchantId"`
	Status     order.Status    `json:"status"`
	At         time.Time       `json:"at"`
	Order      order.Order     `json:"order"`
}

func MessageFrom(evt order.DomainEvent) Message {
	return Message{
		Type:       evt.Type,
		OrderID:    evt.OrderID,
		MerchantID: evt.MerchantID,
		Status:     evt.Order.Status,
		At:         evt.At,
		Order:      evt.Order,
	}
}

type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Handle(ctx context.Context, evt order.DomainEvent) error {
	raw, err := json.Marshal(MessageFrom(evt))
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, raw).Err()
}
