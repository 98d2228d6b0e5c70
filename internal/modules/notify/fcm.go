// README: Firebase Cloud Messaging subscriber: pushes order events to the merchant's topic.
package notify

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"

	"yisong/internal/modules/order"
	"yisong/internal/types"
)

// MessageSender is satisfied by *messaging.Client.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type FCMPublisher struct {
	client MessageSender
}

func NewFCMPublisher(client MessageSender) *FCMPublisher {
	return &FCMPublisher{client: client}
}

func (p *FCMPublisher) Name() string { return "fcm" }

func MerchantTopic(merchantID types.ID) string {
	return "merchant-" + string(merchantID)
}

func (p *FCMPublisher) Handle(ctx context.Context, evt order.DomainEvent) error {
	msg := &messaging.Message{
		Topic: MerchantTopic(evt.MerchantID),
		Data: map[string]string{
			"type":     string(evt.Type),
			"order_id": string(evt.OrderID),
			"order_no": evt.Order.OrderNo,
			"status":   string(evt.Order.Status),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	if title, body, ok := alertFor(evt); ok {
		msg.Notification = &messaging.Notification{Title: title, Body: body}
	}
	if _, err := p.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("sending FCM to topic %s: %w", msg.Topic, err)
	}
	return nil
}

// alertFor picks the events worth a visible notification.
func alertFor(evt order.DomainEvent) (string, string, bool) {
	switch evt.Type {
	case order.EventCreated:
		return "New order", fmt.Sprintf("Order %s from %s", evt.Order.OrderNo, evt.Order.Source), true
	case order.EventDispatchExhausted:
		return "No rider available", fmt.Sprintf("Order %s needs your attention", evt.Order.OrderNo), true
	}
	return "", "", false
}
