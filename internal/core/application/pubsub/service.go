package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
)

const (
	EventTradePhaseChanged = "TRADE_PHASE_CHANGED"
	EventTradeFailed       = "TRADE_FAILED"
	EventTradeCompleted    = "TRADE_COMPLETED"
)

var events = map[string]struct{}{
	EventTradePhaseChanged: {},
	EventTradeFailed:       {},
	EventTradeCompleted:    {},
	ports.AnyTopic:         {},
}

// ErrUnknownEvent is returned when subscribing to an unsupported event.
var ErrUnknownEvent = fmt.Errorf("unknown webhook event")

// Webhook is a subscription request of an external endpoint.
type Webhook struct {
	Event    string `json:"event"`
	Endpoint string `json:"endpoint"`
	Secret   string `json:"secret,omitempty"`
}

// WebhookInfo describes a registered webhook.
type WebhookInfo struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	Endpoint  string `json:"endpoint"`
	IsSecured bool   `json:"is_secured"`
}

// Service notifies trade events to the registered webhooks.
type Service struct {
	pubsub ports.SecurePubSub
}

func NewService(pubsub ports.SecurePubSub) *Service {
	return &Service{pubsub}
}

func (s *Service) AddWebhook(_ context.Context, webhook Webhook) (string, error) {
	if _, ok := events[webhook.Event]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEvent, webhook.Event)
	}
	return s.pubsub.Subscribe(webhook.Event, webhook.Endpoint, webhook.Secret)
}

func (s *Service) RemoveWebhook(_ context.Context, id string) error {
	return s.pubsub.Unsubscribe(ports.UnspecifiedTopic, id)
}

func (s *Service) ListWebhooks(_ context.Context, event string) []WebhookInfo {
	subs := s.pubsub.ListSubscriptionsForTopic(event)
	webhooks := make([]WebhookInfo, 0, len(subs))
	for _, sub := range subs {
		webhooks = append(webhooks, WebhookInfo{
			ID:        sub.Id(),
			Event:     sub.Topic(),
			Endpoint:  sub.NotifyAt(),
			IsSecured: sub.IsSecured(),
		})
	}
	return webhooks
}

// PublishTradeEvents compares the previous and current version of a trade
// and publishes the matching events. prev is nil for new trades.
func (s *Service) PublishTradeEvents(prev *domain.Trade, trade domain.Trade) error {
	var topics []string
	if prev == nil || prev.Phase != trade.Phase {
		topics = append(topics, EventTradePhaseChanged)
	}
	if trade.HasFailed() && (prev == nil || !prev.HasFailed()) {
		topics = append(topics, EventTradeFailed)
	}
	if trade.IsCompleted() && (prev == nil || !prev.IsCompleted()) {
		topics = append(topics, EventTradeCompleted)
	}

	for _, topic := range topics {
		message, _ := json.Marshal(getTradePayload(topic, trade))
		if err := s.pubsub.Publish(topic, string(message)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Close() error {
	return s.pubsub.Close()
}

func getTradePayload(event string, trade domain.Trade) map[string]interface{} {
	payload := map[string]interface{}{
		"event":      event,
		"trade_id":   trade.ID,
		"role":       trade.Role.String(),
		"phase":      trade.Phase.String(),
		"state":      trade.State.String(),
		"amount":     trade.Amount,
		"price":      trade.Price.String(),
		"currency":   trade.Offer.CurrencyCode,
		"updated_at": time.Unix(trade.UpdatedAt, 0).Format(time.RFC3339),
	}
	if trade.HasFailed() {
		payload["error"] = trade.ErrorMessage
	}
	if trade.PayoutTxHash != "" {
		payload["payout_txid"] = trade.PayoutTxHash
	}
	if trade.IsCompleted() {
		payload["completion_date"] = time.Unix(trade.CompletedAt, 0).Format(time.RFC3339)
	}
	return payload
}
