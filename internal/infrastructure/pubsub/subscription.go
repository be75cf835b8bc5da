package pubsub

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
)

// Subscription is a webhook registered for the trade events of a topic.
// Event is indexed to look up the endpoints to notify on publish.
type Subscription struct {
	ID        string `json:"id"`
	Event     string `json:"event" badgerhold:"index"`
	Endpoint  string `json:"endpoint"`
	Secret    string `json:"secret"`
	CreatedAt int64  `json:"created_at"`
}

// NewSubscription validates the webhook target, only absolute http(s) URLs
// are accepted.
func NewSubscription(event, endpoint, secret string) (*Subscription, error) {
	if event == ports.UnspecifiedTopic {
		return nil, fmt.Errorf("missing event")
	}
	u, err := url.ParseRequestURI(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook endpoint %q", endpoint)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported webhook scheme %q", u.Scheme)
	}

	return &Subscription{
		ID:        uuid.New().String(),
		Event:     event,
		Endpoint:  u.String(),
		Secret:    secret,
		CreatedAt: time.Now().Unix(),
	}, nil
}

func (s *Subscription) Topic() string    { return s.Event }
func (s *Subscription) Id() string       { return s.ID }
func (s *Subscription) NotifyAt() string { return s.Endpoint }
func (s *Subscription) IsSecured() bool  { return s.Secret != "" }

type subscriptions []Subscription

func (s subscriptions) toPortable() []ports.Subscription {
	list := make([]ports.Subscription, 0, len(s))
	for i := range s {
		list = append(list, &s[i])
	}
	return list
}
