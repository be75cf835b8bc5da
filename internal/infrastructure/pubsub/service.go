package pubsub

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/sony/gobreaker"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"github.com/tdex-network/tdex-escrow/pkg/circuitbreaker"
	"github.com/timshannon/badgerhold/v4"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRequestTimeout = 15 * time.Second
	eventTopicHeader      = "X-Escrow-Event"
)

type service struct {
	store      store
	httpClient *client
	cb         *gobreaker.CircuitBreaker
}

// NewService returns a webhook pubsub persisting subscriptions in the
// given store. Notifications are POSTed in parallel to every endpoint
// subscribed for the topic.
func NewService(db *badgerhold.Store) (ports.SecurePubSub, error) {
	if db == nil {
		return nil, fmt.Errorf("missing subscription store")
	}

	return &service{
		store:      store{db},
		httpClient: newHTTPClient(defaultRequestTimeout),
		cb:         circuitbreaker.NewCircuitBreaker("webhooks"),
	}, nil
}

func (ws *service) Subscribe(topic, endpoint, secret string) (string, error) {
	sub, err := NewSubscription(topic, endpoint, secret)
	if err != nil {
		return "", err
	}
	if err := ws.store.add(*sub); err != nil {
		return "", err
	}
	return sub.ID, nil
}

func (ws *service) Unsubscribe(_, id string) error {
	return ws.store.remove(id)
}

func (ws *service) ListSubscriptionsForTopic(topic string) []ports.Subscription {
	subs, err := ws.listSubscriptionsForTopic(topic)
	if err != nil {
		log.WithError(err).Warn("failed to list webhooks")
		return nil
	}
	return subs.toPortable()
}

func (ws *service) Publish(topic string, message string) error {
	subs, err := ws.listSubscriptionsForTopic(topic)
	if err != nil {
		return err
	}

	eg := &errgroup.Group{}
	for i := range subs {
		sub := subs[i]
		eg.Go(func() error { return ws.doRequest(sub, topic, message) })
	}
	return eg.Wait()
}

func (ws *service) Close() error {
	return ws.store.close()
}

func (ws *service) listSubscriptionsForTopic(topic string) (subscriptions, error) {
	if topic == ports.UnspecifiedTopic {
		return ws.store.all()
	}

	subs, err := ws.store.byTopic(topic)
	if err != nil {
		return nil, err
	}
	if topic != ports.AnyTopic {
		subsForAnyTopic, err := ws.store.byTopic(ports.AnyTopic)
		if err != nil {
			return nil, err
		}
		subs = append(subs, subsForAnyTopic...)
	}
	return subs, nil
}

// doRequest POSTs the event to the subscriber. Secured subscriptions carry
// an HS256 bearer token bound to the subscription and its topic.
func (ws *service) doRequest(sub Subscription, topic, payload string) error {
	headers := map[string]string{
		"Content-Type":   "application/json",
		eventTopicHeader: topic,
	}
	if sub.IsSecured() {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
			Id:       sub.ID,
			Subject:  topic,
			IssuedAt: time.Now().Unix(),
		})
		signed, err := token.SignedString([]byte(sub.Secret))
		if err != nil {
			return fmt.Errorf("failed to sign webhook token: %w", err)
		}
		headers["Authorization"] = fmt.Sprintf("Bearer %s", signed)
	}

	_, err := ws.cb.Execute(func() (interface{}, error) {
		status, resp, err := ws.httpClient.post(sub.Endpoint, payload, headers)
		if err != nil {
			return nil, err
		}
		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			return nil, fmt.Errorf("webhook %s returned %d: %s", sub.ID, status, resp)
		}
		return nil, nil
	})
	if err != nil {
		log.WithError(err).WithField("webhook", sub.ID).Debug("trade event not delivered")
	}
	return err
}
