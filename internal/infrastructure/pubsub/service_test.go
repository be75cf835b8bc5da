package pubsub_test

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	pubsub "github.com/tdex-network/tdex-escrow/internal/infrastructure/pubsub"
	dbbadger "github.com/tdex-network/tdex-escrow/internal/infrastructure/storage/db/badger"
)

const (
	tradeCompletedTopic = "TRADE_COMPLETED"
	testMessage         = `{"tradeId":"d1c6e0f6","phase":"COMPLETED","state":"TRADE_COMPLETED"}`
)

func TestPubSubService(t *testing.T) {
	server, received := newTestWebServer(t)
	pubsubSvc := newTestService(t)

	tradeEndpoint := fmt.Sprintf("%s/trades", server.URL)
	allEventsEndpoint := fmt.Sprintf("%s/allevents", server.URL)

	testSubs := []struct {
		topic    string
		endpoint string
		secret   string
	}{
		{tradeCompletedTopic, tradeEndpoint, randomSecret()},
		{tradeCompletedTopic, tradeEndpoint, randomSecret()},
		{tradeCompletedTopic, tradeEndpoint, ""},
		{ports.AnyTopic, allEventsEndpoint, ""},
	}
	for _, sub := range testSubs {
		subID, err := pubsubSvc.Subscribe(sub.topic, sub.endpoint, sub.secret)
		require.NoError(t, err)
		require.NotEmpty(t, subID)
	}

	subs := pubsubSvc.ListSubscriptionsForTopic(tradeCompletedTopic)
	require.Len(t, subs, len(testSubs))
	secured := 0
	for _, sub := range subs {
		require.NotEmpty(t, sub.Id())
		if sub.IsSecured() {
			secured++
		}
	}
	require.Equal(t, 2, secured)
	require.Len(t, pubsubSvc.ListSubscriptionsForTopic(ports.UnspecifiedTopic), len(testSubs))
	require.Len(t, pubsubSvc.ListSubscriptionsForTopic(ports.AnyTopic), 1)

	// Should invoke all hooks.
	err := pubsubSvc.Publish(tradeCompletedTopic, testMessage)
	require.NoError(t, err)
	require.Equal(t, len(testSubs), received.count())
	require.Equal(t, 2, received.withToken())

	for i, s := range subs {
		err := pubsubSvc.Unsubscribe(s.Topic(), s.Id())
		require.NoError(t, err)

		subs := pubsubSvc.ListSubscriptionsForTopic(tradeCompletedTopic)
		require.Len(t, subs, len(testSubs)-1-i)
	}

	err = pubsubSvc.Unsubscribe(tradeCompletedTopic, "unknown")
	require.True(t, errors.Is(err, pubsub.ErrSubscriptionNotFound))

	// Checks that it's all ok if there are no hooks to invoke.
	err = pubsubSvc.Publish(tradeCompletedTopic, testMessage)
	require.NoError(t, err)
	require.Equal(t, len(testSubs), received.count())
}

func TestPubSubFailingEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)
	pubsubSvc := newTestService(t)

	_, err := pubsubSvc.Subscribe(tradeCompletedTopic, server.URL, "")
	require.NoError(t, err)

	err = pubsubSvc.Publish(tradeCompletedTopic, testMessage)
	require.Error(t, err)
}

func TestNewSubscription(t *testing.T) {
	t.Parallel()

	_, err := pubsub.NewSubscription("", "http://localhost", "")
	require.Error(t, err)
	_, err = pubsub.NewSubscription(tradeCompletedTopic, "not an url", "")
	require.Error(t, err)
	_, err = pubsub.NewSubscription(tradeCompletedTopic, "ftp://localhost/hook", "")
	require.Error(t, err)

	sub, err := pubsub.NewSubscription(tradeCompletedTopic, "http://localhost", "secret")
	require.NoError(t, err)
	require.NotEmpty(t, sub.ID)
	require.NotZero(t, sub.CreatedAt)
	require.Equal(t, tradeCompletedTopic, sub.Topic())
	require.True(t, sub.IsSecured())
}

func newTestService(t *testing.T) ports.SecurePubSub {
	store, err := dbbadger.NewStore("", nil)
	require.NoError(t, err)
	svc, err := pubsub.NewService(store)
	require.NoError(t, err)
	t.Cleanup(func() {
		//nolint
		svc.Close()
	})
	return svc
}

type requests struct {
	lock   sync.Mutex
	total  int
	tokens int
}

func (r *requests) count() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.total
}

func (r *requests) withToken() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.tokens
}

func newTestWebServer(t *testing.T) (*httptest.Server, *requests) {
	received := &requests{}
	handleFn := func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Bad method", http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Content-Type") == "" {
			http.Error(w, "Missing Content-Type header", http.StatusUnsupportedMediaType)
			return
		}
		event := r.Header.Get("X-Escrow-Event")
		if event == "" {
			http.Error(w, "Missing event header", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()
		payload, _ := io.ReadAll(r.Body)
		if string(payload) != testMessage {
			http.Error(w, "Unexpected payload", http.StatusBadRequest)
			return
		}

		received.lock.Lock()
		defer received.lock.Unlock()
		received.total++
		if auth := r.Header.Get("Authorization"); auth != "" {
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			claims := jwt.MapClaims{}
			token, _, err := new(jwt.Parser).ParseUnverified(tokenString, claims)
			if err != nil || token.Method != jwt.SigningMethodHS256 ||
				claims["sub"] != event {
				http.Error(w, "Bad token", http.StatusUnauthorized)
				return
			}
			received.tokens++
		}
		fmt.Fprintf(w, "Done")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/trades", handleFn)
	mux.HandleFunc("/allevents", handleFn)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, received
}

func randomSecret() string {
	b := make([]byte, 32)
	//nolint
	rand.Read(b)
	return hex.EncodeToString(b)
}
