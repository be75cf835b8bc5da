package httpinterface_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tdex-network/tdex-escrow/internal/core/application/protocol"
	"github.com/tdex-network/tdex-escrow/internal/core/application/pubsub"
	"github.com/tdex-network/tdex-escrow/internal/core/application/trade"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	httpinterface "github.com/tdex-network/tdex-escrow/internal/interfaces/http"
)

type mockTradeService struct {
	mock.Mock
}

func (m *mockTradeService) PlaceOffer(
	ctx context.Context, offer domain.Offer, account domain.PaymentAccountPayload,
) (domain.Offer, error) {
	args := m.Called(ctx, offer, account)
	return args.Get(0).(domain.Offer), args.Error(1)
}

func (m *mockTradeService) ListOffers(ctx context.Context) []domain.Offer {
	return m.Called(ctx).Get(0).([]domain.Offer)
}

func (m *mockTradeService) RemoveOffer(ctx context.Context, offerID string) error {
	return m.Called(ctx, offerID).Error(0)
}

func (m *mockTradeService) TakeOffer(
	ctx context.Context, offer domain.Offer, amount uint64,
	account domain.PaymentAccountPayload,
) (*domain.Trade, error) {
	args := m.Called(ctx, offer, amount, account)
	return tradeArg(args, 0), args.Error(1)
}

func (m *mockTradeService) ConfirmPaymentSent(
	ctx context.Context, tradeID string,
) (*domain.Trade, error) {
	args := m.Called(ctx, tradeID)
	return tradeArg(args, 0), args.Error(1)
}

func (m *mockTradeService) ConfirmPaymentReceived(
	ctx context.Context, tradeID string,
) (*domain.Trade, error) {
	args := m.Called(ctx, tradeID)
	return tradeArg(args, 0), args.Error(1)
}

func (m *mockTradeService) GetTrade(
	ctx context.Context, tradeID string,
) (*domain.Trade, error) {
	args := m.Called(ctx, tradeID)
	return tradeArg(args, 0), args.Error(1)
}

func (m *mockTradeService) ListTrades(
	ctx context.Context, openOnly bool,
) ([]*domain.Trade, error) {
	args := m.Called(ctx, openOnly)
	var trades []*domain.Trade
	if v := args.Get(0); v != nil {
		trades = v.([]*domain.Trade)
	}
	return trades, args.Error(1)
}

func tradeArg(args mock.Arguments, i int) *domain.Trade {
	if v := args.Get(i); v != nil {
		return v.(*domain.Trade)
	}
	return nil
}

type mockWebhookService struct {
	mock.Mock
}

func (m *mockWebhookService) AddWebhook(
	ctx context.Context, webhook pubsub.Webhook,
) (string, error) {
	args := m.Called(ctx, webhook)
	return args.String(0), args.Error(1)
}

func (m *mockWebhookService) RemoveWebhook(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockWebhookService) ListWebhooks(
	ctx context.Context, event string,
) []pubsub.WebhookInfo {
	return m.Called(ctx, event).Get(0).([]pubsub.WebhookInfo)
}

func newTestTrade() *domain.Trade {
	account := &domain.PaymentAccountPayload{
		ID:              "acc",
		PaymentMethodID: "SEPA",
		Data:            map[string]string{"iban": "DE89370400440532013000"},
	}
	return &domain.Trade{
		ID:     "trade-1",
		Role:   domain.RoleBuyerAsTaker,
		Amount: 5e11,
		Price:  decimal.NewFromFloat(31250.5),
		Offer: domain.Offer{
			ID:              "offer-1",
			Direction:       domain.OfferSell,
			Price:           decimal.NewFromFloat(31250.5),
			CurrencyCode:    "EUR",
			PaymentMethodID: "SEPA",
		},
		Phase: domain.PhaseDepositsUnlocked,
		State: domain.StateDepositTxsUnlockedInBlockchain,
		Taker: domain.Peer{
			NodeAddress:           "taker",
			PaymentAccountPayload: account,
			PaymentAccountKey:     []byte("secret-key"),
			DepositTx:             domain.TxRef{Hash: "txid", Hex: "deadbeef"},
		},
	}
}

func TestTradeRoutes(t *testing.T) {
	tradeSvc := &mockTradeService{}
	webhookSvc := &mockWebhookService{}
	methods, err := domain.NewPaymentMethods(domain.DefaultPaymentMethods)
	require.NoError(t, err)
	handler := httpinterface.NewHandler(tradeSvc, webhookSvc, methods)

	tr := newTestTrade()
	tradeSvc.On("GetTrade", mock.Anything, "trade-1").Return(tr, nil)
	tradeSvc.On("GetTrade", mock.Anything, "missing").
		Return(nil, fmt.Errorf("%w: missing", domain.ErrTradeNotFound))
	tradeSvc.On("ListTrades", mock.Anything, true).
		Return([]*domain.Trade{tr}, nil)
	tradeSvc.On("ConfirmPaymentSent", mock.Anything, "trade-1").
		Return(tr, nil)
	tradeSvc.On("ConfirmPaymentReceived", mock.Anything, "trade-1").
		Return(tr, fmt.Errorf("%w: not the seller", protocol.ErrPreconditionFailed))

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"get trade", http.MethodGet, "/v1/trades/trade-1", http.StatusOK},
		{"get missing trade", http.MethodGet, "/v1/trades/missing", http.StatusNotFound},
		{"list open trades", http.MethodGet, "/v1/trades?open=true", http.StatusOK},
		{"invalid open filter", http.MethodGet, "/v1/trades?open=maybe", http.StatusBadRequest},
		{"payment sent", http.MethodPost, "/v1/trades/trade-1/payment-sent", http.StatusOK},
		{"payment received", http.MethodPost, "/v1/trades/trade-1/payment-received", http.StatusConflict},
		{"payment methods", http.MethodGet, "/v1/payment-methods", http.StatusOK},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, tt.path, nil)
			handler.ServeHTTP(rec, req)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestTradeViewHidesAccountData(t *testing.T) {
	tradeSvc := &mockTradeService{}
	methods, err := domain.NewPaymentMethods(domain.DefaultPaymentMethods)
	require.NoError(t, err)
	handler := httpinterface.NewHandler(tradeSvc, &mockWebhookService{}, methods)

	tradeSvc.On("GetTrade", mock.Anything, "trade-1").Return(newTestTrade(), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/trades/trade-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	require.NotContains(t, body, "DE89370400440532013000")
	require.NotContains(t, body, "deadbeef")

	var res map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, "BUYER_AS_TAKER", res["role"])
	require.Equal(t, "DEPOSITS_UNLOCKED", res["phase"])
	require.Equal(t, "txid", res["taker"].(map[string]interface{})["deposit_txid"])
}

func TestOfferRoutes(t *testing.T) {
	tradeSvc := &mockTradeService{}
	methods, err := domain.NewPaymentMethods(domain.DefaultPaymentMethods)
	require.NoError(t, err)
	handler := httpinterface.NewHandler(tradeSvc, &mockWebhookService{}, methods)

	placed := domain.Offer{
		ID:                    "offer-1",
		Direction:             domain.OfferSell,
		Price:                 decimal.NewFromInt(30000),
		MinAmount:             1e10,
		MaxAmount:             1e12,
		CurrencyCode:          "EUR",
		PaymentMethodID:       "SEPA",
		MakerNodeAddress:      "maker",
		ArbitratorNodeAddress: "arbitrator",
	}
	tradeSvc.On("PlaceOffer", mock.Anything, mock.MatchedBy(func(o domain.Offer) bool {
		return o.Direction == domain.OfferSell && o.MaxAmount == 1e12
	}), mock.MatchedBy(func(a domain.PaymentAccountPayload) bool {
		return a.ID == "acc" && a.Data["iban"] == "DE89"
	})).Return(placed, nil)
	tradeSvc.On("ListOffers", mock.Anything).Return([]domain.Offer{placed})
	tradeSvc.On("RemoveOffer", mock.Anything, "offer-1").Return(nil)
	tradeSvc.On("RemoveOffer", mock.Anything, "missing").
		Return(fmt.Errorf("%w: missing", trade.ErrOfferNotFound))
	tradeSvc.On("TakeOffer", mock.Anything, mock.Anything, uint64(5e11), mock.Anything).
		Return(nil, trade.ErrServiceNotStarted)

	body := `{
		"offer": {
			"direction": "sell",
			"price": "30000",
			"min_amount": 10000000000,
			"max_amount": 1000000000000,
			"currency_code": "EUR",
			"payment_method_id": "SEPA",
			"buyer_security_deposit_pct": "0.15",
			"seller_security_deposit_pct": "0.15",
			"arbitrator_node_address": "arbitrator"
		},
		"account": {"id": "acc", "payment_method_id": "SEPA", "data": {"iban": "DE89"}}
	}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(
		http.MethodPost, "/v1/offers", bytes.NewBufferString(body),
	))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/offers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"id":"offer-1"`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(
		http.MethodPost, "/v1/offers", bytes.NewBufferString(`{"offer":{"direction":"hold"}}`),
	))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/offers/offer-1", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/offers/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	take := `{"offer": {"direction": "SELL"}, "amount": 500000000000,
		"account": {"id": "acc", "payment_method_id": "SEPA"}}`
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(
		http.MethodPost, "/v1/offers/take", bytes.NewBufferString(take),
	))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhookRoutes(t *testing.T) {
	webhookSvc := &mockWebhookService{}
	methods, err := domain.NewPaymentMethods(domain.DefaultPaymentMethods)
	require.NoError(t, err)
	handler := httpinterface.NewHandler(&mockTradeService{}, webhookSvc, methods)

	hook := pubsub.Webhook{
		Event: pubsub.EventTradeCompleted, Endpoint: "http://127.0.0.1/hook",
	}
	webhookSvc.On("AddWebhook", mock.Anything, hook).Return("hook-1", nil)
	webhookSvc.On("AddWebhook", mock.Anything, mock.Anything).
		Return("", pubsub.ErrUnknownEvent)
	webhookSvc.On("ListWebhooks", mock.Anything, "").Return([]pubsub.WebhookInfo{
		{ID: "hook-1", Event: hook.Event, Endpoint: hook.Endpoint},
	})
	webhookSvc.On("RemoveWebhook", mock.Anything, "hook-1").Return(nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/webhooks",
		bytes.NewBufferString(`{"event":"TRADE_COMPLETED","endpoint":"http://127.0.0.1/hook"}`),
	))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), "hook-1")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/webhooks",
		bytes.NewBufferString(`{"event":"TRADE_SETTLED","endpoint":"http://127.0.0.1/hook"}`),
	))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/webhooks",
		bytes.NewBufferString(`{"event":"TRADE_COMPLETED"}`),
	))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/webhooks", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "hook-1")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/webhooks/hook-1", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServiceOpts(t *testing.T) {
	methods, err := domain.NewPaymentMethods(domain.DefaultPaymentMethods)
	require.NoError(t, err)
	node := httpinterface.Node{
		Name: "maker", TradeSvc: &mockTradeService{}, WebhookSvc: &mockWebhookService{},
	}

	tests := []struct {
		name string
		opts httpinterface.ServiceOpts
	}{
		{
			name: "missing address",
			opts: httpinterface.ServiceOpts{PaymentMethods: methods, Nodes: []httpinterface.Node{node}},
		},
		{
			name: "missing nodes",
			opts: httpinterface.ServiceOpts{Address: ":0", PaymentMethods: methods},
		},
		{
			name: "duplicated node",
			opts: httpinterface.ServiceOpts{
				Address: ":0", PaymentMethods: methods, Nodes: []httpinterface.Node{node, node},
			},
		},
		{
			name: "missing services",
			opts: httpinterface.ServiceOpts{
				Address: ":0", PaymentMethods: methods,
				Nodes: []httpinterface.Node{{Name: "taker"}},
			},
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := httpinterface.NewService(tt.opts)
			require.Error(t, err)
		})
	}

	svc, err := httpinterface.NewService(httpinterface.ServiceOpts{
		Address: "127.0.0.1:0", PaymentMethods: methods,
		Nodes: []httpinterface.Node{node}, WithMetrics: true,
	})
	require.NoError(t, err)
	require.Empty(t, svc.Address())
	require.NoError(t, svc.Start())
	defer svc.Stop()

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", svc.Address()))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
