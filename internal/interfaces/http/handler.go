package httpinterface

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/tdex-network/tdex-escrow/internal/core/application/protocol"
	"github.com/tdex-network/tdex-escrow/internal/core/application/pubsub"
	"github.com/tdex-network/tdex-escrow/internal/core/application/trade"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

const maxBodySize = 1 << 20

// TradeService is the subset of the trade manager exposed to operators.
type TradeService interface {
	PlaceOffer(
		ctx context.Context, offer domain.Offer, account domain.PaymentAccountPayload,
	) (domain.Offer, error)
	ListOffers(ctx context.Context) []domain.Offer
	RemoveOffer(ctx context.Context, offerID string) error
	TakeOffer(
		ctx context.Context, offer domain.Offer, amount uint64,
		account domain.PaymentAccountPayload,
	) (*domain.Trade, error)
	ConfirmPaymentSent(ctx context.Context, tradeID string) (*domain.Trade, error)
	ConfirmPaymentReceived(ctx context.Context, tradeID string) (*domain.Trade, error)
	GetTrade(ctx context.Context, tradeID string) (*domain.Trade, error)
	ListTrades(ctx context.Context, openOnly bool) ([]*domain.Trade, error)
}

// WebhookService manages the webhooks notified of trade events.
type WebhookService interface {
	AddWebhook(ctx context.Context, webhook pubsub.Webhook) (string, error)
	RemoveWebhook(ctx context.Context, id string) error
	ListWebhooks(ctx context.Context, event string) []pubsub.WebhookInfo
}

type handler struct {
	tradeSvc       TradeService
	webhookSvc     WebhookService
	paymentMethods *domain.PaymentMethods
}

// NewHandler returns the operator REST API of a node.
func NewHandler(
	tradeSvc TradeService, webhookSvc WebhookService,
	paymentMethods *domain.PaymentMethods,
) http.Handler {
	h := &handler{tradeSvc, webhookSvc, paymentMethods}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Route("/v1", func(api chi.Router) {
		api.Get("/payment-methods", h.listPaymentMethods)

		api.Route("/offers", func(r chi.Router) {
			r.Get("/", h.listOffers)
			r.Post("/", h.placeOffer)
			r.Post("/take", h.takeOffer)
			r.Delete("/{id}", h.removeOffer)
		})

		api.Route("/trades", func(r chi.Router) {
			r.Get("/", h.listTrades)
			r.Get("/{id}", h.getTrade)
			r.Post("/{id}/payment-sent", h.confirmPaymentSent)
			r.Post("/{id}/payment-received", h.confirmPaymentReceived)
		})

		api.Route("/webhooks", func(r chi.Router) {
			r.Get("/", h.listWebhooks)
			r.Post("/", h.addWebhook)
			r.Delete("/{id}", h.removeWebhook)
		})
	})
	return r
}

func (h *handler) listPaymentMethods(w http.ResponseWriter, _ *http.Request) {
	methods := h.paymentMethods.List()
	res := make([]paymentMethodJSON, 0, len(methods))
	for _, m := range methods {
		res = append(res, paymentMethodJSON{
			ID:             m.ID,
			Name:           m.Name,
			Crypto:         m.Crypto,
			MaxTradeAmount: m.MaxTradeAmount,
			MaxTradePeriod: m.MaxTradePeriod.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"payment_methods": res})
}

func (h *handler) listOffers(w http.ResponseWriter, r *http.Request) {
	offers := h.tradeSvc.ListOffers(r.Context())
	res := make([]offerJSON, 0, len(offers))
	for _, o := range offers {
		res = append(res, newOfferJSON(o))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"offers": res})
}

func (h *handler) placeOffer(w http.ResponseWriter, r *http.Request) {
	var req placeOfferRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	offer, err := req.Offer.toDomain()
	if err != nil {
		writeError(w, domain.NewInvalidArgumentError("%s", err))
		return
	}
	account, err := req.Account.toDomain()
	if err != nil {
		writeError(w, domain.NewInvalidArgumentError("%s", err))
		return
	}

	placed, err := h.tradeSvc.PlaceOffer(r.Context(), offer, account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOfferJSON(placed))
}

func (h *handler) takeOffer(w http.ResponseWriter, r *http.Request) {
	var req takeOfferRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	offer, err := req.Offer.toDomain()
	if err != nil {
		writeError(w, domain.NewInvalidArgumentError("%s", err))
		return
	}
	account, err := req.Account.toDomain()
	if err != nil {
		writeError(w, domain.NewInvalidArgumentError("%s", err))
		return
	}

	t, err := h.tradeSvc.TakeOffer(r.Context(), offer, req.Amount, account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTradeJSON(t))
}

func (h *handler) removeOffer(w http.ResponseWriter, r *http.Request) {
	if err := h.tradeSvc.RemoveOffer(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listTrades(w http.ResponseWriter, r *http.Request) {
	openOnly := false
	if v := r.URL.Query().Get("open"); v != "" {
		var err error
		if openOnly, err = strconv.ParseBool(v); err != nil {
			writeError(w, domain.NewInvalidArgumentError("invalid open filter %q", v))
			return
		}
	}

	trades, err := h.tradeSvc.ListTrades(r.Context(), openOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	res := make([]tradeJSON, 0, len(trades))
	for _, t := range trades {
		res = append(res, newTradeJSON(t))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": res})
}

func (h *handler) getTrade(w http.ResponseWriter, r *http.Request) {
	t, err := h.tradeSvc.GetTrade(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTradeJSON(t))
}

func (h *handler) confirmPaymentSent(w http.ResponseWriter, r *http.Request) {
	t, err := h.tradeSvc.ConfirmPaymentSent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTradeJSON(t))
}

func (h *handler) confirmPaymentReceived(w http.ResponseWriter, r *http.Request) {
	t, err := h.tradeSvc.ConfirmPaymentReceived(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTradeJSON(t))
}

func (h *handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks := h.webhookSvc.ListWebhooks(r.Context(), r.URL.Query().Get("event"))
	if hooks == nil {
		hooks = []pubsub.WebhookInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"webhooks": hooks})
}

func (h *handler) addWebhook(w http.ResponseWriter, r *http.Request) {
	var req pubsub.Webhook
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Endpoint == "" {
		writeError(w, domain.NewInvalidArgumentError("missing endpoint"))
		return
	}

	id, err := h.webhookSvc.AddWebhook(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *handler) removeWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.webhookSvc.RemoveWebhook(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.NewInvalidArgumentError("malformed body: %s", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFromError(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFromError(err error) int {
	switch {
	case domain.IsInvalidArgument(err),
		errors.Is(err, domain.ErrUnknownPaymentMethod),
		errors.Is(err, domain.ErrInvalidTradeAmount),
		errors.Is(err, pubsub.ErrUnknownEvent):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTradeNotFound),
		errors.Is(err, trade.ErrOfferNotFound):
		return http.StatusNotFound
	case errors.Is(err, protocol.ErrPreconditionFailed),
		errors.Is(err, protocol.ErrUnsupportedOperation),
		errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrTradeFailed),
		errors.Is(err, domain.ErrTradeAlreadyExists),
		errors.Is(err, trade.ErrNotTradeParty):
		return http.StatusConflict
	case errors.Is(err, trade.ErrServiceNotStarted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
