package httpx

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/ariefcatur/storefront-orders/internal/auth"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/payment"
	"github.com/go-chi/chi/v5"
)

// maxWebhookBody matches what the processor documents for event payloads.
const maxWebhookBody = 64 << 10

type CreateIntentReq struct {
	Amount   json.RawMessage `json:"amount"`
	Currency string          `json:"currency"`
	OrderID  string          `json:"orderId"`
}

type CreateIntentResp struct {
	ClientSecret string `json:"clientSecret"`
}

type PaymentsHandler struct {
	Orders  *orders.Coordinator
	Limiter *RateLimiter
	Log     *slog.Logger
}

// Register mounts the payment routes. The webhook route has no auth: the
// signature over the raw body is its credential.
func (h *PaymentsHandler) Register(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Route("/payments", func(r chi.Router) {
		intent := r.With(authn)
		if h.Limiter != nil {
			intent = intent.With(h.Limiter.Middleware)
		}
		intent.Post("/create-payment-intent", h.createIntent)
		r.Post("/webhook", h.webhook)
	})
}

func (h *PaymentsHandler) createIntent(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())

	var req CreateIntentReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "Invalid json")
		return
	}
	if len(req.Amount) == 0 || string(req.Amount) == "null" || req.OrderID == "" {
		writeMessage(w, r, http.StatusBadRequest, "Amount and orderId are required")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	secret, err := h.Orders.CreatePaymentIntent(r.Context(), actor, req.OrderID, amount, req.Currency)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, CreateIntentResp{ClientSecret: secret})
}

// parseAmount accepts a JSON number or a numeric string. Non-numeric input
// becomes NaN so the coordinator rejects it as an invalid amount.
func parseAmount(raw json.RawMessage) (float64, error) {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: %s", orders.ErrInvalidAmount, raw)
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN(), nil
	}
	return f, nil
}

func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, "Webhook Error: unreadable body")
		return
	}

	err = h.Orders.HandleWebhook(r.Context(), payload, r.Header.Get(payment.SignatureHeader))
	if err != nil {
		// bad signatures get a 400; storage failures a 500 so the processor redelivers
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]bool{"received": true})
}
