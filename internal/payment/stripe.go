// Package payment talks to Stripe: it creates payment intents and verifies
// webhook deliveries against the endpoint signing secret.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

// MetadataOrderID is the intent metadata key that correlates an intent with an order.
const MetadataOrderID = "orderId"

// SignatureHeader is the request header carrying the webhook signature.
const SignatureHeader = "Stripe-Signature"

var ErrMissingSignature = errors.New("missing signature header")

type Stripe struct {
	api           *client.API
	webhookSecret string
	log           *slog.Logger
}

func NewStripe(secretKey, webhookSecret string, log *slog.Logger) *Stripe {
	return &Stripe{api: client.New(secretKey, nil), webhookSecret: webhookSecret, log: log}
}

func (s *Stripe) CreatePaymentIntent(ctx context.Context, req orders.IntentRequest) (orders.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(req.Currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	params.AddMetadata(MetadataOrderID, req.OrderID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return orders.Intent{}, err
	}
	return orders.Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (s *Stripe) VerifyWebhook(payload []byte, signature string) (orders.PaymentEvent, error) {
	return VerifyEvent(payload, signature, s.webhookSecret, s.log)
}

// VerifyEvent checks the signature over the raw body and decodes the event.
// Payment intent events carry the intent as their data object. Only signature
// problems are errors: an authentic event whose intent cannot be decoded comes
// back without an order id.
func VerifyEvent(payload []byte, signature, secret string, log *slog.Logger) (orders.PaymentEvent, error) {
	if strings.TrimSpace(signature) == "" {
		return orders.PaymentEvent{}, ErrMissingSignature
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return orders.PaymentEvent{}, err
	}

	out := orders.PaymentEvent{ID: ev.ID, Type: string(ev.Type)}
	if !strings.HasPrefix(out.Type, "payment_intent.") || ev.Data == nil {
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		if log == nil {
			log = slog.Default()
		}
		log.Error("decode payment intent", "event_id", out.ID, "event_type", out.Type, "err", err)
		return out, nil
	}
	out.OrderID = pi.Metadata[MetadataOrderID]
	out.Info = orders.PaymentInfo{
		ID:       pi.ID,
		Amount:   pi.AmountReceived,
		Currency: string(pi.Currency),
	}
	if pi.PaymentMethod != nil {
		out.Info.Method = pi.PaymentMethod.ID
	}
	return out, nil
}
