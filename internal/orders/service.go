package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// maxIntentAmount caps intents at 10^12 minor units; larger values are input errors.
const maxIntentAmount = 1e12

// minorDigits is the number of decimals of the currency's minor unit.
const minorDigits = 2

// Coordinator owns the order lifecycle: creation, payment intents and the
// Pending -> Paid transition driven by the webhook and by the client.
// Events, Dedup and Cache are optional.
type Coordinator struct {
	Store    Store
	Payments Processor
	Events   Publisher
	Dedup    Deduper
	Cache    Cache
	Log      *slog.Logger
	Service  string
	Currency string
	Now      func() time.Time
}

type CreateOrderInput struct {
	Items           []Item
	ShippingAddress ShippingAddress
	// TotalPrice is what the client displayed; nil skips the check.
	TotalPrice *decimal.Decimal
}

type traceKey struct{}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *Coordinator) log() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

func storeErr(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

func (c *Coordinator) CreateOrder(ctx context.Context, actor Actor, in CreateOrderInput) (*Order, error) {
	if actor.UserID == "" {
		return nil, ErrAuth
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: no order items", ErrValidation)
	}
	for i, it := range in.Items {
		switch {
		case strings.TrimSpace(it.ProductID) == "":
			return nil, fmt.Errorf("%w: item %d: product is required", ErrValidation, i)
		case strings.TrimSpace(it.Name) == "":
			return nil, fmt.Errorf("%w: item %d: name is required", ErrValidation, i)
		case it.Qty <= 0:
			return nil, fmt.Errorf("%w: item %d: qty must be positive", ErrValidation, i)
		case it.Price.IsNegative():
			return nil, fmt.Errorf("%w: item %d: price must not be negative", ErrValidation, i)
		}
	}
	if in.ShippingAddress.IsZero() {
		return nil, fmt.Errorf("%w: shipping address is required", ErrValidation)
	}

	o := NewOrder(actor.UserID, in.Items, in.ShippingAddress, c.now())
	// browsers sum prices as floats; compare in minor units and keep the computed total
	if in.TotalPrice != nil && !in.TotalPrice.Round(minorDigits).Equal(o.TotalPrice.Round(minorDigits)) {
		return nil, fmt.Errorf("%w: totalPrice %s does not match items total %s",
			ErrValidation, in.TotalPrice, o.TotalPrice)
	}
	if err := c.Store.Create(ctx, o); err != nil {
		return nil, storeErr("create order", err)
	}

	c.log().Info("order created", "order_id", o.ID, "user_id", o.UserID, "total", o.TotalPrice.String())
	c.publish(ctx, TopicOrderCreated, EventOrderCreated, o.ID, OrderCreatedPayload{
		OrderID:    o.ID,
		UserID:     o.UserID,
		Items:      itemQtys(o.Items),
		TotalPrice: o.TotalPrice,
	})
	return o, nil
}

// CreatePaymentIntent asks the processor for an intent tagged with the order
// id and returns its client secret. amount is in the smallest currency unit
// and is rounded to an integer first. Retries for the same order, amount and
// currency reuse one idempotency key, so the processor returns the same intent.
func (c *Coordinator) CreatePaymentIntent(ctx context.Context, actor Actor, orderID string, amount float64, currency string) (string, error) {
	if strings.TrimSpace(orderID) == "" {
		return "", fmt.Errorf("%w: orderId is required", ErrValidation)
	}
	rounded := math.Round(amount)
	if math.IsNaN(amount) || math.IsInf(amount, 0) || rounded <= 0 || rounded > maxIntentAmount {
		return "", fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	minor := int64(rounded)

	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = c.Currency
	}
	if len(currency) != 3 {
		return "", fmt.Errorf("%w: currency %q", ErrValidation, currency)
	}

	o, err := c.Store.Get(ctx, orderID)
	if err != nil {
		return "", storeErr("get order", err)
	}
	if !actor.CanSee(o) {
		return "", ErrForbidden
	}
	if o.IsPaid {
		return "", fmt.Errorf("%w: order %s is already paid", ErrValidation, o.ID)
	}

	intent, err := c.Payments.CreatePaymentIntent(ctx, IntentRequest{
		OrderID:        o.ID,
		Amount:         minor,
		Currency:       currency,
		IdempotencyKey: fmt.Sprintf("order-%s-%d-%s", o.ID, minor, currency),
	})
	if err != nil {
		c.log().Error("create payment intent", "order_id", o.ID, "amount", minor, "err", err)
		return "", fmt.Errorf("%w: %w", ErrUpstreamPayment, err)
	}
	c.log().Info("payment intent created", "order_id", o.ID, "intent_id", intent.ID, "amount", minor, "currency", currency)
	return intent.ClientSecret, nil
}

// MarkPaid applies the paid transition shared by the webhook and the client
// path. Already paid orders are a successful no-op; paidAt is written once.
func (c *Coordinator) MarkPaid(ctx context.Context, orderID string, info *PaymentInfo, source string) (*Order, MarkResult, error) {
	o, res, err := c.Store.MarkPaid(ctx, orderID, c.now(), info)
	if err != nil {
		return nil, res, storeErr("mark paid", err)
	}
	if res != MarkUnchanged && c.Cache != nil {
		c.Cache.Invalidate(ctx, orderID)
	}
	c.log().Info("order paid transition", "order_id", orderID, "source", source, "result", res.String())

	if res == MarkTransitioned {
		c.publish(ctx, TopicOrderPaid, EventOrderPaid, o.ID, OrderPaidPayload{
			OrderID:     o.ID,
			UserID:      o.UserID,
			Items:       itemQtys(o.Items),
			PaidAt:      *o.PaidAt,
			Source:      source,
			PaymentInfo: o.PaymentInfo,
		})
	}
	return o, res, nil
}

// ConfirmPaid is the advisory client path: the browser reports success and
// asks for the order to be shown as paid.
func (c *Coordinator) ConfirmPaid(ctx context.Context, actor Actor, orderID, status string) (*Order, error) {
	st, ok := ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	if !CanTransition(StatusPending, st) {
		return nil, fmt.Errorf("%w: status can only move to %s", ErrValidation, StatusPaid)
	}
	o, err := c.Store.Get(ctx, orderID)
	if err != nil {
		return nil, storeErr("get order", err)
	}
	if !actor.CanSee(o) {
		return nil, ErrForbidden
	}
	o, _, err = c.MarkPaid(ctx, orderID, nil, SourceClient)
	return o, err
}

// HandleWebhook verifies and applies one processor event. Only a signature
// failure or a storage failure is returned; anything else is acknowledged so
// the processor does not redeliver an event that can never resolve.
func (c *Coordinator) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := c.Payments.VerifyWebhook(payload, signature)
	if err != nil {
		c.log().Warn("webhook signature verification failed", "err", err)
		return fmt.Errorf("%w: %w", ErrSignatureVerification, err)
	}
	lg := c.log().With("event_id", ev.ID, "event_type", ev.Type, "order_id", ev.OrderID)

	if c.Dedup != nil && c.Dedup.Seen(ctx, ev.ID) {
		lg.Info("webhook event already handled")
		return nil
	}

	switch ev.Type {
	case PaymentSucceeded:
		if ev.OrderID == "" {
			lg.Warn("payment succeeded without order metadata")
			break
		}
		info := ev.Info
		_, _, err := c.MarkPaid(ctx, ev.OrderID, &info, SourceWebhook)
		if errors.Is(err, ErrNotFound) {
			lg.Warn("payment succeeded for unknown order")
			break
		}
		if err != nil {
			lg.Error("apply payment", "err", err)
			return err
		}
	case PaymentFailed:
		lg.Info("payment failed; order stays pending")
	default:
		lg.Debug("webhook event ignored")
	}

	if c.Dedup != nil {
		c.Dedup.Remember(ctx, ev.ID)
	}
	return nil
}

func (c *Coordinator) ListMine(ctx context.Context, actor Actor) ([]Order, error) {
	if actor.UserID == "" {
		return nil, ErrAuth
	}
	out, err := c.Store.ListByUser(ctx, actor.UserID)
	if err != nil {
		return nil, storeErr("list orders", err)
	}
	return out, nil
}

func (c *Coordinator) ListAll(ctx context.Context, actor Actor) ([]Order, error) {
	if !actor.IsAdmin {
		return nil, ErrForbidden
	}
	out, err := c.Store.ListAll(ctx)
	if err != nil {
		return nil, storeErr("list orders", err)
	}
	return out, nil
}

func (c *Coordinator) GetOrder(ctx context.Context, actor Actor, id string) (*Order, error) {
	o, ok := (*Order)(nil), false
	if c.Cache != nil {
		o, ok = c.Cache.GetOrder(ctx, id)
	}
	if !ok {
		var err error
		if o, err = c.Store.Get(ctx, id); err != nil {
			return nil, storeErr("get order", err)
		}
		// only settled orders are cached; nothing can change them afterwards
		if c.Cache != nil && o.IsPaid && o.PaymentInfo != nil {
			c.Cache.PutOrder(ctx, o)
		}
	}
	if !actor.CanSee(o) {
		return nil, ErrForbidden
	}
	return o, nil
}

func (c *Coordinator) publish(ctx context.Context, topic, eventType, orderID string, payload any) {
	if c.Events == nil {
		return
	}
	env, err := NewEnvelope(eventType, c.Service, orderID, traceID(ctx), payload)
	if err != nil {
		c.log().Error("build event", "event_type", eventType, "order_id", orderID, "err", err)
		return
	}
	c.Events.PublishEvent(topic, env)
}
