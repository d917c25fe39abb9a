package orders

import (
	"context"
	"time"
)

// Store persists orders. MarkPaid must be a conditional update on the stored
// record (set paid fields only while unpaid), never a read followed by a write.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)
	MarkPaid(ctx context.Context, id string, paidAt time.Time, info *PaymentInfo) (*Order, MarkResult, error)
}

// Processor event types the coordinator acts on.
const (
	PaymentSucceeded = "payment_intent.succeeded"
	PaymentFailed    = "payment_intent.payment_failed"
)

type IntentRequest struct {
	OrderID        string
	Amount         int64
	Currency       string
	IdempotencyKey string
}

type Intent struct {
	ID           string
	ClientSecret string
}

// PaymentEvent is a verified processor webhook event.
type PaymentEvent struct {
	ID      string
	Type    string
	OrderID string
	Info    PaymentInfo
}

type Processor interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error)
	VerifyWebhook(payload []byte, signature string) (PaymentEvent, error)
}

// Publisher is fire-and-forget, like the kafka producer behind it.
type Publisher interface {
	PublishEvent(topic string, env Envelope)
}

type Deduper interface {
	Seen(ctx context.Context, eventID string) bool
	Remember(ctx context.Context, eventID string)
}

type Cache interface {
	GetOrder(ctx context.Context, id string) (*Order, bool)
	PutOrder(ctx context.Context, o *Order)
	Invalidate(ctx context.Context, id string)
}
