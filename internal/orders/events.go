package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated = "OrderCreated"
	EventOrderPaid    = "OrderPaid"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType, producer, orderID, traceID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       b,
	}, nil
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// Shortfall records a paid order that took a product below zero stock.
type Shortfall struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

type OrderCreatedPayload struct {
	OrderID    string          `json:"order_id"`
	UserID     string          `json:"user_id"`
	Items      []ItemQty       `json:"items"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// Payment sources recorded on OrderPaid.
const (
	SourceWebhook = "webhook"
	SourceClient  = "client"
)

type OrderPaidPayload struct {
	OrderID     string       `json:"order_id"`
	UserID      string       `json:"user_id"`
	Items       []ItemQty    `json:"items"`
	PaidAt      time.Time    `json:"paid_at"`
	Source      string       `json:"source"`
	PaymentInfo *PaymentInfo `json:"payment_info,omitempty"`
}

func itemQtys(items []Item) []ItemQty {
	out := make([]ItemQty, 0, len(items))
	for _, it := range items {
		out = append(out, ItemQty{ProductID: it.ProductID, Qty: it.Qty})
	}
	return out
}
