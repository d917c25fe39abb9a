package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	// the browser client reads prices as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true
}

// Item is a line of an order. Name, Image and Price are snapshots taken when
// the order is created and are never re-read from the product record.
type Item struct {
	ProductID string          `json:"product"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	Qty       int             `json:"qty"`
	Price     decimal.Decimal `json:"price"`
}

func (it Item) Subtotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Qty)))
}

type ShippingAddress struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

func (a ShippingAddress) IsZero() bool {
	return a == ShippingAddress{}
}

// PaymentInfo is what the processor reported for the captured payment.
type PaymentInfo struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"` // smallest currency unit
	Currency string `json:"currency"`
	Method   string `json:"method,omitempty"`
}

type Order struct {
	ID              string          `json:"_id"`
	UserID          string          `json:"user"`
	Items           []Item          `json:"orderItems"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	IsPaid          bool            `json:"isPaid"`
	Status          Status          `json:"status"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	PaymentInfo     *PaymentInfo    `json:"paymentInfo,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID  string
	IsAdmin bool
}

func (a Actor) CanSee(o *Order) bool {
	return a.IsAdmin || o.UserID == a.UserID
}

// SumItems returns sum(qty * price) over the items.
func SumItems(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

func NewOrder(userID string, items []Item, addr ShippingAddress, now time.Time) *Order {
	snap := make([]Item, len(items))
	copy(snap, items)
	return &Order{
		ID:              uuid.NewString(),
		UserID:          userID,
		Items:           snap,
		TotalPrice:      SumItems(snap),
		ShippingAddress: addr,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// MarkResult tells what a paid-transition attempt did to the stored order.
type MarkResult int

const (
	// MarkUnchanged: the order was already paid and nothing was written.
	MarkUnchanged MarkResult = iota
	// MarkTransitioned: the order moved from Pending to Paid.
	MarkTransitioned
	// MarkAttached: already paid without processor metadata; metadata was attached.
	MarkAttached
)

func (r MarkResult) String() string {
	switch r {
	case MarkTransitioned:
		return "transitioned"
	case MarkAttached:
		return "attached"
	default:
		return "unchanged"
	}
}
