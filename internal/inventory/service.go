package inventory

import (
	"context"
	"fmt"
	"log/slog"

	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
)

// Ledger is the stock side of a paid order.
type Ledger interface {
	Applied(ctx context.Context, orderID string, items []orders.ItemQty) (bool, error)
	DecrementForOrder(ctx context.Context, orderID string, items []orders.ItemQty) ([]orders.Shortfall, []string, error)
}

// Service takes stock for orders once their payment is confirmed.
type Service struct {
	Ledger Ledger
	Dedup  orders.Deduper // optional
	Log    *slog.Logger
}

// HandleOrderPaid is installed as the consumer handler for order.paid.
func (s *Service) HandleOrderPaid(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		s.Log.Error("drop undecodable message", "offset", m.Offset, "err", err)
		return nil
	}
	if env.EventType != orders.EventOrderPaid {
		return nil
	}
	if s.Dedup != nil && s.Dedup.Seen(ctx, env.EventID) {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderPaidPayload](env.Payload)
	if err != nil {
		s.Log.Error("drop undecodable payload", "event_id", env.EventID, "err", err)
		return nil
	}
	lg := s.Log.With("order_id", p.OrderID, "event_id", env.EventID)

	// short-circuit a replay of an order we already took stock for
	done, err := s.Ledger.Applied(ctx, p.OrderID, p.Items)
	if err != nil {
		return fmt.Errorf("check ledger: %w", err)
	}
	if !done {
		short, missing, err := s.Ledger.DecrementForOrder(ctx, p.OrderID, p.Items)
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		for _, sf := range short {
			lg.Warn("paid order oversold product", "product_id", sf.ProductID,
				"required", sf.Required, "available", sf.Available)
		}
		if len(missing) > 0 {
			lg.Warn("paid order references unknown products", "products", missing)
		}
		lg.Info("stock taken for paid order", "items", len(p.Items), "source", p.Source)
	}

	if s.Dedup != nil {
		s.Dedup.Remember(ctx, env.EventID)
	}
	return nil
}
