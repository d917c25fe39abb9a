package postgres

import (
	"context"
	"errors"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type StockRepo struct{ DB *pgxpool.Pool }

// Applied reports whether every line of the order already has a stock movement.
func (r *StockRepo) Applied(ctx context.Context, orderID string, items []orders.ItemQty) (bool, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM stock_movements WHERE order_id = $1`, orderID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n >= len(merge(items)), nil
}

// DecrementForOrder takes stock for a paid order in one transaction. Each
// (order, product) pair is applied at most once; replays skip applied lines.
// The payment is already captured, so a shortfall is reported and the stock
// still goes down rather than rolling back. Unknown products are skipped.
func (r *StockRepo) DecrementForOrder(ctx context.Context, orderID string, items []orders.ItemQty) (short []orders.Shortfall, missing []string, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range merge(items) {
		ct, err := tx.Exec(ctx, `
			INSERT INTO stock_movements(order_id, product_id, qty)
			VALUES ($1, $2, $3)
			ON CONFLICT (order_id, product_id) DO NOTHING`, orderID, it.ProductID, it.Qty)
		if err != nil {
			return nil, nil, err
		}
		if ct.RowsAffected() == 0 {
			continue // already applied
		}

		var stock int
		err = tx.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1 FOR UPDATE`, it.ProductID).Scan(&stock)
		if errors.Is(err, pgx.ErrNoRows) {
			missing = append(missing, it.ProductID)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		if stock < it.Qty {
			short = append(short, orders.Shortfall{ProductID: it.ProductID, Required: it.Qty, Available: stock})
		}
		if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock - $2, updated_at = now() WHERE id=$1`,
			it.ProductID, it.Qty); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return short, missing, nil
}

// merge folds repeated products into one line so the ledger key stays unique.
func merge(items []orders.ItemQty) []orders.ItemQty {
	idx := make(map[string]int, len(items))
	out := make([]orders.ItemQty, 0, len(items))
	for _, it := range items {
		if i, ok := idx[it.ProductID]; ok {
			out[i].Qty += it.Qty
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out
}
