package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type OrderStore struct{ DB *pgxpool.Pool }

const orderCols = `id, user_id, total_price, ship_address, ship_city, ship_postal_code, ship_country,
	is_paid, status, paid_at, payment_id, payment_amount, payment_currency, payment_method,
	created_at, updated_at`

func (s *OrderStore) Create(ctx context.Context, o *orders.Order) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	a := o.ShippingAddress
	if _, err := tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, total_price, ship_address, ship_city, ship_postal_code, ship_country,
		                   is_paid, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, $9, $9)`,
		o.ID, o.UserID, o.TotalPrice, a.Address, a.City, a.PostalCode, a.Country,
		string(orders.StatusPending), o.CreatedAt,
	); err != nil {
		return err
	}

	for i, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, position, product_id, name, image, qty, price)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			o.ID, i, it.ProductID, it.Name, it.Image, it.Qty, it.Price,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *OrderStore) Get(ctx context.Context, id string) (*orders.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, []*orders.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *OrderStore) ListByUser(ctx context.Context, userID string) ([]orders.Order, error) {
	return s.list(ctx, `SELECT `+orderCols+` FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

func (s *OrderStore) ListAll(ctx context.Context) ([]orders.Order, error) {
	return s.list(ctx, `SELECT `+orderCols+` FROM orders ORDER BY created_at DESC`)
}

// MarkPaid runs as conditional single-statement updates so concurrent callers
// cannot both see is_paid=false and both write paid_at.
func (s *OrderStore) MarkPaid(ctx context.Context, id string, paidAt time.Time, info *orders.PaymentInfo) (*orders.Order, orders.MarkResult, error) {
	pid, amount, currency, method := infoArgs(info)

	o, err := scanOrder(s.DB.QueryRow(ctx, `
		UPDATE orders
		SET is_paid = true, status = $2, paid_at = $3,
		    payment_id = $4, payment_amount = $5, payment_currency = $6, payment_method = $7,
		    updated_at = $3
		WHERE id = $1 AND is_paid = false
		RETURNING `+orderCols,
		id, string(orders.StatusPaid), paidAt, pid, amount, currency, method))
	if err == nil {
		return s.withItems(ctx, o, orders.MarkTransitioned)
	}
	if !errors.Is(err, orders.ErrOrderNotFound) {
		return nil, orders.MarkUnchanged, err
	}

	if info != nil {
		o, err = scanOrder(s.DB.QueryRow(ctx, `
			UPDATE orders
			SET payment_id = $2, payment_amount = $3, payment_currency = $4, payment_method = $5,
			    updated_at = $6
			WHERE id = $1 AND is_paid = true AND payment_id IS NULL
			RETURNING `+orderCols,
			id, pid, amount, currency, method, paidAt))
		if err == nil {
			return s.withItems(ctx, o, orders.MarkAttached)
		}
		if !errors.Is(err, orders.ErrOrderNotFound) {
			return nil, orders.MarkUnchanged, err
		}
	}

	o, err = s.Get(ctx, id)
	if err != nil {
		return nil, orders.MarkUnchanged, err
	}
	return o, orders.MarkUnchanged, nil
}

func (s *OrderStore) withItems(ctx context.Context, o *orders.Order, res orders.MarkResult) (*orders.Order, orders.MarkResult, error) {
	if err := s.loadItems(ctx, []*orders.Order{o}); err != nil {
		return nil, res, err
	}
	return o, res, nil
}

func (s *OrderStore) list(ctx context.Context, sql string, args ...any) ([]orders.Order, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ptrs []*orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		ptrs = append(ptrs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, ptrs); err != nil {
		return nil, err
	}

	out := make([]orders.Order, 0, len(ptrs))
	for _, o := range ptrs {
		out = append(out, *o)
	}
	return out, nil
}

func (s *OrderStore) loadItems(ctx context.Context, batch []*orders.Order) error {
	if len(batch) == 0 {
		return nil
	}
	byID := make(map[string]*orders.Order, len(batch))
	ids := make([]string, 0, len(batch))
	for _, o := range batch {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := s.DB.Query(ctx, `
		SELECT order_id, product_id, name, image, qty, price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			it      orders.Item
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Name, &it.Image, &it.Qty, &it.Price); err != nil {
			return err
		}
		if o := byID[orderID]; o != nil {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o        orders.Order
		status   string
		total    decimal.Decimal
		pid      *string
		amount   *int64
		currency *string
		method   *string
	)
	a := &o.ShippingAddress
	err := row.Scan(&o.ID, &o.UserID, &total, &a.Address, &a.City, &a.PostalCode, &a.Country,
		&o.IsPaid, &status, &o.PaidAt, &pid, &amount, &currency, &method,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.TotalPrice = total
	o.Status = orders.Status(status)
	if pid != nil {
		o.PaymentInfo = &orders.PaymentInfo{ID: *pid}
		if amount != nil {
			o.PaymentInfo.Amount = *amount
		}
		if currency != nil {
			o.PaymentInfo.Currency = *currency
		}
		if method != nil {
			o.PaymentInfo.Method = *method
		}
	}
	return &o, nil
}

func infoArgs(info *orders.PaymentInfo) (id, amount, currency, method any) {
	if info == nil {
		return nil, nil, nil, nil
	}
	return info.ID, info.Amount, info.Currency, info.Method
}
