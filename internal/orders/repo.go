package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("order not found")

// Repo is the read side of the order ledger. Writes happen only through the
// checkout transaction.
type Repo struct{ DB *pgxpool.Pool }

const orderCols = `id, user_id, status, subtotal, tax, shipping, total, payment_intent_id,
	shipping_name, shipping_street, shipping_city, shipping_region, shipping_postal_code,
	billing_name, billing_street, billing_city, billing_region, billing_postal_code,
	created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.Subtotal, &o.Tax, &o.Shipping, &o.Total, &o.PaymentIntentID,
		&o.ShippingAddress.Name, &o.ShippingAddress.Street, &o.ShippingAddress.City, &o.ShippingAddress.Region, &o.ShippingAddress.PostalCode,
		&o.BillingAddress.Name, &o.BillingAddress.Street, &o.BillingAddress.City, &o.BillingAddress.Region, &o.BillingAddress.PostalCode,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repo) GetByID(ctx context.Context, orderID string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.Items, err = r.itemsFor(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repo) GetByPaymentIntent(ctx context.Context, intentID string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE payment_intent_id=$1`, intentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.Items, err = r.itemsFor(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repo) ListByUser(ctx context.Context, userID string) ([]*Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderCols+` FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, o := range out {
		if o.Items, err = r.itemsFor(ctx, o.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetStatus is scoped to the owning user; someone else's order reads as
// absent.
func (r *Repo) GetStatus(ctx context.Context, orderID, userID string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 AND user_id=$2`, orderID, userID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return Status(s), nil
}

func (r *Repo) itemsFor(ctx context.Context, orderID string) ([]Item, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, quantity, price
		FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
