package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cartlabs/storefront/internal/catalog"
	"github.com/cartlabs/storefront/internal/orders"
)

type FinalizeParams struct {
	UserID          string
	PaymentIntentID string
	CapturedCents   int64
	ShippingAddress orders.Address
	BillingAddress  orders.Address
	Policy          Policy
}

// Ledger applies the checkout write set as one unit of failure.
type Ledger interface {
	FinalizeCheckout(ctx context.Context, p FinalizeParams) (*orders.Order, error)
	OrderByPaymentIntent(ctx context.Context, intentID string) (*orders.Order, error)
}

type SQLLedger struct {
	DB     *pgxpool.Pool
	Orders *orders.Repo
}

func (l *SQLLedger) OrderByPaymentIntent(ctx context.Context, intentID string) (*orders.Order, error) {
	return l.Orders.GetByPaymentIntent(ctx, intentID)
}

const uniqueViolation = "23505"

// FinalizeCheckout runs order+items insert, guarded stock decrement and cart
// clear in a single transaction. Product rows backing the cart are locked
// FOR UPDATE, so the price/stock snapshot priced here is the one committed.
//
// A concurrent duplicate for the same payment intent loses on the unique
// index and gets the already-persisted order back instead.
func (l *SQLLedger) FinalizeCheckout(ctx context.Context, p FinalizeParams) (*orders.Order, error) {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	type line struct {
		productID int64
		qty       int
		stock     int
		price     decimal.Decimal
	}
	rows, err := tx.Query(ctx, `
		SELECT ci.product_id, ci.quantity, p.stock, p.price
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.user_id = $1
		ORDER BY ci.product_id
		FOR UPDATE OF p`, p.UserID)
	if err != nil {
		return nil, err
	}
	var lines []line
	for rows.Next() {
		var ln line
		if err := rows.Scan(&ln.productID, &ln.qty, &ln.stock, &ln.price); err != nil {
			rows.Close()
			return nil, err
		}
		lines = append(lines, ln)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	priced := make([]Line, 0, len(lines))
	for _, ln := range lines {
		priced = append(priced, Line{Price: ln.price, Qty: ln.qty})
	}
	totals := ComputeTotals(priced, p.Policy)
	if totals.TotalCents() != p.CapturedCents {
		return nil, fmt.Errorf("%w: captured=%d computed=%d", ErrAmountMismatch, p.CapturedCents, totals.TotalCents())
	}

	// Stock check under the row locks, before any write.
	for _, ln := range lines {
		if ln.stock < ln.qty {
			return nil, &StockError{ProductID: ln.productID, Requested: ln.qty, Available: ln.stock}
		}
	}

	orderID := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, status, subtotal, tax, shipping, total, payment_intent_id,
			shipping_name, shipping_street, shipping_city, shipping_region, shipping_postal_code,
			billing_name, billing_street, billing_city, billing_region, billing_postal_code)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		orderID, p.UserID, string(orders.StatusPending), totals.Subtotal, totals.Tax, totals.Shipping, totals.Total, p.PaymentIntentID,
		p.ShippingAddress.Name, p.ShippingAddress.Street, p.ShippingAddress.City, p.ShippingAddress.Region, p.ShippingAddress.PostalCode,
		p.BillingAddress.Name, p.BillingAddress.Street, p.BillingAddress.City, p.BillingAddress.Region, p.BillingAddress.PostalCode)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// Someone else finalized this payment intent first.
			_ = tx.Rollback(ctx)
			existing, gerr := l.Orders.GetByPaymentIntent(ctx, p.PaymentIntentID)
			if gerr != nil {
				return nil, gerr
			}
			if existing.UserID != p.UserID {
				return nil, orders.ErrNotFound
			}
			return existing, nil
		}
		return nil, err
	}

	items := make([]orders.Item, 0, len(lines))
	for _, ln := range lines {
		var itemID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO order_items(order_id, product_id, quantity, price)
			VALUES ($1,$2,$3,$4) RETURNING id`,
			orderID, ln.productID, ln.qty, ln.price).Scan(&itemID)
		if err != nil {
			return nil, err
		}
		items = append(items, orders.Item{ID: itemID, OrderID: orderID, ProductID: ln.productID, Quantity: ln.qty, Price: ln.price})

		ok, err := catalog.DecrementStock(ctx, tx, ln.productID, ln.qty)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &StockError{ProductID: ln.productID, Requested: ln.qty, Available: ln.stock}
		}
	}

	if !orders.CanTransition(orders.StatusPending, orders.StatusConfirmed) {
		return nil, fmt.Errorf("illegal order status transition %s -> %s", orders.StatusPending, orders.StatusConfirmed)
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`,
		orderID, string(orders.StatusConfirmed)); err != nil {
		return nil, err
	}

	// Clear only the lines that were priced and locked above. A line added
	// concurrently was never paid for; it stays in the cart for the next
	// checkout instead of vanishing.
	pricedIDs := make([]int64, 0, len(lines))
	for _, ln := range lines {
		pricedIDs = append(pricedIDs, ln.productID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1 AND product_id = ANY($2)`,
		p.UserID, pricedIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	o, err := l.Orders.GetByID(ctx, orderID)
	if err != nil {
		// Committed but unreadable; hand back what we wrote.
		return &orders.Order{
			ID: orderID, UserID: p.UserID, Status: orders.StatusConfirmed,
			Subtotal: totals.Subtotal, Tax: totals.Tax, Shipping: totals.Shipping, Total: totals.Total,
			PaymentIntentID: p.PaymentIntentID,
			ShippingAddress: p.ShippingAddress, BillingAddress: p.BillingAddress,
			Items: items,
		}, nil
	}
	return o, nil
}
