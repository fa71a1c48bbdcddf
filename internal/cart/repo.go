package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartlabs/storefront/internal/catalog"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

type Repo struct {
	DB      *pgxpool.Pool
	Catalog *catalog.Repo
}

func (r *Repo) GetItems(ctx context.Context, userID string) ([]Item, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT ci.product_id, p.name, ci.quantity, p.price, p.stock, ci.updated_at
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.user_id = $1
		ORDER BY ci.product_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Quantity, &it.Price, &it.Stock, &it.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Add upserts a cart line, accumulating quantity for repeated adds of the
// same product.
func (r *Repo) Add(ctx context.Context, userID string, productID int64, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	p, err := r.Catalog.GetByID(ctx, productID)
	if errors.Is(err, catalog.ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrProductNotFound, productID)
	}
	if err != nil {
		return err
	}
	if !p.IsActive {
		return fmt.Errorf("%w: %d", ErrProductNotFound, productID)
	}
	_, err = r.DB.Exec(ctx, `
		INSERT INTO cart_items(user_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = now()`,
		userID, productID, qty)
	return err
}

// SetQuantity replaces the line quantity; qty <= 0 removes the line.
func (r *Repo) SetQuantity(ctx context.Context, userID string, productID int64, qty int) error {
	if qty <= 0 {
		return r.Remove(ctx, userID, productID)
	}
	_, err := r.DB.Exec(ctx, `
		UPDATE cart_items SET quantity=$3, updated_at=now()
		WHERE user_id=$1 AND product_id=$2`, userID, productID, qty)
	return err
}

func (r *Repo) Remove(ctx context.Context, userID string, productID int64) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1 AND product_id=$2`, userID, productID)
	return err
}

func (r *Repo) Clear(ctx context.Context, userID string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1`, userID)
	return err
}
