package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is one cart line joined with the current product record. Price and
// Stock reflect the catalog at read time, not at add-to-cart time.
type Item struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
