package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Vendor is the slice of the vendor profile the settlement engine reads.
type Vendor struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	CommissionRate decimal.Decimal `json:"commission_rate"` // percent, e.g. 10.5
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Product is the slice of the catalog the order splitter reads.
type Product struct {
	ID         uuid.UUID `json:"id"`
	VendorID   uuid.UUID `json:"vendor_id"`
	Name       string    `json:"name"`
	Price      int64     `json:"price"`
	Stock      int64     `json:"stock"`
	SalesCount int64     `json:"sales_count"`
	IsActive   bool      `json:"is_active"`
}

// CartLine is one entry of a customer's cart.
type CartLine struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int64     `json:"quantity"`
}
