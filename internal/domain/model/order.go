package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is a customer order line referencing a product.
type Order struct {
	ID       string          `json:"id"`
	Number   string          `json:"number"`
	Date     time.Time       `json:"date"`
	Customer string          `json:"customer,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
}

// MovedProduct is a transfer of a product between two warehouses.
type MovedProduct struct {
	ID       string          `json:"id"`
	Document string          `json:"document"`
	Date     time.Time       `json:"date"`
	From     string          `json:"from"`
	To       string          `json:"to"`
	Quantity decimal.Decimal `json:"quantity"`
}
