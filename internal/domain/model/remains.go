package model

import "github.com/shopspring/decimal"

// RemainsLine is one stock line of a product: a nomenclature in a batch with
// its quantity on the free-stock ledger and on the reserve ledger.
type RemainsLine struct {
	ID               string          `json:"id"`
	Nomenclature     string          `json:"nomenclature"`
	Series           string          `json:"series,omitempty"`
	Quantity         decimal.Decimal `json:"quantity"`
	QuantityReserved decimal.Decimal `json:"quantity_reserved"`
}

// Available is the free quantity left after reservations.
func (l RemainsLine) Available() decimal.Decimal {
	return l.Quantity.Sub(l.QuantityReserved)
}

// TotalRemains sums both ledgers over a snapshot.
func TotalRemains(lines []RemainsLine) (quantity, reserved decimal.Decimal) {
	for _, l := range lines {
		quantity = quantity.Add(l.Quantity)
		reserved = reserved.Add(l.QuantityReserved)
	}
	return quantity, reserved
}
