// README: Common value objects (ids, coordinates, money) shared across modules.
package types

import "github.com/shopspring/decimal"

// DefaultCurrency is the currency every quote and order amount is expressed in.
const DefaultCurrency = "CNY"

type ID string

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func CNY(amount decimal.Decimal) Money {
	return Money{Amount: amount, Currency: DefaultCurrency}
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
