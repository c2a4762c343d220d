package domain

import "github.com/shopspring/decimal"

// Direction represents the price movement direction
type Direction int

const (
	DirectionSame Direction = 0
	DirectionUp   Direction = +1
	DirectionDown Direction = -1
)

// PriceState holds the last price of a symbol and which way it moved
type PriceState struct {
	Value     decimal.Decimal
	HasValue  bool
	Direction Direction
}

// Update applies a new price and reports whether it differs from the previous one
func (ps *PriceState) Update(price decimal.Decimal) bool {
	if !ps.HasValue {
		ps.Value = price
		ps.HasValue = true
		ps.Direction = DirectionSame
		return true
	}

	switch price.Cmp(ps.Value) {
	case 1:
		ps.Direction = DirectionUp
	case -1:
		ps.Direction = DirectionDown
	default:
		ps.Direction = DirectionSame
		return false
	}
	ps.Value = price
	return true
}
