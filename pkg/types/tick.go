package types

import "github.com/shopspring/decimal"

// DefaultTickSize is the venue's standard equity price increment.
const DefaultTickSize = 0.05

// RoundToTick snaps a price to the nearest multiple of the tick size using
// decimal arithmetic, so 100.024999 never leaks float dust into an order.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	f, _ := p.Div(t).Round(0).Mul(t).Float64()
	return f
}

// RoundDownToTick snaps a price toward zero, used for protective stops on
// longs so rounding never loosens the stop.
func RoundDownToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	f, _ := p.Div(t).Floor().Mul(t).Float64()
	return f
}

// RoundUpToTick snaps a price away from zero, the stop-side counterpart for
// shorts.
func RoundUpToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	f, _ := p.Div(t).Ceil().Mul(t).Float64()
	return f
}

// MoneyAdd sums currency amounts exactly. The ledger uses it for realized
// P&L accumulation instead of chained float addition.
func MoneyAdd(amounts ...float64) float64 {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(decimal.NewFromFloat(a))
	}
	f, _ := total.Round(2).Float64()
	return f
}

// MoneyMul computes qty × price rounded to the venue's paisa precision.
func MoneyMul(qty int, price float64) float64 {
	f, _ := decimal.NewFromInt(int64(qty)).Mul(decimal.NewFromFloat(price)).Round(2).Float64()
	return f
}
