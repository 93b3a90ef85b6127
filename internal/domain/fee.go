package domain

// FeeKind discriminates the closed set of market fee schedules. Most
// Polymarket markets are fee-free; crypto short-interval markets use a
// dynamic taker model whose fee peaks at price 0.5.
type FeeKind int

// Fee schedule kinds.
const (
	FeeKindFree FeeKind = iota
	FeeKindDynamicTaker
)

// FeeModel is a market's fee descriptor. It is a closed tagged variant,
// not an open interface: new schedules require a new kind here.
type FeeModel struct {
	Kind     FeeKind
	BaseRate float64 // only meaningful for FeeKindDynamicTaker
}

// FeeFree returns the zero-fee schedule.
func FeeFree() FeeModel {
	return FeeModel{Kind: FeeKindFree}
}

// DynamicTaker returns the dynamic taker schedule with the given base rate.
func DynamicTaker(baseRate float64) FeeModel {
	return FeeModel{Kind: FeeKindDynamicTaker, BaseRate: baseRate}
}

// Fee computes the fee for an execution at the given price and size.
// Dynamic markets charge base_rate * min(p, 1-p) * size, symmetric around
// p = 0.5 and maximal there. Pure and total: no failure modes.
func (m FeeModel) Fee(price, size float64) float64 {
	if m.Kind != FeeKindDynamicTaker {
		return 0
	}
	edge := price
	if 1-price < edge {
		edge = 1 - price
	}
	if edge < 0 {
		edge = 0
	}
	return m.BaseRate * edge * size
}
