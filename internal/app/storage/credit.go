package storage

import "github.com/shopspring/decimal"

// ClampDelta caps a credit so the resulting balance never exceeds the
// ceiling. A non-positive ceiling disables the cap. The returned delta is
// what actually gets applied and recorded in the transaction, keeping the
// audit trail truthful when a policy cap kicks in.
func ClampDelta(balance, delta, ceiling decimal.Decimal) decimal.Decimal {
	if delta.IsNegative() {
		return decimal.Zero
	}
	if !ceiling.IsPositive() {
		return delta
	}
	if balance.GreaterThanOrEqual(ceiling) {
		return decimal.Zero
	}
	if balance.Add(delta).GreaterThan(ceiling) {
		return ceiling.Sub(balance)
	}
	return delta
}
