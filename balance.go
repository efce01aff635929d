package assist

import (
	"math/big"
)

// BalanceCheck is the outcome of a preflight funds check.
type BalanceCheck struct {
	Sufficient bool
	Fee        *big.Int
	Buffer     *big.Int
	TotalCost  *big.Int
}

// BalanceValidator decides whether an account can afford a transaction.
// The fee is padded by fee/BufferDivisor to absorb gas price movement
// between preflight and inclusion.
type BalanceValidator struct {
	BufferDivisor int64
}

// NewBalanceValidator returns a validator using the given divisor, falling
// back to DefaultFeeBufferDivisor for non-positive values.
func NewBalanceValidator(divisor int64) BalanceValidator {
	if divisor <= 0 {
		divisor = DefaultFeeBufferDivisor
	}
	return BalanceValidator{BufferDivisor: divisor}
}

// Check computes fee = gas*gasPrice, buffer = fee/divisor and
// total = fee + value + buffer. Sufficient requires balance strictly
// greater than total. Nil amounts count as zero.
func (v BalanceValidator) Check(balance, value *big.Int, gas uint64, gasPrice *big.Int) BalanceCheck {
	divisor := v.BufferDivisor
	if divisor <= 0 {
		divisor = DefaultFeeBufferDivisor
	}

	fee := new(big.Int).Mul(new(big.Int).SetUint64(gas), orZero(gasPrice))
	buffer := new(big.Int).Div(fee, big.NewInt(divisor))
	total := new(big.Int).Add(fee, orZero(value))
	total.Add(total, buffer)

	return BalanceCheck{
		Sufficient: orZero(balance).Cmp(total) > 0,
		Fee:        fee,
		Buffer:     buffer,
		TotalCost:  total,
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
