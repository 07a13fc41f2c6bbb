package fees

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/Fantasim/solmigrate/internal/config"
	"github.com/Fantasim/solmigrate/internal/models"
)

// ComputeFee returns min(floor(amount * bps / 10000), maximumFee).
func ComputeFee(amount uint64, rule models.FeeRule) uint64 {
	fee := new(big.Int).SetUint64(amount)
	fee.Mul(fee, new(big.Int).SetUint64(uint64(rule.FeeBasisPoints)))
	fee.Quo(fee, big.NewInt(config.MaxFeeBasisPoints))

	if limit := new(big.Int).SetUint64(rule.MaximumFee); fee.Cmp(limit) > 0 {
		return rule.MaximumFee
	}
	return fee.Uint64()
}

// TruncatedBaseUnits floors a display amount to (decimals - 2) fractional
// digits and converts it to base units. For mints with fewer than two
// decimals this floors to a multiple of 10^(2-decimals) whole units.
func TruncatedBaseUnits(amount decimal.Decimal, decimals uint8) (uint64, error) {
	p := int32(decimals) - config.FeeTruncationDigits
	truncated := amount.Shift(p).Floor().Shift(-p)

	base := truncated.Shift(int32(decimals))
	if base.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", amount)
	}
	bi := base.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("amount %s overflows base units", amount)
	}
	return bi.Uint64(), nil
}
