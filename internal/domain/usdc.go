package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the fixed-point precision of every monetary amount.
const USDCDecimals = 6

// USDCToDecimal converts base units into a decimal without touching floats.
func USDCToDecimal(amount *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(orZero(amount), -USDCDecimals)
}

// FormatUSDC renders base units with two decimals, e.g. 4500000 -> "4.50".
func FormatUSDC(amount *big.Int) string {
	return USDCToDecimal(amount).StringFixed(2)
}

// FormatUSD is FormatUSDC with a dollar sign, as used in chat messages.
func FormatUSD(amount *big.Int) string {
	return "$" + FormatUSDC(amount)
}

// ParseUSDC converts a human amount such as "12.5" into base units.
func ParseUSDC(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse usdc %q: %w", s, err)
	}
	return d.Shift(USDCDecimals).Truncate(0).BigInt(), nil
}
