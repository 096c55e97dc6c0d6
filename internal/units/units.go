// Package units converts between on-chain integer base units and
// asset-denominated decimals.
//
// On-chain amounts are integers in octas (10^-8 of one asset). Share counts
// and basis points are plain integers and are never scaled by 10^8.
package units

import (
	"errors"
	"fmt"
	"math"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits of the native asset.
const Decimals = 8

var (
	ErrNotInteger = errors.New("units: not an unsigned integer")
	ErrNegative   = errors.New("units: negative amount")
)

// MaxU64 is the largest value a Move u64 argument can hold.
var MaxU64 = sdkmath.NewIntFromUint64(math.MaxUint64)

// FitsU64 reports whether i is a valid u64.
func FitsU64(i sdkmath.Int) bool {
	return !i.IsNil() && !i.IsNegative() && i.LTE(MaxU64)
}

// OrZero returns i, or zero when i is the nil zero value of sdkmath.Int.
func OrZero(i sdkmath.Int) sdkmath.Int {
	if i.IsNil() {
		return sdkmath.ZeroInt()
	}
	return i
}

// ToAsset converts octas to an asset amount (divide by 10^8).
func ToAsset(octas sdkmath.Int) decimal.Decimal {
	if octas.IsNil() {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(octas.BigInt(), -Decimals)
}

// FromAsset converts an asset amount to octas, flooring any digits beyond
// the eighth decimal place. Rounding up would let a payload ask for more
// than the wallet holds. Non-positive amounts map to zero.
func FromAsset(amount decimal.Decimal) sdkmath.Int {
	if !amount.IsPositive() {
		return sdkmath.ZeroInt()
	}
	return sdkmath.NewIntFromBigInt(amount.Shift(Decimals).Floor().BigInt())
}

// ToDecimal converts an unscaled integer (shares, bps) to a decimal.
func ToDecimal(i sdkmath.Int) decimal.Decimal {
	if i.IsNil() {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(i.BigInt(), 0)
}

// BpsToPercent converts basis points to percent (divide by 100).
func BpsToPercent(bps sdkmath.Int) decimal.Decimal {
	if bps.IsNil() {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(bps.BigInt(), -2)
}

// ParseUint parses a base-10 unsigned integer such as a u64 view result.
func ParseUint(s string) (sdkmath.Int, error) {
	s = strings.TrimSpace(s)
	i, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %q", ErrNotInteger, s)
	}
	if i.IsNegative() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s", ErrNegative, s)
	}
	return i, nil
}
