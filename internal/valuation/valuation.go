// Package valuation converts vault snapshots and share balances into
// asset-denominated values: position value, realized APY, unrealized P&L,
// and deposit/withdraw previews.
//
// Every division is guarded; a zero denominator yields zero rather than an
// error so display code never sees a non-numeric value.
package valuation

import (
	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"

	"github.com/moveflow/vault-engine/internal/model"
	"github.com/moveflow/vault-engine/internal/strategy"
	"github.com/moveflow/vault-engine/internal/units"
)

var (
	hundred     = decimal.NewFromInt(100)
	daysPerYear = decimal.NewFromInt(365)
	monthsYear  = decimal.NewFromInt(12)
	bpsDivisor  = decimal.NewFromInt(strategy.FullAllocationBps)
)

// ShareValue converts shares to assets at the snapshot's exchange rate:
// shares × totalAssets / totalShares, or zero when the vault has no shares.
func ShareValue(v model.VaultSnapshot, shares sdkmath.Int) decimal.Decimal {
	total := units.ToDecimal(v.TotalShares)
	if total.IsZero() || shares.IsNil() {
		return decimal.Zero
	}
	return units.ToDecimal(shares).Mul(v.TotalAssets).Div(total)
}

// RealizedAPY annualizes cumulative yield: yield / assets × 365 × 100.
//
// It does not account for the vault's age, so it is only meaningful after the
// vault has been running for a representative period.
func RealizedAPY(v model.VaultSnapshot) decimal.Decimal {
	if !v.TotalAssets.IsPositive() {
		return decimal.Zero
	}
	return v.TotalYieldEarned.Mul(daysPerYear).Mul(hundred).Div(v.TotalAssets)
}

// PnL is an unrealized profit or loss.
type PnL struct {
	Amount  decimal.Decimal `json:"amount"`
	Percent decimal.Decimal `json:"percent"`
}

// UnrealizedPnL is currentValue − deposited + withdrawn. Percent is relative
// to the cumulative deposit and zero when nothing was deposited.
func UnrealizedPnL(p model.UserPosition, currentValue decimal.Decimal) PnL {
	amount := currentValue.Sub(p.TotalDeposited).Add(p.TotalWithdrawn)
	pct := decimal.Zero
	if p.TotalDeposited.IsPositive() {
		pct = amount.Div(p.TotalDeposited).Mul(hundred)
	}
	return PnL{Amount: amount, Percent: pct}
}

// PositionValue is the derived view of a user's position.
type PositionValue struct {
	Position     model.UserPosition `json:"position"`
	CurrentValue decimal.Decimal    `json:"current_value"`
	PnL          PnL                `json:"pnl"`
}

// Value derives the current value and P&L of p against v.
func Value(v model.VaultSnapshot, p model.UserPosition) PositionValue {
	current := ShareValue(v, p.Shares)
	return PositionValue{
		Position:     p,
		CurrentValue: current,
		PnL:          UnrealizedPnL(p, current),
	}
}

// EstimateShares previews the shares minted for depositing amount. The
// inverse exchange rate is used, floored; an empty vault mints one share per
// octa.
func EstimateShares(v model.VaultSnapshot, amount decimal.Decimal) sdkmath.Int {
	octas := units.FromAsset(amount)
	totalShares := units.OrZero(v.TotalShares)
	assets := units.FromAsset(v.TotalAssets)
	if totalShares.IsZero() || assets.IsZero() {
		return octas
	}
	return octas.Mul(totalShares).Quo(assets)
}

// Withdrawal previews a share redemption net of the withdrawal fee.
type Withdrawal struct {
	Shares sdkmath.Int     `json:"shares"`
	Gross  decimal.Decimal `json:"gross"`
	FeeBps int             `json:"fee_bps"`
	Fee    decimal.Decimal `json:"fee"`
	Net    decimal.Decimal `json:"net"`
}

// PreviewWithdraw values shares and deducts feeBps of the gross amount.
func PreviewWithdraw(v model.VaultSnapshot, shares sdkmath.Int, feeBps int) Withdrawal {
	gross := ShareValue(v, shares)
	fee := gross.Mul(decimal.NewFromInt(int64(feeBps))).Div(bpsDivisor)
	return Withdrawal{
		Shares: units.OrZero(shares),
		Gross:  gross,
		FeeBps: feeBps,
		Fee:    fee,
		Net:    gross.Sub(fee),
	}
}

// Projection is simple, non-compounding yield on an amount at a fixed APY.
type Projection struct {
	Daily   decimal.Decimal `json:"daily"`
	Monthly decimal.Decimal `json:"monthly"`
	Yearly  decimal.Decimal `json:"yearly"`
}

// ProjectYield projects yield on amount at apy percent.
func ProjectYield(amount, apy decimal.Decimal) Projection {
	yearly := amount.Mul(apy).Div(hundred)
	return Projection{
		Daily:   yearly.Div(daysPerYear),
		Monthly: yearly.Div(monthsYear),
		Yearly:  yearly,
	}
}
