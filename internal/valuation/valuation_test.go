package valuation

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"

	"github.com/moveflow/vault-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func vault(assets float64, shares int64, yield float64) model.VaultSnapshot {
	return model.VaultSnapshot{
		TotalAssets:      d(assets),
		TotalShares:      sdkmath.NewInt(shares),
		TotalYieldEarned: d(yield),
	}
}

func TestShareValue_Scenario(t *testing.T) {
	v := vault(1000, 1_000_000, 5)
	got := ShareValue(v, sdkmath.NewInt(200_000))
	if !got.Equal(d(200)) {
		t.Errorf("expected 200, got %s", got)
	}
}

func TestShareValue_ZeroShares(t *testing.T) {
	for _, v := range []model.VaultSnapshot{
		vault(1000, 1_000_000, 5),
		vault(0, 0, 0),
		{},
	} {
		if got := ShareValue(v, sdkmath.ZeroInt()); !got.IsZero() {
			t.Errorf("expected 0 for zero shares, got %s", got)
		}
	}
}

func TestShareValue_EmptyVault(t *testing.T) {
	if got := ShareValue(vault(1000, 0, 0), sdkmath.NewInt(10)); !got.IsZero() {
		t.Errorf("expected 0 when vault has no shares, got %s", got)
	}
	if got := ShareValue(model.VaultSnapshot{}, sdkmath.NewInt(10)); !got.IsZero() {
		t.Errorf("expected 0 for zero-value snapshot, got %s", got)
	}
}

func TestShareValue_Linear(t *testing.T) {
	v := vault(2500, 1_000_000, 0)
	base := ShareValue(v, sdkmath.NewInt(4000))
	for _, k := range []int64{2, 3, 10, 250} {
		got := ShareValue(v, sdkmath.NewInt(4000*k))
		want := base.Mul(decimal.NewFromInt(k))
		if !got.Equal(want) {
			t.Errorf("k=%d: expected %s, got %s", k, want, got)
		}
	}
}

func TestRealizedAPY(t *testing.T) {
	got := RealizedAPY(vault(1000, 1_000_000, 5))
	if !got.Equal(d(182.5)) {
		t.Errorf("expected 182.5, got %s", got)
	}
	if got := RealizedAPY(vault(0, 0, 5)); !got.IsZero() {
		t.Errorf("expected 0 for empty vault, got %s", got)
	}
}

func TestRealizedAPY_ScalesBeforeDividing(t *testing.T) {
	// 1 / 3 × 36500 keeps full division precision.
	want := decimal.NewFromInt(36500).Div(decimal.NewFromInt(3))
	if got := RealizedAPY(vault(3, 1, 1)); !got.Equal(want) {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestUnrealizedPnL(t *testing.T) {
	p := model.UserPosition{TotalDeposited: d(100), TotalWithdrawn: d(20)}
	got := UnrealizedPnL(p, d(90))
	// 90 - 100 + 20
	if !got.Amount.Equal(d(10)) {
		t.Errorf("expected amount 10, got %s", got.Amount)
	}
	if !got.Percent.Equal(d(10)) {
		t.Errorf("expected 10%%, got %s", got.Percent)
	}

	loss := UnrealizedPnL(model.UserPosition{TotalDeposited: d(200)}, d(150))
	if !loss.Amount.Equal(d(-50)) || !loss.Percent.Equal(d(-25)) {
		t.Errorf("unexpected loss: %+v", loss)
	}
}

func TestUnrealizedPnL_NoDeposits(t *testing.T) {
	got := UnrealizedPnL(model.UserPosition{}, d(5))
	if !got.Amount.Equal(d(5)) {
		t.Errorf("expected amount 5, got %s", got.Amount)
	}
	if !got.Percent.IsZero() {
		t.Errorf("expected 0%% when nothing deposited, got %s", got.Percent)
	}
}

func TestValue(t *testing.T) {
	v := vault(1000, 1_000_000, 5)
	p := model.UserPosition{
		Shares:         sdkmath.NewInt(200_000),
		TotalDeposited: d(180),
	}
	got := Value(v, p)
	if !got.CurrentValue.Equal(d(200)) {
		t.Errorf("expected value 200, got %s", got.CurrentValue)
	}
	if !got.PnL.Amount.Equal(d(20)) {
		t.Errorf("expected pnl 20, got %s", got.PnL.Amount)
	}
}

func TestEstimateShares(t *testing.T) {
	// Empty vault mints one share per octa.
	got := EstimateShares(model.VaultSnapshot{}, d(1.5))
	if !got.Equal(sdkmath.NewInt(150_000_000)) {
		t.Errorf("empty vault: expected 150000000, got %s", got)
	}

	// 1000 assets backing 1e6 shares: 1 asset buys 1000 shares.
	got = EstimateShares(vault(1000, 1_000_000, 0), d(2))
	if !got.Equal(sdkmath.NewInt(2000)) {
		t.Errorf("expected 2000 shares, got %s", got)
	}
}

func TestPreviewWithdraw(t *testing.T) {
	w := PreviewWithdraw(vault(1000, 1_000_000, 0), sdkmath.NewInt(200_000), 10)
	if !w.Gross.Equal(d(200)) {
		t.Errorf("expected gross 200, got %s", w.Gross)
	}
	if !w.Fee.Equal(d(0.2)) {
		t.Errorf("expected fee 0.2, got %s", w.Fee)
	}
	if !w.Net.Equal(d(199.8)) {
		t.Errorf("expected net 199.8, got %s", w.Net)
	}
}

func TestProjectYield(t *testing.T) {
	p := ProjectYield(d(3650), d(10))
	if !p.Yearly.Equal(d(365)) {
		t.Errorf("expected yearly 365, got %s", p.Yearly)
	}
	if !p.Daily.Equal(d(1)) {
		t.Errorf("expected daily 1, got %s", p.Daily)
	}
	if !p.Monthly.Round(4).Equal(d(30.4167)) {
		t.Errorf("expected monthly ≈30.4167, got %s", p.Monthly)
	}
}
