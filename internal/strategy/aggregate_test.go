package strategy

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/moveflow/vault-engine/internal/catalog"
	"github.com/moveflow/vault-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func entry(id, protocol string, bps int, apy float64, active bool) model.Strategy {
	return model.Strategy{
		ID:            id,
		ProtocolID:    protocol,
		AllocationBps: bps,
		TargetAPY:     d(apy),
		Active:        active,
	}
}

func TestWeightedAPY_ThreeWayScenario(t *testing.T) {
	got := WeightedAPY(DefaultTable())
	if !got.Equal(d(11.525)) {
		t.Errorf("expected 11.525, got %s", got)
	}
}

func TestWeightedAPY_Empty(t *testing.T) {
	if got := WeightedAPY(nil); !got.IsZero() {
		t.Errorf("expected 0 for empty table, got %s", got)
	}
}

func TestWeightedAPY_UnderDeployedDropsTowardZero(t *testing.T) {
	table := Table{
		entry("a", "meridian", 5000, 10, true),
		entry("b", "echelon", 5000, 10, false),
	}
	// Only half the allocation is active, so the blend is halved rather
	// than renormalized over the active share.
	if got := WeightedAPY(table); !got.Equal(d(5)) {
		t.Errorf("expected 5, got %s", got)
	}
}

func TestWeightedAPY_FullAllocationIsWeightedMean(t *testing.T) {
	table := Table{
		entry("a", "meridian", 2000, 4, true),
		entry("b", "echelon", 3000, 9, true),
		entry("c", "liquidswap", 5000, 20, true),
	}
	// (2000*4 + 3000*9 + 5000*20) / 10000
	want := d(13.5)
	if got := WeightedAPY(table); !got.Equal(want) {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestWeightedAPY_BoundedByMaxActiveAPY(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ids := []string{"meridian", "echelon", "liquidswap", "canopy"}

	for i := 0; i < 500; i++ {
		var table Table
		remaining := FullAllocationBps
		maxAPY := decimal.Zero
		n := rng.Intn(6)
		for j := 0; j < n; j++ {
			bps := 0
			if remaining > 0 {
				bps = rng.Intn(remaining + 1)
			}
			remaining -= bps
			apy := decimal.New(int64(rng.Intn(5000)), -2)
			active := rng.Intn(3) > 0
			if active && apy.GreaterThan(maxAPY) {
				maxAPY = apy
			}
			table = append(table, model.Strategy{
				ID:            ids[j%len(ids)] + string(rune('a'+j)),
				ProtocolID:    ids[j%len(ids)],
				AllocationBps: bps,
				TargetAPY:     apy,
				Active:        active,
			})
		}
		if err := Validate(table, catalog.Default()); err != nil {
			t.Fatalf("generated invalid table: %v", err)
		}

		got := WeightedAPY(table)
		if got.IsNegative() {
			t.Fatalf("case %d: negative weighted apy %s", i, got)
		}
		if got.GreaterThan(maxAPY) {
			t.Fatalf("case %d: weighted apy %s exceeds max active apy %s", i, got, maxAPY)
		}
	}
}

func TestRiskScore_DefaultTable(t *testing.T) {
	got, err := RiskScore(DefaultTable(), catalog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// (2*4000 + 3*3500 + 4*2500) / 10000
	if !got.Equal(d(2.85)) {
		t.Errorf("expected 2.85, got %s", got)
	}
}

func TestRiskScore_IncludesInactiveEntries(t *testing.T) {
	table := Table{
		entry("a", "meridian", 5000, 12, true),    // risk 2
		entry("b", "liquidswap", 5000, 15, false), // risk 4
	}
	got, err := RiskScore(table, catalog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(d(3)) {
		t.Errorf("expected 3, got %s", got)
	}
}

func TestRiskScore_NormalizesByPresentAllocation(t *testing.T) {
	table := Table{
		entry("a", "meridian", 1000, 12, true),   // risk 2
		entry("b", "liquidswap", 1000, 15, true), // risk 4
	}
	got, err := RiskScore(table, catalog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(d(3)) {
		t.Errorf("expected 3, got %s", got)
	}
}

func TestRiskScore_Undefined(t *testing.T) {
	if _, err := RiskScore(nil, catalog.Default()); !errors.Is(err, ErrUndefinedRiskScore) {
		t.Errorf("empty table: expected ErrUndefinedRiskScore, got %v", err)
	}
	zero := Table{entry("a", "meridian", 0, 12, true)}
	if _, err := RiskScore(zero, catalog.Default()); !errors.Is(err, ErrUndefinedRiskScore) {
		t.Errorf("zero allocation: expected ErrUndefinedRiskScore, got %v", err)
	}
}

func TestRiskScore_UnknownProtocol(t *testing.T) {
	table := Table{entry("a", "nowhere", 1000, 12, true)}
	if _, err := RiskScore(table, catalog.Default()); !errors.Is(err, ErrUnknownProtocol) {
		t.Errorf("expected ErrUnknownProtocol, got %v", err)
	}
}

func TestRiskLevel(t *testing.T) {
	tests := []struct {
		score float64
		want  model.RiskTier
	}{
		{1, model.RiskLow},
		{2.85, model.RiskLow},
		{3, model.RiskLow},
		{3.01, model.RiskMedium},
		{6, model.RiskMedium},
		{6.5, model.RiskHigh},
		{10, model.RiskHigh},
	}
	for _, tt := range tests {
		if got := RiskLevel(d(tt.score)); got != tt.want {
			t.Errorf("RiskLevel(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestSummarize(t *testing.T) {
	s, err := Summarize(DefaultTable(), catalog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.WeightedAPY.Equal(d(11.525)) {
		t.Errorf("weighted apy: got %s", s.WeightedAPY)
	}
	if s.RiskScore == nil || !s.RiskScore.Equal(d(2.85)) {
		t.Errorf("risk score: got %v", s.RiskScore)
	}
	if s.RiskLevel != model.RiskLow {
		t.Errorf("risk level: got %s", s.RiskLevel)
	}
	if s.UnderDeployedBps != 0 {
		t.Errorf("expected fully deployed, got %d bps idle", s.UnderDeployedBps)
	}

	empty, err := Summarize(nil, catalog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !empty.RiskUndefined || empty.RiskScore != nil {
		t.Errorf("expected undefined risk for empty table, got %+v", empty)
	}
	if empty.UnderDeployedBps != FullAllocationBps {
		t.Errorf("expected fully idle, got %d", empty.UnderDeployedBps)
	}
}
