package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/moveflow/vault-engine/internal/catalog"
	"github.com/moveflow/vault-engine/internal/model"
)

var bpsDenominator = decimal.NewFromInt(FullAllocationBps)

// WeightedAPY blends target APYs of active strategies by allocation.
//
// The sum is divided by 10000, not by the active allocation total, so the
// result falls toward zero as active coverage drops below 100%. That makes
// an under-deployed vault visible in the headline number. An empty table
// yields zero.
func WeightedAPY(t Table) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range t {
		if !s.Active {
			continue
		}
		sum = sum.Add(s.TargetAPY.Mul(decimal.NewFromInt(int64(s.AllocationBps))))
	}
	return sum.Div(bpsDenominator)
}

// RiskScore blends protocol risk scores over all entries, active or not,
// weighted by allocation and normalized by the allocation actually present.
// It returns ErrUndefinedRiskScore for an empty table or a zero total
// allocation.
func RiskScore(t Table, cat *catalog.Catalog) (decimal.Decimal, error) {
	var weighted, total int64
	for _, s := range t {
		p, ok := cat.Get(s.ProtocolID)
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownProtocol, s.ProtocolID)
		}
		weighted += int64(p.RiskScore) * int64(s.AllocationBps)
		total += int64(s.AllocationBps)
	}
	if total == 0 {
		return decimal.Zero, ErrUndefinedRiskScore
	}
	return decimal.NewFromInt(weighted).Div(decimal.NewFromInt(total)), nil
}

// RiskLevel buckets a 1-10 risk score: up to 3 is low, up to 6 medium.
func RiskLevel(score decimal.Decimal) model.RiskTier {
	switch {
	case score.LessThanOrEqual(decimal.NewFromInt(3)):
		return model.RiskLow
	case score.LessThanOrEqual(decimal.NewFromInt(6)):
		return model.RiskMedium
	default:
		return model.RiskHigh
	}
}

// Summary is the set of blended metrics shown for a table.
type Summary struct {
	WeightedAPY      decimal.Decimal  `json:"weighted_apy"`
	RiskScore        *decimal.Decimal `json:"risk_score"`
	RiskLevel        model.RiskTier   `json:"risk_level,omitempty"`
	RiskUndefined    bool             `json:"risk_undefined"`
	ActiveAllocation int              `json:"active_allocation_bps"`
	TotalAllocation  int              `json:"total_allocation_bps"`
	UnderDeployedBps int              `json:"under_deployed_bps"`
}

// Summarize computes the blended metrics of t. A risk score that is
// undefined is reported through RiskUndefined with a nil RiskScore.
func Summarize(t Table, cat *catalog.Catalog) (Summary, error) {
	s := Summary{
		WeightedAPY:      WeightedAPY(t),
		ActiveAllocation: t.ActiveAllocationBps(),
		TotalAllocation:  t.TotalAllocationBps(),
	}
	if s.ActiveAllocation < FullAllocationBps {
		s.UnderDeployedBps = FullAllocationBps - s.ActiveAllocation
	}
	score, err := RiskScore(t, cat)
	switch {
	case err == nil:
		s.RiskScore = &score
		s.RiskLevel = RiskLevel(score)
	case errors.Is(err, ErrUndefinedRiskScore):
		s.RiskUndefined = true
	default:
		return Summary{}, err
	}
	return s, nil
}
