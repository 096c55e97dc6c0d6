// Package strategy implements the allocation model: the strategy table,
// the blended APY and risk aggregations over it, and reconciliation of the
// table against on-chain router data.
//
// Every operation treats a Table as a value. Nothing here mutates its input;
// updated tables are returned as new slices so a reader never observes a
// half-updated table.
package strategy

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/moveflow/vault-engine/internal/catalog"
	"github.com/moveflow/vault-engine/internal/model"
)

// FullAllocationBps is 100% in basis points.
const FullAllocationBps = 10000

var (
	ErrMalformedStrategy  = errors.New("strategy: malformed strategy")
	ErrMalformedSnapshot  = errors.New("strategy: malformed protocol snapshot")
	ErrUnknownProtocol    = errors.New("strategy: unknown protocol")
	ErrUndefinedRiskScore = errors.New("strategy: risk score undefined for a table with no allocation")
)

var validate = validator.New()

// Table is an ordered list of strategies.
type Table []model.Strategy

func intPtr(i int) *int { return &i }

// DefaultTable returns the initial three-way allocation.
func DefaultTable() Table {
	return Table{
		{
			ID:            "meridian-staking",
			ProtocolID:    "meridian",
			Name:          "Meridian Staking",
			Description:   "Liquid staking rewards",
			AllocationBps: 4000,
			TargetAPY:     decimal.RequireFromString("12.0"),
			RiskTier:      model.RiskLow,
			Active:        true,
			OnChainIndex:  intPtr(0),
		},
		{
			ID:            "echelon-supply",
			ProtocolID:    "echelon",
			Name:          "Echelon Supply",
			Description:   "Lending market supply interest",
			AllocationBps: 3500,
			TargetAPY:     decimal.RequireFromString("8.5"),
			RiskTier:      model.RiskLow,
			Active:        true,
			OnChainIndex:  intPtr(1),
		},
		{
			ID:            "liquidswap-lp",
			ProtocolID:    "liquidswap",
			Name:          "LiquidSwap LP",
			Description:   "MOVE/USDC liquidity provision",
			AllocationBps: 2500,
			TargetAPY:     decimal.RequireFromString("15.0"),
			RiskTier:      model.RiskMedium,
			Active:        true,
			OnChainIndex:  intPtr(2),
		},
	}
}

func cloneStrategy(s model.Strategy) model.Strategy {
	if s.OnChainIndex != nil {
		s.OnChainIndex = intPtr(*s.OnChainIndex)
	}
	return s
}

// Clone returns a deep copy of t.
func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	for i, s := range t {
		out[i] = cloneStrategy(s)
	}
	return out
}

// Find returns the strategy with the given ID.
func (t Table) Find(id string) (model.Strategy, bool) {
	for _, s := range t {
		if s.ID == id {
			return cloneStrategy(s), true
		}
	}
	return model.Strategy{}, false
}

// TotalAllocationBps sums allocations over all entries.
func (t Table) TotalAllocationBps() int {
	total := 0
	for _, s := range t {
		total += s.AllocationBps
	}
	return total
}

// ActiveAllocationBps sums allocations over active entries.
func (t Table) ActiveAllocationBps() int {
	total := 0
	for _, s := range t {
		if s.Active {
			total += s.AllocationBps
		}
	}
	return total
}

// Equal reports whether two tables hold the same strategies in the same order.
func (t Table) Equal(o Table) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if !strategyEqual(t[i], o[i]) {
			return false
		}
	}
	return true
}

func strategyEqual(a, b model.Strategy) bool {
	if a.ID != b.ID || a.ProtocolID != b.ProtocolID || a.Name != b.Name ||
		a.Description != b.Description || a.AllocationBps != b.AllocationBps ||
		a.RiskTier != b.RiskTier || a.Active != b.Active {
		return false
	}
	if !a.TargetAPY.Equal(b.TargetAPY) {
		return false
	}
	switch {
	case a.OnChainIndex == nil && b.OnChainIndex == nil:
		return true
	case a.OnChainIndex == nil || b.OnChainIndex == nil:
		return false
	default:
		return *a.OnChainIndex == *b.OnChainIndex
	}
}

// Validate checks a table for malformed entries: out-of-range allocations,
// negative APYs, duplicate strategy IDs or on-chain indices, allocations
// summing past 100%, and protocols missing from cat. Partial allocation
// (a total under 10000) is valid.
func Validate(t Table, cat *catalog.Catalog) error {
	ids := make(map[string]bool, len(t))
	indices := make(map[int]string, len(t))
	for _, s := range t {
		if err := validate.Struct(s); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedStrategy, s.ID, err)
		}
		if s.TargetAPY.IsNegative() {
			return fmt.Errorf("%w: %s: negative target apy", ErrMalformedStrategy, s.ID)
		}
		if ids[s.ID] {
			return fmt.Errorf("%w: duplicate id %s", ErrMalformedStrategy, s.ID)
		}
		ids[s.ID] = true
		if s.OnChainIndex != nil {
			if other, dup := indices[*s.OnChainIndex]; dup {
				return fmt.Errorf("%w: %s and %s share on-chain index %d",
					ErrMalformedStrategy, other, s.ID, *s.OnChainIndex)
			}
			indices[*s.OnChainIndex] = s.ID
		}
		if cat != nil {
			if _, ok := cat.Get(s.ProtocolID); !ok {
				return fmt.Errorf("%w: %s", ErrUnknownProtocol, s.ProtocolID)
			}
		}
	}
	if total := t.TotalAllocationBps(); total > FullAllocationBps {
		return fmt.Errorf("%w: allocations sum to %d bps", ErrMalformedStrategy, total)
	}
	return nil
}

// FormatAllocation renders basis points as a whole percentage.
func FormatAllocation(bps int) string {
	return fmt.Sprintf("%d%%", bps/100)
}
