package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/moveflow/vault-engine/internal/model"
)

// Reconcile merges on-chain protocol data into t and returns a new table.
//
// A strategy is matched to the snapshot whose Index equals its OnChainIndex.
// On a match TargetAPY and Active are taken from the snapshot; every other
// field is kept. Strategies without an index, or whose index has no
// snapshot, pass through unchanged. Only malformed input is an error:
// negative allocations, indices shared by two strategies, or duplicate or
// negative snapshot indices.
//
// Reconcile is idempotent for a fixed snapshot set.
func Reconcile(t Table, snapshots []model.ProtocolSnapshot) (Table, error) {
	byIndex := make(map[int]model.ProtocolSnapshot, len(snapshots))
	for _, snap := range snapshots {
		if snap.Index < 0 {
			return nil, fmt.Errorf("%w: negative index %d", ErrMalformedSnapshot, snap.Index)
		}
		if snap.CurrentAPY.IsNegative() {
			return nil, fmt.Errorf("%w: %s has negative apy", ErrMalformedSnapshot, snap.Name)
		}
		if _, dup := byIndex[snap.Index]; dup {
			return nil, fmt.Errorf("%w: duplicate index %d", ErrMalformedSnapshot, snap.Index)
		}
		byIndex[snap.Index] = snap
	}

	claimed := make(map[int]string, len(t))
	out := make(Table, len(t))
	for i, s := range t {
		if s.AllocationBps < 0 {
			return nil, fmt.Errorf("%w: %s has negative allocation", ErrMalformedStrategy, s.ID)
		}
		out[i] = cloneStrategy(s)
		if s.OnChainIndex == nil {
			continue
		}
		idx := *s.OnChainIndex
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s has negative on-chain index", ErrMalformedStrategy, s.ID)
		}
		if other, dup := claimed[idx]; dup {
			return nil, fmt.Errorf("%w: %s and %s share on-chain index %d", ErrMalformedStrategy, other, s.ID, idx)
		}
		claimed[idx] = s.ID

		snap, ok := byIndex[idx]
		if !ok {
			continue
		}
		out[i].TargetAPY = snap.CurrentAPY
		out[i].Active = snap.Active
	}
	return out, nil
}

// Change describes how one strategy moved between two tables.
type Change struct {
	StrategyID string          `json:"strategy_id"`
	OldAPY     decimal.Decimal `json:"old_apy"`
	NewAPY     decimal.Decimal `json:"new_apy"`
	WasActive  bool            `json:"was_active"`
	Active     bool            `json:"active"`
}

// Diff lists strategies present in both tables whose APY or active flag
// differs, in the order of next.
func Diff(prev, next Table) []Change {
	old := make(map[string]model.Strategy, len(prev))
	for _, s := range prev {
		old[s.ID] = s
	}
	var changes []Change
	for _, s := range next {
		o, ok := old[s.ID]
		if !ok {
			continue
		}
		if o.TargetAPY.Equal(s.TargetAPY) && o.Active == s.Active {
			continue
		}
		changes = append(changes, Change{
			StrategyID: s.ID,
			OldAPY:     o.TargetAPY,
			NewAPY:     s.TargetAPY,
			WasActive:  o.Active,
			Active:     s.Active,
		})
	}
	return changes
}
