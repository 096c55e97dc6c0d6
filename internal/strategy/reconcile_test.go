package strategy

import (
	"errors"
	"testing"

	"github.com/moveflow/vault-engine/internal/catalog"
	"github.com/moveflow/vault-engine/internal/model"
)

func snapshot(index int, name string, apy float64, active bool) model.ProtocolSnapshot {
	return model.ProtocolSnapshot{
		Index:      index,
		Name:       name,
		Active:     active,
		CurrentAPY: d(apy),
	}
}

func TestReconcile_MatchesByIndex(t *testing.T) {
	table := DefaultTable()
	snaps := []model.ProtocolSnapshot{
		snapshot(0, "Meridian Liquid Staking", 13.2, true),
		snapshot(2, "LiquidSwap AMM", 18.0, false),
	}

	got, err := Reconcile(table, snaps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !got[0].TargetAPY.Equal(d(13.2)) || !got[0].Active {
		t.Errorf("meridian not reconciled: %+v", got[0])
	}
	if !got[2].TargetAPY.Equal(d(18)) || got[2].Active {
		t.Errorf("liquidswap not reconciled: %+v", got[2])
	}
	// Index 1 has no snapshot, so echelon passes through.
	if !got[1].TargetAPY.Equal(d(8.5)) || !got[1].Active {
		t.Errorf("echelon should pass through unchanged: %+v", got[1])
	}
	// Non-performance fields are kept.
	if got[0].AllocationBps != 4000 || got[0].Name != "Meridian Staking" {
		t.Errorf("unrelated fields changed: %+v", got[0])
	}
}

func TestReconcile_DoesNotMutateInput(t *testing.T) {
	table := DefaultTable()
	before := table.Clone()

	got, err := Reconcile(table, []model.ProtocolSnapshot{snapshot(0, "x", 1, false)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !table.Equal(before) {
		t.Error("input table was mutated")
	}
	*got[0].OnChainIndex = 99
	if *table[0].OnChainIndex != 0 {
		t.Error("output shares index pointer with input")
	}
}

func TestReconcile_IgnoresNames(t *testing.T) {
	// A snapshot whose name contains another strategy's protocol id must
	// not be matched by name.
	table := Table{entry("echelon-supply", "echelon", 5000, 8.5, true)}
	table[0].OnChainIndex = intPtr(1)
	snaps := []model.ProtocolSnapshot{snapshot(0, "echelon", 30, true)}

	got, err := Reconcile(table, snaps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got[0].TargetAPY.Equal(d(8.5)) {
		t.Errorf("strategy matched by name: %+v", got[0])
	}
}

func TestReconcile_NoIndexPassesThrough(t *testing.T) {
	table := Table{entry("a", "canopy", 1000, 11, true)}
	got, err := Reconcile(table, []model.ProtocolSnapshot{snapshot(0, "canopy", 2, false)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(table) {
		t.Errorf("expected unchanged table, got %+v", got)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	snaps := []model.ProtocolSnapshot{
		snapshot(0, "Meridian", 13.2, true),
		snapshot(1, "Echelon", 7.9, true),
		snapshot(2, "LiquidSwap", 0, false),
	}
	once, err := Reconcile(DefaultTable(), snaps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	twice, err := Reconcile(once, snaps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !once.Equal(twice) {
		t.Errorf("reconcile not idempotent:\n%+v\n%+v", once, twice)
	}
}

func TestReconcile_MalformedInput(t *testing.T) {
	negative := DefaultTable()
	negative[1].AllocationBps = -1
	if _, err := Reconcile(negative, nil); !errors.Is(err, ErrMalformedStrategy) {
		t.Errorf("negative allocation: expected ErrMalformedStrategy, got %v", err)
	}

	shared := DefaultTable()
	shared[2].OnChainIndex = intPtr(0)
	if _, err := Reconcile(shared, nil); !errors.Is(err, ErrMalformedStrategy) {
		t.Errorf("shared index: expected ErrMalformedStrategy, got %v", err)
	}

	dupSnaps := []model.ProtocolSnapshot{snapshot(0, "a", 1, true), snapshot(0, "b", 2, true)}
	if _, err := Reconcile(DefaultTable(), dupSnaps); !errors.Is(err, ErrMalformedSnapshot) {
		t.Errorf("duplicate snapshots: expected ErrMalformedSnapshot, got %v", err)
	}

	negAPY := []model.ProtocolSnapshot{snapshot(0, "a", -1, true)}
	if _, err := Reconcile(DefaultTable(), negAPY); !errors.Is(err, ErrMalformedSnapshot) {
		t.Errorf("negative apy: expected ErrMalformedSnapshot, got %v", err)
	}
}

func TestReconcile_Empty(t *testing.T) {
	got, err := Reconcile(Table{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty table, got %d entries", len(got))
	}
}

func TestDiff(t *testing.T) {
	prev := DefaultTable()
	next, err := Reconcile(prev, []model.ProtocolSnapshot{
		snapshot(0, "Meridian", 12.0, true), // unchanged
		snapshot(1, "Echelon", 9.1, true),
		snapshot(2, "LiquidSwap", 15.0, false),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	changes := Diff(prev, next)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d: %+v", len(changes), changes)
	}
	if changes[0].StrategyID != "echelon-supply" || !changes[0].NewAPY.Equal(d(9.1)) {
		t.Errorf("unexpected first change: %+v", changes[0])
	}
	if changes[1].StrategyID != "liquidswap-lp" || changes[1].Active {
		t.Errorf("unexpected second change: %+v", changes[1])
	}
}

func TestValidate(t *testing.T) {
	cat := catalog.Default()
	if err := Validate(DefaultTable(), cat); err != nil {
		t.Fatalf("default table should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(Table) Table
		want   error
	}{
		{"over 10000 bps", func(tb Table) Table { tb[0].AllocationBps = 10001; return tb }, ErrMalformedStrategy},
		{"sum past full", func(tb Table) Table { tb[0].AllocationBps = 5000; return tb }, ErrMalformedStrategy},
		{"negative apy", func(tb Table) Table { tb[0].TargetAPY = d(-1); return tb }, ErrMalformedStrategy},
		{"duplicate id", func(tb Table) Table { tb[1].ID = tb[0].ID; return tb }, ErrMalformedStrategy},
		{"duplicate index", func(tb Table) Table { tb[1].OnChainIndex = intPtr(0); return tb }, ErrMalformedStrategy},
		{"bad tier", func(tb Table) Table { tb[0].RiskTier = "extreme"; return tb }, ErrMalformedStrategy},
		{"unknown protocol", func(tb Table) Table { tb[0].ProtocolID = "nowhere"; return tb }, ErrUnknownProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.mutate(DefaultTable()), cat)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	partial := DefaultTable()[:2]
	if err := Validate(partial, cat); err != nil {
		t.Errorf("partial allocation should be valid: %v", err)
	}
}

func TestFormatAllocation(t *testing.T) {
	if got := FormatAllocation(3500); got != "35%" {
		t.Errorf("expected 35%%, got %s", got)
	}
}
