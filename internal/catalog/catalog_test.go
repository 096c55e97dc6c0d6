package catalog

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/moveflow/vault-engine/internal/model"
)

func proto(id string, risk int) model.Protocol {
	return model.Protocol{
		ID:        id,
		Name:      id,
		Category:  model.CategoryLending,
		BaseAPY:   decimal.NewFromInt(5),
		RiskScore: risk,
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.Len() != 6 {
		t.Fatalf("expected 6 protocols, got %d", c.Len())
	}
	p, ok := c.Get("echelon")
	if !ok {
		t.Fatal("echelon missing")
	}
	if p.RiskScore != 3 || !p.BaseAPY.Equal(decimal.RequireFromString("8.5")) {
		t.Errorf("unexpected echelon entry: %+v", p)
	}
	if c.All()[0].ID != "meridian" {
		t.Errorf("expected registration order, got %s first", c.All()[0].ID)
	}
}

func TestNew_RejectsDuplicates(t *testing.T) {
	_, err := New(proto("a", 2), proto("a", 3))
	if !errors.Is(err, ErrDuplicateProtocol) {
		t.Fatalf("expected ErrDuplicateProtocol, got %v", err)
	}
}

func TestNew_RejectsRiskOutOfRange(t *testing.T) {
	for _, risk := range []int{0, 11, -1} {
		if _, err := New(proto("a", risk)); !errors.Is(err, ErrInvalidProtocol) {
			t.Errorf("risk %d: expected ErrInvalidProtocol, got %v", risk, err)
		}
	}
}

func TestNew_RejectsUnknownCategory(t *testing.T) {
	p := proto("a", 2)
	p.Category = "casino"
	if _, err := New(p); !errors.Is(err, ErrInvalidProtocol) {
		t.Fatalf("expected ErrInvalidProtocol, got %v", err)
	}
}

func TestMerge(t *testing.T) {
	base := []model.Protocol{proto("a", 2), proto("b", 3)}
	over := []model.Protocol{proto("b", 9), proto("c", 1)}

	got := Merge(base, over)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[1].RiskScore != 9 {
		t.Errorf("override not applied: %+v", got[1])
	}
	if got[2].ID != "c" {
		t.Errorf("expected appended c, got %s", got[2].ID)
	}
	if base[1].RiskScore != 3 {
		t.Error("base slice was mutated")
	}
}

func TestCategoryFromCode(t *testing.T) {
	tests := map[uint8]model.Category{
		1: model.CategoryStaking,
		2: model.CategoryLending,
		3: model.CategoryDEX,
		0: model.CategoryUnknown,
		9: model.CategoryUnknown,
	}
	for code, want := range tests {
		if got := CategoryFromCode(code); got != want {
			t.Errorf("code %d: got %s, want %s", code, got, want)
		}
	}
}
