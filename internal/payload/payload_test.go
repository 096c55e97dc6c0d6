package payload

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"

	"github.com/moveflow/vault-engine/internal/contract"
	"github.com/moveflow/vault-engine/internal/units"
)

const (
	pkgAddr   = "0xc227292511a7df4b728b91a03077b5556583fcc979c36e1043bbe7b102273857"
	vaultAddr = "0xc227292511a7df4b728b91a03077b5556583fcc979c36e1043bbe7b102273857"
)

func newBuilder(t *testing.T) *Builder {
	t.Helper()
	pkg, err := contract.NewPackage(pkgAddr)
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	b, err := NewBuilder(pkg, vaultAddr, "")
	if err != nil {
		t.Fatalf("builder: %v", err)
	}
	return b
}

func TestDeposit_FloorsToOctas(t *testing.T) {
	b := newBuilder(t)
	p := b.Deposit(decimal.RequireFromString("1.23456789"))

	if p.Function != pkgAddr+"::vault::deposit" {
		t.Errorf("unexpected function %s", p.Function)
	}
	if len(p.TypeArguments) != 1 || p.TypeArguments[0] != contract.AptosCoin {
		t.Errorf("unexpected type args %v", p.TypeArguments)
	}
	if len(p.Arguments) != 2 || p.Arguments[0] != vaultAddr {
		t.Fatalf("unexpected args %v", p.Arguments)
	}
	if p.Arguments[1] != "123456789" {
		t.Errorf("expected 123456789 octas, got %s", p.Arguments[1])
	}
	if p.Type != EntryFunctionType {
		t.Errorf("unexpected type %s", p.Type)
	}
}

func TestDeposit_TruncatesNotRounds(t *testing.T) {
	b := newBuilder(t)
	p := b.Deposit(decimal.RequireFromString("1.234567899"))
	if p.Arguments[1] != "123456789" {
		t.Errorf("expected truncation to 123456789, got %s", p.Arguments[1])
	}
}

func TestDeposit_Monotonic(t *testing.T) {
	b := newBuilder(t)
	amounts := []string{"0.00000001", "0.000000015", "0.1", "0.99999999", "1", "1.000000009", "2.5", "1000000"}

	prev := sdkmath.ZeroInt()
	for _, a := range amounts {
		p := b.Deposit(decimal.RequireFromString(a))
		got, err := units.ParseUint(p.Arguments[1])
		if err != nil {
			t.Fatalf("amount %s: %v", a, err)
		}
		if got.LT(prev) {
			t.Fatalf("deposit(%s)=%s is below previous %s", a, got, prev)
		}
		prev = got
	}
}

func TestWithdraw_Unscaled(t *testing.T) {
	b := newBuilder(t)
	p := b.Withdraw(sdkmath.NewInt(5000))
	if p.Function != pkgAddr+"::vault::withdraw" {
		t.Errorf("unexpected function %s", p.Function)
	}
	if p.Arguments[1] != "5000" {
		t.Errorf("expected 5000 shares, got %s", p.Arguments[1])
	}
}

func TestHarvest_NoAmount(t *testing.T) {
	b := newBuilder(t)
	p := b.Harvest()
	if p.Function != pkgAddr+"::vault::harvest" {
		t.Errorf("unexpected function %s", p.Function)
	}
	if len(p.Arguments) != 1 || p.Arguments[0] != vaultAddr {
		t.Errorf("expected only the vault address, got %v", p.Arguments)
	}
}

func TestNewBuilder_RejectsBadVault(t *testing.T) {
	pkg, _ := contract.NewPackage(pkgAddr)
	if _, err := NewBuilder(pkg, "vault", ""); !errors.Is(err, contract.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestParseAmount(t *testing.T) {
	got, err := ParseAmount(" 2.5 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("expected 2.5, got %s", got)
	}

	if _, err := ParseAmount("184467440737.09551615"); err != nil {
		t.Errorf("u64 max octas should parse: %v", err)
	}

	for _, bad := range []string{"", "abc", "0", "-1", "0.000000001", "1,5", "184467440737.09551616", "200000000000"} {
		if _, err := ParseAmount(bad); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("expected ErrInvalidAmount for %q, got %v", bad, err)
		}
	}
}

func TestParseShares(t *testing.T) {
	got, err := ParseShares("1500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(sdkmath.NewInt(1500)) {
		t.Errorf("expected 1500, got %s", got)
	}

	if _, err := ParseShares("18446744073709551615"); err != nil {
		t.Errorf("u64 max shares should parse: %v", err)
	}

	for _, bad := range []string{"", "0", "-3", "1.5", "ten", "18446744073709551616"} {
		if _, err := ParseShares(bad); !errors.Is(err, ErrInvalidShares) {
			t.Errorf("expected ErrInvalidShares for %q, got %v", bad, err)
		}
	}
}
