// Package payload builds the entry-function payloads for the vault's
// mutating calls. Builders are pure: they never sign, submit, or touch the
// network. Signing is done by the user's wallet.
package payload

import (
	"errors"
	"fmt"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"

	"github.com/moveflow/vault-engine/internal/contract"
	"github.com/moveflow/vault-engine/internal/units"
)

// EntryFunctionType is the payload type tag understood by Aptos-compatible nodes and wallets.
const EntryFunctionType = "entry_function_payload"

var (
	ErrInvalidAmount = errors.New("payload: amount must be a positive number")
	ErrInvalidShares = errors.New("payload: shares must be a positive whole number")
	ErrNoWallet      = errors.New("payload: no wallet connected")
)

// EntryFunction is a JSON entry-function payload. u64 arguments are encoded
// as decimal strings, as the node's JSON API expects.
type EntryFunction struct {
	Type          string   `json:"type"`
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []string `json:"arguments"`
}

// Builder builds payloads against one deployed vault.
type Builder struct {
	pkg      contract.Package
	vault    string
	coinType string
}

// NewBuilder creates a builder. An empty coinType defaults to AptosCoin.
func NewBuilder(pkg contract.Package, vaultAddress, coinType string) (*Builder, error) {
	vault, err := contract.ParseAddress(vaultAddress)
	if err != nil {
		return nil, fmt.Errorf("vault address: %w", err)
	}
	if coinType == "" {
		coinType = contract.AptosCoin
	}
	return &Builder{pkg: pkg, vault: vault, coinType: coinType}, nil
}

func (b *Builder) entry(name string, args ...string) EntryFunction {
	return EntryFunction{
		Type:          EntryFunctionType,
		Function:      b.pkg.Function(contract.ModuleVault, name).String(),
		TypeArguments: []string{b.coinType},
		Arguments:     append([]string{b.vault}, args...),
	}
}

// Deposit builds vault::deposit(vault, amountOctas). The amount is scaled by
// 10^8 and floored. Amounts are expected to come from ParseAmount.
func (b *Builder) Deposit(amount decimal.Decimal) EntryFunction {
	return b.entry("deposit", units.FromAsset(amount).String())
}

// Withdraw builds vault::withdraw(vault, shares). Shares are not scaled.
func (b *Builder) Withdraw(shares sdkmath.Int) EntryFunction {
	return b.entry("withdraw", units.OrZero(shares).String())
}

// Harvest builds vault::harvest(vault).
func (b *Builder) Harvest() EntryFunction {
	return b.entry("harvest")
}

// ParseAmount parses a user-entered asset amount. It rejects non-numeric
// input, non-positive values, amounts smaller than one octa, and amounts
// whose octa value does not fit in a u64.
func ParseAmount(text string) (decimal.Decimal, error) {
	text = strings.TrimSpace(text)
	amount, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}
	octas := units.FromAsset(amount)
	if !amount.IsPositive() || octas.IsZero() || !units.FitsU64(octas) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, text)
	}
	return amount, nil
}

// ParseShares parses a user-entered share count in the u64 range.
func ParseShares(text string) (sdkmath.Int, error) {
	shares, err := units.ParseUint(text)
	if err != nil || shares.IsZero() || !units.FitsU64(shares) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %q", ErrInvalidShares, strings.TrimSpace(text))
	}
	return shares, nil
}
