// Package contract handles Move on-chain identifiers: account address
// parsing and validation, module-qualified function ids, and the type tags
// used by the vault package.
package contract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Modules published by the vault package.
const (
	ModuleVault   = "vault"
	ModuleRouter  = "strategy_router"
	ModuleRewards = "rewards"
)

var validModules = map[string]bool{
	ModuleVault:   true,
	ModuleRouter:  true,
	ModuleRewards: true,
}

// AptosCoin is the native coin type tag used as the vault's type argument.
const AptosCoin = "0x1::aptos_coin::AptosCoin"

// addressRegex matches a 0x-prefixed account address of up to 32 bytes.
var addressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{1,64}$`)

// functionRegex matches: {address}::{module}::{function}
// Example: 0x1::coin::balance
var functionRegex = regexp.MustCompile(
	`^(0x[0-9a-fA-F]{1,64})::([A-Za-z_][A-Za-z0-9_]*)::([A-Za-z_][A-Za-z0-9_]*)$`,
)

var (
	ErrInvalidAddress  = errors.New("contract: invalid account address")
	ErrInvalidFunction = errors.New("contract: invalid function id")
	ErrUnknownModule   = errors.New("contract: unknown module")
)

// ParseAddress validates an account address and returns it lower-cased.
func ParseAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !addressRegex.MatchString(addr) {
		return "", fmt.Errorf("%w: %q (expected 0x followed by hex)", ErrInvalidAddress, addr)
	}
	return strings.ToLower(addr), nil
}

// ShortAddress abbreviates an address for display: 0xc2272925...273857.
func ShortAddress(addr string) string {
	if len(addr) <= 16 {
		return addr
	}
	return addr[:10] + "..." + addr[len(addr)-6:]
}

// Function is a fully qualified Move function id.
type Function struct {
	Address string `json:"address"`
	Module  string `json:"module"`
	Name    string `json:"name"`
}

// String formats the id as {address}::{module}::{function}.
func (f Function) String() string {
	return f.Address + "::" + f.Module + "::" + f.Name
}

// ParseFunction parses and validates a function id.
// Format: {address}::{module}::{function}
func ParseFunction(id string) (Function, error) {
	matches := functionRegex.FindStringSubmatch(strings.TrimSpace(id))
	if matches == nil {
		return Function{}, fmt.Errorf("%w: %s (expected 0x{address}::{module}::{function})",
			ErrInvalidFunction, id)
	}
	return Function{
		Address: strings.ToLower(matches[1]),
		Module:  matches[2],
		Name:    matches[3],
	}, nil
}

// Package is a deployed Move package address.
type Package struct {
	Address string
}

// NewPackage validates the package address.
func NewPackage(addr string) (Package, error) {
	a, err := ParseAddress(addr)
	if err != nil {
		return Package{}, err
	}
	return Package{Address: a}, nil
}

// Function returns the id of a function in one of the package's modules.
// It panics on a module the package does not publish, which is a
// programming error rather than bad input.
func (p Package) Function(module, name string) Function {
	if !validModules[module] {
		panic(fmt.Sprintf("%v: %s", ErrUnknownModule, module))
	}
	return Function{Address: p.Address, Module: module, Name: name}
}

// CoinStore returns the CoinStore resource type for a coin type tag.
func CoinStore(coinType string) string {
	return "0x1::coin::CoinStore<" + coinType + ">"
}
