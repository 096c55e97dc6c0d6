// Package catalog holds the process-wide registry of yield protocols.
// A Catalog is immutable once constructed.
package catalog

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/moveflow/vault-engine/internal/model"
)

var (
	ErrInvalidProtocol   = errors.New("catalog: invalid protocol")
	ErrDuplicateProtocol = errors.New("catalog: duplicate protocol id")
)

var validate = validator.New()

// Catalog is a read-only set of protocols indexed by ID.
type Catalog struct {
	byID  map[string]model.Protocol
	order []string
}

// New validates protocols and builds a catalog. IDs must be unique and
// risk scores must lie in [1,10].
func New(protocols ...model.Protocol) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]model.Protocol, len(protocols))}
	for _, p := range protocols {
		if err := validate.Struct(p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidProtocol, p.ID, err)
		}
		if p.BaseAPY.IsNegative() {
			return nil, fmt.Errorf("%w: %s: negative base apy", ErrInvalidProtocol, p.ID)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProtocol, p.ID)
		}
		c.byID[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c, nil
}

// Default returns the built-in Movement catalog.
func Default() *Catalog {
	c, err := New(DefaultProtocols()...)
	if err != nil {
		panic(err)
	}
	return c
}

// Get looks up a protocol by ID.
func (c *Catalog) Get(id string) (model.Protocol, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// All returns the protocols in registration order.
func (c *Catalog) All() []model.Protocol {
	out := make([]model.Protocol, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Len returns the number of protocols.
func (c *Catalog) Len() int { return len(c.order) }

// Merge returns base with overrides applied: an override replaces the base
// entry with the same ID, otherwise it is appended.
func Merge(base, overrides []model.Protocol) []model.Protocol {
	out := make([]model.Protocol, len(base))
	copy(out, base)
	pos := make(map[string]int, len(out))
	for i, p := range out {
		pos[p.ID] = i
	}
	for _, o := range overrides {
		if i, ok := pos[o.ID]; ok {
			out[i] = o
			continue
		}
		pos[o.ID] = len(out)
		out = append(out, o)
	}
	return out
}

// CategoryFromCode maps a strategy router protocol type code.
func CategoryFromCode(code uint8) model.Category {
	switch code {
	case 1:
		return model.CategoryStaking
	case 2:
		return model.CategoryLending
	case 3:
		return model.CategoryDEX
	default:
		return model.CategoryUnknown
	}
}

// CategoryLabel is the display label for a category.
func CategoryLabel(c model.Category) string {
	switch c {
	case model.CategoryStaking:
		return "Staking"
	case model.CategoryLending:
		return "Lending"
	case model.CategoryDEX:
		return "DEX/LP"
	case model.CategoryYield:
		return "Yield"
	default:
		return "Unknown"
	}
}

// DefaultProtocols lists the protocols integrated on Movement testnet.
func DefaultProtocols() []model.Protocol {
	return []model.Protocol{
		{
			ID:          "meridian",
			Name:        "Meridian",
			Category:    model.CategoryStaking,
			URL:         "https://app.meridian.money",
			Description: "Liquid staking for MOVE",
			BaseAPY:     decimal.RequireFromString("12.0"),
			RiskScore:   2,
		},
		{
			ID:          "echelon",
			Name:        "Echelon",
			Category:    model.CategoryLending,
			URL:         "https://app.echelon.market",
			Description: "Money market lending",
			BaseAPY:     decimal.RequireFromString("8.5"),
			RiskScore:   3,
		},
		{
			ID:          "liquidswap",
			Name:        "LiquidSwap",
			Category:    model.CategoryDEX,
			URL:         "https://liquidswap.com",
			Description: "AMM liquidity provision",
			BaseAPY:     decimal.RequireFromString("15.0"),
			RiskScore:   4,
		},
		{
			ID:          "moveposition",
			Name:        "MovePosition",
			Category:    model.CategoryLending,
			URL:         "https://testnet.moveposition.xyz",
			Description: "Cross-margin lending",
			BaseAPY:     decimal.RequireFromString("9.2"),
			RiskScore:   3,
		},
		{
			ID:          "canopy",
			Name:        "Canopy",
			Category:    model.CategoryYield,
			URL:         "https://canopyhub.xyz",
			Description: "Automated yield vaults",
			BaseAPY:     decimal.RequireFromString("11.0"),
			RiskScore:   4,
		},
		{
			ID:          "thunderhead",
			Name:        "Thunderhead",
			Category:    model.CategoryStaking,
			URL:         "https://thunderhead.xyz",
			Description: "Validator staking",
			BaseAPY:     decimal.RequireFromString("6.5"),
			RiskScore:   2,
		},
	}
}
