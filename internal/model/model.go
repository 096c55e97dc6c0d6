// Package model defines the core domain types shared across the vault engine.
// Asset-denominated values use shopspring/decimal; raw on-chain integers
// (shares, octas) use cosmossdk.io/math so they never pass through float64.
package model

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// Category classifies a yield source.
type Category string

const (
	CategoryDEX     Category = "dex"
	CategoryLending Category = "lending"
	CategoryStaking Category = "staking"
	CategoryYield   Category = "yield-aggregator"
	CategoryUnknown Category = "unknown"
)

// RiskTier is an informational label on a strategy. It never feeds a computation.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// Protocol is an immutable catalog entry describing one yield source.
type Protocol struct {
	ID          string          `json:"id" yaml:"id" validate:"required"`
	Name        string          `json:"name" yaml:"name" validate:"required"`
	Category    Category        `json:"category" yaml:"category" validate:"oneof=dex lending staking yield-aggregator"`
	URL         string          `json:"url" yaml:"url" validate:"omitempty,url"`
	Description string          `json:"description" yaml:"description"`
	BaseAPY     decimal.Decimal `json:"base_apy" yaml:"base_apy"` // percent
	RiskScore   int             `json:"risk_score" yaml:"risk_score" validate:"min=1,max=10"`
}

// Strategy is one allocation of vault capital to a catalog protocol.
type Strategy struct {
	ID            string          `json:"id" yaml:"id" validate:"required"`
	ProtocolID    string          `json:"protocol_id" yaml:"protocol_id" validate:"required"`
	Name          string          `json:"name" yaml:"name"`
	Description   string          `json:"description,omitempty" yaml:"description"`
	AllocationBps int             `json:"allocation_bps" yaml:"allocation_bps" validate:"min=0,max=10000"`
	TargetAPY     decimal.Decimal `json:"target_apy" yaml:"target_apy"` // percent
	RiskTier      RiskTier        `json:"risk_tier" yaml:"risk_tier" validate:"omitempty,oneof=low medium high"`
	Active        bool            `json:"active" yaml:"active"`
	OnChainIndex  *int            `json:"on_chain_index,omitempty" yaml:"on_chain_index" validate:"omitempty,min=0"`
}

// VaultSnapshot is one normalized read of the vault totals.
// Snapshots are replaced wholesale on refresh, never mutated.
type VaultSnapshot struct {
	ID               string          `json:"id" db:"id"`
	TotalAssets      decimal.Decimal `json:"total_assets" db:"total_assets"`
	TotalShares      sdkmath.Int     `json:"total_shares" db:"total_shares"`
	TotalYieldEarned decimal.Decimal `json:"total_yield_earned" db:"total_yield_earned"`
	Paused           bool            `json:"paused" db:"paused"`
	StrategyCount    uint64          `json:"strategy_count" db:"strategy_count"`
	FetchedAt        time.Time       `json:"fetched_at" db:"fetched_at"`
}

// UserPosition is a per-address vault position as reported by the chain.
// Current value and P&L are derived, see package valuation.
type UserPosition struct {
	Address        string          `json:"address"`
	Shares         sdkmath.Int     `json:"shares"`
	DepositTime    time.Time       `json:"deposit_time"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
}

// RouterSnapshot is one read of the strategy router totals.
type RouterSnapshot struct {
	ProtocolCount int             `json:"protocol_count"`
	TotalRouted   decimal.Decimal `json:"total_routed"`
	AutoRebalance bool            `json:"auto_rebalance"`
	LastRebalance time.Time       `json:"last_rebalance"`
}

// ProtocolSnapshot is one entry of the on-chain strategy router registry.
// It is reconciliation input only and is never persisted.
type ProtocolSnapshot struct {
	Index          int             `json:"index"`
	Name           string          `json:"name"`
	TypeCode       uint8           `json:"type_code"`
	Category       Category        `json:"category"`
	Active         bool            `json:"active"`
	CurrentAPY     decimal.Decimal `json:"current_apy"` // percent
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	RiskScore      int             `json:"risk_score"`
}

// Reading wraps the result of a chain read. A failed read is reported with
// Available=false and a Reason instead of an error so renderers can show a
// loading or stale state.
//
// Stale marks a Value carried over from an earlier successful read after the
// most recent one failed.
type Reading[T any] struct {
	Value     T         `json:"value"`
	Available bool      `json:"available"`
	Stale     bool      `json:"stale,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Ok returns an available reading.
func Ok[T any](v T, at time.Time) Reading[T] {
	return Reading[T]{Value: v, Available: true, FetchedAt: at}
}

// Unavailable returns a failed reading.
func Unavailable[T any](reason string, at time.Time) Reading[T] {
	return Reading[T]{Reason: reason, FetchedAt: at}
}

// Supersede returns next unless it failed while prev holds a usable value,
// in which case prev is kept and marked stale.
func Supersede[T any](prev, next Reading[T]) Reading[T] {
	if next.Available || !prev.Available {
		return next
	}
	prev.Stale = true
	prev.Reason = next.Reason
	return prev
}

// RouterState is a router read plus the per-protocol reads it enables.
type RouterState struct {
	Router    Reading[RouterSnapshot]     `json:"router"`
	Protocols Reading[[]ProtocolSnapshot] `json:"protocols"`
}

// Action is a mutating vault operation a user can be prompted for.
type Action string

const (
	ActionDeposit  Action = "deposit"
	ActionWithdraw Action = "withdraw"
)

// PromptState is the conversational prompt state.
type PromptState string

const (
	PromptIdle           PromptState = ""
	PromptAwaitingAmount PromptState = "awaiting_amount"
)

// Prompt is the pending-amount context of a conversation.
type Prompt struct {
	State      PromptState `json:"state"`
	Action     Action      `json:"action,omitempty"`
	StrategyID string      `json:"strategy_id,omitempty"`
}

// Awaiting reports whether the conversation expects an amount next.
func (p Prompt) Awaiting() bool { return p.State == PromptAwaitingAmount }

// Session is the per-conversation state carried between bot messages.
type Session struct {
	ConversationID int64     `json:"conversation_id"`
	Wallet         string    `json:"wallet,omitempty"`
	Prompt         Prompt    `json:"prompt"`
	UpdatedAt      time.Time `json:"updated_at"`
}
