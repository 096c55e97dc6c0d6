package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/moveflow/vault-engine/internal/catalog"
	"github.com/moveflow/vault-engine/internal/contract"
	"github.com/moveflow/vault-engine/internal/metrics"
	"github.com/moveflow/vault-engine/internal/model"
	"github.com/moveflow/vault-engine/internal/units"
)

// Viewer is the node access the reader needs. *Client implements it.
type Viewer interface {
	View(ctx context.Context, fn contract.Function, typeArgs []string, args ...string) ([]json.RawMessage, error)
	Resource(ctx context.Context, address, resourceType string) (json.RawMessage, error)
}

// Addresses are the on-chain accounts holding vault, router, and rewards state.
type Addresses struct {
	Vault   string
	Router  string
	Rewards string
}

// Reader normalizes view results into model snapshots. Asset-denominated
// values are divided by 10^8; share counts and scores are left unscaled;
// APY basis points become percent.
type Reader struct {
	node     Viewer
	pkg      contract.Package
	addrs    Addresses
	coinType string
	now      func() time.Time
}

// NewReader creates a reader. An empty coinType defaults to AptosCoin.
func NewReader(node Viewer, pkg contract.Package, addrs Addresses, coinType string) *Reader {
	if coinType == "" {
		coinType = contract.AptosCoin
	}
	return &Reader{
		node:     node,
		pkg:      pkg,
		addrs:    addrs,
		coinType: coinType,
		now:      time.Now,
	}
}

func (r *Reader) view(ctx context.Context, module, name string, typeArgs []string, args ...string) (values, error) {
	raw, err := r.node.View(ctx, r.pkg.Function(module, name), typeArgs, args...)
	if err != nil {
		return nil, err
	}
	return values(raw), nil
}

func (r *Reader) coin() []string { return []string{r.coinType} }

func unavailable[T any](r *Reader, function string, err error) model.Reading[T] {
	metrics.ChainUnavailable.WithLabelValues(function).Inc()
	slog.Warn("chain read unavailable", "function", function, "err", err)
	return model.Unavailable[T](err.Error(), r.now().UTC())
}

// VaultInfo reads vault::get_vault_info.
func (r *Reader) VaultInfo(ctx context.Context) model.Reading[model.VaultSnapshot] {
	const fn = "get_vault_info"
	v, err := r.view(ctx, contract.ModuleVault, fn, r.coin(), r.addrs.Vault)
	if err != nil {
		return unavailable[model.VaultSnapshot](r, fn, err)
	}
	snap, err := decodeVault(v)
	if err != nil {
		return unavailable[model.VaultSnapshot](r, fn, err)
	}
	now := r.now().UTC()
	snap.ID = uuid.New().String()
	snap.FetchedAt = now
	return model.Ok(snap, now)
}

func decodeVault(v values) (model.VaultSnapshot, error) {
	if err := v.need(5); err != nil {
		return model.VaultSnapshot{}, err
	}
	assets, err := v.u64(0)
	if err != nil {
		return model.VaultSnapshot{}, err
	}
	shares, err := v.u64(1)
	if err != nil {
		return model.VaultSnapshot{}, err
	}
	yield, err := v.u64(2)
	if err != nil {
		return model.VaultSnapshot{}, err
	}
	paused, err := v.boolean(3)
	if err != nil {
		return model.VaultSnapshot{}, err
	}
	count, err := v.u64(4)
	if err != nil {
		return model.VaultSnapshot{}, err
	}
	if !count.IsUint64() {
		return model.VaultSnapshot{}, fmt.Errorf("%w: strategy count %s", ErrDecode, count)
	}
	return model.VaultSnapshot{
		TotalAssets:      units.ToAsset(assets),
		TotalShares:      shares,
		TotalYieldEarned: units.ToAsset(yield),
		Paused:           paused,
		StrategyCount:    count.Uint64(),
	}, nil
}

// UserPosition reads vault::get_user_position for address.
func (r *Reader) UserPosition(ctx context.Context, address string) model.Reading[model.UserPosition] {
	const fn = "get_user_position"
	v, err := r.view(ctx, contract.ModuleVault, fn, r.coin(), address)
	if err != nil {
		return unavailable[model.UserPosition](r, fn, err)
	}
	pos, err := decodePosition(v)
	if err != nil {
		return unavailable[model.UserPosition](r, fn, err)
	}
	pos.Address = address
	return model.Ok(pos, r.now().UTC())
}

func decodePosition(v values) (model.UserPosition, error) {
	if err := v.need(4); err != nil {
		return model.UserPosition{}, err
	}
	shares, err := v.u64(0)
	if err != nil {
		return model.UserPosition{}, err
	}
	depositTime, err := v.unixTime(1)
	if err != nil {
		return model.UserPosition{}, err
	}
	deposited, err := v.u64(2)
	if err != nil {
		return model.UserPosition{}, err
	}
	withdrawn, err := v.u64(3)
	if err != nil {
		return model.UserPosition{}, err
	}
	return model.UserPosition{
		Shares:         shares,
		DepositTime:    depositTime,
		TotalDeposited: units.ToAsset(deposited),
		TotalWithdrawn: units.ToAsset(withdrawn),
	}, nil
}

// ShareValue reads vault::get_share_value, the chain's own conversion of
// shares to assets.
func (r *Reader) ShareValue(ctx context.Context, shares sdkmath.Int) model.Reading[decimal.Decimal] {
	const fn = "get_share_value"
	v, err := r.view(ctx, contract.ModuleVault, fn, r.coin(), r.addrs.Vault, units.OrZero(shares).String())
	if err != nil {
		return unavailable[decimal.Decimal](r, fn, err)
	}
	if err := v.need(1); err != nil {
		return unavailable[decimal.Decimal](r, fn, err)
	}
	octas, err := v.u64(0)
	if err != nil {
		return unavailable[decimal.Decimal](r, fn, err)
	}
	return model.Ok(units.ToAsset(octas), r.now().UTC())
}

// RouterInfo reads strategy_router::get_router_info.
func (r *Reader) RouterInfo(ctx context.Context) model.Reading[model.RouterSnapshot] {
	const fn = "get_router_info"
	v, err := r.view(ctx, contract.ModuleRouter, fn, r.coin(), r.addrs.Router)
	if err != nil {
		return unavailable[model.RouterSnapshot](r, fn, err)
	}
	snap, err := decodeRouter(v)
	if err != nil {
		return unavailable[model.RouterSnapshot](r, fn, err)
	}
	return model.Ok(snap, r.now().UTC())
}

func decodeRouter(v values) (model.RouterSnapshot, error) {
	if err := v.need(4); err != nil {
		return model.RouterSnapshot{}, err
	}
	count, err := v.small(0)
	if err != nil {
		return model.RouterSnapshot{}, err
	}
	routed, err := v.u64(1)
	if err != nil {
		return model.RouterSnapshot{}, err
	}
	auto, err := v.boolean(2)
	if err != nil {
		return model.RouterSnapshot{}, err
	}
	last, err := v.unixTime(3)
	if err != nil {
		return model.RouterSnapshot{}, err
	}
	return model.RouterSnapshot{
		ProtocolCount: count,
		TotalRouted:   units.ToAsset(routed),
		AutoRebalance: auto,
		LastRebalance: last,
	}, nil
}

// ProtocolInfo reads strategy_router::get_protocol_info for one registry index.
func (r *Reader) ProtocolInfo(ctx context.Context, index int) model.Reading[model.ProtocolSnapshot] {
	const fn = "get_protocol_info"
	v, err := r.view(ctx, contract.ModuleRouter, fn, r.coin(), r.addrs.Router, strconv.Itoa(index))
	if err != nil {
		return unavailable[model.ProtocolSnapshot](r, fn, err)
	}
	snap, err := decodeProtocol(v)
	if err != nil {
		return unavailable[model.ProtocolSnapshot](r, fn, err)
	}
	snap.Index = index
	return model.Ok(snap, r.now().UTC())
}

func decodeProtocol(v values) (model.ProtocolSnapshot, error) {
	if err := v.need(6); err != nil {
		return model.ProtocolSnapshot{}, err
	}
	name, err := v.str(0)
	if err != nil {
		return model.ProtocolSnapshot{}, err
	}
	typeCode, err := v.small(1)
	if err != nil {
		return model.ProtocolSnapshot{}, err
	}
	if typeCode > 255 {
		return model.ProtocolSnapshot{}, fmt.Errorf("%w: protocol type %d", ErrDecode, typeCode)
	}
	active, err := v.boolean(2)
	if err != nil {
		return model.ProtocolSnapshot{}, err
	}
	apyBps, err := v.u64(3)
	if err != nil {
		return model.ProtocolSnapshot{}, err
	}
	deposited, err := v.u64(4)
	if err != nil {
		return model.ProtocolSnapshot{}, err
	}
	risk, err := v.small(5)
	if err != nil {
		return model.ProtocolSnapshot{}, err
	}
	return model.ProtocolSnapshot{
		Name:           name,
		TypeCode:       uint8(typeCode),
		Category:       catalog.CategoryFromCode(uint8(typeCode)),
		Active:         active,
		CurrentAPY:     units.BpsToPercent(apyBps),
		TotalDeposited: units.ToAsset(deposited),
		RiskScore:      risk,
	}, nil
}

// RouterState reads the router, then each registered protocol in index
// order. Protocol reads are sequential because the count is only known
// after the router read. Individual protocol failures are skipped; the list
// is unavailable only if the router read failed or every protocol read did.
func (r *Reader) RouterState(ctx context.Context) model.RouterState {
	router := r.RouterInfo(ctx)
	if !router.Available {
		return model.RouterState{
			Router:    router,
			Protocols: model.Unavailable[[]model.ProtocolSnapshot]("router unavailable: "+router.Reason, router.FetchedAt),
		}
	}

	count := router.Value.ProtocolCount
	protocols := make([]model.ProtocolSnapshot, 0, count)
	var lastReason string
	for i := 0; i < count; i++ {
		p := r.ProtocolInfo(ctx, i)
		if !p.Available {
			lastReason = p.Reason
			continue
		}
		protocols = append(protocols, p.Value)
	}

	now := r.now().UTC()
	if count > 0 && len(protocols) == 0 {
		return model.RouterState{
			Router:    router,
			Protocols: model.Unavailable[[]model.ProtocolSnapshot](lastReason, now),
		}
	}
	return model.RouterState{Router: router, Protocols: model.Ok(protocols, now)}
}

// AccountBalance reads the wallet's coin balance from its CoinStore. An
// account without a CoinStore holds zero.
func (r *Reader) AccountBalance(ctx context.Context, address string) model.Reading[decimal.Decimal] {
	const fn = "coin_store"
	data, err := r.node.Resource(ctx, address, contract.CoinStore(r.coinType))
	if IsNotFound(err) {
		return model.Ok(decimal.Zero, r.now().UTC())
	}
	if err != nil {
		return unavailable[decimal.Decimal](r, fn, err)
	}
	var store struct {
		Coin struct {
			Value string `json:"value"`
		} `json:"coin"`
	}
	if err := json.Unmarshal(data, &store); err != nil {
		return unavailable[decimal.Decimal](r, fn, fmt.Errorf("%w: %v", ErrDecode, err))
	}
	octas, err := units.ParseUint(store.Coin.Value)
	if err != nil {
		return unavailable[decimal.Decimal](r, fn, fmt.Errorf("%w: %v", ErrDecode, err))
	}
	return model.Ok(units.ToAsset(octas), r.now().UTC())
}

// RewardsDistributed reads rewards::get_total_distributed.
func (r *Reader) RewardsDistributed(ctx context.Context) model.Reading[decimal.Decimal] {
	const fn = "get_total_distributed"
	if r.addrs.Rewards == "" {
		return model.Unavailable[decimal.Decimal]("rewards distributor not configured", r.now().UTC())
	}
	return r.amount(ctx, contract.ModuleRewards, fn, nil, r.addrs.Rewards)
}

// PendingRewards reads rewards::get_pending_rewards for a user in a pool.
func (r *Reader) PendingRewards(ctx context.Context, pool, user string) model.Reading[decimal.Decimal] {
	const fn = "get_pending_rewards"
	if r.addrs.Rewards == "" {
		return model.Unavailable[decimal.Decimal]("rewards distributor not configured", r.now().UTC())
	}
	return r.amount(ctx, contract.ModuleRewards, fn, nil, r.addrs.Rewards, pool, user)
}

func (r *Reader) amount(ctx context.Context, module, fn string, typeArgs []string, args ...string) model.Reading[decimal.Decimal] {
	v, err := r.view(ctx, module, fn, typeArgs, args...)
	if err == nil {
		err = v.need(1)
	}
	if err != nil {
		return unavailable[decimal.Decimal](r, fn, err)
	}
	octas, err := v.u64(0)
	if err != nil {
		return unavailable[decimal.Decimal](r, fn, err)
	}
	return model.Ok(units.ToAsset(octas), r.now().UTC())
}
