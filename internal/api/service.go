// Package api provides the HTTP handlers backing the web UI: catalog and
// strategy views, vault and position reads, payload building, and manual
// refresh.
//
// Chain reads come from the refresh scheduler's snapshot. An unavailable
// read is returned as 200 with available=false so the UI can render a
// loading or stale state; only malformed input is rejected.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/moveflow/vault-engine/internal/catalog"
	"github.com/moveflow/vault-engine/internal/contract"
	"github.com/moveflow/vault-engine/internal/metrics"
	"github.com/moveflow/vault-engine/internal/model"
	"github.com/moveflow/vault-engine/internal/payload"
	"github.com/moveflow/vault-engine/internal/refresh"
	"github.com/moveflow/vault-engine/internal/store"
	"github.com/moveflow/vault-engine/internal/strategy"
	"github.com/moveflow/vault-engine/internal/units"
	"github.com/moveflow/vault-engine/internal/valuation"
)

// State is the refresh scheduler surface the handlers use.
type State interface {
	Current() *refresh.Snapshot
	TriggerAll()
	Watch(address string) bool
	RefreshPosition(ctx context.Context, address string) bool
}

// Balances reads wallet coin balances and the vault's own share pricing.
type Balances interface {
	AccountBalance(ctx context.Context, address string) model.Reading[decimal.Decimal]
	ShareValue(ctx context.Context, shares sdkmath.Int) model.Reading[decimal.Decimal]
}

// Rewards reads the rewards distributor.
type Rewards interface {
	RewardsDistributed(ctx context.Context) model.Reading[decimal.Decimal]
	PendingRewards(ctx context.Context, pool, user string) model.Reading[decimal.Decimal]
}

// Service serves the /api/v1 routes.
type Service struct {
	catalog  *catalog.Catalog
	state    State
	balances Balances
	rewards  Rewards
	pool     string
	builder  *payload.Builder
	store    store.Store
	feeBps   int
	wsHub    *WSHub // optional WebSocket hub for snapshot broadcasts
}

// Options configures a Service.
type Options struct {
	Catalog  *catalog.Catalog
	State    State
	Balances Balances

	// Rewards is optional; PendingRewards is read for RewardsPool.
	Rewards     Rewards
	RewardsPool string
	Builder     *payload.Builder
	Store       store.Store
	FeeBps      int
	Hub         *WSHub
}

// NewService creates the API service.
// Pass a nil Hub if WebSocket broadcasting is not needed.
func NewService(o Options) *Service {
	return &Service{
		catalog:  o.Catalog,
		state:    o.State,
		balances: o.Balances,
		rewards:  o.Rewards,
		pool:     o.RewardsPool,
		builder:  o.Builder,
		store:    o.Store,
		feeBps:   o.FeeBps,
		wsHub:    o.Hub,
	}
}

// Routes mounts the handlers on r. Mount under /api/v1.
func (s *Service) Routes(r chi.Router) {
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	r.Get("/protocols", s.ListProtocols)
	r.Get("/strategies", s.GetStrategies)
	r.Get("/vault", s.GetVault)
	r.Get("/vault/history", s.GetVaultHistory)
	r.Get("/router", s.GetRouter)
	r.Get("/positions/{address}", s.GetPosition)
	if s.rewards != nil {
		r.Get("/rewards", s.GetRewards)
		r.Get("/rewards/{address}", s.GetPendingRewards)
	}

	r.Post("/payloads/deposit", s.BuildDeposit)
	r.Post("/payloads/withdraw", s.BuildWithdraw)
	r.Post("/payloads/harvest", s.BuildHarvest)

	r.Post("/refresh", s.TriggerRefresh)
}

// --- Request/Response types ---

// StrategiesResponse is the table plus its blended metrics.
type StrategiesResponse struct {
	Strategies []StrategyView `json:"strategies"`
	strategy.Summary
}

// StrategyView is a strategy joined with its catalog protocol.
type StrategyView struct {
	model.Strategy
	Protocol   *model.Protocol `json:"protocol,omitempty"`
	Allocation string          `json:"allocation"`
}

// VaultResponse is the latest vault read with derived metrics.
type VaultResponse struct {
	Vault       model.Reading[model.VaultSnapshot] `json:"vault"`
	RealizedAPY *decimal.Decimal                   `json:"realized_apy"`
}

// PositionResponse is one address's position, its valuation, and the
// wallet balance.
type PositionResponse struct {
	Address    string                            `json:"address"`
	Position   model.Reading[model.UserPosition] `json:"position"`
	Value      *valuation.PositionValue          `json:"value"`
	Balance    model.Reading[decimal.Decimal]    `json:"balance"`
	// ChainValue is get_share_value for the held shares, as reported by
	// the vault contract.
	ChainValue *model.Reading[decimal.Decimal]   `json:"chain_value,omitempty"`
}

// DepositRequest is the JSON body for POST /payloads/deposit.
type DepositRequest struct {
	Amount string `json:"amount"` // asset units, e.g. "1.5"
}

// WithdrawRequest is the JSON body for POST /payloads/withdraw.
type WithdrawRequest struct {
	Shares string `json:"shares"` // raw share count
}

// DepositResponse is an unsigned deposit payload with a preview.
type DepositResponse struct {
	Payload         payload.EntryFunction `json:"payload"`
	Amount          decimal.Decimal       `json:"amount"`
	EstimatedShares *sdkmath.Int          `json:"estimated_shares"`
	Projection      valuation.Projection  `json:"projection"`
}

// WithdrawResponse is an unsigned withdraw payload with a preview.
type WithdrawResponse struct {
	Payload payload.EntryFunction `json:"payload"`
	Preview *valuation.Withdrawal `json:"preview"`
}

// --- HTTP Handlers ---

// ListProtocols handles GET /api/v1/protocols
func (s *Service) ListProtocols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.All())
}

// GetStrategies handles GET /api/v1/strategies
// Risk score is null with risk_undefined=true for an empty table.
func (s *Service) GetStrategies(w http.ResponseWriter, r *http.Request) {
	table := s.state.Current().Strategies
	summary, err := strategy.Summarize(table, s.catalog)
	if err != nil {
		slog.Error("summarize strategies", "err", err)
		writeError(w, "strategy table references an unknown protocol", http.StatusInternalServerError)
		return
	}

	views := make([]StrategyView, 0, len(table))
	for _, st := range table {
		v := StrategyView{Strategy: st, Allocation: strategy.FormatAllocation(st.AllocationBps)}
		if p, ok := s.catalog.Get(st.ProtocolID); ok {
			v.Protocol = &p
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, StrategiesResponse{Strategies: views, Summary: summary})
}

// GetVault handles GET /api/v1/vault
func (s *Service) GetVault(w http.ResponseWriter, r *http.Request) {
	vault := s.state.Current().Vault
	resp := VaultResponse{Vault: vault}
	if vault.Available {
		apy := valuation.RealizedAPY(vault.Value)
		resp.RealizedAPY = &apy
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetVaultHistory handles GET /api/v1/vault/history?limit=N
func (s *Service) GetVaultHistory(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultHistoryLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	snaps, err := s.store.ListVaultSnapshots(r.Context(), limit)
	if err != nil {
		slog.Error("list vault snapshots", "err", err)
		writeError(w, "failed to load vault history", http.StatusInternalServerError)
		return
	}
	if snaps == nil {
		snaps = []model.VaultSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// GetRouter handles GET /api/v1/router
func (s *Service) GetRouter(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Current().Router)
}

// GetPosition handles GET /api/v1/positions/{address}
// The address is added to the watch list; on first sight its position is
// read synchronously.
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	addr, err := contract.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	s.state.Watch(addr)
	if _, ok := s.state.Current().Position(addr); !ok {
		s.state.RefreshPosition(ctx, addr)
	}

	snap := s.state.Current()
	pos, ok := snap.Position(addr)
	if !ok {
		pos = model.Unavailable[model.UserPosition]("not loaded", time.Now().UTC())
	}

	resp := PositionResponse{
		Address:  addr,
		Position: pos,
		Balance:  s.balances.AccountBalance(ctx, addr),
	}
	if pos.Available && snap.Vault.Available {
		v := valuation.Value(snap.Vault.Value, pos.Value)
		resp.Value = &v
	}
	if pos.Available && units.OrZero(pos.Value.Shares).IsPositive() {
		cv := s.balances.ShareValue(ctx, pos.Value.Shares)
		resp.ChainValue = &cv
		if cv.Available && resp.Value != nil && !cv.Value.Equal(resp.Value.CurrentValue.Truncate(8)) {
			slog.Debug("share value differs from snapshot", "address", addr,
				"chain", cv.Value.String(), "snapshot", resp.Value.CurrentValue.String())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRewards handles GET /api/v1/rewards
func (s *Service) GetRewards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rewards.RewardsDistributed(r.Context()))
}

// GetPendingRewards handles GET /api/v1/rewards/{address}
func (s *Service) GetPendingRewards(w http.ResponseWriter, r *http.Request) {
	addr, err := contract.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.rewards.PendingRewards(r.Context(), s.pool, addr))
}

// BuildDeposit handles POST /api/v1/payloads/deposit
// Returns an unsigned payload; signing happens in the user's wallet.
func (s *Service) BuildDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	amount, err := payload.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	snap := s.state.Current()
	resp := DepositResponse{
		Payload:    s.builder.Deposit(amount),
		Amount:     amount,
		Projection: valuation.ProjectYield(amount, strategy.WeightedAPY(snap.Strategies)),
	}
	if snap.Vault.Available {
		shares := valuation.EstimateShares(snap.Vault.Value, amount)
		resp.EstimatedShares = &shares
	}

	metrics.PayloadsBuilt.WithLabelValues("deposit").Inc()
	slog.Info("deposit payload built", "amount", amount.String())
	writeJSON(w, http.StatusOK, resp)
}

// BuildWithdraw handles POST /api/v1/payloads/withdraw
func (s *Service) BuildWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	shares, err := payload.ParseShares(req.Shares)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := WithdrawResponse{Payload: s.builder.Withdraw(shares)}
	if vault := s.state.Current().Vault; vault.Available {
		preview := valuation.PreviewWithdraw(vault.Value, shares, s.feeBps)
		resp.Preview = &preview
	}

	metrics.PayloadsBuilt.WithLabelValues("withdraw").Inc()
	slog.Info("withdraw payload built", "shares", shares.String())
	writeJSON(w, http.StatusOK, resp)
}

// BuildHarvest handles POST /api/v1/payloads/harvest
func (s *Service) BuildHarvest(w http.ResponseWriter, r *http.Request) {
	metrics.PayloadsBuilt.WithLabelValues("harvest").Inc()
	writeJSON(w, http.StatusOK, map[string]payload.EntryFunction{"payload": s.builder.Harvest()})
}

// TriggerRefresh handles POST /api/v1/refresh
func (s *Service) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	s.state.TriggerAll()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
}

// --- Refresh listener ---

// OnUpdate persists and broadcasts applied refresh results. Register it
// with the scheduler.
func (s *Service) OnUpdate(u refresh.Update) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch u.Group {
	case refresh.GroupVault:
		vault := u.Snapshot.Vault
		if vault.Available && !vault.Stale && s.store != nil {
			snap := vault.Value
			if err := s.store.InsertVaultSnapshot(ctx, &snap); err != nil {
				slog.Error("persist vault snapshot", "id", snap.ID, "err", err)
			}
		}
		s.broadcast(WSMessage{Type: "vault_updated", Seq: u.Seq, Data: vault})

	case refresh.GroupRouter:
		if len(u.Changes) > 0 && s.store != nil {
			if err := s.store.SaveStrategyTable(ctx, u.Snapshot.Strategies); err != nil {
				slog.Error("persist strategy table", "err", err)
			}
		}
		summary, err := strategy.Summarize(u.Snapshot.Strategies, s.catalog)
		if err != nil && !errors.Is(err, strategy.ErrUndefinedRiskScore) {
			slog.Error("summarize strategies", "err", err)
		}
		s.broadcast(WSMessage{Type: "strategies_updated", Seq: u.Seq, Data: map[string]any{
			"router":     u.Snapshot.Router,
			"strategies": u.Snapshot.Strategies,
			"summary":    summary,
			"changes":    u.Changes,
		}})
	}
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
