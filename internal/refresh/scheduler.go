// Package refresh keeps an in-memory view of vault, position, and router
// state current. Timer-driven runs and manual triggers may overlap; each run
// takes a generation number and its result is applied only if no newer run
// of the same group has been applied already.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/moveflow/vault-engine/internal/metrics"
	"github.com/moveflow/vault-engine/internal/model"
	"github.com/moveflow/vault-engine/internal/strategy"
)

// Group names a set of resources refreshed together.
type Group string

const (
	GroupVault    Group = "vault"
	GroupRouter   Group = "router"
	GroupPosition Group = "position"
)

var errUnavailable = errors.New("refresh: read unavailable")

// Source is the chain access the scheduler needs. *chain.Reader implements it.
type Source interface {
	VaultInfo(ctx context.Context) model.Reading[model.VaultSnapshot]
	UserPosition(ctx context.Context, address string) model.Reading[model.UserPosition]
	RouterState(ctx context.Context) model.RouterState
}

// Config controls run intervals, retry behavior, and the watch list bounds.
type Config struct {
	VaultInterval  time.Duration
	RouterInterval time.Duration
	MaxRetries     uint64
	RetryInitial   time.Duration

	// MaxWatched caps the watch list; the least recently accessed address
	// is evicted to make room.
	MaxWatched int
	// WatchIdle evicts addresses not accessed for this long.
	WatchIdle time.Duration
	// ReadConcurrency bounds the position reads in flight per vault run.
	ReadConcurrency int
}

func (c Config) withDefaults() Config {
	if c.VaultInterval <= 0 {
		c.VaultInterval = 30 * time.Second
	}
	if c.RouterInterval <= 0 {
		c.RouterInterval = 60 * time.Second
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 500 * time.Millisecond
	}
	if c.MaxWatched <= 0 {
		c.MaxWatched = 1000
	}
	if c.WatchIdle <= 0 {
		c.WatchIdle = 24 * time.Hour
	}
	if c.ReadConcurrency <= 0 {
		c.ReadConcurrency = 8
	}
	return c
}

// Snapshot is an immutable view of everything the scheduler tracks.
// A new Snapshot is swapped in on every applied update; none is ever
// modified after publication.
type Snapshot struct {
	Vault      model.Reading[model.VaultSnapshot]            `json:"vault"`
	VaultSeq   uint64                                        `json:"vault_seq"`
	Router     model.RouterState                             `json:"router"`
	RouterSeq  uint64                                        `json:"router_seq"`
	Strategies strategy.Table                                `json:"strategies"`
	Positions  map[string]model.Reading[model.UserPosition] `json:"-"`
	UpdatedAt  time.Time                                     `json:"updated_at"`

	positionSeq map[string]uint64
}

// Position returns the tracked reading for address.
func (s *Snapshot) Position(address string) (model.Reading[model.UserPosition], bool) {
	p, ok := s.Positions[address]
	return p, ok
}

// Update is passed to listeners after a result has been applied.
type Update struct {
	Group    Group
	Seq      uint64
	Snapshot *Snapshot
	Changes  []strategy.Change
}

// Listener is notified synchronously, from the refreshing goroutine, after
// each applied update. Listeners must not block for long.
type Listener func(Update)

// Scheduler runs periodic and on-demand refreshes.
type Scheduler struct {
	src  Source
	cfg  Config
	cron *cron.Cron
	now  func() time.Time

	state     atomic.Pointer[Snapshot]
	vaultGen  atomic.Uint64
	routerGen atomic.Uint64
	posGen    atomic.Uint64
	stopped   atomic.Bool

	watchMu sync.Mutex
	watch   map[string]time.Time // address -> last access

	mu        sync.RWMutex
	listeners []Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler seeded with the configured strategy table.
func New(src Source, table strategy.Table, cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		src:    src,
		cfg:    cfg.withDefaults(),
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		now:    time.Now,
		watch:  map[string]time.Time{},
		ctx:    ctx,
		cancel: cancel,
	}
	now := s.now().UTC()
	s.state.Store(&Snapshot{
		Vault: model.Unavailable[model.VaultSnapshot]("not loaded", now),
		Router: model.RouterState{
			Router:    model.Unavailable[model.RouterSnapshot]("not loaded", now),
			Protocols: model.Unavailable[[]model.ProtocolSnapshot]("not loaded", now),
		},
		Strategies:  table.Clone(),
		Positions:   map[string]model.Reading[model.UserPosition]{},
		UpdatedAt:   now,
		positionSeq: map[string]uint64{},
	})
	metrics.WeightedAPY.Set(strategy.WeightedAPY(table).InexactFloat64())
	return s
}

// OnUpdate registers a listener.
func (s *Scheduler) OnUpdate(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Current returns the latest snapshot.
func (s *Scheduler) Current() *Snapshot {
	return s.state.Load()
}

// Start registers the periodic runs, starts the cron loop, and kicks off an
// initial refresh of both groups.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(every(s.cfg.VaultInterval), func() { s.RefreshVault(s.ctx) }); err != nil {
		return fmt.Errorf("register vault refresh: %w", err)
	}
	if _, err := s.cron.AddFunc(every(s.cfg.RouterInterval), func() { s.RefreshRouter(s.ctx) }); err != nil {
		return fmt.Errorf("register router refresh: %w", err)
	}
	s.cron.Start()
	slog.Info("refresh scheduler started",
		"vault_interval", s.cfg.VaultInterval.String(),
		"router_interval", s.cfg.RouterInterval.String(),
	)
	s.TriggerAll()
	return nil
}

// Stop cancels in-flight reads and retries, halts the cron loop, and waits
// for running jobs to return. Results completing after Stop are discarded.
func (s *Scheduler) Stop() {
	s.stopped.Store(true)
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	slog.Info("refresh scheduler stopped")
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// TriggerVault starts a vault refresh in the background.
func (s *Scheduler) TriggerVault() { s.background(func(ctx context.Context) { s.RefreshVault(ctx) }) }

// TriggerRouter starts a router refresh in the background.
func (s *Scheduler) TriggerRouter() { s.background(func(ctx context.Context) { s.RefreshRouter(ctx) }) }

// TriggerAll starts both refreshes in the background.
func (s *Scheduler) TriggerAll() {
	s.TriggerVault()
	s.TriggerRouter()
}

func (s *Scheduler) background(fn func(ctx context.Context)) {
	if s.stopped.Load() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// Watch marks an address as accessed and keeps its position refreshed with
// every vault run. It reports whether the address was newly added. When the
// list is full the least recently accessed address is evicted.
func (s *Scheduler) Watch(address string) bool {
	now := s.now()
	s.watchMu.Lock()
	if _, ok := s.watch[address]; ok {
		s.watch[address] = now
		s.watchMu.Unlock()
		return false
	}
	var evicted string
	if len(s.watch) >= s.cfg.MaxWatched {
		for addr, seen := range s.watch {
			if evicted == "" || seen.Before(s.watch[evicted]) {
				evicted = addr
			}
		}
		delete(s.watch, evicted)
	}
	s.watch[address] = now
	n := len(s.watch)
	s.watchMu.Unlock()

	if evicted != "" {
		metrics.WatchEvictions.WithLabelValues("capacity").Inc()
		s.dropPositions(evicted)
	}
	metrics.WatchedAddresses.Set(float64(n))
	return true
}

// Unwatch stops scheduled refreshes for the addresses and forgets their
// positions.
func (s *Scheduler) Unwatch(addresses ...string) {
	var removed []string
	s.watchMu.Lock()
	for _, a := range addresses {
		if _, ok := s.watch[a]; ok {
			delete(s.watch, a)
			removed = append(removed, a)
		}
	}
	n := len(s.watch)
	s.watchMu.Unlock()
	if len(removed) > 0 {
		metrics.WatchedAddresses.Set(float64(n))
		s.dropPositions(removed...)
	}
}

func (s *Scheduler) watching(address string) bool {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	_, ok := s.watch[address]
	return ok
}

func (s *Scheduler) watchSet() map[string]bool {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	set := make(map[string]bool, len(s.watch))
	for addr := range s.watch {
		set[addr] = true
	}
	return set
}

// watched evicts idle addresses and returns the rest.
func (s *Scheduler) watched() []string {
	cutoff := s.now().Add(-s.cfg.WatchIdle)
	var out, idle []string
	s.watchMu.Lock()
	for addr, seen := range s.watch {
		if seen.Before(cutoff) {
			idle = append(idle, addr)
			continue
		}
		out = append(out, addr)
	}
	s.watchMu.Unlock()

	if len(idle) > 0 {
		s.Unwatch(idle...)
		metrics.WatchEvictions.WithLabelValues("idle").Add(float64(len(idle)))
		slog.Debug("idle addresses unwatched", "count", len(idle))
	}
	return out
}

// dropPositions removes addresses from the published snapshot.
func (s *Scheduler) dropPositions(addrs ...string) {
	for {
		cur := s.state.Load()
		next := *cur
		next.Positions = make(map[string]model.Reading[model.UserPosition], len(cur.Positions))
		next.positionSeq = make(map[string]uint64, len(cur.positionSeq))
		for k, v := range cur.Positions {
			next.Positions[k] = v
		}
		for k, v := range cur.positionSeq {
			next.positionSeq[k] = v
		}
		for _, a := range addrs {
			delete(next.Positions, a)
			delete(next.positionSeq, a)
		}
		if s.state.CompareAndSwap(cur, &next) {
			return
		}
	}
}

// retry repeats read with exponential backoff while it reports false,
// bounded by MaxRetries and by half the group interval.
func (s *Scheduler) retry(ctx context.Context, interval time.Duration, read func() bool) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.RetryInitial
	eb.MaxElapsedTime = interval / 2
	b := backoff.WithContext(backoff.WithMaxRetries(eb, s.cfg.MaxRetries), ctx)
	_ = backoff.Retry(func() error {
		if read() {
			return nil
		}
		return errUnavailable
	}, b)
}

// RefreshVault reads the vault totals and every watched position
// concurrently, then applies them unless newer runs have already been
// applied. It reports whether the vault result was applied.
func (s *Scheduler) RefreshVault(ctx context.Context) bool {
	seq := s.vaultGen.Add(1)
	addrs := s.watched()
	reads := make([]positionRead, len(addrs))

	var vault model.Reading[model.VaultSnapshot]
	var g errgroup.Group
	g.SetLimit(s.cfg.ReadConcurrency + 1)
	g.Go(func() error {
		s.retry(ctx, s.cfg.VaultInterval, func() bool {
			vault = s.src.VaultInfo(ctx)
			return vault.Available
		})
		return nil
	})
	for i, addr := range addrs {
		reads[i] = positionRead{address: addr, seq: s.posGen.Add(1)}
		g.Go(func() error {
			reads[i].reading = s.src.UserPosition(ctx, addr)
			return nil
		})
	}
	_ = g.Wait()

	if len(reads) > 0 {
		s.applyPositions(reads)
	}

	var applied *Snapshot
	for {
		cur := s.state.Load()
		if s.stopped.Load() || seq <= cur.VaultSeq {
			s.drop(GroupVault, seq, cur.VaultSeq)
			return false
		}
		next := *cur
		next.Vault = model.Supersede(cur.Vault, vault)
		next.VaultSeq = seq
		next.UpdatedAt = s.now().UTC()
		if s.state.CompareAndSwap(cur, &next) {
			applied = &next
			break
		}
	}

	outcome := "applied"
	if !vault.Available {
		outcome = "unavailable"
	} else {
		metrics.TotalAssets.Set(vault.Value.TotalAssets.InexactFloat64())
	}
	metrics.RefreshRuns.WithLabelValues(string(GroupVault), outcome).Inc()
	slog.Debug("vault refreshed", "seq", seq, "available", vault.Available, "positions", len(reads))
	s.notify(Update{Group: GroupVault, Seq: seq, Snapshot: applied})
	return true
}

type positionRead struct {
	address string
	seq     uint64
	reading model.Reading[model.UserPosition]
}

// RefreshPosition reads one watched address's position and applies it
// unless a newer read of the same address has already been applied.
// Addresses that are not watched are not read.
func (s *Scheduler) RefreshPosition(ctx context.Context, address string) bool {
	if !s.watching(address) {
		return false
	}
	read := positionRead{address: address, seq: s.posGen.Add(1)}
	read.reading = s.src.UserPosition(ctx, address)
	return s.applyPositions([]positionRead{read}) > 0
}

// applyPositions publishes a batch of position reads in one snapshot swap.
// Reads older than the applied one for the same address, and readings of
// addresses no longer watched, are dropped. It returns how many applied.
func (s *Scheduler) applyPositions(reads []positionRead) int {
	var (
		applied *Snapshot
		kept    []positionRead
	)
	for {
		cur := s.state.Load()
		if s.stopped.Load() {
			for _, r := range reads {
				s.drop(GroupPosition, r.seq, cur.positionSeq[r.address])
			}
			return 0
		}
		live := s.watchSet()
		kept = kept[:0]
		for _, r := range reads {
			if r.seq <= cur.positionSeq[r.address] || !live[r.address] {
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			break
		}
		next := *cur
		next.Positions = make(map[string]model.Reading[model.UserPosition], len(live))
		next.positionSeq = make(map[string]uint64, len(live))
		for k, v := range cur.Positions {
			if live[k] {
				next.Positions[k] = v
				next.positionSeq[k] = cur.positionSeq[k]
			}
		}
		for _, r := range kept {
			next.Positions[r.address] = model.Supersede(cur.Positions[r.address], r.reading)
			next.positionSeq[r.address] = r.seq
		}
		next.UpdatedAt = s.now().UTC()
		if s.state.CompareAndSwap(cur, &next) {
			applied = &next
			break
		}
	}

	if dropped := len(reads) - len(kept); dropped > 0 {
		metrics.RefreshDropped.WithLabelValues(string(GroupPosition)).Add(float64(dropped))
	}
	if applied == nil {
		return 0
	}
	var last uint64
	for _, r := range kept {
		outcome := "applied"
		if !r.reading.Available {
			outcome = "unavailable"
		}
		metrics.RefreshRuns.WithLabelValues(string(GroupPosition), outcome).Inc()
		last = max(last, r.seq)
	}
	s.notify(Update{Group: GroupPosition, Seq: last, Snapshot: applied})
	return len(kept)
}

// RefreshRouter reads the router and its protocols and reconciles the
// strategy table against them. The table is left as-is when the protocol
// list is unavailable.
func (s *Scheduler) RefreshRouter(ctx context.Context) bool {
	seq := s.routerGen.Add(1)

	var rs model.RouterState
	s.retry(ctx, s.cfg.RouterInterval, func() bool {
		rs = s.src.RouterState(ctx)
		return rs.Router.Available && rs.Protocols.Available
	})

	var (
		applied *Snapshot
		changes []strategy.Change
	)
	for {
		cur := s.state.Load()
		if s.stopped.Load() || seq <= cur.RouterSeq {
			s.drop(GroupRouter, seq, cur.RouterSeq)
			return false
		}
		next := *cur
		next.Router = model.RouterState{
			Router:    model.Supersede(cur.Router.Router, rs.Router),
			Protocols: model.Supersede(cur.Router.Protocols, rs.Protocols),
		}
		next.RouterSeq = seq
		changes = nil
		if rs.Protocols.Available {
			table, err := strategy.Reconcile(cur.Strategies, rs.Protocols.Value)
			if err != nil {
				slog.Error("reconcile strategies", "seq", seq, "err", err)
			} else {
				changes = strategy.Diff(cur.Strategies, table)
				next.Strategies = table
			}
		}
		next.UpdatedAt = s.now().UTC()
		if s.state.CompareAndSwap(cur, &next) {
			applied = &next
			break
		}
	}

	outcome := "applied"
	if !rs.Router.Available || !rs.Protocols.Available {
		outcome = "unavailable"
	}
	metrics.RefreshRuns.WithLabelValues(string(GroupRouter), outcome).Inc()
	metrics.WeightedAPY.Set(strategy.WeightedAPY(applied.Strategies).InexactFloat64())
	if len(changes) > 0 {
		slog.Info("strategy table reconciled", "seq", seq, "changes", len(changes))
	}
	s.notify(Update{Group: GroupRouter, Seq: seq, Snapshot: applied, Changes: changes})
	return true
}

func (s *Scheduler) drop(g Group, seq, appliedSeq uint64) {
	metrics.RefreshDropped.WithLabelValues(string(g)).Inc()
	slog.Debug("refresh result dropped", "group", g, "seq", seq, "applied_seq", appliedSeq, "stopped", s.stopped.Load())
}

func (s *Scheduler) notify(u Update) {
	s.mu.RLock()
	ls := make([]Listener, len(s.listeners))
	copy(ls, s.listeners)
	s.mu.RUnlock()
	for _, l := range ls {
		l(u)
	}
}
