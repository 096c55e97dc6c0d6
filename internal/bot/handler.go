// Package bot is the Telegram front end. Each update is handled against an
// explicit per-conversation session value: the session is loaded, passed
// through Handler.Handle, and the returned session is saved. A conversation
// that was asked for an amount treats its next plain-text message as that
// amount, however long ago the prompt was sent.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"

	"github.com/moveflow/vault-engine/internal/catalog"
	"github.com/moveflow/vault-engine/internal/contract"
	"github.com/moveflow/vault-engine/internal/metrics"
	"github.com/moveflow/vault-engine/internal/model"
	"github.com/moveflow/vault-engine/internal/payload"
	"github.com/moveflow/vault-engine/internal/refresh"
	"github.com/moveflow/vault-engine/internal/strategy"
	"github.com/moveflow/vault-engine/internal/valuation"
)

// Menu keyboard labels. A label sent as a message runs its command.
const (
	MenuVaults    = "Vaults"
	MenuPortfolio = "My Portfolio"
	MenuBest      = "Best APY"
	MenuRisk      = "Risk Analysis"
	MenuHelp      = "Help"
)

var menuCommands = map[string]string{
	strings.ToLower(MenuVaults):    "vaults",
	strings.ToLower(MenuPortfolio): "portfolio",
	strings.ToLower(MenuBest):      "best",
	strings.ToLower(MenuRisk):      "risk",
	strings.ToLower(MenuHelp):      "help",
}

// Reply texts.
const (
	textInvalidAddress = "Please provide a valid wallet address: /connect 0x..."
	textInvalidAmount  = "Please enter a valid amount."
	textConnectFirst   = "Please connect your wallet first: /connect &lt;address&gt;"
	textNoWallet       = "You haven't connected a wallet yet. Use /connect &lt;address&gt; to link your wallet."
	textAdvisorFailed  = "I'm having trouble processing your request. Please try again later."
	textUnknown        = "Unknown command. Send /help to see what I can do."
)

const welcome = `<b>Welcome to MoveFlow!</b>

Your AI-powered yield aggregator on Movement Network.

Deposit once and your capital is allocated across Meridian, Echelon, and LiquidSwap strategies. Ask me anything about yields, risk, or your position.

Use the menu below or send /help for all commands.`

const help = `<b>MoveFlow commands</b>

/vaults - List strategies and blended APY
/vault &lt;strategy&gt; - Strategy details
/best - Strategies ranked by APY
/connect &lt;address&gt; - Link your wallet
/disconnect - Unlink your wallet
/portfolio - Your position and value
/pnl - Your profit and loss
/rewards - Check pending rewards
/deposit &lt;strategy&gt; [amount] - Prepare a deposit
/withdraw &lt;strategy&gt; [shares] - Prepare a withdrawal
/harvest - Prepare a harvest
/risk - Risk analysis
/recommend &lt;low|medium|high&gt; [amount] - Allocation advice
/refresh - Re-read on-chain data
/cancel - Cancel a pending deposit or withdrawal

Or just ask a question in plain text.`

// State is the refresh scheduler surface the bot reads.
type State interface {
	Current() *refresh.Snapshot
	TriggerAll()
	Watch(address string) bool
	RefreshPosition(ctx context.Context, address string) bool
}

// Chain serves the reads that are not part of the refreshed snapshot.
type Chain interface {
	AccountBalance(ctx context.Context, address string) model.Reading[decimal.Decimal]
	PendingRewards(ctx context.Context, pool, user string) model.Reading[decimal.Decimal]
}

// Advisor answers free-form questions.
type Advisor interface {
	Advise(ctx context.Context, text, wallet string) (string, error)
}

// Reply is an HTML message. Menu attaches the command keyboard.
type Reply struct {
	Text string
	Menu bool
}

// Options configures a Handler.
type Options struct {
	Catalog *catalog.Catalog
	State   State
	Chain   Chain
	Builder *payload.Builder
	Advisor Advisor
	FeeBps  int
	// RewardsPool is the pool address passed to the rewards distributor.
	RewardsPool string
}

// Handler maps one message and the conversation's session to a reply and
// the next session. It keeps no per-conversation state of its own.
type Handler struct {
	catalog     *catalog.Catalog
	state       State
	chain       Chain
	builder     *payload.Builder
	advisor     Advisor
	feeBps      int
	rewardsPool string
	now         func() time.Time
}

// NewHandler creates a handler.
func NewHandler(o Options) *Handler {
	return &Handler{
		catalog:     o.Catalog,
		state:       o.State,
		chain:       o.Chain,
		builder:     o.Builder,
		advisor:     o.Advisor,
		feeBps:      o.FeeBps,
		rewardsPool: o.RewardsPool,
		now:         time.Now,
	}
}

// parseCommand returns the command name (without slash or @bot suffix) and
// its arguments. Menu labels map to their command. Plain text returns "".
func parseCommand(text string) (string, []string) {
	if cmd, ok := menuCommands[strings.ToLower(text)]; ok {
		return cmd, nil
	}
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	fields := strings.Fields(text)
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return cmd, fields[1:]
}

// Handle processes one message. Commands and menu labels always run;
// while an amount is pending, any other text is taken as the amount.
func (h *Handler) Handle(ctx context.Context, sess model.Session, text string) (Reply, model.Session) {
	text = strings.TrimSpace(text)
	cmd, args := parseCommand(text)

	var reply Reply
	label := cmd
	switch {
	case cmd == "" && sess.Prompt.Awaiting():
		label = "amount"
		reply, sess = h.amount(sess, text)
	case cmd == "":
		label = "chat"
		reply = h.chat(ctx, sess, text)
	default:
		var known bool
		reply, sess, known = h.command(ctx, sess, cmd, args)
		if !known {
			label = "unknown"
		}
	}
	metrics.BotMessages.WithLabelValues(label).Inc()

	sess.UpdatedAt = h.now().UTC()
	return reply, sess
}

func (h *Handler) command(ctx context.Context, sess model.Session, cmd string, args []string) (Reply, model.Session, bool) {
	var reply Reply
	switch cmd {
	case "start":
		sess.Prompt = model.Prompt{}
		reply = Reply{Text: welcome, Menu: true}
	case "help":
		reply = Reply{Text: help, Menu: true}
	case "connect":
		reply, sess = h.connect(ctx, sess, args)
	case "disconnect":
		sess.Wallet = ""
		sess.Prompt = model.Prompt{}
		reply = Reply{Text: "Wallet disconnected successfully."}
	case "vaults":
		reply = h.vaults()
	case "vault":
		reply = h.vault(args)
	case "best":
		reply = h.best()
	case "portfolio":
		reply = h.portfolio(ctx, sess)
	case "pnl":
		reply = h.pnl(ctx, sess)
	case "rewards":
		reply = h.rewards(ctx, sess)
	case "deposit":
		reply, sess = h.prompt(sess, model.ActionDeposit, args)
	case "withdraw":
		reply, sess = h.prompt(sess, model.ActionWithdraw, args)
	case "harvest":
		reply = h.harvest(sess)
	case "risk":
		reply = h.risk(ctx, sess)
	case "recommend":
		reply = h.recommend(ctx, sess, args)
	case "refresh":
		h.state.TriggerAll()
		reply = Reply{Text: "Refreshing on-chain data. Results will be ready in a few seconds."}
	case "cancel":
		if sess.Prompt.Awaiting() {
			sess.Prompt = model.Prompt{}
			reply = Reply{Text: "Cancelled."}
		} else {
			reply = Reply{Text: "Nothing to cancel."}
		}
	default:
		return Reply{Text: textUnknown}, sess, false
	}
	return reply, sess, true
}

func (h *Handler) connect(ctx context.Context, sess model.Session, args []string) (Reply, model.Session) {
	if len(args) == 0 {
		return Reply{Text: textInvalidAddress}, sess
	}
	addr, err := contract.ParseAddress(args[0])
	if err != nil {
		return Reply{Text: textInvalidAddress}, sess
	}
	sess.Wallet = addr
	if h.state.Watch(addr) {
		h.state.RefreshPosition(ctx, addr)
	}
	slog.Info("wallet connected", "conversation", sess.ConversationID, "address", addr)
	return Reply{Text: fmt.Sprintf(
		"Wallet connected: <code>%s</code>\n\nYou can now view your portfolio and interact with vaults!",
		esc(contract.ShortAddress(addr)))}, sess
}

func (h *Handler) vaults() Reply {
	snap := h.state.Current()
	var b strings.Builder
	b.WriteString("<b>MoveFlow Strategies</b>\n")
	for _, s := range snap.Strategies {
		b.WriteString("\n")
		b.WriteString(formatStrategy(h.catalog, s))
		b.WriteString("\n")
	}
	if sum, err := strategy.Summarize(snap.Strategies, h.catalog); err == nil {
		b.WriteString("\n")
		b.WriteString(formatSummary(sum))
	}
	if snap.Vault.Available {
		fmt.Fprintf(&b, "\n<b>Vault TVL:</b> %s", money(snap.Vault.Value.TotalAssets))
		if snap.Vault.Value.Paused {
			b.WriteString("\n<b>The vault is paused.</b>")
		}
		b.WriteString(staleNote(snap.Vault))
	}
	b.WriteString("\n\nUse /vault &lt;strategy&gt; for details or /deposit &lt;strategy&gt; to invest.")
	return Reply{Text: b.String()}
}

// findStrategy matches a strategy by ID, protocol ID, or name, ignoring
// case.
func findStrategy(t strategy.Table, key string) (model.Strategy, bool) {
	for _, s := range t {
		if strings.EqualFold(s.ID, key) || strings.EqualFold(s.ProtocolID, key) || strings.EqualFold(s.Name, key) {
			return s, true
		}
	}
	return model.Strategy{}, false
}

func notFound(key string) Reply {
	return Reply{Text: fmt.Sprintf("Strategy <code>%s</code> not found. Use /vaults to list strategies.", esc(key))}
}

func (h *Handler) vault(args []string) Reply {
	if len(args) == 0 {
		return Reply{Text: "Usage: /vault &lt;strategy&gt;"}
	}
	key := strings.Join(args, " ")
	s, ok := findStrategy(h.state.Current().Strategies, key)
	if !ok {
		return notFound(key)
	}

	var b strings.Builder
	b.WriteString(formatStrategy(h.catalog, s))
	if s.Description != "" {
		fmt.Fprintf(&b, "\n\n%s", esc(s.Description))
	}
	if p, ok := h.catalog.Get(s.ProtocolID); ok {
		fmt.Fprintf(&b, "\n\n<b>%s</b>: %s\nProtocol risk score: %d/10", esc(p.Name), esc(p.Description), p.RiskScore)
		if p.URL != "" {
			fmt.Fprintf(&b, "\n%s", esc(p.URL))
		}
	}
	example := decimal.NewFromInt(100)
	proj := valuation.ProjectYield(example, s.TargetAPY)
	fmt.Fprintf(&b, "\n\n<b>On %s at target APY</b>\n  Daily: %s\n  Monthly: %s\n  Yearly: %s",
		money(example), precise(proj.Daily), precise(proj.Monthly), precise(proj.Yearly))
	return Reply{Text: b.String()}
}

func (h *Handler) best() Reply {
	active := make([]model.Strategy, 0)
	for _, s := range h.state.Current().Strategies {
		if s.Active {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return Reply{Text: "No active strategies right now."}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].TargetAPY.GreaterThan(active[j].TargetAPY) })

	var b strings.Builder
	b.WriteString("<b>Best APY</b>\n")
	for i, s := range active {
		fmt.Fprintf(&b, "\n%d. <b>%s</b>: %s", i+1, esc(strategyName(s)), percent(s.TargetAPY))
		if s.RiskTier != "" {
			fmt.Fprintf(&b, " (risk %s)", esc(string(s.RiskTier)))
		}
	}
	return Reply{Text: b.String()}
}

// position returns the wallet's position reading, reading it on first sight.
func (h *Handler) position(ctx context.Context, wallet string) model.Reading[model.UserPosition] {
	h.state.Watch(wallet)
	if _, ok := h.state.Current().Position(wallet); !ok {
		h.state.RefreshPosition(ctx, wallet)
	}
	pos, ok := h.state.Current().Position(wallet)
	if !ok {
		return model.Unavailable[model.UserPosition]("not loaded", h.now().UTC())
	}
	return pos
}

func unavailableReply(what, reason string) Reply {
	return Reply{Text: fmt.Sprintf("%s is unavailable right now (%s). Try /refresh in a moment.", what, esc(reason))}
}

func (h *Handler) valued(ctx context.Context, sess model.Session) (valuation.PositionValue, model.Reading[model.UserPosition], *Reply) {
	if sess.Wallet == "" {
		return valuation.PositionValue{}, model.Reading[model.UserPosition]{}, &Reply{Text: textNoWallet}
	}
	pos := h.position(ctx, sess.Wallet)
	if !pos.Available {
		r := unavailableReply("Your position", pos.Reason)
		return valuation.PositionValue{}, pos, &r
	}
	vault := h.state.Current().Vault
	if !vault.Available {
		r := unavailableReply("Vault data", vault.Reason)
		return valuation.PositionValue{}, pos, &r
	}
	return valuation.Value(vault.Value, pos.Value), pos, nil
}

func (h *Handler) portfolio(ctx context.Context, sess model.Session) Reply {
	v, pos, errReply := h.valued(ctx, sess)
	if errReply != nil {
		return *errReply
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Your Portfolio</b>\nWallet: <code>%s</code>\n", esc(contract.ShortAddress(sess.Wallet)))
	if v.Position.Shares.IsNil() || v.Position.Shares.IsZero() {
		b.WriteString("\nYou have no position in the vault yet. Use /deposit &lt;strategy&gt; to get started.")
	} else {
		fmt.Fprintf(&b, "\nShares: %s", v.Position.Shares.String())
		fmt.Fprintf(&b, "\nValue: %s", money(v.CurrentValue))
		fmt.Fprintf(&b, "\nDeposited: %s", money(v.Position.TotalDeposited))
		fmt.Fprintf(&b, "\nWithdrawn: %s", money(v.Position.TotalWithdrawn))
		fmt.Fprintf(&b, "\nP&amp;L: %s %s (%s%%)", signed(v.PnL.Amount), Asset, signed(v.PnL.Percent))
	}
	if bal := h.chain.AccountBalance(ctx, sess.Wallet); bal.Available {
		fmt.Fprintf(&b, "\n\nWallet balance: %s", money(bal.Value))
	}
	b.WriteString(staleNote(pos))
	return Reply{Text: b.String()}
}

func (h *Handler) pnl(ctx context.Context, sess model.Session) Reply {
	v, pos, errReply := h.valued(ctx, sess)
	if errReply != nil {
		return *errReply
	}
	if !v.Position.TotalDeposited.IsPositive() {
		return Reply{Text: "No deposits yet, so there is no P&amp;L to show."}
	}

	var b strings.Builder
	b.WriteString("<b>Profit &amp; Loss</b>\n")
	fmt.Fprintf(&b, "\nCurrent value: %s", money(v.CurrentValue))
	fmt.Fprintf(&b, "\nNet deposited: %s", money(v.Position.TotalDeposited.Sub(v.Position.TotalWithdrawn)))
	fmt.Fprintf(&b, "\nUnrealized: %s %s (%s%%)", signed(v.PnL.Amount), Asset, signed(v.PnL.Percent))
	if !v.Position.DepositTime.IsZero() {
		fmt.Fprintf(&b, "\nFirst deposit: %s", v.Position.DepositTime.UTC().Format("2006-01-02"))
	}
	b.WriteString(staleNote(pos))
	return Reply{Text: b.String()}
}

func (h *Handler) rewards(ctx context.Context, sess model.Session) Reply {
	if sess.Wallet == "" {
		return Reply{Text: textNoWallet}
	}
	r := h.chain.PendingRewards(ctx, h.rewardsPool, sess.Wallet)
	if !r.Available {
		return unavailableReply("Rewards data", r.Reason)
	}
	return Reply{Text: fmt.Sprintf("<b>Pending rewards:</b> %s\n\nUse /harvest to compound vault yield.", precise(r.Value))}
}

// prompt starts a deposit or withdrawal. With an amount argument the
// payload is built right away; otherwise the session waits for it.
func (h *Handler) prompt(sess model.Session, action model.Action, args []string) (Reply, model.Session) {
	if len(args) == 0 {
		unit := "amount"
		if action == model.ActionWithdraw {
			unit = "shares"
		}
		return Reply{Text: fmt.Sprintf("Usage: /%s &lt;strategy&gt; [%s]", action, unit)}, sess
	}
	s, ok := findStrategy(h.state.Current().Strategies, args[0])
	if !ok {
		return notFound(args[0]), sess
	}
	if action == model.ActionDeposit && !s.Active {
		return Reply{Text: fmt.Sprintf("%s is not active right now. Use /best to pick another strategy.", esc(strategyName(s)))}, sess
	}

	sess.Prompt = model.Prompt{State: model.PromptAwaitingAmount, Action: action, StrategyID: s.ID}
	if len(args) > 1 {
		return h.amount(sess, args[1])
	}
	if action == model.ActionDeposit {
		return Reply{Text: fmt.Sprintf("Enter the amount to deposit into <b>%s</b>:", esc(strategyName(s)))}, sess
	}
	return Reply{Text: fmt.Sprintf("Enter the amount of shares to withdraw from <b>%s</b>:", esc(strategyName(s)))}, sess
}

// amount completes a pending prompt. Invalid input keeps the prompt; a
// missing wallet ends it.
func (h *Handler) amount(sess model.Session, text string) (Reply, model.Session) {
	p := sess.Prompt
	var (
		amount decimal.Decimal
		shares sdkmath.Int
		err    error
	)
	switch p.Action {
	case model.ActionDeposit:
		amount, err = payload.ParseAmount(text)
	case model.ActionWithdraw:
		shares, err = payload.ParseShares(text)
	default:
		sess.Prompt = model.Prompt{}
		return Reply{Text: textUnknown}, sess
	}
	if err != nil {
		return Reply{Text: textInvalidAmount}, sess
	}

	sess.Prompt = model.Prompt{}
	if sess.Wallet == "" {
		return Reply{Text: textConnectFirst}, sess
	}

	name := p.StrategyID
	s, found := h.state.Current().Strategies.Find(p.StrategyID)
	if found {
		name = strategyName(s)
	}
	if p.Action == model.ActionDeposit {
		return h.depositReply(name, s, amount), sess
	}
	return h.withdrawReply(name, shares), sess
}

func (h *Handler) depositReply(name string, s model.Strategy, amount decimal.Decimal) Reply {
	snap := h.state.Current()
	p := h.builder.Deposit(amount)
	metrics.PayloadsBuilt.WithLabelValues("deposit").Inc()

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Deposit preview</b>\nStrategy: %s\nAmount: %s %s", esc(name), amount.String(), Asset)
	if snap.Vault.Available {
		fmt.Fprintf(&b, "\nEstimated shares: %s", valuation.EstimateShares(snap.Vault.Value, amount).String())
	}
	if s.TargetAPY.IsPositive() {
		proj := valuation.ProjectYield(amount, s.TargetAPY)
		fmt.Fprintf(&b, "\n\n<b>Projected yield at %s APY</b>\n  Daily: %s\n  Monthly: %s\n  Yearly: %s",
			percent(s.TargetAPY), precise(proj.Daily), precise(proj.Monthly), precise(proj.Yearly))
	}
	b.WriteString("\n\nSign this payload in your wallet:\n")
	b.WriteString(formatPayload(p))
	return Reply{Text: b.String()}
}

func (h *Handler) withdrawReply(name string, shares sdkmath.Int) Reply {
	vault := h.state.Current().Vault
	p := h.builder.Withdraw(shares)
	metrics.PayloadsBuilt.WithLabelValues("withdraw").Inc()

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Withdraw preview</b>\nStrategy: %s\nShares: %s", esc(name), shares.String())
	if vault.Available {
		w := valuation.PreviewWithdraw(vault.Value, shares, h.feeBps)
		fmt.Fprintf(&b, "\nValue: %s\nFee (%s): %s\nYou receive: %s",
			precise(w.Gross), percent(decimal.New(int64(w.FeeBps), -2)), precise(w.Fee), precise(w.Net))
	} else {
		b.WriteString("\n<i>Value preview unavailable while vault data loads.</i>")
	}
	b.WriteString("\n\nSign this payload in your wallet:\n")
	b.WriteString(formatPayload(p))
	return Reply{Text: b.String()}
}

func (h *Handler) harvest(sess model.Session) Reply {
	if sess.Wallet == "" {
		return Reply{Text: textConnectFirst}
	}
	metrics.PayloadsBuilt.WithLabelValues("harvest").Inc()
	return Reply{Text: "<b>Harvest</b>\nCompounds accrued strategy yield into the vault.\n\nSign this payload in your wallet:\n" +
		formatPayload(h.builder.Harvest())}
}

func (h *Handler) risk(ctx context.Context, sess model.Session) Reply {
	table := h.state.Current().Strategies
	var b strings.Builder
	b.WriteString("<b>Risk Analysis</b>\n")

	sum, err := strategy.Summarize(table, h.catalog)
	if err != nil {
		slog.Error("summarize strategies", "err", err)
	} else {
		b.WriteString("\n")
		b.WriteString(formatSummary(sum))
		b.WriteString("\n")
	}
	for _, s := range table {
		if p, ok := h.catalog.Get(s.ProtocolID); ok {
			fmt.Fprintf(&b, "\n%s: protocol risk %d/10, %s allocated", esc(strategyName(s)), p.RiskScore, strategy.FormatAllocation(s.AllocationBps))
		}
	}
	b.WriteString("\n\n<b>General risk factors</b>\n- Smart contract risk\n- Impermanent loss on LP positions\n- Lending market utilization\n- Market volatility")

	if sess.Wallet == "" {
		b.WriteString("\n\nUse /connect &lt;address&gt; to link your wallet.")
		return Reply{Text: b.String()}
	}
	if h.advisor != nil {
		question := "Give a short risk assessment of my vault position: overall risk, diversification across the strategies, and one risk management suggestion."
		if v, _, errReply := h.valued(ctx, sess); errReply == nil {
			question += fmt.Sprintf(" My position is worth %s with unrealized P&L of %s %s.", money(v.CurrentValue), signed(v.PnL.Amount), Asset)
		}
		if answer, err := h.advisor.Advise(ctx, question, sess.Wallet); err == nil {
			fmt.Fprintf(&b, "\n\n<b>Personal assessment</b>\n%s", esc(answer))
		} else {
			slog.Warn("advisor risk assessment failed", "conversation", sess.ConversationID, "err", err)
		}
	}
	return Reply{Text: b.String()}
}

var riskTolerances = map[string]bool{"low": true, "medium": true, "high": true}

// recommend asks the advisor for an allocation suited to a risk tolerance.
func (h *Handler) recommend(ctx context.Context, sess model.Session, args []string) Reply {
	if len(args) == 0 || !riskTolerances[strings.ToLower(args[0])] {
		return Reply{Text: "Usage: /recommend &lt;low|medium|high&gt; [amount]"}
	}
	question := fmt.Sprintf("I have %s risk tolerance. How should I think about depositing into the vault given its current strategies?", strings.ToLower(args[0]))
	if len(args) > 1 {
		amount, err := payload.ParseAmount(args[1])
		if err != nil {
			return Reply{Text: textInvalidAmount}
		}
		question = fmt.Sprintf("I want to invest %s %s with %s risk tolerance. Recommend whether and how much to deposit given the current strategies, with reasoning.",
			amount.String(), Asset, strings.ToLower(args[0]))
	}
	return h.chat(ctx, sess, question)
}

func (h *Handler) chat(ctx context.Context, sess model.Session, text string) Reply {
	if h.advisor == nil {
		return Reply{Text: help}
	}
	answer, err := h.advisor.Advise(ctx, text, sess.Wallet)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("advisor failed", "conversation", sess.ConversationID, "err", err)
		}
		return Reply{Text: textAdvisorFailed}
	}
	return Reply{Text: esc(answer)}
}
