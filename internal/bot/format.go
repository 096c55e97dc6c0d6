package bot

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/moveflow/vault-engine/internal/catalog"
	"github.com/moveflow/vault-engine/internal/model"
	"github.com/moveflow/vault-engine/internal/payload"
	"github.com/moveflow/vault-engine/internal/strategy"
)

// Asset is the display symbol of the vault's coin.
const Asset = "MOVE"

func esc(s string) string { return html.EscapeString(s) }

func money(d decimal.Decimal) string { return d.StringFixed(2) + " " + Asset }

func precise(d decimal.Decimal) string { return d.StringFixed(4) + " " + Asset }

func percent(d decimal.Decimal) string { return d.StringFixed(2) + "%" }

func signed(d decimal.Decimal) string {
	if d.IsNegative() {
		return d.StringFixed(2)
	}
	return "+" + d.StringFixed(2)
}

// staleNote marks a reading carried over from an earlier successful read.
func staleNote[T any](r model.Reading[T]) string {
	if !r.Stale {
		return ""
	}
	return fmt.Sprintf("\n\n<i>Showing last known data (%s).</i>", esc(r.Reason))
}

func strategyName(s model.Strategy) string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

func protocolLine(cat *catalog.Catalog, s model.Strategy) string {
	p, ok := cat.Get(s.ProtocolID)
	if !ok {
		return esc(s.ProtocolID)
	}
	return fmt.Sprintf("%s · %s", esc(p.Name), esc(catalog.CategoryLabel(p.Category)))
}

func formatStrategy(cat *catalog.Catalog, s model.Strategy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b> (<code>%s</code>)", esc(strategyName(s)), esc(s.ID))
	if !s.Active {
		b.WriteString(" <i>inactive</i>")
	}
	fmt.Fprintf(&b, "\n  Protocol: %s", protocolLine(cat, s))
	fmt.Fprintf(&b, "\n  Target APY: %s", percent(s.TargetAPY))
	fmt.Fprintf(&b, "\n  Allocation: %s", strategy.FormatAllocation(s.AllocationBps))
	if s.RiskTier != "" {
		fmt.Fprintf(&b, "\n  Risk: %s", esc(string(s.RiskTier)))
	}
	return b.String()
}

func formatSummary(sum strategy.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Weighted APY:</b> %s", percent(sum.WeightedAPY))
	if sum.RiskScore != nil {
		fmt.Fprintf(&b, "\n<b>Risk score:</b> %s/10 (%s)", sum.RiskScore.StringFixed(2), sum.RiskLevel)
	} else {
		b.WriteString("\n<b>Risk score:</b> n/a")
	}
	if sum.UnderDeployedBps > 0 {
		fmt.Fprintf(&b, "\n<i>%s of capital is not deployed.</i>", strategy.FormatAllocation(sum.UnderDeployedBps))
	}
	return b.String()
}

func formatPayload(p payload.EntryFunction) string {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return ""
	}
	return "<pre>" + esc(string(data)) + "</pre>"
}
