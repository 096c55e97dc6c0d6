package advisor

import (
	"fmt"
	"strings"

	"github.com/moveflow/vault-engine/internal/catalog"
	"github.com/moveflow/vault-engine/internal/model"
	"github.com/moveflow/vault-engine/internal/strategy"
	"github.com/moveflow/vault-engine/internal/valuation"
)

// Brief renders the strategy table and vault totals as plain text for the
// system prompt.
func Brief(table strategy.Table, cat *catalog.Catalog, vault model.Reading[model.VaultSnapshot]) string {
	var b strings.Builder
	for _, s := range table {
		name := s.Name
		if name == "" {
			name = s.ID
		}
		protocol := s.ProtocolID
		if p, ok := cat.Get(s.ProtocolID); ok {
			protocol = fmt.Sprintf("%s, %s, protocol risk %d/10", p.Name, catalog.CategoryLabel(p.Category), p.RiskScore)
		}
		fmt.Fprintf(&b, "- %s (%s): target APY %s%%, allocation %s",
			name, protocol, s.TargetAPY.StringFixed(2), strategy.FormatAllocation(s.AllocationBps))
		if s.RiskTier != "" {
			fmt.Fprintf(&b, ", %s risk", s.RiskTier)
		}
		if !s.Active {
			b.WriteString(", inactive")
		}
		b.WriteString("\n")
	}

	if sum, err := strategy.Summarize(table, cat); err == nil {
		fmt.Fprintf(&b, "Weighted APY: %s%%\n", sum.WeightedAPY.StringFixed(2))
		if sum.RiskScore != nil {
			fmt.Fprintf(&b, "Blended risk score: %s/10 (%s)\n", sum.RiskScore.StringFixed(2), sum.RiskLevel)
		}
	}

	if vault.Available {
		v := vault.Value
		fmt.Fprintf(&b, "Vault TVL: %s MOVE, realized APY %s%%",
			v.TotalAssets.StringFixed(2), valuation.RealizedAPY(v).StringFixed(2))
		if v.Paused {
			b.WriteString(", deposits paused")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
