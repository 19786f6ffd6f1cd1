// Package planning implements the incremental planner: portfolio-hash
// keyed candidate sequences, bounded batch evaluation against the
// end-state score, and the best-next-trade surface the execution loop
// consumes.
package planning

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/aristath/helmsman/internal/domain"
)

// PortfolioHash digests the state the planner plans for: held quantities
// plus the active security identities, optionally cash balances. The hash
// is a grouping key for sequences, never a persisted identity.
func PortfolioHash(positions []domain.Position, activeSymbols []string, cashBalances map[string]float64) string {
	var parts []string
	for _, p := range positions {
		if p.Quantity > 0 {
			parts = append(parts, fmt.Sprintf("p:%s=%d", strings.ToUpper(p.Symbol), p.Quantity))
		}
	}
	for _, s := range activeSymbols {
		parts = append(parts, "s:"+strings.ToUpper(s))
	}
	for currency, amount := range cashBalances {
		parts = append(parts, fmt.Sprintf("c:%s=%.2f", strings.ToUpper(currency), amount))
	}
	sort.Strings(parts)

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// SequenceHash digests one candidate sequence for identity within a
// portfolio hash.
func SequenceHash(seq domain.Sequence) string {
	var parts []string
	for _, a := range seq {
		parts = append(parts, fmt.Sprintf("%s:%s:%d:%.4f", a.Side, a.Symbol, a.Quantity, a.Price))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
