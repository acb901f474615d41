// Package filter implements the pure evaluation of filter specs against
// domain snapshots. Evaluation never mutates the snapshot and carries no
// state; the broadcast scheduler layers result caching on top.
package filter

import "github.com/brandon-relentnet/scrollr-sub000/internal/domain"

// EvaluateTrades returns the trades matching the spec. Matching is AND
// across bucket kinds and OR within a kind: a trade must be in the symbol
// set (if any symbols are named), in the sector set (if any), in the type
// set (if any), and inside the price bucket (if one is named).
//
// An empty spec returns nothing: "no filters" means "show nothing", not
// "show everything". A spec whose only tokens are unrecognised also returns
// nothing rather than guessing intent.
func EvaluateTrades(snapshot []domain.Trade, spec domain.FilterSpec) []domain.Trade {
	if !tradeConstraintsPresent(spec) {
		return nil
	}

	var out []domain.Trade
	for _, t := range snapshot {
		if matchTrade(t, spec) {
			out = append(out, t)
		}
	}
	return out
}

func tradeConstraintsPresent(spec domain.FilterSpec) bool {
	return len(spec.Symbols) > 0 || len(spec.Sectors) > 0 ||
		len(spec.Types) > 0 || spec.Price != domain.PriceAny
}

func matchTrade(t domain.Trade, spec domain.FilterSpec) bool {
	if len(spec.Symbols) > 0 {
		if _, ok := spec.Symbols[t.Symbol]; !ok {
			return false
		}
	}
	if len(spec.Sectors) > 0 {
		if _, ok := spec.Sectors[t.Sector]; !ok {
			return false
		}
	}
	if len(spec.Types) > 0 {
		if _, ok := spec.Types[t.AssetType]; !ok {
			return false
		}
	}
	return spec.Price.Contains(t.Price)
}
