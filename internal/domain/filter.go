package domain

import (
	"sort"
	"strings"
)

// PriceBucket is the mutually exclusive price-range filter for trades.
type PriceBucket string

const (
	PriceAny     PriceBucket = ""
	PriceUnder50 PriceBucket = "under_50"
	Price50To200 PriceBucket = "50_200"
	PriceOver200 PriceBucket = "over_200"
)

// Contains reports whether a price falls inside the bucket.
// Boundaries are inclusive for the middle bucket: 50 and 200 both match 50_200.
func (b PriceBucket) Contains(price float64) bool {
	switch b {
	case PriceUnder50:
		return price < 50
	case Price50To200:
		return price >= 50 && price <= 200
	case PriceOver200:
		return price > 200
	default:
		return true
	}
}

// FilterSpec is the parsed, typed form of a client's filter tokens.
// The zero value (and ParseFilters(nil)) is the empty spec, which is valid
// and deliberately means "send nothing" rather than "send everything".
type FilterSpec struct {
	Symbols map[string]struct{}
	Sectors map[string]struct{}
	Types   map[string]struct{}
	Price   PriceBucket
	Leagues map[string]struct{}
	States  map[GameState]struct{}
	Unknown []string

	canonical string
}

const (
	prefixSymbol = "symbol_"
	prefixSector = "sector_"
	prefixType   = "type_"
	prefixPrice  = "price_"
	prefixState  = "state_"
)

// ParseFilters classifies wire-format tokens into typed buckets in one pass.
// Tokens with a recognised prefix go to their bucket; a bare token is treated
// as a league name (the sports grammar). Anything else lands in Unknown so
// the evaluators can fall back to an empty result instead of guessing.
func ParseFilters(tokens []string) FilterSpec {
	spec := FilterSpec{
		Symbols: make(map[string]struct{}),
		Sectors: make(map[string]struct{}),
		Types:   make(map[string]struct{}),
		Leagues: make(map[string]struct{}),
		States:  make(map[GameState]struct{}),
	}

	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		kept = append(kept, tok)
		switch {
		case strings.HasPrefix(tok, prefixSymbol):
			spec.Symbols[strings.ToUpper(strings.TrimPrefix(tok, prefixSymbol))] = struct{}{}
		case strings.HasPrefix(tok, prefixSector):
			spec.Sectors[strings.ToLower(strings.TrimPrefix(tok, prefixSector))] = struct{}{}
		case strings.HasPrefix(tok, prefixType):
			spec.Types[strings.ToLower(strings.TrimPrefix(tok, prefixType))] = struct{}{}
		case strings.HasPrefix(tok, prefixPrice):
			switch bucket := PriceBucket(strings.TrimPrefix(tok, prefixPrice)); bucket {
			case PriceUnder50, Price50To200, PriceOver200:
				spec.Price = bucket
			default:
				spec.Unknown = append(spec.Unknown, tok)
			}
		case strings.HasPrefix(tok, prefixState):
			switch state := GameState(strings.ToLower(strings.TrimPrefix(tok, prefixState))); state {
			case GameStateScheduled, GameStateInProgress, GameStateFinal:
				spec.States[state] = struct{}{}
			default:
				spec.Unknown = append(spec.Unknown, tok)
			}
		default:
			// Bare tokens are league names in the sports grammar.
			spec.Leagues[strings.ToUpper(tok)] = struct{}{}
		}
	}

	sort.Strings(kept)
	spec.canonical = strings.Join(kept, ",")

	return spec
}

// Canonical returns the sorted, order-independent representation of the
// original tokens. Two specs are equal, and their sessions share a broadcast
// group, iff their canonical forms are equal.
func (s FilterSpec) Canonical() string {
	return s.canonical
}

// Empty reports whether the spec carries no usable tokens at all.
func (s FilterSpec) Empty() bool {
	return len(s.Symbols) == 0 && len(s.Sectors) == 0 && len(s.Types) == 0 &&
		s.Price == PriceAny && len(s.Leagues) == 0 && len(s.States) == 0 &&
		len(s.Unknown) == 0
}
