package filter

import "github.com/brandon-relentnet/scrollr-sub000/internal/domain"

// EvaluateGames returns the games matching the spec.
//
// League tokens select whole leagues; state tokens narrow further. With only
// state tokens the whole snapshot is scanned. Any other combination —
// including an empty spec or one made entirely of unrecognised tokens —
// returns nothing.
func EvaluateGames(snapshot []domain.Game, spec domain.FilterSpec) []domain.Game {
	switch {
	case len(spec.Leagues) > 0:
		var out []domain.Game
		for _, g := range snapshot {
			if _, ok := spec.Leagues[g.League]; !ok {
				continue
			}
			if len(spec.States) > 0 {
				if _, ok := spec.States[g.State]; !ok {
					continue
				}
			}
			out = append(out, g)
		}
		return out

	case len(spec.States) > 0:
		var out []domain.Game
		for _, g := range snapshot {
			if _, ok := spec.States[g.State]; ok {
				out = append(out, g)
			}
		}
		return out

	default:
		return nil
	}
}
