// Package settlement turns a finished match into a persisted outcome:
// ranking, winner, prize credit, terminal session state.
package settlement

import (
	"sort"

	"github.com/tournament-engine/internal/domain"
)

// Rank orders results by the settlement comparator: alive first, then
// blocks destroyed descending, then distance from the arena center
// ascending. Seat number breaks any remaining tie so the ordering is
// total and every client computes an identical ranking from identical
// inputs. The returned slice is a sorted copy; position i holds rank
// i+1.
func Rank(results []domain.PlayerResult) []domain.PlayerResult {
	ranked := make([]domain.PlayerResult, len(results))
	copy(ranked, results)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Alive != b.Alive {
			return a.Alive
		}
		if a.BlocksDestroyed != b.BlocksDestroyed {
			return a.BlocksDestroyed > b.BlocksDestroyed
		}
		if a.DistanceFromCenter != b.DistanceFromCenter {
			return a.DistanceFromCenter < b.DistanceFromCenter
		}
		return a.PlayerNumber < b.PlayerNumber
	})
	return ranked
}

// Winner applies the outright-win rule: a sole survivor wins regardless
// of stats; otherwise the comparator decides.
func Winner(results []domain.PlayerResult) (domain.PlayerResult, bool) {
	if len(results) == 0 {
		return domain.PlayerResult{}, false
	}

	var survivor domain.PlayerResult
	alive := 0
	for _, r := range results {
		if r.Alive {
			alive++
			survivor = r
		}
	}
	if alive == 1 {
		return survivor, true
	}
	return Rank(results)[0], true
}
