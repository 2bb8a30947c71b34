package settlement

import (
	"testing"

	"github.com/tournament-engine/internal/domain"
)

func TestRank_Comparator(t *testing.T) {
	results := []domain.PlayerResult{
		{UserID: "u1", PlayerNumber: 1, Alive: false, BlocksDestroyed: 9, DistanceFromCenter: 10},
		{UserID: "u2", PlayerNumber: 2, Alive: true, BlocksDestroyed: 2, DistanceFromCenter: 50},
		{UserID: "u3", PlayerNumber: 3, Alive: true, BlocksDestroyed: 5, DistanceFromCenter: 80},
		{UserID: "u4", PlayerNumber: 4, Alive: false, BlocksDestroyed: 9, DistanceFromCenter: 5},
	}

	ranked := Rank(results)

	// Alive players outrank the dead regardless of stats; among the
	// alive, blocks destroyed wins; among equal dead, closer to center
	// wins.
	wantOrder := []string{"u3", "u2", "u4", "u1"}
	for i, want := range wantOrder {
		if ranked[i].UserID != want {
			t.Errorf("rank %d = %s, want %s", i+1, ranked[i].UserID, want)
		}
	}

	// The input slice is left untouched
	if results[0].UserID != "u1" {
		t.Error("Rank mutated its input")
	}
}

func TestRank_SeatBreaksTies(t *testing.T) {
	results := []domain.PlayerResult{
		{UserID: "u2", PlayerNumber: 2, Alive: true, BlocksDestroyed: 3, DistanceFromCenter: 40},
		{UserID: "u1", PlayerNumber: 1, Alive: true, BlocksDestroyed: 3, DistanceFromCenter: 40},
	}

	ranked := Rank(results)
	if ranked[0].UserID != "u1" || ranked[1].UserID != "u2" {
		t.Errorf("tied players not ordered by seat: %s, %s", ranked[0].UserID, ranked[1].UserID)
	}
}

func TestWinner_SoleSurvivorOutranksStats(t *testing.T) {
	results := []domain.PlayerResult{
		{UserID: "u1", PlayerNumber: 1, Alive: false, BlocksDestroyed: 20, DistanceFromCenter: 1},
		{UserID: "u2", PlayerNumber: 2, Alive: true, BlocksDestroyed: 0, DistanceFromCenter: 300},
		{UserID: "u3", PlayerNumber: 3, Alive: false, BlocksDestroyed: 15, DistanceFromCenter: 2},
	}

	winner, ok := Winner(results)
	if !ok {
		t.Fatal("no winner returned")
	}
	if winner.UserID != "u2" {
		t.Errorf("winner = %s, want the sole survivor u2", winner.UserID)
	}
}

func TestWinner_ComparatorWhenNoSoleSurvivor(t *testing.T) {
	tests := []struct {
		name    string
		results []domain.PlayerResult
		want    string
	}{
		{
			name: "everyone dead, blocks decide",
			results: []domain.PlayerResult{
				{UserID: "u1", PlayerNumber: 1, BlocksDestroyed: 2, DistanceFromCenter: 10},
				{UserID: "u2", PlayerNumber: 2, BlocksDestroyed: 7, DistanceFromCenter: 99},
			},
			want: "u2",
		},
		{
			name: "two alive, distance decides",
			results: []domain.PlayerResult{
				{UserID: "u1", PlayerNumber: 1, Alive: true, BlocksDestroyed: 4, DistanceFromCenter: 60},
				{UserID: "u2", PlayerNumber: 2, Alive: true, BlocksDestroyed: 4, DistanceFromCenter: 20},
			},
			want: "u2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			winner, ok := Winner(tt.results)
			if !ok {
				t.Fatal("no winner returned")
			}
			if winner.UserID != tt.want {
				t.Errorf("winner = %s, want %s", winner.UserID, tt.want)
			}
		})
	}
}

func TestWinner_Empty(t *testing.T) {
	if _, ok := Winner(nil); ok {
		t.Error("Winner returned ok for empty results")
	}
}
