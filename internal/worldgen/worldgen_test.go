package worldgen

import (
	"fmt"
	"testing"
)

func TestSeed(t *testing.T) {
	tests := []struct {
		sessionID string
		want      uint64
	}{
		{"abcdef12-3456-7890-abcd-ef1234567890", 0xabcdef12},
		{"ABCDEF12", 0xabcdef12},
		{"a1b2c3d4-e5f6", 0xa1b2c3d4},
		// Dashes and other non-hex bytes are skipped, not counted
		{"a-b-c-d-e-f-1-2-34", 0xabcdef12},
		{"ff", 0xff},
		{"", 0},
		{"zzzz", 0},
	}

	for _, tt := range tests {
		t.Run(tt.sessionID, func(t *testing.T) {
			if got := Seed(tt.sessionID); got != tt.want {
				t.Errorf("Seed(%q) = %#x, want %#x", tt.sessionID, got, tt.want)
			}
		})
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	ids := []string{
		"11111111-0000-0000-0000-000000000000",
		"deadbeef-cafe-babe-f00d-000000000000",
		"00000000-0000-0000-0000-000000000000",
	}

	for _, id := range ids {
		a := Generate(id)
		b := Generate(id)
		for col := 0; col < GridSize; col++ {
			for row := 0; row < GridSize; row++ {
				if a.Obstacle(col, row) != b.Obstacle(col, row) {
					t.Fatalf("grid for %q differs at (%d,%d) across generations", id, col, row)
				}
			}
		}
	}
}

func TestGenerate_DifferentSeedsDiffer(t *testing.T) {
	a := Generate("11111111-0000-0000-0000-000000000000")
	b := Generate("22222222-0000-0000-0000-000000000000")

	same := true
	for col := 0; col < GridSize && same; col++ {
		for row := 0; row < GridSize; row++ {
			if a.Obstacle(col, row) != b.Obstacle(col, row) {
				same = false
				break
			}
		}
	}
	if same {
		t.Error("grids for different session ids are identical")
	}
}

func TestGenerate_MatchesRecurrence(t *testing.T) {
	id := "deadbeef-cafe-babe-f00d-000000000000"
	g := Generate(id)

	// Re-derive the expected cells straight from the published
	// recurrence, in the same row-major draw order.
	state := Seed(id)
	for row := 0; row < GridSize; row++ {
		for col := 0; col < GridSize; col++ {
			state = (state*9301 + 49297) % 233280
			want := float64(state)/233280 > 0.3
			if got := g.Obstacle(col, row); got != want {
				t.Fatalf("cell (%d,%d) = %v, want %v", col, row, got, want)
			}
		}
	}
}

func TestGrid_Bounds(t *testing.T) {
	g := Generate("deadbeef")

	outOfRange := [][2]int{
		{-1, 0}, {0, -1}, {GridSize, 0}, {0, GridSize}, {-1, -1}, {GridSize, GridSize},
	}
	for _, cell := range outOfRange {
		if g.Obstacle(cell[0], cell[1]) {
			t.Errorf("Obstacle(%d, %d) = true for out-of-range cell", cell[0], cell[1])
		}
	}
}

func TestGrid_BlocksAndCount(t *testing.T) {
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("%08x-0000-0000-0000-000000000000", i*7919)
		g := Generate(id)

		blocks := g.Blocks()
		if len(blocks) != g.Count() {
			t.Errorf("len(Blocks()) = %d, Count() = %d for %q", len(blocks), g.Count(), id)
		}
		if g.Count() == 0 || g.Count() == GridSize*GridSize {
			t.Errorf("degenerate grid for %q: %d obstacles", id, g.Count())
		}
		for _, b := range blocks {
			if !g.Obstacle(b.Col, b.Row) {
				t.Errorf("Blocks() returned non-obstacle cell (%d,%d)", b.Col, b.Row)
			}
		}
	}
}

func TestBlock_ArenaCoordinates(t *testing.T) {
	b := Block{Col: 3, Row: 7}
	if b.X() != 3*BlockSize {
		t.Errorf("X() = %d, want %d", b.X(), 3*BlockSize)
	}
	if b.Y() != 7*BlockSize {
		t.Errorf("Y() = %d, want %d", b.Y(), 7*BlockSize)
	}
}
