// Package worldgen derives the obstacle map for a session. Every client
// feeds the same session id through the same fixed recurrence, so all of
// them compute a bit-identical grid without any network round-trip.
package worldgen

// Arena geometry shared by every client.
const (
	ArenaSize = 390
	BlockSize = 30
	GridSize  = ArenaSize / BlockSize

	// A cell becomes an obstacle when the next draw exceeds this.
	obstacleDensity = 0.3

	lcgMultiplier = 9301
	lcgIncrement  = 49297
	lcgModulus    = 233280
)

// Block is one destructible obstacle cell.
type Block struct {
	Col int `json:"col"`
	Row int `json:"row"`
}

// X returns the block's left edge in arena coordinates.
func (b Block) X() int { return b.Col * BlockSize }

// Y returns the block's top edge in arena coordinates.
func (b Block) Y() int { return b.Row * BlockSize }

// Grid is the generated obstacle map.
type Grid struct {
	cells [GridSize][GridSize]bool
}

// Obstacle reports whether the cell at (col, row) holds a block.
// Out-of-range coordinates are never obstacles.
func (g *Grid) Obstacle(col, row int) bool {
	if col < 0 || col >= GridSize || row < 0 || row >= GridSize {
		return false
	}
	return g.cells[col][row]
}

// Blocks returns every obstacle cell in row-major order.
func (g *Grid) Blocks() []Block {
	var blocks []Block
	for row := 0; row < GridSize; row++ {
		for col := 0; col < GridSize; col++ {
			if g.cells[col][row] {
				blocks = append(blocks, Block{Col: col, Row: row})
			}
		}
	}
	return blocks
}

// Count returns the number of obstacle cells.
func (g *Grid) Count() int {
	n := 0
	for col := range g.cells {
		for row := range g.cells[col] {
			if g.cells[col][row] {
				n++
			}
		}
	}
	return n
}

// rng is the linear-congruential sequence all clients share. The
// recurrence and modulus are fixed constants; the single float division
// per draw has no platform-sensitive branching.
type rng struct {
	state uint64
}

func (r *rng) next() float64 {
	r.state = (r.state*lcgMultiplier + lcgIncrement) % lcgModulus
	return float64(r.state) / float64(lcgModulus)
}

// Seed derives the generator seed from a session id: the first 8 hex
// characters interpreted as an integer. Non-hex characters (uuid dashes
// and the like) are skipped. Total: an id with no hex digits seeds 0.
func Seed(sessionID string) uint64 {
	var seed uint64
	digits := 0
	for i := 0; i < len(sessionID) && digits < 8; i++ {
		v, ok := hexVal(sessionID[i])
		if !ok {
			continue
		}
		seed = seed<<4 | uint64(v)
		digits++
	}
	return seed
}

func hexVal(c byte) (uint64, bool) {
	switch {
	case c >= '0' && c <= '9':
		return uint64(c - '0'), true
	case c >= 'a' && c <= 'f':
		return uint64(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return uint64(c-'A') + 10, true
	}
	return 0, false
}

// Generate produces the obstacle grid for a session. Pure and total:
// the same session id always yields the same grid, on every platform.
func Generate(sessionID string) *Grid {
	r := rng{state: Seed(sessionID)}
	var g Grid
	for row := 0; row < GridSize; row++ {
		for col := 0; col < GridSize; col++ {
			g.cells[col][row] = r.next() > obstacleDensity
		}
	}
	return &g
}
