// Package sim is the per-client local simulation. It is a pure state
// machine: the same event stream applied to identically-seeded states
// yields identical results on every client, which is what lets the match
// end and the final ranking be agreed without any coordination message.
package sim

import (
	"math"
	"sort"

	"github.com/tournament-engine/internal/channel"
	"github.com/tournament-engine/internal/domain"
	"github.com/tournament-engine/internal/worldgen"
)

// Phase is the simulation lifecycle.
type Phase string

const (
	PhaseWaiting   Phase = "waiting_for_players"
	PhaseCountdown Phase = "countdown"
	PhaseRunning   Phase = "running"
	PhaseEnded     Phase = "ended"
)

// Fixed simulation parameters shared by every client.
const (
	BombFuseTicks  = 3
	CountdownTicks = 3
	EntitySize     = worldgen.BlockSize
	BlastRadius    = worldgen.BlockSize + worldgen.BlockSize/2
)

// Player is one entity's ephemeral state. Never persisted; the store
// only ever sees the settled outcome.
type Player struct {
	ID              string
	Number          int
	X               int
	Y               int
	Alive           bool
	Ready           bool
	BlocksDestroyed int
}

// Bomb is a timed hazard counting down to detonation.
type Bomb struct {
	ID      string
	OwnerID string
	X       int
	Y       int
	Fuse    int
}

// RosterEntry pairs a player id with its assigned seat number.
type RosterEntry struct {
	ID     string
	Number int
}

// State is one client's in-memory world. localID marks the entity this
// client owns: only its moves are validated and broadcast here, and only
// its bombs detonate authoritatively here.
type State struct {
	SessionID string
	Phase     Phase
	TicksLeft int

	localID   string
	countdown int
	world     *worldgen.Grid
	destroyed map[worldgen.Block]bool
	players   map[string]*Player
	bombs     map[string]*Bomb
}

// Spawn cells by seat number, clockwise from the corners with the fifth
// seat in the middle.
var spawnCells = [][2]int{
	{0, 0},
	{worldgen.GridSize - 1, worldgen.GridSize - 1},
	{worldgen.GridSize - 1, 0},
	{0, worldgen.GridSize - 1},
	{worldgen.GridSize / 2, worldgen.GridSize / 2},
}

// New builds the initial state for a session. The world derives
// deterministically from the session id; spawn cells are cleared in
// seat order, so every client clears the same cells.
func New(sessionID, localID string, roster []RosterEntry, matchTicks int) *State {
	s := &State{
		SessionID: sessionID,
		Phase:     PhaseWaiting,
		TicksLeft: matchTicks,
		localID:   localID,
		countdown: CountdownTicks,
		world:     worldgen.Generate(sessionID),
		destroyed: make(map[worldgen.Block]bool),
		players:   make(map[string]*Player),
		bombs:     make(map[string]*Bomb),
	}

	for _, entry := range roster {
		cell := spawnCells[(entry.Number-1)%len(spawnCells)]
		if s.world.Obstacle(cell[0], cell[1]) {
			s.destroyed[worldgen.Block{Col: cell[0], Row: cell[1]}] = true
		}
		s.players[entry.ID] = &Player{
			ID:     entry.ID,
			Number: entry.Number,
			X:      cell[0] * worldgen.BlockSize,
			Y:      cell[1] * worldgen.BlockSize,
			Alive:  true,
		}
	}
	return s
}

// Player returns a copy of a player's state.
func (s *State) Player(id string) (Player, bool) {
	p, ok := s.players[id]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// AliveCount returns how many players are still alive.
func (s *State) AliveCount() int {
	n := 0
	for _, p := range s.players {
		if p.Alive {
			n++
		}
	}
	return n
}

// BlockDestroyed reports whether an obstacle cell has been blown up.
func (s *State) BlockDestroyed(b worldgen.Block) bool {
	return s.destroyed[b]
}

// AllReady reports whether every player in the roster has sent ready.
func (s *State) AllReady() bool {
	for _, p := range s.players {
		if !p.Ready {
			return false
		}
	}
	return len(s.players) > 0
}

// IsStarter reports whether the local player is the designated starter:
// the lowest-sorting player id in the full roster.
func (s *State) IsStarter() bool {
	lowest := ""
	for id := range s.players {
		if lowest == "" || id < lowest {
			lowest = id
		}
	}
	return lowest == s.localID
}

// Apply folds one received message into the state. Idempotent: applying
// the same message twice yields the same state as applying it once, so
// duplicated or replayed deliveries are harmless.
func (s *State) Apply(p channel.Payload) {
	if s.Phase == PhaseEnded {
		return
	}

	switch msg := p.(type) {
	case *channel.Ready:
		if player, ok := s.players[msg.PlayerID]; ok {
			player.Ready = true
		}

	case *channel.Start:
		if s.Phase == PhaseWaiting {
			s.Phase = PhaseCountdown
		}

	case *channel.Move:
		// Absolute position, last write wins; a dropped earlier move is
		// corrected by this one.
		if player, ok := s.players[msg.PlayerID]; ok && player.Alive {
			player.X = msg.X
			player.Y = msg.Y
		}

	case *channel.BombPlaced:
		if _, exists := s.bombs[msg.BombID]; !exists {
			s.bombs[msg.BombID] = &Bomb{
				ID:      msg.BombID,
				OwnerID: msg.OwnerID,
				X:       msg.X,
				Y:       msg.Y,
				Fuse:    BombFuseTicks,
			}
		}

	case *channel.BombExploded:
		s.applyExplosion(msg)

	case *channel.PlayerDied:
		if player, ok := s.players[msg.PlayerID]; ok {
			player.Alive = false
		}
	}

	s.checkEnd()
}

// applyExplosion replays the sender's already-decided outcome verbatim.
// Receivers never recompute the blast, which keeps clients consistent
// even when their timers drift by a tick.
func (s *State) applyExplosion(msg *channel.BombExploded) {
	delete(s.bombs, msg.BombID)

	owner := s.players[msg.OwnerID]
	for _, b := range msg.AffectedBlocks {
		if !s.destroyed[b] && s.world.Obstacle(b.Col, b.Row) {
			s.destroyed[b] = true
			if owner != nil {
				owner.BlocksDestroyed++
			}
		}
	}
	for _, id := range msg.AffectedPlayers {
		if player, ok := s.players[id]; ok {
			player.Alive = false
		}
	}
}

// Tick advances the shared clock by one step. It decrements bomb fuses
// and, for bombs owned by the local player, computes the authoritative
// detonation outcomes to broadcast. Expired bombs owned by remote
// players wait for their owner's bomb_exploded message. Once an
// explosion ends the match no further bombs detonate: receivers ignore
// everything after the end, so the owner must stop there too or its
// state diverges from theirs.
func (s *State) Tick() []channel.BombExploded {
	switch s.Phase {
	case PhaseCountdown:
		s.countdown--
		if s.countdown <= 0 {
			s.Phase = PhaseRunning
		}
		return nil
	case PhaseRunning:
	default:
		return nil
	}

	s.TicksLeft--

	var exploded []channel.BombExploded
	ids := make([]string, 0, len(s.bombs))
	for id := range s.bombs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		bomb := s.bombs[id]
		if bomb.Fuse > 0 {
			bomb.Fuse--
		}
		if bomb.Fuse <= 0 && bomb.OwnerID == s.localID {
			outcome := s.computeExplosion(bomb)
			s.applyExplosion(&outcome)
			exploded = append(exploded, outcome)
			s.checkEnd()
			if s.Phase == PhaseEnded {
				return exploded
			}
		}
	}

	s.checkEnd()
	return exploded
}

// computeExplosion decides one detonation's outcome: every alive player
// and every undestroyed block within the blast radius of the bomb.
func (s *State) computeExplosion(bomb *Bomb) channel.BombExploded {
	outcome := channel.BombExploded{
		BombID:          bomb.ID,
		OwnerID:         bomb.OwnerID,
		AffectedPlayers: []string{},
		AffectedBlocks:  []worldgen.Block{},
	}

	bx := float64(bomb.X + EntitySize/2)
	by := float64(bomb.Y + EntitySize/2)

	ids := make([]string, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := s.players[id]
		if !p.Alive {
			continue
		}
		px := float64(p.X + EntitySize/2)
		py := float64(p.Y + EntitySize/2)
		if math.Hypot(px-bx, py-by) <= BlastRadius {
			outcome.AffectedPlayers = append(outcome.AffectedPlayers, id)
		}
	}

	for _, b := range s.world.Blocks() {
		if s.destroyed[b] {
			continue
		}
		cx := float64(b.X() + worldgen.BlockSize/2)
		cy := float64(b.Y() + worldgen.BlockSize/2)
		if math.Hypot(cx-bx, cy-by) <= BlastRadius {
			outcome.AffectedBlocks = append(outcome.AffectedBlocks, b)
		}
	}

	return outcome
}

// ValidateMove checks a requested absolute position for the local
// player: inside the arena and not overlapping any undestroyed block
// (axis-aligned bounding box test). Rejected moves produce no state
// change and no broadcast.
func (s *State) ValidateMove(x, y int) bool {
	if s.Phase != PhaseRunning {
		return false
	}
	if x < 0 || y < 0 || x > worldgen.ArenaSize-EntitySize || y > worldgen.ArenaSize-EntitySize {
		return false
	}
	for _, b := range s.world.Blocks() {
		if s.destroyed[b] {
			continue
		}
		if x < b.X()+worldgen.BlockSize && x+EntitySize > b.X() &&
			y < b.Y()+worldgen.BlockSize && y+EntitySize > b.Y() {
			return false
		}
	}
	return true
}

// MoveLocal validates and applies a move for the local player, returning
// the message to broadcast, or false when the move is rejected.
func (s *State) MoveLocal(x, y int) (channel.Move, bool) {
	player, ok := s.players[s.localID]
	if !ok || !player.Alive || !s.ValidateMove(x, y) {
		return channel.Move{}, false
	}
	player.X = x
	player.Y = y
	return channel.Move{PlayerID: s.localID, X: x, Y: y}, true
}

// PlaceLocalBomb drops a bomb at the local player's position, returning
// the message to broadcast.
func (s *State) PlaceLocalBomb(bombID string) (channel.BombPlaced, bool) {
	player, ok := s.players[s.localID]
	if !ok || !player.Alive || s.Phase != PhaseRunning {
		return channel.BombPlaced{}, false
	}
	msg := channel.BombPlaced{
		BombID:  bombID,
		OwnerID: s.localID,
		X:       player.X,
		Y:       player.Y,
	}
	s.Apply(&msg)
	return msg, true
}

// checkEnd evaluates the two end conditions: shared countdown exhausted
// or at most one player left alive. Every client evaluates this from the
// same event stream, so no extra agreement message is needed.
func (s *State) checkEnd() {
	if s.Phase != PhaseRunning {
		return
	}
	if s.TicksLeft <= 0 || s.AliveCount() <= 1 {
		s.Phase = PhaseEnded
	}
}

// Results snapshots every player's final state for settlement, ordered
// by seat number.
func (s *State) Results() []domain.PlayerResult {
	center := float64(worldgen.ArenaSize) / 2

	results := make([]domain.PlayerResult, 0, len(s.players))
	for _, p := range s.players {
		px := float64(p.X + EntitySize/2)
		py := float64(p.Y + EntitySize/2)
		results = append(results, domain.PlayerResult{
			UserID:             p.ID,
			PlayerNumber:       p.Number,
			Alive:              p.Alive,
			BlocksDestroyed:    p.BlocksDestroyed,
			DistanceFromCenter: math.Hypot(px-center, py-center),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].PlayerNumber < results[j].PlayerNumber
	})
	return results
}
