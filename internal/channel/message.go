// Package channel carries session-scoped game messages between clients.
// Delivery is at-most-once and unordered-but-timestamped; the simulation
// is designed to tolerate dropped moves, and the relay keeps a replayable
// per-session event log for the messages that must not be lost.
package channel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tournament-engine/internal/worldgen"
)

// Kind discriminates the closed set of game message types.
type Kind string

const (
	KindReady        Kind = "ready"
	KindStart        Kind = "start"
	KindMove         Kind = "move"
	KindBombPlaced   Kind = "bomb_placed"
	KindBombExploded Kind = "bomb_exploded"
	KindPlayerDied   Kind = "player_died"
)

// Envelope wraps one game message on the wire. Seq is assigned by the
// relay and is strictly increasing within a session.
type Envelope struct {
	SessionID string          `json:"session_id"`
	Seq       int64           `json:"seq"`
	Kind      Kind            `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Payload is implemented by every concrete message body.
type Payload interface {
	Kind() Kind
	validate() error
}

// Ready announces that the sender has loaded and can start.
type Ready struct {
	PlayerID string `json:"player_id"`
}

func (Ready) Kind() Kind { return KindReady }

func (p Ready) validate() error {
	if p.PlayerID == "" {
		return fmt.Errorf("ready: missing player_id")
	}
	return nil
}

// Start is broadcast once by the designated starter (the lowest-sorting
// player id in the roster) after observing every ready message.
type Start struct {
	StartedAt time.Time `json:"started_at"`
}

func (Start) Kind() Kind { return KindStart }

func (p Start) validate() error {
	if p.StartedAt.IsZero() {
		return fmt.Errorf("start: missing started_at")
	}
	return nil
}

// Move carries the sender's validated absolute position. Receivers apply
// it directly, trusting the sender for its own entity; a dropped move is
// corrected by the next one.
type Move struct {
	PlayerID string `json:"player_id"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
}

func (Move) Kind() Kind { return KindMove }

func (p Move) validate() error {
	if p.PlayerID == "" {
		return fmt.Errorf("move: missing player_id")
	}
	return nil
}

// BombPlaced introduces a new timed hazard.
type BombPlaced struct {
	BombID  string `json:"bomb_id"`
	OwnerID string `json:"owner_id"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
}

func (BombPlaced) Kind() Kind { return KindBombPlaced }

func (p BombPlaced) validate() error {
	if p.BombID == "" || p.OwnerID == "" {
		return fmt.Errorf("bomb_placed: missing bomb_id or owner_id")
	}
	return nil
}

// BombExploded is the authoritative outcome of one detonation, computed
// once by the client whose timer reached zero and replayed verbatim by
// everyone else.
type BombExploded struct {
	BombID          string           `json:"bomb_id"`
	OwnerID         string           `json:"owner_id"`
	AffectedPlayers []string         `json:"affected_players"`
	AffectedBlocks  []worldgen.Block `json:"affected_blocks"`
}

func (BombExploded) Kind() Kind { return KindBombExploded }

func (p BombExploded) validate() error {
	if p.BombID == "" || p.OwnerID == "" {
		return fmt.Errorf("bomb_exploded: missing bomb_id or owner_id")
	}
	return nil
}

// PlayerDied is derivable from BombExploded but sent explicitly so
// out-of-order receivers can reconcile.
type PlayerDied struct {
	PlayerID string `json:"player_id"`
}

func (PlayerDied) Kind() Kind { return KindPlayerDied }

func (p PlayerDied) validate() error {
	if p.PlayerID == "" {
		return fmt.Errorf("player_died: missing player_id")
	}
	return nil
}

// NewEnvelope wraps a payload for a session. Seq stays zero until the
// relay assigns one.
func NewEnvelope(sessionID string, p Payload) (Envelope, error) {
	if err := p.validate(); err != nil {
		return Envelope{}, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding payload: %w", err)
	}
	return Envelope{
		SessionID: sessionID,
		Kind:      p.Kind(),
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// Decode parses an envelope's payload into its concrete type. Unknown
// kinds, unknown fields and missing required fields are rejected rather
// than trusted at runtime.
func Decode(env Envelope) (Payload, error) {
	var p Payload
	switch env.Kind {
	case KindReady:
		p = &Ready{}
	case KindStart:
		p = &Start{}
	case KindMove:
		p = &Move{}
	case KindBombPlaced:
		p = &BombPlaced{}
	case KindBombExploded:
		p = &BombExploded{}
	case KindPlayerDied:
		p = &PlayerDied{}
	default:
		return nil, fmt.Errorf("unknown message kind %q", env.Kind)
	}

	dec := json.NewDecoder(bytes.NewReader(env.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", env.Kind, err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseEnvelope decodes raw wire bytes into an envelope and verifies the
// payload in one step.
func ParseEnvelope(data []byte) (Envelope, Payload, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("decoding envelope: %w", err)
	}
	p, err := Decode(env)
	if err != nil {
		return Envelope{}, nil, err
	}
	return env, p, nil
}
