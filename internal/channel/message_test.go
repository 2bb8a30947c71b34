package channel

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tournament-engine/internal/worldgen"
)

func TestDecode_RoundTrip(t *testing.T) {
	payloads := []Payload{
		Ready{PlayerID: "p1"},
		Start{StartedAt: time.Now().UTC()},
		Move{PlayerID: "p1", X: 60, Y: 90},
		BombPlaced{BombID: "b1", OwnerID: "p1", X: 30, Y: 30},
		BombExploded{
			BombID:          "b1",
			OwnerID:         "p1",
			AffectedPlayers: []string{"p2"},
			AffectedBlocks:  []worldgen.Block{{Col: 1, Row: 1}},
		},
		PlayerDied{PlayerID: "p2"},
	}

	for _, p := range payloads {
		t.Run(string(p.Kind()), func(t *testing.T) {
			env, err := NewEnvelope("session-1", p)
			if err != nil {
				t.Fatalf("NewEnvelope: %v", err)
			}
			if env.Kind != p.Kind() {
				t.Errorf("envelope kind = %q, want %q", env.Kind, p.Kind())
			}
			if env.Seq != 0 {
				t.Errorf("fresh envelope seq = %d, want 0", env.Seq)
			}

			decoded, err := Decode(env)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if decoded.Kind() != p.Kind() {
				t.Errorf("decoded kind = %q, want %q", decoded.Kind(), p.Kind())
			}
		})
	}
}

func TestDecode_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		payload string
	}{
		{"unknown kind", Kind("teleport"), `{"player_id":"p1"}`},
		{"empty kind", Kind(""), `{}`},
		{"unknown field", KindMove, `{"player_id":"p1","x":0,"y":0,"speed":99}`},
		{"missing player id", KindReady, `{"player_id":""}`},
		{"missing bomb id", KindBombPlaced, `{"bomb_id":"","owner_id":"p1","x":0,"y":0}`},
		{"missing started at", KindStart, `{}`},
		{"malformed json", KindMove, `{"player_id":`},
		{"wrong type", KindMove, `{"player_id":"p1","x":"left","y":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Envelope{
				SessionID: "session-1",
				Kind:      tt.kind,
				Timestamp: time.Now().UTC(),
				Payload:   json.RawMessage(tt.payload),
			}
			if _, err := Decode(env); err == nil {
				t.Errorf("Decode accepted %s", tt.name)
			}
		})
	}
}

func TestNewEnvelope_RejectsInvalidPayload(t *testing.T) {
	if _, err := NewEnvelope("session-1", Ready{}); err == nil {
		t.Error("NewEnvelope accepted a ready message without player_id")
	}
	if _, err := NewEnvelope("session-1", BombExploded{BombID: "b1"}); err == nil {
		t.Error("NewEnvelope accepted a bomb_exploded message without owner_id")
	}
}

func TestParseEnvelope(t *testing.T) {
	env, err := NewEnvelope("session-1", Move{PlayerID: "p1", X: 120, Y: 150})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	env.Seq = 42

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	parsed, payload, err := ParseEnvelope(data)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if parsed.SessionID != "session-1" || parsed.Seq != 42 {
		t.Errorf("parsed envelope = %+v", parsed)
	}
	move, ok := payload.(*Move)
	if !ok {
		t.Fatalf("payload type = %T, want *Move", payload)
	}
	if move.PlayerID != "p1" || move.X != 120 || move.Y != 150 {
		t.Errorf("move = %+v", move)
	}
}

func TestParseEnvelope_RejectsGarbage(t *testing.T) {
	if _, _, err := ParseEnvelope([]byte("not json")); err == nil {
		t.Error("ParseEnvelope accepted garbage")
	}
	if _, _, err := ParseEnvelope([]byte(`{"session_id":"s","kind":"warp","payload":{}}`)); err == nil {
		t.Error("ParseEnvelope accepted unknown kind")
	}
}
