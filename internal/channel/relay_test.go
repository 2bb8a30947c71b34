package channel

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testRelay() *Relay {
	return &Relay{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func logEntry(t *testing.T, sessionID string, seq int64, p Payload) string {
	t.Helper()
	env, err := NewEnvelope(sessionID, p)
	if err != nil {
		t.Fatalf("building envelope: %v", err)
	}
	env.Seq = seq
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("encoding envelope: %v", err)
	}
	return string(data)
}

// Sequence assignment and the list append run in separate round trips,
// so two concurrent publishers can land in the log out of sequence
// order. Replay must still return every message after the requested
// sequence, in order, or a client reconciling a gap misses events.
func TestDecodeLog_OutOfOrderEntries(t *testing.T) {
	r := testRelay()
	raw := []string{
		logEntry(t, "s1", 2, &Move{PlayerID: "p2", X: 30, Y: 0}),
		logEntry(t, "s1", 1, &Ready{PlayerID: "p1"}),
		logEntry(t, "s1", 3, &PlayerDied{PlayerID: "p2"}),
	}

	tests := []struct {
		name     string
		since    int64
		wantSeqs []int64
	}{
		{"full replay", 0, []int64{1, 2, 3}},
		{"after first", 1, []int64{2, 3}},
		{"after interleaved", 2, []int64{3}},
		{"caught up", 3, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := r.decodeLog("s1", raw, tt.since)
			if len(envs) != len(tt.wantSeqs) {
				t.Fatalf("got %d envelopes, want %d", len(envs), len(tt.wantSeqs))
			}
			for i, env := range envs {
				if env.Seq != tt.wantSeqs[i] {
					t.Errorf("envs[%d].Seq = %d, want %d", i, env.Seq, tt.wantSeqs[i])
				}
			}
		})
	}
}

func TestDecodeLog_SkipsCorruptEntries(t *testing.T) {
	r := testRelay()
	raw := []string{
		logEntry(t, "s1", 1, &Ready{PlayerID: "p1"}),
		"{not json",
		logEntry(t, "s1", 2, &Start{StartedAt: time.Now().UTC()}),
	}

	envs := r.decodeLog("s1", raw, 0)
	if len(envs) != 2 {
		t.Fatalf("got %d envelopes, want 2", len(envs))
	}
	if envs[0].Seq != 1 || envs[1].Seq != 2 {
		t.Errorf("seqs = %d, %d, want 1, 2", envs[0].Seq, envs[1].Seq)
	}
}
