package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/tournament-engine/internal/channel"
	"github.com/tournament-engine/internal/domain"
)

type fakeStore struct {
	session      domain.GameSession
	participants []domain.Participant
	events       []channel.Envelope

	finalized       bool
	finalizedWinner string
	finalizedPrize  int64
	finalizedRanks  []int
}

func (f *fakeStore) GetSession(ctx context.Context, sessionID string) (*domain.GameSession, error) {
	s := f.session
	return &s, nil
}

func (f *fakeStore) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	return f.participants, nil
}

func (f *fakeStore) ListSessionEvents(ctx context.Context, sessionID string) ([]channel.Envelope, error) {
	return f.events, nil
}

func (f *fakeStore) FinalizeSession(ctx context.Context, sessionID, winnerUserID string, prize int64, ranked []domain.PlayerResult, ranks []int) error {
	if f.session.Status != domain.SessionActive {
		return domain.ErrAlreadySettled
	}
	f.finalized = true
	f.finalizedWinner = winnerUserID
	f.finalizedPrize = prize
	f.finalizedRanks = ranks
	f.session.Status = domain.SessionCompleted
	f.session.WinnerUserID = winnerUserID
	return nil
}

type fakeLocker struct {
	denyAcquire bool
	acquired    int
	released    int
}

func (f *fakeLocker) Acquire(ctx context.Context, sessionID, holder string) (bool, error) {
	if f.denyAcquire {
		return false, nil
	}
	f.acquired++
	return true, nil
}

func (f *fakeLocker) Release(ctx context.Context, sessionID, holder string) error {
	f.released++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fourSeatSession builds a full table of four players at 10 per seat
// with a 90% winner cut, so the pool is 40 and the prize 36.
func fourSeatSession() (*fakeStore, []domain.PlayerResult) {
	store := &fakeStore{
		session: domain.GameSession{
			ID:          "deadbeef-cafe-babe-f00d-000000000000",
			Status:      domain.SessionActive,
			TotalPool:   40,
			PrizeAmount: 36,
		},
		participants: []domain.Participant{
			{SessionID: "deadbeef-cafe-babe-f00d-000000000000", UserID: "u1", PlayerNumber: 1},
			{SessionID: "deadbeef-cafe-babe-f00d-000000000000", UserID: "u2", PlayerNumber: 2},
			{SessionID: "deadbeef-cafe-babe-f00d-000000000000", UserID: "u3", PlayerNumber: 3},
			{SessionID: "deadbeef-cafe-babe-f00d-000000000000", UserID: "u4", PlayerNumber: 4},
		},
	}

	// Corner spawn distance from the arena center, shared by all four
	// seats when nobody moves.
	d := math.Hypot(180, 180)
	results := []domain.PlayerResult{
		{UserID: "u1", PlayerNumber: 1, Alive: true, DistanceFromCenter: d},
		{UserID: "u2", PlayerNumber: 2, Alive: false, DistanceFromCenter: d},
		{UserID: "u3", PlayerNumber: 3, Alive: false, DistanceFromCenter: d},
		{UserID: "u4", PlayerNumber: 4, Alive: false, DistanceFromCenter: d},
	}
	return store, results
}

func matchEvents(t *testing.T, sessionID string) []channel.Envelope {
	t.Helper()
	payloads := []channel.Payload{
		channel.Ready{PlayerID: "u1"},
		channel.Ready{PlayerID: "u2"},
		channel.Ready{PlayerID: "u3"},
		channel.Ready{PlayerID: "u4"},
		channel.Start{StartedAt: time.Now().UTC()},
		channel.BombPlaced{BombID: "b1", OwnerID: "u1", X: 0, Y: 0},
		channel.BombExploded{BombID: "b1", OwnerID: "u1", AffectedPlayers: []string{"u2", "u3", "u4"}},
		channel.PlayerDied{PlayerID: "u2"},
		channel.PlayerDied{PlayerID: "u3"},
		channel.PlayerDied{PlayerID: "u4"},
	}

	events := make([]channel.Envelope, len(payloads))
	for i, p := range payloads {
		env, err := channel.NewEnvelope(sessionID, p)
		if err != nil {
			t.Fatalf("building event %d: %v", i, err)
		}
		env.Seq = int64(i + 1)
		events[i] = env
	}
	return events
}

func TestSettle_ArbitratesFromEventLog(t *testing.T) {
	store, _ := fourSeatSession()
	store.events = matchEvents(t, store.session.ID)
	locker := &fakeLocker{}
	engine := NewEngine(store, locker, 120, testLogger())

	session, err := engine.Settle(context.Background(), store.session.ID, domain.SettleRequest{
		ReporterUserID: "u1",
	})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	if !store.finalized {
		t.Fatal("session not finalized")
	}
	if store.finalizedWinner != "u1" {
		t.Errorf("winner = %s, want the sole survivor u1", store.finalizedWinner)
	}
	if store.finalizedPrize != 36 {
		t.Errorf("prize = %d, want 36", store.finalizedPrize)
	}
	if session.Status != domain.SessionCompleted {
		t.Errorf("returned session status = %s", session.Status)
	}
	if locker.acquired != 1 || locker.released != 1 {
		t.Errorf("lock acquired %d times, released %d times", locker.acquired, locker.released)
	}
}

func TestSettle_AcceptsMatchingReport(t *testing.T) {
	store, results := fourSeatSession()
	store.events = matchEvents(t, store.session.ID)
	engine := NewEngine(store, &fakeLocker{}, 120, testLogger())

	_, err := engine.Settle(context.Background(), store.session.ID, domain.SettleRequest{
		ReporterUserID: "u1",
		Results:        results,
	})
	if err != nil {
		t.Fatalf("Settle rejected a truthful report: %v", err)
	}
	if store.finalizedWinner != "u1" {
		t.Errorf("winner = %s, want u1", store.finalizedWinner)
	}
}

func TestSettle_RejectsTamperedReport(t *testing.T) {
	store, results := fourSeatSession()
	store.events = matchEvents(t, store.session.ID)
	engine := NewEngine(store, &fakeLocker{}, 120, testLogger())

	// The dead u2 claims survival
	tampered := make([]domain.PlayerResult, len(results))
	copy(tampered, results)
	tampered[1].Alive = true

	_, err := engine.Settle(context.Background(), store.session.ID, domain.SettleRequest{
		ReporterUserID: "u2",
		Results:        tampered,
	})
	if !errors.Is(err, domain.ErrSettlementMismatch) {
		t.Fatalf("err = %v, want ErrSettlementMismatch", err)
	}
	if store.finalized {
		t.Error("tampered report moved money")
	}
}

func TestSettle_TrustsReportWhenNoEventsArchived(t *testing.T) {
	store, results := fourSeatSession()
	engine := NewEngine(store, &fakeLocker{}, 120, testLogger())

	_, err := engine.Settle(context.Background(), store.session.ID, domain.SettleRequest{
		ReporterUserID: "u1",
		Results:        results,
	})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if store.finalizedWinner != "u1" {
		t.Errorf("winner = %s, want u1", store.finalizedWinner)
	}
}

func TestSettle_RejectsPartialReportWhenNoEventsArchived(t *testing.T) {
	store, results := fourSeatSession()
	engine := NewEngine(store, &fakeLocker{}, 120, testLogger())

	_, err := engine.Settle(context.Background(), store.session.ID, domain.SettleRequest{
		ReporterUserID: "u1",
		Results:        results[:2],
	})
	if !errors.Is(err, domain.ErrSettlementMismatch) {
		t.Fatalf("err = %v, want ErrSettlementMismatch", err)
	}
}

func TestSettle_TerminalStates(t *testing.T) {
	tests := []struct {
		status  domain.SessionStatus
		wantErr error
	}{
		{domain.SessionCompleted, domain.ErrAlreadySettled},
		{domain.SessionWaiting, domain.ErrSessionNotActive},
		{domain.SessionCancelled, domain.ErrSessionNotActive},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			store, results := fourSeatSession()
			store.session.Status = tt.status
			engine := NewEngine(store, &fakeLocker{}, 120, testLogger())

			_, err := engine.Settle(context.Background(), store.session.ID, domain.SettleRequest{
				ReporterUserID: "u1",
				Results:        results,
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if store.finalized {
				t.Error("finalized a session that was not active")
			}
		})
	}
}

func TestSettle_LockDeniedMeansAlreadySettled(t *testing.T) {
	store, results := fourSeatSession()
	engine := NewEngine(store, &fakeLocker{denyAcquire: true}, 120, testLogger())

	_, err := engine.Settle(context.Background(), store.session.ID, domain.SettleRequest{
		ReporterUserID: "u1",
		Results:        results,
	})
	if !errors.Is(err, domain.ErrAlreadySettled) {
		t.Fatalf("err = %v, want ErrAlreadySettled", err)
	}
	if store.finalized {
		t.Error("finalized without holding the settlement lock")
	}
}
