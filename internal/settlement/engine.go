package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/tournament-engine/internal/channel"
	"github.com/tournament-engine/internal/domain"
	"github.com/tournament-engine/internal/sim"
)

// Store is the slice of the session ledger settlement needs.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*domain.GameSession, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	ListSessionEvents(ctx context.Context, sessionID string) ([]channel.Envelope, error)
	FinalizeSession(ctx context.Context, sessionID, winnerUserID string, prize int64, ranked []domain.PlayerResult, ranks []int) error
}

// Locker serializes settlement attempts per session.
type Locker interface {
	Acquire(ctx context.Context, sessionID, holder string) (bool, error)
	Release(ctx context.Context, sessionID, holder string) error
}

// Engine settles finished sessions. Clients self-report outcomes, but
// the engine arbitrates: it replays the archived event log through the
// simulation reducer and recomputes the ranking independently before
// authorizing any credit, so a tampered report cannot move money.
type Engine struct {
	store      Store
	locker     Locker
	matchTicks int
	logger     *slog.Logger
}

// NewEngine creates a settlement engine.
func NewEngine(store Store, locker Locker, matchTicks int, logger *slog.Logger) *Engine {
	return &Engine{
		store:      store,
		locker:     locker,
		matchTicks: matchTicks,
		logger:     logger,
	}
}

// Settle verifies a reported outcome and finalizes the session: status
// to completed, ranks and raw stats persisted, prize credited to the
// winner. The finalize step is one store transaction and is guarded on
// the active status, so a session settles exactly once no matter how
// many clients report it.
func (e *Engine) Settle(ctx context.Context, sessionID string, req domain.SettleRequest) (*domain.GameSession, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch session.Status {
	case domain.SessionActive:
	case domain.SessionCompleted:
		return nil, domain.ErrAlreadySettled
	default:
		return nil, domain.ErrSessionNotActive
	}

	participants, err := e.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	results, err := e.arbitrate(ctx, sessionID, participants, req)
	if err != nil {
		return nil, err
	}

	ranked := Rank(results)
	ranks := make([]int, len(ranked))
	for i := range ranked {
		ranks[i] = i + 1
	}
	winner, ok := Winner(results)
	if !ok {
		return nil, domain.ErrInvalidRequest
	}

	acquired, err := e.locker.Acquire(ctx, sessionID, req.ReporterUserID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, domain.ErrAlreadySettled
	}
	defer func() {
		if err := e.locker.Release(ctx, sessionID, req.ReporterUserID); err != nil {
			e.logger.Warn("failed to release settlement lock", "session_id", sessionID, "error", err)
		}
	}()

	if err := e.store.FinalizeSession(ctx, sessionID, winner.UserID, session.PrizeAmount, ranked, ranks); err != nil {
		return nil, err
	}

	e.logger.Info("session settled",
		"session_id", sessionID,
		"winner_user_id", winner.UserID,
		"prize", session.PrizeAmount,
		"reporter", req.ReporterUserID,
	)

	return e.store.GetSession(ctx, sessionID)
}

// arbitrate recomputes the final state from the archived event log and
// checks the report against it. When no events were archived (audit
// stream disabled) the report is accepted as-is; that is the documented
// trust boundary, not silent behavior.
func (e *Engine) arbitrate(ctx context.Context, sessionID string, participants []domain.Participant, req domain.SettleRequest) ([]domain.PlayerResult, error) {
	events, err := e.store.ListSessionEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		e.logger.Warn("no archived events, accepting reported outcome", "session_id", sessionID)
		if len(req.Results) != len(participants) {
			return nil, domain.ErrSettlementMismatch
		}
		return req.Results, nil
	}

	derived := e.replay(sessionID, participants, events)

	if len(req.Results) > 0 {
		if err := compareResults(derived, req.Results); err != nil {
			e.logger.Warn("reported outcome rejected",
				"session_id", sessionID,
				"reporter", req.ReporterUserID,
				"error", err,
			)
			return nil, domain.ErrSettlementMismatch
		}
	}
	return derived, nil
}

// replay folds the archived messages through the simulation reducer.
// The reducer is idempotent and order-tolerant in the same ways the live
// clients are, so the derived state matches what every honest client
// computed during play.
func (e *Engine) replay(sessionID string, participants []domain.Participant, events []channel.Envelope) []domain.PlayerResult {
	roster := make([]sim.RosterEntry, len(participants))
	for i, p := range participants {
		roster[i] = sim.RosterEntry{ID: p.UserID, Number: p.PlayerNumber}
	}

	state := sim.New(sessionID, "", roster, e.matchTicks)
	for _, env := range events {
		payload, err := channel.Decode(env)
		if err != nil {
			e.logger.Warn("skipping undecodable archived event",
				"session_id", sessionID, "seq", env.Seq, "error", err)
			continue
		}
		state.Apply(payload)
	}
	return state.Results()
}

func compareResults(derived, reported []domain.PlayerResult) error {
	if len(derived) != len(reported) {
		return fmt.Errorf("result count %d != %d", len(reported), len(derived))
	}

	byUser := make(map[string]domain.PlayerResult, len(derived))
	for _, r := range derived {
		byUser[r.UserID] = r
	}
	for _, r := range reported {
		d, ok := byUser[r.UserID]
		if !ok {
			return fmt.Errorf("unknown player %s in report", r.UserID)
		}
		if r.Alive != d.Alive {
			return fmt.Errorf("player %s alive flag disagrees with log", r.UserID)
		}
		if r.BlocksDestroyed != d.BlocksDestroyed {
			return fmt.Errorf("player %s blocks destroyed %d != %d", r.UserID, r.BlocksDestroyed, d.BlocksDestroyed)
		}
		if math.Abs(r.DistanceFromCenter-d.DistanceFromCenter) > 1e-6 {
			return fmt.Errorf("player %s distance disagrees with log", r.UserID)
		}
	}
	return nil
}
