// Package match seats players into sessions. Escrow and membership are
// committed as a unit: there is no state in which an entry fee is taken
// without a seat, or a seat exists without a paid fee.
package match

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tournament-engine/internal/domain"
)

// Store is the slice of the session ledger the matchmaker needs.
type Store interface {
	GetGameDefinition(ctx context.Context, gameID string) (*domain.GameDefinition, error)
	ListOpenSessions(ctx context.Context, gameID string) ([]domain.SessionSummary, error)
	CreateSession(ctx context.Context, session domain.GameSession) error
	GetSession(ctx context.Context, sessionID string) (*domain.GameSession, error)
	GetParticipant(ctx context.Context, sessionID, userID string) (*domain.Participant, error)
	AddParticipant(ctx context.Context, sessionID, userID string) (*domain.Participant, error)
	ListAbandonedSessions(ctx context.Context, staleAfter time.Duration) ([]string, error)
	CancelSession(ctx context.Context, sessionID string) (int, error)
}

// Ledger is the external balance-adjustment collaborator. The matchmaker
// never manipulates balances directly; a ledger failure hard-aborts the
// enclosing step.
type Ledger interface {
	Debit(ctx context.Context, userID string, amount int64, reason, sessionID string) error
	Credit(ctx context.Context, userID string, amount int64, reason, sessionID string) error
}

// Matchmaker lists, joins and creates sessions.
type Matchmaker struct {
	store  Store
	ledger Ledger
	logger *slog.Logger
}

// NewMatchmaker creates a matchmaker.
func NewMatchmaker(store Store, ledger Ledger, logger *slog.Logger) *Matchmaker {
	return &Matchmaker{
		store:  store,
		ledger: ledger,
		logger: logger,
	}
}

// ListOpenSessions returns waiting sessions with free seats for a game,
// or for every game when gameID is empty.
func (m *Matchmaker) ListOpenSessions(ctx context.Context, gameID string) ([]domain.SessionSummary, error) {
	return m.store.ListOpenSessions(ctx, gameID)
}

// JoinOrCreate seats the caller: into the requested session, else into
// the oldest open session for the game, else into a freshly created one.
func (m *Matchmaker) JoinOrCreate(ctx context.Context, gameID string, req domain.JoinRequest) (*domain.SessionHandle, error) {
	if req.UserID == "" {
		return nil, domain.ErrInvalidRequest
	}

	def, err := m.store.GetGameDefinition(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !def.Active {
		return nil, domain.ErrGameInactive
	}

	if req.SessionID != "" {
		return m.join(ctx, def, req.SessionID, req.UserID, false)
	}

	open, err := m.store.ListOpenSessions(ctx, gameID)
	if err != nil {
		return nil, err
	}
	for _, summary := range open {
		handle, err := m.join(ctx, def, summary.SessionID, req.UserID, false)
		if err == nil {
			return handle, nil
		}
		// Someone took the last seat between list and join; move on to
		// the next candidate.
		if domain.IsConflictError(err) {
			continue
		}
		return nil, err
	}

	return m.create(ctx, def, req)
}

// join seats one user into one session. The flow follows the escrow
// contract: re-check membership, debit, insert, and reverse the debit on
// any insert failure.
func (m *Matchmaker) join(ctx context.Context, def *domain.GameDefinition, sessionID, userID string, created bool) (*domain.SessionHandle, error) {
	// Idempotent re-entry: an existing member gets their handle back
	// instead of an error (and no second debit).
	if existing, err := m.store.GetParticipant(ctx, sessionID, userID); err == nil {
		return m.handle(ctx, sessionID, *existing, false)
	} else if !domain.IsNotFoundError(err) {
		return nil, err
	}

	if err := m.ledger.Debit(ctx, userID, def.EntryFee, domain.ReasonEntryFee, sessionID); err != nil {
		return nil, err
	}

	participant, err := m.store.AddParticipant(ctx, sessionID, userID)
	if err != nil {
		m.refund(ctx, userID, def.EntryFee, sessionID)
		if errors.Is(err, domain.ErrAlreadyJoined) {
			// Lost a race against our own concurrent join; the earlier
			// insert paid, so this attempt's fee comes straight back.
			if existing, gerr := m.store.GetParticipant(ctx, sessionID, userID); gerr == nil {
				return m.handle(ctx, sessionID, *existing, false)
			}
		}
		return nil, err
	}

	return m.handle(ctx, sessionID, *participant, created)
}

// refund reverses an escrow debit after a failed seat insert. A failed
// refund is a consistency incident and is logged as such; the entry in
// the balance ledger makes it recoverable by reconciliation.
func (m *Matchmaker) refund(ctx context.Context, userID string, amount int64, sessionID string) {
	if err := m.ledger.Credit(ctx, userID, amount, domain.ReasonEntryRefund, sessionID); err != nil {
		m.logger.Error("escrow refund failed, manual reconciliation required",
			"user_id", userID,
			"session_id", sessionID,
			"amount", amount,
			"error", err,
		)
	}
}

func (m *Matchmaker) handle(ctx context.Context, sessionID string, participant domain.Participant, created bool) (*domain.SessionHandle, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &domain.SessionHandle{
		Session:     *session,
		Participant: participant,
		Created:     created,
	}, nil
}

// create opens a fresh waiting session and seats the creator in it. The
// seat target is the creator's choice within 2..5, clamped to the game
// definition's bounds.
func (m *Matchmaker) create(ctx context.Context, def *domain.GameDefinition, req domain.JoinRequest) (*domain.SessionHandle, error) {
	target := req.TargetPlayers
	if target == 0 {
		target = def.MaxPlayers
	}
	// The arena has five spawn cells at most; a definition row written
	// outside the API can carry wider bounds, so both limits apply.
	if target < def.MinPlayers || target > def.MaxPlayers || target < 2 || target > 5 {
		return nil, domain.ErrInvalidRequest
	}

	id := uuid.New().String()
	session := domain.GameSession{
		ID:               id,
		GameDefinitionID: def.ID,
		Code:             sessionCode(id),
		TargetPlayers:    target,
		Status:           domain.SessionWaiting,
		CreatedAt:        time.Now().UTC(),
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	m.logger.Info("session created",
		"session_id", session.ID,
		"game_id", def.ID,
		"target_players", target,
		"creator", req.UserID,
	)

	return m.join(ctx, def, session.ID, req.UserID, true)
}

// CleanupAbandoned cancels waiting sessions nobody sits in, and waiting
// sessions older than staleAfter regardless of headcount. Paid entry
// fees come back to their players; escrow is never lost to a leak.
func (m *Matchmaker) CleanupAbandoned(ctx context.Context, staleAfter time.Duration) (int, error) {
	ids, err := m.store.ListAbandonedSessions(ctx, staleAfter)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, id := range ids {
		refunded, err := m.store.CancelSession(ctx, id)
		if err != nil {
			// A session that went active between list and cancel is
			// fine; anything else is worth a log line.
			if !errors.Is(err, domain.ErrSessionNotWaiting) {
				m.logger.Error("failed to cancel abandoned session", "session_id", id, "error", err)
			}
			continue
		}
		cancelled++
		if refunded > 0 {
			m.logger.Info("cancelled stale session", "session_id", id, "refunded", refunded)
		}
	}
	return cancelled, nil
}

// sessionCode derives the short human-readable code from the session id.
func sessionCode(sessionID string) string {
	code := strings.ToUpper(strings.ReplaceAll(sessionID, "-", ""))
	if len(code) > 6 {
		code = code[:6]
	}
	return code
}
