package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tournament-engine/internal/config"
	"github.com/tournament-engine/internal/domain"
)

// Repository provides PostgreSQL-based data access. It exclusively owns
// the persisted session, participant and wallet rows; clients only ever
// see the outcomes, never each other's in-memory simulation state.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS game_definitions (
			id VARCHAR(64) PRIMARY KEY,
			game_type VARCHAR(32) NOT NULL,
			name VARCHAR(255) NOT NULL,
			entry_fee BIGINT NOT NULL,
			min_players INT NOT NULL DEFAULT 2,
			max_players INT NOT NULL DEFAULT 5,
			winner_percentage DOUBLE PRECISION NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS game_sessions (
			id VARCHAR(64) PRIMARY KEY,
			game_definition_id VARCHAR(64) NOT NULL REFERENCES game_definitions(id),
			code VARCHAR(12) NOT NULL,
			target_players INT NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'waiting',
			total_pool BIGINT NOT NULL DEFAULT 0,
			prize_amount BIGINT NOT NULL DEFAULT 0,
			winner_user_id VARCHAR(64),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS game_participants (
			session_id VARCHAR(64) NOT NULL REFERENCES game_sessions(id) ON DELETE CASCADE,
			user_id VARCHAR(64) NOT NULL,
			player_number INT NOT NULL,
			entry_paid BOOLEAN NOT NULL DEFAULT FALSE,
			blocks_destroyed INT NOT NULL DEFAULT 0,
			distance_from_center DOUBLE PRECISION NOT NULL DEFAULT 0,
			rank INT,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(session_id, user_id),
			UNIQUE(session_id, player_number)
		)`,
		`CREATE TABLE IF NOT EXISTS balances (
			user_id VARCHAR(64) PRIMARY KEY,
			amount BIGINT NOT NULL DEFAULT 0 CHECK (amount >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS balance_entries (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			amount BIGINT NOT NULL,
			direction VARCHAR(8) NOT NULL,
			reason VARCHAR(32) NOT NULL,
			session_id VARCHAR(64),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS session_events (
			id BIGSERIAL PRIMARY KEY,
			session_id VARCHAR(64) NOT NULL,
			seq BIGINT NOT NULL,
			kind VARCHAR(32) NOT NULL,
			payload JSONB NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(session_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_open ON game_sessions(game_definition_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_session ON game_participants(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_balance_entries_user ON balance_entries(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id, seq)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// CreateGameDefinition inserts a new game definition
func (r *Repository) CreateGameDefinition(ctx context.Context, def domain.GameDefinition) error {
	query := `
		INSERT INTO game_definitions (id, game_type, name, entry_fee, min_players, max_players, winner_percentage, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		def.ID,
		def.GameType,
		def.Name,
		def.EntryFee,
		def.MinPlayers,
		def.MaxPlayers,
		def.WinnerPercentage,
		def.Active,
		def.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating game definition: %w", err)
	}
	return nil
}

// GetGameDefinition retrieves a game definition by ID
func (r *Repository) GetGameDefinition(ctx context.Context, gameID string) (*domain.GameDefinition, error) {
	query := `
		SELECT id, game_type, name, entry_fee, min_players, max_players, winner_percentage, active, created_at
		FROM game_definitions
		WHERE id = $1
	`
	var def domain.GameDefinition
	err := r.pool.QueryRow(ctx, query, gameID).Scan(
		&def.ID,
		&def.GameType,
		&def.Name,
		&def.EntryFee,
		&def.MinPlayers,
		&def.MaxPlayers,
		&def.WinnerPercentage,
		&def.Active,
		&def.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGameNotFound
		}
		return nil, fmt.Errorf("getting game definition: %w", err)
	}
	return &def, nil
}

// ListGameDefinitions retrieves game definitions, optionally only active ones
func (r *Repository) ListGameDefinitions(ctx context.Context, activeOnly bool) ([]domain.GameDefinition, error) {
	query := `
		SELECT id, game_type, name, entry_fee, min_players, max_players, winner_percentage, active, created_at
		FROM game_definitions
		WHERE active OR NOT $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("listing game definitions: %w", err)
	}
	defer rows.Close()

	var defs []domain.GameDefinition
	for rows.Next() {
		var def domain.GameDefinition
		err := rows.Scan(
			&def.ID,
			&def.GameType,
			&def.Name,
			&def.EntryFee,
			&def.MinPlayers,
			&def.MaxPlayers,
			&def.WinnerPercentage,
			&def.Active,
			&def.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning game definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// CreateSession inserts a new waiting session row
func (r *Repository) CreateSession(ctx context.Context, session domain.GameSession) error {
	query := `
		INSERT INTO game_sessions (id, game_definition_id, code, target_players, status, total_pool, prize_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.GameDefinitionID,
		session.Code,
		session.TargetPlayers,
		string(session.Status),
		session.TotalPool,
		session.PrizeAmount,
		session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (r *Repository) GetSession(ctx context.Context, sessionID string) (*domain.GameSession, error) {
	query := `
		SELECT id, game_definition_id, code, target_players, status, total_pool, prize_amount,
		       COALESCE(winner_user_id, ''), created_at, completed_at
		FROM game_sessions
		WHERE id = $1
	`
	var session domain.GameSession
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(
		&session.ID,
		&session.GameDefinitionID,
		&session.Code,
		&session.TargetPlayers,
		&session.Status,
		&session.TotalPool,
		&session.PrizeAmount,
		&session.WinnerUserID,
		&session.CreatedAt,
		&session.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return &session, nil
}

// ListOpenSessions returns waiting sessions with a free seat. The live
// participant count is derived by counting rows at read time rather than
// trusting a cached column.
func (r *Repository) ListOpenSessions(ctx context.Context, gameID string) ([]domain.SessionSummary, error) {
	query := `
		SELECT s.id, s.game_definition_id, s.code, s.target_players,
		       COUNT(p.user_id) AS current_players,
		       d.entry_fee, s.total_pool, s.prize_amount, s.created_at
		FROM game_sessions s
		JOIN game_definitions d ON d.id = s.game_definition_id
		LEFT JOIN game_participants p ON p.session_id = s.id
		WHERE s.status = 'waiting' AND (s.game_definition_id = $1 OR $1 = '')
		GROUP BY s.id, d.entry_fee
		HAVING COUNT(p.user_id) < s.target_players
		ORDER BY s.created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("listing open sessions: %w", err)
	}
	defer rows.Close()

	var summaries []domain.SessionSummary
	for rows.Next() {
		var s domain.SessionSummary
		err := rows.Scan(
			&s.SessionID,
			&s.GameDefinitionID,
			&s.Code,
			&s.TargetPlayers,
			&s.CurrentPlayers,
			&s.EntryFee,
			&s.TotalPool,
			&s.PrizeAmount,
			&s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning open session: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// ListParticipants returns all participants of a session ordered by seat
func (r *Repository) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	query := `
		SELECT session_id, user_id, player_number, entry_paid, blocks_destroyed,
		       distance_from_center, COALESCE(rank, 0), joined_at
		FROM game_participants
		WHERE session_id = $1
		ORDER BY player_number ASC
	`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		var p domain.Participant
		err := rows.Scan(
			&p.SessionID,
			&p.UserID,
			&p.PlayerNumber,
			&p.EntryPaid,
			&p.BlocksDestroyed,
			&p.DistanceFromCenter,
			&p.Rank,
			&p.JoinedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, nil
}

// GetParticipant returns one participant row, or domain.ErrUserNotFound.
func (r *Repository) GetParticipant(ctx context.Context, sessionID, userID string) (*domain.Participant, error) {
	query := `
		SELECT session_id, user_id, player_number, entry_paid, blocks_destroyed,
		       distance_from_center, COALESCE(rank, 0), joined_at
		FROM game_participants
		WHERE session_id = $1 AND user_id = $2
	`
	var p domain.Participant
	err := r.pool.QueryRow(ctx, query, sessionID, userID).Scan(
		&p.SessionID,
		&p.UserID,
		&p.PlayerNumber,
		&p.EntryPaid,
		&p.BlocksDestroyed,
		&p.DistanceFromCenter,
		&p.Rank,
		&p.JoinedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting participant: %w", err)
	}
	return &p, nil
}

// AddParticipant inserts a participant in one transaction: the session
// row is locked, the seat count re-checked against committed rows, and
// the seat number derived from that same count, so concurrent joins can
// never exceed the target or reuse a number. The pool and prize are
// updated in the same transaction.
func (r *Repository) AddParticipant(ctx context.Context, sessionID, userID string) (*domain.Participant, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("beginning join transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		status        string
		targetPlayers int
		totalPool     int64
		entryFee      int64
		winnerPct     float64
	)
	err = tx.QueryRow(ctx, `
		SELECT s.status, s.target_players, s.total_pool, d.entry_fee, d.winner_percentage
		FROM game_sessions s
		JOIN game_definitions d ON d.id = s.game_definition_id
		WHERE s.id = $1
		FOR UPDATE OF s
	`, sessionID).Scan(&status, &targetPlayers, &totalPool, &entryFee, &winnerPct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("locking session: %w", err)
	}
	if domain.SessionStatus(status) != domain.SessionWaiting {
		return nil, domain.ErrSessionNotWaiting
	}

	var seats int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM game_participants WHERE session_id = $1`, sessionID,
	).Scan(&seats); err != nil {
		return nil, fmt.Errorf("counting seats: %w", err)
	}
	if seats >= targetPlayers {
		return nil, domain.ErrSessionFull
	}

	p := domain.Participant{
		SessionID:    sessionID,
		UserID:       userID,
		PlayerNumber: seats + 1,
		EntryPaid:    true,
		JoinedAt:     time.Now().UTC(),
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO game_participants (session_id, user_id, player_number, entry_paid, joined_at)
		VALUES ($1, $2, $3, TRUE, $4)
	`, p.SessionID, p.UserID, p.PlayerNumber, p.JoinedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrAlreadyJoined
		}
		return nil, fmt.Errorf("inserting participant: %w", err)
	}

	newPool := totalPool + entryFee
	newPrize := int64(math.Round(float64(newPool) * winnerPct))
	_, err = tx.Exec(ctx, `
		UPDATE game_sessions SET total_pool = $2, prize_amount = $3 WHERE id = $1
	`, sessionID, newPool, newPrize)
	if err != nil {
		return nil, fmt.Errorf("updating pool: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing join: %w", err)
	}
	return &p, nil
}

// MarkSessionActive moves a session from waiting to active once the
// roster is full and the start message has been observed.
func (r *Repository) MarkSessionActive(ctx context.Context, sessionID string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE game_sessions SET status = 'active' WHERE id = $1 AND status = 'waiting'
	`, sessionID)
	if err != nil {
		return fmt.Errorf("activating session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrSessionNotWaiting
	}
	return nil
}

// FinalizeSession is the single atomic settlement unit: the status
// transition to completed, the winner reference, every participant's
// final rank and stats, and the prize credit commit or roll back
// together. Only the first finalizer observes status = 'active', so the
// prize is credited exactly once.
func (r *Repository) FinalizeSession(ctx context.Context, sessionID, winnerUserID string, prize int64, ranked []domain.PlayerResult, ranks []int) error {
	if len(ranked) != len(ranks) {
		return domain.ErrInvalidRequest
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning settlement transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	result, err := tx.Exec(ctx, `
		UPDATE game_sessions
		SET status = 'completed', winner_user_id = $2, completed_at = $3
		WHERE id = $1 AND status = 'active'
	`, sessionID, winnerUserID, now)
	if err != nil {
		return fmt.Errorf("completing session: %w", err)
	}
	if result.RowsAffected() == 0 {
		session, err := r.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.Status == domain.SessionCompleted {
			return domain.ErrAlreadySettled
		}
		return domain.ErrSessionNotActive
	}

	for i, res := range ranked {
		_, err = tx.Exec(ctx, `
			UPDATE game_participants
			SET rank = $3, blocks_destroyed = $4, distance_from_center = $5
			WHERE session_id = $1 AND user_id = $2
		`, sessionID, res.UserID, ranks[i], res.BlocksDestroyed, res.DistanceFromCenter)
		if err != nil {
			return fmt.Errorf("writing final stats: %w", err)
		}
	}

	if err := creditTx(ctx, tx, winnerUserID, prize, domain.ReasonPrize, sessionID, now); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing settlement: %w", err)
	}
	return nil
}

// CancelSession moves a waiting session to cancelled, refunding every
// paid entry fee in the same transaction.
func (r *Repository) CancelSession(ctx context.Context, sessionID string) (int, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("beginning cancel transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var entryFee int64
	err = tx.QueryRow(ctx, `
		SELECT d.entry_fee
		FROM game_sessions s
		JOIN game_definitions d ON d.id = s.game_definition_id
		WHERE s.id = $1 AND s.status = 'waiting'
		FOR UPDATE OF s
	`, sessionID).Scan(&entryFee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrSessionNotWaiting
		}
		return 0, fmt.Errorf("locking session for cancel: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT user_id FROM game_participants WHERE session_id = $1 AND entry_paid
	`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("listing refundees: %w", err)
	}
	var refundees []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning refundee: %w", err)
		}
		refundees = append(refundees, userID)
	}
	rows.Close()

	now := time.Now().UTC()
	for _, userID := range refundees {
		if err := creditTx(ctx, tx, userID, entryFee, domain.ReasonEntryRefund, sessionID, now); err != nil {
			return 0, err
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE game_sessions SET status = 'cancelled', total_pool = 0, prize_amount = 0 WHERE id = $1
	`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("cancelling session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing cancel: %w", err)
	}
	return len(refundees), nil
}

// ListAbandonedSessions returns waiting sessions with no participants,
// plus waiting sessions older than staleAfter regardless of headcount.
func (r *Repository) ListAbandonedSessions(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	query := `
		SELECT s.id
		FROM game_sessions s
		LEFT JOIN game_participants p ON p.session_id = s.id
		WHERE s.status = 'waiting'
		GROUP BY s.id
		HAVING COUNT(p.user_id) = 0 OR s.created_at < $1
		ORDER BY s.created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, time.Now().UTC().Add(-staleAfter))
	if err != nil {
		return nil, fmt.Errorf("listing abandoned sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning abandoned session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
