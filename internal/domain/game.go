package domain

import (
	"time"
)

// SessionStatus represents the lifecycle state of a game session.
// Transitions are one-directional: waiting -> active -> completed,
// or waiting -> cancelled.
type SessionStatus string

const (
	SessionWaiting   SessionStatus = "waiting"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// CanTransition reports whether a status change is allowed.
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	switch s {
	case SessionWaiting:
		return to == SessionActive || to == SessionCancelled
	case SessionActive:
		return to == SessionCompleted
	default:
		return false
	}
}

// GameDefinition describes one playable game type. Immutable for the
// lifetime of any session that references it.
type GameDefinition struct {
	ID               string    `json:"id"`
	GameType         string    `json:"game_type"`
	Name             string    `json:"name"`
	EntryFee         int64     `json:"entry_fee"`
	MinPlayers       int       `json:"min_players"`
	MaxPlayers       int       `json:"max_players"`
	WinnerPercentage float64   `json:"winner_percentage"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
}

// GameSession is one tournament match instance. TotalPool is the sum of
// escrowed entry fees over committed participants; PrizeAmount is always
// TotalPool * WinnerPercentage of the game definition.
type GameSession struct {
	ID               string        `json:"id"`
	GameDefinitionID string        `json:"game_definition_id"`
	Code             string        `json:"code"`
	TargetPlayers    int           `json:"target_players"`
	Status           SessionStatus `json:"status"`
	TotalPool        int64         `json:"total_pool"`
	PrizeAmount      int64         `json:"prize_amount"`
	WinnerUserID     string        `json:"winner_user_id,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// Participant is one seat in a session. PlayerNumber is unique within the
// session and assigned monotonically at join time. Rank and the raw stats
// are written only at settlement.
type Participant struct {
	SessionID          string    `json:"session_id"`
	UserID             string    `json:"user_id"`
	PlayerNumber       int       `json:"player_number"`
	EntryPaid          bool      `json:"entry_paid"`
	BlocksDestroyed    int       `json:"blocks_destroyed"`
	DistanceFromCenter float64   `json:"distance_from_center"`
	Rank               int       `json:"rank,omitempty"`
	JoinedAt           time.Time `json:"joined_at"`
}

// SessionSummary is a listing row for open sessions. CurrentPlayers is
// derived by counting participant rows at read time, never cached.
type SessionSummary struct {
	SessionID        string    `json:"session_id"`
	GameDefinitionID string    `json:"game_definition_id"`
	Code             string    `json:"code"`
	TargetPlayers    int       `json:"target_players"`
	CurrentPlayers   int       `json:"current_players"`
	EntryFee         int64     `json:"entry_fee"`
	TotalPool        int64     `json:"total_pool"`
	PrizeAmount      int64     `json:"prize_amount"`
	CreatedAt        time.Time `json:"created_at"`
}

// SessionHandle is returned from a join: the session plus the caller's seat.
type SessionHandle struct {
	Session     GameSession `json:"session"`
	Participant Participant `json:"participant"`
	Created     bool        `json:"created"`
}

// BalanceDirection tags a wallet adjustment.
type BalanceDirection string

const (
	DirectionDebit  BalanceDirection = "debit"
	DirectionCredit BalanceDirection = "credit"
)

// Balance is a user's spendable balance.
type Balance struct {
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BalanceEntry is one durable wallet adjustment record.
type BalanceEntry struct {
	UserID    string           `json:"user_id"`
	Amount    int64            `json:"amount"`
	Direction BalanceDirection `json:"direction"`
	Reason    string           `json:"reason"`
	SessionID string           `json:"session_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Wallet adjustment reason tags.
const (
	ReasonEntryFee    = "entry_fee"
	ReasonEntryRefund = "entry_refund"
	ReasonPrize       = "prize"
	ReasonDeposit     = "deposit"
)

// CreateGameRequest creates a new game definition.
type CreateGameRequest struct {
	GameType         string  `json:"game_type"`
	Name             string  `json:"name"`
	EntryFee         int64   `json:"entry_fee"`
	MinPlayers       int     `json:"min_players"`
	MaxPlayers       int     `json:"max_players"`
	WinnerPercentage float64 `json:"winner_percentage"`
}

// Validate checks the request against the session seat bounds.
func (r *CreateGameRequest) Validate() error {
	if r.GameType == "" || r.Name == "" {
		return ErrInvalidRequest
	}
	if r.EntryFee < 0 || r.WinnerPercentage <= 0 || r.WinnerPercentage > 1 {
		return ErrInvalidRequest
	}
	if r.MinPlayers < 2 || r.MaxPlayers > 5 || r.MinPlayers > r.MaxPlayers {
		return ErrInvalidRequest
	}
	return nil
}

// JoinRequest asks the matchmaker for a seat. SessionID empty means
// join-or-create; TargetPlayers only applies when a session is created.
type JoinRequest struct {
	UserID        string `json:"user_id"`
	SessionID     string `json:"session_id,omitempty"`
	TargetPlayers int    `json:"target_players,omitempty"`
}

// PlayerResult is one participant's final state as reported at settlement.
type PlayerResult struct {
	UserID             string  `json:"user_id"`
	PlayerNumber       int     `json:"player_number"`
	Alive              bool    `json:"alive"`
	BlocksDestroyed    int     `json:"blocks_destroyed"`
	DistanceFromCenter float64 `json:"distance_from_center"`
}

// SettleRequest is a client's reported match outcome. The settlement
// engine verifies it against the archived event log before crediting.
type SettleRequest struct {
	ReporterUserID string         `json:"reporter_user_id"`
	Results        []PlayerResult `json:"results"`
}
