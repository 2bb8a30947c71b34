package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tournament-engine/internal/domain"
)

// The wallet is the one piece of genuinely shared, contended state: the
// matchmaker debits it on join and settlement credits it on win. Debits
// use a conditional update (balance must cover the amount) so a
// concurrent mutation that loses the race simply fails the condition
// instead of going negative.

// GetBalance returns a user's spendable balance. A user with no wallet
// row has a zero balance.
func (r *Repository) GetBalance(ctx context.Context, userID string) (*domain.Balance, error) {
	query := `SELECT user_id, amount, updated_at FROM balances WHERE user_id = $1`
	var b domain.Balance
	err := r.pool.QueryRow(ctx, query, userID).Scan(&b.UserID, &b.Amount, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.Balance{UserID: userID, Amount: 0, UpdatedAt: time.Now().UTC()}, nil
		}
		return nil, fmt.Errorf("getting balance: %w", err)
	}
	return &b, nil
}

// Debit removes amount from a user's balance and records the ledger
// entry, both in one transaction. Fails with InsufficientBalanceError
// (carrying the shortfall) before any other state is touched.
func (r *Repository) Debit(ctx context.Context, userID string, amount int64, reason, sessionID string) error {
	if amount < 0 {
		return domain.ErrInvalidRequest
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning debit transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	result, err := tx.Exec(ctx, `
		UPDATE balances SET amount = amount - $2, updated_at = $3
		WHERE user_id = $1 AND amount >= $2
	`, userID, amount, now)
	if err != nil {
		return fmt.Errorf("debiting balance: %w", err)
	}
	if result.RowsAffected() == 0 {
		var available int64
		err := tx.QueryRow(ctx, `SELECT amount FROM balances WHERE user_id = $1`, userID).Scan(&available)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("reading balance after failed debit: %w", err)
		}
		return &domain.InsufficientBalanceError{Required: amount, Available: available}
	}

	if err := recordEntry(ctx, tx, userID, amount, domain.DirectionDebit, reason, sessionID, now); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing debit: %w", err)
	}
	return nil
}

// Credit adds amount to a user's balance, creating the wallet row when
// needed, and records the ledger entry.
func (r *Repository) Credit(ctx context.Context, userID string, amount int64, reason, sessionID string) error {
	if amount < 0 {
		return domain.ErrInvalidRequest
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning credit transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := creditTx(ctx, tx, userID, amount, reason, sessionID, time.Now().UTC()); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing credit: %w", err)
	}
	return nil
}

// creditTx applies a credit inside an existing transaction. Settlement
// and cancellation reuse it so the balance mutation shares their
// atomicity boundary.
func creditTx(ctx context.Context, tx pgx.Tx, userID string, amount int64, reason, sessionID string, now time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO balances (user_id, amount, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET amount = balances.amount + $2, updated_at = $3
	`, userID, amount, now)
	if err != nil {
		return fmt.Errorf("crediting balance: %w", err)
	}
	return recordEntry(ctx, tx, userID, amount, domain.DirectionCredit, reason, sessionID, now)
}

func recordEntry(ctx context.Context, tx pgx.Tx, userID string, amount int64, direction domain.BalanceDirection, reason, sessionID string, now time.Time) error {
	var sid *string
	if sessionID != "" {
		sid = &sessionID
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO balance_entries (user_id, amount, direction, reason, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, userID, amount, string(direction), reason, sid, now)
	if err != nil {
		return fmt.Errorf("recording balance entry: %w", err)
	}
	return nil
}

// ListBalanceEntries returns a user's wallet history, newest first.
func (r *Repository) ListBalanceEntries(ctx context.Context, userID string, limit int) ([]domain.BalanceEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT user_id, amount, direction, reason, COALESCE(session_id, ''), created_at
		FROM balance_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing balance entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.BalanceEntry
	for rows.Next() {
		var e domain.BalanceEntry
		if err := rows.Scan(&e.UserID, &e.Amount, &e.Direction, &e.Reason, &e.SessionID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning balance entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
