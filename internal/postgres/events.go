package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tournament-engine/internal/channel"
)

// The session_events table is the durable copy of each session's event
// log, fed from the Kafka audit topic. Settlement arbitration replays it
// to recompute rankings independently of whatever a client reports.

// ArchiveEvents batch-inserts audit events. Idempotent on
// (session_id, seq) so a reprocessed Kafka batch is harmless.
func (r *Repository) ArchiveEvents(ctx context.Context, events []channel.Envelope) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO session_events (session_id, seq, kind, payload, ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, seq) DO NOTHING
	`
	for _, env := range events {
		batch.Queue(query, env.SessionID, env.Seq, string(env.Kind), env.Payload, env.Timestamp)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("archiving events: %w", err)
		}
	}
	return nil
}

// ListSessionEvents returns a session's archived events in sequence
// order.
func (r *Repository) ListSessionEvents(ctx context.Context, sessionID string) ([]channel.Envelope, error) {
	query := `
		SELECT session_id, seq, kind, payload, ts
		FROM session_events
		WHERE session_id = $1
		ORDER BY seq ASC
	`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing session events: %w", err)
	}
	defer rows.Close()

	var events []channel.Envelope
	for rows.Next() {
		var env channel.Envelope
		if err := rows.Scan(&env.SessionID, &env.Seq, &env.Kind, &env.Payload, &env.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning session event: %w", err)
		}
		events = append(events, env)
	}
	return events, nil
}
