package calllog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ivr-gateway/pkg/utils"
)

// NOTE: This store assumes the following tables exist:
// - call_records (call_connection_id PK, caller_id, outcome, answered_at, ended_at)
// - call_transcripts (id bigserial PK, call_connection_id, role, text, created_at)

// Store persists call records and transcripts in Postgres.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CallAnswered(ctx context.Context, callConnectionID, callerID string, at time.Time) error {
	const q = `
INSERT INTO call_records (call_connection_id, caller_id, answered_at)
VALUES ($1, $2, $3)
ON CONFLICT (call_connection_id) DO NOTHING
`
	_, err := s.db.ExecContext(ctx, q, callConnectionID, callerID, at)
	return err
}

func (s *Store) Utterance(ctx context.Context, callConnectionID, role, text string, at time.Time) error {
	const q = `
INSERT INTO call_transcripts (call_connection_id, role, text, created_at)
VALUES ($1, $2, $3, $4)
`
	_, err := s.db.ExecContext(ctx, q, callConnectionID, role, text, at)
	return err
}

func (s *Store) CallEnded(ctx context.Context, callConnectionID, outcome string, at time.Time) error {
	const q = `
UPDATE call_records
SET outcome = $2, ended_at = $3
WHERE call_connection_id = $1
`
	_, err := s.db.ExecContext(ctx, q, callConnectionID, outcome, at)
	return err
}

// GetRecord loads one call record with its transcript in spoken order. Both
// reads run in one read-only transaction so a call ending mid-request cannot
// produce a record/transcript mismatch.
func (s *Store) GetRecord(ctx context.Context, callConnectionID string) (Record, error) {
	var rec Record
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
SELECT call_connection_id, caller_id, COALESCE(outcome, ''), answered_at, ended_at
FROM call_records
WHERE call_connection_id = $1
`
		if err := tx.QueryRowContext(ctx, q, callConnectionID).Scan(
			&rec.CallConnectionID,
			&rec.CallerID,
			&rec.Outcome,
			&rec.AnsweredAt,
			&rec.EndedAt,
		); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		const tq = `
SELECT role, text, created_at
FROM call_transcripts
WHERE call_connection_id = $1
ORDER BY created_at, id
`
		rows, err := tx.QueryContext(ctx, tq, callConnectionID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var l Line
			if err := rows.Scan(&l.Role, &l.Text, &l.At); err != nil {
				return err
			}
			rec.Transcript = append(rec.Transcript, l)
		}
		return rows.Err()
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
