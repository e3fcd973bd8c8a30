package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the storage surface Store depends on. Interfaces live with the
// consumer, so both the PostgreSQL backend and the in-process fallback
// implement this.
type Querier interface {
	// AppendMessages atomically appends msgs to an identity's history,
	// assigning consecutive sequence numbers after the current maximum.
	AppendMessages(ctx context.Context, identity string, msgs []*Message) error

	// History returns all messages for identity ordered by sequence
	// ascending. A missing identity yields an empty slice, not an error.
	History(ctx context.Context, identity string) ([]*Message, error)

	// ReplaceHistory atomically swaps an identity's entire history for msgs.
	// Used by compaction to install the summary.
	ReplaceHistory(ctx context.Context, identity string, msgs []*Message) error

	// Clear removes all history for identity.
	Clear(ctx context.Context, identity string) error
}

// PGQuerier implements Querier on a pgx pool.
type PGQuerier struct {
	pool *pgxpool.Pool
}

// NewPGQuerier wraps pool.
func NewPGQuerier(pool *pgxpool.Pool) *PGQuerier {
	return &PGQuerier{pool: pool}
}

func (q *PGQuerier) AppendMessages(ctx context.Context, identity string, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	// Serializes concurrent appends for the same identity.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, identity); err != nil {
		return fmt.Errorf("lock identity: %w", err)
	}

	var maxSeq int32
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM messages WHERE identity = $1`,
		identity,
	).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("read max sequence: %w", err)
	}

	if err := insertMessages(ctx, tx, identity, maxSeq, msgs); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (q *PGQuerier) History(ctx context.Context, identity string) ([]*Message, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT id, identity, role, content, sequence_number, created_at
		   FROM messages
		  WHERE identity = $1
		  ORDER BY sequence_number ASC`,
		identity,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return msgs, nil
}

func (q *PGQuerier) ReplaceHistory(ctx context.Context, identity string, msgs []*Message) error {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, identity); err != nil {
		return fmt.Errorf("lock identity: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE identity = $1`, identity); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	if err := insertMessages(ctx, tx, identity, 0, msgs); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (q *PGQuerier) Clear(ctx context.Context, identity string) error {
	if _, err := q.pool.Exec(ctx, `DELETE FROM messages WHERE identity = $1`, identity); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func insertMessages(ctx context.Context, tx pgx.Tx, identity string, after int32, msgs []*Message) error {
	for i, m := range msgs {
		content, err := marshalParts(m.Content)
		if err != nil {
			return fmt.Errorf("marshal message %d: %w", i, err)
		}
		seq := after + int32(i) + 1 //nolint:gosec // loop index bounded by slice length
		_, err = tx.Exec(ctx,
			`INSERT INTO messages (identity, role, content, sequence_number)
			 VALUES ($1, $2, $3, $4)`,
			identity, m.Role, content, seq,
		)
		if err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}
	return nil
}

func scanMessage(rows pgx.Rows) (*Message, error) {
	var (
		m       Message
		content []byte
	)
	if err := rows.Scan(&m.ID, &m.Identity, &m.Role, &content, &m.Sequence, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	parts, err := unmarshalParts(content)
	if err != nil {
		return nil, fmt.Errorf("decode message %s: %w", m.ID, err)
	}
	m.Content = parts
	return &m, nil
}

// Ping reports backend reachability. Store uses it once at startup to decide
// between the database and the in-process fallback.
func (q *PGQuerier) Ping(ctx context.Context) error {
	if q.pool == nil {
		return errors.New("nil pool")
	}
	return q.pool.Ping(ctx)
}
