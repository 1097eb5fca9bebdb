package outbox

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the publisher side of an outbox_messages table. Both services
// carry the same table shape in their own database, so they share this
// implementation. Ownership of a row moves from the transactional writer to
// the publisher at commit time; the publisher only ever sees committed rows.
type PGStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewPGStore(log *slog.Logger, pool *pgxpool.Pool) *PGStore {
	return &PGStore{log: log, pool: pool}
}

func (s *PGStore) FetchPending(ctx context.Context, batchSize, maxRetries int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, payload, COALESCE(correlation_id,''), occurred_at, processed_at, retry_count, COALESCE(last_error,'')
		FROM outbox_messages
		WHERE processed_at IS NULL AND retry_count < $1
		ORDER BY occurred_at
		LIMIT $2`, maxRetries, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.EventType, &m.Payload, &m.CorrelationID,
			&m.OccurredAt, &m.ProcessedAt, &m.RetryCount, &m.LastError); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkBatch persists the outcome of one poll cycle in a single transaction:
// delivered rows become terminal, failed rows advance their retry counter
// and stay pending.
func (s *PGStore) MarkBatch(ctx context.Context, processed []uuid.UUID, failed []Failure) error {
	if len(processed) == 0 && len(failed) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if len(processed) > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE outbox_messages SET processed_at=now() WHERE id = ANY($1) AND processed_at IS NULL`,
			processed)
		if err != nil {
			return err
		}
	}

	batch := &pgx.Batch{}
	for _, f := range failed {
		batch.Queue(
			`UPDATE outbox_messages SET retry_count=retry_count+1, last_error=$2 WHERE id=$1 AND processed_at IS NULL`,
			f.ID, f.Err)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PGStore) CountExhausted(ctx context.Context, maxRetries int) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_messages WHERE processed_at IS NULL AND retry_count >= $1`,
		maxRetries).Scan(&n)
	return n, err
}
