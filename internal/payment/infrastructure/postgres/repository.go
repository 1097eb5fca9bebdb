package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecomflow/payment-platform/internal/payment/application"
	"github.com/ecomflow/payment-platform/internal/payment/domain"
	"github.com/ecomflow/payment-platform/pkg/outbox"
)

// Store persists payments, attempts, refunds and outbox rows. Saga
// operations run through WithinTx; the Lock* loads take `FOR UPDATE` row
// locks so concurrent work on one payment serializes at the database.
type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{log: log, pool: pool}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx application.TxStore) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &txStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const paymentColumns = `id, order_id, payer_id, amount, currency, status,
	COALESCE(provider_ref,''), COALESCE(failure_reason,''), current_attempt_id, created_at, updated_at`

func scanPayment(row pgx.Row) (domain.Payment, error) {
	var (
		p       domain.Payment
		attempt uuid.NullUUID
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.PayerID, &p.Amount, &p.Currency, &p.Status,
		&p.ProviderRef, &p.FailureReason, &attempt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, application.ErrNotFound
	}
	if err != nil {
		return domain.Payment{}, err
	}
	if attempt.Valid {
		p.CurrentAttemptID = &attempt.UUID
	}
	return p, nil
}

func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (domain.Payment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id=$1`, orderID)
	return scanPayment(row)
}

func (s *Store) ListRefundsByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]domain.Refund, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+refundColumns+` FROM refunds WHERE payment_id=$1 ORDER BY created_at`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refunds []domain.Refund
	for rows.Next() {
		r, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, r)
	}
	return refunds, rows.Err()
}

func (s *Store) GetRefundByID(ctx context.Context, refundID uuid.UUID) (domain.Refund, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id=$1`, refundID)
	return scanRefund(row)
}

type txStore struct {
	tx pgx.Tx
}

func (t *txStore) LockPaymentByID(ctx context.Context, id uuid.UUID) (domain.Payment, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1 FOR UPDATE`, id)
	return scanPayment(row)
}

func (t *txStore) LockPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (domain.Payment, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id=$1 FOR UPDATE`, orderID)
	return scanPayment(row)
}

func (t *txStore) InsertPayment(ctx context.Context, p domain.Payment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments (id, order_id, payer_id, amount, currency, status, provider_ref, failure_reason, current_attempt_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),NULLIF($8,''),$9,$10,$11)`,
		p.ID, p.OrderID, p.PayerID, p.Amount, p.Currency, p.Status,
		p.ProviderRef, p.FailureReason, p.CurrentAttemptID, p.CreatedAt, p.UpdatedAt)
	return err
}

func (t *txStore) UpdatePayment(ctx context.Context, p domain.Payment) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE payments SET status=$2, provider_ref=NULLIF($3,''), failure_reason=NULLIF($4,''),
			current_attempt_id=$5, updated_at=$6
		WHERE id=$1`,
		p.ID, p.Status, p.ProviderRef, p.FailureReason, p.CurrentAttemptID, p.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return application.ErrNotFound
	}
	return nil
}

const attemptColumns = `id, payment_id, provider, COALESCE(provider_ref,''), status,
	request_payload, response_payload, COALESCE(error_message,''), created_at, completed_at`

func scanAttempt(row pgx.Row) (domain.Attempt, error) {
	var a domain.Attempt
	err := row.Scan(&a.ID, &a.PaymentID, &a.Provider, &a.ProviderRef, &a.Status,
		&a.RequestPayload, &a.ResponsePayload, &a.ErrorMessage, &a.CreatedAt, &a.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, application.ErrNotFound
	}
	if err != nil {
		return domain.Attempt{}, err
	}
	return a, nil
}

func (t *txStore) GetAttempt(ctx context.Context, id uuid.UUID) (domain.Attempt, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+attemptColumns+` FROM payment_attempts WHERE id=$1`, id)
	return scanAttempt(row)
}

func (t *txStore) InsertAttempt(ctx context.Context, a domain.Attempt) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payment_attempts (id, payment_id, provider, provider_ref, status, request_payload, response_payload, error_message, created_at, completed_at)
		VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,NULLIF($8,''),$9,$10)`,
		a.ID, a.PaymentID, a.Provider, a.ProviderRef, a.Status,
		a.RequestPayload, a.ResponsePayload, a.ErrorMessage, a.CreatedAt, a.CompletedAt)
	return err
}

func (t *txStore) UpdateAttempt(ctx context.Context, a domain.Attempt) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE payment_attempts SET provider_ref=NULLIF($2,''), status=$3, response_payload=$4,
			error_message=NULLIF($5,''), completed_at=$6
		WHERE id=$1`,
		a.ID, a.ProviderRef, a.Status, a.ResponsePayload, a.ErrorMessage, a.CompletedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return application.ErrNotFound
	}
	return nil
}

const refundColumns = `id, payment_id, amount, currency, status, COALESCE(reason,''),
	COALESCE(provider_ref,''), COALESCE(failure_reason,''), created_at, completed_at`

func scanRefund(row pgx.Row) (domain.Refund, error) {
	var r domain.Refund
	err := row.Scan(&r.ID, &r.PaymentID, &r.Amount, &r.Currency, &r.Status, &r.Reason,
		&r.ProviderRef, &r.FailureReason, &r.CreatedAt, &r.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Refund{}, application.ErrNotFound
	}
	if err != nil {
		return domain.Refund{}, err
	}
	return r, nil
}

func (t *txStore) SumCompletedRefunds(ctx context.Context, paymentID uuid.UUID) (int64, error) {
	var sum int64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount),0) FROM refunds WHERE payment_id=$1 AND status=$2`,
		paymentID, domain.RefundStatusCompleted).Scan(&sum)
	return sum, err
}

func (t *txStore) InsertRefund(ctx context.Context, r domain.Refund) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO refunds (id, payment_id, amount, currency, status, reason, provider_ref, failure_reason, created_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''),NULLIF($8,''),$9,$10)`,
		r.ID, r.PaymentID, r.Amount, r.Currency, r.Status, r.Reason,
		r.ProviderRef, r.FailureReason, r.CreatedAt, r.CompletedAt)
	return err
}

func (t *txStore) UpdateRefund(ctx context.Context, r domain.Refund) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE refunds SET status=$2, provider_ref=NULLIF($3,''), failure_reason=NULLIF($4,''), completed_at=$5
		WHERE id=$1`,
		r.ID, r.Status, r.ProviderRef, r.FailureReason, r.CompletedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return application.ErrNotFound
	}
	return nil
}

// AddOutboxMessage writes the event in the same transaction as the domain
// change it announces.
func (t *txStore) AddOutboxMessage(ctx context.Context, m outbox.Message) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox_messages (id, event_type, payload, correlation_id, occurred_at, retry_count)
		VALUES ($1,$2,$3,NULLIF($4,''),$5,0)`,
		m.ID, m.EventType, m.Payload, m.CorrelationID, m.OccurredAt)
	return err
}
