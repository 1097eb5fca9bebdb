package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecomflow/payment-platform/internal/order/application"
	"github.com/ecomflow/payment-platform/internal/order/domain"
	"github.com/ecomflow/payment-platform/pkg/outbox"
)

// Store persists orders with their lines and outbox rows. Outcome
// transitions run through WithinTx; LockOrderByID takes a `FOR UPDATE` row
// lock so concurrent outcome events for one order serialize.
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

const orderColumns = `id, user_id, user_email, COALESCE(user_name,''), COALESCE(user_phone,''),
	COALESCE(user_address,''), status, currency, total_amount, payment_id,
	COALESCE(payment_failure,''), refunded_amount, created_at, updated_at`

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadOrder(ctx context.Context, q rowQuerier, query string, id uuid.UUID) (domain.Order, error) {
	var o domain.Order
	err := q.QueryRow(ctx, query, id).Scan(
		&o.ID, &o.UserID, &o.UserEmail, &o.UserName, &o.UserPhone, &o.UserAddress,
		&o.Status, &o.Currency, &o.TotalAmount, &o.PaymentID,
		&o.PaymentFailure, &o.RefundedAmount, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, application.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}

	rows, err := q.Query(ctx,
		`SELECT product_id, product_name, unit_price, quantity FROM order_lines WHERE order_id=$1 ORDER BY product_name`, id)
	if err != nil {
		return domain.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l domain.Line
		if err := rows.Scan(&l.ProductID, &l.ProductName, &l.UnitPrice, &l.Quantity); err != nil {
			return domain.Order{}, err
		}
		o.Items = append(o.Items, l)
	}
	if err := rows.Err(); err != nil {
		return domain.Order{}, err
	}

	refunds, err := q.Query(ctx,
		`SELECT refund_id FROM order_refunds WHERE order_id=$1 ORDER BY applied_at`, id)
	if err != nil {
		return domain.Order{}, err
	}
	defer refunds.Close()
	for refunds.Next() {
		var rid uuid.UUID
		if err := refunds.Scan(&rid); err != nil {
			return domain.Order{}, err
		}
		o.RefundIDs = append(o.RefundIDs, rid)
	}
	return o, refunds.Err()
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	return loadOrder(ctx, s.pool, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
}

type txStore struct {
	tx pgx.Tx
}

func (t *txStore) LockOrderByID(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	return loadOrder(ctx, t.tx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id)
}

func (t *txStore) InsertOrder(ctx context.Context, o domain.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, user_email, user_name, user_phone, user_address,
			status, currency, total_amount, payment_id, payment_failure, refunded_amount, created_at, updated_at)
		VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),NULLIF($6,''),$7,$8,$9,$10,NULLIF($11,''),$12,$13,$14)`,
		o.ID, o.UserID, o.UserEmail, o.UserName, o.UserPhone, o.UserAddress,
		o.Status, o.Currency, o.TotalAmount, o.PaymentID, o.PaymentFailure,
		o.RefundedAmount, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, l := range o.Items {
		batch.Queue(`INSERT INTO order_lines (order_id, product_id, product_name, unit_price, quantity)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, l.ProductID, l.ProductName, l.UnitPrice, l.Quantity)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

// UpdateOrder writes the outcome-mutable columns only; lines are immutable
// after creation.
func (t *txStore) UpdateOrder(ctx context.Context, o domain.Order) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET status=$2, payment_id=$3, payment_failure=NULLIF($4,''),
			refunded_amount=$5, updated_at=$6
		WHERE id=$1`,
		o.ID, o.Status, o.PaymentID, o.PaymentFailure, o.RefundedAmount, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return application.ErrNotFound
	}

	// Applied refund ids are append-only; the conflict clause keeps a
	// rewritten row set idempotent.
	batch := &pgx.Batch{}
	for _, rid := range o.RefundIDs {
		batch.Queue(`INSERT INTO order_refunds (refund_id, order_id)
			VALUES ($1,$2) ON CONFLICT (refund_id) DO NOTHING`, rid, o.ID)
	}
	if batch.Len() == 0 {
		return nil
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txStore) AddOutboxMessage(ctx context.Context, m outbox.Message) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox_messages (id, event_type, payload, correlation_id, occurred_at, retry_count)
		VALUES ($1,$2,$3,NULLIF($4,''),$5,0)`,
		m.ID, m.EventType, m.Payload, m.CorrelationID, m.OccurredAt)
	return err
}
