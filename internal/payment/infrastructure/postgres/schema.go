package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the payment-service tables. The partial unique index on
// payment_attempts backs the at-most-one-in-flight invariant; the composite
// index on outbox_messages serves the publisher's poll query.
const Schema = `
CREATE TABLE IF NOT EXISTS payments (
	id                 UUID PRIMARY KEY,
	order_id           UUID NOT NULL,
	payer_id           UUID NOT NULL,
	amount             BIGINT NOT NULL,
	currency           CHAR(3) NOT NULL,
	status             TEXT NOT NULL,
	provider_ref       TEXT,
	failure_reason     TEXT,
	current_attempt_id UUID,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_order_id ON payments (order_id);

CREATE TABLE IF NOT EXISTS payment_attempts (
	id               UUID PRIMARY KEY,
	payment_id       UUID NOT NULL REFERENCES payments (id),
	provider         TEXT NOT NULL,
	provider_ref     TEXT,
	status           TEXT NOT NULL,
	request_payload  JSONB,
	response_payload JSONB,
	error_message    TEXT,
	created_at       TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS ix_payment_attempts_payment_id ON payment_attempts (payment_id);
CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_attempts_in_flight
	ON payment_attempts (payment_id) WHERE status = 'waiting_callback';

CREATE TABLE IF NOT EXISTS refunds (
	id             UUID PRIMARY KEY,
	payment_id     UUID NOT NULL REFERENCES payments (id),
	amount         BIGINT NOT NULL,
	currency       CHAR(3) NOT NULL,
	status         TEXT NOT NULL,
	reason         TEXT,
	provider_ref   TEXT,
	failure_reason TEXT,
	created_at     TIMESTAMPTZ NOT NULL,
	completed_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS ix_refunds_payment_id ON refunds (payment_id);

CREATE TABLE IF NOT EXISTS outbox_messages (
	id             UUID PRIMARY KEY,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	correlation_id TEXT,
	occurred_at    TIMESTAMPTZ NOT NULL,
	processed_at   TIMESTAMPTZ,
	retry_count    INT NOT NULL DEFAULT 0,
	last_error     TEXT
);
CREATE INDEX IF NOT EXISTS ix_outbox_pending ON outbox_messages (processed_at, occurred_at);
`

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
