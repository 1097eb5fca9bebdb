package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the order-service tables. The outbox_messages table has
// the same shape as the payment side so both services share the publisher
// store.
const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	id              UUID PRIMARY KEY,
	user_id         UUID NOT NULL,
	user_email      TEXT NOT NULL,
	user_name       TEXT,
	user_phone      TEXT,
	user_address    TEXT,
	status          TEXT NOT NULL,
	currency        CHAR(3) NOT NULL,
	total_amount    BIGINT NOT NULL,
	payment_id      UUID,
	payment_failure TEXT,
	refunded_amount BIGINT NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS order_lines (
	order_id     UUID NOT NULL REFERENCES orders (id),
	product_id   UUID NOT NULL,
	product_name TEXT NOT NULL,
	unit_price   BIGINT NOT NULL,
	quantity     INT NOT NULL,
	PRIMARY KEY (order_id, product_id)
);

CREATE TABLE IF NOT EXISTS order_refunds (
	refund_id  UUID PRIMARY KEY,
	order_id   UUID NOT NULL REFERENCES orders (id),
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

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
