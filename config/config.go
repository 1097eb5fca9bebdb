package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type (
	// Payment is the payment-service configuration.
	Payment struct {
		HTTP   HTTP
		PG     PG
		Redis  Redis
		Kafka  Kafka
		Outbox Outbox
		Trace  Trace
		PayTR  PayTR
	}

	// Order is the order-service configuration.
	Order struct {
		HTTP   HTTP
		PG     PG
		Redis  Redis
		Kafka  Kafka
		Outbox Outbox
		Trace  Trace
	}

	HTTP struct {
		Addr string `env:"HTTP_ADDR" envDefault:":8080"`
	}

	PG struct {
		URL     string `env:"PG_URL,required"`
		PoolMax int    `env:"PG_POOL_MAX" envDefault:"10"`
	}

	Redis struct {
		Addr string        `env:"REDIS_ADDR,required"`
		TTL  time.Duration `env:"REDIS_IDEMPOTENCY_TTL" envDefault:"24h"`
	}

	Kafka struct {
		Brokers               []string `env:"KAFKA_BROKERS,required"`
		GroupID               string   `env:"KAFKA_GROUP_ID,required"`
		TopicOrderCreated     string   `env:"KAFKA_TOPIC_ORDER_CREATED" envDefault:"order-created"`
		TopicPaymentSucceeded string   `env:"KAFKA_TOPIC_PAYMENT_SUCCEEDED" envDefault:"payment-succeeded"`
		TopicPaymentFailed    string   `env:"KAFKA_TOPIC_PAYMENT_FAILED" envDefault:"payment-failed"`
		TopicRefundCompleted  string   `env:"KAFKA_TOPIC_REFUND_COMPLETED" envDefault:"refund-completed"`
		TopicRefundFailed     string   `env:"KAFKA_TOPIC_REFUND_FAILED" envDefault:"refund-failed"`
	}

	Outbox struct {
		PollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"5s"`
	}

	Trace struct {
		Endpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"http://localhost:4318"`
	}

	PayTR struct {
		MerchantID     string `env:"PAYTR_MERCHANT_ID,required"`
		MerchantKey    string `env:"PAYTR_MERCHANT_KEY,required"`
		MerchantSalt   string `env:"PAYTR_MERCHANT_SALT,required"`
		BaseURL        string `env:"PAYTR_BASE_URL" envDefault:"https://www.paytr.com"`
		OKURL          string `env:"PAYTR_OK_URL,required"`
		FailURL        string `env:"PAYTR_FAIL_URL,required"`
		TestMode       bool   `env:"PAYTR_TEST_MODE" envDefault:"false"`
		MaxInstallment int    `env:"PAYTR_MAX_INSTALLMENT" envDefault:"0"`
		TimeoutSeconds int    `env:"PAYTR_TIMEOUT_SECONDS" envDefault:"30"`
	}
)

// NewPayment loads the payment-service configuration from the environment,
// reading a .env file first when one is present.
func NewPayment() (*Payment, error) {
	_ = godotenv.Load()

	cfg := &Payment{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

func NewOrder() (*Order, error) {
	_ = godotenv.Load()

	cfg := &Order{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}
