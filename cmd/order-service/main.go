package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ecomflow/payment-platform/config"
	"github.com/ecomflow/payment-platform/internal/order/application"
	orderhttp "github.com/ecomflow/payment-platform/internal/order/infrastructure/http"
	orderkafka "github.com/ecomflow/payment-platform/internal/order/infrastructure/kafka"
	orderpg "github.com/ecomflow/payment-platform/internal/order/infrastructure/postgres"
	"github.com/ecomflow/payment-platform/pkg/idempotency"
	"github.com/ecomflow/payment-platform/pkg/logging"
	"github.com/ecomflow/payment-platform/pkg/outbox"
	"github.com/ecomflow/payment-platform/pkg/shutdown"
	"github.com/ecomflow/payment-platform/pkg/tracing"
)

func main() {
	log := logging.New()

	cfg, err := config.NewOrder()
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "order-service", cfg.Trace.Endpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	poolCfg, err := pgxpool.ParseConfig(cfg.PG.URL)
	if err != nil {
		log.Error("pg url invalid", "err", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.PG.PoolMax)
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := orderpg.Migrate(ctx, pool); err != nil {
		log.Error("pg migrate failed", "err", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer rdb.Close()
	idem := idempotency.NewStore(rdb, cfg.Redis.TTL)

	store := orderpg.NewStore(log, pool)
	svc := application.NewService(log, store)

	writer := orderkafka.NewWriter(cfg.Kafka.Brokers)
	defer writer.Close()

	publisher := outbox.NewPublisher(log, outbox.NewPGStore(log, pool), writer,
		orderkafka.NewRouter(cfg.Kafka.TopicOrderCreated)).
		WithInterval(cfg.Outbox.PollInterval)

	consumer := orderkafka.NewConsumer(log, cfg.Kafka.Brokers, orderkafka.Topics{
		PaymentSucceeded: cfg.Kafka.TopicPaymentSucceeded,
		PaymentFailed:    cfg.Kafka.TopicPaymentFailed,
		RefundCompleted:  cfg.Kafka.TopicRefundCompleted,
		RefundFailed:     cfg.Kafka.TopicRefundFailed,
	}, cfg.Kafka.GroupID, svc, idem)

	handler := orderhttp.NewHandler(log, svc)
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return publisher.Run(gctx) })
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error {
		log.Info("http listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("order-service stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("order-service shutdown complete")
}
