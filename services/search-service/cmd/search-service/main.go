package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pawtrail/platform/libs/config"
	"github.com/pawtrail/platform/libs/consumer"
	"github.com/pawtrail/platform/libs/db"
	"github.com/pawtrail/platform/libs/events"
	"github.com/pawtrail/platform/libs/httpx"
	"github.com/pawtrail/platform/libs/inbox"
	"github.com/pawtrail/platform/libs/kafkax"
	otelx "github.com/pawtrail/platform/libs/otel"
	"github.com/pawtrail/platform/libs/outbox"
	"github.com/pawtrail/platform/libs/redisx"
	"github.com/pawtrail/platform/libs/runtime"
	"github.com/pawtrail/platform/services/search-service/internal/index"
)

func main() {
	service := config.String("SERVICE_NAME", "search-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	brokers := config.String("KAFKA_BROKERS", "")

	docRepo := index.NewRepository(pool)
	inboxRepo := inbox.NewRepository(pool)

	// No outbox here: search-service is a pure downstream reader. Only its
	// dedup ledger needs retention.
	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
	}
	var sweepLock *redisx.Lock
	if rdb != nil {
		sweepLock = redisx.NewLock(rdb, service+":retention-sweep", 5*time.Minute)
	}
	sweeper := outbox.NewSweeper(sweepLock, logger, outbox.SweeperConfig{
		Retention: config.Duration("EVENT_RETENTION", 7*24*time.Hour),
		Interval:  config.Duration("SWEEP_INTERVAL", 24*time.Hour),
	},
		outbox.RetentionTarget{Name: "processed_events", DeleteBefore: inboxRepo.DeleteBefore},
	)
	go sweeper.Run(ctx)

	indexHandler := index.NewHandler(docRepo, logger)
	animalConsumer := consumer.New(pool, inboxRepo, logger, consumer.Config{
		Brokers:       brokers,
		GroupID:       config.String("KAFKA_GROUP_ID", "search-service"),
		Topic:         config.String("KAFKA_CONSUME_TOPIC", events.TopicAnimalEvents),
		MaxAttempts:   config.Int("EVENT_MAX_RETRIES", 3),
		RetryInterval: config.Duration("EVENT_RETRY_INTERVAL", 5*time.Second),
	}, indexHandler.Handle, nil)
	go animalConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "search")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
