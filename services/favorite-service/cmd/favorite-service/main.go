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
	"github.com/pawtrail/platform/services/favorite-service/internal/favorites"
	"github.com/pawtrail/platform/services/favorite-service/internal/rollback"
)

func main() {
	service := config.String("SERVICE_NAME", "favorite-service")
	port, err := config.Port("PORT", "8082")
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

	favoriteRepo := favorites.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	inboxRepo := inbox.NewRepository(pool)

	maxRetries := config.Int("EVENT_MAX_RETRIES", 3)

	if brokerList := kafkax.SplitBrokers(brokers); len(brokerList) == 0 {
		logger.Warn("outbox relay disabled (no kafka brokers configured)")
	} else {
		writer := kafkax.NewWriter(brokerList, config.Duration("OUTBOX_PUBLISH_TIMEOUT", 5*time.Second))
		defer writer.Close()

		relay := outbox.NewRelay(pool, outboxRepo, writer, logger, outbox.RelayConfig{
			PollEvery:      config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
			BatchSize:      config.Int("OUTBOX_BATCH_SIZE", 50),
			PublishTimeout: config.Duration("OUTBOX_PUBLISH_TIMEOUT", 5*time.Second),
			MaxRetries:     maxRetries,
		})
		go relay.Run(ctx)
	}

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
		outbox.RetentionTarget{Name: "outbox_events", DeleteBefore: outboxRepo.DeleteBefore},
		outbox.RetentionTarget{Name: "processed_events", DeleteBefore: inboxRepo.DeleteBefore},
	)
	go sweeper.Run(ctx)

	// Compensation of a compensation is never emitted; if a rollback cannot
	// be applied after retries it surfaces as an operator alert only.
	rollbackHandler := rollback.New(favoriteRepo, logger)
	compConsumer := consumer.New(pool, inboxRepo, logger, consumer.Config{
		Brokers:       brokers,
		GroupID:       config.String("KAFKA_GROUP_ID", "favorite-service"),
		Topic:         config.String("KAFKA_CONSUME_TOPIC", events.TopicFavoriteCompensation),
		MaxAttempts:   maxRetries,
		RetryInterval: config.Duration("EVENT_RETRY_INTERVAL", 5*time.Second),
	}, rollbackHandler.Handle, nil)
	go compConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	favorites.NewHandler(pool, favoriteRepo, outboxRepo, logger).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "favorite")
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
