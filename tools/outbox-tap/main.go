// outbox-tap is the log-tap variant of the outbox relay: a standalone
// process that listens on the outbox table's insert notifications and
// republishes each committed row to Kafka verbatim. It never touches the
// status column; "was committed" is the whole delivery contract here, and
// redelivery semantics are inherited from the notification channel.
//
// It expects this trigger installed alongside the outbox table:
//
//	CREATE FUNCTION outbox_notify() RETURNS trigger AS $$
//	BEGIN
//	  PERFORM pg_notify('outbox_events', NEW.id::text);
//	  RETURN NEW;
//	END
//	$$ LANGUAGE plpgsql;
//
//	CREATE TRIGGER outbox_notify AFTER INSERT ON outbox_events
//	FOR EACH ROW EXECUTE FUNCTION outbox_notify();
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"github.com/pawtrail/platform/libs/db"
	"github.com/pawtrail/platform/libs/kafkax"
	otelx "github.com/pawtrail/platform/libs/otel"
	"github.com/pawtrail/platform/libs/outbox"
	"github.com/pawtrail/platform/libs/runtime"
)

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "outbox database url")
		brokersRaw  = flag.String("brokers", os.Getenv("KAFKA_BROKERS"), "comma-separated kafka brokers")
		channel     = flag.String("channel", getenv("OUTBOX_CHANNEL", "outbox_events"), "postgres notification channel")
	)
	flag.Parse()

	logger := runtime.NewLogger("outbox-tap")

	if *databaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	brokers := kafkax.SplitBrokers(*brokersRaw)
	if len(brokers) == 0 {
		logger.Error("KAFKA_BROKERS is required")
		os.Exit(1)
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	pool, err := db.Open(ctx, *databaseURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	repo := outbox.NewRepository(pool)

	writer := kafkax.NewWriter(brokers, 10*time.Second)
	defer writer.Close()

	for {
		err := listen(ctx, *databaseURL, *channel, repo, writer, logger)
		if ctx.Err() != nil {
			return
		}
		logger.Error("listen loop failed, reconnecting", "err", err)
		time.Sleep(2 * time.Second)
	}
}

// listen holds a dedicated connection in LISTEN mode and publishes every
// notified row. Returns when the connection breaks; the caller reconnects.
func listen(ctx context.Context, databaseURL, channel string, repo *outbox.Repository, writer *kafka.Writer, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return err
	}
	logger.Info("tapping outbox inserts", "channel", channel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}

		id, err := strconv.ParseInt(notification.Payload, 10, 64)
		if err != nil {
			logger.Warn("unparsable notification payload", "payload", notification.Payload)
			continue
		}

		rcd, err := repo.GetByID(ctx, id)
		if err != nil {
			logger.Error("outbox row fetch failed", "id", id, "err", err)
			continue
		}

		msgCtx := otelx.ContextWithTraceContext(ctx, rcd.Traceparent, rcd.Tracestate)
		if err := writer.WriteMessages(msgCtx, outbox.Message(msgCtx, rcd)); err != nil {
			// No application-level retry in this variant: the row stays in
			// the table and an operator (or the polling relay) recovers it.
			logger.Error("tap publish failed", "event_id", rcd.EventID, "topic", rcd.Topic, "err", err)
			continue
		}
		logger.Info("tap published", "event_id", rcd.EventID, "event_type", rcd.EventType, "topic", rcd.Topic)
	}
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
