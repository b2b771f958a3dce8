package kafkax

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// NewWriter builds the shared producer configuration: hash balancing on the
// message key so every aggregate lands on a stable partition, and
// acknowledgement from all in-sync replicas before a publish counts.
func NewWriter(brokers []string, timeout time.Duration) *kafka.Writer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: timeout,
		BatchTimeout: 50 * time.Millisecond,
	}
}
