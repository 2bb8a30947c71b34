package kafka

import (
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/tournament-engine/internal/config"
)

// NewProducer creates the async producer that mirrors relayed game
// events onto the audit topic. Successes and errors are drained in the
// background; a broker outage degrades the audit trail but never blocks
// live play.
func NewProducer(cfg *config.KafkaConfig, logger *slog.Logger) (sarama.AsyncProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Flush.Messages = cfg.BatchSize
	saramaConfig.Producer.Retry.Max = cfg.RetryAttempts
	saramaConfig.Producer.Retry.Backoff = cfg.RetryDelay
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, err
	}

	go func() {
		for err := range producer.Errors() {
			logger.Error("failed to mirror event to audit topic", "error", err)
		}
	}()

	return producer, nil
}
