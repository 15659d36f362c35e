package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/salon-booking-engine/internal/config"
	"github.com/wolfman30/salon-booking-engine/internal/events"
	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

// AWSConfigLoader resolves SDK configuration for the SQS transport.
type AWSConfigLoader func(ctx context.Context, cfg *appconfig.Config) (aws.Config, error)

// BuildDeliveryHandler picks the notification transport named by
// NOTIFY_TRANSPORT. The returned cleanup closes transport connections.
func BuildDeliveryHandler(ctx context.Context, cfg *appconfig.Config, loadAWS AWSConfigLoader, logger *logging.Logger) (events.DeliveryHandler, func(), error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	noop := func() {}

	switch strings.ToLower(strings.TrimSpace(cfg.NotifyTransport)) {
	case "", "log":
		return events.NewLogHandler(logger), noop, nil
	case "sqs":
		if strings.TrimSpace(cfg.NotifySQSQueueURL) == "" {
			return nil, nil, fmt.Errorf("bootstrap: NOTIFY_SQS_QUEUE_URL is required for the sqs transport")
		}
		if loadAWS == nil {
			return nil, nil, fmt.Errorf("bootstrap: aws config loader is required for the sqs transport")
		}
		awsCfg, err := loadAWS(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		logger.Info("notifications delivered to sqs", "queue_url", cfg.NotifySQSQueueURL)
		return events.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.NotifySQSQueueURL), noop, nil
	case "kafka":
		if len(events.SplitBrokers(cfg.KafkaBrokers)) == 0 {
			return nil, nil, fmt.Errorf("bootstrap: KAFKA_BROKERS is required for the kafka transport")
		}
		writer := events.NewKafkaWriter(cfg.KafkaBrokers)
		cleanup := func() {
			if err := writer.Close(); err != nil {
				logger.Warn("kafka writer close failed", "error", err)
			}
		}
		logger.Info("notifications delivered to kafka", "topic", cfg.KafkaTopic)
		return events.NewKafkaPublisher(writer, cfg.KafkaTopic), cleanup, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown NOTIFY_TRANSPORT %q", cfg.NotifyTransport)
	}
}

// BuildDeliverer drains the engine's outbox into handler.
func BuildDeliverer(e *Engine, handler events.DeliveryHandler) *events.Deliverer {
	return events.NewDeliverer(e.Outbox, handler, e.Logger).
		WithBatchSize(int32(e.Config.OutboxBatchSize)).
		WithInterval(e.Config.OutboxPollInterval)
}
