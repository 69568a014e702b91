package events

import (
	"log/slog"
	"strings"
)

// NewBroker returns a KafkaBroker when brokers is non-empty and an
// InMemoryBroker otherwise.
func NewBroker(brokers, consumerGroup, topicPrefix string, logger *slog.Logger) (Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(brokers) == "" {
		logger.Info("events: using in-memory broker")
		return NewInMemoryBroker(), nil
	}

	var addrs []string
	for _, a := range strings.Split(brokers, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	logger.Info("events: using kafka broker", "brokers", addrs, "group", consumerGroup)
	return NewKafkaBroker(KafkaConfig{
		Brokers:       addrs,
		ConsumerGroup: consumerGroup,
		TopicPrefix:   topicPrefix,
	}, logger)
}
