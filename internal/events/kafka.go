package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// consumerBackoff is the pause after a failed read before the next attempt.
const consumerBackoff = time.Second

// KafkaConfig configures KafkaBroker.
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	// TopicPrefix is prepended to every topic name on the wire.
	TopicPrefix string
}

// KafkaBroker publishes module events to Kafka. Writes are asynchronous so
// auditing never waits on the cluster. Each subscribed topic has a single
// reader whose events are fanned out to that topic's handlers.
type KafkaBroker struct {
	config KafkaConfig
	writer *kafka.Writer
	logger *slog.Logger

	mu        sync.RWMutex
	consumers map[string]*topicConsumer
	nextID    uint64
	closed    bool
}

type topicConsumer struct {
	reader   *kafka.Reader
	cancel   context.CancelFunc
	done     chan struct{}
	handlers map[uint64]Handler
}

// NewKafkaBroker creates a KafkaBroker. No connection is made until the first
// Publish or Subscribe.
func NewKafkaBroker(config KafkaConfig, logger *slog.Logger) (*KafkaBroker, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker address is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "modhost"
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &KafkaBroker{
		config:    config,
		logger:    logger,
		consumers: make(map[string]*topicConsumer),
	}
	b.writer = &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion:             b.completed,
	}
	return b, nil
}

func (b *KafkaBroker) topic(name string) string {
	return b.config.TopicPrefix + name
}

// message encodes event for the wire. Events of one module share a key and
// so stay ordered within their partition.
func (b *KafkaBroker) message(event Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	key := event.Module
	if key == "" {
		key = event.ID
	}
	return kafka.Message{
		Topic:   b.topic(event.Topic),
		Key:     []byte(key),
		Value:   value,
		Time:    event.Timestamp,
		Headers: []kafka.Header{{Key: "action", Value: []byte(event.Action)}},
	}, nil
}

func (b *KafkaBroker) completed(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range messages {
		b.logger.Warn("kafka publish failed", "topic", m.Topic, "key", string(m.Key), "error", err)
	}
}

// Publish queues event on the writer and returns without waiting for the
// cluster; failures are logged when the batch completes.
func (b *KafkaBroker) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	msg, err := b.message(event)
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to kafka: %w", err)
	}
	return nil
}

// Subscribe adds handler to topic, starting the topic's reader if this is
// its first handler.
func (b *KafkaBroker) Subscribe(topic string, handler Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	c, ok := b.consumers[topic]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		c = &topicConsumer{
			reader: kafka.NewReader(kafka.ReaderConfig{
				Brokers:  b.config.Brokers,
				Topic:    b.topic(topic),
				GroupID:  b.config.ConsumerGroup,
				MinBytes: 1,
				MaxBytes: 10e6,
				MaxWait:  500 * time.Millisecond,
			}),
			cancel:   cancel,
			done:     make(chan struct{}),
			handlers: make(map[uint64]Handler),
		}
		b.consumers[topic] = c
		go b.consume(ctx, topic, c)
	}
	b.nextID++
	id := b.nextID
	c.handlers[id] = handler

	var once sync.Once
	return func() { once.Do(func() { b.unsubscribe(topic, id) }) }, nil
}

func (b *KafkaBroker) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	c, ok := b.consumers[topic]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(c.handlers, id)
	if len(c.handlers) > 0 {
		b.mu.Unlock()
		return
	}
	delete(b.consumers, topic)
	b.mu.Unlock()

	b.stop(c)
}

func (b *KafkaBroker) stop(c *topicConsumer) error {
	c.cancel()
	<-c.done
	return c.reader.Close()
}

// Close stops every reader and flushes the writer.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	consumers := b.consumers
	b.consumers = nil
	b.mu.Unlock()

	var firstErr error
	for _, c := range consumers {
		if err := b.stop(c); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := b.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (b *KafkaBroker) consume(ctx context.Context, topic string, c *topicConsumer) {
	defer close(c.done)
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("kafka consumer error", "topic", topic, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(consumerBackoff):
			}
			continue
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			b.logger.Warn("kafka consumer: bad event", "topic", topic, "error", err)
			continue
		}

		b.mu.RLock()
		handlers := make([]Handler, 0, len(c.handlers))
		for _, h := range c.handlers {
			handlers = append(handlers, h)
		}
		b.mu.RUnlock()
		for _, h := range handlers {
			h(event)
		}
	}
}
