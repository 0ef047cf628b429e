package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/partnerrec/internal/config"
)

const (
	EventModelActivated    = "model.activated"
	EventTrendingRefreshed = "trending.refreshed"
)

// ModelEvent tells serving instances that the trainer changed what they
// should serve.
type ModelEvent struct {
	Type       string    `json:"type"`
	RunID      string    `json:"run_id"`
	TrainedAt  time.Time `json:"trained_at,omitempty"`
	Checksum   string    `json:"checksum,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	RetryCount int       `json:"retry_count"`
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type ModelEventBus struct {
	writer     MessageWriter
	reader     MessageReader
	dlqWriter  MessageWriter
	topic      string
	maxRetries int
	baseDelay  time.Duration
	logger     *logrus.Logger
}

// NewModelEventBus connects to the model events topic. With an empty
// groupID the bus can only publish.
func NewModelEventBus(cfg config.KafkaConfig, groupID string, logger *logrus.Logger) *ModelEventBus {
	topic := cfg.Topics.ModelEvents

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic + "-dlq",
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	var reader MessageReader
	if groupID != "" {
		reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       1e6,
			CommitInterval: time.Second,
			StartOffset:    kafka.LastOffset,
		})
	}

	return newModelEventBus(writer, reader, dlqWriter, topic, logger)
}

func newModelEventBus(writer MessageWriter, reader MessageReader, dlq MessageWriter, topic string, logger *logrus.Logger) *ModelEventBus {
	return &ModelEventBus{
		writer:     writer,
		reader:     reader,
		dlqWriter:  dlq,
		topic:      topic,
		maxRetries: 3,
		baseDelay:  time.Second,
		logger:     logger,
	}
}

func (b *ModelEventBus) PublishModelActivated(ctx context.Context, runID string, trainedAt time.Time, checksum string) error {
	return b.publish(ctx, ModelEvent{
		Type:      EventModelActivated,
		RunID:     runID,
		TrainedAt: trainedAt,
		Checksum:  checksum,
		Timestamp: time.Now().UTC(),
	})
}

func (b *ModelEventBus) PublishTrendingRefreshed(ctx context.Context, runID string) error {
	return b.publish(ctx, ModelEvent{
		Type:      EventTrendingRefreshed,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
	})
}

func (b *ModelEventBus) publish(ctx context.Context, event ModelEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal model event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.RunID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "run_id", Value: []byte(event.RunID)},
			{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		b.logger.WithError(err).WithField("run_id", event.RunID).Error("Failed to publish model event")
		return fmt.Errorf("failed to write model event: %w", err)
	}

	b.logger.WithFields(logrus.Fields{
		"event_type": event.Type,
		"run_id":     event.RunID,
		"topic":      b.topic,
	}).Info("Model event published")

	return nil
}

// Consume delivers events to handler until ctx ends. A handler failure is
// retried with exponential backoff; after the last retry the event goes to
// the dead letter topic.
func (b *ModelEventBus) Consume(ctx context.Context, handler func(context.Context, ModelEvent) error) error {
	if b.reader == nil {
		return errors.New("model event bus has no consumer group")
	}

	for {
		msg, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.WithError(err).Error("Failed to read model event")
			continue
		}

		var event ModelEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			b.logger.WithError(err).Error("Failed to unmarshal model event")
			continue
		}

		if err := b.processWithRetry(ctx, &event, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.WithError(err).WithField("run_id", event.RunID).Error("Failed to handle model event after retries")
			if dlqErr := b.sendToDLQ(ctx, event, err); dlqErr != nil {
				b.logger.WithError(dlqErr).Error("Failed to send model event to DLQ")
			}
		}
	}
}

func (b *ModelEventBus) processWithRetry(ctx context.Context, event *ModelEvent, handler func(context.Context, ModelEvent) error) error {
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			delay := b.baseDelay * time.Duration(1<<uint(attempt-1))
			b.logger.WithFields(logrus.Fields{
				"run_id":  event.RunID,
				"attempt": attempt,
				"delay":   delay,
			}).Info("Retrying model event")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		event.RetryCount = attempt
		if lastErr = handler(ctx, *event); lastErr == nil {
			return nil
		}
		b.logger.WithError(lastErr).WithFields(logrus.Fields{
			"run_id":  event.RunID,
			"attempt": attempt,
		}).Warn("Model event handling failed")
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (b *ModelEventBus) sendToDLQ(ctx context.Context, event ModelEvent, cause error) error {
	payload, err := json.Marshal(map[string]interface{}{
		"original_event": event,
		"error":          cause.Error(),
		"dlq_timestamp":  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.RunID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "run_id", Value: []byte(event.RunID)},
			{Key: "original_topic", Value: []byte(b.topic)},
			{Key: "error", Value: []byte(cause.Error())},
		},
	}
	if err := b.dlqWriter.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to DLQ: %w", err)
	}

	b.logger.WithFields(logrus.Fields{
		"run_id": event.RunID,
		"error":  cause.Error(),
	}).Warn("Model event sent to DLQ")
	return nil
}

func (b *ModelEventBus) Close() error {
	var errs []error
	if err := b.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}
	if b.reader != nil {
		if err := b.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close consumer: %w", err))
		}
	}
	if err := b.dlqWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close DLQ writer: %w", err))
	}
	return errors.Join(errs...)
}

// GetMetrics returns consumer statistics for monitoring
func (b *ModelEventBus) GetMetrics() map[string]interface{} {
	r, ok := b.reader.(*kafka.Reader)
	if !ok {
		return map[string]interface{}{}
	}
	stats := r.Stats()
	return map[string]interface{}{
		"consumer_lag":    stats.Lag,
		"consumer_offset": stats.Offset,
		"messages_read":   stats.Messages,
		"errors":          stats.Errors,
	}
}
