// Package events delivers pipeline notifications to Kafka, Redis Streams,
// webhooks and the log.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event names emitted by the stream processor
const (
	PatternDetected        = "pattern_detected"
	RealtimeAlertGenerated = "realtime_alert_generated"
	BatchPatternDetected   = "batch_pattern_detected"
	HighRiskEscalated      = "high_risk_escalated"
)

const source = "amlstream"

// Sink receives named events
type Sink interface {
	Emit(ctx context.Context, name string, payload interface{}) error
}

// Keyed payloads choose their own partition key
type Keyed interface {
	PartitionKey() string
}

// Event is the envelope written by every sink
type Event struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Source    string      `json:"source"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

func newEvent(name string, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Name:      name,
		Source:    source,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

func partitionKey(e Event) string {
	if k, ok := e.Payload.(Keyed); ok && k.PartitionKey() != "" {
		return k.PartitionKey()
	}
	return e.ID
}

// MultiSink fans an event out to several sinks. It fails only when every
// sink fails.
type MultiSink struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewMultiSink creates a new MultiSink
func NewMultiSink(logger *zap.Logger, sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks, logger: logger}
}

func (m *MultiSink) Emit(ctx context.Context, name string, payload interface{}) error {
	var lastErr error
	successCount := 0

	for i, sink := range m.sinks {
		if err := sink.Emit(ctx, name, payload); err != nil {
			m.logger.Error("failed to publish event",
				zap.Int("sink_index", i),
				zap.String("event", name),
				zap.Error(err))
			lastErr = err
			continue
		}
		successCount++
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("all sinks failed, last error: %w", lastErr)
	}
	return nil
}

// KafkaSink writes events to a single Kafka topic keyed by account
type KafkaSink struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaSink creates a new KafkaSink
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
		},
		logger: logger,
	}
}

func (k *KafkaSink) Emit(ctx context.Context, name string, payload interface{}) error {
	e := newEvent(name, payload)
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	k.logger.Debug("publishing event to kafka",
		zap.String("topic", k.writer.Topic),
		zap.String("event", name),
		zap.Int("event_size", len(data)))

	msg := kafka.Message{
		Key:   []byte(partitionKey(e)),
		Value: data,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(name)},
			{Key: "event-id", Value: []byte(e.ID)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event to kafka: %w", err)
	}
	return nil
}

// Close flushes pending messages
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

// RedisStreamSink appends events to one Redis stream per event name
type RedisStreamSink struct {
	client redis.UniversalClient
	prefix string
	maxLen int64
	logger *zap.Logger
}

// NewRedisStreamSink creates a new RedisStreamSink. Streams are trimmed to
// roughly maxLen entries.
func NewRedisStreamSink(client redis.UniversalClient, prefix string, maxLen int64, logger *zap.Logger) *RedisStreamSink {
	if prefix == "" {
		prefix = "amlstream.events."
	}
	return &RedisStreamSink{client: client, prefix: prefix, maxLen: maxLen, logger: logger}
}

// StreamKey returns the stream an event name is written to
func (r *RedisStreamSink) StreamKey(name string) string {
	return r.prefix + name
}

func (r *RedisStreamSink) Emit(ctx context.Context, name string, payload interface{}) error {
	e := newEvent(name, payload)
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	streamKey := r.StreamKey(name)
	result := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: r.maxLen,
		Approx: r.maxLen > 0,
		Values: map[string]interface{}{
			"event_id":  e.ID,
			"event":     name,
			"key":       partitionKey(e),
			"data":      string(data),
			"timestamp": e.Timestamp.Format(time.RFC3339Nano),
			"source":    source,
		},
	})
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish to redis stream: %w", err)
	}

	r.logger.Debug("published event to redis stream",
		zap.String("stream", streamKey),
		zap.String("message_id", result.Val()))
	return nil
}

// WebhookSink posts events to an HTTP endpoint
type WebhookSink struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhookSink creates a new WebhookSink
func NewWebhookSink(url string, timeout time.Duration, logger *zap.Logger) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{url: url, client: &http.Client{Timeout: timeout}, logger: logger}
}

func (w *WebhookSink) Emit(ctx context.Context, name string, payload interface{}) error {
	data, err := json.Marshal(newEvent(name, payload))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", name)
	req.Header.Set("X-Source", source)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status code: %d", resp.StatusCode)
	}
	return nil
}

// LogSink writes events to the structured log
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a new LogSink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (l *LogSink) Emit(_ context.Context, name string, payload interface{}) error {
	l.logger.Info("Compliance event",
		zap.String("event", name),
		zap.Any("payload", payload))
	return nil
}
