// Package ingest feeds transactions from a Kafka topic into the stream
// processor.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aidin1998/amlstream/pkg/models"
)

// commitTimeout bounds the offset commit that follows a processed message
const commitTimeout = 5 * time.Second

// Processor runs the pipeline for one transaction
type Processor interface {
	ProcessTransaction(ctx context.Context, txn models.Transaction) *models.Result
}

// MessageReader is the subset of *kafka.Reader the consumer needs
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config selects the topic and consumer group
type Config struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MaxBytes int
}

// Consumer reads JSON transactions and commits each offset after the
// pipeline has run. Failed pipelines are logged and committed; retrying is
// left to whoever replays the topic.
type Consumer struct {
	reader MessageReader
	proc   Processor
	logger *zap.Logger

	processed atomic.Int64
	failed    atomic.Int64
	malformed atomic.Int64
}

// NewConsumer creates a consumer backed by a kafka-go group reader
func NewConsumer(cfg Config, proc Processor, logger *zap.Logger) *Consumer {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 1 << 20
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MaxBytes:       cfg.MaxBytes,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...))
		}),
	})
	return NewConsumerWithReader(reader, proc, logger)
}

// NewConsumerWithReader creates a consumer over any MessageReader
func NewConsumerWithReader(reader MessageReader, proc Processor, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{reader: reader, proc: proc, logger: logger}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation and
// the error otherwise.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Starting transaction consumer")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		c.handle(ctx, msg)

		// a handled message is committed even when shutdown began meanwhile,
		// otherwise the replay would count it twice
		if err := c.commit(ctx, msg); err != nil {
			return fmt.Errorf("failed to commit offset %d: %w", msg.Offset, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	return c.reader.CommitMessages(cctx, msg)
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	txn, err := decode(msg)
	if err != nil {
		c.malformed.Add(1)
		c.logger.Error("Dropping malformed transaction message",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return
	}

	res := c.proc.ProcessTransaction(ctx, txn)
	if res.Status == models.StatusFailed {
		c.failed.Add(1)
		c.logger.Warn("Transaction processing failed",
			zap.String("transaction_id", txn.ID),
			zap.Int64("offset", msg.Offset),
			zap.String("error", res.Error))
		return
	}
	c.processed.Add(1)
}

// decode parses the message value. The message key stands in for a missing
// account id; a missing timestamp takes the message time.
func decode(msg kafka.Message) (models.Transaction, error) {
	var txn models.Transaction
	dec := json.NewDecoder(bytes.NewReader(msg.Value))
	dec.UseNumber()
	if err := dec.Decode(&txn); err != nil {
		return models.Transaction{}, fmt.Errorf("failed to decode transaction: %w", err)
	}
	if txn.AccountID == "" && len(msg.Key) > 0 {
		txn.AccountID = string(msg.Key)
	}
	if txn.Timestamp.IsZero() && !msg.Time.IsZero() {
		txn.Timestamp = msg.Time.Truncate(time.Second)
	}
	return txn, nil
}

// Stats returns processed, failed and malformed message counts
func (c *Consumer) Stats() map[string]int64 {
	return map[string]int64{
		"processed": c.processed.Load(),
		"failed":    c.failed.Load(),
		"malformed": c.malformed.Load(),
	}
}

// Close closes the underlying reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
