// Package kafkasink publishes records to Kafka, one topic per stream and
// the symbol as message key, so a partition carries a symbol in order.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aidin1998/itchbook/internal/sink"
	"github.com/Aidin1998/itchbook/pkg/models"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds the producer settings.
type Config struct {
	Brokers      []string
	TopicPrefix  string
	Compression  string
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	RequiredAcks int
	RetryMax     int
}

// DefaultConfig batches for bulk loads.
func DefaultConfig() Config {
	return Config{
		TopicPrefix:  "itch",
		Compression:  "zstd",
		BatchSize:    1000,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: int(kafka.RequireAll),
		RetryMax:     3,
	}
}

type Sink struct {
	writer MessageWriter
	prefix string
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// New builds a synchronous kafka.Writer from cfg.
func New(cfg Config, logger *zap.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafkasink: no brokers configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:  cfg.RetryMax,
	}
	switch cfg.Compression {
	case "gzip":
		w.Compression = kafka.Gzip
	case "snappy":
		w.Compression = kafka.Snappy
	case "lz4":
		w.Compression = kafka.Lz4
	case "zstd":
		w.Compression = kafka.Zstd
	}
	return NewWithWriter(w, cfg.TopicPrefix, logger), nil
}

// NewWithWriter publishes through w. Messages carry their own topic, so w must not set one.
func NewWithWriter(w MessageWriter, prefix string, logger *zap.Logger) *Sink {
	return &Sink{writer: w, prefix: prefix, logger: logger}
}

// Topic is the topic that carries stream.
func (s *Sink) Topic(stream models.Stream) string {
	if s.prefix == "" {
		return stream.String()
	}
	return s.prefix + "." + stream.String()
}

func (s *Sink) WriteBatch(ctx context.Context, b sink.Batch) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sink.ErrClosed
	}
	if len(b.Records) == 0 {
		return nil
	}
	topic := s.Topic(b.Stream)
	msgs := make([]kafka.Message, len(b.Records))
	for i, r := range b.Records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("kafkasink: marshal %s record: %w", b.Stream, err)
		}
		msgs[i] = kafka.Message{
			Topic: topic,
			Key:   []byte(b.Symbol),
			Value: data,
			Headers: []kafka.Header{
				{Key: "stream", Value: []byte(b.Stream.String())},
				{Key: "date", Value: []byte(b.Date)},
			},
		}
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafkasink: publish %d messages to %s: %w", len(msgs), topic, err)
	}
	s.logger.Debug("published batch",
		zap.String("topic", topic),
		zap.String("symbol", b.Symbol),
		zap.Int("messages", len(msgs)))
	return nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}
