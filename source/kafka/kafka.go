// Package kafka provides a source that consumes records from a Kafka
// topic.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/lsm/eventcalls/source"
)

// Record is the event yielded per consumed Kafka record.
type Record struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int32
	Offset    int64
}

// Config holds Kafka source configuration.
type Config struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	StartOffset   string // "earliest" or "latest" (default: "latest")
	Logger        *slog.Logger
}

// consumer abstracts the kafka client methods used by Source for testing.
type consumer interface {
	PollFetches(ctx context.Context) kgo.Fetches
	Close()
}

// Source consumes events from a Kafka topic. Cancellation aborts the
// in-flight poll through context cancellation; the client itself is
// released in Finalize.
type Source struct {
	client consumer
	topic  string
	logger *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	pending []source.Event

	cancelled atomic.Bool
	closeOnce sync.Once
}

var _ source.Source = (*Source)(nil)

// NewSource creates a new Kafka source.
func NewSource(cfg Config) (*Source, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("consumer group is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	offset := kgo.NewOffset().AtEnd()
	if cfg.StartOffset == "earliest" {
		offset = kgo.NewOffset().AtStart()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(offset),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Source{
		client: client,
		topic:  cfg.Topic,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Setup logs the consumer start; the client was built at construction.
func (s *Source) Setup() (source.Status, error) {
	s.logger.Info("starting kafka consumer", "topic", s.topic)
	return nil, nil
}

// Next returns the next buffered record, polling the broker when the
// buffer is empty. Fetch errors on an active source propagate; after
// cancellation the sequence just ends.
func (s *Source) Next() (source.Event, error) {
	for {
		if len(s.pending) > 0 {
			evt := s.pending[0]
			s.pending = s.pending[1:]
			return evt, nil
		}
		if s.cancelled.Load() {
			return nil, source.ErrDone
		}

		fetches := s.client.PollFetches(s.ctx)
		if s.cancelled.Load() || s.ctx.Err() != nil || fetches.IsClientClosed() {
			return nil, source.ErrDone
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, err := range errs {
				s.logger.Error("fetch error", "topic", err.Topic, "partition", err.Partition, "error", err.Err)
			}
			return nil, fmt.Errorf("fetch %s: %w", errs[0].Topic, errs[0].Err)
		}

		fetches.EachRecord(func(record *kgo.Record) {
			evt := Record{
				Key:       record.Key,
				Value:     record.Value,
				Headers:   make(map[string]string, len(record.Headers)),
				Topic:     record.Topic,
				Partition: record.Partition,
				Offset:    record.Offset,
			}
			for _, h := range record.Headers {
				evt.Headers[h.Key] = string(h.Value)
			}
			s.pending = append(s.pending, evt)
		})
	}
}

// Cancel aborts the in-flight poll. Idempotent.
func (s *Source) Cancel() {
	if s.cancelled.Swap(true) {
		return
	}
	s.cancel()
}

// Finalize releases the Kafka client.
func (s *Source) Finalize() (source.Status, error) {
	s.closeOnce.Do(func() {
		s.cancel()
		s.client.Close()
	})
	return nil, nil
}
