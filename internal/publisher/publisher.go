// Package publisher writes JSON messages to Kafka, retrying failed writes
// with exponential backoff.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Writer is the subset of *kafka.Writer used here.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends messages to a single topic.
type Publisher struct {
	w       Writer
	topic   string
	retries int
	backoff time.Duration
	log     *slog.Logger
}

// Option tweaks a Publisher.
type Option func(*Publisher)

// WithBackoff sets the delay before the first retry. It doubles on every
// further attempt.
func WithBackoff(d time.Duration) Option {
	return func(p *Publisher) { p.backoff = d }
}

// New wraps w. retries is the number of extra attempts after a failed write.
func New(w Writer, topic string, retries int, log *slog.Logger, opts ...Option) *Publisher {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if retries < 0 {
		retries = 0
	}
	p := &Publisher{w: w, topic: topic, retries: retries, backoff: time.Second, log: log}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewKafka creates a publisher backed by a kafka-go writer.
func NewKafka(brokers []string, topic string, retries int, log *slog.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return New(w, topic, retries, log)
}

// Topic is the destination topic.
func (p *Publisher) Topic() string { return p.topic }

// PublishJSON marshals value and writes it under key.
func (p *Publisher) PublishJSON(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return p.write(ctx, kafka.Message{Key: []byte(key), Value: payload})
}

// DeadLetter forwards a message that could not be processed, recording where
// it came from and why it failed in its headers.
func (p *Publisher) DeadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	headers := make([]kafka.Header, 0, len(msg.Headers)+4)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "original_partition", Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: "original_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: "error", Value: []byte(cause.Error())},
		kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
	)
	return p.write(ctx, kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers})
}

func (p *Publisher) write(ctx context.Context, msg kafka.Message) error {
	var err error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if err = p.w.WriteMessages(ctx, msg); err == nil {
			p.log.Debug("message written",
				slog.String("topic", p.topic),
				slog.Int("attempt", attempt+1),
			)
			return nil
		}
		if attempt == p.retries {
			break
		}

		backoff := p.backoff << uint(attempt)
		p.log.Warn("write failed, retrying",
			slog.String("topic", p.topic),
			slog.Any("err", err),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("write to %s: %w", p.topic, ctx.Err())
		}
	}
	return fmt.Errorf("write to %s after %d attempts: %w", p.topic, p.retries+1, err)
}

// Close closes the underlying writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}
