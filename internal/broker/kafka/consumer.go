package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// ErrSkipMessage помечает сообщение, которое не обработать никогда
// (битый JSON, неизвестный номер трека). Оно коммитится и пропускается.
var ErrSkipMessage = errors.New("skip message")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer не потокобезопасен: Consume вызывается из одной горутины.
type Consumer struct {
	r        messageReader
	attempts int
	backoff  time.Duration

	// сообщение, на котором упал прошлый Consume; reader уже ушёл дальше
	pending *kafka.Message
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	c := newConsumerWithReader(kafka.NewReader(cfg))
	return c.WithRetry(3, 500*time.Millisecond)
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r, attempts: 1}
}

// WithRetry задаёт число попыток обработки одного сообщения и линейный
// шаг паузы между ними.
func (c *Consumer) WithRetry(attempts int, backoff time.Duration) *Consumer {
	if attempts > 0 {
		c.attempts = attempts
	}
	if backoff >= 0 {
		c.backoff = backoff
	}
	return c
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume читает сообщения до первой ошибки. Коммит только после успешной
// обработки или ErrSkipMessage. Сообщение, на котором обработчик сдался,
// запоминается и первым обрабатывается при следующем вызове Consume.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		var msg kafka.Message
		if c.pending != nil {
			msg = *c.pending
		} else {
			m, err := c.r.FetchMessage(ctx)
			if err != nil {
				return errors.Wrap(err, "fetch message")
			}
			msg = m
		}
		if err := c.handle(ctx, msg, handler); err != nil {
			c.pending = &msg
			return err
		}
		c.pending = nil
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handler func(key, value []byte) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = handler(msg.Key, msg.Value)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrSkipMessage) {
			slog.Warn("kafka message skipped",
				"topic", msg.Topic,
				"offset", msg.Offset,
				"error", err.Error(),
			)
			return nil
		}
		if attempt >= c.attempts {
			break
		}
		slog.Warn("kafka handler failed, retrying",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"attempt", attempt,
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return errors.Wrapf(err, "handle message at offset %d", msg.Offset)
}
