package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/ShipTrack/internal/broker/messages"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const DefaultTopic = "notifications.outbound"

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Sender кладёт запрос на рассылку в kafka; доставку делает внешний сервис.
// Гарантия at-least-once: получатель дедуплицирует по ID.
type Sender struct {
	producer Producer
	topic    string
	now      func() time.Time
}

func NewSender(p Producer, topic string) *Sender {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Sender{producer: p, topic: topic, now: time.Now}
}

func (s *Sender) Send(ctx context.Context, n messages.Notification) error {
	if n.Recipient == "" {
		return errors.New("notification recipient is empty")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}

	b, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}
	if err := s.producer.Publish(ctx, s.topic, []byte(n.ID), b); err != nil {
		return errors.Wrap(err, "publish notification")
	}
	slog.Debug("notification queued", "id", n.ID, "template", n.Template)
	return nil
}
