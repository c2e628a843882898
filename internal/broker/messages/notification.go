package messages

import "time"

const (
	TemplateOrderShipped   = "order_shipped"
	TemplateOrderDelivered = "order_delivered"
)

// Notification: запрос внешнему сервису рассылки (email/SMS).
type Notification struct {
	ID        string            `json:"id"`
	Recipient string            `json:"recipient"`
	Template  string            `json:"template"`
	Params    map[string]string `json:"params,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
