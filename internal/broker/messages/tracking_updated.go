package messages

import "time"

// TrackingUpdated публикуется после каждой сохранённой мутации трека.
// track-api по нему обновляет кэш текущего состояния.
type TrackingUpdated struct {
	TrackingID uint64    `json:"tracking_id"`
	OrderID    uint64    `json:"order_id"`
	Status     string    `json:"status"`
	PrevStatus string    `json:"prev_status,omitempty"`
	Appended   int       `json:"appended"`
	Source     string    `json:"source"`
	UpdatedAt  time.Time `json:"updated_at"`
}
