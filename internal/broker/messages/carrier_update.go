package messages

import "time"

// CarrierUpdate: обновление, которое перевозчик прислал сам (push),
// по номеру трека. Приходит через вебхук или топик carrier.updates.
type CarrierUpdate struct {
	TrackingNumber string              `json:"tracking_number"`
	Tag            string              `json:"tag,omitempty"`
	Checkpoints    []CarrierCheckpoint `json:"checkpoints"`
}

type CarrierCheckpoint struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Location  string    `json:"location,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	ProofURL  string    `json:"proof_url,omitempty"`
}
