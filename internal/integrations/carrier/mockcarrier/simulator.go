// Package mockcarrier simulates a courier for shipments without a real
// carrier integration. It walks a fixed status sequence one step per call.
package mockcarrier

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/google/uuid"
)

const DefaultCourier = "MockCourier"

var sequence = []string{
	models.TrackingStatusCreated,
	models.TrackingStatusProcessing,
	models.TrackingStatusInTransit,
	models.TrackingStatusOutForDelivery,
	models.TrackingStatusDelivered,
}

// Sequence returns a copy of the mock status progression.
func Sequence() []string {
	return append([]string(nil), sequence...)
}

type Shipment struct {
	TrackingNumber string
	Status         string
	History        []models.Checkpoint
}

// CreateShipment returns a fresh tracking number and a two-step seed history.
// The first checkpoint names the order and the courier it was handed to.
func CreateShipment(orderID uint64, courier string, now time.Time) Shipment {
	if courier == "" {
		courier = DefaultCourier
	}
	now = now.UTC()
	return Shipment{
		TrackingNumber: NewTrackingNumber("MOCK", now),
		Status:         models.TrackingStatusProcessing,
		History: []models.Checkpoint{
			{
				Seq:       0,
				Status:    models.TrackingStatusCreated,
				Message:   fmt.Sprintf("Order %d handed to %s", orderID, courier),
				Location:  "Warehouse",
				Timestamp: now,
			},
			{
				Seq:       1,
				Status:    models.TrackingStatusProcessing,
				Message:   "Package processed",
				Location:  "Sorting center",
				Timestamp: now.Add(time.Hour),
			},
		},
	}
}

// NewTrackingNumber: монотонная часть (время) + случайный суффикс,
// чтобы параллельные создания не давали одинаковых номеров.
func NewTrackingNumber(prefix string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s", prefix, strings.ToUpper(strconv.FormatInt(now.UnixNano(), 36)), strings.ToUpper(suffix))
}

// AdvanceOnce maps a status to the next one in the sequence.
// Terminal and unknown statuses are returned unchanged.
func AdvanceOnce(status string) string {
	if models.IsTerminalStatus(status) {
		return status
	}
	for i, st := range sequence {
		if st == status && i+1 < len(sequence) {
			return sequence[i+1]
		}
	}
	return status
}

// NextCheckpoint builds the checkpoint recorded for a mock transition.
func NextCheckpoint(status string, at time.Time) models.Checkpoint {
	cp := models.Checkpoint{
		Status:    status,
		Message:   "Status updated",
		Location:  "On route",
		Timestamp: at.UTC(),
	}
	if status == models.TrackingStatusDelivered {
		cp.Message = "Package delivered successfully"
		cp.Location = "Destination"
	}
	return cp
}
