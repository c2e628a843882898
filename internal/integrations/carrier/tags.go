package carrier

import (
	"strings"

	"github.com/BearBump/ShipTrack/internal/models"
)

// NormalizeTag maps carrier tags (AfterShip style) onto tracking statuses.
// Unknown non-empty tags are treated as in transit.
func NormalizeTag(tag string) string {
	if st, ok := models.ParseStatus(tag); ok {
		return st
	}
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "":
		return ""
	case "pending":
		return models.TrackingStatusCreated
	case "inforeceived", "info_received":
		return models.TrackingStatusProcessing
	case "intransit", "in_transit":
		return models.TrackingStatusInTransit
	case "outfordelivery", "out_for_delivery", "availableforpickup", "attemptfail":
		return models.TrackingStatusOutForDelivery
	case "delivered":
		return models.TrackingStatusDelivered
	case "exception", "expired":
		return models.TrackingStatusException
	default:
		return models.TrackingStatusInTransit
	}
}
