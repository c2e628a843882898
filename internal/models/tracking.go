package models

import (
	"strings"
	"time"
)

// Статусы трекинга в порядке продвижения. Delivered и Exception терминальные.
const (
	TrackingStatusCreated        = "Created"
	TrackingStatusProcessing     = "Processing"
	TrackingStatusInTransit      = "In Transit"
	TrackingStatusOutForDelivery = "Out for Delivery"
	TrackingStatusDelivered      = "Delivered"
	TrackingStatusException      = "Exception"
)

// Режим продвижения: auto: трек двигает планировщик, manual: только админ.
const (
	TrackingModeAuto   = "auto"
	TrackingModeManual = "manual"
)

// Источник данных трекинга выбирается один раз при создании.
const (
	TrackingSourceMock      = "mock"
	TrackingSourceAfterShip = "aftership"
	TrackingSourceEmulator  = "emulator"
	TrackingSourceTrack24   = "track24"
)

var trackingStatuses = []string{
	TrackingStatusCreated,
	TrackingStatusProcessing,
	TrackingStatusInTransit,
	TrackingStatusOutForDelivery,
	TrackingStatusDelivered,
	TrackingStatusException,
}

// ParseStatus returns the canonical spelling of s (case and spacing tolerant).
func ParseStatus(s string) (string, bool) {
	norm := normalizeStatus(s)
	for _, st := range trackingStatuses {
		if normalizeStatus(st) == norm {
			return st, true
		}
	}
	return "", false
}

func normalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
	return s
}

func IsTerminalStatus(status string) bool {
	return status == TrackingStatusDelivered || status == TrackingStatusException
}

type Tracking struct {
	ID             uint64         `json:"id"`
	OrderID        uint64         `json:"orderId"`
	Courier        string         `json:"courier"`
	TrackingNumber string         `json:"trackingNumber"`
	Status         string         `json:"status"`
	Mode           string         `json:"mode"`
	Source         string         `json:"source"`
	ExternalMeta   map[string]any `json:"externalMeta,omitempty"`
	History        []Checkpoint   `json:"history"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

type Checkpoint struct {
	Seq       int       `json:"seq"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Location  string    `json:"location"`
	Timestamp time.Time `json:"timestamp"`
	ProofURL  string    `json:"proofUrl,omitempty"`
}

func (t *Tracking) IsTerminal() bool {
	return IsTerminalStatus(t.Status)
}

func (t *Tracking) IsAuto() bool {
	return t.Mode != TrackingModeManual
}

// LastCheckpoint returns nil for an empty history.
func (t *Tracking) LastCheckpoint() *Checkpoint {
	if len(t.History) == 0 {
		return nil
	}
	return &t.History[len(t.History)-1]
}

// HasProof reports whether any checkpoint already carries a proof of delivery.
func (t *Tracking) HasProof() bool {
	for _, cp := range t.History {
		if cp.ProofURL != "" {
			return true
		}
	}
	return false
}

// MetaString reads a string value from ExternalMeta.
func (t *Tracking) MetaString(key string) string {
	if t.ExternalMeta == nil {
		return ""
	}
	v, _ := t.ExternalMeta[key].(string)
	return v
}

// Clone returns a deep copy safe to mutate.
func (t *Tracking) Clone() *Tracking {
	if t == nil {
		return nil
	}
	c := *t
	c.History = append([]Checkpoint(nil), t.History...)
	if t.ExternalMeta != nil {
		c.ExternalMeta = make(map[string]any, len(t.ExternalMeta))
		for k, v := range t.ExternalMeta {
			c.ExternalMeta[k] = v
		}
	}
	return &c
}

type TrackingCreateInput struct {
	Courier    string
	Auto       bool
	UseCarrier bool
}
