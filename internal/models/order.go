package models

import "time"

const (
	OrderStatusPending        = "Pending"
	OrderStatusProcessing     = "Processing"
	OrderStatusShipped        = "Shipped"
	OrderStatusOutForDelivery = "Out for Delivery"
	OrderStatusDelivered      = "Delivered"
	OrderStatusCancelled      = "Cancelled"
)

// Order: внешняя сущность; здесь только поля, которые читает или меняет трекинг.
type Order struct {
	ID              uint64    `json:"id"`
	UserID          uint64    `json:"userId"`
	CustomerName    string    `json:"customerName"`
	CustomerEmail   string    `json:"customerEmail"`
	Status          string    `json:"status"`
	Rated           bool      `json:"rated"`
	TrackingCourier string    `json:"trackingCourier,omitempty"`
	TrackingNumber  string    `json:"trackingNumber,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
