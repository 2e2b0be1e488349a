package models

import (
	"time"
)

const (
	StatusPending    = "pending"
	StatusInProgress = "in-progress"
	StatusResolved   = "resolved"
)

// Report represents a row of the reports table
type Report struct {
	Seq         int       `json:"-" db:"seq"`
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Phone       string    `json:"phone" db:"phone"`
	Description string    `json:"description" db:"description"`
	Latitude    float64   `json:"latitude" db:"latitude"`
	Longitude   float64   `json:"longitude" db:"longitude"`
	Accuracy    *float64  `json:"accuracy,omitempty" db:"accuracy"`
	PhotoURL    string    `json:"photoUrl" db:"photo_url"`
	PhotoKey    string    `json:"-" db:"photo_key"`
	Status      string    `json:"status" db:"status"`
	Consent     bool      `json:"consent" db:"consent"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// PublicReport is the listing shape; contact data never leaves the service
type PublicReport struct {
	ID          string    `json:"id"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Description string    `json:"description"`
	PhotoURL    string    `json:"photoUrl"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (r *Report) Public() PublicReport {
	return PublicReport{
		ID:          r.ID,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Description: r.Description,
		PhotoURL:    r.PhotoURL,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
	}
}

// ReportEvent is published when a report is created
type ReportEvent struct {
	ID        string    `json:"id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	PhotoURL  string    `json:"photo_url"`
	CreatedAt time.Time `json:"created_at"`
}

// BroadcastMessage represents a message sent to WebSocket clients
type BroadcastMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	Timestamp        string `json:"timestamp"`
	Database         string `json:"database"`
	Publisher        string `json:"publisher"`
	ImageHost        string `json:"image_host"`
	ConnectedClients int    `json:"connected_clients"`
	ActiveSessions   int    `json:"active_sessions"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
