package models

import (
	"time"
)

// UploadStatus enumerates lifecycle states persisted in Postgres.
// Transitions are monotonic along queued -> processing -> {ready, failed};
// ready and failed are terminal.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// Terminal reports whether a status admits no further transitions.
func Terminal(status string) bool {
	return status == StatusReady || status == StatusFailed
}

// ValidStatus reports whether s is one of the four lifecycle states.
func ValidStatus(s string) bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Upload represents one submitted video and its lifecycle, persisted in Postgres.
// All fields except Status and UpdatedAt are immutable after creation; Status is
// mutated only by the external processing worker.
type Upload struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"owner_id"`
	StoragePath      string    `json:"storage_path"`
	OriginalFilename string    `json:"original_filename"`
	SizeBytes        int64     `json:"file_size_bytes"`
	Status           string    `json:"status"`
	PushToken        *string   `json:"push_token,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
