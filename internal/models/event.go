package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is the scoping unit all photos belong to. Descriptors are never
// compared across events. Code is the human-shareable join code guests type
// in; lookups by code are case-insensitive (stored uppercase).
type Event struct {
	ID        uuid.UUID `json:"id" db:"event_id"`
	Code      string    `json:"code" db:"code"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PhotoProcessed is the message published to NATS after the on-demand path
// attaches descriptors to an upload, so the API tier can push live updates
// to connected gallery clients.
type PhotoProcessed struct {
	EventID      uuid.UUID `json:"event_id"`
	Link         string    `json:"link"`
	Faces        int       `json:"faces"`
	FaceDetected bool      `json:"face_detected"`
	Timestamp    time.Time `json:"timestamp"`
}
