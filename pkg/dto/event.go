package dto

import "github.com/google/uuid"

type CreateEventRequest struct {
	Code string `json:"code" binding:"required"`
	Name string `json:"name" binding:"required"`
}

type EventResponse struct {
	ID        uuid.UUID `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt string    `json:"created_at"`
}

// WSPhotoProcessed is the WebSocket message pushed when a photo's
// descriptors land.
type WSPhotoProcessed struct {
	Type         string    `json:"type"` // always "photo_processed"
	EventID      uuid.UUID `json:"event_id"`
	Link         string    `json:"link"`
	Faces        int       `json:"faces"`
	FaceDetected bool      `json:"face_detected"`
	Timestamp    string    `json:"timestamp"`
}
