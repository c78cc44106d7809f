package models

import (
	"time"

	"github.com/google/uuid"
)

// Photo is one row in the photos table. The upload path creates rows without
// a descriptor; the extraction pipeline attaches descriptors afterwards.
// ProcessedAt is set even when zero faces were found, so "no faces" is
// distinguishable from "not yet processed".
type Photo struct {
	ID          uuid.UUID
	Link        string
	EventID     uuid.UUID
	UploaderID  *uuid.UUID
	Descriptor  []float32 // nil until a face is extracted
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

// StoredDescriptor is the projection the matcher reads: every descriptor row
// for an event, with just enough identity to rank and dedupe.
type StoredDescriptor struct {
	PhotoID    uuid.UUID
	Link       string
	Descriptor []float32
}
