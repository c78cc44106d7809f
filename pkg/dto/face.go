package dto

import "github.com/google/uuid"

// ProcessPhotoRequest triggers on-demand extraction for one uploaded photo.
type ProcessPhotoRequest struct {
	Link    string    `json:"link" binding:"required"`
	EventID uuid.UUID `json:"event_id" binding:"required"`
}

type ProcessPhotoResponse struct {
	Link         string `json:"link"`
	Faces        int    `json:"faces"`
	FaceDetected bool   `json:"face_detected"`
	Skipped      bool   `json:"skipped"`
}

// MatchResult is one matched photo.
type MatchResult struct {
	PhotoID  uuid.UUID `json:"photo_id"`
	Link     string    `json:"link"`
	Distance float64   `json:"distance"`
	Tier     string    `json:"tier,omitempty"`
}

// FaceMatchGroup is the per-query-face breakdown.
type FaceMatchGroup struct {
	FaceIndex int           `json:"face_index"`
	Raw       []MatchResult `json:"raw_matches"`
	Unique    []MatchResult `json:"unique_image_matches"`
}

// MatchDebug explains a surprising match result.
type MatchDebug struct {
	FacesDetected  int     `json:"faces_detected"`
	FacesUsable    int     `json:"faces_usable"`
	CandidateRows  int     `json:"candidate_rows"`
	Excellent      float64 `json:"cutoff_excellent"`
	Good           float64 `json:"cutoff_good"`
	Possible       float64 `json:"cutoff_possible"`
	Outer          float64 `json:"cutoff_outer"`
	DurationMillis int64   `json:"duration_ms"`
}

// MatchResponse is the full answer for POST /v1/faces/match.
type MatchResponse struct {
	EventID uuid.UUID        `json:"event_id"`
	Faces   []FaceMatchGroup `json:"faces"`
	Matches []MatchResult    `json:"matches"`
	Debug   *MatchDebug      `json:"debug,omitempty"`
}
