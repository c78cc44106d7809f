package face

import (
	"context"
	"fmt"
	"time"

	"github.com/your-org/knot/internal/descriptor"
	"github.com/your-org/knot/internal/match"
	"github.com/your-org/knot/internal/models"
	"github.com/your-org/knot/internal/observability"
)

// MatchResult is the full response for one selfie match request. Matches is
// the flattened cross-face view most clients want; Faces carries the
// per-face breakdown for richer UIs.
type MatchResult struct {
	Event   models.Event
	Faces   []match.FaceMatches
	Matches []match.Result
	Debug   MatchDebug
}

// MatchDebug carries the numbers needed to explain a surprising result.
type MatchDebug struct {
	FacesDetected  int          `json:"facesDetected"`
	FacesUsable    int          `json:"facesUsable"`
	CandidateRows  int          `json:"candidateRows"`
	Cutoffs        match.Config `json:"cutoffs"`
	DurationMillis int64        `json:"durationMillis"`
}

// Match detects faces in a guest selfie and classifies them against every
// stored descriptor of the referenced event. eventRef accepts either the
// event UUID or its share code. Faces smaller than the configured minimum in
// either dimension are ignored; they are incidental background faces.
func (s *Service) Match(ctx context.Context, eventRef string, imageData []byte) (*MatchResult, error) {
	start := time.Now()

	event, err := s.store.ResolveEvent(ctx, eventRef)
	if err != nil {
		observability.MatchRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("resolve event %q: %w", eventRef, err)
	}
	if event == nil {
		observability.MatchRequests.WithLabelValues("error").Inc()
		return nil, ErrEventNotFound
	}

	img, err := s.decode(imageData)
	if err != nil {
		observability.MatchRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("decode selfie: %w", err)
	}

	detected, err := s.detector.DetectFaces(img)
	if err != nil {
		observability.MatchRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	queries := make([][]float32, 0, len(detected))
	for _, f := range detected {
		if f.Width() < s.matchCfg.MinFacePixels || f.Height() < s.matchCfg.MinFacePixels {
			continue
		}
		queries = append(queries, descriptor.Normalize(f.Descriptor))
	}

	result := &MatchResult{
		Event: *event,
		Debug: MatchDebug{
			FacesDetected: len(detected),
			FacesUsable:   len(queries),
			Cutoffs:       s.matchCfg,
		},
	}

	if len(queries) == 0 {
		observability.MatchRequests.WithLabelValues("empty").Inc()
		result.Debug.DurationMillis = time.Since(start).Milliseconds()
		return result, nil
	}

	stored, err := s.store.ListEventDescriptors(ctx, event.ID)
	if err != nil {
		observability.MatchRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("list event descriptors: %w", err)
	}

	candidates := make([]match.Candidate, len(stored))
	for i, d := range stored {
		candidates[i] = match.Candidate{PhotoID: d.PhotoID, Link: d.Link, Descriptor: d.Descriptor}
	}
	result.Debug.CandidateRows = len(candidates)

	result.Faces, result.Matches = match.Classify(s.matchCfg, queries, candidates)

	outcome := "empty"
	if len(result.Matches) > 0 {
		outcome = "matched"
	}
	observability.MatchRequests.WithLabelValues(outcome).Inc()
	observability.MatchDuration.Observe(time.Since(start).Seconds())
	result.Debug.DurationMillis = time.Since(start).Milliseconds()

	s.log.Info("match request",
		"event", event.ID,
		"facesDetected", len(detected),
		"facesUsable", len(queries),
		"candidates", len(candidates),
		"matches", len(result.Matches),
	)
	return result, nil
}
