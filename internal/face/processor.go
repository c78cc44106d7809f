package face

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/knot/internal/descriptor"
	"github.com/your-org/knot/internal/models"
	"github.com/your-org/knot/internal/observability"
)

// ProcessResult reports what the on-demand path did with one photo.
type ProcessResult struct {
	Link         string
	EventID      uuid.UUID
	Faces        int
	FaceDetected bool
	// Skipped is true when the photo already had descriptors and nothing
	// was recomputed.
	Skipped bool
}

// Process runs detection and persistence for a single uploaded photo,
// synchronously. Photos that already have descriptors are skipped so upload
// handlers can call this unconditionally.
func (s *Service) Process(ctx context.Context, link string, eventID uuid.UUID) (ProcessResult, error) {
	res := ProcessResult{Link: link, EventID: eventID}

	done, err := s.store.HasDescriptor(ctx, link)
	if err != nil {
		return res, fmt.Errorf("check descriptor state: %w", err)
	}
	if done {
		res.Skipped = true
		return res, nil
	}

	data, err := s.objects.GetFile(ctx, link)
	if err != nil {
		return res, fmt.Errorf("fetch photo: %w", err)
	}

	img, err := s.decode(data)
	if err != nil {
		return res, fmt.Errorf("decode photo: %w", err)
	}

	detected, err := s.detector.DetectFaces(img)
	if err != nil {
		return res, fmt.Errorf("detect faces: %w", err)
	}

	vecs := make([][]float32, 0, len(detected))
	for _, f := range detected {
		vecs = append(vecs, descriptor.Normalize(f.Descriptor))
	}

	switch len(vecs) {
	case 0:
		err = s.store.MarkPhotoProcessed(ctx, link)
	case 1:
		err = s.store.UpsertSingleFaceDescriptor(ctx, link, vecs[0], eventID)
	default:
		err = s.store.InsertFaceDescriptors(ctx, link, vecs, eventID)
	}
	if err != nil {
		return res, fmt.Errorf("persist descriptors: %w", err)
	}

	res.Faces = len(vecs)
	res.FaceDetected = len(vecs) > 0

	observability.PhotosProcessed.WithLabelValues("ondemand").Inc()
	observability.FacesDetected.WithLabelValues("ondemand").Add(float64(len(vecs)))

	s.notify(ctx, res)
	return res, nil
}

// notify publishes the processed event best-effort; a broken broker must not
// fail the processing request.
func (s *Service) notify(ctx context.Context, res ProcessResult) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishPhotoProcessed(ctx, models.PhotoProcessed{
		EventID:      res.EventID,
		Link:         res.Link,
		Faces:        res.Faces,
		FaceDetected: res.FaceDetected,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn("publish photo processed", "link", res.Link, "error", err)
	}
}
