// Package face is the on-demand service layer: processing a single uploaded
// photo into descriptors, and matching a guest selfie against an event's
// stored descriptors. The batch path lives in internal/extract; both paths
// share the same persistence rules and match cutoffs.
package face

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/knot/internal/match"
	"github.com/your-org/knot/internal/models"
	"github.com/your-org/knot/internal/vision"
)

// ErrEventNotFound is returned when an event reference (UUID or share code)
// resolves to nothing.
var ErrEventNotFound = errors.New("event not found")

// Store is the persistence surface the service needs.
type Store interface {
	HasDescriptor(ctx context.Context, link string) (bool, error)
	MarkPhotoProcessed(ctx context.Context, link string) error
	UpsertSingleFaceDescriptor(ctx context.Context, link string, vec []float32, eventID uuid.UUID) error
	InsertFaceDescriptors(ctx context.Context, link string, vecs [][]float32, eventID uuid.UUID) error
	ResolveEvent(ctx context.Context, ref string) (*models.Event, error)
	ListEventDescriptors(ctx context.Context, eventID uuid.UUID) ([]models.StoredDescriptor, error)
}

// ObjectStore fetches upload bytes by logical link.
type ObjectStore interface {
	GetFile(ctx context.Context, link string) ([]byte, error)
}

// Publisher pushes processing notifications for live gallery updates.
type Publisher interface {
	PublishPhotoProcessed(ctx context.Context, msg models.PhotoProcessed) error
}

// FaceDetector is the slice of the vision capability the service needs.
type FaceDetector interface {
	DetectFaces(img image.Image) ([]vision.Face, error)
}

type Service struct {
	store     Store
	objects   ObjectStore
	detector  FaceDetector
	publisher Publisher // optional
	matchCfg  match.Config
	maxImgDim int
	log       *slog.Logger
}

func NewService(store Store, objects ObjectStore, detector FaceDetector, publisher Publisher, matchCfg match.Config, maxImgDim int, log *slog.Logger) *Service {
	return &Service{
		store:     store,
		objects:   objects,
		detector:  detector,
		publisher: publisher,
		matchCfg:  matchCfg,
		maxImgDim: maxImgDim,
		log:       log,
	}
}

func (s *Service) decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return vision.Downscale(img, s.maxImgDim), nil
}
