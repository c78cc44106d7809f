package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/knot/internal/face"
	"github.com/your-org/knot/internal/match"
	"github.com/your-org/knot/internal/models"
	"github.com/your-org/knot/internal/vision"
	"github.com/your-org/knot/pkg/dto"
)

type stubStore struct {
	event  *models.Event
	stored []models.StoredDescriptor
	done   bool
}

func (s *stubStore) HasDescriptor(context.Context, string) (bool, error) { return s.done, nil }
func (s *stubStore) MarkPhotoProcessed(context.Context, string) error    { return nil }
func (s *stubStore) UpsertSingleFaceDescriptor(context.Context, string, []float32, uuid.UUID) error {
	return nil
}
func (s *stubStore) InsertFaceDescriptors(context.Context, string, [][]float32, uuid.UUID) error {
	return nil
}
func (s *stubStore) ResolveEvent(_ context.Context, ref string) (*models.Event, error) {
	if s.event != nil && (ref == s.event.Code || ref == s.event.ID.String()) {
		return s.event, nil
	}
	return nil, nil
}
func (s *stubStore) ListEventDescriptors(context.Context, uuid.UUID) ([]models.StoredDescriptor, error) {
	return s.stored, nil
}

type stubObjects struct{ data []byte }

func (o *stubObjects) GetFile(context.Context, string) ([]byte, error) { return o.data, nil }

type stubDetector struct{ faces []vision.Face }

func (d *stubDetector) DetectFaces(image.Image) ([]vision.Face, error) { return d.faces, nil }

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func unitVectorAt(d float64) []float32 {
	cos := 1 - d*d/2
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}

func newTestRouter(svc *face.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewFaceHandler(svc)
	r.POST("/v1/faces/process", h.Process)
	r.POST("/v1/faces/match", h.Match)
	return r
}

func newFaceService(store *stubStore, objects *stubObjects, det *stubDetector) *face.Service {
	cfg := match.Config{Excellent: 0.38, Good: 0.44, Possible: 0.48, Outer: 0.55, MinFacePixels: 40}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return face.NewService(store, objects, det, nil, cfg, 800, log)
}

func TestProcessEndpoint(t *testing.T) {
	store := &stubStore{}
	det := &stubDetector{faces: []vision.Face{{BBox: [4]float32{0, 0, 100, 100}, Descriptor: []float32{1, 0}}}}
	r := newTestRouter(newFaceService(store, &stubObjects{data: pngBytes(t)}, det))

	body, _ := json.Marshal(dto.ProcessPhotoRequest{Link: "/uploads/a.jpg", EventID: uuid.New()})
	req := httptest.NewRequest(http.MethodPost, "/v1/faces/process", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp dto.ProcessPhotoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Faces)
	assert.True(t, resp.FaceDetected)
	assert.False(t, resp.Skipped)
}

func TestProcessEndpointSkipsProcessed(t *testing.T) {
	store := &stubStore{done: true}
	r := newTestRouter(newFaceService(store, &stubObjects{}, &stubDetector{}))

	body, _ := json.Marshal(dto.ProcessPhotoRequest{Link: "/uploads/a.jpg", EventID: uuid.New()})
	req := httptest.NewRequest(http.MethodPost, "/v1/faces/process", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp dto.ProcessPhotoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Skipped)
}

func TestProcessEndpointRejectsBadBody(t *testing.T) {
	r := newTestRouter(newFaceService(&stubStore{}, &stubObjects{}, &stubDetector{}))

	req := httptest.NewRequest(http.MethodPost, "/v1/faces/process", bytes.NewReader([]byte(`{"link":""}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func matchRequest(t *testing.T, eventRef string, image []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("event", eventRef))
	if image != nil {
		fw, err := mw.CreateFormFile("image", "selfie.png")
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/faces/match", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestMatchEndpoint(t *testing.T) {
	event := &models.Event{ID: uuid.New(), Code: "SUMMER24", Name: "Summer Party"}
	store := &stubStore{
		event: event,
		stored: []models.StoredDescriptor{
			{PhotoID: uuid.New(), Link: "/uploads/p1.jpg", Descriptor: unitVectorAt(0.30)},
			{PhotoID: uuid.New(), Link: "/uploads/p2.jpg", Descriptor: unitVectorAt(0.52)},
		},
	}
	det := &stubDetector{faces: []vision.Face{{BBox: [4]float32{0, 0, 100, 100}, Descriptor: []float32{1, 0}}}}
	r := newTestRouter(newFaceService(store, &stubObjects{}, det))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, matchRequest(t, "SUMMER24", pngBytes(t)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp dto.MatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, event.ID, resp.EventID)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "/uploads/p1.jpg", resp.Matches[0].Link)
	assert.Equal(t, "excellent", resp.Matches[0].Tier)
	require.Len(t, resp.Faces, 1)
	// 0.52 shows up raw but is not tiered.
	assert.Len(t, resp.Faces[0].Raw, 2)
	assert.Len(t, resp.Faces[0].Unique, 1)

	// The debug block ships with every response.
	require.NotNil(t, resp.Debug)
	assert.Equal(t, 1, resp.Debug.FacesDetected)
	assert.Equal(t, 1, resp.Debug.FacesUsable)
	assert.Equal(t, 2, resp.Debug.CandidateRows)
	assert.Equal(t, 0.38, resp.Debug.Excellent)
	assert.Equal(t, 0.55, resp.Debug.Outer)
}

func TestMatchEndpointEventNotFound(t *testing.T) {
	r := newTestRouter(newFaceService(&stubStore{}, &stubObjects{}, &stubDetector{}))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, matchRequest(t, "NOPE", pngBytes(t)))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMatchEndpointMissingFields(t *testing.T) {
	r := newTestRouter(newFaceService(&stubStore{}, &stubObjects{}, &stubDetector{}))

	// No event field.
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, matchRequest(t, "", pngBytes(t)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// No image file.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, matchRequest(t, "SUMMER24", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
