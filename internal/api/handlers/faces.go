package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/knot/internal/face"
	"github.com/your-org/knot/internal/match"
	"github.com/your-org/knot/pkg/dto"
)

type FaceHandler struct {
	svc *face.Service
}

func NewFaceHandler(svc *face.Service) *FaceHandler {
	return &FaceHandler{svc: svc}
}

// Process runs on-demand extraction for one already-uploaded photo.
func (h *FaceHandler) Process(c *gin.Context) {
	var req dto.ProcessPhotoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.Process(c.Request.Context(), req.Link, req.EventID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.ProcessPhotoResponse{
		Link:         res.Link,
		Faces:        res.Faces,
		FaceDetected: res.FaceDetected,
		Skipped:      res.Skipped,
	})
}

// Match accepts a multipart selfie upload and returns the tiered matches for
// the referenced event. The event form field accepts a UUID or share code.
func (h *FaceHandler) Match(c *gin.Context) {
	eventRef := c.PostForm("event")
	if eventRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event field required"})
		return
	}

	file, _, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}

	res, err := h.svc.Match(c.Request.Context(), eventRef, imageData)
	if err != nil {
		if errors.Is(err, face.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.MatchResponse{
		EventID: res.Event.ID,
		Faces:   make([]dto.FaceMatchGroup, 0, len(res.Faces)),
		Matches: toDTOResults(res.Matches),
	}
	for _, fm := range res.Faces {
		resp.Faces = append(resp.Faces, dto.FaceMatchGroup{
			FaceIndex: fm.FaceIndex,
			Raw:       toDTOResults(fm.Raw),
			Unique:    toDTOResults(fm.Unique),
		})
	}

	resp.Debug = &dto.MatchDebug{
		FacesDetected:  res.Debug.FacesDetected,
		FacesUsable:    res.Debug.FacesUsable,
		CandidateRows:  res.Debug.CandidateRows,
		Excellent:      res.Debug.Cutoffs.Excellent,
		Good:           res.Debug.Cutoffs.Good,
		Possible:       res.Debug.Cutoffs.Possible,
		Outer:          res.Debug.Cutoffs.Outer,
		DurationMillis: res.Debug.DurationMillis,
	}

	c.JSON(http.StatusOK, resp)
}

func toDTOResults(in []match.Result) []dto.MatchResult {
	out := make([]dto.MatchResult, 0, len(in))
	for _, r := range in {
		out = append(out, dto.MatchResult{
			PhotoID:  r.PhotoID,
			Link:     r.Link,
			Distance: r.Distance,
			Tier:     string(r.Tier),
		})
	}
	return out
}
