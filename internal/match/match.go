// Package match turns raw descriptor distances into tiered, deduplicated
// match results. Cutoffs come from configuration and use a strict `<` at
// every boundary; the same cutoff set is used by the on-demand matcher and
// the benchmarking path.
package match

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/your-org/knot/internal/descriptor"
)

// Tier is a named confidence band for a match distance.
type Tier string

const (
	TierExcellent Tier = "excellent"
	TierGood      Tier = "good"
	TierPossible  Tier = "possible"
)

// Config holds the ascending distance cutoffs for each tier plus the outer
// ceiling beyond which a comparison is not a match at all. MinFacePixels
// filters incidental background faces out of query images before matching.
type Config struct {
	Excellent     float64 `yaml:"excellent"`
	Good          float64 `yaml:"good"`
	Possible      float64 `yaml:"possible"`
	Outer         float64 `yaml:"outer"`
	MinFacePixels int     `yaml:"min_face_pixels"`
}

// Validate enforces strictly increasing cutoffs.
func (c Config) Validate() error {
	if c.Excellent <= 0 {
		return fmt.Errorf("match: excellent cutoff must be positive, got %v", c.Excellent)
	}
	if !(c.Excellent < c.Good && c.Good < c.Possible && c.Possible < c.Outer) {
		return fmt.Errorf("match: cutoffs must be strictly increasing (excellent=%v good=%v possible=%v outer=%v)",
			c.Excellent, c.Good, c.Possible, c.Outer)
	}
	return nil
}

// TierFor buckets a distance. The second return is false when the distance
// falls outside every tier (including the band between possible and outer).
func (c Config) TierFor(d float64) (Tier, bool) {
	switch {
	case d < c.Excellent:
		return TierExcellent, true
	case d < c.Good:
		return TierGood, true
	case d < c.Possible:
		return TierPossible, true
	default:
		return "", false
	}
}

// Candidate is one stored descriptor row scoped to the target event.
type Candidate struct {
	PhotoID    uuid.UUID
	Link       string
	Descriptor []float32
}

// Result is an ephemeral match produced by the classifier.
type Result struct {
	PhotoID  uuid.UUID `json:"photoId"`
	Link     string    `json:"link"`
	Distance float64   `json:"distance"`
	Tier     Tier      `json:"tier,omitempty"`
}

// FaceMatches holds the results for a single query face.
// Raw lists every stored row within the outer cutoff (one entry per
// descriptor row, ascending distance). Unique is deduplicated by link and
// tiered; a photo appears in exactly one tier.
type FaceMatches struct {
	FaceIndex int      `json:"faceIndex"`
	Raw       []Result `json:"rawMatches"`
	Unique    []Result `json:"uniqueImageMatches"`
}

// ClassifyFace matches one query descriptor against the stored set.
func ClassifyFace(cfg Config, query []float32, stored []Candidate) FaceMatches {
	var raw []Result
	for _, c := range stored {
		d := descriptor.Distance(query, c.Descriptor)
		if d < cfg.Outer {
			raw = append(raw, Result{PhotoID: c.PhotoID, Link: c.Link, Distance: d})
		}
	}
	sort.Slice(raw, func(i, j int) bool { return raw[i].Distance < raw[j].Distance })

	// Dedupe by link before tiering: keep only the closest descriptor per
	// image so a photo lands in exactly one tier.
	unique := dedupeByLink(raw)
	tiered := unique[:0]
	for _, r := range unique {
		tier, ok := cfg.TierFor(r.Distance)
		if !ok {
			continue
		}
		r.Tier = tier
		tiered = append(tiered, r)
	}

	return FaceMatches{Raw: raw, Unique: tiered}
}

// Classify runs the full pipeline once per query face and additionally
// returns a flattened "best tier across all query faces" view for simple
// callers. The flattened view is deduplicated by link across faces.
func Classify(cfg Config, queryFaces [][]float32, stored []Candidate) ([]FaceMatches, []Result) {
	perFace := make([]FaceMatches, 0, len(queryFaces))
	var all []Result
	for i, q := range queryFaces {
		fm := ClassifyFace(cfg, q, stored)
		fm.FaceIndex = i
		perFace = append(perFace, fm)
		all = append(all, fm.Unique...)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Distance < all[j].Distance })
	flattened := dedupeByLink(all)

	return perFace, flattened
}

// dedupeByLink keeps the first (lowest-distance) entry per link.
// Input must be sorted by ascending distance.
func dedupeByLink(sorted []Result) []Result {
	seen := make(map[string]struct{}, len(sorted))
	out := make([]Result, 0, len(sorted))
	for _, r := range sorted {
		if _, ok := seen[r.Link]; ok {
			continue
		}
		seen[r.Link] = struct{}{}
		out = append(out, r)
	}
	return out
}
