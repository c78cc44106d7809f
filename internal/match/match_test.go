package match

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/knot/internal/descriptor"
)

var testCfg = Config{
	Excellent: 0.38,
	Good:      0.44,
	Possible:  0.48,
	Outer:     0.55,
}

// candidateAt builds a 2-d candidate whose distance from the unit query
// vector (1, 0) is exactly d. Both vectors are unit length.
func candidateAt(link string, d float64) Candidate {
	// For unit vectors, ||a-b|| = d when the angle theta satisfies
	// d^2 = 2 - 2cos(theta). Solve for the second vector directly.
	cos := 1 - d*d/2
	sin := 1 - cos*cos
	if sin < 0 {
		sin = 0
	}
	v := descriptor.Normalize([]float32{float32(cos), sqrt32(sin)})
	return Candidate{PhotoID: uuid.New(), Link: link, Descriptor: v}
}

func sqrt32(f float64) float32 {
	x := f
	if x <= 0 {
		return 0
	}
	// Newton iterations are plenty for test precision.
	guess := x
	for i := 0; i < 64; i++ {
		guess = (guess + x/guess) / 2
	}
	return float32(guess)
}

func query() []float32 { return []float32{1, 0} }

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", testCfg, false},
		{"equal cutoffs", Config{Excellent: 0.4, Good: 0.4, Possible: 0.5, Outer: 0.6}, true},
		{"decreasing", Config{Excellent: 0.5, Good: 0.4, Possible: 0.6, Outer: 0.7}, true},
		{"outer below possible", Config{Excellent: 0.3, Good: 0.4, Possible: 0.5, Outer: 0.45}, true},
		{"zero excellent", Config{Excellent: 0, Good: 0.4, Possible: 0.5, Outer: 0.6}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTierBoundaries(t *testing.T) {
	// Worked classification: distances 0.30/0.41/0.47 land in the three
	// tiers; 0.52 is beyond possible yet within the outer cutoff, so it is
	// dropped from the tiers (it stays visible in the raw list only).
	stored := []Candidate{
		candidateAt("/e/abc/a.jpg", 0.30),
		candidateAt("/e/abc/b.jpg", 0.41),
		candidateAt("/e/abc/c.jpg", 0.47),
		candidateAt("/e/abc/d.jpg", 0.52),
	}

	fm := ClassifyFace(testCfg, query(), stored)

	require.Len(t, fm.Raw, 4, "all four are within the outer cutoff")
	require.Len(t, fm.Unique, 3)
	assert.Equal(t, TierExcellent, fm.Unique[0].Tier)
	assert.Equal(t, "/e/abc/a.jpg", fm.Unique[0].Link)
	assert.Equal(t, TierGood, fm.Unique[1].Tier)
	assert.Equal(t, "/e/abc/b.jpg", fm.Unique[1].Link)
	assert.Equal(t, TierPossible, fm.Unique[2].Tier)
	assert.Equal(t, "/e/abc/c.jpg", fm.Unique[2].Link)
}

func TestOuterCutoffDiscards(t *testing.T) {
	stored := []Candidate{
		candidateAt("/p/far.jpg", 0.80),
	}
	fm := ClassifyFace(testCfg, query(), stored)
	assert.Empty(t, fm.Raw)
	assert.Empty(t, fm.Unique)
}

func TestDedupeByLinkKeepsClosest(t *testing.T) {
	// Same image stored twice (two faces); only the closest one survives.
	stored := []Candidate{
		candidateAt("/p/group.jpg", 0.42),
		candidateAt("/p/group.jpg", 0.31),
		candidateAt("/p/other.jpg", 0.45),
	}

	fm := ClassifyFace(testCfg, query(), stored)

	require.Len(t, fm.Raw, 3)
	require.Len(t, fm.Unique, 2)
	assert.Equal(t, "/p/group.jpg", fm.Unique[0].Link)
	assert.InDelta(t, 0.31, fm.Unique[0].Distance, 1e-3)
	assert.Equal(t, TierExcellent, fm.Unique[0].Tier)
}

func TestUniqueEntriesPerLinkProperty(t *testing.T) {
	stored := []Candidate{
		candidateAt("/p/1.jpg", 0.30),
		candidateAt("/p/1.jpg", 0.35),
		candidateAt("/p/1.jpg", 0.40),
		candidateAt("/p/2.jpg", 0.32),
		candidateAt("/p/2.jpg", 0.46),
	}
	fm := ClassifyFace(testCfg, query(), stored)

	links := map[string]int{}
	for _, r := range fm.Unique {
		links[r.Link]++
	}
	for link, n := range links {
		assert.Equal(t, 1, n, "link %s appears %d times", link, n)
	}
	assert.Len(t, links, 2)
}

func TestTiersDisjointAndOrdered(t *testing.T) {
	stored := []Candidate{
		candidateAt("/p/a.jpg", 0.45),
		candidateAt("/p/b.jpg", 0.20),
		candidateAt("/p/c.jpg", 0.39),
		candidateAt("/p/d.jpg", 0.10),
		candidateAt("/p/e.jpg", 0.47),
	}
	fm := ClassifyFace(testCfg, query(), stored)

	require.Len(t, fm.Unique, 5)
	for i := 1; i < len(fm.Unique); i++ {
		assert.LessOrEqual(t, fm.Unique[i-1].Distance, fm.Unique[i].Distance)
	}
	for _, r := range fm.Unique {
		tier, ok := testCfg.TierFor(r.Distance)
		require.True(t, ok)
		assert.Equal(t, tier, r.Tier)
	}
}

func TestMismatchedDescriptorLengthIsNoMatch(t *testing.T) {
	stored := []Candidate{
		{PhotoID: uuid.New(), Link: "/p/bad.jpg", Descriptor: []float32{1, 0, 0}},
		candidateAt("/p/good.jpg", 0.30),
	}
	fm := ClassifyFace(testCfg, query(), stored)
	require.Len(t, fm.Unique, 1)
	assert.Equal(t, "/p/good.jpg", fm.Unique[0].Link)
}

func TestClassifyMultiFaceFlattened(t *testing.T) {
	stored := []Candidate{
		candidateAt("/p/shared.jpg", 0.42),
		candidateAt("/p/only-a.jpg", 0.30),
	}
	// Second query face is closer to shared.jpg than the first one.
	faceA := query()
	faceB := stored[0].Descriptor

	perFace, flattened := Classify(testCfg, [][]float32{faceA, faceB}, stored)

	require.Len(t, perFace, 2)
	assert.Equal(t, 0, perFace[0].FaceIndex)
	assert.Equal(t, 1, perFace[1].FaceIndex)

	byLink := map[string]Result{}
	for _, r := range flattened {
		_, dup := byLink[r.Link]
		require.False(t, dup, "flattened view must dedupe by link")
		byLink[r.Link] = r
	}
	require.Contains(t, byLink, "/p/shared.jpg")
	// Face B matches shared.jpg at distance ~0, so the flattened entry must
	// carry the better distance.
	assert.InDelta(t, 0, byLink["/p/shared.jpg"].Distance, 1e-3)
	assert.Equal(t, TierExcellent, byLink["/p/shared.jpg"].Tier)
}

func TestClassifyNoQueryFaces(t *testing.T) {
	perFace, flattened := Classify(testCfg, nil, []Candidate{candidateAt("/p/a.jpg", 0.3)})
	assert.Empty(t, perFace)
	assert.Empty(t, flattened)
}
