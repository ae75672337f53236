package matcher

import (
	"context"
	"testing"

	"github.com/GrainArc/GeoClassify/errs"
	"github.com/GrainArc/GeoClassify/spatial"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}}
}

// seed 集合 1：三个面；集合 2：与集合 1 第一个面重合的面加一个远处的面，来源 id 更小；集合 3：两个点
func seed() *spatial.MemoryCorpus {
	c := spatial.NewMemoryCorpus()
	c.Add(
		spatial.Canonical{ID: 1, CollectionID: 1, SourceID: 5, FID: 1, Geometry: square(0, 0, 100)},
		spatial.Canonical{ID: 2, CollectionID: 1, SourceID: 5, FID: 2, Geometry: square(1000, 0, 100)},
		spatial.Canonical{ID: 3, CollectionID: 1, SourceID: 5, FID: 3, Geometry: square(2000, 0, 100)},
		spatial.Canonical{ID: 4, CollectionID: 2, SourceID: 2, FID: 1, Geometry: square(0, 0, 100)},
		spatial.Canonical{ID: 5, CollectionID: 2, SourceID: 2, FID: 2, Geometry: square(9000, 0, 100)},
		spatial.Canonical{ID: 6, CollectionID: 3, SourceID: 3, FID: 1, Geometry: orb.Point{0, 0}},
		spatial.Canonical{ID: 7, CollectionID: 3, SourceID: 3, FID: 2, Geometry: orb.Point{500, 500}},
	)
	return c
}

func newMatcher(c spatial.Corpus) *Matcher {
	return New(spatial.NewPlanarProvider(), c, spatial.Radii{Point: 50, Line: 50, Polygon: 50}, 2)
}

func features(geoms ...orb.Geometry) *spatial.FeatureSet {
	fs := make([]spatial.Feature, 0, len(geoms))
	for _, g := range geoms {
		fs = append(fs, spatial.Feature{Geometry: g})
	}
	set, err := spatial.NewFeatureSet(fs)
	if err != nil {
		panic(err)
	}
	return set
}

func TestMatchIdenticalIsFull(t *testing.T) {
	res, err := newMatcher(seed()).Match(context.Background(), features(orb.Point{0, 0}, orb.Point{500, 500}))
	require.NoError(t, err)
	assert.Equal(t, FidelityFull, res.Fidelity)
	require.NotNil(t, res.Target)
	assert.Equal(t, uint(3), *res.Target)
	assert.Equal(t, MessageMatch, res.Message)
	assert.True(t, res.Confirmed())
	assert.Len(t, res.Hits, 2)
}

func TestMatchClosedFull(t *testing.T) {
	// 开放阶段第一个面命中来源更早的集合 2，封闭阶段在集合 1 中全部命中
	res, err := newMatcher(seed()).Match(context.Background(),
		features(square(0, 0, 100), square(1000, 0, 100), square(2000, 0, 100)))
	require.NoError(t, err)
	assert.Equal(t, 2, len(res.CollectionHits))
	assert.Equal(t, uint(1), *res.Dominant)
	assert.Equal(t, FidelityFull, res.Fidelity)
	assert.Equal(t, uint(1), *res.Target)
	assert.Len(t, res.Hits, 3)
}

func TestMatchSupersetIsSubset(t *testing.T) {
	res, err := newMatcher(seed()).Match(context.Background(),
		features(square(0, 0, 100), square(1000, 0, 100), square(2000, 0, 100), square(5000, 0, 100)))
	require.NoError(t, err)
	assert.Equal(t, FidelitySubset, res.Fidelity)
	assert.Equal(t, MessageSubset, res.Message)
	assert.Equal(t, uint(1), *res.Target)
	assert.Equal(t, int64(3), res.LiveCount)
}

func TestMatchPartial(t *testing.T) {
	res, err := newMatcher(seed()).Match(context.Background(),
		features(square(2000, 0, 100), square(7000, 0, 100)))
	require.NoError(t, err)
	assert.Equal(t, FidelityPartial, res.Fidelity)
	assert.Equal(t, MessagePartial, res.Message)
	assert.Nil(t, res.Target)
	assert.False(t, res.Confirmed())
	assert.Equal(t, uint(1), *res.Dominant)
}

func TestMatchDifferentTypeIsNone(t *testing.T) {
	res, err := newMatcher(seed()).Match(context.Background(),
		features(orb.LineString{{0, 0}, {100, 0}}))
	require.NoError(t, err)
	assert.Equal(t, FidelityNone, res.Fidelity)
	assert.Equal(t, MessageNoMatch, res.Message)
	assert.Nil(t, res.Target)
	assert.Empty(t, res.CollectionHits)
}

func TestMatchTieGoesToLowestCollection(t *testing.T) {
	c := spatial.NewMemoryCorpus()
	c.Add(
		spatial.Canonical{ID: 1, CollectionID: 9, SourceID: 1, FID: 1, Geometry: orb.Point{0, 0}},
		spatial.Canonical{ID: 2, CollectionID: 4, SourceID: 2, FID: 1, Geometry: orb.Point{1000, 0}},
	)
	res, err := newMatcher(c).Match(context.Background(), features(orb.Point{0, 0}, orb.Point{1000, 0}))
	require.NoError(t, err)
	assert.Equal(t, uint(4), *res.Dominant)
	assert.Equal(t, FidelitySubset, res.Fidelity)
	assert.Equal(t, uint(4), *res.Target)
}

func TestMatchInto(t *testing.T) {
	m := newMatcher(seed())
	res, err := m.MatchInto(context.Background(), features(square(0, 0, 100)), 2)
	require.NoError(t, err)
	assert.Equal(t, FidelityFull, res.Fidelity)
	assert.Equal(t, uint(2), *res.Target)
	assert.Equal(t, [][][]float64{{{1}, {4, 1}, {0}}}, res.Matrix())

	res, err = m.MatchInto(context.Background(), features(square(20000, 0, 100)), 2)
	require.NoError(t, err)
	assert.Equal(t, FidelityNone, res.Fidelity)
	assert.Equal(t, MessageNoClosed, res.Message)
}

func TestMatchSimilarRadius(t *testing.T) {
	m := newMatcher(seed())
	set := features(orb.Point{80, 0}, orb.Point{580, 500})
	res, err := m.Match(context.Background(), set)
	require.NoError(t, err)
	assert.Equal(t, FidelityNone, res.Fidelity)

	res, err = m.WithRadii(spatial.UniformRadii(100)).Match(context.Background(), set)
	require.NoError(t, err)
	assert.Equal(t, FidelityFull, res.Fidelity)
	assert.Equal(t, map[uint64]float64{1: 80, 2: 80}, res.Distances())
}

func TestMatchEmpty(t *testing.T) {
	_, err := newMatcher(seed()).Match(context.Background(), &spatial.FeatureSet{Type: spatial.Point})
	assert.True(t, errs.IsInput(err))
}
