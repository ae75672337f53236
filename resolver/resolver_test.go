package resolver

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/GrainArc/GeoClassify/errs"
	"github.com/GrainArc/GeoClassify/matcher"
	"github.com/GrainArc/GeoClassify/spatial"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func live() []spatial.Canonical {
	return []spatial.Canonical{
		{ID: 10, CollectionID: 1, SourceID: 1, FID: 1, Geometry: orb.Point{0, 0}},
		{ID: 11, CollectionID: 1, SourceID: 1, FID: 2, Geometry: orb.Point{100, 0}},
		{ID: 12, CollectionID: 1, SourceID: 1, FID: 5, Geometry: orb.Point{200, 0}},
	}
}

func candidates(points ...orb.Point) *spatial.FeatureSet {
	set := &spatial.FeatureSet{Type: spatial.Point}
	for i, p := range points {
		set.Features = append(set.Features, spatial.Feature{FID: uint64(i + 1), Geometry: p})
	}
	return set
}

func matched(t *testing.T, set *spatial.FeatureSet, canon []spatial.Canonical) *matcher.Result {
	corpus := spatial.NewMemoryCorpus()
	corpus.Add(canon...)
	m := matcher.New(spatial.NewPlanarProvider(), corpus, spatial.Radii{Point: 50}, 1)
	res, err := m.MatchInto(context.Background(), set, 1)
	require.NoError(t, err)
	res.Confirm(1)
	return res
}

func fids(c *Correspondence) []uint64 {
	out := make([]uint64, 0, len(c.Entries))
	for _, e := range c.Entries {
		out = append(out, e.CandidateFID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestParseMergeStrategy(t *testing.T) {
	s, err := ParseMergeStrategy(" Replace ")
	require.NoError(t, err)
	assert.Equal(t, MergeReplace, s)
	assert.Equal(t, "replace", s.String())

	_, err = ParseMergeStrategy("merge")
	assert.True(t, errs.IsInput(err))
}

func TestFIDAllocator(t *testing.T) {
	a := NewFIDAllocator(3, []uint64{1, 7})
	fid, err := a.NextFID()
	require.NoError(t, err)
	assert.Equal(t, uint64(8), fid)
	fid, err = a.NextFID()
	require.NoError(t, err)
	assert.Equal(t, uint64(9), fid)
	assert.Equal(t, uint64(9), a.Last())
}

func TestResolveUpdate(t *testing.T) {
	set := candidates(orb.Point{0, 0}, orb.Point{103, 0}, orb.Point{900, 0})
	res := matched(t, set, live())
	target := NewCollection(1, 5, live())

	c, err := New(0).Resolve(target, set, res, MergeUpdate)
	require.NoError(t, err)
	require.Len(t, c.Entries, 3)

	assert.Equal(t, ActionKeep, c.Entries[0].Action)
	assert.Equal(t, uint64(1), c.Entries[0].FID)
	assert.Equal(t, uint(10), c.Entries[0].CanonicalID)

	assert.Equal(t, ActionRevise, c.Entries[1].Action)
	assert.Equal(t, uint64(2), c.Entries[1].FID)
	assert.Equal(t, 3.0, c.Entries[1].Distance)

	assert.Equal(t, ActionMint, c.Entries[2].Action)
	assert.Equal(t, uint64(6), c.Entries[2].FID)
	assert.Equal(t, uint64(6), target.MaxFID())

	assert.Equal(t, map[uint64]uint64{1: 1, 2: 2, 3: 6}, c.Mapping())
	assert.Equal(t, set.FIDs(), fids(c))
}

func TestResolveUnchangedPolygonsKeepVersion(t *testing.T) {
	ring := func(x, y float64) orb.Polygon {
		return orb.Polygon{orb.Ring{{x, y}, {x + 100, y}, {x + 100, y + 100}, {x, y + 100}, {x, y}}}
	}
	canon := []spatial.Canonical{
		{ID: 20, CollectionID: 1, SourceID: 1, FID: 1, Geometry: ring(0, 0)},
		{ID: 21, CollectionID: 1, SourceID: 1, FID: 2, Geometry: ring(500, 0)},
	}
	set := &spatial.FeatureSet{Type: spatial.Polygon, Features: []spatial.Feature{
		{FID: 1, Geometry: ring(0, 0)},
		{FID: 2, Geometry: ring(500, 0)},
	}}
	corpus := spatial.NewMemoryCorpus()
	corpus.Add(canon...)
	res, err := matcher.New(spatial.NewPlanarProvider(), corpus, spatial.Radii{Polygon: 50}, 1).
		MatchInto(context.Background(), set, 1)
	require.NoError(t, err)
	require.True(t, res.Confirm(1))

	c, err := New(0).Resolve(NewCollection(1, 2, canon), set, res, MergeUpdate)
	require.NoError(t, err)
	for _, e := range c.Entries {
		assert.Equal(t, ActionKeep, e.Action, "fid %d", e.FID)
		assert.Zero(t, e.Distance)
	}
	assert.Empty(t, c.Filter(ActionRevise))
}

func TestResolveStrategies(t *testing.T) {
	set := candidates(orb.Point{0, 0}, orb.Point{103, 0}, orb.Point{900, 0})

	cases := []struct {
		strategy MergeStrategy
		first    Action
		second   Action
	}{
		{MergeAdd, ActionKeep, ActionKeep},
		{MergeSkip, ActionSkip, ActionSkip},
		{MergeReplace, ActionRevise, ActionRevise},
	}
	for _, tc := range cases {
		t.Run(tc.strategy.String(), func(t *testing.T) {
			res := matched(t, set, live())
			c, err := New(0).Resolve(NewCollection(1, 5, live()), set, res, tc.strategy)
			require.NoError(t, err)
			assert.Equal(t, tc.first, c.Entries[0].Action)
			assert.Equal(t, tc.second, c.Entries[1].Action)
			assert.Equal(t, ActionMint, c.Entries[2].Action)
		})
	}

	res := matched(t, set, live())
	c, err := New(0).Resolve(NewCollection(1, 5, live()), set, res, MergeSkip)
	require.NoError(t, err)
	assert.Equal(t, map[uint64]uint64{3: 6}, c.Mapping())
}

func TestResolveNew(t *testing.T) {
	set := candidates(orb.Point{0, 0}, orb.Point{1, 1})
	c, err := New(0).Resolve(NewCollection(4, 0, nil), set, nil, MergeNew)
	require.NoError(t, err)
	assert.Len(t, c.Filter(ActionMint), 2)
	assert.Equal(t, uint64(1), c.Entries[0].FID)
	assert.Equal(t, uint64(2), c.Entries[1].FID)

	_, err = New(0).Resolve(NewCollection(1, 5, live()), set, nil, MergeNew)
	assert.True(t, errs.IsInput(err))
}

func TestResolveRequiresConfirmedTarget(t *testing.T) {
	set := candidates(orb.Point{0, 0})
	_, err := New(0).Resolve(nil, set, nil, MergeAdd)
	assert.True(t, errors.Is(err, ErrNoTarget))

	_, err = New(0).Resolve(NewCollection(1, 5, live()), set, &matcher.Result{}, MergeAdd)
	assert.True(t, errors.Is(err, ErrNoTarget))

	other := uint(2)
	_, err = New(0).Resolve(NewCollection(1, 5, live()), set, &matcher.Result{Target: &other}, MergeAdd)
	assert.True(t, errors.Is(err, ErrNoTarget))
}

func TestResolveOneToOne(t *testing.T) {
	// 两个候选都命中 fid 1，距离近的保留，另一个新建
	set := candidates(orb.Point{4, 0}, orb.Point{1, 0})
	res := matched(t, set, live())
	require.Len(t, res.Hits, 2)

	c, err := New(0).Resolve(NewCollection(1, 5, live()), set, res, MergeAdd)
	require.NoError(t, err)
	assert.Equal(t, ActionMint, c.Entries[0].Action)
	assert.Equal(t, uint64(6), c.Entries[0].FID)
	assert.Equal(t, ActionKeep, c.Entries[1].Action)
	assert.Equal(t, uint64(1), c.Entries[1].FID)
}

func TestResolveRejectsForeignHit(t *testing.T) {
	set := candidates(orb.Point{0, 0})
	target := uint(1)
	res := &matcher.Result{Target: &target, Hits: []spatial.Hit{{
		CandidateFID: 1,
		Canonical:    spatial.Canonical{ID: 99, CollectionID: 2, FID: 1},
	}}}
	_, err := New(0).Resolve(NewCollection(1, 5, live()), set, res, MergeAdd)
	assert.True(t, errs.IsInvariant(err))
}

func TestResolveSeedsFromLiveFIDs(t *testing.T) {
	// 持久化的最大 fid 落后于 live fid 时从 live 最大值继续分配
	set := candidates(orb.Point{5000, 0})
	res := matched(t, set, live())
	c, err := New(0).Resolve(NewCollection(1, 0, live()), set, res, MergeAdd)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), c.Entries[0].FID)
}

func TestRevisionChain(t *testing.T) {
	// 连续多次入库后每个 fid 只有一个 live 版本，previous 链回到最初版本
	type version struct {
		id, previous uint
		fid          uint64
		live         bool
	}
	store := map[uint]*version{}
	var nextID uint
	corpus := spatial.NewMemoryCorpus()
	var maxFID uint64

	ingest := func(points ...orb.Point) {
		set := candidates(points...)
		liveCanon, _ := corpus.Live(context.Background(), spatial.Scope{Type: spatial.Point, CollectionID: 1})
		target := NewCollection(1, maxFID, liveCanon)
		strategy := MergeReplace
		var res *matcher.Result
		if len(liveCanon) == 0 {
			strategy = MergeNew
		} else {
			m := matcher.New(spatial.NewPlanarProvider(), corpus, spatial.Radii{Point: 50}, 1)
			var err error
			res, err = m.MatchInto(context.Background(), set, 1)
			require.NoError(t, err)
			require.True(t, res.Confirm(1))
		}
		c, err := New(0).Resolve(target, set, res, strategy)
		require.NoError(t, err)
		for i, e := range c.Entries {
			nextID++
			v := &version{id: nextID, fid: e.FID, live: true}
			if e.Action == ActionRevise {
				v.previous = e.CanonicalID
				store[e.CanonicalID].live = false
				corpus.Supersede(e.CanonicalID)
			}
			store[v.id] = v
			corpus.Add(spatial.Canonical{ID: v.id, CollectionID: 1, SourceID: nextID, FID: e.FID, Geometry: set.Features[i].Geometry})
		}
		maxFID = target.MaxFID()
	}

	ingest(orb.Point{0, 0}, orb.Point{100, 0})
	ingest(orb.Point{1, 0}, orb.Point{101, 0}, orb.Point{300, 0})
	ingest(orb.Point{2, 0}, orb.Point{102, 0}, orb.Point{301, 0})

	liveByFID := map[uint64]int{}
	for _, v := range store {
		if v.live {
			liveByFID[v.fid]++
		}
		seen := map[uint]bool{}
		cur := v
		for cur.previous != 0 {
			require.False(t, seen[cur.id])
			seen[cur.id] = true
			cur = store[cur.previous]
		}
		assert.Equal(t, v.fid, cur.fid)
	}
	assert.Equal(t, map[uint64]int{1: 1, 2: 1, 3: 1}, liveByFID)
}
