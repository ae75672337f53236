package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GrainArc/GeoClassify/config"
	"github.com/GrainArc/GeoClassify/detector"
	"github.com/GrainArc/GeoClassify/errs"
	"github.com/GrainArc/GeoClassify/logger"
	"github.com/GrainArc/GeoClassify/models"
	"github.com/GrainArc/GeoClassify/resolver"
	"github.com/GrainArc/GeoClassify/services"
	"github.com/GrainArc/GeoClassify/spatial"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type feature struct {
	ring  [][2]float64
	props string
}

// house 非矩形的五边形，避免被当作范围框
func house(x, y float64, props string) feature {
	return feature{
		ring:  [][2]float64{{x, y}, {x + 10, y}, {x + 10, y + 10}, {x + 5, y + 15}, {x, y + 10}, {x, y}},
		props: props,
	}
}

func rect(x, y float64) feature {
	return feature{ring: [][2]float64{{x, y}, {x + 10, y}, {x + 10, y + 10}, {x, y + 10}, {x, y}}, props: `{}`}
}

func writeGeoJSON(t *testing.T, dir, name, crs string, features ...feature) string {
	t.Helper()
	parts := make([]string, 0, len(features))
	for _, f := range features {
		coords := make([]string, 0, len(f.ring))
		for _, p := range f.ring {
			coords = append(coords, fmt.Sprintf("[%g,%g]", p[0], p[1]))
		}
		parts = append(parts, fmt.Sprintf(`{"type":"Feature","properties":%s,"geometry":{"type":"Polygon","coordinates":[[%s]]}}`,
			f.props, strings.Join(coords, ",")))
	}
	doc := fmt.Sprintf(`{"type":"FeatureCollection","crs":{"type":"name","properties":{"name":%q}},"features":[%s]}`,
		crs, strings.Join(parts, ","))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

type fixture struct {
	ctx   context.Context
	db    *gorm.DB
	p     *Pipeline
	files *services.ImportFileService
	dir   string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db, err := models.OpenMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	p := New(db, spatial.NewPlanarProvider(), opts, logger.Nop(), nil)
	t.Cleanup(p.Close)
	return &fixture{ctx: context.Background(), db: db, p: p, files: services.NewImportFileService(db), dir: t.TempDir()}
}

func defaultOptions() Options {
	return Options{
		Radii:       spatial.UniformRadii(50),
		Similar:     100,
		QueueLimit:  10,
		MaxFileSize: 1 << 20,
		Workers:     2,
		Retry:       config.Retry{MaxTries: 2, InitialMs: 1},
	}
}

func (f *fixture) register(t *testing.T, path string, ts time.Time) *models.ImportFile {
	t.Helper()
	file, err := f.files.Register(f.ctx, services.RegisterInput{Name: filepath.Base(path), Path: path, Timestamp: ts})
	require.NoError(t, err)
	return file
}

func day(d int) time.Time {
	return time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC)
}

const crs3857 = "urn:ogc:def:crs:EPSG::3857"

func TestClassifyNewThenRevise(t *testing.T) {
	f := newFixture(t, defaultOptions())

	first := writeGeoJSON(t, f.dir, "parcels.geojson", crs3857,
		house(0, 0, `{"name":"a","height":1.25}`),
		house(200, 0, `{"name":"b","height":3}`))
	f.register(t, first, day(1))

	out, err := f.p.Next(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAmbiguous, out.Status)
	require.NotNil(t, out.MatchID)

	out, err = f.p.Import(f.ctx, ManualInput{MatchID: *out.MatchID, Strategy: resolver.MergeNew})
	require.NoError(t, err)
	assert.Equal(t, models.StatusClassified, out.Status)
	require.NotNil(t, out.CollectionID)
	assert.Equal(t, 4, out.Changes)

	col, err := services.NewCollectionService(f.db, nil).Get(f.ctx, *out.CollectionID)
	require.NoError(t, err)
	assert.Equal(t, "parcels", col.Name)
	assert.Equal(t, uint64(2), col.MaxFID)

	m, err := services.NewMatchService(f.db).Get(f.ctx, 1)
	require.NoError(t, err)
	assert.True(t, m.Resolved)

	second := writeGeoJSON(t, f.dir, "parcels-v2.geojson", crs3857,
		house(1, 0, `{"name":"A ","height":1.2}`),
		house(200, 0, `{"name":"b","height":4}`))
	f.register(t, second, day(2))

	out, err = f.p.Next(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClassified, out.Status)
	assert.Equal(t, "full", out.Fidelity)
	assert.Equal(t, col.ID, *out.CollectionID)
	// 只有 fid 2 的 height 发生变化，名称大小写与小数精度差异不算变化
	assert.Equal(t, 1, out.Changes)

	var live []models.Geometry
	require.NoError(t, f.db.Where("collection_id = ? AND superseded = ?", col.ID, false).Order("fid").Find(&live).Error)
	require.Len(t, live, 2)
	require.NotNil(t, live[0].PreviousID, "shifted geometry gets a new version")
	assert.Nil(t, live[1].PreviousID)

	var src models.Source
	require.NoError(t, f.db.First(&src, *out.SourceID).Error)
	require.NotNil(t, src.PreviousID)
	assert.False(t, src.Manual)
	assert.Equal(t, "update", src.Strategy)

	history, err := services.NewSnapshotService(f.db).History(f.ctx, col.ID, 2)
	require.NoError(t, err)
	var heights []string
	for _, h := range history {
		if h.ColumnName == "height" {
			heights = append(heights, h.Change)
		}
	}
	assert.Equal(t, []string{detector.ChangeInitial.String(), detector.ChangeChanged.String()}, heights)
}

func TestReingestIdenticalFileKeepsVersions(t *testing.T) {
	f := newFixture(t, defaultOptions())
	features := []feature{house(0, 0, `{"name":"a"}`), house(200, 0, `{"name":"b"}`)}

	f.register(t, writeGeoJSON(t, f.dir, "roads.geojson", crs3857, features...), day(1))
	out, err := f.p.Next(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, out.MatchID)
	out, err = f.p.Import(f.ctx, ManualInput{MatchID: *out.MatchID, Strategy: resolver.MergeNew})
	require.NoError(t, err)
	colID := *out.CollectionID

	for i := 2; i <= 3; i++ {
		f.register(t, writeGeoJSON(t, f.dir, fmt.Sprintf("roads-%d.geojson", i), crs3857, features...), day(i))
		out, err = f.p.Next(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, models.StatusClassified, out.Status)
		assert.Equal(t, 0, out.Changes)
	}

	var total, revised int64
	require.NoError(t, f.db.Model(&models.Geometry{}).Where("collection_id = ?", colID).Count(&total).Error)
	require.NoError(t, f.db.Model(&models.Geometry{}).Where("collection_id = ? AND previous_id IS NOT NULL", colID).Count(&revised).Error)
	assert.Equal(t, int64(2), total)
	assert.Zero(t, revised)
}

func TestClassifyOutOfOrder(t *testing.T) {
	f := newFixture(t, defaultOptions())
	path := writeGeoJSON(t, f.dir, "a.geojson", crs3857, house(0, 0, `{"v":1}`))
	f.register(t, path, day(5))
	out, err := f.p.Next(f.ctx)
	require.NoError(t, err)
	_, err = f.p.Import(f.ctx, ManualInput{MatchID: *out.MatchID, Strategy: resolver.MergeNew})
	require.NoError(t, err)

	older := writeGeoJSON(t, f.dir, "b.geojson", crs3857, house(0, 0, `{"v":2}`))
	file := f.register(t, older, day(1))
	out, err = f.p.Next(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, file.ID, out.FileID)
	assert.Equal(t, models.StatusWeird, out.Status)
	assert.Contains(t, out.Message, "older than latest source")

	var n int64
	f.db.Model(&models.Source{}).Count(&n)
	assert.Equal(t, int64(1), n)
}

func TestClassifySimilarPass(t *testing.T) {
	f := newFixture(t, defaultOptions())
	path := writeGeoJSON(t, f.dir, "base.geojson", crs3857, house(0, 0, `{}`), house(300, 0, `{}`))
	f.register(t, path, day(1))
	out, err := f.p.Next(f.ctx)
	require.NoError(t, err)
	_, err = f.p.Import(f.ctx, ManualInput{MatchID: *out.MatchID, Strategy: resolver.MergeNew})
	require.NoError(t, err)

	// 偏移超过匹配半径但在相似半径内
	moved := writeGeoJSON(t, f.dir, "moved.geojson", crs3857, house(70, 0, `{}`), house(370, 0, `{}`))
	f.register(t, moved, day(2))
	out, err = f.p.Next(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAmbiguous, out.Status)
	assert.Equal(t, "full", out.Fidelity)

	m, err := services.NewMatchService(f.db).Get(f.ctx, *out.MatchID)
	require.NoError(t, err)
	assert.True(t, m.Similar)
	require.NotNil(t, m.CollectionID)

	out, err = f.p.Import(f.ctx, ManualInput{MatchID: m.ID, Strategy: resolver.MergeAdd})
	require.NoError(t, err)
	assert.Equal(t, models.StatusClassified, out.Status)
	assert.Equal(t, *m.CollectionID, *out.CollectionID)
}

func TestClassifyFileStates(t *testing.T) {
	f := newFixture(t, defaultOptions())

	bbox := f.register(t, writeGeoJSON(t, f.dir, "extent.geojson", crs3857, rect(0, 0), rect(50, 50)), day(1))
	out, err := f.p.Process(f.ctx, bbox.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBBox, out.Status)

	bad := f.register(t, writeGeoJSON(t, f.dir, "gk.geojson", "EPSG:4523", house(0, 0, `{}`)), day(1))
	out, err = f.p.Process(f.ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCorrupted, out.Status)

	empty := f.register(t, writeGeoJSON(t, f.dir, "empty.geojson", crs3857), day(1))
	out, err = f.p.Process(f.ctx, empty.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNoGeom, out.Status)

	missing := f.register(t, filepath.Join(f.dir, "gone.geojson"), day(1))
	out, err = f.p.Process(f.ctx, missing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, out.Status)
	file, err := f.files.Get(f.ctx, missing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, file.Status)
	assert.Equal(t, 1, file.Attempts)

	txt := filepath.Join(f.dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))
	out, err = f.p.Process(f.ctx, f.register(t, txt, day(1)).ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWeird, out.Status)
}

func TestClassifyBigFile(t *testing.T) {
	opts := defaultOptions()
	opts.MaxFileSize = 16
	f := newFixture(t, opts)
	file := f.register(t, writeGeoJSON(t, f.dir, "big.geojson", crs3857, house(0, 0, `{}`)), day(1))

	out, err := f.p.Process(f.ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBigFile, out.Status)
}

func TestAdmission(t *testing.T) {
	opts := defaultOptions()
	opts.QueueLimit = 1
	f := newFixture(t, opts)

	f.register(t, writeGeoJSON(t, f.dir, "a.geojson", crs3857, house(0, 0, `{}`)), day(1))
	f.register(t, writeGeoJSON(t, f.dir, "b.geojson", crs3857, house(500, 0, `{}`)), day(2))

	out, err := f.p.Next(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAmbiguous, out.Status)

	_, err = f.p.Next(f.ctx)
	assert.ErrorIs(t, err, ErrQueueFull)

	release, err := f.p.lock.TryLock(f.ctx)
	require.NoError(t, err)
	_, err = f.p.Import(f.ctx, ManualInput{MatchID: *out.MatchID, Strategy: resolver.MergeNew})
	assert.ErrorIs(t, err, ErrBusy)
	release()

	_, err = f.p.Import(f.ctx, ManualInput{MatchID: *out.MatchID, Strategy: resolver.MergeNew})
	require.NoError(t, err)
	_, err = f.p.Import(f.ctx, ManualInput{MatchID: *out.MatchID, Strategy: resolver.MergeNew})
	assert.True(t, errs.IsInput(err))

	out, err = f.p.Next(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "b.geojson", out.Name)

	_, err = f.p.Next(f.ctx)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestNextEmptyQueue(t *testing.T) {
	f := newFixture(t, defaultOptions())
	_, err := f.p.Next(f.ctx)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestCheckCachedByCorpusVersion(t *testing.T) {
	f := newFixture(t, defaultOptions())
	file := f.register(t, writeGeoJSON(t, f.dir, "a.geojson", crs3857, house(0, 0, `{}`)), day(1))

	first, err := f.p.Check(f.ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "none", first.Fidelity)
	again, err := f.p.Check(f.ctx, file.ID)
	require.NoError(t, err)
	assert.Same(t, first, again)

	stored, err := f.files.Get(f.ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)

	out, err := f.p.Next(f.ctx)
	require.NoError(t, err)
	_, err = f.p.Import(f.ctx, ManualInput{MatchID: *out.MatchID, Strategy: resolver.MergeNew})
	require.NoError(t, err)

	after, err := f.p.Check(f.ctx, file.ID)
	require.NoError(t, err)
	assert.NotSame(t, first, after)
	assert.Equal(t, "full", after.Fidelity)
}

func TestStartStop(t *testing.T) {
	opts := defaultOptions()
	opts.Interval = 10 * time.Millisecond
	f := newFixture(t, opts)
	f.register(t, writeGeoJSON(t, f.dir, "a.geojson", crs3857, house(0, 0, `{}`)), day(1))

	require.True(t, f.p.Start())
	assert.False(t, f.p.Start())
	assert.Eventually(t, func() bool {
		counts, err := f.files.Count(f.ctx)
		return err == nil && counts[models.StatusAmbiguous] == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, f.p.Stop())
	assert.False(t, f.p.Running())
	assert.False(t, f.p.Stop())
}

func TestIsBBox(t *testing.T) {
	square := func(x float64) spatial.Feature {
		return spatial.Feature{Geometry: orb.Polygon{orb.Ring{{x, 0}, {x + 1, 0}, {x + 1, 1}, {x, 1}, {x, 0}}}}
	}
	set := &spatial.FeatureSet{Type: spatial.Polygon, Features: []spatial.Feature{square(0), square(5)}}
	assert.True(t, IsBBox(set))

	set.Features = append(set.Features, spatial.Feature{Geometry: orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}})
	assert.False(t, IsBBox(set))

	many := &spatial.FeatureSet{Type: spatial.Polygon}
	for i := 0; i < 11; i++ {
		many.Features = append(many.Features, square(float64(i*5)))
	}
	assert.False(t, IsBBox(many))
	assert.False(t, IsBBox(&spatial.FeatureSet{Type: spatial.Point, Features: []spatial.Feature{{Geometry: orb.Point{1, 1}}}}))
}

func TestPreviewCache(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewPreviewCache(2, time.Minute)
	c.now = func() time.Time { return clock }

	a, b, d := &Preview{FileID: 1}, &Preview{FileID: 2}, &Preview{FileID: 3}
	c.Set(2, "1.4", b)
	clock = clock.Add(time.Second)
	c.Set(1, "1.4", a)
	c.Set(1, "1.4", a)
	assert.Equal(t, 2, c.Size())

	c.Set(3, "1.4", d)
	assert.Equal(t, 2, c.Size())
	_, ok := c.Get(2, "1.4")
	assert.False(t, ok, "earliest expiring entry is evicted")
	got, ok := c.Get(3, "1.4")
	require.True(t, ok)
	assert.Same(t, d, got)

	// 语料库版本变化后旧条目全部作废
	_, ok = c.Get(1, "1.5")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())

	c.Set(1, "1.5", a)
	clock = clock.Add(2 * time.Minute)
	_, ok = c.Get(1, "1.5")
	assert.False(t, ok, "expired")

	c.Set(2, "1.5", b)
	c.Forget(2)
	_, ok = c.Get(2, "1.5")
	assert.False(t, ok)

	c.Set(2, "1.5", b)
	c.Reset()
	assert.Equal(t, 0, c.Size())

	disabled := NewPreviewCache(0, time.Minute)
	disabled.Set(1, "1.5", a)
	assert.Equal(t, 0, disabled.Size())
}

func TestRetryTransientOnly(t *testing.T) {
	ctx := context.Background()
	cfg := config.Retry{MaxTries: 3, InitialMs: 1}

	calls := 0
	v, err := retry(ctx, cfg, logger.Nop(), "test", func() (int, error) {
		calls++
		if calls < 3 {
			return 0, &errs.ExternalProviderError{Provider: "postgis", Transient: true, Err: context.DeadlineExceeded}
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = retry(ctx, cfg, logger.Nop(), "test", func() (int, error) {
		calls++
		return 0, errs.Input("bad", nil)
	})
	assert.True(t, errs.IsInput(err))
	assert.Equal(t, 1, calls)
}

func TestRunSafeRecoversPanic(t *testing.T) {
	_, err := runSafe(context.Background(), logger.Nop(), func(context.Context) (int, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
