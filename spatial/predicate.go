package spatial

import (
	"context"
	"fmt"

	"github.com/GrainArc/GeoClassify/errs"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"
	"golang.org/x/sync/errgroup"
)

// Hit 一个候选要素命中的规范要素
type Hit struct {
	CandidateFID uint64
	Canonical    Canonical
	// Distance 点为距离，线面为豪斯多夫距离
	Distance float64
	// TargetDiff 规范要素未被候选覆盖的百分比，仅限定集合时计算
	TargetDiff float64
	// SourceDiff 候选要素未被规范要素覆盖的百分比，仅限定集合时计算
	SourceDiff float64
}

// Predicate 按几何类型区分的匹配谓词
type Predicate interface {
	Type() GeomType
	// Match 为每个候选要素返回范围内最近的一个规范要素，没有命中的候选不出现在结果中
	Match(ctx context.Context, candidates []Feature, scope Scope) ([]Hit, error)
}

// NewPredicate 创建对应类型的谓词
func NewPredicate(t GeomType, provider Provider, corpus Corpus, radius float64, workers int) (Predicate, error) {
	if workers <= 0 {
		workers = 1
	}
	base := predicateBase{provider: provider, corpus: corpus, radius: radius, workers: workers}
	switch t {
	case Point:
		return &PointPredicate{predicateBase: base}, nil
	case Line:
		return &LinePredicate{shapePredicate{predicateBase: base, geomType: Line}}, nil
	case Polygon:
		return &PolygonPredicate{shapePredicate{predicateBase: base, geomType: Polygon}}, nil
	}
	return nil, errs.Input(fmt.Sprintf("unsupported geometry type %q", t), nil)
}

type predicateBase struct {
	provider Provider
	corpus   Corpus
	radius   float64
	workers  int
}

// each 并发处理每个候选要素，结果与候选顺序一致
func (b *predicateBase) each(ctx context.Context, candidates []Feature, t GeomType, fn func(ctx context.Context, c Feature) (*Hit, error)) ([]Hit, error) {
	for _, c := range candidates {
		if c.Geometry == nil || TypeOf(c.Geometry) != t {
			return nil, errs.Input(fmt.Sprintf("candidate %d is not a %s", c.FID, t), nil)
		}
	}
	results := make([]*Hit, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i := range candidates {
		i := i
		g.Go(func() error {
			h, err := fn(gctx, candidates[i])
			if err != nil {
				return err
			}
			results[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, h := range results {
		if h != nil {
			hits = append(hits, *h)
		}
	}
	return hits, nil
}

// better 距离优先，其次来源 id、规范 id 较小者
func better(h Hit, cur *Hit) bool {
	if cur == nil {
		return true
	}
	if h.Distance != cur.Distance {
		return h.Distance < cur.Distance
	}
	if h.Canonical.SourceID != cur.Canonical.SourceID {
		return h.Canonical.SourceID < cur.Canonical.SourceID
	}
	return h.Canonical.ID < cur.Canonical.ID
}

// PointPredicate 阈值内最近的规范点
type PointPredicate struct {
	predicateBase
}

func (p *PointPredicate) Type() GeomType { return Point }

type pointEntry struct {
	canonical Canonical
	point     orb.Point
}

func (e pointEntry) Point() orb.Point { return e.point }

func (p *PointPredicate) Match(ctx context.Context, candidates []Feature, scope Scope) ([]Hit, error) {
	scope.Type = Point
	live, err := p.corpus.Live(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load live points: %w", err)
	}
	if len(live) == 0 {
		return nil, nil
	}
	bound := live[0].Geometry.Bound()
	for _, c := range live[1:] {
		bound = bound.Union(c.Geometry.Bound())
	}
	qt := quadtree.New(bound.Pad(1))
	for _, c := range live {
		pt, ok := c.Geometry.(orb.Point)
		if !ok {
			continue
		}
		if err := qt.Add(pointEntry{canonical: c, point: pt}); err != nil {
			return nil, fmt.Errorf("index point %d: %w", c.ID, err)
		}
	}

	return p.each(ctx, candidates, Point, func(ctx context.Context, c Feature) (*Hit, error) {
		pt := c.Geometry.(orb.Point)
		near := qt.InBound(nil, orb.Bound{Min: pt, Max: pt}.Pad(p.radius))
		var best *Hit
		for _, n := range near {
			entry := n.(pointEntry)
			d, err := p.provider.Distance(ctx, pt, entry.point)
			if err != nil {
				return nil, err
			}
			if d > p.radius {
				continue
			}
			h := Hit{CandidateFID: c.FID, Canonical: entry.canonical, Distance: d}
			if better(h, best) {
				best = &h
			}
		}
		return best, nil
	})
}

// shapePredicate 线与面共用：双向缓冲包含，按豪斯多夫距离取最近
type shapePredicate struct {
	predicateBase
	geomType GeomType
}

func (s *shapePredicate) Type() GeomType { return s.geomType }

func (s *shapePredicate) Match(ctx context.Context, candidates []Feature, scope Scope) ([]Hit, error) {
	scope.Type = s.geomType
	live, err := s.corpus.Live(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load live %s: %w", s.geomType, err)
	}
	if len(live) == 0 {
		return nil, nil
	}
	bounds := make([]orb.Bound, len(live))
	for i, c := range live {
		bounds[i] = c.Geometry.Bound()
	}

	return s.each(ctx, candidates, s.geomType, func(ctx context.Context, c Feature) (*Hit, error) {
		search := c.Geometry.Bound().Pad(s.radius)
		var best *Hit
		for i, can := range live {
			if !bounds[i].Intersects(search) {
				continue
			}
			inside, err := s.provider.WithinBuffer(ctx, c.Geometry, can.Geometry, s.radius)
			if err != nil {
				return nil, err
			}
			if !inside {
				continue
			}
			reverse, err := s.provider.WithinBuffer(ctx, can.Geometry, c.Geometry, s.radius)
			if err != nil {
				return nil, err
			}
			if !reverse {
				continue
			}
			d, err := s.provider.Hausdorff(ctx, c.Geometry, can.Geometry)
			if err != nil {
				return nil, err
			}
			h := Hit{CandidateFID: c.FID, Canonical: can, Distance: d}
			if better(h, best) {
				best = &h
			}
		}
		if best == nil || !scope.Closed() {
			return best, nil
		}
		var err error
		if best.TargetDiff, err = s.provider.DiffRatio(ctx, best.Canonical.Geometry, c.Geometry); err != nil {
			return nil, err
		}
		if best.SourceDiff, err = s.provider.DiffRatio(ctx, c.Geometry, best.Canonical.Geometry); err != nil {
			return nil, err
		}
		return best, nil
	})
}

// LinePredicate 线匹配
type LinePredicate struct {
	shapePredicate
}

// PolygonPredicate 面匹配
type PolygonPredicate struct {
	shapePredicate
}
