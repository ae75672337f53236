package spatial

import (
	"context"
	"math"

	"github.com/GrainArc/GeoClassify/errs"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Provider 空间谓词计算，所有几何均为 EPSG:3857
type Provider interface {
	// Distance 两个几何的最小距离，相交为 0
	Distance(ctx context.Context, a, b orb.Geometry) (float64, error)
	// WithinBuffer a 是否完全落在 b 按 radius 外扩后的缓冲区内
	WithinBuffer(ctx context.Context, a, b orb.Geometry, radius float64) (bool, error)
	// Hausdorff 豪斯多夫距离
	Hausdorff(ctx context.Context, a, b orb.Geometry) (float64, error)
	// DiffRatio a 中不与 b 重合部分占 a 的百分比（面按面积，线按长度）
	DiffRatio(ctx context.Context, a, b orb.Geometry) (float64, error)
	// Envelope 外包框与质心
	Envelope(ctx context.Context, geoms []orb.Geometry) (orb.Bound, orb.Point, error)
}

// PlanarProvider 基于 orb 的平面计算，无需数据库
type PlanarProvider struct {
	// Step 线与环的加密步长
	Step float64
	// Samples 差异比例的采样密度
	Samples int
	// Epsilon 视为重合的距离
	Epsilon float64
}

// NewPlanarProvider 默认参数的平面计算
func NewPlanarProvider() *PlanarProvider {
	return &PlanarProvider{Step: 5, Samples: 64, Epsilon: 1e-6}
}

func (p *PlanarProvider) Distance(_ context.Context, a, b orb.Geometry) (float64, error) {
	if a == nil || b == nil {
		return 0, errs.Input("nil geometry", nil)
	}
	if ap, ok := a.(orb.Point); ok {
		return p.snap(distanceTo(b, ap)), nil
	}
	if bp, ok := b.(orb.Point); ok {
		return p.snap(distanceTo(a, bp)), nil
	}
	if segmentsCross(a, b) {
		return 0, nil
	}
	best := math.Inf(1)
	for _, v := range vertices(a, 0) {
		best = math.Min(best, distanceTo(b, v))
	}
	for _, v := range vertices(b, 0) {
		best = math.Min(best, distanceTo(a, v))
	}
	return p.snap(best), nil
}

func (p *PlanarProvider) WithinBuffer(_ context.Context, a, b orb.Geometry, radius float64) (bool, error) {
	if a == nil || b == nil {
		return false, errs.Input("nil geometry", nil)
	}
	if !a.Bound().Intersects(b.Bound().Pad(radius)) {
		return false, nil
	}
	for _, v := range vertices(a, p.step(a)) {
		if distanceTo(b, v) > radius {
			return false, nil
		}
	}
	return true, nil
}

func (p *PlanarProvider) Hausdorff(_ context.Context, a, b orb.Geometry) (float64, error) {
	if a == nil || b == nil {
		return 0, errs.Input("nil geometry", nil)
	}
	return math.Max(p.directed(a, b), p.directed(b, a)), nil
}

func (p *PlanarProvider) DiffRatio(_ context.Context, a, b orb.Geometry) (float64, error) {
	if a == nil || b == nil {
		return 0, errs.Input("nil geometry", nil)
	}
	switch TypeOf(a) {
	case Point:
		for _, v := range vertices(a, 0) {
			if distanceTo(b, v) > p.Epsilon {
				return 100, nil
			}
		}
		return 0, nil
	case Line:
		samples := vertices(a, planar.Length(a)/float64(p.samples()))
		if len(samples) == 0 {
			return 0, nil
		}
		far := 0
		for _, v := range samples {
			if distanceTo(b, v) > p.Epsilon {
				far++
			}
		}
		return float64(far) / float64(len(samples)) * 100, nil
	case Polygon:
		bound := a.Bound()
		n := p.samples()
		dx := (bound.Max[0] - bound.Min[0]) / float64(n)
		dy := (bound.Max[1] - bound.Min[1]) / float64(n)
		inside, shared := 0, 0
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				pt := orb.Point{bound.Min[0] + (float64(i)+0.5)*dx, bound.Min[1] + (float64(j)+0.5)*dy}
				if !contains(a, pt) {
					continue
				}
				inside++
				if contains(b, pt) {
					shared++
				}
			}
		}
		if inside == 0 {
			return 0, nil
		}
		return float64(inside-shared) / float64(inside) * 100, nil
	}
	return 0, errs.Input("unsupported geometry type", nil)
}

func (p *PlanarProvider) Envelope(_ context.Context, geoms []orb.Geometry) (orb.Bound, orb.Point, error) {
	if len(geoms) == 0 {
		return orb.Bound{}, orb.Point{}, errs.Input("empty geometry set", nil)
	}
	bound := geoms[0].Bound()
	for _, g := range geoms[1:] {
		bound = bound.Union(g.Bound())
	}
	centroid, _ := planar.CentroidArea(orb.Collection(geoms))
	return bound, centroid, nil
}

func (p *PlanarProvider) directed(a, b orb.Geometry) float64 {
	worst := 0.0
	for _, v := range vertices(a, p.step(a)) {
		worst = math.Max(worst, p.snap(planar.DistanceFrom(b, v)))
	}
	return worst
}

// snap 不超过 Epsilon 的距离按重合处理，消除加密点的浮点误差
func (p *PlanarProvider) snap(d float64) float64 {
	if d <= p.Epsilon {
		return 0
	}
	return d
}

// step 加密步长，限制单个几何的采样点数量
func (p *PlanarProvider) step(g orb.Geometry) float64 {
	if p.Step <= 0 {
		return 0
	}
	return math.Max(p.Step, planar.Length(g)/256)
}

func (p *PlanarProvider) samples() int {
	if p.Samples <= 0 {
		return 64
	}
	return p.Samples
}

// distanceTo 点到几何的距离，落在面内为 0
func distanceTo(g orb.Geometry, pt orb.Point) float64 {
	if contains(g, pt) {
		return 0
	}
	return planar.DistanceFrom(g, pt)
}

func contains(g orb.Geometry, pt orb.Point) bool {
	switch g := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, pt)
	case orb.Bound:
		return g.Contains(pt)
	case orb.Collection:
		for _, sub := range g {
			if contains(sub, pt) {
				return true
			}
		}
	}
	return false
}

// vertices 几何的顶点，step>0 时按步长加密
func vertices(g orb.Geometry, step float64) []orb.Point {
	switch g := g.(type) {
	case orb.Point:
		return []orb.Point{g}
	case orb.MultiPoint:
		return append([]orb.Point(nil), g...)
	case orb.LineString:
		return densify(g, step)
	case orb.Ring:
		return densify(orb.LineString(g), step)
	case orb.MultiLineString:
		var out []orb.Point
		for _, ls := range g {
			out = append(out, densify(ls, step)...)
		}
		return out
	case orb.Polygon:
		var out []orb.Point
		for _, r := range g {
			out = append(out, densify(orb.LineString(r), step)...)
		}
		return out
	case orb.MultiPolygon:
		var out []orb.Point
		for _, poly := range g {
			out = append(out, vertices(poly, step)...)
		}
		return out
	case orb.Collection:
		var out []orb.Point
		for _, sub := range g {
			out = append(out, vertices(sub, step)...)
		}
		return out
	case orb.Bound:
		return vertices(g.ToPolygon(), step)
	}
	return nil
}

func densify(ls orb.LineString, step float64) []orb.Point {
	if len(ls) == 0 {
		return nil
	}
	out := []orb.Point{ls[0]}
	for i := 1; i < len(ls); i++ {
		a, b := ls[i-1], ls[i]
		if step > 0 {
			d := planar.Distance(a, b)
			n := int(d / step)
			for k := 1; k <= n; k++ {
				t := float64(k) / float64(n+1)
				out = append(out, orb.Point{a[0] + (b[0]-a[0])*t, a[1] + (b[1]-a[1])*t})
			}
		}
		out = append(out, b)
	}
	return out
}

func segments(g orb.Geometry) [][2]orb.Point {
	var out [][2]orb.Point
	add := func(ls []orb.Point) {
		for i := 1; i < len(ls); i++ {
			out = append(out, [2]orb.Point{ls[i-1], ls[i]})
		}
	}
	switch g := g.(type) {
	case orb.LineString:
		add(g)
	case orb.Ring:
		add(g)
	case orb.MultiLineString:
		for _, ls := range g {
			add(ls)
		}
	case orb.Polygon:
		for _, r := range g {
			add(r)
		}
	case orb.MultiPolygon:
		for _, poly := range g {
			for _, r := range poly {
				add(r)
			}
		}
	case orb.Collection:
		for _, sub := range g {
			out = append(out, segments(sub)...)
		}
	}
	return out
}

// segmentsCross 两个几何是否相交（含包含关系）
func segmentsCross(a, b orb.Geometry) bool {
	if !a.Bound().Intersects(b.Bound()) {
		return false
	}
	for _, v := range vertices(a, 0) {
		if contains(b, v) {
			return true
		}
	}
	for _, v := range vertices(b, 0) {
		if contains(a, v) {
			return true
		}
	}
	sb := segments(b)
	for _, s1 := range segments(a) {
		for _, s2 := range sb {
			if segmentIntersects(s1[0], s1[1], s2[0], s2[1]) {
				return true
			}
		}
	}
	return false
}

func segmentIntersects(p1, p2, p3, p4 orb.Point) bool {
	d1 := cross(p3, p4, p1)
	d2 := cross(p3, p4, p2)
	d3 := cross(p1, p2, p3)
	d4 := cross(p1, p2, p4)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment(p3, p4, p1)) || (d2 == 0 && onSegment(p3, p4, p2)) ||
		(d3 == 0 && onSegment(p1, p2, p3)) || (d4 == 0 && onSegment(p1, p2, p4))
}

func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p orb.Point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}
