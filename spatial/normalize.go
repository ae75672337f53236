package spatial

import (
	"errors"
	"fmt"

	"github.com/GrainArc/GeoClassify/errs"
	"github.com/paulmach/orb"
)

// ErrNoGeometry 候选集中没有可用的几何
var ErrNoGeometry = errors.New("no geometry")

// Explode 将多部件几何拆为单部件，属性复制到每个部件，空几何被丢弃
func Explode(g orb.Geometry) []orb.Geometry {
	switch g := g.(type) {
	case nil:
		return nil
	case orb.Point:
		return []orb.Geometry{g}
	case orb.MultiPoint:
		out := make([]orb.Geometry, 0, len(g))
		for _, p := range g {
			out = append(out, p)
		}
		return out
	case orb.LineString:
		if len(g) < 2 {
			return nil
		}
		return []orb.Geometry{g}
	case orb.MultiLineString:
		var out []orb.Geometry
		for _, ls := range g {
			out = append(out, Explode(ls)...)
		}
		return out
	case orb.Ring:
		return Explode(orb.Polygon{g})
	case orb.Polygon:
		if len(g) == 0 || len(g[0]) < 4 {
			return nil
		}
		return []orb.Geometry{g}
	case orb.MultiPolygon:
		var out []orb.Geometry
		for _, p := range g {
			out = append(out, Explode(p)...)
		}
		return out
	case orb.Collection:
		var out []orb.Geometry
		for _, sub := range g {
			out = append(out, Explode(sub)...)
		}
		return out
	case orb.Bound:
		return []orb.Geometry{g.ToPolygon()}
	}
	return nil
}

// NewFeatureSet 拆分多部件几何并按顺序重新编号 fid，要求所有要素为同一类型
func NewFeatureSet(features []Feature) (*FeatureSet, error) {
	set := &FeatureSet{}
	var fid uint64
	for _, f := range features {
		for _, part := range Explode(f.Geometry) {
			t := TypeOf(part)
			if set.Type == "" {
				set.Type = t
			} else if set.Type != t {
				return nil, errs.Input(fmt.Sprintf("mixed geometry types %s and %s", set.Type, t), nil)
			}
			fid++
			set.Features = append(set.Features, Feature{FID: fid, Geometry: part, Properties: f.Properties})
		}
	}
	if len(set.Features) == 0 {
		return nil, errs.Input("empty candidate set", ErrNoGeometry)
	}
	return set, nil
}
