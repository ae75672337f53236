package pipeline

import (
	"github.com/GrainArc/GeoClassify/spatial"
	"github.com/paulmach/orb"
)

// maxBBoxFeatures 超过该数量的文件不再视为范围框文件
const maxBBoxFeatures = 10

// IsBBox 文件是否只包含少量轴对齐矩形（服务范围框，而不是专题数据）
func IsBBox(set *spatial.FeatureSet) bool {
	if set == nil || set.Type != spatial.Polygon || len(set.Features) == 0 || len(set.Features) > maxBBoxFeatures {
		return false
	}
	for _, f := range set.Features {
		poly, ok := f.Geometry.(orb.Polygon)
		if !ok || !isRectangle(poly) {
			return false
		}
	}
	return true
}

func isRectangle(poly orb.Polygon) bool {
	if len(poly) != 1 || len(poly[0]) != 5 {
		return false
	}
	ring := poly[0]
	if !ring[0].Equal(ring[4]) {
		return false
	}
	xs := map[float64]struct{}{}
	ys := map[float64]struct{}{}
	for _, p := range ring {
		xs[p[0]] = struct{}{}
		ys[p[1]] = struct{}{}
	}
	return len(xs) == 2 && len(ys) == 2
}
