// Package spatial 空间谓词与候选/规范几何的基础类型
package spatial

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/paulmach/orb"
)

// GeomType 单一几何类型
type GeomType string

const (
	Point   GeomType = "POINT"
	Line    GeomType = "LINESTRING"
	Polygon GeomType = "POLYGON"
)

// NormalizeGeomType 将 MULTI*/CURVE 等类型归并为三种单一类型，无法识别返回空串
func NormalizeGeomType(name string) GeomType {
	s := strings.ToUpper(strings.TrimSpace(name))
	s = strings.TrimPrefix(s, "ST_")
	s = strings.TrimPrefix(s, "MULTI")
	switch s {
	case "POINT":
		return Point
	case "LINESTRING", "LINE", "CURVE", "COMPOUNDCURVE", "CIRCULARSTRING":
		return Line
	case "POLYGON", "SURFACE", "CURVEPOLYGON":
		return Polygon
	}
	return ""
}

// TypeOf orb 几何对应的单一类型
func TypeOf(g orb.Geometry) GeomType {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return Point
	case orb.LineString, orb.MultiLineString:
		return Line
	case orb.Polygon, orb.MultiPolygon, orb.Ring, orb.Bound:
		return Polygon
	}
	return ""
}

// Feature 候选要素，FID 只在一次入库的候选集内唯一
type Feature struct {
	FID        uint64
	Geometry   orb.Geometry
	Properties map[string]interface{}
}

// FeatureSet 一次入库的候选集，所有要素同一类型
type FeatureSet struct {
	Type     GeomType
	Features []Feature
}

// FIDs 候选 fid 列表
func (s *FeatureSet) FIDs() []uint64 {
	out := make([]uint64, 0, len(s.Features))
	for _, f := range s.Features {
		out = append(out, f.FID)
	}
	return out
}

// Geometries 候选几何列表
func (s *FeatureSet) Geometries() []orb.Geometry {
	out := make([]orb.Geometry, 0, len(s.Features))
	for _, f := range s.Features {
		out = append(out, f.Geometry)
	}
	return out
}

// Canonical 库内规范几何（未被替代的版本）
type Canonical struct {
	ID           uint
	CollectionID uint
	SourceID     uint
	FID          uint64
	Geometry     orb.Geometry
}

// Scope 谓词查询范围，CollectionID 为 0 表示同类型的全部集合
type Scope struct {
	Type         GeomType
	CollectionID uint
}

// Closed 是否限定在单个集合内
func (s Scope) Closed() bool { return s.CollectionID != 0 }

// Radii 各类型的缓冲半径
type Radii struct {
	Point   float64
	Line    float64
	Polygon float64
}

// For 取对应类型的半径
func (r Radii) For(t GeomType) float64 {
	switch t {
	case Point:
		return r.Point
	case Line:
		return r.Line
	case Polygon:
		return r.Polygon
	}
	return 0
}

// UniformRadii 所有类型使用同一半径，用于相似匹配
func UniformRadii(r float64) Radii {
	return Radii{Point: r, Line: r, Polygon: r}
}

// Corpus 规范几何库的只读视图
type Corpus interface {
	// Live 返回范围内所有未被替代的规范几何
	Live(ctx context.Context, scope Scope) ([]Canonical, error)
	// LiveCount 集合内未被替代的规范几何数量
	LiveCount(ctx context.Context, collectionID uint) (int64, error)
}

// MemoryCorpus 内存实现，用于预览与测试
type MemoryCorpus struct {
	mu    sync.RWMutex
	items []Canonical
	types map[uint]GeomType
}

// NewMemoryCorpus 创建内存库
func NewMemoryCorpus() *MemoryCorpus {
	return &MemoryCorpus{types: make(map[uint]GeomType)}
}

// Add 添加规范几何，集合类型取第一个几何的类型
func (m *MemoryCorpus) Add(items ...Canonical) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range items {
		if _, ok := m.types[c.CollectionID]; !ok {
			m.types[c.CollectionID] = TypeOf(c.Geometry)
		}
		m.items = append(m.items, c)
	}
}

// Supersede 替代指定 id 的几何
func (m *MemoryCorpus) Supersede(id uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.items {
		if c.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return
		}
	}
}

func (m *MemoryCorpus) Live(_ context.Context, scope Scope) ([]Canonical, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Canonical
	for _, c := range m.items {
		if scope.Closed() && c.CollectionID != scope.CollectionID {
			continue
		}
		if m.types[c.CollectionID] != scope.Type {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryCorpus) LiveCount(_ context.Context, collectionID uint) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, c := range m.items {
		if c.CollectionID == collectionID {
			n++
		}
	}
	return n, nil
}
