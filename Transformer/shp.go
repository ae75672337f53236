package Transformer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GrainArc/GeoClassify/detector"
	"github.com/GrainArc/GeoClassify/errs"
	"github.com/GrainArc/GeoClassify/spatial"
	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
)

// SplitPoints 按 parts 将点集切分为环或线段
func SplitPoints(points []shp.Point, parts []int32) [][]shp.Point {
	var out [][]shp.Point
	for i, start := range parts {
		end := int32(len(points))
		if i < len(parts)-1 {
			end = parts[i+1]
		}
		if start < 0 || start > end || end > int32(len(points)) {
			continue
		}
		out = append(out, points[start:end])
	}
	return out
}

// IsClockwise 环是否为顺时针，shapefile 中顺时针为外环
func IsClockwise(points []orb.Point) bool {
	sum := 0.0
	for i := 0; i < len(points)-1; i++ {
		p1 := points[i]
		p2 := points[i+1]
		sum += (p2[0] - p1[0]) * (p2[1] + p1[1])
	}
	return sum > 0
}

// splitParts 以外环为起点分组，其后的内环归入同一多边形；首个外环之前的内环被丢弃
func splitParts(outer []bool) [][]int {
	var result [][]int
	var current []int
	for i, isOuter := range outer {
		switch {
		case isOuter:
			if current != nil {
				result = append(result, current)
			}
			current = []int{i}
		case current != nil:
			current = append(current, i)
		}
	}
	if current != nil {
		result = append(result, current)
	}
	return result
}

func toOrb(points []shp.Point) []orb.Point {
	out := make([]orb.Point, len(points))
	for i, p := range points {
		out[i] = orb.Point{p.X, p.Y}
	}
	return out
}

func polygonGeometry(points []shp.Point, parts []int32) orb.MultiPolygon {
	rings := SplitPoints(points, parts)
	outer := make([]bool, len(rings))
	converted := make([]orb.Ring, len(rings))
	for i, r := range rings {
		converted[i] = orb.Ring(toOrb(r))
		outer[i] = IsClockwise(converted[i])
	}
	var mp orb.MultiPolygon
	for _, group := range splitParts(outer) {
		poly := make(orb.Polygon, 0, len(group))
		for _, i := range group {
			poly = append(poly, converted[i])
		}
		mp = append(mp, poly)
	}
	return mp
}

func lineGeometry(points []shp.Point, parts []int32) orb.MultiLineString {
	var mls orb.MultiLineString
	for _, part := range SplitPoints(points, parts) {
		mls = append(mls, orb.LineString(toOrb(part)))
	}
	return mls
}

func shapeGeometry(s shp.Shape) orb.Geometry {
	switch s := s.(type) {
	case *shp.Point:
		return orb.Point{s.X, s.Y}
	case *shp.PointZ:
		return orb.Point{s.X, s.Y}
	case *shp.PointM:
		return orb.Point{s.X, s.Y}
	case *shp.MultiPoint:
		return orb.MultiPoint(toOrb(s.Points))
	case *shp.MultiPointZ:
		return orb.MultiPoint(toOrb(s.Points))
	case *shp.MultiPointM:
		return orb.MultiPoint(toOrb(s.Points))
	case *shp.PolyLine:
		return lineGeometry(s.Points, s.Parts)
	case *shp.PolyLineZ:
		return lineGeometry(s.Points, s.Parts)
	case *shp.PolyLineM:
		return lineGeometry(s.Points, s.Parts)
	case *shp.Polygon:
		return polygonGeometry(s.Points, s.Parts)
	case *shp.PolygonZ:
		return polygonGeometry(s.Points, s.Parts)
	case *shp.PolygonM:
		return polygonGeometry(s.Points, s.Parts)
	}
	return nil
}

// readSidecar 读取与 shp 同名的附属文件（.cpg/.prj），不存在时返回空串
func readSidecar(shpPath, ext string) string {
	base := strings.TrimSuffix(shpPath, filepath.Ext(shpPath))
	for _, candidate := range []string{base + ext, base + strings.ToUpper(ext)} {
		if data, err := os.ReadFile(candidate); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

// shpColumn DBF 字段类型对应的列定义
func shpColumn(name string, f shp.Field) detector.Column {
	c := detector.Column{Name: name}
	switch f.Fieldtype {
	case 'N':
		c.SourceType = "numeric"
		c.Kind = detector.KindInt
		if f.Precision > 0 {
			c.Kind = detector.KindFloat
		}
	case 'F':
		c.SourceType = "float"
		c.Kind = detector.KindFloat
	case 'D':
		c.SourceType = "date"
		c.Kind = detector.KindText
	case 'L':
		c.SourceType = "logical"
		c.Kind = detector.KindText
	default:
		c.SourceType = "character"
		c.Kind = detector.KindText
	}
	return c
}

// attributeValue DBF 文本值转为属性值，数值保留原始十进制文本
func attributeValue(raw string, c detector.Column) interface{} {
	v := strings.TrimSpace(strings.Trim(raw, "\x00"))
	if v == "" || strings.Trim(v, "*") == "" {
		return nil
	}
	switch c.Kind {
	case detector.KindInt, detector.KindFloat:
		return json.Number(v)
	}
	return v
}

// ReadShapefile 读取 shapefile，属性按 .cpg 或自动检测的编码解码
func ReadShapefile(path string) (*Dataset, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, errs.Permanent("shapefile", fmt.Errorf("open %s: %w", filepath.Base(path), err))
	}
	defer reader.Close()

	dec := newTextDecoder(readSidecar(path, ".cpg"), path)
	fields := reader.Fields()
	columns := make([]detector.Column, len(fields))
	for i, f := range fields {
		columns[i] = shpColumn(dec.String(f.String()), f)
	}

	ds := &Dataset{Name: filepath.Base(path), Columns: columns}
	var first []orb.Point
	for reader.Next() {
		n, shape := reader.Shape()
		g := shapeGeometry(shape)
		if g == nil {
			continue
		}
		props := make(map[string]interface{}, len(fields))
		for k := range fields {
			raw := reader.ReadAttribute(n, k)
			if columns[k].Kind == detector.KindText {
				raw = dec.String(raw)
			}
			props[columns[k].Name] = attributeValue(raw, columns[k])
		}
		if len(first) < 64 {
			first = append(first, sample(g)...)
		}
		ds.Features = append(ds.Features, spatial.Feature{Geometry: g, Properties: props})
	}
	if err := reader.Err(); err != nil {
		return nil, errs.Permanent("shapefile", fmt.Errorf("read %s: %w", filepath.Base(path), err))
	}

	crs, err := crsFromPRJ(readSidecar(path, ".prj"), first)
	if err != nil {
		return nil, err
	}
	ds.CRS = crs
	return ds, nil
}
