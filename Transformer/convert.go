package Transformer

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/GrainArc/GeoClassify/detector"
	"github.com/GrainArc/GeoClassify/errs"
	"github.com/GrainArc/GeoClassify/spatial"
	"github.com/mholt/archiver/v3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// 支持的坐标系
const (
	CRSWGS84    = "4326"
	CRSMercator = "3857"
)

// mercatorExtent EPSG:3857 的坐标范围
const mercatorExtent = 20037508.342789244

// Dataset 转换结果
type Dataset struct {
	Name string
	// CRS 源文件坐标系，Features 已统一为 EPSG:3857
	CRS      string
	Features []spatial.Feature
	// Columns 源文件声明的列，为 nil 时按属性值推断
	Columns []detector.Column
}

// FeatureSet 拆分多部件几何并编号
func (d *Dataset) FeatureSet() (*spatial.FeatureSet, error) {
	return spatial.NewFeatureSet(d.Features)
}

// Rows 候选 fid 对应的属性
func Rows(set *spatial.FeatureSet) map[uint64]map[string]interface{} {
	out := make(map[uint64]map[string]interface{}, len(set.Features))
	for _, f := range set.Features {
		out[f.FID] = f.Properties
	}
	return out
}

// ColumnsFor 列定义，源文件未声明时从属性推断
func (d *Dataset) ColumnsFor(rows map[uint64]map[string]interface{}) []detector.Column {
	if d.Columns != nil {
		return d.Columns
	}
	return detector.InferColumns(rows)
}

// Supported 可直接读取的扩展名
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json", ".shp", ".kml":
		return true
	}
	return IsArchive(path)
}

// IsArchive 是否压缩包
func IsArchive(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range []string{".zip", ".rar", ".tar", ".tar.gz", ".tgz", ".7z"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Convert 读取文件并投影到 EPSG:3857，压缩包解压到同名目录后读取其中第一个可识别的数据文件
func Convert(path string) (*Dataset, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	var (
		ds  *Dataset
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case ext == ".geojson" || ext == ".json":
		ds, err = ReadGeoJSON(path)
	case ext == ".shp":
		ds, err = ReadShapefile(path)
	case ext == ".kml":
		ds, err = ReadKML(path)
	case IsArchive(path):
		return convertArchive(path)
	default:
		return nil, errs.Input(fmt.Sprintf("unsupported file format %q", ext), nil)
	}
	if err != nil {
		return nil, err
	}
	if err := ds.toMercator(); err != nil {
		return nil, err
	}
	return ds, nil
}

func convertArchive(path string) (*Dataset, error) {
	dest, err := Unpack(path)
	if err != nil {
		return nil, err
	}
	for _, ext := range []string{"shp", "geojson", "json", "kml"} {
		if files := FindFiles(dest, ext); len(files) > 0 {
			return Convert(files[0])
		}
	}
	return nil, errs.Input(fmt.Sprintf("archive %s contains no supported data file", filepath.Base(path)), nil)
}

// Unpack 解压到与压缩包同名的目录
func Unpack(path string) (string, error) {
	base := filepath.Base(path)
	name := base
	for _, ext := range []string{".tar.gz", filepath.Ext(base)} {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			name = name[:len(name)-len(ext)]
			break
		}
	}
	dest := filepath.Join(filepath.Dir(path), name)
	if err := os.MkdirAll(dest, os.ModePerm); err != nil {
		return "", err
	}
	if err := archiver.Unarchive(path, dest); err != nil {
		if strings.Contains(err.Error(), "file already exists") {
			return dest, nil
		}
		return "", errs.Permanent("archive", fmt.Errorf("unpack %s: %w", base, err))
	}
	return dest, nil
}

// FindFiles 递归查找指定扩展名的文件，按路径排序
func FindFiles(root string, ext string) []string {
	var files []string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(strings.ToLower(info.Name()), "."+ext) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files
}

func (d *Dataset) toMercator() error {
	switch d.CRS {
	case CRSMercator:
		return nil
	case CRSWGS84:
		for i := range d.Features {
			d.Features[i].Geometry = project.Geometry(orb.Clone(d.Features[i].Geometry), project.WGS84.ToMercator)
		}
		d.CRS = CRSMercator
		return nil
	}
	return errs.Permanent("transformer", fmt.Errorf("unsupported coordinate system %q", d.CRS))
}

// sample 取几何的若干顶点用于坐标系判断
func sample(g orb.Geometry) []orb.Point {
	var out []orb.Point
	switch g := g.(type) {
	case orb.Point:
		out = append(out, g)
	case orb.MultiPoint:
		out = append(out, g...)
	case orb.LineString:
		out = append(out, g...)
	case orb.MultiLineString:
		for _, ls := range g {
			out = append(out, ls...)
		}
	case orb.Ring:
		out = append(out, g...)
	case orb.Polygon:
		for _, r := range g {
			out = append(out, r...)
		}
	case orb.MultiPolygon:
		for _, p := range g {
			out = append(out, sample(p)...)
		}
	case orb.Collection:
		for _, sub := range g {
			out = append(out, sample(sub)...)
		}
	}
	if len(out) > 16 {
		out = out[:16]
	}
	return out
}

// guessCRS 没有坐标系声明时按坐标范围判断：经纬度范围内为 WGS84，墨卡托范围内为 3857
func guessCRS(points []orb.Point) (string, error) {
	if len(points) == 0 {
		return CRSWGS84, nil
	}
	lonlat := true
	for _, p := range points {
		if math.Abs(p[0]) > 180 || math.Abs(p[1]) > 90 {
			lonlat = false
		}
		if math.Abs(p[0]) > mercatorExtent || math.Abs(p[1]) > mercatorExtent {
			return "", errs.Permanent("transformer", fmt.Errorf("coordinates %v outside of supported coordinate systems", p))
		}
	}
	if lonlat {
		return CRSWGS84, nil
	}
	return CRSMercator, nil
}

// crsFromName 解析 EPSG/OGC 名称
func crsFromName(name string) string {
	n := strings.ToUpper(name)
	switch {
	case strings.Contains(n, "CRS84"), strings.HasSuffix(n, ":4326"), strings.HasSuffix(n, "::4326"):
		return CRSWGS84
	case strings.HasSuffix(n, ":3857"), strings.HasSuffix(n, "::3857"), strings.HasSuffix(n, ":900913"):
		return CRSMercator
	}
	return ""
}

// crsFromPRJ 解析 .prj 中的 WKT，没有 .prj 时按坐标范围判断
func crsFromPRJ(prj string, points []orb.Point) (string, error) {
	if prj == "" {
		return guessCRS(points)
	}
	u := strings.ToUpper(prj)
	switch {
	case strings.Contains(u, "MERCATOR_AUXILIARY_SPHERE"),
		strings.Contains(u, "PSEUDO-MERCATOR"),
		strings.Contains(u, "PSEUDO_MERCATOR"),
		strings.Contains(u, "WEB_MERCATOR"),
		strings.Contains(u, "POPULAR VISUALISATION"):
		return CRSMercator, nil
	case strings.HasPrefix(u, "GEOGCS") && (strings.Contains(u, "WGS_1984") || strings.Contains(u, "WGS 84") || strings.Contains(u, "GRS_1980") || strings.Contains(u, "ETRS")):
		return CRSWGS84, nil
	}
	return "", errs.Permanent("shapefile", fmt.Errorf("unsupported coordinate system in .prj: %.60s", prj))
}
