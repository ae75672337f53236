package Transformer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GrainArc/GeoClassify/errs"
	"github.com/GrainArc/GeoClassify/spatial"
	jsoniter "github.com/json-iterator/go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func init() {
	// 属性中的数字保留原始十进制文本，供精度比较使用
	geojson.CustomJSONUnmarshaler = jsoniter.Config{
		EscapeHTML: true,
		UseNumber:  true,
	}.Froze()
}

// ReadGeoJSON 读取 GeoJSON，支持 FeatureCollection、单个 Feature 与裸几何
func ReadGeoJSON(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	fc, err := decodeGeoJSON(data)
	if err != nil {
		return nil, errs.Permanent("geojson", fmt.Errorf("decode %s: %w", filepath.Base(path), err))
	}

	ds := &Dataset{Name: filepath.Base(path)}
	var first []orb.Point
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		if len(first) < 64 {
			first = append(first, sample(f.Geometry)...)
		}
		ds.Features = append(ds.Features, spatial.Feature{Geometry: f.Geometry, Properties: map[string]interface{}(f.Properties)})
	}

	crs, err := crsFromGeoJSON(fc.ExtraMembers, first)
	if err != nil {
		return nil, err
	}
	ds.CRS = crs
	return ds, nil
}

func decodeGeoJSON(data []byte) (*geojson.FeatureCollection, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := jsoniter.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case "FeatureCollection":
		return geojson.UnmarshalFeatureCollection(data)
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, err
		}
		fc := geojson.NewFeatureCollection()
		fc.Append(f)
		return fc, nil
	case "":
		return nil, fmt.Errorf("missing type member")
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, err
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(g.Geometry()))
	return fc, nil
}

// crsFromGeoJSON 读取旧式 crs 成员，没有时按坐标范围判断
func crsFromGeoJSON(extra geojson.Properties, sample []orb.Point) (string, error) {
	raw, ok := extra["crs"].(map[string]interface{})
	if !ok {
		return guessCRS(sample)
	}
	props, _ := raw["properties"].(map[string]interface{})
	name, _ := props["name"].(string)
	if name == "" {
		return guessCRS(sample)
	}
	if crs := crsFromName(name); crs != "" {
		return crs, nil
	}
	return "", errs.Permanent("geojson", fmt.Errorf("unsupported coordinate system %q", strings.TrimSpace(name)))
}
