package Transformer

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/GrainArc/GeoClassify/Transformer/KmlGeo"
	"github.com/GrainArc/GeoClassify/errs"
	"github.com/GrainArc/GeoClassify/spatial"
	"github.com/paulmach/orb"
)

type Kml struct {
	XMLName  xml.Name `xml:"kml"`
	Document Document `xml:"Document"`
}

type Document struct {
	Name      string      `xml:"name"`
	Folder    []Folder    `xml:"Folder"`
	Placemark []Placemark `xml:"Placemark"`
}

type Folder struct {
	ID        string      `xml:"id,attr"`
	Name      string      `xml:"name"`
	Folder    []Folder    `xml:"Folder"`
	Placemark []Placemark `xml:"Placemark"`
}

type Placemark struct {
	ID            string                `xml:"id,attr"`
	Name          string                `xml:"name"`
	Description   string                `xml:"description"`
	ExtendedData  ExtendedData          `xml:"ExtendedData"`
	LineString    *KmlGeo.LineString    `xml:"LineString"`
	Point         *KmlGeo.Point         `xml:"Point"`
	Polygon       *KmlGeo.Polygon       `xml:"Polygon"`
	MultiGeometry *KmlGeo.MultiGeometry `xml:"MultiGeometry"`
}

type ExtendedData struct {
	SchemaData SchemaData `xml:"SchemaData"`
	Data       []Data     `xml:"Data"`
}

type SchemaData struct {
	SimpleData []SimpleData `xml:"SimpleData"`
}

type SimpleData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type Data struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

// StringToCoords 解析 KML 坐标串 "x,y[,z] x,y[,z] ..."
func StringToCoords(coords string) []orb.Point {
	var out []orb.Point
	for _, tuple := range strings.Fields(coords) {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			continue
		}
		x, errX := strconv.ParseFloat(parts[0], 64)
		y, errY := strconv.ParseFloat(parts[1], 64)
		if errX != nil || errY != nil {
			continue
		}
		out = append(out, orb.Point{x, y})
	}
	return out
}

func kmlPolygon(p *KmlGeo.Polygon) orb.Polygon {
	poly := orb.Polygon{orb.Ring(StringToCoords(p.Outer()))}
	for _, inner := range p.Inner() {
		poly = append(poly, orb.Ring(StringToCoords(inner)))
	}
	return poly
}

func kmlMulti(m *KmlGeo.MultiGeometry) orb.Collection {
	var out orb.Collection
	for i := range m.Polygons {
		out = append(out, kmlPolygon(&m.Polygons[i]))
	}
	for _, l := range m.LineString {
		out = append(out, orb.LineString(StringToCoords(l.Coordinates)))
	}
	for _, p := range m.Point {
		if pts := StringToCoords(p.Coordinates); len(pts) > 0 {
			out = append(out, pts[0])
		}
	}
	for i := range m.MultiGeometry {
		out = append(out, kmlMulti(&m.MultiGeometry[i])...)
	}
	return out
}

func placemarkGeometry(pm *Placemark) orb.Geometry {
	switch {
	case pm.Point != nil:
		if pts := StringToCoords(pm.Point.Coordinates); len(pts) > 0 {
			return pts[0]
		}
	case pm.LineString != nil:
		return orb.LineString(StringToCoords(pm.LineString.Coordinates))
	case pm.Polygon != nil:
		return kmlPolygon(pm.Polygon)
	case pm.MultiGeometry != nil:
		return kmlMulti(pm.MultiGeometry)
	}
	return nil
}

func placemarkProperties(pm *Placemark) map[string]interface{} {
	attrs := make(map[string]interface{})
	for _, d := range pm.ExtendedData.SchemaData.SimpleData {
		attrs[d.Name] = strings.TrimSpace(d.Value)
	}
	for _, d := range pm.ExtendedData.Data {
		attrs[d.Name] = strings.TrimSpace(d.Value)
	}
	if pm.Name != "" {
		attrs["kml_name"] = pm.Name
	}
	return attrs
}

func collectPlacemarks(folders []Folder, out []Placemark) []Placemark {
	for _, f := range folders {
		out = append(out, f.Placemark...)
		out = collectPlacemarks(f.Folder, out)
	}
	return out
}

// ReadKML 读取 KML，坐标固定为 WGS84
func ReadKML(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	var kml Kml
	if err := xml.Unmarshal(data, &kml); err != nil {
		return nil, errs.Permanent("kml", fmt.Errorf("decode %s: %w", filepath.Base(path), err))
	}

	placemarks := append([]Placemark(nil), kml.Document.Placemark...)
	placemarks = collectPlacemarks(kml.Document.Folder, placemarks)

	ds := &Dataset{Name: filepath.Base(path), CRS: CRSWGS84}
	for i := range placemarks {
		g := placemarkGeometry(&placemarks[i])
		if g == nil {
			continue
		}
		ds.Features = append(ds.Features, spatial.Feature{Geometry: g, Properties: placemarkProperties(&placemarks[i])})
	}
	return ds, nil
}
