package KmlGeo

import "encoding/xml"

type Polygon struct {
	XMLName         xml.Name          `xml:"Polygon"`
	OuterBoundaryIs outerBoundaryIs   `xml:"outerBoundaryIs"`
	InnerBoundaryIs []innerBoundaryIs `xml:"innerBoundaryIs"`
}
type outerBoundaryIs struct {
	LinearRing LinearRing `xml:"LinearRing"`
}
type innerBoundaryIs struct {
	LinearRing LinearRing `xml:"LinearRing"`
}
type LinearRing struct {
	Coordinates string `xml:"coordinates"`
}

// Outer 外环坐标串
func (p *Polygon) Outer() string {
	return p.OuterBoundaryIs.LinearRing.Coordinates
}

// Inner 内环坐标串
func (p *Polygon) Inner() []string {
	out := make([]string, 0, len(p.InnerBoundaryIs))
	for _, r := range p.InnerBoundaryIs {
		out = append(out, r.LinearRing.Coordinates)
	}
	return out
}

type LineString struct {
	XMLName     xml.Name `xml:"LineString"`
	Coordinates string   `xml:"coordinates"`
}

type Point struct {
	XMLName     xml.Name `xml:"Point"`
	Coordinates string   `xml:"coordinates"`
}
