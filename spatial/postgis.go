package spatial

import (
	"context"

	"github.com/GrainArc/GeoClassify/errs"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"gorm.io/gorm"
)

// PostGISProvider 通过 PostGIS 函数计算空间谓词
type PostGISProvider struct {
	db *gorm.DB
}

// NewPostGISProvider 创建 PostGIS 计算
func NewPostGISProvider(db *gorm.DB) *PostGISProvider {
	return &PostGISProvider{db: db}
}

func (p *PostGISProvider) Distance(ctx context.Context, a, b orb.Geometry) (float64, error) {
	var d float64
	sql := `SELECT ST_Distance(ST_GeomFromText(?, 3857), ST_GeomFromText(?, 3857))`
	if err := p.db.WithContext(ctx).Raw(sql, wkt.MarshalString(a), wkt.MarshalString(b)).Scan(&d).Error; err != nil {
		return 0, errs.External("postgis", err)
	}
	return d, nil
}

func (p *PostGISProvider) WithinBuffer(ctx context.Context, a, b orb.Geometry, radius float64) (bool, error) {
	var ok bool
	sql := `SELECT ST_Contains(ST_Buffer(ST_GeomFromText(?, 3857), ?), ST_GeomFromText(?, 3857))`
	if err := p.db.WithContext(ctx).Raw(sql, wkt.MarshalString(b), radius, wkt.MarshalString(a)).Scan(&ok).Error; err != nil {
		return false, errs.External("postgis", err)
	}
	return ok, nil
}

func (p *PostGISProvider) Hausdorff(ctx context.Context, a, b orb.Geometry) (float64, error) {
	var d float64
	sql := `SELECT ST_HausdorffDistance(ST_GeomFromText(?, 3857), ST_GeomFromText(?, 3857))`
	if err := p.db.WithContext(ctx).Raw(sql, wkt.MarshalString(a), wkt.MarshalString(b)).Scan(&d).Error; err != nil {
		return 0, errs.External("postgis", err)
	}
	return d, nil
}

func (p *PostGISProvider) DiffRatio(ctx context.Context, a, b orb.Geometry) (float64, error) {
	var ratio float64
	// 面按面积、线按长度计算 a 中不与 b 重合的部分
	sql := `
		WITH g AS (
			SELECT ST_GeomFromText(?, 3857) AS a, ST_GeomFromText(?, 3857) AS b
		)
		SELECT COALESCE(CASE
			WHEN ST_Dimension(a) = 2 THEN
				(ST_Area(a) - ST_Area(ST_Intersection(a, b))) / NULLIF(ST_Area(a), 0) * 100
			WHEN ST_Dimension(a) = 1 THEN
				ST_Length(ST_Difference(a, ST_Buffer(b, 0.01))) / NULLIF(ST_Length(a), 0) * 100
			ELSE
				CASE WHEN ST_Equals(a, b) THEN 0 ELSE 100 END
		END, 0)
		FROM g`
	if err := p.db.WithContext(ctx).Raw(sql, wkt.MarshalString(a), wkt.MarshalString(b)).Scan(&ratio).Error; err != nil {
		return 0, errs.External("postgis", err)
	}
	return ratio, nil
}

func (p *PostGISProvider) Envelope(ctx context.Context, geoms []orb.Geometry) (orb.Bound, orb.Point, error) {
	if len(geoms) == 0 {
		return orb.Bound{}, orb.Point{}, errs.Input("empty geometry set", nil)
	}
	var row struct {
		MinX float64 `gorm:"column:minx"`
		MinY float64 `gorm:"column:miny"`
		MaxX float64 `gorm:"column:maxx"`
		MaxY float64 `gorm:"column:maxy"`
		CX   float64 `gorm:"column:cx"`
		CY   float64 `gorm:"column:cy"`
	}
	sql := `
		WITH g AS (SELECT ST_GeomFromText(?, 3857) AS geom)
		SELECT ST_XMin(geom) AS minx, ST_YMin(geom) AS miny, ST_XMax(geom) AS maxx, ST_YMax(geom) AS maxy,
			ST_X(ST_Centroid(geom)) AS cx, ST_Y(ST_Centroid(geom)) AS cy
		FROM g`
	if err := p.db.WithContext(ctx).Raw(sql, wkt.MarshalString(orb.Collection(geoms))).Scan(&row).Error; err != nil {
		return orb.Bound{}, orb.Point{}, errs.External("postgis", err)
	}
	bound := orb.Bound{Min: orb.Point{row.MinX, row.MinY}, Max: orb.Point{row.MaxX, row.MaxY}}
	return bound, orb.Point{row.CX, row.CY}, nil
}
