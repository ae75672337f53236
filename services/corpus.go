package services

import (
	"context"
	"fmt"

	"github.com/GrainArc/GeoClassify/models"
	"github.com/GrainArc/GeoClassify/spatial"
	"gorm.io/gorm"
)

// GormCorpus 数据库中的规范几何库
type GormCorpus struct {
	db *gorm.DB
}

// NewGormCorpus 创建基于 gorm 的几何库视图
func NewGormCorpus(db *gorm.DB) *GormCorpus {
	return &GormCorpus{db: db}
}

// Live 范围内未被替代的几何，按 id 排序
func (c *GormCorpus) Live(ctx context.Context, scope spatial.Scope) ([]spatial.Canonical, error) {
	var rows []models.Geometry
	q := c.db.WithContext(ctx).
		Model(&models.Geometry{}).
		Joins("JOIN collection ON collection.id = geometry.collection_id").
		Where("geometry.superseded = ?", false).
		Where("collection.geom_type = ?", string(scope.Type))
	if scope.Closed() {
		q = q.Where("geometry.collection_id = ?", scope.CollectionID)
	}
	if err := q.Order("geometry.id").Select("geometry.*").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load live geometries: %w", err)
	}
	return toCanonical(rows)
}

// LiveCount 集合内 live 几何数量
func (c *GormCorpus) LiveCount(ctx context.Context, collectionID uint) (int64, error) {
	var n int64
	err := c.db.WithContext(ctx).
		Model(&models.Geometry{}).
		Where("collection_id = ? AND superseded = ?", collectionID, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count live geometries: %w", err)
	}
	return n, nil
}

func toCanonical(rows []models.Geometry) ([]spatial.Canonical, error) {
	out := make([]spatial.Canonical, 0, len(rows))
	for i := range rows {
		g, err := rows[i].Orb()
		if err != nil {
			return nil, fmt.Errorf("failed to decode geometry %d: %w", rows[i].ID, err)
		}
		out = append(out, spatial.Canonical{
			ID:           rows[i].ID,
			CollectionID: rows[i].CollectionID,
			SourceID:     rows[i].SourceID,
			FID:          rows[i].FID,
			Geometry:     g,
		})
	}
	return out, nil
}
