package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GrainArc/GeoClassify/detector"
	"github.com/GrainArc/GeoClassify/errs"
	"github.com/GrainArc/GeoClassify/models"
	"github.com/GrainArc/GeoClassify/resolver"
	"github.com/GrainArc/GeoClassify/spatial"
	"github.com/paulmach/orb"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CollectionService 集合聚合的加载与写入
type CollectionService struct {
	db       *gorm.DB
	provider spatial.Provider
}

func NewCollectionService(db *gorm.DB, provider spatial.Provider) *CollectionService {
	return &CollectionService{db: db, provider: provider}
}

// CollectionSummary 集合列表项
type CollectionSummary struct {
	models.Collection
	LiveCount   int64      `json:"live_count"`
	SourceCount int64      `json:"source_count"`
	LastImport  *time.Time `json:"last_import"`
}

// List 全部集合及其 live 要素数
func (s *CollectionService) List(ctx context.Context) ([]CollectionSummary, error) {
	var cols []models.Collection
	if err := s.db.WithContext(ctx).Order("id").Find(&cols).Error; err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	out := make([]CollectionSummary, 0, len(cols))
	for _, c := range cols {
		item := CollectionSummary{Collection: c}
		if err := s.db.WithContext(ctx).Model(&models.Geometry{}).
			Where("collection_id = ? AND superseded = ?", c.ID, false).
			Count(&item.LiveCount).Error; err != nil {
			return nil, fmt.Errorf("failed to count geometries: %w", err)
		}
		if err := s.db.WithContext(ctx).Model(&models.Source{}).
			Where("collection_id = ?", c.ID).
			Count(&item.SourceCount).Error; err != nil {
			return nil, fmt.Errorf("failed to count sources: %w", err)
		}
		if latest, err := s.LatestSource(ctx, c.ID); err != nil {
			return nil, err
		} else if latest != nil {
			item.LastImport = &latest.Timestamp
		}
		out = append(out, item)
	}
	return out, nil
}

// Get 按 id 查询集合
func (s *CollectionService) Get(ctx context.Context, id uint) (*models.Collection, error) {
	var c models.Collection
	err := s.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("collection %d: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load collection %d: %w", id, err)
	}
	return &c, nil
}

// Create 新建空集合
func (s *CollectionService) Create(ctx context.Context, name string, geomType spatial.GeomType) (*models.Collection, error) {
	if geomType == "" {
		return nil, errs.Input("unsupported geometry type", nil)
	}
	c := &models.Collection{Name: name, GeomType: string(geomType)}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	return c, nil
}

// LatestSource 集合最近的一次入库，没有时返回 nil
func (s *CollectionService) LatestSource(ctx context.Context, collectionID uint) (*models.Source, error) {
	var src models.Source
	err := s.db.WithContext(ctx).
		Where("collection_id = ?", collectionID).
		Order("timestamp DESC, id DESC").
		Take(&src).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest source: %w", err)
	}
	return &src, nil
}

// Aggregate 加载集合聚合：live 规范几何与 fid 分配器
func (s *CollectionService) Aggregate(ctx context.Context, id uint) (*models.Collection, *resolver.Collection, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	live, err := NewGormCorpus(s.db).Live(ctx, spatial.Scope{Type: spatial.GeomType(c.GeomType), CollectionID: id})
	if err != nil {
		return nil, nil, err
	}
	return c, resolver.NewCollection(id, c.MaxFID, live), nil
}

// ApplyInput 一次入库需要写入的内容
type ApplyInput struct {
	Collection     *models.Collection
	Aggregate      *resolver.Collection
	Set            *spatial.FeatureSet
	Correspondence *resolver.Correspondence
	Timestamp      time.Time
	ImportID       string
	ImportFileID   *uint
	License        string
	Manual         bool
	Columns        []detector.Column
	Process        map[string]interface{}
}

// Apply 写入新的 Source 与几何版本，更新集合 fid 计数与范围
// 调用方负责在事务内执行
func (s *CollectionService) Apply(ctx context.Context, in ApplyInput) (*models.Source, error) {
	db := s.db.WithContext(ctx)
	col := in.Collection

	latest, err := s.LatestSource(ctx, col.ID)
	if err != nil {
		return nil, err
	}
	if latest != nil && in.Timestamp.Before(latest.Timestamp) {
		return nil, errs.Input(fmt.Sprintf("source timestamp %s is older than latest source %s of collection %d",
			in.Timestamp.Format(time.RFC3339), latest.Timestamp.Format(time.RFC3339), col.ID), nil)
	}

	src := &models.Source{
		CollectionID: col.ID,
		Timestamp:    in.Timestamp,
		ImportID:     in.ImportID,
		ImportFileID: in.ImportFileID,
		License:      in.License,
		Manual:       in.Manual,
		Strategy:     in.Correspondence.Strategy.String(),
	}
	if latest != nil {
		src.PreviousID = &latest.ID
	}
	if in.Process != nil {
		data, err := json.Marshal(in.Process)
		if err != nil {
			return nil, fmt.Errorf("failed to encode process: %w", err)
		}
		src.Process = datatypes.JSON(data)
	}
	if err := db.Create(src).Error; err != nil {
		return nil, fmt.Errorf("failed to create source: %w", err)
	}

	if len(in.Columns) > 0 {
		cols := make([]models.SourceColumn, 0, len(in.Columns))
		for _, c := range in.Columns {
			cols = append(cols, models.SourceColumn{SourceID: src.ID, Name: c.Name, Kind: string(c.Kind), SourceType: c.SourceType})
		}
		if err := db.Create(&cols).Error; err != nil {
			return nil, fmt.Errorf("failed to create source columns: %w", err)
		}
	}

	geoms := make(map[uint64]orb.Geometry, len(in.Set.Features))
	for _, f := range in.Set.Features {
		geoms[f.FID] = f.Geometry
	}
	for _, e := range in.Correspondence.Entries {
		switch e.Action {
		case resolver.ActionMint:
			if err := s.insertGeometry(db, col.ID, src.ID, e.FID, nil, geoms[e.CandidateFID]); err != nil {
				return nil, err
			}
		case resolver.ActionRevise:
			res := db.Model(&models.Geometry{}).
				Where("id = ? AND collection_id = ? AND superseded = ?", e.CanonicalID, col.ID, false).
				Update("superseded", true)
			if res.Error != nil {
				return nil, fmt.Errorf("failed to supersede geometry %d: %w", e.CanonicalID, res.Error)
			}
			if res.RowsAffected != 1 {
				return nil, errs.Invariant("geometry %d is not live in collection %d", e.CanonicalID, col.ID)
			}
			prev := e.CanonicalID
			if err := s.insertGeometry(db, col.ID, src.ID, e.FID, &prev, geoms[e.CandidateFID]); err != nil {
				return nil, err
			}
		}
	}

	col.MaxFID = in.Aggregate.MaxFID()
	col.Revision++
	if err := s.refreshBound(ctx, col); err != nil {
		return nil, err
	}
	if err := db.Model(col).Select("max_fid", "revision", "min_x", "min_y", "max_x", "max_y").Updates(col).Error; err != nil {
		return nil, fmt.Errorf("failed to update collection %d: %w", col.ID, err)
	}
	return src, nil
}

func (s *CollectionService) insertGeometry(db *gorm.DB, collectionID, sourceID uint, fid uint64, previous *uint, g orb.Geometry) error {
	if g == nil {
		return errs.Invariant("no candidate geometry for fid %d", fid)
	}
	row := &models.Geometry{CollectionID: collectionID, SourceID: sourceID, FID: fid, PreviousID: previous}
	if err := row.SetOrb(g); err != nil {
		return fmt.Errorf("failed to encode geometry for fid %d: %w", fid, err)
	}
	if err := db.Create(row).Error; err != nil {
		return fmt.Errorf("failed to insert geometry fid %d: %w", fid, err)
	}
	return nil
}

// RefreshBound 根据 live 几何重新计算集合范围
func (s *CollectionService) RefreshBound(ctx context.Context, id uint) (*models.Collection, error) {
	col, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.refreshBound(ctx, col); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(col).Select("min_x", "min_y", "max_x", "max_y").Updates(col).Error; err != nil {
		return nil, fmt.Errorf("failed to update bound of collection %d: %w", id, err)
	}
	return col, nil
}

func (s *CollectionService) refreshBound(ctx context.Context, col *models.Collection) error {
	live, err := NewGormCorpus(s.db).Live(ctx, spatial.Scope{Type: spatial.GeomType(col.GeomType), CollectionID: col.ID})
	if err != nil {
		return err
	}
	if len(live) == 0 {
		col.SetBound(orb.Bound{})
		return nil
	}
	geoms := make([]orb.Geometry, 0, len(live))
	for _, c := range live {
		geoms = append(geoms, c.Geometry)
	}
	bound, _, err := s.provider.Envelope(ctx, geoms)
	if err != nil {
		return fmt.Errorf("failed to compute envelope of collection %d: %w", col.ID, err)
	}
	col.SetBound(bound)
	return nil
}

// Drop 删除集合及其全部入库、几何、快照与匹配记录
func (s *CollectionService) Drop(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var col models.Collection
		if err := tx.First(&col, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("collection %d: %w", id, errs.ErrNotFound)
			}
			return fmt.Errorf("failed to load collection %d: %w", id, err)
		}
		sources := tx.Model(&models.Source{}).Select("id").Where("collection_id = ?", id)
		steps := []struct {
			name  string
			query *gorm.DB
			model interface{}
		}{
			{"snapshots", tx.Where("collection_id = ?", id), &models.AttributeSnapshot{}},
			{"geometries", tx.Where("collection_id = ?", id), &models.Geometry{}},
			{"source columns", tx.Where("source_id IN (?)", sources), &models.SourceColumn{}},
			{"sources", tx.Where("collection_id = ?", id), &models.Source{}},
			{"matches", tx.Where("collection_id = ?", id), &models.Match{}},
		}
		for _, step := range steps {
			if err := step.query.Delete(step.model).Error; err != nil {
				return fmt.Errorf("failed to delete %s of collection %d: %w", step.name, id, err)
			}
		}
		if err := tx.Delete(&col).Error; err != nil {
			return fmt.Errorf("failed to delete collection %d: %w", id, err)
		}
		return nil
	})
}
