package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/GrainArc/GeoClassify/detector"
	"github.com/GrainArc/GeoClassify/errs"
	"github.com/GrainArc/GeoClassify/matcher"
	"github.com/GrainArc/GeoClassify/models"
	"github.com/GrainArc/GeoClassify/spatial"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MatchService 待处理匹配记录
type MatchService struct {
	db *gorm.DB
}

func NewMatchService(db *gorm.DB) *MatchService {
	return &MatchService{db: db}
}

// Record 保存一次未能自动确认目标的匹配结果
func (s *MatchService) Record(ctx context.Context, fileID uint, set *spatial.FeatureSet, res *matcher.Result, columns []detector.Column, similar bool) (*models.Match, error) {
	m := &models.Match{
		ImportFileID: fileID,
		CollectionID: res.Dominant,
		GeomType:     string(set.Type),
		Fidelity:     res.Fidelity.String(),
		Message:      res.Message,
		Candidates:   res.Candidates,
		Hits:         len(res.Hits),
		LiveCount:    res.LiveCount,
		Similar:      similar,
	}
	hits, err := json.Marshal(res.CollectionHits)
	if err != nil {
		return nil, fmt.Errorf("failed to encode collection hits: %w", err)
	}
	m.CollectionHits = datatypes.JSON(hits)
	matrix, err := json.Marshal(res.Matrix())
	if err != nil {
		return nil, fmt.Errorf("failed to encode match matrix: %w", err)
	}
	m.Matrix = datatypes.JSON(matrix)
	cols, err := json.Marshal(columns)
	if err != nil {
		return nil, fmt.Errorf("failed to encode columns: %w", err)
	}
	m.Columns = datatypes.JSON(cols)

	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("failed to create match: %w", err)
	}
	return m, nil
}

// List 匹配记录，open 为 true 时只返回未处理的
func (s *MatchService) List(ctx context.Context, open bool) ([]models.Match, error) {
	var out []models.Match
	q := s.db.WithContext(ctx).Order("id")
	if open {
		q = q.Where("resolved = ?", false)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	return out, nil
}

// Get 按 id 查询
func (s *MatchService) Get(ctx context.Context, id uint) (*models.Match, error) {
	var m models.Match
	err := s.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("match %d: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load match %d: %w", id, err)
	}
	return &m, nil
}

// Columns 匹配记录保存的列定义
func (s *MatchService) Columns(m *models.Match) ([]detector.Column, error) {
	var cols []detector.Column
	if len(m.Columns) == 0 {
		return cols, nil
	}
	if err := json.Unmarshal(m.Columns, &cols); err != nil {
		return nil, fmt.Errorf("failed to decode columns of match %d: %w", m.ID, err)
	}
	return cols, nil
}

// Matrix 匹配矩阵
func (s *MatchService) Matrix(m *models.Match) ([][][]float64, error) {
	var out [][][]float64
	if len(m.Matrix) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(m.Matrix, &out); err != nil {
		return nil, fmt.Errorf("failed to decode matrix of match %d: %w", m.ID, err)
	}
	return out, nil
}

// Resolve 标记为已处理
func (s *MatchService) Resolve(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.Match{}).Where("id = ?", id).Update("resolved", true)
	if res.Error != nil {
		return fmt.Errorf("failed to resolve match %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("match %d: %w", id, errs.ErrNotFound)
	}
	return nil
}

// Pending 未处理的匹配数量，用于准入上限
func (s *MatchService) Pending(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Match{}).Where("resolved = ?", false).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count pending matches: %w", err)
	}
	return n, nil
}
