package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GrainArc/GeoClassify/errs"
	"github.com/GrainArc/GeoClassify/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ImportFileService 导入文件队列
type ImportFileService struct {
	db *gorm.DB
}

func NewImportFileService(db *gorm.DB) *ImportFileService {
	return &ImportFileService{db: db}
}

// RegisterInput 登记导入文件的参数
type RegisterInput struct {
	Name      string
	Path      string
	Size      int64
	License   string
	Timestamp time.Time
}

// Register 登记一个待分类文件
func (s *ImportFileService) Register(ctx context.Context, in RegisterInput) (*models.ImportFile, error) {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	f := &models.ImportFile{
		ImportID:  uuid.NewString(),
		Name:      in.Name,
		Path:      in.Path,
		Size:      in.Size,
		License:   in.License,
		Timestamp: ts.UTC(),
		Status:    models.StatusPending,
	}
	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		return nil, fmt.Errorf("failed to register import file: %w", err)
	}
	return f, nil
}

// Get 按 id 查询
func (s *ImportFileService) Get(ctx context.Context, id uint) (*models.ImportFile, error) {
	var f models.ImportFile
	err := s.db.WithContext(ctx).First(&f, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("import file %d: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load import file %d: %w", id, err)
	}
	return &f, nil
}

// Next 最早登记的待处理文件，没有时返回 errs.ErrNotFound
func (s *ImportFileService) Next(ctx context.Context) (*models.ImportFile, error) {
	var f models.ImportFile
	err := s.db.WithContext(ctx).
		Where("status = ?", models.StatusPending).
		Order("timestamp, id").
		Take(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no pending import file: %w", errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load next import file: %w", err)
	}
	return &f, nil
}

// SetStatus 更新文件状态
func (s *ImportFileService) SetStatus(ctx context.Context, id uint, status, message string) error {
	err := s.db.WithContext(ctx).Model(&models.ImportFile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "message": message}).Error
	if err != nil {
		return fmt.Errorf("failed to update import file %d: %w", id, err)
	}
	return nil
}

// Begin 标记为处理中并累计尝试次数
func (s *ImportFileService) Begin(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Model(&models.ImportFile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":   models.StatusProcessing,
			"attempts": gorm.Expr("attempts + 1"),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to start import file %d: %w", id, err)
	}
	return nil
}

// Classified 入库成功
func (s *ImportFileService) Classified(ctx context.Context, id, sourceID uint) error {
	err := s.db.WithContext(ctx).Model(&models.ImportFile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": models.StatusClassified, "message": "", "source_id": sourceID}).Error
	if err != nil {
		return fmt.Errorf("failed to update import file %d: %w", id, err)
	}
	return nil
}

// Recheck 将存疑的文件重新放回队列
func (s *ImportFileService) Recheck(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.ImportFile{}).
		Where("status IN ?", []string{models.StatusAmbiguous, models.StatusFailed, models.StatusProcessing}).
		Updates(map[string]interface{}{"status": models.StatusPending, "message": ""})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to recheck import files: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Count 各状态的文件数量
func (s *ImportFileService) Count(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := s.db.WithContext(ctx).Model(&models.ImportFile{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count import files: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
