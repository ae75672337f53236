package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GrainArc/GeoClassify/detector"
	"github.com/GrainArc/GeoClassify/models"
	jsoniter "github.com/json-iterator/go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SnapshotService 属性快照的读写
type SnapshotService struct {
	db *gorm.DB
}

func NewSnapshotService(db *gorm.DB) *SnapshotService {
	return &SnapshotService{db: db}
}

// Bracket 实现 detector.SnapshotReader
func (s *SnapshotService) Bracket(ctx context.Context, key detector.Key, ts time.Time) (exact, prior, next *detector.Snapshot, err error) {
	base := func() *gorm.DB {
		return s.db.WithContext(ctx).
			Model(&models.AttributeSnapshot{}).
			Where("collection_id = ? AND fid = ? AND column_name = ?", key.CollectionID, key.FID, key.Column)
	}
	if exact, err = s.first(base().Where("timestamp = ?", ts).Order("id DESC")); err != nil {
		return nil, nil, nil, err
	}
	if prior, err = s.first(base().Where("timestamp < ?", ts).Order("timestamp DESC, id DESC")); err != nil {
		return nil, nil, nil, err
	}
	if next, err = s.first(base().Where("timestamp > ?", ts).Order("timestamp ASC, id DESC")); err != nil {
		return nil, nil, nil, err
	}
	return exact, prior, next, nil
}

func (s *SnapshotService) first(q *gorm.DB) (*detector.Snapshot, error) {
	var row models.AttributeSnapshot
	err := q.Limit(1).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	return FromSnapshot(&row)
}

// Append 写入检测出的变化
func (s *SnapshotService) Append(ctx context.Context, sourceID uint, ts time.Time, changes []detector.Change) error {
	if len(changes) == 0 {
		return nil
	}
	rows := make([]models.AttributeSnapshot, 0, len(changes))
	for _, c := range changes {
		row, err := ToSnapshot(c, sourceID, ts)
		if err != nil {
			return err
		}
		rows = append(rows, *row)
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, 500).Error; err != nil {
		return fmt.Errorf("failed to insert snapshots: %w", err)
	}
	return nil
}

// History 某个 fid 全部快照，按时间排序
func (s *SnapshotService) History(ctx context.Context, collectionID uint, fid uint64) ([]models.AttributeSnapshot, error) {
	var rows []models.AttributeSnapshot
	err := s.db.WithContext(ctx).
		Where("collection_id = ? AND fid = ?", collectionID, fid).
		Order("column_name, timestamp, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot history: %w", err)
	}
	return rows, nil
}

// ToSnapshot 变化转为数据库行
func ToSnapshot(c detector.Change, sourceID uint, ts time.Time) (*models.AttributeSnapshot, error) {
	row := &models.AttributeSnapshot{
		CollectionID: c.CollectionID,
		FID:          c.FID,
		ColumnName:   c.Column,
		Timestamp:    ts,
		SourceID:     sourceID,
		Kind:         string(c.Value.Kind),
		Change:       c.Kind.String(),
	}
	v := c.Value
	switch v.Kind {
	case detector.KindInt:
		row.IntValue = &v.Int
	case detector.KindFloat:
		row.FloatValue = &v.Float
	case detector.KindText:
		row.TextValue = &v.Text
	default:
		data, err := json.Marshal(v.Interface())
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", c.Key, err)
		}
		row.ArrayValue = datatypes.JSON(data)
	}
	return row, nil
}

// FromSnapshot 数据库行转为检测器快照
func FromSnapshot(row *models.AttributeSnapshot) (*detector.Snapshot, error) {
	snap := &detector.Snapshot{
		Key:       detector.Key{CollectionID: row.CollectionID, FID: row.FID, Column: row.ColumnName},
		SourceID:  row.SourceID,
		Timestamp: row.Timestamp,
	}
	v := detector.Value{Kind: detector.Kind(row.Kind)}
	switch v.Kind {
	case detector.KindInt:
		if row.IntValue == nil {
			v.Null = true
		} else {
			v.Int = *row.IntValue
		}
	case detector.KindFloat:
		if row.FloatValue == nil {
			v.Null = true
		} else {
			v.Float = *row.FloatValue
		}
	case detector.KindText:
		if row.TextValue == nil {
			v.Null = true
		} else {
			v.Text = *row.TextValue
		}
	case detector.KindIntArray:
		if err := json.Unmarshal(row.ArrayValue, &v.Ints); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %d: %w", row.ID, err)
		}
	case detector.KindFloatArray:
		if err := json.Unmarshal(row.ArrayValue, &v.Floats); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %d: %w", row.ID, err)
		}
	case detector.KindTextArray:
		if err := json.Unmarshal(row.ArrayValue, &v.Texts); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %d: %w", row.ID, err)
		}
	default:
		return nil, fmt.Errorf("snapshot %d has unknown kind %q", row.ID, row.Kind)
	}
	snap.Value = v
	return snap, nil
}
