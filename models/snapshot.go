package models

import (
	"time"

	"gorm.io/datatypes"
)

// AttributeSnapshot 属性快照，只追加
// 数组值存入 ArrayValue，标量按类型存入对应的列
type AttributeSnapshot struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	CollectionID uint           `gorm:"index:idx_snapshot_key,priority:1" json:"collection_id"`
	FID          uint64         `gorm:"column:fid;index:idx_snapshot_key,priority:2" json:"fid"`
	ColumnName   string         `gorm:"type:varchar(255);index:idx_snapshot_key,priority:3" json:"column_name"`
	Timestamp    time.Time      `gorm:"index:idx_snapshot_key,priority:4" json:"timestamp"`
	SourceID     uint           `gorm:"index" json:"source_id"`
	Kind         string         `gorm:"type:varchar(16)" json:"kind"`
	Change       string         `gorm:"type:varchar(16)" json:"change"`
	IntValue     *int64         `json:"int_value,omitempty"`
	FloatValue   *float64       `json:"float_value,omitempty"`
	TextValue    *string        `json:"text_value,omitempty"`
	ArrayValue   datatypes.JSON `gorm:"type:jsonb" json:"array_value,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
