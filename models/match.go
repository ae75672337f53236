package models

import (
	"time"

	"gorm.io/datatypes"
)

// 导入文件状态
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusClassified = "classified"
	StatusNoGeom     = "no-geom"
	StatusWeird      = "weird"
	StatusCorrupted  = "corrupted"
	StatusBigFile    = "big-file"
	StatusAmbiguous  = "ambiguous"
	StatusBBox       = "bbox"
	StatusFailed     = "failed"
)

// ImportFile 待分类的导入文件
type ImportFile struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ImportID  string    `gorm:"type:varchar(64);uniqueIndex" json:"import_id"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Path      string    `gorm:"type:varchar(1024)" json:"path"`
	Size      int64     `json:"size"`
	Status    string    `gorm:"type:varchar(32);index" json:"status"`
	Message   string    `gorm:"type:text" json:"message"`
	License   string    `gorm:"type:varchar(255)" json:"license"`
	Timestamp time.Time `json:"timestamp"`
	Attempts  int       `json:"attempts"`
	SourceID  *uint     `json:"source_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Match 无法自动确认目标集合的匹配记录，等待人工或启发式处理
type Match struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ImportFileID   uint           `gorm:"index" json:"import_file_id"`
	CollectionID   *uint          `gorm:"index" json:"collection_id"`
	GeomType       string         `gorm:"type:varchar(32)" json:"geom_type"`
	Fidelity       string         `gorm:"type:varchar(16)" json:"fidelity"`
	Message        string         `gorm:"type:varchar(32)" json:"message"`
	Candidates     int            `json:"candidates"`
	Hits           int            `json:"hits"`
	LiveCount      int64          `json:"live_count"`
	Similar        bool           `json:"similar"`
	CollectionHits datatypes.JSON `gorm:"type:jsonb" json:"collection_hits"`
	Matrix         datatypes.JSON `gorm:"type:jsonb" json:"matrix"`
	Columns        datatypes.JSON `gorm:"type:jsonb" json:"columns"`
	Resolved       bool           `gorm:"index" json:"resolved"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
