package models

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"gorm.io/datatypes"
)

// Collection 同一主题的规范几何集合
type Collection struct {
	ID       uint    `gorm:"primaryKey" json:"id"`
	Name     string  `gorm:"type:varchar(255)" json:"name"`
	GeomType string  `gorm:"type:varchar(32);index" json:"geom_type"`
	MinX     float64 `json:"min_x"`
	MinY     float64 `json:"min_y"`
	MaxX     float64 `json:"max_x"`
	MaxY     float64 `json:"max_y"`
	// MaxFID 已分配的最大 fid
	MaxFID uint64 `gorm:"column:max_fid" json:"max_fid"`
	// Revision 每次入库递增，用于缓存失效
	Revision  uint64    `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Bound 集合范围
func (c *Collection) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{c.MinX, c.MinY}, Max: orb.Point{c.MaxX, c.MaxY}}
}

// SetBound 更新集合范围
func (c *Collection) SetBound(b orb.Bound) {
	c.MinX, c.MinY = b.Min[0], b.Min[1]
	c.MaxX, c.MaxY = b.Max[0], b.Max[1]
}

// Source 一次入库，previous 指向同一集合的上一次入库
type Source struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	CollectionID uint           `gorm:"index" json:"collection_id"`
	PreviousID   *uint          `json:"previous_id"`
	Timestamp    time.Time      `gorm:"index" json:"timestamp"`
	ImportID     string         `gorm:"type:varchar(64);index" json:"import_id"`
	ImportFileID *uint          `json:"import_file_id"`
	License      string         `gorm:"type:varchar(255)" json:"license"`
	Manual       bool           `json:"manual"`
	Strategy     string         `gorm:"type:varchar(16)" json:"strategy"`
	Process      datatypes.JSON `gorm:"type:jsonb" json:"process"`
	CreatedAt    time.Time      `json:"created_at"`
}

// SourceColumn 入库时的列定义
type SourceColumn struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	SourceID   uint   `gorm:"index" json:"source_id"`
	Name       string `gorm:"type:varchar(255)" json:"name"`
	Kind       string `gorm:"type:varchar(16)" json:"kind"`
	SourceType string `gorm:"type:varchar(64)" json:"source_type"`
}

// Geometry 规范几何，Geom 为 EPSG:3857 下的 WKB
type Geometry struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CollectionID uint      `gorm:"index:idx_geometry_collection,priority:1" json:"collection_id"`
	Superseded   bool      `gorm:"index:idx_geometry_collection,priority:2" json:"superseded"`
	FID          uint64    `gorm:"column:fid;index" json:"fid"`
	SourceID     uint      `gorm:"index" json:"source_id"`
	PreviousID   *uint     `gorm:"index" json:"previous_id"`
	Geom         []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Orb 解码几何
func (g *Geometry) Orb() (orb.Geometry, error) {
	return wkb.Unmarshal(g.Geom)
}

// SetOrb 编码几何
func (g *Geometry) SetOrb(geom orb.Geometry) error {
	data, err := wkb.Marshal(geom)
	if err != nil {
		return err
	}
	g.Geom = data
	return nil
}
