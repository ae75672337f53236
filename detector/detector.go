// Package detector 属性变化检测：按时间找到相邻快照，用容差比较判断值是否真正变化
package detector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/GrainArc/GeoClassify/errs"
)

// Key 快照键
type Key struct {
	CollectionID uint
	FID          uint64
	Column       string
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%s", k.CollectionID, k.FID, k.Column)
}

// Snapshot 已存储的属性快照
type Snapshot struct {
	Key
	SourceID  uint
	Timestamp time.Time
	Value     Value
}

// SnapshotReader 按时间查找快照：exact 为同一时间戳的快照，prior/next 为最近的前后快照
type SnapshotReader interface {
	Bracket(ctx context.Context, key Key, ts time.Time) (exact, prior, next *Snapshot, err error)
}

// Column 列定义，SourceType 为源文件中的原始类型
type Column struct {
	Name       string
	Kind       Kind
	SourceType string
}

var ignoreColumns = map[string]struct{}{
	"shape_length": {},
	"shape_area":   {},
	"geom":         {},
	"geom_3857":    {},
	"fid":          {},
	"gml_id":       {},
	"objectid":     {},
}

// Ignored 几何、标识与时间戳列不记录快照
func (c Column) Ignored() bool {
	if _, ok := ignoreColumns[strings.ToLower(c.Name)]; ok {
		return true
	}
	t := strings.ToLower(c.SourceType)
	return strings.Contains(t, "timestamp") || strings.Contains(t, "date")
}

// FilterColumns 去掉不参与比较的列
func FilterColumns(columns []Column) []Column {
	out := make([]Column, 0, len(columns))
	for _, c := range columns {
		if !c.Ignored() {
			out = append(out, c)
		}
	}
	return out
}

// InferColumns 根据属性值推断列类型，整数与浮点混合时为浮点，其余冲突按文本
func InferColumns(rows map[uint64]map[string]interface{}) []Column {
	kinds := map[string]Kind{}
	for _, row := range rows {
		for name, raw := range row {
			v := ValueOf(raw)
			if v.Null {
				if _, ok := kinds[name]; !ok {
					kinds[name] = ""
				}
				continue
			}
			kinds[name] = mergeKind(kinds[name], v.Kind)
		}
	}
	out := make([]Column, 0, len(kinds))
	for name, k := range kinds {
		if k == "" {
			k = KindText
		}
		out = append(out, Column{Name: name, Kind: k})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func mergeKind(cur, next Kind) Kind {
	switch {
	case cur == "" || cur == next:
		return next
	case isNumber(cur) && isNumber(next):
		return KindFloat
	case isNumberArray(cur) && isNumberArray(next):
		return KindFloatArray
	case cur.IsArray() || next.IsArray():
		return KindTextArray
	}
	return KindText
}

// ChangeKind 变化类型
type ChangeKind int

const (
	// ChangeInitial 该键没有任何快照
	ChangeInitial ChangeKind = iota
	// ChangeChanged 与前一快照不同
	ChangeChanged
	// ChangeBackfill 早于已有最早快照且与其不同的历史数据
	ChangeBackfill
	// ChangeDuplicate 同一时间戳已有快照但值不同
	ChangeDuplicate
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeChanged:
		return "changed"
	case ChangeBackfill:
		return "backfill"
	case ChangeDuplicate:
		return "duplicate"
	}
	return "initial"
}

// Change 一条需要追加的快照
type Change struct {
	Key
	Kind     ChangeKind
	Value    Value
	Previous *Value
}

// ChangeSet 检测结果
type ChangeSet struct {
	HasNewData bool
	Changes    []Change
}

// Input 一次入库的属性数据
type Input struct {
	CollectionID uint
	SourceID     uint
	Timestamp    time.Time
	// Mapping 候选 fid 到规范 fid
	Mapping map[uint64]uint64
	// Rows 按候选 fid 的属性
	Rows    map[uint64]map[string]interface{}
	Columns []Column
}

// Detector 属性变化检测器
type Detector struct {
	reader SnapshotReader
}

// New 创建检测器
func New(reader SnapshotReader) *Detector {
	return &Detector{reader: reader}
}

// Detect 对每个映射后的 (fid, 列) 判断是否需要追加快照
func (d *Detector) Detect(ctx context.Context, in Input) (*ChangeSet, error) {
	if in.Timestamp.IsZero() {
		return nil, errs.Input("missing source timestamp", nil)
	}
	columns := in.Columns
	if columns == nil {
		columns = InferColumns(in.Rows)
	}
	columns = FilterColumns(columns)

	candidates := make([]uint64, 0, len(in.Mapping))
	for cand := range in.Mapping {
		candidates = append(candidates, cand)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	out := &ChangeSet{}
	for _, cand := range candidates {
		row, ok := in.Rows[cand]
		if !ok {
			continue
		}
		for _, col := range columns {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			raw, ok := row[col.Name]
			if !ok {
				continue
			}
			v := Coerce(ValueOf(raw), col.Kind)
			if v.Null {
				continue
			}
			key := Key{CollectionID: in.CollectionID, FID: in.Mapping[cand], Column: col.Name}
			change, err := d.compare(ctx, key, in.Timestamp, v)
			if err != nil {
				return nil, fmt.Errorf("compare %s: %w", key, err)
			}
			if change != nil {
				out.Changes = append(out.Changes, *change)
			}
		}
	}
	out.HasNewData = len(out.Changes) > 0
	return out, nil
}

func (d *Detector) compare(ctx context.Context, key Key, ts time.Time, v Value) (*Change, error) {
	exact, prior, next, err := d.reader.Bracket(ctx, key, ts)
	if err != nil {
		return nil, err
	}
	switch {
	case exact != nil:
		if Equal(v, exact.Value) {
			return nil, nil
		}
		return &Change{Key: key, Kind: ChangeDuplicate, Value: v, Previous: &exact.Value}, nil
	case prior != nil:
		if Equal(v, prior.Value) {
			return nil, nil
		}
		return &Change{Key: key, Kind: ChangeChanged, Value: v, Previous: &prior.Value}, nil
	case next != nil:
		// 没有更早的快照时与紧随其后的快照比较
		if Equal(v, next.Value) {
			return nil, nil
		}
		return &Change{Key: key, Kind: ChangeBackfill, Value: v, Previous: &next.Value}, nil
	}
	return &Change{Key: key, Kind: ChangeInitial, Value: v}, nil
}

// MemorySnapshots 内存快照存储，用于测试与 /check 预览
type MemorySnapshots struct {
	byKey map[Key][]Snapshot
}

// NewMemorySnapshots 创建内存快照存储
func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{byKey: map[Key][]Snapshot{}}
}

// Append 追加检测出的变化
func (m *MemorySnapshots) Append(sourceID uint, ts time.Time, changes []Change) {
	for _, c := range changes {
		list := append(m.byKey[c.Key], Snapshot{Key: c.Key, SourceID: sourceID, Timestamp: ts, Value: c.Value})
		sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
		m.byKey[c.Key] = list
	}
}

// Bracket 实现 SnapshotReader，同一时间戳有多条时取最后一条
func (m *MemorySnapshots) Bracket(_ context.Context, key Key, ts time.Time) (exact, prior, next *Snapshot, err error) {
	list := m.byKey[key]
	for i := range list {
		s := &list[i]
		switch {
		case s.Timestamp.Equal(ts):
			exact = s
		case s.Timestamp.Before(ts):
			prior = s
		case next == nil:
			next = s
		}
	}
	return exact, prior, next, nil
}

// Len 快照条数
func (m *MemorySnapshots) Len() int {
	n := 0
	for _, list := range m.byKey {
		n += len(list)
	}
	return n
}
