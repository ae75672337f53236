package resolver

import (
	"errors"
	"fmt"
	"sort"

	"github.com/GrainArc/GeoClassify/errs"
	"github.com/GrainArc/GeoClassify/matcher"
	"github.com/GrainArc/GeoClassify/spatial"
)

// ErrNoTarget 没有确认的目标集合时调用
var ErrNoTarget = errors.New("resolver: no confirmed target collection")

// FIDAllocator 集合内 fid 分配器，从集合当前最大 fid 开始单调递增
type FIDAllocator struct {
	last uint64
	live map[uint64]struct{}
}

// NewFIDAllocator 以 maxFID 与 live fid 中的较大者为起点
func NewFIDAllocator(maxFID uint64, live []uint64) *FIDAllocator {
	a := &FIDAllocator{last: maxFID, live: make(map[uint64]struct{}, len(live))}
	for _, fid := range live {
		a.live[fid] = struct{}{}
		if fid > a.last {
			a.last = fid
		}
	}
	return a
}

// NextFID 下一个未使用的 fid，与 live fid 冲突属于不变量错误
func (a *FIDAllocator) NextFID() (uint64, error) {
	a.last++
	if _, ok := a.live[a.last]; ok {
		return 0, errs.Invariant("fid %d is already live", a.last)
	}
	a.live[a.last] = struct{}{}
	return a.last, nil
}

// Last 最近分配的 fid
func (a *FIDAllocator) Last() uint64 { return a.last }

// Collection 目标集合聚合：live 要素与 fid 分配器
type Collection struct {
	ID    uint
	Live  []spatial.Canonical
	alloc *FIDAllocator
}

// NewCollection 创建集合聚合
func NewCollection(id uint, maxFID uint64, live []spatial.Canonical) *Collection {
	fids := make([]uint64, 0, len(live))
	for _, c := range live {
		fids = append(fids, c.FID)
	}
	return &Collection{ID: id, Live: live, alloc: NewFIDAllocator(maxFID, fids)}
}

// NextFID 分配新 fid
func (c *Collection) NextFID() (uint64, error) { return c.alloc.NextFID() }

// MaxFID 当前最大 fid，入库完成后回写到集合
func (c *Collection) MaxFID() uint64 { return c.alloc.Last() }

// Entry 一条对应关系
type Entry struct {
	CandidateFID uint64
	// CanonicalID 对应的规范几何 id，新建时为 0
	CanonicalID uint
	// FID 规范 fid
	FID      uint64
	Distance float64
	Action   Action
}

// Correspondence 一次入库的完整对应关系，按候选顺序排列
type Correspondence struct {
	CollectionID uint
	Strategy     MergeStrategy
	Entries      []Entry
}

// Mapping 候选 fid 到规范 fid，不含跳过的要素
func (c *Correspondence) Mapping() map[uint64]uint64 {
	out := make(map[uint64]uint64, len(c.Entries))
	for _, e := range c.Entries {
		if e.Action == ActionSkip {
			continue
		}
		out[e.CandidateFID] = e.FID
	}
	return out
}

// Filter 指定处理方式的条目
func (c *Correspondence) Filter(action Action) []Entry {
	var out []Entry
	for _, e := range c.Entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// Resolver 对应关系生成
type Resolver struct {
	// Tolerance 距离超过该值的已匹配要素才生成新版本
	Tolerance float64
}

// New 创建 Resolver
func New(tolerance float64) *Resolver {
	return &Resolver{Tolerance: tolerance}
}

// Resolve 生成对应关系，未匹配的候选要素分配新 fid
func (r *Resolver) Resolve(target *Collection, set *spatial.FeatureSet, result *matcher.Result, strategy MergeStrategy) (*Correspondence, error) {
	if target == nil {
		return nil, ErrNoTarget
	}
	if set == nil || len(set.Features) == 0 {
		return nil, errs.Input("empty candidate set", nil)
	}
	if _, ok := strategyNames[strategy]; !ok {
		return nil, errs.Input(fmt.Sprintf("unknown merge strategy %d", strategy), nil)
	}

	var claimed map[uint64]spatial.Hit
	if strategy == MergeNew {
		if len(target.Live) > 0 {
			return nil, errs.Input(fmt.Sprintf("collection %d already has live geometries", target.ID), nil)
		}
	} else {
		if result == nil || result.Target == nil || *result.Target != target.ID {
			return nil, ErrNoTarget
		}
		var err error
		if claimed, err = r.claim(target, set, result.Hits); err != nil {
			return nil, err
		}
	}

	out := &Correspondence{CollectionID: target.ID, Strategy: strategy, Entries: make([]Entry, 0, len(set.Features))}
	for _, f := range set.Features {
		hit, ok := claimed[f.FID]
		if !ok {
			fid, err := target.NextFID()
			if err != nil {
				return nil, err
			}
			out.Entries = append(out.Entries, Entry{CandidateFID: f.FID, FID: fid, Action: ActionMint})
			continue
		}
		e := Entry{
			CandidateFID: f.FID,
			CanonicalID:  hit.Canonical.ID,
			FID:          hit.Canonical.FID,
			Distance:     hit.Distance,
		}
		switch strategy {
		case MergeAdd:
			e.Action = ActionKeep
		case MergeUpdate:
			e.Action = ActionKeep
			if hit.Distance > r.Tolerance {
				e.Action = ActionRevise
			}
		case MergeSkip:
			e.Action = ActionSkip
		case MergeReplace:
			e.Action = ActionRevise
		}
		out.Entries = append(out.Entries, e)
	}

	if err := verifyCoverage(set, out); err != nil {
		return nil, err
	}
	return out, nil
}

// claim 一对一分配：同一规范要素被多个候选命中时距离近者保留，其余按未匹配处理
func (r *Resolver) claim(target *Collection, set *spatial.FeatureSet, hits []spatial.Hit) (map[uint64]spatial.Hit, error) {
	live := make(map[uint]spatial.Canonical, len(target.Live))
	for _, c := range target.Live {
		live[c.ID] = c
	}
	candidates := make(map[uint64]struct{}, len(set.Features))
	for _, f := range set.Features {
		candidates[f.FID] = struct{}{}
	}

	sorted := append([]spatial.Hit(nil), hits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Distance != sorted[j].Distance {
			return sorted[i].Distance < sorted[j].Distance
		}
		return sorted[i].CandidateFID < sorted[j].CandidateFID
	})

	claimed := make(map[uint64]spatial.Hit, len(sorted))
	taken := make(map[uint]struct{}, len(sorted))
	for _, h := range sorted {
		if _, ok := candidates[h.CandidateFID]; !ok {
			return nil, errs.Invariant("hit references unknown candidate %d", h.CandidateFID)
		}
		if _, ok := live[h.Canonical.ID]; !ok {
			return nil, errs.Invariant("hit references geometry %d which is not live in collection %d", h.Canonical.ID, target.ID)
		}
		if _, ok := claimed[h.CandidateFID]; ok {
			return nil, errs.Invariant("candidate %d matched twice", h.CandidateFID)
		}
		if _, ok := taken[h.Canonical.ID]; ok {
			continue
		}
		taken[h.Canonical.ID] = struct{}{}
		claimed[h.CandidateFID] = h
	}
	return claimed, nil
}

// verifyCoverage 每个候选 fid 恰好出现一次，规范 fid 不重复
func verifyCoverage(set *spatial.FeatureSet, c *Correspondence) error {
	if len(c.Entries) != len(set.Features) {
		return errs.Invariant("correspondence covers %d of %d candidates", len(c.Entries), len(set.Features))
	}
	seen := make(map[uint64]struct{}, len(c.Entries))
	fids := make(map[uint64]struct{}, len(c.Entries))
	for _, e := range c.Entries {
		if _, ok := seen[e.CandidateFID]; ok {
			return errs.Invariant("candidate %d appears twice", e.CandidateFID)
		}
		seen[e.CandidateFID] = struct{}{}
		if _, ok := fids[e.FID]; ok {
			return errs.Invariant("canonical fid %d assigned twice", e.FID)
		}
		fids[e.FID] = struct{}{}
	}
	for _, f := range set.Features {
		if _, ok := seen[f.FID]; !ok {
			return errs.Invariant("candidate %d missing from correspondence", f.FID)
		}
	}
	return nil
}
