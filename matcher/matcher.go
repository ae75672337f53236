// Package matcher 两阶段几何匹配：开放匹配确定主导集合，封闭匹配给出对应关系与匹配程度
package matcher

import (
	"context"
	"fmt"
	"sort"

	"github.com/GrainArc/GeoClassify/errs"
	"github.com/GrainArc/GeoClassify/spatial"
)

// Fidelity 匹配程度
type Fidelity int

const (
	FidelityNone Fidelity = iota
	FidelityPartial
	FidelitySubset
	FidelityFull
)

func (f Fidelity) String() string {
	switch f {
	case FidelityFull:
		return "full"
	case FidelitySubset:
		return "subset"
	case FidelityPartial:
		return "partial"
	}
	return "none"
}

// 结果消息，与待处理匹配记录中的 message 字段一致
const (
	MessageMatch    = "match"
	MessageSubset   = "subset"
	MessageNoMatch  = "no-match"
	MessagePartial  = "no-match-2"
	MessageNoClosed = "no-match-3"
)

// Result 匹配结果
type Result struct {
	// Target 确认的目标集合，Partial/None 时为 nil
	Target *uint
	// Dominant 开放匹配命中最多的集合
	Dominant *uint
	Fidelity Fidelity
	Message  string
	// CollectionHits 开放匹配阶段每个集合的命中数
	CollectionHits map[uint]int
	// Hits 最终的候选-规范对应关系
	Hits       []spatial.Hit
	Candidates int
	// LiveCount 主导集合当前 live 要素数量
	LiveCount int64
}

// Confirmed 是否已确认目标集合
func (r *Result) Confirmed() bool {
	return r != nil && r.Target != nil && (r.Fidelity == FidelityFull || r.Fidelity == FidelitySubset)
}

// Confirm 人工确认目标集合，只允许确认封闭匹配所在的集合
func (r *Result) Confirm(collectionID uint) bool {
	if r.Dominant == nil || *r.Dominant != collectionID {
		return false
	}
	r.Target = &collectionID
	return true
}

// Distances 每个候选要素的匹配距离
func (r *Result) Distances() map[uint64]float64 {
	out := make(map[uint64]float64, len(r.Hits))
	for _, h := range r.Hits {
		out[h.CandidateFID] = h.Distance
	}
	return out
}

// Matrix 匹配矩阵 [[候选 fid], [规范 id, 规范 fid], [距离]]
func (r *Result) Matrix() [][][]float64 {
	out := make([][][]float64, 0, len(r.Hits))
	for _, h := range r.Hits {
		out = append(out, [][]float64{
			{float64(h.CandidateFID)},
			{float64(h.Canonical.ID), float64(h.Canonical.FID)},
			{h.Distance},
		})
	}
	return out
}

// Matcher 几何匹配器
type Matcher struct {
	provider spatial.Provider
	corpus   spatial.Corpus
	radii    spatial.Radii
	workers  int
}

// New 创建匹配器
func New(provider spatial.Provider, corpus spatial.Corpus, radii spatial.Radii, workers int) *Matcher {
	return &Matcher{provider: provider, corpus: corpus, radii: radii, workers: workers}
}

// WithRadii 使用不同半径的副本，用于相似匹配
func (m *Matcher) WithRadii(radii spatial.Radii) *Matcher {
	cp := *m
	cp.radii = radii
	return &cp
}

func (m *Matcher) predicate(set *spatial.FeatureSet) (spatial.Predicate, error) {
	if set == nil || len(set.Features) == 0 {
		return nil, errs.Input("empty candidate set", nil)
	}
	return spatial.NewPredicate(set.Type, m.provider, m.corpus, m.radii.For(set.Type), m.workers)
}

// Match 开放匹配，必要时对主导集合做封闭匹配
func (m *Matcher) Match(ctx context.Context, set *spatial.FeatureSet) (*Result, error) {
	pred, err := m.predicate(set)
	if err != nil {
		return nil, err
	}
	res := &Result{Candidates: len(set.Features), CollectionHits: map[uint]int{}}

	open, err := pred.Match(ctx, set.Features, spatial.Scope{Type: set.Type})
	if err != nil {
		return nil, fmt.Errorf("open match: %w", err)
	}
	for _, h := range open {
		res.CollectionHits[h.Canonical.CollectionID]++
	}
	if len(open) == 0 {
		res.Message = MessageNoMatch
		return res, nil
	}
	dominant := dominantCollection(res.CollectionHits)
	res.Dominant = &dominant

	if len(res.CollectionHits) == 1 && len(open) == res.Candidates {
		res.Target = &dominant
		res.Fidelity = FidelityFull
		res.Message = MessageMatch
		res.Hits = open
		return res, nil
	}
	return m.closed(ctx, pred, set, dominant, res)
}

// MatchInto 仅对指定集合做封闭匹配，用于人工指定目标集合的导入
func (m *Matcher) MatchInto(ctx context.Context, set *spatial.FeatureSet, collectionID uint) (*Result, error) {
	pred, err := m.predicate(set)
	if err != nil {
		return nil, err
	}
	res := &Result{Candidates: len(set.Features), CollectionHits: map[uint]int{}, Dominant: &collectionID}
	return m.closed(ctx, pred, set, collectionID, res)
}

func (m *Matcher) closed(ctx context.Context, pred spatial.Predicate, set *spatial.FeatureSet, collectionID uint, res *Result) (*Result, error) {
	hits, err := pred.Match(ctx, set.Features, spatial.Scope{Type: set.Type, CollectionID: collectionID})
	if err != nil {
		return nil, fmt.Errorf("closed match on collection %d: %w", collectionID, err)
	}
	live, err := m.corpus.LiveCount(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("count live geometries of collection %d: %w", collectionID, err)
	}
	res.Hits = hits
	res.LiveCount = live

	switch {
	case len(hits) == 0:
		res.Fidelity = FidelityNone
		res.Message = MessageNoClosed
	case len(hits) == res.Candidates:
		res.Fidelity = FidelityFull
		res.Message = MessageMatch
		res.Target = &collectionID
	case int64(distinctCanonical(hits)) == live:
		res.Fidelity = FidelitySubset
		res.Message = MessageSubset
		res.Target = &collectionID
	default:
		res.Fidelity = FidelityPartial
		res.Message = MessagePartial
	}
	return res, nil
}

// dominantCollection 命中最多的集合，数量相同取 id 较小者
func dominantCollection(hits map[uint]int) uint {
	ids := make([]uint, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	best := ids[0]
	for _, id := range ids[1:] {
		if hits[id] > hits[best] {
			best = id
		}
	}
	return best
}

func distinctCanonical(hits []spatial.Hit) int {
	seen := make(map[uint]struct{}, len(hits))
	for _, h := range hits {
		seen[h.Canonical.ID] = struct{}{}
	}
	return len(seen)
}
