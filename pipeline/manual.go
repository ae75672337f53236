package pipeline

import (
	"context"
	"fmt"

	"github.com/GrainArc/GeoClassify/errs"
	"github.com/GrainArc/GeoClassify/matcher"
	"github.com/GrainArc/GeoClassify/metrics"
	"github.com/GrainArc/GeoClassify/models"
	"github.com/GrainArc/GeoClassify/resolver"
	"github.com/GrainArc/GeoClassify/spatial"
)

// ManualInput 人工处理一条待处理匹配
type ManualInput struct {
	MatchID uint
	// CollectionID 目标集合，为空时使用匹配记录中的主导集合
	CollectionID *uint
	Strategy     resolver.MergeStrategy
	// Name 新建集合的名称，为空时取文件名
	Name string
}

// Import 按指定合并方式入库，new 新建集合，其余写入已有集合
func (p *Pipeline) Import(ctx context.Context, in ManualInput) (*Outcome, error) {
	release, err := p.lock.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return runSafe(ctx, p.log, func(ctx context.Context) (*Outcome, error) {
		return p.manual(ctx, in)
	})
}

func (p *Pipeline) manual(ctx context.Context, in ManualInput) (*Outcome, error) {
	m, err := p.matches.Get(ctx, in.MatchID)
	if err != nil {
		return nil, err
	}
	if m.Resolved {
		return nil, errs.Input(fmt.Sprintf("match %d is already resolved", m.ID), nil)
	}
	file, err := p.files.Get(ctx, m.ImportFileID)
	if err != nil {
		return nil, err
	}
	loaded, _, err := p.load(ctx, file)
	if err != nil {
		return nil, err
	}
	if cols, err := p.matches.Columns(m); err == nil && len(cols) > 0 {
		loaded.columns = cols
	}

	plan := ingestPlan{file: file, in: loaded, strategy: in.Strategy, manual: true, matchID: &m.ID}
	if in.Strategy == resolver.MergeNew {
		plan.name = in.Name
		if plan.name == "" {
			plan.name = collectionName(file)
		}
	} else {
		target := m.CollectionID
		if in.CollectionID != nil {
			target = in.CollectionID
		}
		if target == nil {
			return nil, errs.Input(fmt.Sprintf("match %d has no target collection", m.ID), nil)
		}
		col, err := p.cols.Get(ctx, *target)
		if err != nil {
			return nil, err
		}
		if spatial.GeomType(col.GeomType) != loaded.set.Type {
			return nil, errs.Input(fmt.Sprintf("collection %d holds %s, file holds %s", col.ID, col.GeomType, loaded.set.Type), nil)
		}
		mt := p.matcher()
		if m.Similar && p.opts.Similar > 0 {
			mt = mt.WithRadii(spatial.UniformRadii(p.opts.Similar))
		}
		res, err := retry(ctx, p.opts.Retry, p.log, "match", func() (*matcher.Result, error) {
			return mt.MatchInto(ctx, loaded.set, col.ID)
		})
		if err != nil {
			return nil, err
		}
		res.Confirm(col.ID)
		plan.result = res
		plan.target = col.ID
	}

	out, err := p.ingest(ctx, plan)
	if err != nil {
		return nil, err
	}
	return p.finish(ctx, out), nil
}

// Preview 只读匹配结果
type Preview struct {
	FileID     uint                `json:"file_id"`
	GeomType   spatial.GeomType    `json:"geom_type"`
	Candidates int                 `json:"candidates"`
	Fidelity   string              `json:"fidelity"`
	Message    string              `json:"message"`
	Target     *uint               `json:"target,omitempty"`
	Dominant   *uint               `json:"dominant,omitempty"`
	Hits       map[uint]int        `json:"collection_hits"`
	LiveCount  int64               `json:"live_count"`
	Matrix     [][][]float64       `json:"matrix"`
	BBox       bool                `json:"bbox"`
	Result     *matcher.Result     `json:"-"`
	Set        *spatial.FeatureSet `json:"-"`
}

// corpusVersion 语料库版本，任一集合入库或删除后改变
func (p *Pipeline) corpusVersion(ctx context.Context) (string, error) {
	var row struct {
		N   int64
		Sum int64
	}
	err := p.db.WithContext(ctx).Model(&models.Collection{}).
		Select("COUNT(*) AS n, COALESCE(SUM(revision), 0) AS sum").
		Scan(&row).Error
	if err != nil {
		return "", fmt.Errorf("failed to read corpus version: %w", err)
	}
	return fmt.Sprintf("%d.%d", row.N, row.Sum), nil
}

// Check 对文件做一次匹配但不写入任何内容，结果按语料库版本缓存
func (p *Pipeline) Check(ctx context.Context, fileID uint) (*Preview, error) {
	file, err := p.files.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	version, err := p.corpusVersion(ctx)
	if err != nil {
		return nil, err
	}
	if cached, ok := p.cache.Get(fileID, version); ok {
		metrics.PreviewCacheHitsTotal.Inc()
		return cached, nil
	}
	metrics.PreviewCacheMissesTotal.Inc()

	loaded, _, err := p.load(ctx, file)
	if err != nil {
		return nil, err
	}
	res, err := p.match(ctx, p.matcher(), loaded.set)
	if err != nil {
		return nil, err
	}
	preview := &Preview{
		FileID:     file.ID,
		GeomType:   loaded.set.Type,
		Candidates: res.Candidates,
		Fidelity:   res.Fidelity.String(),
		Message:    res.Message,
		Target:     res.Target,
		Dominant:   res.Dominant,
		Hits:       res.CollectionHits,
		LiveCount:  res.LiveCount,
		Matrix:     res.Matrix(),
		BBox:       IsBBox(loaded.set),
		Result:     res,
		Set:        loaded.set,
	}
	p.cache.Set(fileID, version, preview)
	return preview, nil
}

// Load 读取匹配记录对应文件的候选集，用于预览
func (p *Pipeline) Load(ctx context.Context, matchID uint) (*models.Match, *spatial.FeatureSet, error) {
	m, err := p.matches.Get(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	file, err := p.files.Get(ctx, m.ImportFileID)
	if err != nil {
		return nil, nil, err
	}
	loaded, _, err := p.load(ctx, file)
	if err != nil {
		return nil, nil, err
	}
	return m, loaded.set, nil
}
