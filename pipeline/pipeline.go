// Package pipeline 导入文件的分类与入库流程：转换、匹配、对应关系、属性变化检测，单飞执行
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/GrainArc/GeoClassify/Transformer"
	"github.com/GrainArc/GeoClassify/config"
	"github.com/GrainArc/GeoClassify/detector"
	"github.com/GrainArc/GeoClassify/errs"
	"github.com/GrainArc/GeoClassify/logger"
	"github.com/GrainArc/GeoClassify/matcher"
	"github.com/GrainArc/GeoClassify/metrics"
	"github.com/GrainArc/GeoClassify/models"
	"github.com/GrainArc/GeoClassify/resolver"
	"github.com/GrainArc/GeoClassify/services"
	"github.com/GrainArc/GeoClassify/spatial"
	"gorm.io/gorm"
)

// ErrQueueFull 待处理匹配达到上限，暂停自动分类
var ErrQueueFull = errors.New("pipeline: pending match queue is full")

// Options 流程参数
type Options struct {
	Radii       spatial.Radii
	Similar     float64
	Tolerance   float64
	QueueLimit  int
	MaxFileSize int64
	Workers     int
	Interval    time.Duration
	Retry       config.Retry
	CacheSize   int
	CacheTTL    time.Duration
}

// OptionsFrom 从配置生成流程参数
func OptionsFrom(cfg config.Config) Options {
	return Options{
		Radii:       spatial.Radii{Point: cfg.Radius.Point, Line: cfg.Radius.Line, Polygon: cfg.Radius.Polygon},
		Similar:     cfg.Radius.Similar,
		Tolerance:   cfg.Tolerance,
		QueueLimit:  cfg.QueueLimit,
		MaxFileSize: cfg.MaxFileSize,
		Workers:     cfg.Workers,
		Interval:    time.Duration(cfg.Interval) * time.Second,
		Retry:       cfg.Retry,
		CacheSize:   cfg.Cache.Size,
		CacheTTL:    time.Duration(cfg.Cache.TTLSeconds) * time.Second,
	}
}

// Outcome 一个文件的处理结果
type Outcome struct {
	FileID       uint   `json:"file_id"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
	Fidelity     string `json:"fidelity,omitempty"`
	CollectionID *uint  `json:"collection_id,omitempty"`
	SourceID     *uint  `json:"source_id,omitempty"`
	MatchID      *uint  `json:"match_id,omitempty"`
	Changes      int    `json:"changes"`
}

// Pipeline 分类流程
type Pipeline struct {
	db       *gorm.DB
	provider spatial.Provider
	opts     Options
	log      *logger.Logger
	lock     Locker
	cache    *PreviewCache

	files   *services.ImportFileService
	matches *services.MatchService
	cols    *services.CollectionService

	// convert 可在测试中替换
	convert func(path string) (*Transformer.Dataset, error)

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New 创建流程，lock 为 nil 时使用进程内锁
func New(db *gorm.DB, provider spatial.Provider, opts Options, log *logger.Logger, lock Locker) *Pipeline {
	if lock == nil {
		lock = NewLocalLock()
	}
	if log == nil {
		log = logger.Nop()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &Pipeline{
		db:       db,
		provider: provider,
		opts:     opts,
		log:      log,
		lock:     lock,
		cache:    NewPreviewCache(opts.CacheSize, opts.CacheTTL),
		files:    services.NewImportFileService(db),
		matches:  services.NewMatchService(db),
		cols:     services.NewCollectionService(db, provider),
		convert:  Transformer.Convert,
	}
}

func (p *Pipeline) matcher() *matcher.Matcher {
	return matcher.New(p.provider, services.NewGormCorpus(p.db), p.opts.Radii, p.opts.Workers)
}

// admit 待处理匹配达到上限时拒绝
func (p *Pipeline) admit(ctx context.Context) error {
	pending, err := p.matches.Pending(ctx)
	if err != nil {
		return err
	}
	metrics.QueueDepth.Set(float64(pending))
	if p.opts.QueueLimit > 0 && pending >= int64(p.opts.QueueLimit) {
		return ErrQueueFull
	}
	return nil
}

// Next 处理最早登记的待处理文件，没有文件时返回 errs.ErrNotFound
func (p *Pipeline) Next(ctx context.Context) (*Outcome, error) {
	if err := p.admit(ctx); err != nil {
		return nil, err
	}
	release, err := p.lock.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	file, err := p.files.Next(ctx)
	if err != nil {
		return nil, err
	}
	return runSafe(ctx, p.log, func(ctx context.Context) (*Outcome, error) {
		return p.classify(ctx, file)
	})
}

// Process 处理指定文件
func (p *Pipeline) Process(ctx context.Context, fileID uint) (*Outcome, error) {
	if err := p.admit(ctx); err != nil {
		return nil, err
	}
	release, err := p.lock.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	file, err := p.files.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return runSafe(ctx, p.log, func(ctx context.Context) (*Outcome, error) {
		return p.classify(ctx, file)
	})
}

// loaded 转换后的候选集
type loaded struct {
	set     *spatial.FeatureSet
	rows    map[uint64]map[string]interface{}
	columns []detector.Column
}

// load 读取文件并生成候选集，无法处理时返回文件应处的状态
func (p *Pipeline) load(ctx context.Context, file *models.ImportFile) (*loaded, string, error) {
	info, err := os.Stat(file.Path)
	if err != nil {
		return nil, models.StatusPending, fmt.Errorf("file %s does not exist: %w", file.Path, err)
	}
	if p.opts.MaxFileSize > 0 && info.Size() > p.opts.MaxFileSize {
		return nil, models.StatusBigFile, fmt.Errorf("file size %d exceeds limit %d", info.Size(), p.opts.MaxFileSize)
	}
	ds, err := retry(ctx, p.opts.Retry, p.log, "convert", func() (*Transformer.Dataset, error) {
		return p.convert(file.Path)
	})
	if err != nil {
		return nil, statusFor(err), err
	}
	set, err := ds.FeatureSet()
	if err != nil {
		return nil, statusFor(err), err
	}
	rows := Transformer.Rows(set)
	return &loaded{set: set, rows: rows, columns: ds.ColumnsFor(rows)}, "", nil
}

// statusFor 错误对应的文件状态
func statusFor(err error) string {
	switch {
	case errors.Is(err, spatial.ErrNoGeometry):
		return models.StatusNoGeom
	case errs.IsInput(err):
		return models.StatusWeird
	case errs.IsPermanentProvider(err):
		return models.StatusCorrupted
	}
	return models.StatusFailed
}

func (p *Pipeline) finish(ctx context.Context, out *Outcome) *Outcome {
	metrics.IngestionsTotal.WithLabelValues(out.Status).Inc()
	p.log.Info("import file processed",
		"file_id", out.FileID, "name", out.Name, "status", out.Status,
		"fidelity", out.Fidelity, "message", out.Message, "changes", out.Changes)
	return out
}

// fail 记录失败状态，不可恢复的错误只写入文件状态，不作为调用错误返回
func (p *Pipeline) fail(ctx context.Context, file *models.ImportFile, status string, cause error) (*Outcome, error) {
	out := &Outcome{FileID: file.ID, Name: file.Name, Status: status, Message: cause.Error()}
	if err := p.files.SetStatus(ctx, file.ID, status, cause.Error()); err != nil {
		return nil, err
	}
	p.log.Warn("import file not classified", "file_id", file.ID, "status", status, "error", cause)
	p.cache.Forget(file.ID)
	return p.finish(ctx, out), nil
}

func (p *Pipeline) classify(ctx context.Context, file *models.ImportFile) (*Outcome, error) {
	if err := p.files.Begin(ctx, file.ID); err != nil {
		return nil, err
	}
	in, status, err := p.load(ctx, file)
	if err != nil {
		return p.fail(ctx, file, status, err)
	}

	res, err := p.match(ctx, p.matcher(), in.set)
	if err != nil {
		return p.fail(ctx, file, statusFor(err), err)
	}

	if res.Confirmed() {
		out, err := p.ingest(ctx, ingestPlan{
			file:     file,
			in:       in,
			result:   res,
			target:   *res.Target,
			strategy: resolver.MergeUpdate,
		})
		if err != nil {
			if errs.IsInvariant(err) {
				p.log.Error("invariant violation, ingestion aborted", "file_id", file.ID, "error", err)
			}
			return p.fail(ctx, file, statusFor(err), err)
		}
		return p.finish(ctx, out), nil
	}

	if IsBBox(in.set) {
		return p.fail(ctx, file, models.StatusBBox, errors.New("file only contains bounding boxes"))
	}

	// 按较大半径再匹配一次，结果作为人工确认的参考
	recorded, similar := res, false
	if p.opts.Similar > 0 {
		alt, err := p.match(ctx, p.matcher().WithRadii(spatial.UniformRadii(p.opts.Similar)), in.set)
		if err != nil {
			return p.fail(ctx, file, statusFor(err), err)
		}
		if alt.Fidelity > res.Fidelity {
			recorded, similar = alt, true
		}
	}
	m, err := p.matches.Record(ctx, file.ID, in.set, recorded, in.columns, similar)
	if err != nil {
		return nil, err
	}
	if err := p.files.SetStatus(ctx, file.ID, models.StatusAmbiguous, recorded.Message); err != nil {
		return nil, err
	}
	if pending, err := p.matches.Pending(ctx); err == nil {
		metrics.QueueDepth.Set(float64(pending))
	}
	return p.finish(ctx, &Outcome{
		FileID:       file.ID,
		Name:         file.Name,
		Status:       models.StatusAmbiguous,
		Message:      recorded.Message,
		Fidelity:     recorded.Fidelity.String(),
		CollectionID: recorded.Dominant,
		MatchID:      &m.ID,
	}), nil
}

func (p *Pipeline) match(ctx context.Context, m *matcher.Matcher, set *spatial.FeatureSet) (*matcher.Result, error) {
	start := time.Now()
	defer func() {
		metrics.MatchDurationMs.WithLabelValues(string(set.Type)).Observe(float64(time.Since(start).Milliseconds()))
	}()
	return retry(ctx, p.opts.Retry, p.log, "match", func() (*matcher.Result, error) {
		return m.Match(ctx, set)
	})
}

// ingestPlan 一次入库
type ingestPlan struct {
	file     *models.ImportFile
	in       *loaded
	result   *matcher.Result
	target   uint
	strategy resolver.MergeStrategy
	// name 新建集合的名称，仅 MergeNew 使用
	name    string
	manual  bool
	matchID *uint
}

// ingest 在一个事务内完成对应关系、几何版本、快照与文件状态的写入
func (p *Pipeline) ingest(ctx context.Context, plan ingestPlan) (*Outcome, error) {
	out := &Outcome{FileID: plan.file.ID, Name: plan.file.Name, Status: models.StatusClassified}
	if plan.result != nil {
		out.Fidelity = plan.result.Fidelity.String()
		out.Message = plan.result.Message
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cols := services.NewCollectionService(tx, p.provider)

		target := plan.target
		if plan.strategy == resolver.MergeNew {
			c, err := cols.Create(ctx, plan.name, plan.in.set.Type)
			if err != nil {
				return err
			}
			target = c.ID
		}
		col, agg, err := cols.Aggregate(ctx, target)
		if err != nil {
			return err
		}
		if col.GeomType != string(plan.in.set.Type) {
			return errs.Input(fmt.Sprintf("collection %d holds %s, file holds %s", col.ID, col.GeomType, plan.in.set.Type), nil)
		}

		corr, err := resolver.New(p.opts.Tolerance).Resolve(agg, plan.in.set, plan.result, plan.strategy)
		if err != nil {
			return err
		}

		fileID := plan.file.ID
		src, err := cols.Apply(ctx, services.ApplyInput{
			Collection:     col,
			Aggregate:      agg,
			Set:            plan.in.set,
			Correspondence: corr,
			Timestamp:      plan.file.Timestamp,
			ImportID:       plan.file.ImportID,
			ImportFileID:   &fileID,
			License:        plan.file.License,
			Manual:         plan.manual,
			Columns:        detector.FilterColumns(plan.in.columns),
			Process:        processOf(plan, corr),
		})
		if err != nil {
			return err
		}

		snaps := services.NewSnapshotService(tx)
		changes, err := detector.New(snaps).Detect(ctx, detector.Input{
			CollectionID: col.ID,
			SourceID:     src.ID,
			Timestamp:    plan.file.Timestamp,
			Mapping:      corr.Mapping(),
			Rows:         plan.in.rows,
			Columns:      plan.in.columns,
		})
		if err != nil {
			return err
		}
		if err := snaps.Append(ctx, src.ID, plan.file.Timestamp, changes.Changes); err != nil {
			return err
		}
		for _, c := range changes.Changes {
			metrics.ChangesTotal.WithLabelValues(c.Kind.String()).Inc()
		}

		if err := services.NewImportFileService(tx).Classified(ctx, plan.file.ID, src.ID); err != nil {
			return err
		}
		if plan.matchID != nil {
			if err := services.NewMatchService(tx).Resolve(ctx, *plan.matchID); err != nil {
				return err
			}
		}

		out.CollectionID = &col.ID
		out.SourceID = &src.ID
		out.Changes = len(changes.Changes)
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.cache.Reset()
	return out, nil
}

func processOf(plan ingestPlan, corr *resolver.Correspondence) map[string]interface{} {
	process := map[string]interface{}{
		"strategy": corr.Strategy.String(),
		"minted":   len(corr.Filter(resolver.ActionMint)),
		"revised":  len(corr.Filter(resolver.ActionRevise)),
		"kept":     len(corr.Filter(resolver.ActionKeep)),
		"skipped":  len(corr.Filter(resolver.ActionSkip)),
	}
	if plan.result != nil {
		process["fidelity"] = plan.result.Fidelity.String()
		process["message"] = plan.result.Message
		process["candidates"] = plan.result.Candidates
		process["hits"] = len(plan.result.Hits)
	}
	return process
}

// collectionName 由文件名生成集合名称
func collectionName(file *models.ImportFile) string {
	name := strings.TrimSuffix(file.Name, filepath.Ext(file.Name))
	if name == "" {
		name = file.ImportID
	}
	return name
}
