package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/GrainArc/GeoClassify/errs"
	"github.com/GrainArc/GeoClassify/models"
)

// Start 启动后台循环，已在运行时返回 false
func (p *Pipeline) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.stopped = make(chan struct{})
	go p.loop(ctx, p.stopped)
	p.log.Info("classification loop started", "interval", p.opts.Interval)
	return true
}

// Stop 停止后台循环并等待当前文件处理完成，未运行时返回 false
func (p *Pipeline) Stop() bool {
	p.mu.Lock()
	cancel, stopped := p.cancel, p.stopped
	p.cancel, p.stopped = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-stopped
	p.log.Info("classification loop stopped")
	return true
}

// Running 后台循环是否在运行
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Close 停止循环并清空预览缓存
func (p *Pipeline) Close() {
	p.Stop()
	p.cache.Reset()
}

func (p *Pipeline) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	interval := p.opts.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		wait := interval
		if p.drain(ctx) {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// drain 处理一个文件，返回是否应立即继续处理下一个
func (p *Pipeline) drain(ctx context.Context) bool {
	out, err := p.Next(ctx)
	switch {
	case err == nil:
		// 文件缺失时状态回到 pending，等待下个周期
		return out.Status != models.StatusPending
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, ErrBusy), errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrQueueFull):
		p.log.Warn("pending match queue is full, waiting for review")
		return false
	}
	p.log.Error("classification failed", "error", err)
	return false
}
