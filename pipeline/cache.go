package pipeline

import (
	"sync"
	"time"
)

type previewEntry struct {
	preview   *Preview
	expiresAt time.Time
}

// PreviewCache /check 结果缓存，按文件 id 存放，所有条目属于同一个语料库版本。
// 版本变化（入库、删除集合）时整体作废
type PreviewCache struct {
	mu      sync.Mutex
	version string
	entries map[uint]previewEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// NewPreviewCache 创建预览缓存，maxSize <= 0 时不缓存
func NewPreviewCache(maxSize int, ttl time.Duration) *PreviewCache {
	return &PreviewCache{
		entries: make(map[uint]previewEntry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// advance 切换到新的语料库版本，旧版本的条目全部丢弃。调用方持有锁
func (c *PreviewCache) advance(version string) {
	if version == c.version {
		return
	}
	c.version = version
	c.entries = make(map[uint]previewEntry)
}

// Get 读取文件在指定语料库版本下的预览
func (c *PreviewCache) Get(fileID uint, version string) (*Preview, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.advance(version)
	e, ok := c.entries[fileID]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && !c.now().Before(e.expiresAt) {
		delete(c.entries, fileID)
		return nil, false
	}
	return e.preview, true
}

// Set 写入预览，version 与当前版本不同时先作废旧条目
func (c *PreviewCache) Set(fileID uint, version string, p *Preview) {
	if c.maxSize <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.advance(version)
	if _, ok := c.entries[fileID]; !ok && len(c.entries) >= c.maxSize {
		c.evict()
	}
	c.entries[fileID] = previewEntry{preview: p, expiresAt: c.now().Add(c.ttl)}
}

// evict 先清掉过期条目，仍然满时删除最早过期的一条
func (c *PreviewCache) evict() {
	now := c.now()
	var oldest uint
	var oldestAt time.Time
	for id, e := range c.entries {
		if c.ttl > 0 && !now.Before(e.expiresAt) {
			delete(c.entries, id)
			continue
		}
		if oldestAt.IsZero() || e.expiresAt.Before(oldestAt) {
			oldest, oldestAt = id, e.expiresAt
		}
	}
	if len(c.entries) >= c.maxSize && !oldestAt.IsZero() {
		delete(c.entries, oldest)
	}
}

// Forget 删除单个文件的预览
func (c *PreviewCache) Forget(fileID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fileID)
}

// Reset 入库后立即作废全部预览
func (c *PreviewCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version = ""
	c.entries = make(map[uint]previewEntry)
}

// Size 当前条目数
func (c *PreviewCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
