package fetch

import (
	"context"
	"errors"

	"globe-engine/cache"
	"globe-engine/logger"
)

// Cached 先查缓存，未命中时回源并写回缓存
// 缓存故障只记录日志，不影响回源结果。
type Cached struct {
	next  Fetcher
	store cache.Store
	log   logger.Logger
}

// NewCached 用 store 包装 next
func NewCached(next Fetcher, store cache.Store, log logger.Logger) *Cached {
	return &Cached{next: next, store: store, log: logger.OrGlobal(log)}
}

func (c *Cached) Fetch(ctx context.Context, url string) ([]byte, error) {
	data, err := c.store.Get(ctx, url)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		c.log.Warn("读取缓存 %s 失败: %v", url, err)
	}

	data, err = c.next.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := c.store.Put(ctx, url, data); err != nil {
		c.log.Warn("写入缓存 %s 失败: %v", url, err)
	}
	return data, nil
}
