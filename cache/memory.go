package cache

import (
	"context"
	"time"

	"github.com/karlseguin/ccache/v3"
)

// DefaultMemoryItems 内存层默认条目数
const DefaultMemoryItems = 4096

// MemoryStore 进程内 LRU
type MemoryStore struct {
	lru *ccache.Cache[[]byte]
	ttl time.Duration
}

// NewMemoryStore 创建最多保存 items 条的内存存储，ttl 为 0 时条目不过期
func NewMemoryStore(items int, ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 100 * 365 * 24 * time.Hour
	}
	return &MemoryStore{
		lru: ccache.New(ccache.Configure[[]byte]().MaxSize(int64(items)).ItemsToPrune(uint32(max(items/16, 1)))),
		ttl: ttl,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	item := m.lru.Get(key)
	if item == nil || item.Expired() {
		return nil, ErrNotFound
	}
	return item.Value(), nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	m.lru.Set(key, value, m.ttl)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.lru.Delete(key)
	return nil
}

// Len 当前条目数
func (m *MemoryStore) Len() int { return m.lru.ItemCount() }

func (m *MemoryStore) Close() error {
	m.lru.Stop()
	return nil
}
