// Package cache 是瓦片响应的可选缓存：内存 LRU、Redis、bbolt、SQLite 四种后端，
// 以及按 内存 → Redis → 持久化 顺序读穿并回填的分层存储。
package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"globe-engine/logger"
)

var (
	// ErrNotFound 键不存在
	ErrNotFound = errors.New("cache: not found")
	// ErrClosed 存储已关闭
	ErrClosed = errors.New("cache: closed")
)

// Store 按字符串键存取字节数据，实现必须支持并发调用
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Batcher 支持单事务批量写入的存储
type Batcher interface {
	PutBatch(ctx context.Context, records map[string][]byte) error
}

// 持久化后端类型
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendBBolt  = "bbolt"
	BackendSQLite = "sqlite"
)

// Config 缓存配置
type Config struct {
	// 持久化后端：none、memory（仅内存）、bbolt、sqlite
	Backend string
	// 持久化数据库目录
	Dir string
	// Redis 地址（为空则不使用 Redis 层）
	RedisAddr string
	// Redis 过期时间（0 表示永不过期）
	Expiration time.Duration
	// 内存层条目数（0 表示不使用内存层）
	MemoryItems int
	// 是否启用异步持久化
	AsyncPersist bool
	// 异步持久化批次大小（默认 100）
	PersistBatchSize int
	// 异步持久化间隔（默认 5 秒）
	PersistInterval time.Duration

	Logger logger.Logger
}

// Open 按配置组装分层存储，backend 为 none 且没有其他层时返回 nil
func Open(cfg Config) (Store, error) {
	var layers []Store
	closeAll := func() {
		for _, s := range layers {
			s.Close()
		}
	}

	if cfg.MemoryItems > 0 || cfg.Backend == BackendMemory {
		items := cfg.MemoryItems
		if items <= 0 {
			items = DefaultMemoryItems
		}
		layers = append(layers, NewMemoryStore(items, cfg.Expiration))
	}
	if cfg.RedisAddr != "" {
		rs, err := NewRedisStore(cfg.RedisAddr, DefaultRedisPrefix, cfg.Expiration)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("Redis 连接失败: %w", err)
		}
		layers = append(layers, rs)
	}

	var persist Store
	switch cfg.Backend {
	case "", BackendNone, BackendMemory:
	case BackendBBolt:
		bs, err := OpenBoltStore(filepath.Join(cfg.Dir, "tiles.bbolt"), DefaultBucket)
		if err != nil {
			closeAll()
			return nil, err
		}
		persist = bs
	case BackendSQLite:
		ss, err := OpenSQLiteStore(filepath.Join(cfg.Dir, "tiles.sqlite"))
		if err != nil {
			closeAll()
			return nil, err
		}
		persist = ss
	default:
		closeAll()
		return nil, fmt.Errorf("不支持的后端类型: %s", cfg.Backend)
	}

	if len(layers) == 0 && persist == nil {
		return nil, nil
	}
	return NewLayered(LayeredOptions{
		Persist:   persist,
		Async:     cfg.AsyncPersist,
		BatchSize: cfg.PersistBatchSize,
		Interval:  cfg.PersistInterval,
		Logger:    cfg.Logger,
	}, layers...), nil
}
