package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"globe-engine/logger"
)

// LayeredOptions 分层存储配置
type LayeredOptions struct {
	// Persist 最底层的持久化存储，可为空
	Persist Store
	// Async 为 true 时写入先落到快速层，持久化由后台批量完成
	Async bool
	// 异步持久化批次大小（默认 100）
	BatchSize int
	// 异步持久化间隔（默认 5 秒）
	Interval time.Duration
	Logger   logger.Logger
}

// persistTask 持久化任务
type persistTask struct {
	key   string
	value []byte
}

// Layered 由快到慢排列的多层存储
// 读取时逐层查找，命中后回填上层；写入时写所有快速层，持久化层同步或异步写入。
type Layered struct {
	fast    []Store
	persist Store
	opts    LayeredOptions
	log     logger.Logger

	// mu 保护 closed，Put 持有读锁期间 persistQueue 不会被关闭
	mu           sync.RWMutex
	closed       bool
	persistQueue chan persistTask
	persistWg    sync.WaitGroup
}

// NewLayered 创建分层存储，fast 按从快到慢的顺序排列
func NewLayered(opts LayeredOptions, fast ...Store) *Layered {
	l := &Layered{
		fast:    fast,
		persist: opts.Persist,
		opts:    opts,
		log:     logger.OrGlobal(opts.Logger),
	}
	if opts.Async && opts.Persist != nil {
		if l.opts.BatchSize <= 0 {
			l.opts.BatchSize = 100
		}
		if l.opts.Interval <= 0 {
			l.opts.Interval = 5 * time.Second
		}
		l.persistQueue = make(chan persistTask, l.opts.BatchSize*10) // 队列容量是批次的10倍
		l.startPersistWorker()
	}
	return l
}

func (l *Layered) layers() []Store {
	if l.persist == nil {
		return l.fast
	}
	return append(append([]Store(nil), l.fast...), l.persist)
}

// Get 逐层读取，命中后回填更快的层
func (l *Layered) Get(ctx context.Context, key string) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}
	all := l.layers()
	for i, s := range all {
		data, err := s.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				l.log.Warn("缓存第 %d 层读取 %s 失败: %v", i, key, err)
			}
			continue
		}
		for _, upper := range all[:i] {
			if err := upper.Put(ctx, key, data); err != nil {
				l.log.Warn("回填缓存 %s 失败: %v", key, err)
			}
		}
		return data, nil
	}
	return nil, ErrNotFound
}

// Put 写入所有快速层；持久化失败（同步模式）时返回错误，Close 之后返回 ErrClosed
func (l *Layered) Put(ctx context.Context, key string, value []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	for _, s := range l.fast {
		if err := s.Put(ctx, key, value); err != nil {
			l.log.Warn("写入缓存 %s 失败: %v", key, err)
		}
	}
	if l.persist == nil {
		return nil
	}
	if l.persistQueue != nil {
		select {
		case l.persistQueue <- persistTask{key: key, value: value}:
		default:
			// 队列满，快速层已写入，本条不再持久化
			l.log.Warn("持久化队列已满，丢弃 %s", key)
		}
		return nil
	}
	return l.persist.Put(ctx, key, value)
}

func (l *Layered) Delete(ctx context.Context, key string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	var errs []error
	for _, s := range l.layers() {
		if err := s.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PendingPersist 待持久化任务数量
func (l *Layered) PendingPersist() int {
	if l.persistQueue == nil {
		return 0
	}
	return len(l.persistQueue)
}

// Close 刷新剩余的持久化任务并关闭所有层，重复调用返回 nil
func (l *Layered) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	if l.persistQueue != nil {
		close(l.persistQueue)
	}
	l.mu.Unlock()

	l.persistWg.Wait()
	var errs []error
	for _, s := range l.layers() {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// startPersistWorker 启动异步持久化 worker
func (l *Layered) startPersistWorker() {
	l.persistWg.Add(1)
	go func() {
		defer l.persistWg.Done()

		ticker := time.NewTicker(l.opts.Interval)
		defer ticker.Stop()

		batch := make(map[string][]byte)
		flushBatch := func() {
			if len(batch) == 0 {
				return
			}
			ctx := context.Background()
			var err error
			if b, ok := l.persist.(Batcher); ok {
				err = b.PutBatch(ctx, batch)
			} else {
				for k, v := range batch {
					if err = l.persist.Put(ctx, k, v); err != nil {
						break
					}
				}
			}
			if err != nil {
				l.log.Warn("批量持久化 %d 条失败: %v", len(batch), err)
			} else {
				l.log.Debug("批量持久化 %d 条", len(batch))
			}
			batch = make(map[string][]byte)
		}

		for {
			select {
			case task, ok := <-l.persistQueue:
				if !ok {
					// 队列已关闭，刷新剩余数据后退出
					flushBatch()
					return
				}
				batch[task.key] = task.value
				if len(batch) >= l.opts.BatchSize {
					flushBatch()
				}
			case <-ticker.C:
				flushBatch()
			}
		}
	}()
}
