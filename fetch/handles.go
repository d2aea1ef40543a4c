package fetch

import (
	"context"

	"globe-engine/logger"
)

// Handles 固定容量的可复用句柄池
// 句柄在创建时一次性分配，借出的句柄在 Release 之前不会再次借出，池中句柄数永远不超过容量。
type Handles[T any] struct {
	free     chan T
	capacity int
	log      logger.Logger
}

// NewHandles 创建容量为 n 的句柄池，newHandle 为第 i 个句柄构造实例
func NewHandles[T any](n int, newHandle func(i int) T, log logger.Logger) *Handles[T] {
	if n <= 0 {
		n = 1
	}
	h := &Handles[T]{
		free:     make(chan T, n),
		capacity: n,
		log:      logger.OrGlobal(log),
	}
	for i := 0; i < n; i++ {
		h.free <- newHandle(i)
	}
	return h
}

// TryAcquire 非阻塞地借出一个句柄
func (h *Handles[T]) TryAcquire() (T, bool) {
	select {
	case v := <-h.free:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Acquire 等待直到有空闲句柄或 ctx 结束
func (h *Handles[T]) Acquire(ctx context.Context) (T, error) {
	select {
	case v := <-h.free:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ErrNoHandle
	}
}

// Release 归还句柄，可从任意协程调用
func (h *Handles[T]) Release(v T) {
	select {
	case h.free <- v:
	default:
		// 池已满，说明同一句柄被重复归还
		h.log.Warn("句柄池已满，忽略重复归还的句柄")
	}
}

// InUse 已借出的句柄数
func (h *Handles[T]) InUse() int { return h.capacity - len(h.free) }

// Cap 句柄池容量
func (h *Handles[T]) Cap() int { return h.capacity }
