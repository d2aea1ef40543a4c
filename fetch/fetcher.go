// Package fetch 负责瓦片数据的网络获取：固定容量的传输句柄池、带并发请求合并的 HTTP 获取器、
// 可选的 uTLS 指纹传输层，以及响应缓存装饰器。
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"globe-engine/logger"
)

// Fetcher 按 URL 获取完整的响应体
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc 函数适配器
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

// HTTPOptions HTTP 获取器配置
type HTTPOptions struct {
	// Transport 为空时使用 http.DefaultTransport
	Transport http.RoundTripper
	Timeout   time.Duration
	UserAgent string
	Logger    logger.Logger
}

// HTTPFetcher 基于 net/http 的获取器，同一 URL 的并发请求只发出一次
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	group     singleflight.Group
	log       logger.Logger
}

// NewHTTPFetcher 创建 HTTP 获取器
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	return &HTTPFetcher{
		client:    &http.Client{Transport: opts.Transport, Timeout: opts.Timeout},
		userAgent: opts.UserAgent,
		log:       logger.OrGlobal(opts.Logger),
	}
}

// Fetch 获取 URL 的响应体
// 合并后的请求不随单个调用方取消，调用方的 ctx 结束时立即返回 ctx 的错误。
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	ch := f.group.DoChan(url, func() (any, error) {
		return f.get(context.WithoutCancel(ctx), url)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *HTTPFetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 %s 失败: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, URL: url}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("读取响应 %s 失败: %w", url, err)
	}
	if len(data) > MaxPayloadSize {
		return nil, fmt.Errorf("响应 %s 超过 %d 字节", url, MaxPayloadSize)
	}
	f.log.Debug("获取 %s 完成, %d 字节", url, len(data))
	return data, nil
}
