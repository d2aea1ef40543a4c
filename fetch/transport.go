package fetch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"

	"globe-engine/logger"
)

// UTLSTransport 使用 uTLS 模拟浏览器 TLS 指纹的 http.RoundTripper
// ALPN 协商出 h2 时复用每个主机的 HTTP/2 连接，否则每个请求使用一条 HTTP/1.1 连接。
type UTLSTransport struct {
	HelloID            utls.ClientHelloID
	DialTimeout        time.Duration
	InsecureSkipVerify bool
	// Plain 处理非 https 请求，为空时使用 http.DefaultTransport
	Plain  http.RoundTripper
	Logger logger.Logger

	mu sync.Mutex
	h2 map[string]*http2.ClientConn
}

// NewUTLSTransport 按指纹名称创建传输层
func NewUTLSTransport(fingerprint string, dialTimeout time.Duration, log logger.Logger) (*UTLSTransport, error) {
	id, err := Fingerprint(fingerprint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, fingerprint)
	}
	if dialTimeout <= 0 {
		dialTimeout = DefaultTimeout
	}
	return &UTLSTransport{HelloID: id, DialTimeout: dialTimeout, Logger: log}, nil
}

// RoundTrip 执行一个完整的HTTP请求-响应周期。
func (t *UTLSTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		plain := t.Plain
		if plain == nil {
			plain = http.DefaultTransport
		}
		return plain.RoundTrip(req)
	}
	host := req.URL.Hostname()
	port := req.URL.Port()
	if port == "" {
		port = DefaultHTTPSPort
	}
	addr := net.JoinHostPort(host, port)

	if cc := t.cachedH2(addr); cc != nil {
		resp, err := cc.RoundTrip(req)
		if err == nil {
			return resp, nil
		}
		// 连接失效，关闭后重新建立
		t.dropH2(addr, cc)
		logger.OrGlobal(t.Logger).Debug("HTTP/2 连接 %s 失效, 重新连接: %v", addr, err)
	}

	conn, err := t.dial(req.Context(), addr, host)
	if err != nil {
		return nil, err
	}

	if conn.ConnectionState().NegotiatedProtocol == "h2" {
		cc, err := (&http2.Transport{}).NewClientConn(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("创建 HTTP/2 连接失败: %w", err)
		}
		t.storeH2(addr, cc)
		return cc.RoundTrip(req)
	}
	return t.roundTripH1(conn, req)
}

func (t *UTLSTransport) roundTripH1(conn *utls.UConn, req *http.Request) (*http.Response, error) {
	if deadline, ok := req.Context().Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	r := req.Clone(req.Context())
	r.Close = true
	if err := r.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), r)
	if err != nil {
		conn.Close()
		return nil, err
	}
	resp.Body = &connBody{ReadCloser: resp.Body, conn: conn}
	return resp, nil
}

// dial 建立 TCP 连接并完成 uTLS 握手，失败时关闭已建立的连接
func (t *UTLSTransport) dial(ctx context.Context, addr, serverName string) (*utls.UConn, error) {
	dialer := &net.Dialer{Timeout: t.DialTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("TCP连接失败: %w", err)
	}

	success := false
	defer func() {
		if !success {
			tcpConn.Close()
		}
	}()

	uconn := utls.UClient(tcpConn, &utls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: t.InsecureSkipVerify,
		NextProtos:         []string{"h2", "http/1.1"},
		OmitEmptyPsk:       true,
	}, t.HelloID)

	hctx := ctx
	if t.DialTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, t.DialTimeout)
		defer cancel()
	}
	if err := uconn.HandshakeContext(hctx); err != nil {
		return nil, fmt.Errorf("TLS握手失败: %w", err)
	}
	success = true
	return uconn, nil
}

func (t *UTLSTransport) cachedH2(addr string) *http2.ClientConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	cc := t.h2[addr]
	if cc != nil && !cc.CanTakeNewRequest() {
		delete(t.h2, addr)
		cc.Close()
		return nil
	}
	return cc
}

func (t *UTLSTransport) storeH2(addr string, cc *http2.ClientConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.h2 == nil {
		t.h2 = make(map[string]*http2.ClientConn)
	}
	if old := t.h2[addr]; old != nil && old != cc {
		old.Close()
	}
	t.h2[addr] = cc
}

func (t *UTLSTransport) dropH2(addr string, cc *http2.ClientConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.h2[addr] == cc {
		delete(t.h2, addr)
	}
	cc.Close()
}

// CloseIdleConnections 关闭所有缓存的 HTTP/2 连接
func (t *UTLSTransport) CloseIdleConnections() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, cc := range t.h2 {
		cc.Close()
		delete(t.h2, addr)
	}
}

// connBody 响应体读完关闭时一并关闭底层连接
type connBody struct {
	io.ReadCloser
	conn net.Conn
}

func (b *connBody) Close() error {
	err := b.ReadCloser.Close()
	if cerr := b.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
