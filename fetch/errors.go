package fetch

import (
	"errors"
	"fmt"
)

// 错误定义
var (
	// ErrNoHandle 没有空闲的传输句柄（句柄池已关闭或等待被取消）
	ErrNoHandle = errors.New("no transport handle available")

	// ErrStatus 服务器返回非 2xx 状态码，具体状态码见 *StatusError
	ErrStatus = errors.New("unexpected http status")

	// ErrInvalidURL 无效的 URL
	ErrInvalidURL = errors.New("invalid URL")

	// ErrUnknownFingerprint 未知的 TLS 指纹名称
	ErrUnknownFingerprint = errors.New("unknown TLS fingerprint")
)

// StatusError 携带 HTTP 状态码的错误，errors.Is(err, ErrStatus) 为 true
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d %s", ErrStatus, e.Code, e.URL)
}

func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// StatusCode 从错误链中取出 HTTP 状态码，没有则返回 0
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
