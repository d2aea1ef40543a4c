package tile

import "errors"

var (
	// ErrClosed Manager 已关闭
	ErrClosed = errors.New("tile: manager closed")
	// ErrInvalidOptions 构造参数不合法
	ErrInvalidOptions = errors.New("tile: invalid options")
	// ErrMalformedElevation 高程数据无法解析，瓦片退化为零高程
	ErrMalformedElevation = errors.New("tile: malformed elevation payload")
)
