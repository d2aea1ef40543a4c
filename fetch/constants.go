package fetch

import (
	"time"

	utls "github.com/refraction-networking/utls"
)

// 网络相关常量
const (
	// DefaultHTTPSPort HTTPS默认端口
	DefaultHTTPSPort = "443"

	// DefaultHTTPPort HTTP默认端口
	DefaultHTTPPort = "80"

	// DefaultTimeout 单次瓦片请求超时
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent 默认 User-Agent
	DefaultUserAgent = "globe-engine/1.0"

	// DefaultMaxIdle 每个主机保留的空闲连接数
	DefaultMaxIdle = 4

	// MaxPayloadSize 单个瓦片响应体上限
	MaxPayloadSize = 32 << 20
)

// fingerprints 可选的 TLS ClientHello 指纹
var fingerprints = map[string]utls.ClientHelloID{
	"chrome":  utls.HelloChrome_Auto,
	"firefox": utls.HelloFirefox_Auto,
	"safari":  utls.HelloSafari_Auto,
	"edge":    utls.HelloEdge_Auto,
	"ios":     utls.HelloIOS_Auto,
	"random":  utls.HelloRandomized,
	"golang":  utls.HelloGolang,
}

// Fingerprint 按名称查找 TLS 指纹，空名称返回 chrome
func Fingerprint(name string) (utls.ClientHelloID, error) {
	if name == "" {
		name = "chrome"
	}
	id, ok := fingerprints[name]
	if !ok {
		return utls.ClientHelloID{}, ErrUnknownFingerprint
	}
	return id, nil
}
