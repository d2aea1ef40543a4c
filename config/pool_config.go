package config

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"globe-engine/fetch"
	"globe-engine/logger"
	"globe-engine/provider"
	"globe-engine/tiling"
)

// TilesSection 瓦片管理配置段：划分、网格、并发请求与资源预算
type TilesSection struct {
	Tiling           string `toml:"tiling" yaml:"tiling"` // geo、mercator、healpix
	NX               int    `toml:"nx" yaml:"nx"`
	NY               int    `toml:"ny" yaml:"ny"`
	CoordinateSystem string `toml:"coordinate_system" yaml:"coordinate_system"` // sphere、flat

	Tessellation       int     `toml:"tessellation" yaml:"tessellation"`
	TextureSize        int     `toml:"texture_size" yaml:"texture_size"`
	PixelSizeThreshold float64 `toml:"pixel_size_threshold" yaml:"pixel_size_threshold"`
	MaxLevel           int     `toml:"max_level" yaml:"max_level"`
	MaxRequests        int     `toml:"max_requests" yaml:"max_requests"`
	EvictAfterFrames   int     `toml:"evict_after_frames" yaml:"evict_after_frames"`
	// MaxLoadedTiles 0 表示按主机内存推算
	MaxLoadedTiles int `toml:"max_loaded_tiles" yaml:"max_loaded_tiles"`
}

// TransportSection 网络传输配置段
type TransportSection struct {
	Timeout     int    `toml:"timeout" yaml:"timeout"`           // 秒
	DialTimeout int    `toml:"dial_timeout" yaml:"dial_timeout"` // 秒
	UserAgent   string `toml:"user_agent" yaml:"user_agent"`
	// Fingerprint 非空时使用 uTLS 指纹传输层
	Fingerprint string `toml:"fingerprint" yaml:"fingerprint"`
}

func defaultTiles() TilesSection {
	return TilesSection{
		Tiling:             "geo",
		NX:                 4,
		NY:                 2,
		CoordinateSystem:   "sphere",
		Tessellation:       9,
		TextureSize:        256,
		PixelSizeThreshold: 256,
		MaxLevel:           22,
		MaxRequests:        2,
		EvictAfterFrames:   60,
	}
}

// validateTiles 验证瓦片配置段
// 输入: t - 瓦片配置段
// 输出: error - 错误信息
func validateTiles(t *TilesSection) error {
	if _, err := tiling.New(t.Tiling, t.NX, t.NY); err != nil {
		return fmt.Errorf("%w: tiles.tiling: %v", ErrInvalid, err)
	}
	switch t.CoordinateSystem {
	case "", "sphere", "flat":
	default:
		return fmt.Errorf("%w: 不支持的 tiles.coordinate_system: %s", ErrInvalid, t.CoordinateSystem)
	}
	if t.Tessellation < 3 || t.Tessellation > 255 || t.Tessellation%2 == 0 {
		return fmt.Errorf("%w: tiles.tessellation 必须是 [3,255] 内的奇数, got %d", ErrInvalid, t.Tessellation)
	}
	if t.MaxRequests <= 0 {
		return fmt.Errorf("%w: tiles.max_requests 必须大于0", ErrInvalid)
	}
	if t.PixelSizeThreshold <= 0 {
		return fmt.Errorf("%w: tiles.pixel_size_threshold 必须大于0", ErrInvalid)
	}
	if t.EvictAfterFrames <= 0 {
		return fmt.Errorf("%w: tiles.evict_after_frames 必须大于0", ErrInvalid)
	}
	if t.MaxLevel < 0 || t.MaxLevel > tiling.MaxLevel {
		return fmt.Errorf("%w: tiles.max_level 必须在 [0,%d] 内", ErrInvalid, tiling.MaxLevel)
	}
	if t.MaxLoadedTiles < 0 || t.TextureSize < 0 {
		return fmt.Errorf("%w: tiles 中的数值不能为负", ErrInvalid)
	}
	return nil
}

// validateSources 影像源必填，高程源可选，二者的模板与格式都要能解析
func validateSources(c *Config) error {
	if c.Imagery.URL == "" {
		return fmt.Errorf("%w: imagery.url 不能为空", ErrInvalid)
	}
	tl, err := c.Tiling()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := provider.NewTemplate(c.Imagery.URL, tl, c.Imagery.Subdomains...); err != nil {
		return fmt.Errorf("%w: imagery.url: %v", ErrInvalid, err)
	}
	if c.Elevation.URL == "" {
		return nil
	}
	if _, err := provider.NewElevation(c.Elevation.URL, tl, c.Elevation.Format, c.Elevation.Subdomains...); err != nil {
		return fmt.Errorf("%w: elevation: %v", ErrInvalid, err)
	}
	return nil
}

func validateTransport(t *TransportSection) error {
	if t.Timeout <= 0 || t.DialTimeout <= 0 {
		return fmt.Errorf("%w: transport.timeout 与 transport.dial_timeout 必须大于0", ErrInvalid)
	}
	if t.Fingerprint != "" {
		if _, err := fetch.Fingerprint(t.Fingerprint); err != nil {
			return fmt.Errorf("%w: transport.fingerprint: %v", ErrInvalid, err)
		}
	}
	return nil
}

// 推算的已加载瓦片预算范围
const (
	MinTileBudget = 64
	MaxTileBudget = 8192
	// fallbackTileBudget 无法读取主机内存时使用
	fallbackTileBudget = 512
	// memoryShare 推算时使用可用内存的比例
	memoryShare = 0.125
)

// TileBytes 一个已加载瓦片占用的 GPU 内存估算：RGBA 纹理加顶点缓冲
func TileBytes(textureSize, tessellation int) int {
	if textureSize <= 0 {
		textureSize = 256
	}
	return textureSize*textureSize*4 + tessellation*tessellation*5*4
}

// ResolveTileBudget 已加载瓦片预算
// 输入: t - 瓦片配置段, log - 日志（可为空）
// 输出: 配置了 max_loaded_tiles 时原样返回，否则按可用内存的 1/8 推算并限制在 [MinTileBudget, MaxTileBudget]
func ResolveTileBudget(t TilesSection, log logger.Logger) int {
	if t.MaxLoadedTiles > 0 {
		return t.MaxLoadedTiles
	}
	log = logger.OrGlobal(log)
	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Warn("[Config] 读取主机内存失败，瓦片预算使用 %d: %v", fallbackTileBudget, err)
		return fallbackTileBudget
	}
	budget := int(float64(vm.Available) * memoryShare / float64(TileBytes(t.TextureSize, t.Tessellation)))
	if budget < MinTileBudget {
		budget = MinTileBudget
	}
	if budget > MaxTileBudget {
		budget = MaxTileBudget
	}
	log.Debug("[Config] 可用内存 %d MB，瓦片预算 %d", vm.Available>>20, budget)
	return budget
}
