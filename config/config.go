// Package config 读取引擎与预取工具的配置：TOML 或 YAML 文件，默认值、合并与校验。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"globe-engine/cache"
	"globe-engine/geo"
	"globe-engine/logger"
	"globe-engine/tiling"
)

// 默认查找路径
const (
	RootConfigPath   = "globe.toml"
	FolderConfigPath = "config/globe.toml"
)

// ErrInvalid 配置不合法
var ErrInvalid = errors.New("config: invalid")

// LogSection 日志配置段
type LogSection struct {
	Level string `toml:"level" yaml:"level"`
	// File 为空时输出到控制台
	File string `toml:"file" yaml:"file"`
}

// ImagerySection 影像源配置段
type ImagerySection struct {
	URL        string   `toml:"url" yaml:"url"`
	Subdomains []string `toml:"subdomains" yaml:"subdomains"`
}

// ElevationSection 高程源配置段，URL 为空表示不加载高程
type ElevationSection struct {
	URL        string   `toml:"url" yaml:"url"`
	Subdomains []string `toml:"subdomains" yaml:"subdomains"`
	Format     string   `toml:"format" yaml:"format"`
}

// CacheSection 响应缓存配置段
type CacheSection struct {
	Backend         string `toml:"backend" yaml:"backend"`
	Dir             string `toml:"dir" yaml:"dir"`
	RedisAddr       string `toml:"redis_addr" yaml:"redis_addr"`
	MemoryItems     int    `toml:"memory_items" yaml:"memory_items"`
	Expiration      int    `toml:"expiration" yaml:"expiration"` // 秒，0 表示永不过期
	AsyncPersist    bool   `toml:"async_persist" yaml:"async_persist"`
	PersistBatch    int    `toml:"persist_batch" yaml:"persist_batch"`
	PersistInterval int    `toml:"persist_interval" yaml:"persist_interval"` // 秒
}

// Waypoint 预取相机路径上的一个点
type Waypoint struct {
	Lon      float64 `toml:"lon" yaml:"lon"`
	Lat      float64 `toml:"lat" yaml:"lat"`
	Altitude float64 `toml:"altitude" yaml:"altitude"`
	Heading  float64 `toml:"heading" yaml:"heading"`
	Tilt     float64 `toml:"tilt" yaml:"tilt"`
}

// PrefetchSection 预取工具配置段
type PrefetchSection struct {
	Path []Waypoint `toml:"path" yaml:"path"`
	// Steps 相邻路径点之间插值的帧数
	Steps      int     `toml:"steps" yaml:"steps"`
	MaxFrames  int     `toml:"max_frames" yaml:"max_frames"`
	Width      int     `toml:"width" yaml:"width"`
	Height     int     `toml:"height" yaml:"height"`
	Fov        float64 `toml:"fov" yaml:"fov"`
	HealthAddr string  `toml:"health_addr" yaml:"health_addr"`
}

// Config 完整配置
type Config struct {
	Log       LogSection       `toml:"log" yaml:"log"`
	Tiles     TilesSection     `toml:"tiles" yaml:"tiles"`
	Imagery   ImagerySection   `toml:"imagery" yaml:"imagery"`
	Elevation ElevationSection `toml:"elevation" yaml:"elevation"`
	Transport TransportSection `toml:"transport" yaml:"transport"`
	Cache     CacheSection     `toml:"cache" yaml:"cache"`
	Prefetch  PrefetchSection  `toml:"prefetch" yaml:"prefetch"`
}

// Default 默认配置，文件中出现的字段覆盖它
func Default() *Config {
	return &Config{
		Log:   LogSection{Level: "info"},
		Tiles: defaultTiles(),
		Transport: TransportSection{
			Timeout:     30,
			DialTimeout: 10,
			UserAgent:   "globe-engine/1.0",
		},
		Elevation: ElevationSection{Format: "float32"},
		Cache: CacheSection{
			Backend:         cache.BackendNone,
			PersistBatch:    100,
			PersistInterval: 5,
		},
		Prefetch: PrefetchSection{
			Steps:     30,
			MaxFrames: 10000,
			Width:     1024,
			Height:    768,
			Fov:       45,
		},
	}
}

// Load 读取单个配置文件，按扩展名选择 TOML 或 YAML，之后校验
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadMerged 在默认值之上依次合并 config/globe.toml 与 ./globe.toml，之后校验
func LoadMerged() (*Config, error) {
	cfg := Default()
	if err := LoadMergedInto(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadMergedInto 将 config/globe.toml 与项目根目录下的 globe.toml 合并后，解码到 out 指针。
// 合并策略：先加载 config/globe.toml（作为默认值），再加载根目录 globe.toml（作为覆盖）。
// 如果文件不存在则跳过。
func LoadMergedInto(out interface{}) error {
	for _, p := range []string{FolderConfigPath, RootConfigPath} {
		if !fileExists(p) {
			continue
		}
		if err := decodeFile(p, out); err != nil {
			return err
		}
	}
	return nil
}

func decodeFile(path string, out interface{}) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("解析 %s 失败: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, out); err != nil {
			return fmt.Errorf("解析 %s 失败: %w", path, err)
		}
	}
	return nil
}

// Validate 校验全部配置段，错误包装 ErrInvalid
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	if err := validateTiles(&c.Tiles); err != nil {
		return err
	}
	if err := validateSources(c); err != nil {
		return err
	}
	if err := validateTransport(&c.Transport); err != nil {
		return err
	}
	switch c.Cache.Backend {
	case "", cache.BackendNone, cache.BackendMemory:
	case cache.BackendBBolt, cache.BackendSQLite:
		if c.Cache.Dir == "" {
			return fmt.Errorf("%w: cache.dir 不能为空（backend = %s）", ErrInvalid, c.Cache.Backend)
		}
	default:
		return fmt.Errorf("%w: 不支持的 cache.backend: %s", ErrInvalid, c.Cache.Backend)
	}
	if c.Cache.MemoryItems < 0 || c.Cache.Expiration < 0 || c.Cache.PersistBatch < 0 || c.Cache.PersistInterval < 0 {
		return fmt.Errorf("%w: cache 中的数值不能为负", ErrInvalid)
	}
	p := c.Prefetch
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("%w: prefetch 视口 %dx%d", ErrInvalid, p.Width, p.Height)
	}
	if p.Steps <= 0 || p.MaxFrames <= 0 {
		return fmt.Errorf("%w: prefetch.steps 与 prefetch.max_frames 必须大于0", ErrInvalid)
	}
	if p.Fov <= 0 || p.Fov >= 180 {
		return fmt.Errorf("%w: prefetch.fov = %v", ErrInvalid, p.Fov)
	}
	return nil
}

// Tiling 按 tiles 段创建划分策略
func (c *Config) Tiling() (tiling.Tiling, error) {
	return tiling.New(c.Tiles.Tiling, c.Tiles.NX, c.Tiles.NY)
}

// CoordinateSystem 按 tiles.coordinate_system 选择坐标系
func (c *Config) CoordinateSystem() geo.CoordinateSystem {
	if c.Tiles.CoordinateSystem == "flat" {
		return geo.DefaultFlat()
	}
	return geo.DefaultSphere()
}

// NewLogger 按 log 段创建日志记录器；指定文件时同时输出到控制台与文件
func (c *Config) NewLogger() (logger.Logger, error) {
	console := logger.NewLeveled(c.Log.Level)
	if c.Log.File == "" {
		return console, nil
	}
	lv, _ := logger.ParseLevel(c.Log.Level)
	fl, err := logger.NewFileLogger(c.Log.File, lv)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	return logger.NewMultiLogger(console, fl), nil
}

// CacheConfig 转换为缓存包的配置
func (c *Config) CacheConfig(log logger.Logger) cache.Config {
	return cache.Config{
		Backend:          c.Cache.Backend,
		Dir:              c.Cache.Dir,
		RedisAddr:        c.Cache.RedisAddr,
		Expiration:       time.Duration(c.Cache.Expiration) * time.Second,
		MemoryItems:      c.Cache.MemoryItems,
		AsyncPersist:     c.Cache.AsyncPersist,
		PersistBatchSize: c.Cache.PersistBatch,
		PersistInterval:  time.Duration(c.Cache.PersistInterval) * time.Second,
		Logger:           log,
	}
}

// ResolvePath 如果传入相对路径，基于项目根目录返回绝对路径；若已是绝对路径则原样返回。
func ResolvePath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
