package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"globe-engine/geo"
	"globe-engine/logger"
	"globe-engine/tiling"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入 %s 失败: %v", path, err)
	}
}

const sampleTOML = `
[log]
level = "debug"

[tiles]
tiling = "mercator"
tessellation = 17
max_requests = 6
coordinate_system = "flat"

[imagery]
url = "https://{s}.tile.example.com/{z}/{x}/{y}.png"
subdomains = ["a", "b", "c"]

[elevation]
url = "https://dem.example.com/{z}/{x}/{y}.hgt"
format = "int16"

[cache]
backend = "bbolt"
dir = "/var/cache/globe"
memory_items = 2048

[[prefetch.path]]
lon = 116.4
lat = 39.9
altitude = 20000

[[prefetch.path]]
lon = 121.5
lat = 31.2
altitude = 5000
heading = 90
`

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "globe.toml")
	writeFile(t, path, sampleTOML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Tiles.Tiling != "mercator" || cfg.Tiles.Tessellation != 17 || cfg.Tiles.MaxRequests != 6 {
		t.Errorf("tiles = %+v", cfg.Tiles)
	}
	// 文件中未出现的字段保留默认值
	if cfg.Tiles.PixelSizeThreshold != 256 || cfg.Tiles.EvictAfterFrames != 60 || cfg.Transport.Timeout != 30 {
		t.Errorf("默认值被覆盖: tiles=%+v transport=%+v", cfg.Tiles, cfg.Transport)
	}
	want := []Waypoint{
		{Lon: 116.4, Lat: 39.9, Altitude: 20000},
		{Lon: 121.5, Lat: 31.2, Altitude: 5000, Heading: 90},
	}
	if diff := cmp.Diff(want, cfg.Prefetch.Path); diff != "" {
		t.Errorf("路径不符 (-want +got):\n%s", diff)
	}
	if _, ok := cfg.CoordinateSystem().(geo.Flat); !ok {
		t.Errorf("坐标系 = %T, want geo.Flat", cfg.CoordinateSystem())
	}
	tl, err := cfg.Tiling()
	if err != nil || tl.Name() != "mercator" {
		t.Errorf("Tiling = %v, %v", tl, err)
	}
	cc := cfg.CacheConfig(nil)
	if cc.Backend != "bbolt" || cc.MemoryItems != 2048 || cc.PersistBatchSize != 100 {
		t.Errorf("缓存配置 = %+v", cc)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "globe.yaml")
	writeFile(t, path, `
tiles:
  tiling: geo
  nx: 2
  ny: 1
imagery:
  url: "https://wms.example.com/?BBOX={bbox}"
prefetch:
  width: 640
  height: 480
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	tl, err := cfg.Tiling()
	if err != nil {
		t.Fatal(err)
	}
	if got := len(tl.LevelZero()); got != 2 {
		t.Errorf("0 层瓦片数 = %d, want 2", got)
	}
	if cfg.Prefetch.Width != 640 || cfg.Prefetch.Steps != 30 {
		t.Errorf("prefetch = %+v", cfg.Prefetch)
	}
	if _, ok := cfg.CoordinateSystem().(geo.Sphere); !ok {
		t.Errorf("默认坐标系应为球面, got %T", cfg.CoordinateSystem())
	}
}

// TestLoadMerged 根目录 globe.toml 覆盖 config/globe.toml
func TestLoadMerged(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, filepath.Join(dir, FolderConfigPath), `
[tiles]
max_requests = 3
evict_after_frames = 90

[imagery]
url = "https://base.example.com/{z}/{x}/{y}.png"
`)
	writeFile(t, filepath.Join(dir, RootConfigPath), `
[tiles]
max_requests = 8

[imagery]
url = "https://override.example.com/{quadkey}.jpeg"
`)
	cfg, err := LoadMerged()
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Tiles.MaxRequests != 8 || cfg.Tiles.EvictAfterFrames != 90 {
		t.Errorf("合并结果 tiles = %+v", cfg.Tiles)
	}
	if cfg.Imagery.URL != "https://override.example.com/{quadkey}.jpeg" {
		t.Errorf("imagery.url = %s", cfg.Imagery.URL)
	}
}

func TestLoadMergedMissingFiles(t *testing.T) {
	chdir(t, t.TempDir())
	if _, err := LoadMerged(); !errors.Is(err, ErrInvalid) {
		t.Errorf("没有配置文件时应因缺少 imagery.url 失败, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Imagery.URL = "https://tile.example.com/{z}/{x}/{y}.png"
		return c
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("有效配置校验失败: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"偶数细分", func(c *Config) { c.Tiles.Tessellation = 8 }},
		{"细分过大", func(c *Config) { c.Tiles.Tessellation = 257 }},
		{"并发为零", func(c *Config) { c.Tiles.MaxRequests = 0 }},
		{"阈值为零", func(c *Config) { c.Tiles.PixelSizeThreshold = 0 }},
		{"未知划分", func(c *Config) { c.Tiles.Tiling = "s2" }},
		{"根瓦片过多", func(c *Config) { c.Tiles.NX, c.Tiles.NY = 32, 9 }},
		{"未知坐标系", func(c *Config) { c.Tiles.CoordinateSystem = "ecef" }},
		{"层级越界", func(c *Config) { c.Tiles.MaxLevel = tiling.MaxLevel + 1 }},
		{"预算为负", func(c *Config) { c.Tiles.MaxLoadedTiles = -1 }},
		{"缺少影像源", func(c *Config) { c.Imagery.URL = "" }},
		{"影像模板错误", func(c *Config) { c.Imagery.URL = "https://x/{zoom}" }},
		{"子域名缺失", func(c *Config) { c.Imagery.URL = "https://{s}.x/{z}" }},
		{"高程格式未知", func(c *Config) { c.Elevation.URL = "https://dem/{z}"; c.Elevation.Format = "tiff" }},
		{"未知指纹", func(c *Config) { c.Transport.Fingerprint = "netscape" }},
		{"超时为零", func(c *Config) { c.Transport.Timeout = 0 }},
		{"未知后端", func(c *Config) { c.Cache.Backend = "leveldb" }},
		{"持久化缺少目录", func(c *Config) { c.Cache.Backend = "sqlite" }},
		{"日志级别", func(c *Config) { c.Log.Level = "verbose" }},
		{"视口为零", func(c *Config) { c.Prefetch.Width = 0 }},
		{"视场角", func(c *Config) { c.Prefetch.Fov = 180 }},
	}
	for _, tt := range tests {
		c := valid()
		tt.mutate(c)
		if err := c.Validate(); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: err = %v, want ErrInvalid", tt.name, err)
		}
	}
}

func TestLoadInvalidSyntax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	writeFile(t, path, "[tiles\nmax_requests = ")
	if _, err := Load(path); err == nil {
		t.Error("语法错误的文件应加载失败")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("不存在的文件应加载失败")
	}
}

func TestResolveTileBudget(t *testing.T) {
	tiles := defaultTiles()
	tiles.MaxLoadedTiles = 300
	if got := ResolveTileBudget(tiles, &logger.NopLogger{}); got != 300 {
		t.Errorf("显式预算 = %d, want 300", got)
	}
	tiles.MaxLoadedTiles = 0
	got := ResolveTileBudget(tiles, &logger.NopLogger{})
	if got < MinTileBudget || got > MaxTileBudget {
		t.Errorf("推算预算 %d 超出 [%d,%d]", got, MinTileBudget, MaxTileBudget)
	}
	if b := TileBytes(256, 9); b != 256*256*4+81*20 {
		t.Errorf("TileBytes = %d", b)
	}
}

func TestNewLogger(t *testing.T) {
	c := Default()
	c.Log.File = filepath.Join(t.TempDir(), "globe.log")
	l, err := c.NewLogger()
	if err != nil {
		t.Fatal(err)
	}
	l.Info("写入 %d", 1)
	data, err := os.ReadFile(c.Log.File)
	if err != nil || len(data) == 0 {
		t.Errorf("日志文件内容为空: %v", err)
	}
}

// chdir 切换工作目录并在测试结束时恢复（等价于 Go 1.24 的 t.Chdir）
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(old) })
}
