package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"globe-engine/cache"
	"globe-engine/config"
	"globe-engine/fetch"
	"globe-engine/geo"
	"globe-engine/gpu"
	"globe-engine/logger"
	"globe-engine/provider"
	"globe-engine/tile"
	"globe-engine/view"
)

// settleTimeout 单帧等待请求完成的上限
const settleTimeout = 2 * time.Second

// runner 用无头渲染上下文驱动瓦片管理器
type runner struct {
	cfg      *config.Config
	log      logger.Logger
	cs       geo.CoordinateSystem
	headless *gpu.MemoryContext
	tiles    *tile.Manager
	store    cache.Store
}

// report 预取结果
type report struct {
	Frames    int
	Requested int
	Loaded    int
	Errors    int
	Evicted   int
	Pool      gpu.Stats
}

func (r report) String() string {
	return fmt.Sprintf("帧 %d, 请求 %d, 已加载 %d, 失败 %d, 回收 %d, 纹理新建/复用 %d/%d",
		r.Frames, r.Requested, r.Loaded, r.Errors, r.Evicted, r.Pool.CreatedTextures, r.Pool.ReusedTextures)
}

// newRunner 按配置组装 获取器 → 缓存 → 数据源 → 瓦片管理器
func newRunner(cfg *config.Config, log logger.Logger) (*runner, error) {
	log = logger.OrGlobal(log)
	tl, err := cfg.Tiling()
	if err != nil {
		return nil, err
	}
	imagery, err := provider.NewTemplate(cfg.Imagery.URL, tl, cfg.Imagery.Subdomains...)
	if err != nil {
		return nil, err
	}
	var elevation tile.ElevationProvider
	if cfg.Elevation.URL != "" {
		e, err := provider.NewElevation(cfg.Elevation.URL, tl, cfg.Elevation.Format, cfg.Elevation.Subdomains...)
		if err != nil {
			return nil, err
		}
		elevation = e
	}

	httpOpts := fetch.HTTPOptions{
		Timeout:   time.Duration(cfg.Transport.Timeout) * time.Second,
		UserAgent: cfg.Transport.UserAgent,
		Logger:    log,
	}
	if cfg.Transport.Fingerprint != "" {
		tr, err := fetch.NewUTLSTransport(cfg.Transport.Fingerprint, time.Duration(cfg.Transport.DialTimeout)*time.Second, log)
		if err != nil {
			return nil, err
		}
		httpOpts.Transport = tr
	}
	var fetcher fetch.Fetcher = fetch.NewHTTPFetcher(httpOpts)

	store, err := cache.Open(cfg.CacheConfig(log))
	if err != nil {
		return nil, fmt.Errorf("打开缓存失败: %w", err)
	}
	if store != nil {
		fetcher = fetch.NewCached(fetcher, store, log)
	}

	cs := cfg.CoordinateSystem()
	headless := gpu.NewMemoryContext()
	opts := tile.Options{
		Tiling:             tl,
		CoordinateSystem:   cs,
		Imagery:            imagery,
		Fetcher:            fetcher,
		GPU:                headless,
		Tessellation:       cfg.Tiles.Tessellation,
		PixelSizeThreshold: cfg.Tiles.PixelSizeThreshold,
		MaxLevel:           cfg.Tiles.MaxLevel,
		MaxRequests:        cfg.Tiles.MaxRequests,
		EvictAfterFrames:   cfg.Tiles.EvictAfterFrames,
		MaxLoadedTiles:     config.ResolveTileBudget(cfg.Tiles, log),
		Elevation:          elevation,
		Logger:             log,
	}
	m, err := tile.New(opts)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}
	log.Info("瓦片划分 %s, 坐标系 %s, 影像 %s, 已加载瓦片预算 %d",
		tl.Name(), cs.Name(), imagery, opts.MaxLoadedTiles)
	return &runner{cfg: cfg, log: log, cs: cs, headless: headless, tiles: m, store: store}, nil
}

// cameras 把路径点按 steps 插值为逐帧相机
func cameras(p config.PrefetchSection) []view.Camera {
	path := p.Path
	if len(path) == 0 {
		path = []config.Waypoint{{Altitude: 2 * geo.WGS84Radius}}
	}
	var out []view.Camera
	if len(path) == 1 {
		for i := 0; i < p.Steps; i++ {
			out = append(out, camera(path[0], p.Fov))
		}
		return out
	}
	for i := 1; i < len(path); i++ {
		for s := 0; s < p.Steps; s++ {
			out = append(out, camera(interpolate(path[i-1], path[i], float64(s)/float64(p.Steps)), p.Fov))
		}
	}
	return append(out, camera(path[len(path)-1], p.Fov))
}

func camera(w config.Waypoint, fov float64) view.Camera {
	return view.Camera{Lon: w.Lon, Lat: w.Lat, Altitude: w.Altitude, Heading: w.Heading, Tilt: w.Tilt, Fov: fov}
}

// interpolate 经纬度与角度线性插值，高度在两端都为正时按对数插值
func interpolate(a, b config.Waypoint, t float64) config.Waypoint {
	lerp := func(x, y float64) float64 { return x + (y-x)*t }
	alt := lerp(a.Altitude, b.Altitude)
	if a.Altitude > 0 && b.Altitude > 0 {
		alt = math.Exp(lerp(math.Log(a.Altitude), math.Log(b.Altitude)))
	}
	return config.Waypoint{
		Lon:      lerp(a.Lon, b.Lon),
		Lat:      lerp(a.Lat, b.Lat),
		Altitude: alt,
		Heading:  lerp(a.Heading, b.Heading),
		Tilt:     lerp(a.Tilt, b.Tilt),
	}
}

// Run 沿路径逐帧运行，到达终点后继续在终点相机上运行直到没有新的请求
func (r *runner) Run(ctx context.Context) (report, error) {
	p := r.cfg.Prefetch
	var rep report
	frame := func(cam view.Camera) (idle bool, err error) {
		if err := r.tiles.Frame(cam.State(r.cs, p.Width, p.Height)); err != nil {
			return false, err
		}
		r.headless.DrawCalls()
		s := r.tiles.Stats()
		rep.Frames++
		rep.Requested += s.Requested
		if s.InFlight > 0 {
			wait, cancel := context.WithTimeout(ctx, settleTimeout)
			err := r.tiles.AwaitCompletion(wait)
			cancel()
			if err != nil && ctx.Err() != nil {
				return false, ctx.Err()
			}
		}
		return s.Requested == 0 && s.InFlight == 0, nil
	}

	cams := cameras(p)
	for i, cam := range cams {
		if ctx.Err() != nil || rep.Frames >= p.MaxFrames {
			break
		}
		if _, err := frame(cam); err != nil {
			return rep, err
		}
		if i%p.Steps == 0 {
			s := r.tiles.Stats()
			r.log.Debug("[Prefetch] 帧 %d (%.4f, %.4f, %.0fm): 已加载 %d, 加载中 %d",
				rep.Frames, cam.Lon, cam.Lat, cam.Altitude, s.Loaded, s.Loading)
		}
	}
	last := cams[len(cams)-1]
	for ctx.Err() == nil && rep.Frames < p.MaxFrames {
		idle, err := frame(last)
		if err != nil {
			return rep, err
		}
		if idle {
			break
		}
	}

	s := r.tiles.Stats()
	rep.Loaded, rep.Errors, rep.Evicted, rep.Pool = s.Loaded, s.Errors, s.Evicted, s.Pool
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.Canceled) {
		return rep, ctx.Err()
	}
	return rep, nil
}

// Close 关闭瓦片管理器与缓存，异步持久化的数据在 Close 中落盘
func (r *runner) Close() error {
	err := r.tiles.Close()
	if r.store != nil {
		if cerr := r.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
