package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"globe-engine/config"
	"globe-engine/geo"
	"globe-engine/logger"
)

func TestInterpolate(t *testing.T) {
	a := config.Waypoint{Lon: 0, Lat: 0, Altitude: 1000, Heading: 0}
	b := config.Waypoint{Lon: 10, Lat: -20, Altitude: 100000, Heading: 90, Tilt: 30}

	if got := interpolate(a, b, 0); got != a {
		t.Errorf("t=0: %+v", got)
	}
	mid := interpolate(a, b, 0.5)
	if mid.Lon != 5 || mid.Lat != -10 || mid.Heading != 45 || mid.Tilt != 15 {
		t.Errorf("t=0.5: %+v", mid)
	}
	// 高度按对数插值，中点是几何平均
	if math.Abs(mid.Altitude-10000) > 1e-6 {
		t.Errorf("中点高度 = %f, want 10000", mid.Altitude)
	}
	// 有一端不为正时退回线性插值
	a.Altitude = 0
	if got := interpolate(a, b, 0.5).Altitude; got != 50000 {
		t.Errorf("线性插值高度 = %f", got)
	}
}

func TestCameras(t *testing.T) {
	p := config.Default().Prefetch
	p.Steps = 4
	p.Path = []config.Waypoint{
		{Lon: 116.4, Lat: 39.9, Altitude: 20000},
		{Lon: 121.5, Lat: 31.2, Altitude: 5000},
		{Lon: 113.3, Lat: 23.1, Altitude: 8000},
	}
	cams := cameras(p)
	if len(cams) != 2*4+1 {
		t.Fatalf("相机数 = %d, want 9", len(cams))
	}
	if cams[0].Lon != 116.4 || cams[4].Lon != 121.5 || cams[8].Lon != 113.3 {
		t.Errorf("路径点未落在整步上: %v %v %v", cams[0].Lon, cams[4].Lon, cams[8].Lon)
	}
	for _, c := range cams {
		if c.Fov != p.Fov {
			t.Fatalf("视场角 = %f", c.Fov)
		}
	}

	p.Path = nil
	cams = cameras(p)
	if len(cams) != 4 || cams[0].Altitude != 2*geo.WGS84Radius {
		t.Errorf("空路径应使用默认相机: %d %+v", len(cams), cams[0])
	}
}

type tileServer struct {
	*httptest.Server
	hits atomic.Int64
}

func newTileServer(t *testing.T) *tileServer {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.NRGBA{R: 0x20, A: 0xff})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	payload := buf.Bytes()

	ts := &tileServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func testConfig(url, dir string) *config.Config {
	cfg := config.Default()
	cfg.Imagery.URL = url + "/{z}/{x}/{y}.png"
	cfg.Tiles.CoordinateSystem = "flat"
	cfg.Tiles.MaxLoadedTiles = 256
	cfg.Tiles.MaxLevel = 3
	cfg.Cache.Backend = "bbolt"
	cfg.Cache.Dir = dir
	cfg.Prefetch.Steps = 3
	cfg.Prefetch.MaxFrames = 500
	cfg.Prefetch.Width = 256
	cfg.Prefetch.Height = 256
	cfg.Prefetch.Path = []config.Waypoint{
		{Lon: 10, Lat: 10, Altitude: geo.WGS84Radius},
	}
	return cfg
}

func runOnce(t *testing.T, cfg *config.Config) report {
	t.Helper()
	r, err := newRunner(cfg, &logger.NopLogger{})
	if err != nil {
		t.Fatalf("初始化失败: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rep, err := r.Run(ctx)
	if cerr := r.Close(); cerr != nil {
		t.Errorf("关闭失败: %v", cerr)
	}
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}
	return rep
}

// TestPrefetchWarmsCache 第二次沿同一路径运行时全部请求命中持久化缓存
func TestPrefetchWarmsCache(t *testing.T) {
	ts := newTileServer(t)
	cfg := testConfig(ts.URL, t.TempDir())
	if err := cfg.Validate(); err != nil {
		t.Fatalf("测试配置无效: %v", err)
	}

	first := runOnce(t, cfg)
	if first.Frames == 0 || first.Requested == 0 || first.Loaded == 0 {
		t.Fatalf("首次运行没有加载瓦片: %s", first)
	}
	if first.Errors != 0 {
		t.Errorf("首次运行失败 %d 个", first.Errors)
	}
	hits := ts.hits.Load()
	if hits == 0 {
		t.Fatal("首次运行没有访问瓦片服务")
	}

	second := runOnce(t, cfg)
	if second.Loaded == 0 || second.Errors != 0 {
		t.Errorf("第二次运行: %s", second)
	}
	if got := ts.hits.Load(); got != hits {
		t.Errorf("第二次运行仍访问了服务 %d 次", got-hits)
	}
}

func TestPrefetchStopsAtMaxFrames(t *testing.T) {
	ts := newTileServer(t)
	cfg := testConfig(ts.URL, t.TempDir())
	cfg.Cache.Backend = "memory"
	cfg.Prefetch.MaxFrames = 2

	rep := runOnce(t, cfg)
	if rep.Frames != 2 {
		t.Errorf("帧数 = %d, want 2", rep.Frames)
	}
}

func TestHealthServer(t *testing.T) {
	hs, err := startHealth("127.0.0.1:0", &logger.NopLogger{})
	if err != nil {
		t.Fatal(err)
	}
	defer hs.Stop()

	conn, err := grpc.NewClient(hs.addr.String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		t.Fatalf("健康检查失败: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("状态 = %v, want SERVING", resp.GetStatus())
	}
}
