package vector

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"

	"globe-engine/fetch"
	"globe-engine/geo"
	"globe-engine/gpu"
	"globe-engine/logger"
	"globe-engine/tile"
	"globe-engine/tiling"
	"globe-engine/view"
)

const tileURL = "http://tiles/"

func testPNG(t testing.TB) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.NRGBA{R: 10, G: uint8(x * 16), B: uint8(y * 16), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("编码 PNG 失败: %v", err)
	}
	return buf.Bytes()
}

// gatedFetcher 只为 r0 子树返回影像，其余 404；gate 中的 URL 阻塞到通道关闭
type gatedFetcher struct {
	mu      sync.Mutex
	payload []byte
	gates   map[string]chan struct{}
}

func (f *gatedFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	g := f.gates[url]
	f.mu.Unlock()
	if g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !strings.HasPrefix(url, tileURL+"r0/") {
		return nil, &fetch.StatusError{Code: 404, URL: url}
	}
	return f.payload, nil
}

type keyImagery struct{ tl tiling.Tiling }

func (p keyImagery) URL(a tiling.Address) string { return tileURL + p.tl.Key(a).String() }

type fixture struct {
	tiles *tile.Manager
	ctx   *gpu.MemoryContext
	f     *gatedFetcher
	vm    *Manager
}

func newFixture(t *testing.T, tl tiling.Tiling, maxTiles int, registry *Registry) *fixture {
	t.Helper()
	f := &gatedFetcher{payload: testPNG(t), gates: make(map[string]chan struct{})}
	ctx := gpu.NewMemoryContext()
	tm, err := tile.New(tile.Options{
		Tiling:             tl,
		CoordinateSystem:   geo.DefaultFlat(),
		Imagery:            keyImagery{tl},
		Fetcher:            f,
		GPU:                ctx,
		MaxRequests:        4,
		PixelSizeThreshold: 400,
		EvictAfterFrames:   3,
		Logger:             &logger.NopLogger{},
	})
	if err != nil {
		t.Fatalf("创建瓦片管理器失败: %v", err)
	}
	t.Cleanup(func() { tm.Close() })
	vm, err := New(Options{Tiles: tm, Registry: registry, MaxTilesPerGeometry: maxTiles, Logger: &logger.NopLogger{}})
	if err != nil {
		t.Fatalf("创建矢量管理器失败: %v", err)
	}
	return &fixture{tiles: tm, ctx: ctx, f: f, vm: vm}
}

func (fx *fixture) gate(url string) chan struct{} {
	fx.f.mu.Lock()
	defer fx.f.mu.Unlock()
	g := make(chan struct{})
	fx.f.gates[url] = g
	return g
}

func overhead(center mgl64.Vec3, height float64) *view.State {
	proj := mgl64.Perspective(mgl64.DegToRad(90), 1, 0.01, 100)
	eye := center.Add(mgl64.Vec3{0, 0, height})
	v := mgl64.LookAtV(eye, center, mgl64.Vec3{0, 1, 0})
	return view.New(proj, v, 512, 512)
}

func (fx *fixture) runUntil(t *testing.T, rs *view.State, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if err := fx.tiles.Frame(rs); err != nil {
			t.Fatalf("帧失败: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("条件在超时前未满足")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func keyStrings(keys []tiling.Key) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	return out
}

// countAttachments 统计要素在各瓦片批次中出现的次数
func (fx *fixture) countAttachments(f *Feature) int {
	n := 0
	fx.tiles.Walk(func(tl *tile.Tile) bool {
		if td := fx.vm.TileData(tl.Key); td != nil {
			for _, r := range td.Renderables {
				if r.Contains(f) {
					n++
				}
			}
		}
		return true
	})
	return n
}

func polygon(west, south, east, north float64) orb.Polygon {
	return orb.Polygon{geo.NewBound(west, south, east, north).ToRing()}
}

// TestAttachToOverlappedTiles 覆盖 3 个 0 层瓦片、上限 10：挂接到 3 个瓦片批次，不进入主渲染体
func TestAttachToOverlappedTiles(t *testing.T) {
	fx := newFixture(t, tiling.NewGeoTiling(4, 2), 10, nil)
	f := NewFeature(polygon(-170, 10, 10, 20), NewLayer("边界"), DefaultStyle())
	if err := fx.vm.AddGeometry(f); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"r0/", "r1/", "r2/"}, keyStrings(fx.vm.AttachedKeys(f))); diff != "" {
		t.Errorf("挂接瓦片不符 (-want +got):\n%s", diff)
	}
	if n := fx.countAttachments(f); n != 3 {
		t.Errorf("瓦片批次中出现 %d 次, want 3", n)
	}
	if fx.vm.InMain(f) {
		t.Error("要素不应进入主渲染体")
	}
	for _, b := range fx.vm.Buckets() {
		if b.Main().Contains(f) {
			t.Errorf("%s 的主渲染体包含了要素", b)
		}
	}
}

// TestFanOutCap 覆盖 0 层瓦片数达到上限的要素只进入主渲染体
func TestFanOutCap(t *testing.T) {
	fx := newFixture(t, tiling.NewGeoTiling(3, 3), 5, nil)
	f := NewFeature(polygon(-179, -89, 179, 89), nil, DefaultStyle())
	if err := fx.vm.AddGeometry(f); err != nil {
		t.Fatal(err)
	}
	if n := len(fx.tiles.Overlapping(f.Bound())); n != 9 {
		t.Fatalf("覆盖 %d 个 0 层瓦片, want 9", n)
	}
	if !fx.vm.InMain(f) {
		t.Fatal("要素应进入主渲染体")
	}
	if n := fx.countAttachments(f); n != 0 {
		t.Errorf("瓦片批次中出现 %d 次, want 0", n)
	}
	buckets := fx.vm.Buckets()
	if len(buckets) != 1 || buckets[0].Main().Len() != 1 {
		t.Errorf("桶 = %v", buckets)
	}
}

// TestFanOutCapBoundary 覆盖数与上限的关系决定放置方式，两种放置互斥
func TestFanOutCapBoundary(t *testing.T) {
	fx := newFixture(t, tiling.NewGeoTiling(4, 2), 3, nil)
	bounds := []orb.Bound{
		geo.NewBound(-100, 10, -80, 20), // 2
		geo.NewBound(-100, 10, 10, 20),  // 3
		geo.NewBound(-170, -20, 10, 20), // 6
		geo.NewBound(10, 10, 20, 20),    // 1
	}
	for _, b := range bounds {
		f := NewFeature(orb.Polygon{b.ToRing()}, nil, DefaultStyle())
		if err := fx.vm.AddGeometry(f); err != nil {
			t.Fatal(err)
		}
		n := len(fx.tiles.Overlapping(b))
		tiled := fx.countAttachments(f)
		if n >= 3 {
			if !fx.vm.InMain(f) || tiled != 0 {
				t.Errorf("%v: 覆盖 %d 个瓦片, 主渲染体=%v, 瓦片批次=%d", b, n, fx.vm.InMain(f), tiled)
			}
		} else if fx.vm.InMain(f) || tiled != n {
			t.Errorf("%v: 覆盖 %d 个瓦片, 主渲染体=%v, 瓦片批次=%d", b, n, fx.vm.InMain(f), tiled)
		}
	}
}

// TestWorldEdgeGeometry 经度 180 与纬度 90 上的要素挂接到边界瓦片，不与任何瓦片重叠的要素进入主渲染体
func TestWorldEdgeGeometry(t *testing.T) {
	fx := newFixture(t, tiling.NewGeoTiling(4, 2), 10, nil)
	tests := []struct {
		name string
		g    orb.Geometry
		want []string
	}{
		{"north pole", orb.Point{0, 90}, []string{"r2/"}},
		{"antimeridian point", orb.Point{180, 0}, []string{"r3/"}},
		{"antimeridian line", orb.LineString{{180, -10}, {180, 10}}, []string{"r3/", "r7/"}},
	}
	for _, tt := range tests {
		f := NewFeature(tt.g, nil, DefaultStyle())
		if err := fx.vm.AddGeometry(f); err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if diff := cmp.Diff(tt.want, keyStrings(fx.vm.AttachedKeys(f))); diff != "" {
			t.Errorf("%s: 挂接瓦片不符 (-want +got):\n%s", tt.name, diff)
		}
		if fx.vm.InMain(f) {
			t.Errorf("%s: 不应进入主渲染体", tt.name)
		}
	}

	// Mercator 只覆盖到约 85.05 度
	mfx := newFixture(t, tiling.NewMercatorTiling(), 10, nil)
	polar := NewFeature(orb.Point{10, 89}, nil, DefaultStyle())
	if err := mfx.vm.AddGeometry(polar); err != nil {
		t.Fatal(err)
	}
	if n := len(mfx.tiles.Overlapping(polar.Bound())); n != 0 {
		t.Fatalf("覆盖 %d 个 0 层瓦片, want 0", n)
	}
	if !mfx.vm.InMain(polar) || mfx.countAttachments(polar) != 0 {
		t.Errorf("不与瓦片重叠的要素应只进入主渲染体")
	}
}

// TestAttachFollowsLoadedChildren 子瓦片加载后继承父瓦片的要素，回收后挂接关系随之删除
func TestAttachFollowsLoadedChildren(t *testing.T) {
	fx := newFixture(t, tiling.NewGeoTiling(4, 2), 10, nil)
	root := fx.tiles.LevelZero()[0]

	// 只落在 root 的西北象限
	early := NewFeature(orb.LineString{{-170, 60}, {-150, 70}}, nil, DefaultStyle())
	if err := fx.vm.AddGeometry(early); err != nil {
		t.Fatal(err)
	}

	near := overhead(root.Center, 0.5)
	fx.runUntil(t, near, func() bool {
		children := root.Children()
		if len(children) != 4 {
			return false
		}
		for _, c := range children {
			if c.State() != tile.StateLoaded {
				return false
			}
		}
		return true
	})
	children := root.Children()
	want := []string{root.Key.String(), children[0].Key.String()}
	if diff := cmp.Diff(want, keyStrings(fx.vm.AttachedKeys(early))); diff != "" {
		t.Errorf("加载后的挂接不符 (-want +got):\n%s", diff)
	}

	// 子瓦片已加载时添加的要素立即递归挂接
	late := NewFeature(orb.Point{-100, 10}, nil, DefaultStyle())
	if err := fx.vm.AddGeometry(late); err != nil {
		t.Fatal(err)
	}
	want = []string{root.Key.String(), children[3].Key.String()}
	if diff := cmp.Diff(want, keyStrings(fx.vm.AttachedKeys(late))); diff != "" {
		t.Errorf("递归挂接不符 (-want +got):\n%s", diff)
	}

	far := overhead(root.Center, 3)
	fx.runUntil(t, far, func() bool { return len(root.Children()) == 0 })
	if diff := cmp.Diff([]string{root.Key.String()}, keyStrings(fx.vm.AttachedKeys(early))); diff != "" {
		t.Errorf("回收后的挂接不符 (-want +got):\n%s", diff)
	}
	for _, c := range children {
		if fx.vm.TileData(c.Key) != nil {
			t.Errorf("子瓦片 %s 的批次未删除", c.Key)
		}
	}

	if err := fx.vm.RemoveGeometry(early); err != nil {
		t.Fatal(err)
	}
	if err := fx.vm.RemoveGeometry(late); err != nil {
		t.Fatal(err)
	}
	if fx.vm.TileData(root.Key) != nil || len(fx.vm.Buckets()) != 0 {
		t.Error("移除全部要素后仍有残留")
	}
	if err := fx.vm.RemoveGeometry(early); !errors.Is(err, ErrUnknownFeature) {
		t.Errorf("重复移除 err = %v", err)
	}
}

type recordingRenderer struct {
	Renderer
	batches *[][]int
}

func (r *recordingRenderer) Render(rc *tile.RenderContext, items []Item, from, to int) {
	var ids []int
	for _, it := range items[from:to] {
		ids = append(ids, it.Renderable.Bucket.ID)
	}
	*r.batches = append(*r.batches, ids)
	r.Renderer.Render(rc, items, from, to)
}

// TestRenderSortsAndBatches 按 (ZIndex, 桶创建顺序) 排序，同一渲染器的连续批次合并为一次调用
func TestRenderSortsAndBatches(t *testing.T) {
	var batches [][]int
	record := func(inner Factory) Factory {
		return func(env Env) Renderer { return &recordingRenderer{Renderer: inner(env), batches: &batches} }
	}
	fx := newFixture(t, tiling.NewGeoTiling(4, 2), 1, NewRegistry(record(NewLineRenderer), record(NewPointRenderer)))

	red := Style{ZIndex: 0, Color: [4]float32{1, 0, 0, 1}}
	blue := Style{ZIndex: 0, Color: [4]float32{0, 0, 1, 1}}
	features := []*Feature{
		NewFeature(orb.LineString{{10, 10}, {20, 20}}, nil, red),                // 桶 0
		NewFeature(orb.Point{30, 30}, nil, Style{ZIndex: 1}),                    // 桶 1
		NewFeature(orb.LineString{{-10, 10}, {-20, 20}}, nil, Style{ZIndex: 2}), // 桶 2
		NewFeature(orb.LineString{{40, -10}, {50, -20}}, nil, blue),             // 桶 3
	}
	for _, f := range features {
		if err := fx.vm.AddGeometry(f); err != nil {
			t.Fatal(err)
		}
	}

	fx.ctx.DrawCalls()
	fx.vm.Render(&tile.RenderContext{GPU: fx.ctx}, nil)

	if diff := cmp.Diff([][]int{{0, 3}, {1}, {2}}, batches); diff != "" {
		t.Errorf("分批不符 (-want +got):\n%s", diff)
	}
	calls := fx.ctx.DrawCalls()
	if len(calls) != 4 {
		t.Fatalf("绘制调用 %d 次, want 4", len(calls))
	}
	modes := []gpu.Primitive{gpu.Lines, gpu.Lines, gpu.Points, gpu.Lines}
	for i, c := range calls {
		if c.Elements || c.Mode != modes[i] || c.Count == 0 {
			t.Errorf("第 %d 次绘制 = %+v", i, c)
		}
	}
	if s := fx.vm.Stats(); s.Batches != 3 || s.Items != 4 || s.Buckets != 4 {
		t.Errorf("统计 = %+v", s)
	}

	hidden := NewLayer("隐藏")
	hidden.Visible = false
	if err := fx.vm.AddGeometry(NewFeature(orb.Point{0, 0}, hidden, red)); err != nil {
		t.Fatal(err)
	}
	fx.vm.Render(&tile.RenderContext{GPU: fx.ctx}, nil)
	if s := fx.vm.Stats(); s.Items != 4 {
		t.Errorf("隐藏图层不应绘制, 条目数 = %d", s.Items)
	}

	if err := fx.vm.AddGeometry(NewFeature(orb.Collection{orb.Point{1, 1}}, nil, red)); !errors.Is(err, ErrUnsupportedGeometry) {
		t.Errorf("不支持的几何 err = %v", err)
	}
}

// TestParentStandInDrawsQuadrant 父瓦片代替加载中的子瓦片时，只绘制该象限内的矢量顶点
func TestParentStandInDrawsQuadrant(t *testing.T) {
	fx := newFixture(t, tiling.NewGeoTiling(4, 2), 10, nil)
	root := fx.tiles.LevelZero()[0]
	gate := fx.gate(tileURL + "r0/2")
	defer close(gate)

	// 沿纬度 10° 横穿 root 的西南、东南两个象限
	f := NewFeature(orb.LineString{{-175, 10}, {-95, 10}}, nil, DefaultStyle())
	if err := fx.vm.AddGeometry(f); err != nil {
		t.Fatal(err)
	}

	near := overhead(root.Center, 0.5)
	fx.runUntil(t, near, func() bool {
		children := root.Children()
		return len(children) == 4 && children[0].State() == tile.StateLoaded &&
			children[1].State() == tile.StateLoaded && children[3].State() == tile.StateLoaded
	})

	fx.ctx.DrawCalls()
	if err := fx.tiles.Frame(near); err != nil {
		t.Fatal(err)
	}
	rd := fx.vm.TileData(root.Key).renderable(fx.vm.Buckets()[0])
	if rd == nil || rd.Buffer() == nil {
		t.Fatal("root 的批次未上传")
	}
	first, count := rd.Quadrant(2)
	if count != 2 {
		t.Fatalf("第 2 象限顶点数 = %d, want 2", count)
	}
	var got []gpu.DrawCall
	for _, c := range fx.ctx.DrawCalls() {
		if !c.Elements && c.VertexBuffer == rd.Buffer().ID {
			got = append(got, c)
		}
	}
	if len(got) != 1 || got[0].First != first || got[0].Count != count {
		t.Errorf("root 批次的绘制 = %+v, want 第 2 象限 [%d,+%d)", got, first, count)
	}
	if !cmp.Equal(fx.vm.AttachedKeys(f), []tiling.Key{root.Key, root.Children()[3].Key}) {
		t.Errorf("挂接 = %v", keyStrings(fx.vm.AttachedKeys(f)))
	}
}
