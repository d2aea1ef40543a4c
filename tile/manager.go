package tile

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/paulmach/orb"

	"globe-engine/fetch"
	"globe-engine/geo"
	"globe-engine/gpu"
	"globe-engine/logger"
	"globe-engine/tiling"
	"globe-engine/view"
)

// 默认参数
const (
	DefaultPixelSizeThreshold = 256
	DefaultTessellation       = 9
	DefaultMaxRequests        = 2
	DefaultEvictAfterFrames   = 60
	DefaultMaxLevel           = 22
)

// ImageryProvider 为瓦片生成影像 URL
type ImageryProvider interface {
	URL(a tiling.Address) string
}

// ElevationProvider 为瓦片生成高程 URL，并把响应解析为 size×size 的高程网格（米，行优先，北在上）
type ElevationProvider interface {
	URL(a tiling.Address) string
	Parse(payload []byte, size int) ([]float32, error)
}

// Observer 瓦片生命周期通知，在帧循环中调用
type Observer interface {
	// TileLoaded 瓦片的 GPU 资源已就绪
	TileLoaded(t *Tile)
	// TileDisposed 瓦片的 GPU 资源即将归还
	TileDisposed(t *Tile)
}

// StateListener 可选接口，Observer 实现它时会收到每一次状态变化
type StateListener interface {
	TileStateChanged(t *Tile, from, to State)
}

// Options Manager 构造参数
type Options struct {
	Tiling           tiling.Tiling
	CoordinateSystem geo.CoordinateSystem
	Imagery          ImageryProvider
	// Elevation 为空时瓦片没有高程
	Elevation ElevationProvider
	Fetcher   fetch.Fetcher
	// GPU 与 Pool 至少提供一个；只提供 GPU 时由 Manager 创建并独占资源池
	GPU  gpu.Context
	Pool *gpu.Pool

	// Tessellation 每边网格顶点数，必须为奇数
	Tessellation       int
	PixelSizeThreshold float64
	MaxLevel           int
	// MaxRequests 同时进行的请求上限
	MaxRequests int
	// EvictAfterFrames 子瓦片组连续多少帧未被访问后回收
	EvictAfterFrames int
	// MaxLoadedTiles 已加载瓦片数上限，0 表示不限
	MaxLoadedTiles int

	Logger logger.Logger
}

func (o *Options) setDefaults() {
	if o.Tiling == nil {
		o.Tiling = tiling.NewGeoTiling(4, 2)
	}
	if o.CoordinateSystem == nil {
		o.CoordinateSystem = geo.DefaultSphere()
	}
	if o.Tessellation == 0 {
		o.Tessellation = DefaultTessellation
	}
	if o.PixelSizeThreshold == 0 {
		o.PixelSizeThreshold = DefaultPixelSizeThreshold
	}
	if o.MaxLevel == 0 {
		o.MaxLevel = DefaultMaxLevel
	}
	if o.MaxRequests == 0 {
		o.MaxRequests = DefaultMaxRequests
	}
	if o.EvictAfterFrames == 0 {
		o.EvictAfterFrames = DefaultEvictAfterFrames
	}
}

func (o *Options) validate() error {
	switch {
	case o.Imagery == nil:
		return fmt.Errorf("%w: 缺少影像源", ErrInvalidOptions)
	case o.Fetcher == nil:
		return fmt.Errorf("%w: 缺少 Fetcher", ErrInvalidOptions)
	case o.GPU == nil && o.Pool == nil:
		return fmt.Errorf("%w: 缺少 GPU 上下文", ErrInvalidOptions)
	case o.Tessellation < 3 || o.Tessellation%2 == 0 || o.Tessellation > MaxTessellation:
		return fmt.Errorf("%w: 网格边长必须是 3 到 %d 之间的奇数: %d", ErrInvalidOptions, MaxTessellation, o.Tessellation)
	case o.MaxRequests < 0 || o.EvictAfterFrames < 0 || o.MaxLoadedTiles < 0:
		return fmt.Errorf("%w: 并发数与回收参数不能为负", ErrInvalidOptions)
	case o.PixelSizeThreshold < 0:
		return fmt.Errorf("%w: 像素阈值不能为负", ErrInvalidOptions)
	case o.MaxLevel < 0 || o.MaxLevel > tiling.MaxLevel:
		return fmt.Errorf("%w: 最大层级必须在 [0,%d] 内: %d", ErrInvalidOptions, tiling.MaxLevel, o.MaxLevel)
	case len(o.Tiling.LevelZero()) > tiling.MaxRoots:
		return fmt.Errorf("%w: 0 层瓦片数 %d 超过 %d", ErrInvalidOptions, len(o.Tiling.LevelZero()), tiling.MaxRoots)
	}
	return nil
}

// Stats 帧统计
type Stats struct {
	Frame int
	// 本帧
	Visited   int
	Rendered  int
	Culled    int
	Requested int
	// 当前
	Loaded   int
	Loading  int
	InFlight int
	// 累计
	Errors  int
	Evicted int
	Aborted int

	Pool gpu.Stats
}

// candidate 等待加载的瓦片
type candidate struct {
	tile      *Tile
	pixelSize float64
}

// Manager 瓦片管理器
type Manager struct {
	opts      Options
	log       logger.Logger
	fetcher   fetch.Fetcher
	imagery   ImageryProvider
	elevation ElevationProvider
	gpu       gpu.Context
	pool      *gpu.Pool
	ownPool   bool
	index     *IndexBuffer

	levelZero []*Tile

	ctx       context.Context
	cancelAll context.CancelFunc
	requests  *fetch.Handles[*Request]
	completed chan *Request
	pending   atomic.Int64
	settled   chan struct{}
	redraw    chan struct{}

	observers     []Observer
	postRenderers []PostRenderer

	frame    int
	queue    []candidate
	rendered []Rendered
	stats    Stats
	loaded   int
	loading  int
	err      error
	closed   bool
}

// New 创建管理器并建立 0 层瓦片
func New(opts Options) (*Manager, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		opts:      opts,
		log:       logger.OrGlobal(opts.Logger),
		fetcher:   opts.Fetcher,
		imagery:   opts.Imagery,
		elevation: opts.Elevation,
		pool:      opts.Pool,
		completed: make(chan *Request, opts.MaxRequests),
		settled:   make(chan struct{}, 1),
		redraw:    make(chan struct{}, 1),
	}
	if m.pool == nil {
		m.pool = gpu.NewPool(opts.GPU)
		m.ownPool = true
	}
	m.gpu = m.pool.Context()

	index, err := newIndexBuffer(m.pool, opts.Tessellation, gpu.Triangles)
	if err != nil {
		return nil, err
	}
	m.index = index

	m.ctx, m.cancelAll = context.WithCancel(context.Background())
	m.requests = fetch.NewHandles(opts.MaxRequests, func(i int) *Request { return &Request{id: i} }, m.log)

	for _, a := range opts.Tiling.LevelZero() {
		t := m.newTile(a, nil, -1)
		m.levelZero = append(m.levelZero, t)
	}
	m.log.Debug("瓦片管理器已创建: 划分=%s, 0 层瓦片 %d 个, 网格 %d, 并发 %d",
		opts.Tiling.Name(), len(m.levelZero), opts.Tessellation, opts.MaxRequests)
	return m, nil
}

func (m *Manager) newTile(a tiling.Address, parent *Tile, quadrant int) *Tile {
	bounds := buildMesh(m.opts.Tiling, m.opts.CoordinateSystem, a, m.opts.Tessellation, nil, false)
	return &Tile{
		Address:     a,
		Key:         m.opts.Tiling.Key(a),
		Bound:       m.opts.Tiling.GeoBound(a),
		BBox:        bounds.bbox,
		Center:      bounds.center,
		Radius:      bounds.radius,
		ParentIndex: quadrant,
		Parent:      parent,
		lastVisit:   m.frame,
	}
}

// subdivide 按需创建 4 个子瓦片
func (m *Manager) subdivide(t *Tile) {
	t.children = make([]*Tile, 4)
	for q := 0; q < 4; q++ {
		t.children[q] = m.newTile(m.opts.Tiling.Child(t.Address, q), t, q)
	}
}

// Frame 执行一帧：取回完成的请求，遍历四叉树，发出新请求，绘制并调用后处理渲染器，最后回收
// 只有 GPU 资源分配失败会返回错误，之后每一帧都返回同一个错误，直到 Reset。
func (m *Manager) Frame(rs *view.State) error {
	if m.closed {
		return ErrClosed
	}
	if m.err != nil {
		return m.err
	}
	m.frame++
	m.stats.Visited, m.stats.Rendered, m.stats.Culled, m.stats.Requested = 0, 0, 0, 0

	m.drain()
	if m.err != nil {
		return m.err
	}

	m.queue = m.queue[:0]
	m.rendered = m.rendered[:0]
	for _, t := range m.levelZero {
		m.visit(t, rs)
	}
	m.issueRequests()

	rc := &RenderContext{View: rs, GPU: m.gpu, Index: m.index, Frame: m.frame}
	m.draw(rc)
	for _, pr := range m.postRenderers {
		pr.Render(rc, m.rendered)
	}
	m.stats.Rendered = len(m.rendered)

	m.evict()
	return nil
}

// visit 深度优先遍历，返回该瓦片的范围是否已被覆盖（已绘制或被裁剪）
// 被裁剪的瓦片不更新 lastVisit，视野外的子瓦片组因此可以被回收。
func (m *Manager) visit(t *Tile, rs *view.State) bool {
	m.stats.Visited++
	if !m.visible(t, rs) {
		m.stats.Culled++
		return true
	}
	t.lastVisit = m.frame

	switch t.state {
	case StateNone:
		m.queue = append(m.queue, candidate{tile: t, pixelSize: rs.PixelSize(t.Center, t.Radius)})
		return false
	case StateLoading, StateError:
		return false
	}

	if t.Level() < m.opts.MaxLevel && rs.PixelSize(t.Center, t.Radius) > m.opts.PixelSizeThreshold {
		if t.children == nil {
			m.subdivide(t)
		}
		var mask uint8
		for q, c := range t.children {
			if !m.visit(c, rs) {
				mask |= 1 << q
			}
		}
		if mask != 0 {
			m.rendered = append(m.rendered, Rendered{Tile: t, Quadrants: mask})
		}
		return true
	}

	m.rendered = append(m.rendered, Rendered{Tile: t, Quadrants: FullMask})
	return true
}

func (m *Manager) visible(t *Tile, rs *view.State) bool {
	switch rs.Frustum.ContainsSphere(t.Center, t.Radius) {
	case view.Outside:
		return false
	case view.Inside:
		return true
	}
	return rs.Frustum.ContainsBoundingBox(t.BBox)
}

// issueRequests 按层级升序、投影尺寸降序发出请求，句柄用尽的留到后续帧
func (m *Manager) issueRequests() {
	if len(m.queue) == 0 {
		return
	}
	sort.SliceStable(m.queue, func(i, j int) bool {
		a, b := m.queue[i], m.queue[j]
		if a.tile.Level() != b.tile.Level() {
			return a.tile.Level() < b.tile.Level()
		}
		return a.pixelSize > b.pixelSize
	})
	for _, c := range m.queue {
		req, ok := m.requests.TryAcquire()
		if !ok {
			break
		}
		m.start(c.tile, req)
	}
}

func (m *Manager) start(t *Tile, req *Request) {
	req.reset()
	req.tile = t
	ctx, cancel := context.WithCancel(m.ctx)
	req.cancel = cancel
	t.request = req
	m.setState(t, StateLoading)

	j := job{req: req, address: t.Address, imageURL: m.imagery.URL(t.Address)}
	if m.elevation != nil {
		j.elevationURL = m.elevation.URL(t.Address)
	}
	m.log.Debug("请求瓦片 %s: %s", t.Key, j.imageURL)
	m.stats.Requested++
	m.pending.Add(1)
	go m.run(ctx, j)
}

// drain 非阻塞地取回全部已完成的请求
func (m *Manager) drain() {
	for {
		select {
		case req := <-m.completed:
			m.complete(req)
		default:
			return
		}
	}
}

func (m *Manager) complete(req *Request) {
	req.cancel()
	t := req.tile
	if req.aborted || t == nil {
		m.requests.Release(req)
		return
	}
	t.request = nil

	if m.err != nil {
		m.setState(t, StateNone)
		m.requests.Release(req)
		return
	}
	if req.imageErr != nil {
		m.log.Warn("瓦片 %s 加载失败: %v", t.Key, req.imageErr)
		m.setState(t, StateError)
		m.stats.Errors++
		m.requests.Release(req)
		return
	}
	if req.elevationErr != nil {
		m.log.Warn("瓦片 %s 高程不可用，按零高程处理: %v", t.Key, req.elevationErr)
	}

	err := m.materialize(t, req)
	m.requests.Release(req)
	if err != nil {
		m.err = err
		m.setState(t, StateNone)
		m.log.Error("GPU 资源分配失败: %v", err)
		return
	}
	m.setState(t, StateLoaded)
	for _, o := range m.observers {
		o.TileLoaded(t)
	}
}

// materialize 在帧循环中创建纹理与顶点缓冲，任一步失败都会归还已取得的资源
func (m *Manager) materialize(t *Tile, req *Request) error {
	tex, err := m.pool.AcquireTexture(req.width, req.height, gpu.RGBA8)
	if err != nil {
		return err
	}
	if err := m.gpu.TexImage(tex.ID, req.width, req.height, gpu.RGBA8, req.pixels); err != nil {
		tex.Release()
		return fmt.Errorf("%w: 上传纹理: %v", gpu.ErrAllocation, err)
	}
	data := gpu.Float32Bytes(req.mesh.vertices)
	buf, err := m.pool.AcquireBuffer(gpu.ArrayBuffer, len(data))
	if err != nil {
		tex.Release()
		return err
	}
	if err := m.gpu.BufferData(gpu.ArrayBuffer, buf.ID, data); err != nil {
		tex.Release()
		buf.Release()
		return fmt.Errorf("%w: 上传顶点: %v", gpu.ErrAllocation, err)
	}

	t.texture, t.vertices = tex, buf
	t.elevations = req.elevations
	t.BBox, t.Center, t.Radius = req.mesh.bbox, req.mesh.center, req.mesh.radius
	return nil
}

func (m *Manager) setState(t *Tile, to State) {
	from := t.state
	if from == to {
		return
	}
	if !validTransition(from, to) {
		m.log.Error("瓦片 %s 非法状态变化 %s -> %s", t.Key, from, to)
	}
	switch from {
	case StateLoaded:
		m.loaded--
	case StateLoading:
		m.loading--
	}
	switch to {
	case StateLoaded:
		m.loaded++
	case StateLoading:
		m.loading++
	}
	t.state = to
	for _, o := range m.observers {
		if l, ok := o.(StateListener); ok {
			l.TileStateChanged(t, from, to)
		}
	}
}

// abort 取消瓦片的请求，瓦片立即回到 NONE，句柄在后台协程结束后归还
func (m *Manager) abort(t *Tile) {
	req := t.request
	if req == nil {
		return
	}
	req.aborted = true
	req.cancel()
	t.request = nil
	m.stats.Aborted++
	m.setState(t, StateNone)
	m.log.Debug("取消瓦片 %s 的请求", t.Key)
}

func (m *Manager) settle() {
	m.pending.Add(-1)
	select {
	case m.settled <- struct{}{}:
	default:
	}
}

func (m *Manager) requestRedraw() {
	select {
	case m.redraw <- struct{}{}:
	default:
	}
}

// Redraw 有请求完成时收到通知，多次完成合并为一次
func (m *Manager) Redraw() <-chan struct{} { return m.redraw }

// AwaitCompletion 等待所有后台请求结束（结果仍需下一帧取回）
func (m *Manager) AwaitCompletion(ctx context.Context) error {
	for m.pending.Load() > 0 {
		select {
		case <-m.settled:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// AddPostRenderer 注册后处理渲染器，重复注册被忽略
func (m *Manager) AddPostRenderer(pr PostRenderer) {
	for _, p := range m.postRenderers {
		if p == pr {
			return
		}
	}
	m.postRenderers = append(m.postRenderers, pr)
}

// RemovePostRenderer 注销后处理渲染器
func (m *Manager) RemovePostRenderer(pr PostRenderer) {
	for i, p := range m.postRenderers {
		if p == pr {
			m.postRenderers = append(m.postRenderers[:i], m.postRenderers[i+1:]...)
			return
		}
	}
}

// AddObserver 注册生命周期观察者，已加载的瓦片会立即补发 TileLoaded
func (m *Manager) AddObserver(o Observer) {
	for _, x := range m.observers {
		if x == o {
			return
		}
	}
	m.observers = append(m.observers, o)
	m.Walk(func(t *Tile) bool {
		if t.state == StateLoaded {
			o.TileLoaded(t)
		}
		return true
	})
}

// RemoveObserver 注销生命周期观察者
func (m *Manager) RemoveObserver(o Observer) {
	for i, x := range m.observers {
		if x == o {
			m.observers = append(m.observers[:i], m.observers[i+1:]...)
			return
		}
	}
}

// LevelZero 0 层瓦片，顺序与划分策略一致
func (m *Manager) LevelZero() []*Tile { return m.levelZero }

// Overlapping 返回地理范围与 b 相交的 0 层瓦片
func (m *Manager) Overlapping(b orb.Bound) []*Tile {
	var out []*Tile
	for _, t := range m.levelZero {
		if geo.Overlaps(t.Bound, b) {
			out = append(out, t)
		}
	}
	return out
}

// Walk 深度优先访问已创建的瓦片，fn 返回 false 时跳过其子瓦片
func (m *Manager) Walk(fn func(t *Tile) bool) {
	var walk func(t *Tile)
	walk = func(t *Tile) {
		if !fn(t) {
			return
		}
		for _, c := range t.children {
			walk(c)
		}
	}
	for _, t := range m.levelZero {
		walk(t)
	}
}

// Tiling 划分策略
func (m *Manager) Tiling() tiling.Tiling { return m.opts.Tiling }

// CoordinateSystem 坐标系
func (m *Manager) CoordinateSystem() geo.CoordinateSystem { return m.opts.CoordinateSystem }

// Pool GPU 资源池
func (m *Manager) Pool() *gpu.Pool { return m.pool }

// Index 共享的三角形索引
func (m *Manager) Index() *IndexBuffer { return m.index }

// Tessellation 每边网格顶点数
func (m *Manager) Tessellation() int { return m.opts.Tessellation }

// Err 管理器失败时的错误
func (m *Manager) Err() error { return m.err }

// Stats 返回当前统计
func (m *Manager) Stats() Stats {
	s := m.stats
	s.Frame = m.frame
	s.Loaded = m.loaded
	s.Loading = m.loading
	s.InFlight = m.requests.InUse()
	s.Pool = m.pool.Stats()
	return s
}

// Reset 取消全部请求并释放所有瓦片资源，0 层瓦片回到 NONE
// 这是 ERROR 瓦片重新加载、以及 GPU 分配失败后恢复的唯一途径。
func (m *Manager) Reset() {
	if m.closed {
		return
	}
	for _, t := range m.levelZero {
		m.disposeTile(t)
	}
	m.drain()
	m.err = nil
	m.log.Info("瓦片管理器已重置")
}

// Close 取消全部请求，等待后台协程结束并释放 GPU 资源
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	for _, t := range m.levelZero {
		m.disposeTile(t)
	}
	m.cancelAll()
	m.AwaitCompletion(context.Background())
	m.drain()
	m.closed = true
	m.index.Release()
	if m.ownPool {
		m.pool.DisposeAll()
	}
	return nil
}
