package vector

import (
	"errors"
	"fmt"
	"sort"

	"globe-engine/geo"
	"globe-engine/logger"
	"globe-engine/tile"
	"globe-engine/tiling"
)

// DefaultMaxTilesPerGeometry 要素覆盖的 0 层瓦片数达到该值时不再按瓦片切分
const DefaultMaxTilesPerGeometry = 10

var (
	// ErrUnsupportedGeometry 没有渲染器能绘制该几何
	ErrUnsupportedGeometry = errors.New("vector: unsupported geometry")
	// ErrUnknownFeature 要素未添加或已移除
	ErrUnknownFeature = errors.New("vector: unknown feature")
)

// Options Manager 构造参数
type Options struct {
	Tiles    *tile.Manager
	Registry *Registry
	// MaxTilesPerGeometry 0 表示使用默认值
	MaxTilesPerGeometry int
	Logger              logger.Logger
}

// placement 记录要素挂接的位置，移除时按它逐一剥离
type placement struct {
	bucket *Bucket
	main   bool
	keys   map[tiling.Key]struct{}
}

// Stats 最近一帧的绘制统计
type Stats struct {
	Buckets  int
	Tiles    int
	Items    int
	Batches  int
	Features int
}

// Manager 矢量要素管理器
// 作为瓦片管理器的 Observer 维护挂接关系，作为 PostRenderer 绘制。所有方法都在帧循环中调用。
type Manager struct {
	tiles     *tile.Manager
	log       logger.Logger
	maxTiles  int
	renderers []Renderer

	buckets  []*Bucket
	nextID   int
	features map[*Feature]*placement
	data     map[tiling.Key]*TileData

	items []Item
	stats Stats
	err   error
}

// New 创建矢量管理器并注册到瓦片管理器
func New(opts Options) (*Manager, error) {
	if opts.Tiles == nil {
		return nil, fmt.Errorf("%w: 缺少瓦片管理器", tile.ErrInvalidOptions)
	}
	if opts.MaxTilesPerGeometry < 0 {
		return nil, fmt.Errorf("%w: MaxTilesPerGeometry = %d", tile.ErrInvalidOptions, opts.MaxTilesPerGeometry)
	}
	if opts.MaxTilesPerGeometry == 0 {
		opts.MaxTilesPerGeometry = DefaultMaxTilesPerGeometry
	}
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	log := logger.OrGlobal(opts.Logger)
	m := &Manager{
		tiles:    opts.Tiles,
		log:      log,
		maxTiles: opts.MaxTilesPerGeometry,
		features: make(map[*Feature]*placement),
		data:     make(map[tiling.Key]*TileData),
	}
	m.renderers = opts.Registry.instantiate(Env{
		Pool:             opts.Tiles.Pool(),
		CoordinateSystem: opts.Tiles.CoordinateSystem(),
		Logger:           log,
	})
	opts.Tiles.AddObserver(m)
	opts.Tiles.AddPostRenderer(m)
	return m, nil
}

// bucketFor 查找或创建要素所属的桶
func (m *Manager) bucketFor(f *Feature) (*Bucket, error) {
	for _, b := range m.buckets {
		if b.Layer == f.Layer && b.Style == f.Style && b.Renderer.CanApply(f.Geometry) {
			return b, nil
		}
	}
	for _, r := range m.renderers {
		if !r.CanApply(f.Geometry) {
			continue
		}
		b := &Bucket{ID: m.nextID, Layer: f.Layer, Style: f.Style, Renderer: r}
		b.main = newRenderable(b, nil)
		m.nextID++
		m.buckets = append(m.buckets, b)
		m.log.Debug("[Vector] 新建桶 %s", b)
		return b, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedGeometry, f.Geometry)
}

// AddGeometry 添加要素
// 覆盖的 0 层瓦片数少于上限时挂接到这些瓦片及其已加载的子瓦片，否则放入桶的主渲染体。
// 不与任何 0 层瓦片重叠的要素（例如超出 Mercator 纬度范围）同样放入主渲染体。
func (m *Manager) AddGeometry(f *Feature) error {
	if f == nil || f.Geometry == nil {
		return fmt.Errorf("%w: 空要素", ErrUnsupportedGeometry)
	}
	if _, ok := m.features[f]; ok {
		return nil
	}
	b, err := m.bucketFor(f)
	if err != nil {
		return err
	}
	pl := &placement{bucket: b, keys: make(map[tiling.Key]struct{})}
	m.features[f] = pl

	overlapped := m.tiles.Overlapping(f.Bound())
	if len(overlapped) == 0 || len(overlapped) >= m.maxTiles {
		pl.main = true
		b.main.add(f)
		m.log.Debug("[Vector] 要素 %s 覆盖 %d 个 0 层瓦片，放入主渲染体", f.ID, len(overlapped))
		return nil
	}
	for _, t := range overlapped {
		m.attach(t, f, pl)
	}
	return nil
}

// attach 把要素挂到瓦片上，并递归进入已加载且与要素重叠的子瓦片
func (m *Manager) attach(t *tile.Tile, f *Feature, pl *placement) {
	td := m.data[t.Key]
	if td == nil {
		td = &TileData{Key: t.Key}
		m.data[t.Key] = td
	}
	r := td.renderable(pl.bucket)
	if r == nil {
		r = newRenderable(pl.bucket, t)
		td.Renderables = append(td.Renderables, r)
	}
	r.add(f)
	pl.keys[t.Key] = struct{}{}

	bound := f.Bound()
	for _, c := range t.Children() {
		if c.State() == tile.StateLoaded && geo.Overlaps(c.Bound, bound) {
			m.attach(c, f, pl)
		}
	}
}

// RemoveGeometry 从主渲染体或挂接过的每个瓦片中移除要素
func (m *Manager) RemoveGeometry(f *Feature) error {
	pl, ok := m.features[f]
	if !ok {
		return ErrUnknownFeature
	}
	delete(m.features, f)
	if pl.main {
		pl.bucket.main.remove(f)
		m.pruneBucket(pl.bucket)
		return nil
	}
	for key := range pl.keys {
		td := m.data[key]
		if td == nil {
			continue
		}
		r := td.renderable(pl.bucket)
		if r == nil || !r.remove(f) {
			continue
		}
		if r.Len() == 0 {
			r.release()
			td.drop(r)
		}
		if len(td.Renderables) == 0 {
			delete(m.data, key)
		}
	}
	m.pruneBucket(pl.bucket)
	return nil
}

// pruneBucket 桶中不再有要素时删除它
func (m *Manager) pruneBucket(b *Bucket) {
	for _, pl := range m.features {
		if pl.bucket == b {
			return
		}
	}
	b.main.release()
	for i, x := range m.buckets {
		if x == b {
			m.buckets = append(m.buckets[:i], m.buckets[i+1:]...)
			break
		}
	}
}

// TileLoaded 新加载的子瓦片从父瓦片继承与它重叠的要素
func (m *Manager) TileLoaded(t *tile.Tile) {
	if t.Parent == nil {
		return
	}
	parent := m.data[t.Parent.Key]
	if parent == nil {
		return
	}
	for _, r := range parent.Renderables {
		for _, f := range r.features {
			if geo.Overlaps(t.Bound, f.Bound()) {
				m.attach(t, f, m.features[f])
			}
		}
	}
}

// TileDisposed 归还瓦片批次的缓冲；非 0 层瓦片的挂接关系一并删除
func (m *Manager) TileDisposed(t *tile.Tile) {
	td := m.data[t.Key]
	if td == nil {
		return
	}
	for _, r := range td.Renderables {
		r.release()
	}
	if t.Parent == nil {
		return
	}
	for _, r := range td.Renderables {
		for _, f := range r.features {
			if pl := m.features[f]; pl != nil {
				delete(pl.keys, t.Key)
			}
		}
	}
	delete(m.data, t.Key)
}

// Render 收集主渲染体与本帧选中瓦片上的批次，按 (ZIndex, 桶创建顺序) 排序后分批绘制
func (m *Manager) Render(rc *tile.RenderContext, tiles []tile.Rendered) {
	items := m.items[:0]
	for _, b := range m.buckets {
		if b.main.Len() > 0 && visible(b) {
			items = append(items, Item{Renderable: b.main, Mask: tile.FullMask})
		}
	}
	tileCount := 0
	for _, rt := range tiles {
		td := m.data[rt.Tile.Key]
		if td == nil {
			continue
		}
		tileCount++
		for _, r := range td.Renderables {
			if r.Len() > 0 && visible(r.Bucket) {
				items = append(items, Item{Renderable: r, Mask: rt.Quadrants})
			}
		}
	}

	pool := m.tiles.Pool()
	tl, cs := m.tiles.Tiling(), m.tiles.CoordinateSystem()
	uploaded := items[:0]
	for _, it := range items {
		if err := it.Renderable.upload(pool, tl, cs); err != nil {
			if m.err == nil {
				m.log.Error("[Vector] 上传 %s 失败: %v", it.Renderable.Bucket, err)
			}
			m.err = err
			continue
		}
		uploaded = append(uploaded, it)
	}
	items = uploaded

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Renderable.Bucket, items[j].Renderable.Bucket
		if a.Style.ZIndex != b.Style.ZIndex {
			return a.Style.ZIndex < b.Style.ZIndex
		}
		return a.ID < b.ID
	})

	batches := 0
	for from := 0; from < len(items); {
		renderer := items[from].Renderable.Bucket.Renderer
		to := from + 1
		for to < len(items) && items[to].Renderable.Bucket.Renderer == renderer {
			to++
		}
		renderer.Render(rc, items, from, to)
		batches++
		from = to
	}

	m.items = items
	m.stats = Stats{
		Buckets:  len(m.buckets),
		Tiles:    tileCount,
		Items:    len(items),
		Batches:  batches,
		Features: len(m.features),
	}
}

func visible(b *Bucket) bool { return b.Layer == nil || b.Layer.Visible }

// Buckets 当前的桶，按创建顺序
func (m *Manager) Buckets() []*Bucket { return m.buckets }

// TileData 瓦片上挂接的批次，没有时返回 nil
func (m *Manager) TileData(key tiling.Key) *TileData { return m.data[key] }

// AttachedKeys 要素当前挂接的瓦片；放在主渲染体中的要素返回 nil
func (m *Manager) AttachedKeys(f *Feature) []tiling.Key {
	pl := m.features[f]
	if pl == nil || pl.main {
		return nil
	}
	keys := make([]tiling.Key, 0, len(pl.keys))
	for k := range pl.keys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// InMain 要素是否在主渲染体中
func (m *Manager) InMain(f *Feature) bool {
	pl := m.features[f]
	return pl != nil && pl.main
}

// Stats 最近一帧的统计
func (m *Manager) Stats() Stats { return m.stats }

// Err 最近一次缓冲上传失败的错误
func (m *Manager) Err() error { return m.err }

// Close 从瓦片管理器注销并归还全部缓冲
func (m *Manager) Close() {
	m.tiles.RemoveObserver(m)
	m.tiles.RemovePostRenderer(m)
	for _, td := range m.data {
		for _, r := range td.Renderables {
			r.release()
		}
	}
	for _, b := range m.buckets {
		b.main.release()
	}
	m.data = make(map[tiling.Key]*TileData)
	m.features = make(map[*Feature]*placement)
	m.buckets = nil
}

var _ tile.Observer = (*Manager)(nil)
var _ tile.PostRenderer = (*Manager)(nil)
