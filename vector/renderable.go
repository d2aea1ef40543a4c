package vector

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"

	"globe-engine/geo"
	"globe-engine/gpu"
	"globe-engine/tile"
	"globe-engine/tiling"
)

// VertexStride 每个顶点的 float32 个数：相对位置 xyz 加颜色 rgba
const VertexStride = 7

// Bucket 共享 (图层, 样式, 渲染器) 的要素集合
type Bucket struct {
	// ID 创建顺序，同一 ZIndex 下按它排序
	ID       int
	Layer    *Layer
	Style    Style
	Renderer Renderer

	main *Renderable
}

// Main 不按瓦片切分的主渲染体
func (b *Bucket) Main() *Renderable { return b.main }

func (b *Bucket) String() string {
	name := ""
	if b.Layer != nil {
		name = b.Layer.Name
	}
	return fmt.Sprintf("bucket#%d(%s,%s,z=%d)", b.ID, name, b.Renderer.Name(), b.Style.ZIndex)
}

// Renderable 一个桶在一个瓦片内（或主渲染体中）的要素批次
// 顶点按象限分段存放，父瓦片代替子瓦片时只绘制对应象限。
type Renderable struct {
	Bucket *Bucket
	// Tile 为空表示桶的主渲染体
	Tile *tile.Tile

	features []*Feature
	dirty    bool

	origin  mgl64.Vec3
	buffer  *gpu.Buffer
	offsets [5]int
}

func newRenderable(b *Bucket, t *tile.Tile) *Renderable {
	return &Renderable{Bucket: b, Tile: t, dirty: true}
}

// Features 当前批次中的要素
func (r *Renderable) Features() []*Feature { return r.features }

// Len 要素个数
func (r *Renderable) Len() int { return len(r.features) }

// Contains 是否包含要素
func (r *Renderable) Contains(f *Feature) bool {
	for _, x := range r.features {
		if x == f {
			return true
		}
	}
	return false
}

// VertexCount 已上传的顶点个数
func (r *Renderable) VertexCount() int { return r.offsets[4] }

// Quadrant 第 q 象限的顶点区间
func (r *Renderable) Quadrant(q int) (first, count int) {
	return r.offsets[q], r.offsets[q+1] - r.offsets[q]
}

// Buffer 顶点缓冲，未上传时为 nil
func (r *Renderable) Buffer() *gpu.Buffer { return r.buffer }

func (r *Renderable) add(f *Feature) bool {
	if r.Contains(f) {
		return false
	}
	r.features = append(r.features, f)
	r.dirty = true
	return true
}

func (r *Renderable) remove(f *Feature) bool {
	for i, x := range r.features {
		if x == f {
			r.features = append(r.features[:i], r.features[i+1:]...)
			r.dirty = true
			return true
		}
	}
	return false
}

// release 归还顶点缓冲，下次绘制前重新生成
func (r *Renderable) release() {
	if r.buffer != nil {
		r.buffer.Release()
		r.buffer = nil
	}
	r.offsets = [5]int{}
	r.dirty = true
}

// tessellate 生成顶点；瓦片批次按子瓦片范围裁剪到四个象限
func (r *Renderable) tessellate(tl tiling.Tiling, cs geo.CoordinateSystem) []float32 {
	renderer := r.Bucket.Renderer
	var clips [4]*orb.Bound
	if r.Tile != nil {
		r.origin = r.Tile.Center
		for q := 0; q < 4; q++ {
			b := tl.GeoBound(tl.Child(r.Tile.Address, q))
			clips[q] = &b
		}
	} else {
		var bound orb.Bound
		for i, f := range r.features {
			if i == 0 {
				bound = f.Bound()
			} else {
				bound = bound.Union(f.Bound())
			}
		}
		c := bound.Center()
		r.origin = cs.FromGeo(c[0], c[1], 0)
	}

	var out []float32
	r.offsets[0] = 0
	quadrants := 4
	if r.Tile == nil {
		quadrants = 1
	}
	for q := 0; q < quadrants; q++ {
		for _, f := range r.features {
			color := f.Style.Color
			for _, p := range renderer.Tessellate(f.Geometry, clips[q]) {
				v := cs.FromGeo(p[0], p[1], f.Style.Height).Sub(r.origin)
				out = append(out, float32(v[0]), float32(v[1]), float32(v[2]),
					color[0], color[1], color[2], color[3])
			}
		}
		r.offsets[q+1] = len(out) / VertexStride
	}
	for q := quadrants; q < 4; q++ {
		r.offsets[q+1] = r.offsets[quadrants]
	}
	return out
}

// upload 重新生成顶点并上传，顶点为空时不占用缓冲
func (r *Renderable) upload(pool *gpu.Pool, tl tiling.Tiling, cs geo.CoordinateSystem) error {
	if !r.dirty {
		return nil
	}
	vertices := r.tessellate(tl, cs)
	if len(vertices) == 0 {
		if r.buffer != nil {
			r.buffer.Release()
			r.buffer = nil
		}
		r.dirty = false
		return nil
	}
	data := gpu.Float32Bytes(vertices)
	if r.buffer == nil || r.buffer.Size < len(data) {
		if r.buffer != nil {
			r.buffer.Release()
			r.buffer = nil
		}
		b, err := pool.AcquireBuffer(gpu.ArrayBuffer, len(data))
		if err != nil {
			r.offsets = [5]int{}
			return err
		}
		r.buffer = b
	}
	if err := pool.Context().BufferData(gpu.ArrayBuffer, r.buffer.ID, data); err != nil {
		r.buffer.Release()
		r.buffer = nil
		r.offsets = [5]int{}
		return fmt.Errorf("%w: %v", gpu.ErrAllocation, err)
	}
	r.dirty = false
	return nil
}

// Item 本帧要绘制的一个批次及其象限掩码
type Item struct {
	Renderable *Renderable
	Mask       uint8
}

// TileData 一个瓦片上挂接的各桶批次
type TileData struct {
	Key         tiling.Key
	Renderables []*Renderable
}

func (td *TileData) renderable(b *Bucket) *Renderable {
	for _, r := range td.Renderables {
		if r.Bucket == b {
			return r
		}
	}
	return nil
}

func (td *TileData) drop(r *Renderable) {
	for i, x := range td.Renderables {
		if x == r {
			td.Renderables = append(td.Renderables[:i], td.Renderables[i+1:]...)
			return
		}
	}
}
