package vector

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"

	"globe-engine/geo"
	"globe-engine/gpu"
	"globe-engine/logger"
	"globe-engine/tile"
)

// Renderer 一类几何的渲染器
// Tessellate 在帧循环中生成顶点，Render 绘制 items[from:to]，同一渲染器的连续条目合并为一次调用。
type Renderer interface {
	Name() string
	// CanApply 是否能绘制该几何
	CanApply(g orb.Geometry) bool
	// Primitive 顶点对应的图元
	Primitive() gpu.Primitive
	// Tessellate 返回几何落在 clipTo 内部分的图元顶点（经纬度）；clipTo 为空时不裁剪
	Tessellate(g orb.Geometry, clipTo *orb.Bound) []orb.Point
	Render(rc *tile.RenderContext, items []Item, from, to int)
}

// Env 渲染器工厂可用的环境
type Env struct {
	Pool             *gpu.Pool
	CoordinateSystem geo.CoordinateSystem
	Logger           logger.Logger
}

// Factory 渲染器工厂
type Factory func(env Env) Renderer

// Registry 渲染器工厂注册表，启动时构造一次后传给 Manager
type Registry struct {
	factories []Factory
}

// NewRegistry 按给定顺序注册工厂，选择渲染器时先注册的优先
func NewRegistry(factories ...Factory) *Registry {
	return &Registry{factories: append([]Factory(nil), factories...)}
}

// DefaultRegistry 线与点渲染器
func DefaultRegistry() *Registry {
	return NewRegistry(NewLineRenderer, NewPointRenderer)
}

// Register 追加工厂
func (r *Registry) Register(f Factory) {
	r.factories = append(r.factories, f)
}

// Len 已注册的工厂数
func (r *Registry) Len() int { return len(r.factories) }

func (r *Registry) instantiate(env Env) []Renderer {
	out := make([]Renderer, 0, len(r.factories))
	for _, f := range r.factories {
		out = append(out, f(env))
	}
	return out
}

// LineRenderer 绘制线与面的轮廓，面按各个环拆成折线
type LineRenderer struct {
	env Env
}

// NewLineRenderer 线渲染器工厂
func NewLineRenderer(env Env) Renderer { return &LineRenderer{env: env} }

func (*LineRenderer) Name() string { return "line" }

func (*LineRenderer) CanApply(g orb.Geometry) bool {
	switch g.(type) {
	case orb.LineString, orb.MultiLineString, orb.Ring, orb.Polygon, orb.MultiPolygon, orb.Bound:
		return true
	}
	return false
}

func (*LineRenderer) Primitive() gpu.Primitive { return gpu.Lines }

func (*LineRenderer) Tessellate(g orb.Geometry, clipTo *orb.Bound) []orb.Point {
	parts := lineParts(g)
	if clipTo != nil {
		parts = clip.MultiLineString(*clipTo, parts)
	}
	var out []orb.Point
	for _, ls := range parts {
		for i := 1; i < len(ls); i++ {
			out = append(out, ls[i-1], ls[i])
		}
	}
	return out
}

func (r *LineRenderer) Render(rc *tile.RenderContext, items []Item, from, to int) {
	drawItems(rc, items[from:to], gpu.Lines)
}

func lineParts(g orb.Geometry) orb.MultiLineString {
	switch g := g.(type) {
	case orb.LineString:
		return orb.MultiLineString{g}
	case orb.MultiLineString:
		return g
	case orb.Ring:
		return orb.MultiLineString{orb.LineString(g)}
	case orb.Polygon:
		out := make(orb.MultiLineString, 0, len(g))
		for _, ring := range g {
			out = append(out, orb.LineString(ring))
		}
		return out
	case orb.MultiPolygon:
		var out orb.MultiLineString
		for _, p := range g {
			out = append(out, lineParts(p)...)
		}
		return out
	case orb.Bound:
		return orb.MultiLineString{orb.LineString(g.ToRing())}
	}
	return nil
}

// PointRenderer 绘制点要素
type PointRenderer struct {
	env Env
}

// NewPointRenderer 点渲染器工厂
func NewPointRenderer(env Env) Renderer { return &PointRenderer{env: env} }

func (*PointRenderer) Name() string { return "point" }

func (*PointRenderer) CanApply(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return true
	}
	return false
}

func (*PointRenderer) Primitive() gpu.Primitive { return gpu.Points }

// Tessellate 点按半开区间归属象限，落在象限公共边上的点只出现一次
func (*PointRenderer) Tessellate(g orb.Geometry, clipTo *orb.Bound) []orb.Point {
	var points []orb.Point
	switch g := g.(type) {
	case orb.Point:
		points = []orb.Point{g}
	case orb.MultiPoint:
		points = g
	}
	if clipTo == nil {
		return points
	}
	var out []orb.Point
	for _, p := range points {
		if geo.Overlaps(*clipTo, orb.Bound{Min: p, Max: p}) {
			out = append(out, p)
		}
	}
	return out
}

func (r *PointRenderer) Render(rc *tile.RenderContext, items []Item, from, to int) {
	drawItems(rc, items[from:to], gpu.Points)
}

// drawItems 逐条目绘制，部分象限的条目只绘制选中象限的顶点区间
func drawItems(rc *tile.RenderContext, items []Item, mode gpu.Primitive) {
	for _, it := range items {
		r := it.Renderable
		if r.buffer == nil || r.VertexCount() == 0 {
			continue
		}
		o := r.origin
		rc.GPU.SetModelMatrix(mgl32.Translate3D(float32(o[0]), float32(o[1]), float32(o[2])))
		rc.GPU.BindBuffer(gpu.ArrayBuffer, r.buffer.ID)
		if it.Mask == tile.FullMask || r.Tile == nil {
			rc.GPU.DrawArrays(mode, 0, r.VertexCount())
			continue
		}
		for q := 0; q < 4; q++ {
			if it.Mask&(1<<q) == 0 {
				continue
			}
			if first, count := r.Quadrant(q); count > 0 {
				rc.GPU.DrawArrays(mode, first, count)
			}
		}
	}
}
