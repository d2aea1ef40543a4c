// Package geo 提供地理范围与笛卡尔包围盒两类轴对齐边界，以及地理坐标到渲染空间的坐标系转换。
//
// 地理范围直接使用 orb.Bound（Min/Max 为 [经度, 纬度]，单位度），本包只补充引擎需要的判定规则。
package geo

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"
)

// WorldBound 全球范围
var WorldBound = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

// NewBound 按西、南、东、北构造地理范围
func NewBound(west, south, east, north float64) orb.Bound {
	return orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}
}

// Overlaps 判断几何范围 g 是否与瓦片范围 t 重叠
// 瓦片按半开区间 [min, max) 处理，仅在边上相接不算重叠，退化为点或线的几何范围按闭区间处理。
// 瓦片的东边或北边落在全球边界上时该边闭合，经度 180 与纬度 90 上的几何仍归属于边界瓦片。
func Overlaps(t, g orb.Bound) bool {
	return overlap1D(t.Min[0], t.Max[0], g.Min[0], g.Max[0], t.Max[0] >= WorldBound.Max[0]) &&
		overlap1D(t.Min[1], t.Max[1], g.Min[1], g.Max[1], t.Max[1] >= WorldBound.Max[1])
}

func overlap1D(tmin, tmax, gmin, gmax float64, closedMax bool) bool {
	if gmin > tmax || (gmin == tmax && !closedMax) {
		return false
	}
	if gmax > tmin {
		return true
	}
	return gmin == gmax && gmin >= tmin
}

// BoundingBox 笛卡尔空间的轴对齐包围盒，用于视锥裁剪
type BoundingBox struct {
	Min mgl64.Vec3
	Max mgl64.Vec3
	set bool
}

// NewBoundingBox 从一组点构造包围盒
func NewBoundingBox(points ...mgl64.Vec3) BoundingBox {
	var b BoundingBox
	for _, p := range points {
		b.Extend(p)
	}
	return b
}

// Valid 包围盒是否至少包含一个点
func (b BoundingBox) Valid() bool { return b.set }

// Extend 扩展包围盒使其包含点 p
func (b *BoundingBox) Extend(p mgl64.Vec3) {
	if !b.set {
		b.Min, b.Max, b.set = p, p, true
		return
	}
	for i := 0; i < 3; i++ {
		b.Min[i] = math.Min(b.Min[i], p[i])
		b.Max[i] = math.Max(b.Max[i], p[i])
	}
}

// Center 包围盒中心
func (b BoundingBox) Center() mgl64.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Radius 包围盒外接球半径（半对角线长度）
func (b BoundingBox) Radius() float64 {
	return b.Max.Sub(b.Min).Len() * 0.5
}

// Corners 返回 8 个角点
func (b BoundingBox) Corners() [8]mgl64.Vec3 {
	var c [8]mgl64.Vec3
	for i := 0; i < 8; i++ {
		p := b.Min
		if i&1 != 0 {
			p[0] = b.Max[0]
		}
		if i&2 != 0 {
			p[1] = b.Max[1]
		}
		if i&4 != 0 {
			p[2] = b.Max[2]
		}
		c[i] = p
	}
	return c
}
