package view

import (
	"github.com/go-gl/mathgl/mgl64"

	"globe-engine/geo"
)

// 球体/包围盒与视锥的关系
const (
	Outside    = -1
	Intersects = 0
	Inside     = 1
)

// Plane 平面 n·p + d = 0，法向指向视锥内部
type Plane struct {
	Normal mgl64.Vec3
	D      float64
}

// Distance 点到平面的有符号距离
func (p Plane) Distance(pt mgl64.Vec3) float64 {
	return p.Normal.Dot(pt) + p.D
}

// Frustum 由左、右、下、上、近五个平面组成，不做远平面裁剪
type Frustum struct {
	Planes [5]Plane
}

// NewFrustum 从投影矩阵与视图矩阵的乘积中提取裁剪平面
func NewFrustum(viewProjection mgl64.Mat4) Frustum {
	row := func(i int) mgl64.Vec4 {
		return mgl64.Vec4{viewProjection.At(i, 0), viewProjection.At(i, 1), viewProjection.At(i, 2), viewProjection.At(i, 3)}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)
	raw := [5]mgl64.Vec4{
		r3.Add(r0), // 左
		r3.Sub(r0), // 右
		r3.Add(r1), // 下
		r3.Sub(r1), // 上
		r3.Add(r2), // 近
	}
	var f Frustum
	for i, v := range raw {
		n := v.Vec3()
		l := n.Len()
		if l == 0 {
			l = 1
		}
		f.Planes[i] = Plane{Normal: n.Mul(1 / l), D: v[3] / l}
	}
	return f
}

// ContainsSphere 返回 Inside、Intersects 或 Outside
func (f Frustum) ContainsSphere(center mgl64.Vec3, radius float64) int {
	result := Inside
	for _, p := range f.Planes {
		d := p.Distance(center)
		if d < -radius {
			return Outside
		}
		if d < radius {
			result = Intersects
		}
	}
	return result
}

// ContainsBoundingBox 包围盒八个角点都在某个平面外侧时返回 false
func (f Frustum) ContainsBoundingBox(b geo.BoundingBox) bool {
	if !b.Valid() {
		return false
	}
	corners := b.Corners()
	for _, p := range f.Planes {
		out := 0
		for _, c := range corners {
			if p.Distance(c) < 0 {
				out++
			}
		}
		if out == len(corners) {
			return false
		}
	}
	return true
}
