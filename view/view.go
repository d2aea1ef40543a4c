// Package view 保存每帧的渲染状态：投影/视图矩阵、视口尺寸、视锥和像素尺寸向量。
package view

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// State 一帧的视图状态，构造后只读
type State struct {
	Projection     mgl64.Mat4
	View           mgl64.Mat4
	ViewProjection mgl64.Mat4
	Width          int
	Height         int
	Frustum        Frustum
	// PixelSizeVector 与中心点做点积后得到单位半径在屏幕上的像素倒数
	PixelSizeVector mgl64.Vec4
	// Eye 世界坐标系下的视点位置
	Eye mgl64.Vec3
}

// New 由投影矩阵、视图矩阵和视口尺寸构造视图状态
func New(projection, viewMatrix mgl64.Mat4, width, height int) *State {
	vp := projection.Mul4(viewMatrix)
	s := &State{
		Projection:      projection,
		View:            viewMatrix,
		ViewProjection:  vp,
		Width:           width,
		Height:          height,
		Frustum:         NewFrustum(vp),
		PixelSizeVector: pixelSizeVector(projection, viewMatrix, width, height),
	}
	if inv := viewMatrix.Inv(); inv != (mgl64.Mat4{}) {
		s.Eye = inv.Col(3).Vec3()
	}
	return s
}

// PixelSize 估算包围球在屏幕上的像素尺寸
func (s *State) PixelSize(center mgl64.Vec3, radius float64) float64 {
	psv := s.PixelSizeVector
	d := math.Abs(center.Dot(psv.Vec3()) + psv[3])
	if d == 0 {
		return math.Inf(1)
	}
	return radius / d
}

// pixelSizeVector 按行向量约定书写：m(i,j) 对应列主序矩阵的 At(j,i)
func pixelSizeVector(projection, viewMatrix mgl64.Mat4, width, height int) mgl64.Vec4 {
	P := func(i, j int) float64 { return projection.At(j, i) }
	M := func(i, j int) float64 { return viewMatrix.At(j, i) }
	w := float64(width)
	h := float64(height)

	p00 := P(0, 0) * w * 0.5
	p20 := P(2, 0)*w*0.5 + P(2, 3)*w*0.5
	scale00 := mgl64.Vec3{
		M(0, 0)*p00 + M(0, 2)*p20,
		M(1, 0)*p00 + M(1, 2)*p20,
		M(2, 0)*p00 + M(2, 2)*p20,
	}

	p11 := P(1, 1) * h * 0.5
	p21 := P(2, 1)*h*0.5 + P(2, 3)*h*0.5
	scale11 := mgl64.Vec3{
		M(0, 1)*p11 + M(0, 2)*p21,
		M(1, 1)*p11 + M(1, 2)*p21,
		M(2, 1)*p11 + M(2, 2)*p21,
	}

	p23 := P(2, 3)
	p33 := P(3, 3)
	psv := mgl64.Vec4{
		M(0, 2) * p23,
		M(1, 2) * p23,
		M(2, 2) * p23,
		M(3, 2)*p23 + M(3, 3)*p33,
	}

	l2 := scale00.Dot(scale00) + scale11.Dot(scale11)
	if l2 == 0 {
		return psv
	}
	return psv.Mul(0.7071067811 / math.Sqrt(l2))
}
