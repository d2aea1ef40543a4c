package view

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"globe-engine/geo"
)

func testState() *State {
	proj := mgl64.Perspective(mgl64.DegToRad(90), 1, 0.1, 100)
	v := mgl64.LookAtV(mgl64.Vec3{0, 0, 5}, mgl64.Vec3{}, mgl64.Vec3{0, 1, 0})
	return New(proj, v, 512, 512)
}

func TestContainsSphere(t *testing.T) {
	s := testState()
	tests := []struct {
		name   string
		center mgl64.Vec3
		radius float64
		want   int
	}{
		{"原点", mgl64.Vec3{}, 1, Inside},
		{"相机背后", mgl64.Vec3{0, 0, 10}, 1, Outside},
		{"压在右平面上", mgl64.Vec3{5, 0, 0}, 1, Intersects},
		{"远平面之外仍可见", mgl64.Vec3{0, 0, -1000}, 1, Inside},
		{"左侧很远", mgl64.Vec3{-50, 0, 0}, 1, Outside},
	}
	for _, tt := range tests {
		if got := s.Frustum.ContainsSphere(tt.center, tt.radius); got != tt.want {
			t.Errorf("%s: ContainsSphere = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestContainsBoundingBox(t *testing.T) {
	s := testState()
	in := geo.NewBoundingBox(mgl64.Vec3{-0.5, -0.5, -0.5}, mgl64.Vec3{0.5, 0.5, 0.5})
	if !s.Frustum.ContainsBoundingBox(in) {
		t.Error("原点附近的包围盒应可见")
	}
	out := geo.NewBoundingBox(mgl64.Vec3{20, 0, 0}, mgl64.Vec3{21, 1, 1})
	if s.Frustum.ContainsBoundingBox(out) {
		t.Error("右侧远处的包围盒应不可见")
	}
	if s.Frustum.ContainsBoundingBox(geo.BoundingBox{}) {
		t.Error("空包围盒应不可见")
	}
}

func TestPixelSize(t *testing.T) {
	proj := mgl64.Perspective(mgl64.DegToRad(90), 1, 0.1, 1000)
	s := New(proj, mgl64.Ident4(), 512, 512)

	near := s.PixelSize(mgl64.Vec3{0, 0, -10}, 1)
	far := s.PixelSize(mgl64.Vec3{0, 0, -20}, 1)
	if math.Abs(near/far-2) > 1e-9 {
		t.Errorf("距离加倍后像素尺寸比 = %f, want 2", near/far)
	}
	want := 512 / (0.7071067811 * 10)
	if math.Abs(near-want) > 1e-6 {
		t.Errorf("PixelSize = %f, want %f", near, want)
	}
	if got := s.PixelSize(mgl64.Vec3{0, 0, -10}, 2); math.Abs(got-2*near) > 1e-9 {
		t.Errorf("半径加倍后像素尺寸 = %f, want %f", got, 2*near)
	}
}

func TestEye(t *testing.T) {
	s := testState()
	if !s.Eye.ApproxEqualThreshold(mgl64.Vec3{0, 0, 5}, 1e-9) {
		t.Errorf("Eye = %v", s.Eye)
	}
}

func TestCameraLooksAtTarget(t *testing.T) {
	cs := geo.DefaultSphere()
	cam := DefaultCamera()
	s := cam.State(cs, 800, 600)
	if !s.Eye.ApproxEqualThreshold(mgl64.Vec3{3, 0, 0}, 1e-6) {
		t.Fatalf("Eye = %v, want (3,0,0)", s.Eye)
	}
	clip := s.ViewProjection.Mul4x1(mgl64.Vec4{1, 0, 0, 1})
	if math.Abs(clip[0]/clip[3]) > 1e-9 || math.Abs(clip[1]/clip[3]) > 1e-9 {
		t.Errorf("星下点应位于屏幕中心, ndc=(%f,%f)", clip[0]/clip[3], clip[1]/clip[3])
	}
	if s.Frustum.ContainsSphere(mgl64.Vec3{}, 1) == Outside {
		t.Error("地球应在视锥内")
	}
	if s.Frustum.ContainsSphere(mgl64.Vec3{6, 0, 0}, 0.1) != Outside {
		t.Error("相机背后的球应被裁剪")
	}
}

func TestCameraHeadingTilt(t *testing.T) {
	cs := geo.DefaultSphere()
	cam := Camera{Lat: 30, Lon: 10, Altitude: 1e6, Heading: 90, Tilt: 30, Fov: 60}
	_, v := cam.Matrices(cs, 100, 100)
	eye := cs.FromGeo(10, 30, 1e6)
	// 视图矩阵把视点变换到原点
	if p := v.Mul4x1(eye.Vec4(1)); p.Vec3().Len() > 1e-9 {
		t.Errorf("视点未映射到原点: %v", p)
	}
	// 俯仰 30°：视线与竖直向下方向的夹角为 30°
	inv := v.Inv()
	dir := inv.Mul4x1(mgl64.Vec4{0, 0, -1, 0}).Vec3().Normalize()
	down := eye.Normalize().Mul(-1)
	if ang := mgl64.RadToDeg(math.Acos(dir.Dot(down))); math.Abs(ang-30) > 1e-6 {
		t.Errorf("俯仰角 = %f, want 30", ang)
	}
}
