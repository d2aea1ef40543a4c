package geo

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestOverlaps(t *testing.T) {
	tile := NewBound(0, 0, 90, 90)
	tests := []struct {
		name string
		g    [4]float64
		want bool
	}{
		{"inside", [4]float64{10, 10, 20, 20}, true},
		{"crossing west edge", [4]float64{-10, 10, 5, 20}, true},
		{"touching east edge", [4]float64{90, 10, 100, 20}, false},
		{"touching west edge", [4]float64{-10, 10, 0, 20}, false},
		{"point on west edge", [4]float64{0, 10, 0, 10}, true},
		{"point on east edge", [4]float64{90, 10, 90, 10}, false},
		{"disjoint", [4]float64{-50, -50, -40, -40}, false},
	}
	for _, tt := range tests {
		g := NewBound(tt.g[0], tt.g[1], tt.g[2], tt.g[3])
		if got := Overlaps(tile, g); got != tt.want {
			t.Errorf("%s: Overlaps = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// TestOverlapsWorldEdge 全球东边与北边上的几何归属于边界瓦片
func TestOverlapsWorldEdge(t *testing.T) {
	northEast := NewBound(90, 0, 180, 90)
	tests := []struct {
		name string
		g    [4]float64
		want bool
	}{
		{"point on 180", [4]float64{180, 10, 180, 10}, true},
		{"point on north pole", [4]float64{120, 90, 120, 90}, true},
		{"corner", [4]float64{180, 90, 180, 90}, true},
		{"line along 180", [4]float64{180, -10, 180, 10}, true},
		{"point on inner west edge", [4]float64{90, 10, 90, 10}, true},
		{"touching south edge from below", [4]float64{100, -10, 110, 0}, false},
	}
	for _, tt := range tests {
		g := NewBound(tt.g[0], tt.g[1], tt.g[2], tt.g[3])
		if got := Overlaps(northEast, g); got != tt.want {
			t.Errorf("%s: Overlaps = %v, want %v", tt.name, got, tt.want)
		}
	}
	// 内部的东边仍是开区间
	if Overlaps(NewBound(0, 0, 90, 90), NewBound(90, 10, 90, 10)) {
		t.Error("内部东边上的点不应属于西侧瓦片")
	}
}

func TestBoundingBox(t *testing.T) {
	var b BoundingBox
	if b.Valid() {
		t.Fatal("空包围盒不应有效")
	}
	b = NewBoundingBox(mgl64.Vec3{1, 2, 3}, mgl64.Vec3{-1, 4, 0})
	if b.Min != (mgl64.Vec3{-1, 2, 0}) || b.Max != (mgl64.Vec3{1, 4, 3}) {
		t.Fatalf("包围盒错误: %v %v", b.Min, b.Max)
	}
	if c := b.Center(); c != (mgl64.Vec3{0, 3, 1.5}) {
		t.Errorf("Center = %v", c)
	}
	corners := b.Corners()
	seen := map[mgl64.Vec3]bool{}
	for _, c := range corners {
		seen[c] = true
	}
	if len(seen) != 8 {
		t.Errorf("角点应互不相同, got %d", len(seen))
	}
}

func TestSphereRoundTrip(t *testing.T) {
	s := DefaultSphere()
	points := [][3]float64{{0, 0, 0}, {45, 30, 1000}, {-120, -60, 8848}, {179.5, 89, 0}}
	for _, p := range points {
		v := s.FromGeo(p[0], p[1], p[2])
		lon, lat, h := s.ToGeo(v)
		if math.Abs(lon-p[0]) > 1e-9 || math.Abs(lat-p[1]) > 1e-9 || math.Abs(h-p[2]) > 1e-3 {
			t.Errorf("往返转换失败: %v -> (%f,%f,%f)", p, lon, lat, h)
		}
	}
	if r := s.FromGeo(10, 20, 0).Len(); math.Abs(r-1) > 1e-12 {
		t.Errorf("零高程应位于单位球面, r=%f", r)
	}
}

func TestFlatRoundTrip(t *testing.T) {
	f := DefaultFlat()
	v := f.FromGeo(180, -90, 100)
	if v[0] != 1 || v[1] != -0.5 {
		t.Errorf("平面坐标错误: %v", v)
	}
	lon, lat, h := f.ToGeo(v)
	if math.Abs(lon-180) > 1e-9 || math.Abs(lat+90) > 1e-9 || math.Abs(h-100) > 1e-6 {
		t.Errorf("往返转换失败: %f %f %f", lon, lat, h)
	}
}
