package geo

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// WGS84Radius 地球赤道半径（米）
const WGS84Radius = 6378137.0

// CoordinateSystem 地理坐标（度、米）与渲染空间坐标之间的转换
type CoordinateSystem interface {
	Name() string
	FromGeo(lon, lat, height float64) mgl64.Vec3
	ToGeo(p mgl64.Vec3) (lon, lat, height float64)
}

// Sphere 球面坐标系，渲染空间中球半径为 Radius，高程按 HeightScale 缩放
type Sphere struct {
	Radius      float64
	HeightScale float64
}

// DefaultSphere 单位半径地球，高程以地球半径为单位
func DefaultSphere() Sphere {
	return Sphere{Radius: 1, HeightScale: 1 / WGS84Radius}
}

func (s Sphere) Name() string { return "sphere" }

func (s Sphere) FromGeo(lon, lat, height float64) mgl64.Vec3 {
	r := s.Radius + height*s.HeightScale
	lonR := mgl64.DegToRad(lon)
	latR := mgl64.DegToRad(lat)
	cosLat := math.Cos(latR)
	return mgl64.Vec3{
		r * cosLat * math.Cos(lonR),
		r * cosLat * math.Sin(lonR),
		r * math.Sin(latR),
	}
}

func (s Sphere) ToGeo(p mgl64.Vec3) (lon, lat, height float64) {
	r := p.Len()
	if r == 0 {
		return 0, 0, -s.Radius / s.HeightScale
	}
	lat = mgl64.RadToDeg(math.Asin(mgl64.Clamp(p[2]/r, -1, 1)))
	lon = mgl64.RadToDeg(math.Atan2(p[1], p[0]))
	height = (r - s.Radius) / s.HeightScale
	return lon, lat, height
}

// Flat 平面坐标系（等经纬度投影），x/y 按 Scale 缩放经纬度，z 为缩放后的高程
type Flat struct {
	Scale       float64
	HeightScale float64
}

// DefaultFlat 经度 [-180,180] 映射到 [-1,1]
func DefaultFlat() Flat {
	return Flat{Scale: 1.0 / 180.0, HeightScale: 1.0 / (WGS84Radius * math.Pi)}
}

func (f Flat) Name() string { return "flat" }

func (f Flat) FromGeo(lon, lat, height float64) mgl64.Vec3 {
	return mgl64.Vec3{lon * f.Scale, lat * f.Scale, height * f.HeightScale}
}

func (f Flat) ToGeo(p mgl64.Vec3) (lon, lat, height float64) {
	return p[0] / f.Scale, p[1] / f.Scale, p[2] / f.HeightScale
}
