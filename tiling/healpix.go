package tiling

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"
)

// HEALPix 基面个数
const HEALPixFaces = 12

// 基面在环形编号中的行、列参考值
var (
	jrll = [HEALPixFaces]float64{2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4}
	jpll = [HEALPixFaces]float64{1, 3, 5, 7, 0, 2, 4, 6, 1, 3, 5, 7}
)

// HEALPixTiling 嵌套编号的 HEALPix 划分：0 层为 12 个基面，阶数 order 即层级，Nside = 2^order
type HEALPixTiling struct {
	// 边界采样时每条边的采样点数
	edgeSamples int
}

func NewHEALPixTiling() HEALPixTiling { return HEALPixTiling{edgeSamples: 4} }

func (HEALPixTiling) Name() string { return "healpix" }

func (HEALPixTiling) LevelZero() []Address {
	out := make([]Address, HEALPixFaces)
	for f := range out {
		out[f] = Address{Face: f}
	}
	return out
}

func (HEALPixTiling) Child(parent Address, quadrant int) Address {
	if parent.Level >= MaxLevel {
		return parent
	}
	return childOf(parent, quadrant)
}

func (HEALPixTiling) Key(a Address) Key {
	return NewKey(a.Face, a.Level, a.X, a.Y)
}

// GridPoint 把基面内的归一化坐标转换为经纬度
func (HEALPixTiling) GridPoint(a Address, u, v float64) (lon, lat float64) {
	nside := float64(uint64(1) << uint(a.Level))
	z, phi := xyf2loc((float64(a.X)+u)/nside, (float64(a.Y)+v)/nside, a.Face)
	lat = mgl64.RadToDeg(math.Asin(z))
	lon = mgl64.RadToDeg(phi)
	if lon > 180 {
		lon -= 360
	}
	return lon, lat
}

// GeoBound 沿瓦片四条边采样求经纬度范围
// 跨越 180° 经线的像素保守地取全经度范围，极点处的采样点不参与经度计算
func (h HEALPixTiling) GeoBound(a Address) orb.Bound {
	n := h.edgeSamples
	if n <= 0 {
		n = 4
	}
	clon, _ := h.GridPoint(a, 0.5, 0.5)
	minLon, maxLon := math.Inf(1), math.Inf(-1)
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	visit := func(u, v float64) {
		lon, lat := h.GridPoint(a, u, v)
		minLat = math.Min(minLat, lat)
		maxLat = math.Max(maxLat, lat)
		if math.Abs(lat) > 90-1e-9 {
			return
		}
		// 以中心经度为参照展开
		d := lon - clon
		if d > 180 {
			d -= 360
		} else if d < -180 {
			d += 360
		}
		minLon = math.Min(minLon, clon+d)
		maxLon = math.Max(maxLon, clon+d)
	}
	for i := 0; i <= n; i++ {
		t := float64(i) / float64(n)
		visit(t, 0)
		visit(t, 1)
		visit(0, t)
		visit(1, t)
	}
	if minLon < -180 || maxLon > 180 || math.IsInf(minLon, 0) {
		minLon, maxLon = -180, 180
	}
	return orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}}
}

// PixelIndex 返回嵌套编号下的像素号
func (HEALPixTiling) PixelIndex(a Address) int64 {
	return int64(a.Face)<<(2*uint(a.Level)) | int64(interleave(uint32(a.X), uint32(a.Y)))
}

// AddressOfPixel 由阶数与嵌套像素号还原地址
func (HEALPixTiling) AddressOfPixel(order int, pix int64) Address {
	npface := int64(1) << (2 * uint(order))
	face := pix / npface
	x, y := deinterleave(uint64(pix % npface))
	return Address{Level: order, X: int(x), Y: int(y), Face: int(face)}
}

// xyf2loc 基面内坐标 (x, y ∈ [0,1]) 转为 z = cos(theta) 与经度 phi（弧度，[0, 2pi)）
func xyf2loc(x, y float64, face int) (z, phi float64) {
	jr := jrll[face] - x - y
	var nr float64
	switch {
	case jr < 1:
		nr = jr
		z = 1 - nr*nr/3
	case jr > 3:
		nr = 4 - jr
		z = nr*nr/3 - 1
	default:
		nr = 1
		z = (2 - jr) * 2 / 3
	}
	tmp := jpll[face]*nr + x - y
	if tmp < 0 {
		tmp += 8
	}
	if tmp >= 8 {
		tmp -= 8
	}
	if nr < 1e-15 {
		return z, 0
	}
	return z, 0.25 * math.Pi * tmp / nr
}

// interleave x 占偶数位、y 占奇数位
func interleave(x, y uint32) uint64 {
	var out uint64
	for i := 0; i < 32; i++ {
		out |= uint64(x>>i&1) << (2 * i)
		out |= uint64(y>>i&1) << (2*i + 1)
	}
	return out
}

func deinterleave(v uint64) (x, y uint32) {
	for i := 0; i < 32; i++ {
		x |= uint32(v>>(2*i)&1) << i
		y |= uint32(v>>(2*i+1)&1) << i
	}
	return x, y
}
