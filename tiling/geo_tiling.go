package tiling

import "github.com/paulmach/orb"

// GeoTiling 等经纬度划分，0 层为 NX × NY 个瓦片
type GeoTiling struct {
	NX int
	NY int
}

// NewGeoTiling 创建等经纬度划分，默认 4×2（每个 0 层瓦片 90°×90°）
func NewGeoTiling(nx, ny int) GeoTiling {
	return GeoTiling{NX: nx, NY: ny}
}

func (g GeoTiling) Name() string { return "geo" }

func (g GeoTiling) LevelZero() []Address {
	out := make([]Address, 0, g.NX*g.NY)
	for y := 0; y < g.NY; y++ {
		for x := 0; x < g.NX; x++ {
			out = append(out, Address{X: x, Y: y})
		}
	}
	return out
}

func (g GeoTiling) cellSize(level int) (w, h float64) {
	return 360.0 / float64(g.NX<<level), 180.0 / float64(g.NY<<level)
}

func (g GeoTiling) GeoBound(a Address) orb.Bound {
	w, h := g.cellSize(a.Level)
	west := -180 + float64(a.X)*w
	north := 90 - float64(a.Y)*h
	return orb.Bound{Min: orb.Point{west, north - h}, Max: orb.Point{west + w, north}}
}

func (g GeoTiling) Child(parent Address, quadrant int) Address {
	return childOf(parent, quadrant)
}

func (g GeoTiling) GridPoint(a Address, u, v float64) (lon, lat float64) {
	w, h := g.cellSize(a.Level)
	return -180 + (float64(a.X)+u)*w, 90 - (float64(a.Y)+v)*h
}

func (g GeoTiling) Key(a Address) Key {
	rx, ry := a.X>>a.Level, a.Y>>a.Level
	mask := 1<<a.Level - 1
	return NewKey(ry*g.NX+rx, a.Level, a.X&mask, a.Y&mask)
}
