package tiling

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const (
	// 墨卡托投影的最大纬度（约85.05度），超出部分在极点处发散
	MaxMercatorLatitude = 85.05112877980659
	// Mercator 划分允许的最大层级（maptile 的行列为 uint32）
	MaxMercatorLevel = 30
)

// MercatorLatToY 返回与给定纬度相关的 y 位置
// lat: 纬度（度）
// 返回：y 是一个在 [-pi, pi] 范围内的浮点数，超出最大纬度时截断
func MercatorLatToY(lat float64) float64 {
	if lat >= MaxMercatorLatitude {
		return math.Pi
	} else if lat <= -MaxMercatorLatitude {
		return -math.Pi
	}
	return math.Log(math.Tan(math.Pi/4.0 + lat/360.0*math.Pi))
}

// MercatorYToLat 返回与给定 y 位置相关的纬度
// y: y 是一个在 [-pi, pi] 范围内的浮点数
// 返回：纬度（度）
func MercatorYToLat(y float64) float64 {
	if y >= math.Pi {
		return MaxMercatorLatitude
	} else if y <= -math.Pi {
		return -MaxMercatorLatitude
	}
	return (math.Atan(math.Exp(y)) - math.Pi/4.0) * 360.0 / math.Pi
}

// MercatorTiling Web 墨卡托划分，0 层为一个覆盖 ±85.05° 的瓦片，行号自北向南递增
type MercatorTiling struct{}

func NewMercatorTiling() MercatorTiling { return MercatorTiling{} }

func (MercatorTiling) Name() string { return "mercator" }

func (MercatorTiling) LevelZero() []Address {
	return []Address{{}}
}

func (MercatorTiling) GeoBound(a Address) orb.Bound {
	return maptile.New(uint32(a.X), uint32(a.Y), maptile.Zoom(a.Level)).Bound()
}

func (MercatorTiling) Child(parent Address, quadrant int) Address {
	if parent.Level >= MaxMercatorLevel {
		return parent
	}
	return childOf(parent, quadrant)
}

// GridPoint 经度线性插值，纬度在墨卡托 y 上线性插值
func (MercatorTiling) GridPoint(a Address, u, v float64) (lon, lat float64) {
	n := float64(uint64(1) << uint(a.Level))
	lon = -180 + (float64(a.X)+u)/n*360
	y := math.Pi - 2*math.Pi*(float64(a.Y)+v)/n
	return lon, MercatorYToLat(y)
}

func (MercatorTiling) Key(a Address) Key {
	return NewKey(0, a.Level, a.X, a.Y)
}
