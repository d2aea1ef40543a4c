// Package tiling 把地球表面划分为可寻址的四叉树，并在瓦片地址与地理范围之间做确定性映射。
//
// 所有实现都是无状态的：同一地址总是映射到同一范围，这是缓存正确性与 LOD 决策可复现的前提。
package tiling

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Address 瓦片地址
// 矩形划分（Geo/Mercator）中 X、Y 是该层级的全局列、行；HEALPix 中 Face 为基面序号，X、Y 为基面内坐标。
type Address struct {
	Level int
	X     int
	Y     int
	Face  int
}

func (a Address) String() string {
	if a.Face != 0 {
		return fmt.Sprintf("f%d/%d/%d/%d", a.Face, a.Level, a.X, a.Y)
	}
	return fmt.Sprintf("%d/%d/%d", a.Level, a.X, a.Y)
}

// Quadrant 返回地址在父瓦片中的象限（行优先：0 左上，1 右上，2 左下，3 右下），0 层返回 -1
func (a Address) Quadrant() int {
	if a.Level == 0 {
		return -1
	}
	return (a.Y&1)<<1 | a.X&1
}

// Tiling 瓦片划分策略
type Tiling interface {
	// Name 策略名称，用于配置与缓存键
	Name() string
	// LevelZero 返回全部 0 层瓦片地址，顺序固定
	LevelZero() []Address
	// GeoBound 返回瓦片的地理范围
	GeoBound(a Address) orb.Bound
	// Child 返回第 quadrant 个子瓦片的地址（quadrant 取值 0-3）
	Child(parent Address, quadrant int) Address
	// GridPoint 把瓦片内的归一化参数 (u, v) ∈ [0,1]² 映射为经纬度
	// geo 与 mercator 划分中 u 向东、v 向南；HEALPix 中 (u, v) 是面内的菱形坐标，v 增大时向北。
	// 无论哪种划分，象限 q 都对应 u、v 的同一半区，与 Child 的编号一致。
	GridPoint(a Address, u, v float64) (lon, lat float64)
	// Key 返回地址的稳定键
	Key(a Address) Key
}

// childOf 标准四叉细分：行列翻倍后按象限偏移
func childOf(parent Address, quadrant int) Address {
	return Address{
		Level: parent.Level + 1,
		X:     parent.X<<1 | quadrant&1,
		Y:     parent.Y<<1 | (quadrant>>1)&1,
		Face:  parent.Face,
	}
}

// New 按名称创建划分策略：geo、mercator、healpix
func New(kind string, nx, ny int) (Tiling, error) {
	switch kind {
	case "", "geo":
		if nx <= 0 || ny <= 0 {
			nx, ny = 4, 2
		}
		if nx*ny > MaxRoots {
			return nil, fmt.Errorf("0 层瓦片数 %d×%d 超过 %d", nx, ny, MaxRoots)
		}
		return NewGeoTiling(nx, ny), nil
	case "mercator":
		return NewMercatorTiling(), nil
	case "healpix":
		return NewHEALPixTiling(), nil
	}
	return nil, fmt.Errorf("不支持的瓦片划分: %s", kind)
}
