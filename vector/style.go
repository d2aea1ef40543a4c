// Package vector 把点、线、面要素挂接到它们覆盖的瓦片上，并在基础瓦片之后按样式分批绘制。
//
// 要素按 (图层, 样式, 渲染器) 归入桶；覆盖的 0 层瓦片少于上限时按瓦片切分，
// 否则放入桶的主渲染体，每帧整体绘制。
package vector

import (
	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// Style 要素样式，可比较，相同样式的要素共用一个桶
type Style struct {
	Name string
	// ZIndex 越大越晚绘制
	ZIndex    int
	Color     [4]float32
	LineWidth float32
	PointSize float32
	// Height 要素离地高度（米）
	Height float64
}

// DefaultStyle 白色细线
func DefaultStyle() Style {
	return Style{Color: [4]float32{1, 1, 1, 1}, LineWidth: 1, PointSize: 4}
}

// Layer 要素图层
type Layer struct {
	ID      uuid.UUID
	Name    string
	Visible bool
}

// NewLayer 创建可见图层
func NewLayer(name string) *Layer {
	return &Layer{ID: uuid.New(), Name: name, Visible: true}
}

// Feature 一个矢量要素
type Feature struct {
	ID       string
	Geometry orb.Geometry
	Layer    *Layer
	Style    Style
}

// NewFeature 创建要素并分配随机 ID
func NewFeature(g orb.Geometry, layer *Layer, style Style) *Feature {
	return &Feature{ID: uuid.NewString(), Geometry: g, Layer: layer, Style: style}
}

// Bound 要素的地理范围
func (f *Feature) Bound() orb.Bound { return f.Geometry.Bound() }
